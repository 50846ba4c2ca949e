/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"context"
	"fmt"

	"model-market-go/internal/store"

	"go.uber.org/zap"
)

// UserInfo represents simplified user information for command-line utilities
type UserInfo struct {
	Id            string
	WalletAddress string
}

// InitializeUsers retrieves users based on an optional wallet filter.
// If walletFilter is provided, returns a single user owning that wallet.
// If walletFilter is empty, returns all users.
func InitializeUsers(ctx context.Context, userStore store.UserStore, walletFilter string, logger *zap.Logger) ([]UserInfo, error) {
	var users []UserInfo

	if walletFilter != "" {
		logger.Info("Looking up user by wallet", zap.String("wallet_address", walletFilter))
		user, err := userStore.GetUserByWallet(ctx, walletFilter)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		users = append(users, UserInfo{Id: user.Id, WalletAddress: user.WalletAddress})
	} else {
		allUsers, err := userStore.GetUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}
		for _, u := range allUsers {
			users = append(users, UserInfo{Id: u.Id, WalletAddress: u.WalletAddress})
		}
	}

	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

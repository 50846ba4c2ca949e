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

package main

import (
	"context"
	"fmt"
	"os"

	"model-market-go/internal/common"
	"model-market-go/internal/config"
	"model-market-go/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbService *database.Service
	logger    *zap.Logger
)

func main() {
	var loggerCleanup func()

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the credit ledger",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, loggerCleanup = common.InitializeLogger()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
			dbService, err = common.InitializeDatabaseOnly(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if dbService != nil {
				dbService.Close()
			}
			if loggerCleanup != nil {
				loggerCleanup()
			}
		},
	}

	rootCmd.AddCommand(balancesCmd(), creditCmd(), transactionsCmd(), reconcileCmd(), popupsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

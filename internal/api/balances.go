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

package api

import (
	"errors"
	"net/http"
	"strconv"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// handleGetBalance returns the caller's credits. A user without a balance row has zero credits.
func (s *LedgerService) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())

	balance, err := s.db.GetBalance(r.Context(), user.Id)
	if errors.Is(err, store.ErrBalanceNotFound) {
		balance = decimal.Zero
	} else if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.UserBalance{UserId: user.Id, Amount: balance})
}

// handleGetTransactions returns paginated transaction history, newest first
func (s *LedgerService) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())
	limit, offset := pagination(r)

	transactions, err := s.db.GetTransactions(r.Context(), user.Id, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history", zap.String("user_id", user.Id), zap.Error(err))
		writeServiceError(w, r, err)
		return
	}

	records := make([]models.TransactionRecord, len(transactions))
	for i, tx := range transactions {
		records[i] = models.TransactionRecord{
			Id:         tx.Id,
			Type:       tx.Type,
			Amount:     tx.Amount,
			Status:     tx.Status,
			CreatedAt:  tx.CreatedAt,
			FinishedAt: tx.FinishedAt,
		}
	}

	writeJSON(w, http.StatusOK, records)
}

func pagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

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

package database

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerService owns the balances, transactions and usage tables
type LedgerService struct {
	db             *sql.DB
	initialBalance decimal.Decimal
	now            func() time.Time
}

func NewLedgerService(db *sql.DB, initialBalance decimal.Decimal) *LedgerService {
	return &LedgerService{
		db:             db,
		initialBalance: initialBalance,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerService) InitSchema() error {
	schema := `
	-- Balances Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		initial_amount TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		last_transaction_id TEXT,
		updated_at TIMESTAMP NOT NULL
	);

	-- Transactions Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('CREDIT', 'DEBIT')),
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

	-- Usage Table (one row per billed model run)
	CREATE TABLE IF NOT EXISTS usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(id),
		credits_spent TEXT NOT NULL,
		request_signature TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		estimated INTEGER NOT NULL DEFAULT 0,
		settlement_transaction_id TEXT,
		created_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_id ON usage(user_id);
	CREATE INDEX IF NOT EXISTS idx_usage_run_id ON usage(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

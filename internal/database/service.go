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
	"context"
	"database/sql"
	"fmt"
	"time"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig, ledgerCfg models.LedgerConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	if ledgerCfg.InitialBalance().IsNegative() {
		return nil, fmt.Errorf("free trial credits cannot be negative, got %s", ledgerCfg.FreeTrialCredits.String())
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db, ledger: NewLedgerService(db, ledgerCfg.InitialBalance())}

	// Initialize ledger schema first, usage references transactions
	if err := service.ledger.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize ledger schema: %w", err)
	}

	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully",
		zap.String("initial_balance", ledgerCfg.InitialBalance().String()))
	return service, nil
}

// dataSourceName takes the write lock at BEGIN so concurrent ledger updates serialise
// instead of failing mid-transaction.
func dataSourceName(cfg models.DatabaseConfig) string {
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_txlock=immediate&_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, busyTimeout.Milliseconds())
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) now() time.Time {
	return s.ledger.now()
}

func (s *Service) initSchema() error {
	schema := `
	-- Create users table
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		wallet_address TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);

	-- Create balance popups table
	CREATE TABLE IF NOT EXISTS balance_popups (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		price_usd TEXT NOT NULL,
		amount_expected TEXT NOT NULL DEFAULT '0',
		address_to_pay TEXT NOT NULL,
		currency_to_pay TEXT NOT NULL,
		time_to_pay_minutes INTEGER NOT NULL,
		pay_until TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'OPEN',
		event_id TEXT UNIQUE,
		amount_paid TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_balance_popups_user_id ON balance_popups(user_id);
	CREATE INDEX IF NOT EXISTS idx_balance_popups_finished_at ON balance_popups(finished_at);

	-- Create web3 events table, event_id is the ingestion idempotency key
	CREATE TABLE IF NOT EXISTS web3_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		block_number INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		address TEXT NOT NULL,
		event_name TEXT NOT NULL,
		event_hash TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_web3_events_name_seq ON web3_events(event_name, seq);
	CREATE INDEX IF NOT EXISTS idx_web3_events_block_number ON web3_events(block_number);

	-- Create job cursors table (watermarks of the periodic jobs)
	CREATE TABLE IF NOT EXISTS job_cursors (
		name TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Create catalog tables
	CREATE TABLE IF NOT EXISTS categories (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS models (
		slug TEXT NOT NULL,
		category_slug TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		run_count INTEGER NOT NULL DEFAULT 0,
		cover_image_url TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (category_slug, slug)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ledger convenience methods

func (s *Service) GetBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	return s.ledger.GetBalance(ctx, userId)
}

func (s *Service) HasSufficientBalance(ctx context.Context, userId string, required decimal.Decimal) (bool, error) {
	return s.ledger.HasSufficientBalance(ctx, userId, required)
}

func (s *Service) GetAllBalances(ctx context.Context) ([]models.Balance, error) {
	return s.ledger.GetAllBalances(ctx)
}

func (s *Service) CreateTransaction(ctx context.Context, userId string, amount decimal.Decimal, txType models.TransactionType) (*models.Transaction, error) {
	return s.ledger.CreateTransaction(ctx, userId, amount, txType)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.ledger.GetTransaction(ctx, id)
}

func (s *Service) GetTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	return s.ledger.GetTransactions(ctx, userId, limit, offset)
}

func (s *Service) ReconcileBalance(ctx context.Context, userId string) error {
	return s.ledger.ReconcileBalance(ctx, userId)
}

// Usage convenience methods

func (s *Service) CreateUsage(ctx context.Context, params store.CreateUsageParams) (*models.Usage, *models.Transaction, error) {
	return s.ledger.CreateUsage(ctx, params)
}

func (s *Service) GetUsageByRunId(ctx context.Context, runId string) (*models.Usage, error) {
	return s.ledger.GetUsageByRunId(ctx, runId)
}

func (s *Service) SettleUsage(ctx context.Context, params store.SettleUsageParams) (*models.Transaction, error) {
	return s.ledger.SettleUsage(ctx, params)
}

func (s *Service) GetUserUsage(ctx context.Context, userId string, limit, offset int) ([]models.Usage, error) {
	return s.ledger.GetUserUsage(ctx, userId, limit, offset)
}

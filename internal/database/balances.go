package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetBalance returns current balance for user (O(1) lookup)
func (s *LedgerService) GetBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId))

	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: user %s", store.ErrBalanceNotFound, userId)
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}

	return balance, nil
}

// HasSufficientBalance reports balance > required. A missing balance row is not an error.
func (s *LedgerService) HasSufficientBalance(ctx context.Context, userId string, required decimal.Decimal) (bool, error) {
	balance, err := s.GetBalance(ctx, userId)
	if errors.Is(err, store.ErrBalanceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return balance.GreaterThan(required), nil
}

// EnsureBalance creates the seeded balance row for a user if it does not exist yet
func (s *LedgerService) EnsureBalance(ctx context.Context, userId string) error {
	_, err := s.db.ExecContext(ctx, queryInsertBalance, userId, s.initialBalance.String(), s.initialBalance.String(), s.now())
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

// GetAllBalances returns every balance row, for operator reports
func (s *LedgerService) GetAllBalances(ctx context.Context) ([]models.Balance, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalances)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.Balance
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *balance)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	return balances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var balance models.Balance
	var amountStr, initialStr string
	if err := row.Scan(&balance.UserId, &amountStr, &initialStr, &balance.Version,
		&balance.LastTransactionId, &balance.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	balance.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", amountStr, err)
	}
	balance.InitialAmount, err = decimal.NewFromString(initialStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initial balance '%s': %w", initialStr, err)
	}
	return &balance, nil
}

func (s *LedgerService) getBalanceRow(ctx context.Context, q rowQueryer, userId string) (*models.Balance, error) {
	balance, err := scanBalance(q.QueryRowContext(ctx, queryGetBalanceRow, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", store.ErrBalanceNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}
	return balance, nil
}

// addAmount creates the seeded row if absent and adds amount. Runs inside the caller's tx.
func (s *LedgerService) addAmount(ctx context.Context, tx *sql.Tx, userId string, amount decimal.Decimal, transactionId string) (decimal.Decimal, error) {
	if _, err := tx.ExecContext(ctx, queryInsertBalance, userId, s.initialBalance.String(), s.initialBalance.String(), s.now()); err != nil {
		return decimal.Zero, fmt.Errorf("failed to create balance: %w", err)
	}

	current, err := s.getBalanceRow(ctx, tx, userId)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := current.Amount.Add(amount)
	if err := s.writeBalance(ctx, tx, current, newBalance, transactionId); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// removeAmount subtracts amount if the result stays non-negative. Runs inside the caller's tx.
// The stored balance is left untouched on ErrBalanceNotFound and ErrInsufficientFunds.
func (s *LedgerService) removeAmount(ctx context.Context, tx *sql.Tx, userId string, amount decimal.Decimal, transactionId string) (decimal.Decimal, error) {
	current, err := s.getBalanceRow(ctx, tx, userId)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := current.Amount.Sub(amount)
	if newBalance.IsNegative() {
		return current.Amount, fmt.Errorf("%w: balance %s, requested %s",
			store.ErrInsufficientFunds, current.Amount.String(), amount.String())
	}

	if err := s.writeBalance(ctx, tx, current, newBalance, transactionId); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// writeBalance is a compare-and-swap on the row version read in the same tx.
func (s *LedgerService) writeBalance(ctx context.Context, tx *sql.Tx, current *models.Balance, newBalance decimal.Decimal, transactionId string) error {
	result, err := tx.ExecContext(ctx, queryUpdateBalance, newBalance.String(), transactionId, s.now(), current.UserId, current.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

// ReconcileBalance verifies that current balance matches seed plus completed transactions
func (s *LedgerService) ReconcileBalance(ctx context.Context, userId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId))

	current, err := s.getBalanceRow(ctx, s.db, userId)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, queryGetCompletedAmounts, userId)
	if err != nil {
		return fmt.Errorf("failed to load completed transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	calculated := current.InitialAmount
	for rows.Next() {
		var txType, amountStr string
		if err := rows.Scan(&txType, &amountStr); err != nil {
			return fmt.Errorf("failed to scan transaction amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		switch models.TransactionType(txType) {
		case models.TransactionCredit:
			calculated = calculated.Add(amount)
		case models.TransactionDebit:
			calculated = calculated.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating transaction rows: %w", err)
	}

	// Check if balances match (exact decimal comparison)
	if !current.Amount.Equal(calculated) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("current_balance", current.Amount.String()),
			zap.String("calculated_balance", calculated.String()),
			zap.String("difference", current.Amount.Sub(calculated).String()))
		return fmt.Errorf("balance mismatch: current=%s, calculated=%s", current.Amount.String(), calculated.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("balance", current.Amount.String()))
	return nil
}

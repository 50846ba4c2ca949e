package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model-market-go/internal/metrics"
	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateTransaction records a transaction and applies it to the balance in one sql.Tx.
// Insufficient funds and a missing balance row are reported through a FAILED status, not an error.
func (s *LedgerService) CreateTransaction(ctx context.Context, userId string, amount decimal.Decimal, txType models.TransactionType) (*models.Transaction, error) {
	zap.L().Info("Processing transaction",
		zap.String("user_id", userId),
		zap.String("type", string(txType)),
		zap.String("amount", amount.String()))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transaction, err := s.applyTransaction(ctx, tx, userId, amount, txType)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.RecordLedgerTransaction(transaction)
	zap.L().Info("Transaction processed",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", userId),
		zap.String("type", string(txType)),
		zap.String("status", string(transaction.Status)))

	return transaction, nil
}

// applyTransaction inserts a PENDING row, applies the delta and finalises the status, all on tx.
func (s *LedgerService) applyTransaction(ctx context.Context, tx *sql.Tx, userId string, amount decimal.Decimal, txType models.TransactionType) (*models.Transaction, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidTransactionType, txType)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", store.ErrInvalidAmount, amount.String())
	}

	transaction := &models.Transaction{
		Id:        uuid.New().String(),
		UserId:    userId,
		Amount:    amount,
		Type:      txType,
		Status:    models.TransactionPending,
		CreatedAt: s.now(),
	}

	_, err := tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.UserId, transaction.Amount.String(), string(transaction.Type), transaction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	var newBalance decimal.Decimal
	var applyErr error
	switch txType {
	case models.TransactionCredit:
		newBalance, applyErr = s.addAmount(ctx, tx, userId, amount, transaction.Id)
	case models.TransactionDebit:
		newBalance, applyErr = s.removeAmount(ctx, tx, userId, amount, transaction.Id)
	}

	status := models.TransactionCompleted
	if applyErr != nil {
		if !errors.Is(applyErr, store.ErrBalanceNotFound) && !errors.Is(applyErr, store.ErrInsufficientFunds) {
			return nil, applyErr
		}
		zap.L().Warn("Transaction failed",
			zap.String("transaction_id", transaction.Id),
			zap.String("user_id", userId),
			zap.String("amount", amount.String()),
			zap.Error(applyErr))
		status = models.TransactionFailed
	}

	finishedAt := s.now()
	result, err := tx.ExecContext(ctx, queryFinishTransaction, string(status), finishedAt, transaction.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to finish transaction: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return nil, fmt.Errorf("transaction %s already finished - %w", transaction.Id, store.ErrConcurrentModification)
	}

	transaction.Status = status
	transaction.FinishedAt = &finishedAt

	if status == models.TransactionCompleted {
		zap.L().Debug("Balance updated",
			zap.String("user_id", userId),
			zap.String("new_balance", newBalance.String()))
	}

	return transaction, nil
}

// GetTransaction returns a single transaction by id
func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	transaction, err := scanTransaction(s.db.QueryRowContext(ctx, queryGetTransaction, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return transaction, nil
}

// GetTransactions returns paginated transaction history for a user, newest first
func (s *LedgerService) GetTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactions, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *transaction)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var transaction models.Transaction
	var amountStr, txType, status string
	var finishedAt sql.NullTime
	if err := row.Scan(&transaction.Id, &transaction.UserId, &amountStr, &txType, &status,
		&transaction.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	transaction.Amount = amount
	transaction.Type = models.TransactionType(txType)
	transaction.Status = models.TransactionStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		transaction.FinishedAt = &t
	}
	return &transaction, nil
}

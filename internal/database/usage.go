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

// CreateUsage debits the credits and records the usage in the same sql.Tx.
// When the debit does not complete, no usage row is written and ErrBillingFailed is
// returned together with the FAILED transaction, which is still persisted.
func (s *LedgerService) CreateUsage(ctx context.Context, params store.CreateUsageParams) (*models.Usage, *models.Transaction, error) {
	if params.ModelId == "" {
		return nil, nil, fmt.Errorf("model_id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transaction, err := s.applyTransaction(ctx, tx, params.UserId, params.CreditsSpent, models.TransactionDebit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to debit usage: %w", err)
	}

	if !transaction.Completed() {
		if err := tx.Commit(); err != nil {
			return nil, nil, fmt.Errorf("failed to commit failed debit: %w", err)
		}
		metrics.RecordLedgerTransaction(transaction)
		zap.L().Warn("Usage not recorded, debit failed",
			zap.String("user_id", params.UserId),
			zap.String("model_id", params.ModelId),
			zap.String("transaction_id", transaction.Id),
			zap.String("credits", params.CreditsSpent.String()))
		return nil, transaction, fmt.Errorf("%w: transaction %s is %s", store.ErrBillingFailed, transaction.Id, transaction.Status)
	}

	usage := &models.Usage{
		Id:               uuid.New().String(),
		UserId:           params.UserId,
		ModelId:          params.ModelId,
		TransactionId:    transaction.Id,
		CreditsSpent:     params.CreditsSpent,
		RequestSignature: params.RequestSignature,
		RunId:            params.RunId,
		Estimated:        params.Estimated,
		CreatedAt:        s.now(),
	}

	_, err = tx.ExecContext(ctx, queryInsertUsage,
		usage.Id, usage.UserId, usage.ModelId, usage.TransactionId, usage.CreditsSpent.String(),
		usage.RequestSignature, usage.RunId, usage.Estimated, usage.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit usage: %w", err)
	}

	metrics.RecordLedgerTransaction(transaction)
	metrics.CreditsSpent.Add(params.CreditsSpent.InexactFloat64())
	zap.L().Info("Usage recorded",
		zap.String("usage_id", usage.Id),
		zap.String("user_id", usage.UserId),
		zap.String("model_id", usage.ModelId),
		zap.String("credits", usage.CreditsSpent.String()),
		zap.Bool("estimated", usage.Estimated))

	return usage, transaction, nil
}

// SettleUsage re-bills the difference between an estimated charge and the actual cost.
// It returns the adjusting transaction, or nil when there was no difference.
func (s *LedgerService) SettleUsage(ctx context.Context, params store.SettleUsageParams) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	usage, err := scanUsage(tx.QueryRowContext(ctx, queryGetUsageById, params.UsageId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: usage %s", store.ErrNotFound, params.UsageId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if usage.SettledAt != nil {
		return nil, store.ErrAlreadySettled
	}

	delta := params.ActualCost.Sub(usage.CreditsSpent)

	var adjustment *models.Transaction
	switch {
	case delta.IsPositive():
		adjustment, err = s.applyTransaction(ctx, tx, usage.UserId, delta, models.TransactionDebit)
	case delta.IsNegative():
		adjustment, err = s.applyTransaction(ctx, tx, usage.UserId, delta.Neg(), models.TransactionCredit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply settlement: %w", err)
	}

	adjustmentId := ""
	if adjustment != nil {
		adjustmentId = adjustment.Id
	}

	result, err := tx.ExecContext(ctx, querySettleUsage, s.now(), adjustmentId, usage.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to settle usage: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, store.ErrAlreadySettled
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	if adjustment != nil {
		metrics.RecordLedgerTransaction(adjustment)
		if !adjustment.Completed() {
			zap.L().Warn("Settlement debit failed",
				zap.String("usage_id", usage.Id),
				zap.String("user_id", usage.UserId),
				zap.String("delta", delta.String()))
		}
	}

	zap.L().Info("Usage settled",
		zap.String("usage_id", usage.Id),
		zap.String("estimated", usage.CreditsSpent.String()),
		zap.String("actual", params.ActualCost.String()),
		zap.String("delta", delta.String()))

	return adjustment, nil
}

// GetUsageByRunId returns the usage billed for a provider run
func (s *LedgerService) GetUsageByRunId(ctx context.Context, runId string) (*models.Usage, error) {
	usage, err := scanUsage(s.db.QueryRowContext(ctx, queryGetUsageByRunId, runId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: usage for run %s", store.ErrNotFound, runId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return usage, nil
}

// GetUserUsage returns paginated usage for a user, newest first
func (s *LedgerService) GetUserUsage(ctx context.Context, userId string, limit, offset int) ([]models.Usage, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserUsage, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var usages []models.Usage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usages = append(usages, *usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}
	return usages, nil
}

func scanUsage(row rowScanner) (*models.Usage, error) {
	var usage models.Usage
	var creditsStr string
	var settledAt sql.NullTime
	if err := row.Scan(&usage.Id, &usage.UserId, &usage.ModelId, &usage.TransactionId, &creditsStr,
		&usage.RequestSignature, &usage.RunId, &usage.Estimated, &usage.SettlementTransactionId,
		&usage.CreatedAt, &settledAt); err != nil {
		return nil, err
	}

	credits, err := decimal.NewFromString(creditsStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credits '%s': %w", creditsStr, err)
	}
	usage.CreditsSpent = credits
	if settledAt.Valid {
		t := settledAt.Time
		usage.SettledAt = &t
	}
	return &usage, nil
}

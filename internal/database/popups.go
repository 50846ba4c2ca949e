package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"model-market-go/internal/metrics"
	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) CreateBalancePopup(ctx context.Context, params store.CreatePopupParams) (*models.BalancePopup, error) {
	if params.UserId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if params.Currency == "" {
		return nil, fmt.Errorf("currency is required")
	}
	if !params.PriceUsd.IsPositive() {
		return nil, fmt.Errorf("%w: price_usd %s", store.ErrInvalidAmount, params.PriceUsd.String())
	}
	if params.AmountExpected.IsNegative() {
		return nil, fmt.Errorf("%w: amount_expected %s", store.ErrInvalidAmount, params.AmountExpected.String())
	}
	if params.TimeToPayMinutes <= 0 {
		return nil, fmt.Errorf("time to pay must be positive, got %d", params.TimeToPayMinutes)
	}

	createdAt := s.now()
	popup := &models.BalancePopup{
		Id:               uuid.New().String(),
		UserId:           params.UserId,
		PriceUsd:         params.PriceUsd,
		AmountExpected:   params.AmountExpected,
		AddressToPay:     params.AddressToPay,
		CurrencyToPay:    strings.ToUpper(params.Currency),
		TimeToPayMinutes: params.TimeToPayMinutes,
		PayUntil:         createdAt.Add(time.Duration(params.TimeToPayMinutes) * time.Minute),
		Status:           models.PopupOpen,
		AmountPaid:       decimal.Zero,
		CreatedAt:        createdAt,
	}

	_, err := s.db.ExecContext(ctx, queryInsertPopup,
		popup.Id, popup.UserId, popup.PriceUsd.String(), popup.AmountExpected.String(), popup.AddressToPay,
		popup.CurrencyToPay, popup.TimeToPayMinutes, popup.PayUntil, popup.CreatedAt)
	if err != nil {
		zap.L().Error("Failed to insert balance popup", zap.String("user_id", params.UserId), zap.Error(err))
		return nil, fmt.Errorf("unable to insert balance popup: %w", err)
	}

	zap.L().Info("Balance popup created",
		zap.String("popup_id", popup.Id),
		zap.String("user_id", popup.UserId),
		zap.String("currency", popup.CurrencyToPay),
		zap.String("price_usd", popup.PriceUsd.String()),
		zap.Time("pay_until", popup.PayUntil))

	return popup, nil
}

func (s *Service) GetBalancePopup(ctx context.Context, id string) (*models.BalancePopup, error) {
	popup, err := scanPopup(s.db.QueryRowContext(ctx, queryGetPopup, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: balance popup %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get balance popup: %w", err)
	}
	return popup, nil
}

// GetUnfinishedPopups returns popups whose finished_at IS NULL, oldest first
func (s *Service) GetUnfinishedPopups(ctx context.Context) ([]models.BalancePopup, error) {
	return s.queryPopups(ctx, queryGetUnfinishedPopups)
}

// FindOpenPopup returns the oldest unpaid popup of the wallet owner in the given currency
// whose payment window contains at. An EXPIRED popup still matches a payment made before
// its pay_until.
func (s *Service) FindOpenPopup(ctx context.Context, walletAddress, currency string, at time.Time) (*models.BalancePopup, error) {
	popups, err := s.queryPopups(ctx, queryGetPayablePopupsForWallet, normalizeWallet(walletAddress), strings.ToUpper(currency))
	if err != nil {
		return nil, err
	}

	for i := range popups {
		if popups[i].AcceptsAt(at) {
			return &popups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: open %s popup for %s", store.ErrNotFound, currency, walletAddress)
}

// ExpirePopups closes unfinished popups whose pay_until is before cutoff
func (s *Service) ExpirePopups(ctx context.Context, cutoff time.Time) (int, error) {
	popups, err := s.GetUnfinishedPopups(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, popup := range popups {
		if !popup.PayUntil.Before(cutoff) {
			continue
		}
		result, err := s.db.ExecContext(ctx, queryExpirePopup, s.now(), popup.Id)
		if err != nil {
			return expired, fmt.Errorf("unable to expire balance popup %s: %w", popup.Id, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			expired++
			zap.L().Info("Balance popup expired",
				zap.String("popup_id", popup.Id),
				zap.String("user_id", popup.UserId),
				zap.Time("pay_until", popup.PayUntil))
		}
	}
	return expired, nil
}

// CompletePopup marks the popup paid, credits amount_paid * price_usd and advances the
// reconciler cursor in a single sql.Tx. An EXPIRED popup can still be paid.
func (s *Service) CompletePopup(ctx context.Context, params store.CompletePopupParams) (*models.Transaction, error) {
	if !params.AmountPaid.IsPositive() {
		return nil, fmt.Errorf("%w: amount_paid %s", store.ErrInvalidAmount, params.AmountPaid.String())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	popup, err := scanPopup(tx.QueryRowContext(ctx, queryGetPopup, params.PopupId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: balance popup %s", store.ErrNotFound, params.PopupId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get balance popup: %w", err)
	}
	if popup.Status == models.PopupPaid {
		return nil, fmt.Errorf("%w: %s", store.ErrPopupClosed, popup.Id)
	}

	var consumedBy string
	err = tx.QueryRowContext(ctx, queryCheckEventConsumed, params.EventId).Scan(&consumedBy)
	if err == nil {
		return nil, fmt.Errorf("%w: %s paid popup %s", store.ErrEventConsumed, params.EventId, consumedBy)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check event consumption: %w", err)
	}

	finishedAt := s.now()
	result, err := tx.ExecContext(ctx, queryPayPopup, finishedAt, params.EventId, params.AmountPaid.String(), popup.Id)
	if err != nil {
		return nil, fmt.Errorf("unable to finish balance popup: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrPopupClosed, popup.Id)
	}

	credit := params.AmountPaid.Mul(popup.PriceUsd)
	transaction, err := s.ledger.applyTransaction(ctx, tx, popup.UserId, credit, models.TransactionCredit)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance popup: %w", err)
	}

	if params.Cursor != "" {
		if err := setCursor(ctx, tx, params.Cursor, params.CursorSeq, finishedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit balance popup: %w", err)
	}

	metrics.RecordLedgerTransaction(transaction)
	metrics.DepositsCredited.WithLabelValues(popup.CurrencyToPay).Inc()
	zap.L().Info("Balance popup paid",
		zap.String("popup_id", popup.Id),
		zap.String("user_id", popup.UserId),
		zap.String("event_id", params.EventId),
		zap.String("amount_paid", params.AmountPaid.String()),
		zap.String("currency", popup.CurrencyToPay),
		zap.String("credit", credit.String()))

	return transaction, nil
}

func (s *Service) queryPopups(ctx context.Context, query string, args ...any) ([]models.BalancePopup, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to query balance popups", zap.Error(err))
		return nil, fmt.Errorf("unable to query balance popups: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var popups []models.BalancePopup
	for rows.Next() {
		popup, err := scanPopup(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan balance popup row: %w", err)
		}
		popups = append(popups, *popup)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance popup row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance popup rows: %w", err)
	}
	return popups, nil
}

func scanPopup(row rowScanner) (*models.BalancePopup, error) {
	var popup models.BalancePopup
	var priceStr, expectedStr, paidStr, status string
	var finishedAt sql.NullTime
	if err := row.Scan(&popup.Id, &popup.UserId, &priceStr, &expectedStr, &popup.AddressToPay,
		&popup.CurrencyToPay, &popup.TimeToPayMinutes, &popup.PayUntil, &status, &popup.EventId,
		&paidStr, &popup.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}

	var err error
	if popup.PriceUsd, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("failed to parse price_usd '%s': %w", priceStr, err)
	}
	if popup.AmountExpected, err = decimal.NewFromString(expectedStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount_expected '%s': %w", expectedStr, err)
	}
	if popup.AmountPaid, err = decimal.NewFromString(paidStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount_paid '%s': %w", paidStr, err)
	}
	popup.Status = models.PopupStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		popup.FinishedAt = &t
	}
	return &popup, nil
}

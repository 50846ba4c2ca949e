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

package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"model-market-go/internal/common"
	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"go.uber.org/zap"
)

const (
	ReconcilerCursor = "popup_reconciler"

	defaultExpiryGrace = 10 * time.Minute
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// ReconcilerStore is what the popup reconciler reads and writes
type ReconcilerStore interface {
	store.PopupStore
	store.EventStore
}

type PopupReconcilerConfig struct {
	Store      ReconcilerStore
	Currencies *common.CurrencyRegistry
	BatchSize  int
	// ExpiryGrace delays expiry past pay_until so deposits mined in time but ingested
	// late still find their popup open.
	ExpiryGrace time.Duration
}

// PopupReconciler matches ingested deposits to open balance popups and credits the payer
type PopupReconciler struct {
	store       ReconcilerStore
	currencies  *common.CurrencyRegistry
	batchSize   int
	expiryGrace time.Duration
	now         func() time.Time
}

func NewPopupReconciler(cfg PopupReconcilerConfig) *PopupReconciler {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	grace := cfg.ExpiryGrace
	if grace <= 0 {
		grace = defaultExpiryGrace
	}
	return &PopupReconciler{
		store:       cfg.Store,
		currencies:  cfg.Currencies,
		batchSize:   batch,
		expiryGrace: grace,
		now:         time.Now,
	}
}

func (r *PopupReconciler) Job(interval time.Duration) Job {
	return Job{Name: "balance_popups", Interval: interval, Run: r.Tick}
}

// Tick walks deposit events past the cursor and then expires popups overdue by more than
// the grace period. A store error stops the tick so the next one retries from the same event.
func (r *PopupReconciler) Tick(ctx context.Context) error {
	if err := r.reconcileEvents(ctx); err != nil {
		return err
	}

	cutoff := r.now().UTC().Add(-r.expiryGrace)
	if _, err := r.store.ExpirePopups(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to expire popups: %w", err)
	}
	return nil
}

func (r *PopupReconciler) reconcileEvents(ctx context.Context) error {
	cursor, _, err := r.store.GetCursor(ctx, ReconcilerCursor)
	if err != nil {
		return err
	}

	for {
		events, err := r.store.GetEventsAfter(ctx, models.EventNameDeposit, cursor, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		fmt.Printf("\n%s[%s] Reconciling %d deposit events after seq %d%s\n",
			colorCyan, time.Now().Format("15:04:05"), len(events), cursor, colorReset)

		for _, event := range events {
			if err := r.processEvent(ctx, event); err != nil {
				zap.L().Error("Failed to reconcile deposit event",
					zap.String("event_id", event.EventId),
					zap.Int64("seq", event.Seq),
					zap.Error(err))
				return err
			}
			cursor = event.Seq
		}

		if len(events) < r.batchSize {
			return nil
		}
	}
}

// processEvent credits the popup paid by event. Events that cannot pay any popup advance
// the cursor without a credit.
func (r *PopupReconciler) processEvent(ctx context.Context, event models.Web3Event) error {
	from := event.Data[models.DepositFromKey]
	token := event.Data[models.DepositTokenKey]

	currency, ok := r.currencies.ByToken(token)
	if !ok {
		return r.skip(ctx, event, "deposit token is not an accepted currency", zap.String("token", token))
	}

	amount, err := currency.ScaleAmount(event.Data[models.DepositAmountKey])
	if err != nil {
		return r.skip(ctx, event, "deposit amount is invalid", zap.Error(err))
	}
	if !amount.IsPositive() {
		return r.skip(ctx, event, "deposit amount is not positive", zap.String("amount", amount.String()))
	}

	popup, err := r.store.FindOpenPopup(ctx, from, currency.Symbol, event.CreatedAt)
	if errors.Is(err, store.ErrNotFound) {
		return r.skip(ctx, event, "no open balance popup for deposit",
			zap.String("from", from),
			zap.String("currency", currency.Symbol),
			zap.String("amount", amount.String()))
	}
	if err != nil {
		return err
	}

	if popup.AmountExpected.IsPositive() && amount.LessThan(popup.AmountExpected) {
		fmt.Printf("  %s~ %s %s of %s expected | popup %s%s\n",
			colorYellow, currency.Symbol, amount, popup.AmountExpected, common.ShortId(popup.Id), colorReset)
		zap.L().Warn("Partial payment for balance popup, crediting the amount paid",
			zap.String("popup_id", popup.Id),
			zap.String("event_id", event.EventId),
			zap.String("amount_expected", popup.AmountExpected.String()),
			zap.String("amount_paid", amount.String()))
	}

	transaction, err := r.store.CompletePopup(ctx, store.CompletePopupParams{
		PopupId:    popup.Id,
		EventId:    event.EventId,
		AmountPaid: amount,
		Cursor:     ReconcilerCursor,
		CursorSeq:  event.Seq,
	})
	if errors.Is(err, store.ErrEventConsumed) || errors.Is(err, store.ErrPopupClosed) {
		return r.skip(ctx, event, "deposit already applied", zap.String("popup_id", popup.Id), zap.Error(err))
	}
	if err != nil {
		return fmt.Errorf("failed to complete popup %s: %w", popup.Id, err)
	}

	fmt.Printf("  %s✓ %s %s | popup %s | credit %s%s\n",
		colorGreen, currency.Symbol, amount, common.ShortId(popup.Id), transaction.Amount, colorReset)
	return nil
}

func (r *PopupReconciler) skip(ctx context.Context, event models.Web3Event, reason string, fields ...zap.Field) error {
	fields = append(fields, zap.String("event_id", event.EventId), zap.Int64("seq", event.Seq))
	zap.L().Info("Skipping deposit event: "+reason, fields...)
	return r.store.SetCursor(ctx, ReconcilerCursor, event.Seq)
}

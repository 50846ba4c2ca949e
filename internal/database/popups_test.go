package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/shopspring/decimal"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

func createTestPopup(t *testing.T, service *Service, currency string) (*models.User, *models.BalancePopup) {
	t.Helper()

	ctx := context.Background()
	user, err := service.GetOrCreateUser(ctx, testWallet)
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}

	popup, err := service.CreateBalancePopup(ctx, store.CreatePopupParams{
		UserId:           user.Id,
		Currency:         currency,
		PriceUsd:         decimal.NewFromInt(100),
		AmountExpected:   decimal.RequireFromString("0.05"),
		AddressToPay:     "0x00000000000000000000000000000000000000bb",
		TimeToPayMinutes: 30,
	})
	if err != nil {
		t.Fatalf("CreateBalancePopup failed: %v", err)
	}
	return user, popup
}

func TestCreateBalancePopup(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	_, popup := createTestPopup(t, service, "eth")

	if popup.CurrencyToPay != "ETH" {
		t.Errorf("Expected currency ETH, got %s", popup.CurrencyToPay)
	}
	if popup.Status != models.PopupOpen {
		t.Errorf("Expected status %s, got %s", models.PopupOpen, popup.Status)
	}
	if !popup.PayUntil.Equal(popup.CreatedAt.Add(30 * time.Minute)) {
		t.Errorf("Expected pay_until 30 minutes after creation, got %v", popup.PayUntil.Sub(popup.CreatedAt))
	}

	stored, err := service.GetBalancePopup(context.Background(), popup.Id)
	if err != nil {
		t.Fatalf("GetBalancePopup failed: %v", err)
	}
	if stored.Finished() || !stored.PriceUsd.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected stored popup: %+v", stored)
	}
}

func TestCreateBalancePopup_Validation(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	tests := []struct {
		name   string
		params store.CreatePopupParams
	}{
		{"missing user", store.CreatePopupParams{Currency: "ETH", PriceUsd: decimal.NewFromInt(1), TimeToPayMinutes: 1}},
		{"missing currency", store.CreatePopupParams{UserId: "u", PriceUsd: decimal.NewFromInt(1), TimeToPayMinutes: 1}},
		{"zero price", store.CreatePopupParams{UserId: "u", Currency: "ETH", TimeToPayMinutes: 1}},
		{"zero window", store.CreatePopupParams{UserId: "u", Currency: "ETH", PriceUsd: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.CreateBalancePopup(context.Background(), tt.params); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestCompletePopup_CreditsPaidValue(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	user, popup := createTestPopup(t, service, "ETH")

	transaction, err := service.CompletePopup(ctx, store.CompletePopupParams{
		PopupId:    popup.Id,
		EventId:    "0xhash:0",
		AmountPaid: decimal.RequireFromString("0.05"),
		Cursor:     "popup_reconciler",
		CursorSeq:  7,
	})
	if err != nil {
		t.Fatalf("CompletePopup failed: %v", err)
	}
	if transaction.Type != models.TransactionCredit || !transaction.Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected CREDIT of 5, got %s %s", transaction.Type, transaction.Amount.String())
	}

	balance, err := service.GetBalance(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected balance 5, got %s", balance.String())
	}

	paid, err := service.GetBalancePopup(ctx, popup.Id)
	if err != nil {
		t.Fatalf("GetBalancePopup failed: %v", err)
	}
	if paid.Status != models.PopupPaid || paid.EventId != "0xhash:0" || !paid.Finished() {
		t.Errorf("Expected PAID popup bound to event, got %+v", paid)
	}

	position, ok, err := service.GetCursor(ctx, "popup_reconciler")
	if err != nil || !ok || position != 7 {
		t.Errorf("Expected cursor 7, got %d (found %v, err %v)", position, ok, err)
	}

	_, err = service.CompletePopup(ctx, store.CompletePopupParams{
		PopupId:    popup.Id,
		EventId:    "0xother:1",
		AmountPaid: decimal.RequireFromString("0.05"),
	})
	if !errors.Is(err, store.ErrPopupClosed) {
		t.Errorf("Expected ErrPopupClosed, got %v", err)
	}
}

func TestCompletePopup_EventConsumedOnce(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	user, first := createTestPopup(t, service, "ETH")
	second, err := service.CreateBalancePopup(ctx, store.CreatePopupParams{
		UserId:           user.Id,
		Currency:         "ETH",
		PriceUsd:         decimal.NewFromInt(100),
		AddressToPay:     "0x00000000000000000000000000000000000000bb",
		TimeToPayMinutes: 30,
	})
	if err != nil {
		t.Fatalf("CreateBalancePopup failed: %v", err)
	}

	params := store.CompletePopupParams{PopupId: first.Id, EventId: "0xhash:3", AmountPaid: decimal.NewFromInt(1)}
	if _, err := service.CompletePopup(ctx, params); err != nil {
		t.Fatalf("CompletePopup failed: %v", err)
	}

	params.PopupId = second.Id
	if _, err := service.CompletePopup(ctx, params); !errors.Is(err, store.ErrEventConsumed) {
		t.Errorf("Expected ErrEventConsumed, got %v", err)
	}

	balance, err := service.GetBalance(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected a single credit of 100, got %s", balance.String())
	}
}

func TestFindOpenPopup(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	_, popup := createTestPopup(t, service, "ETH")
	inWindow := popup.CreatedAt.Add(time.Minute)

	found, err := service.FindOpenPopup(ctx, "0x00000000000000000000000000000000000000AA", "eth", inWindow)
	if err != nil {
		t.Fatalf("FindOpenPopup failed: %v", err)
	}
	if found.Id != popup.Id {
		t.Errorf("Expected popup %s, got %s", popup.Id, found.Id)
	}

	tests := []struct {
		name     string
		wallet   string
		currency string
		at       time.Time
	}{
		{"other currency", testWallet, "USDC", inWindow},
		{"other wallet", "0x00000000000000000000000000000000000000cc", "ETH", inWindow},
		{"before creation", testWallet, "ETH", popup.CreatedAt.Add(-time.Second)},
		{"after deadline", testWallet, "ETH", popup.PayUntil.Add(time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.FindOpenPopup(ctx, tt.wallet, tt.currency, tt.at)
			if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestExpirePopups(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	_, popup := createTestPopup(t, service, "ETH")

	expired, err := service.ExpirePopups(ctx, popup.PayUntil.Add(-time.Second))
	if err != nil {
		t.Fatalf("ExpirePopups failed: %v", err)
	}
	if expired != 0 {
		t.Errorf("Expected no popup expired before the deadline, got %d", expired)
	}

	expired, err = service.ExpirePopups(ctx, popup.PayUntil.Add(time.Second))
	if err != nil {
		t.Fatalf("ExpirePopups failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("Expected 1 popup expired, got %d", expired)
	}

	stored, err := service.GetBalancePopup(ctx, popup.Id)
	if err != nil {
		t.Fatalf("GetBalancePopup failed: %v", err)
	}
	if stored.Status != models.PopupExpired || !stored.Finished() {
		t.Errorf("Expected EXPIRED popup, got %s", stored.Status)
	}

	unfinished, err := service.GetUnfinishedPopups(ctx)
	if err != nil {
		t.Fatalf("GetUnfinishedPopups failed: %v", err)
	}
	if len(unfinished) != 0 {
		t.Errorf("Expected no unfinished popups, got %d", len(unfinished))
	}
}

func TestExpiredPopupStillPayableInWindow(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	user, popup := createTestPopup(t, service, "ETH")

	if _, err := service.ExpirePopups(ctx, popup.PayUntil.Add(time.Hour)); err != nil {
		t.Fatalf("ExpirePopups failed: %v", err)
	}

	found, err := service.FindOpenPopup(ctx, testWallet, "ETH", popup.PayUntil.Add(-time.Second))
	if err != nil {
		t.Fatalf("FindOpenPopup failed for expired popup: %v", err)
	}
	if found.Status != models.PopupExpired {
		t.Errorf("Expected EXPIRED popup, got %s", found.Status)
	}
	if _, err := service.FindOpenPopup(ctx, testWallet, "ETH", popup.PayUntil.Add(time.Second)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after the deadline, got %v", err)
	}

	if _, err := service.CompletePopup(ctx, store.CompletePopupParams{
		PopupId:    popup.Id,
		EventId:    "0xlate:0",
		AmountPaid: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("CompletePopup failed for expired popup: %v", err)
	}

	paid, err := service.GetBalancePopup(ctx, popup.Id)
	if err != nil {
		t.Fatalf("GetBalancePopup failed: %v", err)
	}
	if paid.Status != models.PopupPaid {
		t.Errorf("Expected PAID popup, got %s", paid.Status)
	}
	if _, err := service.FindOpenPopup(ctx, testWallet, "ETH", popup.PayUntil.Add(-time.Second)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected paid popup to stop matching, got %v", err)
	}

	balance, err := service.GetBalance(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(paid.PriceUsd) {
		t.Errorf("Expected credit %s, got %s", paid.PriceUsd.String(), balance.String())
	}
}

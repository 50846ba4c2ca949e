package store

import (
	"context"
	"errors"
	"time"

	"model-market-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrBalanceNotFound        = errors.New("balance not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrBillingFailed          = errors.New("billing failed")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNotFound               = errors.New("not found")
	ErrAlreadySettled         = errors.New("usage already settled")
	ErrPopupClosed            = errors.New("balance popup already finished")
	ErrEventConsumed          = errors.New("event already consumed")
)

// CreateUsageParams contains the parameters for billing one model run.
type CreateUsageParams struct {
	UserId           string
	ModelId          string
	CreditsSpent     decimal.Decimal
	RequestSignature string
	RunId            string
	Estimated        bool
}

// SettleUsageParams re-bills an estimated usage once the actual cost is known.
type SettleUsageParams struct {
	UsageId    string
	ActualCost decimal.Decimal
}

// CreatePopupParams contains the parameters for opening a balance popup.
type CreatePopupParams struct {
	UserId           string
	Currency         string
	PriceUsd         decimal.Decimal
	AmountExpected   decimal.Decimal
	AddressToPay     string
	TimeToPayMinutes int
}

// CompletePopupParams closes a popup against the deposit event that paid it.
type CompletePopupParams struct {
	PopupId    string
	EventId    string
	AmountPaid decimal.Decimal
	Cursor     string
	CursorSeq  int64
}

// Ledger is the balance and transaction surface. It is the only write path to balances.
type Ledger interface {
	GetBalance(ctx context.Context, userId string) (decimal.Decimal, error)
	HasSufficientBalance(ctx context.Context, userId string, required decimal.Decimal) (bool, error)
	CreateTransaction(ctx context.Context, userId string, amount decimal.Decimal, txType models.TransactionType) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactions(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
	ReconcileBalance(ctx context.Context, userId string) error
}

// UsageRecorder persists usage tied to completed debits.
type UsageRecorder interface {
	CreateUsage(ctx context.Context, params CreateUsageParams) (*models.Usage, *models.Transaction, error)
	GetUsageByRunId(ctx context.Context, runId string) (*models.Usage, error)
	SettleUsage(ctx context.Context, params SettleUsageParams) (*models.Transaction, error)
	GetUserUsage(ctx context.Context, userId string, limit, offset int) ([]models.Usage, error)
}

// PopupStore manages balance popups.
type PopupStore interface {
	CreateBalancePopup(ctx context.Context, params CreatePopupParams) (*models.BalancePopup, error)
	GetBalancePopup(ctx context.Context, id string) (*models.BalancePopup, error)
	GetUnfinishedPopups(ctx context.Context) ([]models.BalancePopup, error)
	FindOpenPopup(ctx context.Context, walletAddress, currency string, at time.Time) (*models.BalancePopup, error)
	ExpirePopups(ctx context.Context, cutoff time.Time) (int, error)
	CompletePopup(ctx context.Context, params CompletePopupParams) (*models.Transaction, error)
}

// EventStore holds ingested chain events and job cursors.
type EventStore interface {
	AddEvents(ctx context.Context, events []models.Web3Event) (int, error)
	GetEventsAfter(ctx context.Context, eventName string, afterSeq int64, limit int) ([]models.Web3Event, error)
	GetLastBlockNumber(ctx context.Context) (uint64, bool, error)
	GetCursor(ctx context.Context, name string) (int64, bool, error)
	SetCursor(ctx context.Context, name string, position int64) error
}

// UserStore manages wallet-identified users.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, walletAddress string) (*models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
}

// CatalogStore mirrors the provider catalog.
type CatalogStore interface {
	UpsertCategories(ctx context.Context, categories []models.ProviderCategory) error
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, slug string) (*models.Category, error)
	UpsertModels(ctx context.Context, categorySlug string, providerModels []models.ProviderModel) error
	ListModels(ctx context.Context, categorySlug string) ([]models.Model, error)
	GetModel(ctx context.Context, slug string) (*models.Model, error)
}

// Store is the full contract the backend depends on.
type Store interface {
	Ledger
	UsageRecorder
	PopupStore
	EventStore
	UserStore
	CatalogStore

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}

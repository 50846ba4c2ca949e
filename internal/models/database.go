package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

func (t TransactionType) Valid() bool {
	return t == TransactionCredit || t == TransactionDebit
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// User represents a wallet-identified user
type User struct {
	Id            string    `db:"id"`
	WalletAddress string    `db:"wallet_address"`
	CreatedAt     time.Time `db:"created_at"`
}

// Balance represents the current credit state of a user (hot data)
type Balance struct {
	UserId            string          `db:"user_id"`
	Amount            decimal.Decimal `db:"amount"`
	InitialAmount     decimal.Decimal `db:"initial_amount"`
	Version           int64           `db:"version"`
	LastTransactionId string          `db:"last_transaction_id"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// Transaction is one balance-affecting event. FinishedAt is nil while Pending.
type Transaction struct {
	Id         string            `db:"id"`
	UserId     string            `db:"user_id"`
	Amount     decimal.Decimal   `db:"amount"`
	Type       TransactionType   `db:"type"`
	Status     TransactionStatus `db:"status"`
	CreatedAt  time.Time         `db:"created_at"`
	FinishedAt *time.Time        `db:"finished_at"`
}

func (t *Transaction) Completed() bool {
	return t != nil && t.Status == TransactionCompleted
}

// Usage records credits consumed by one model run
type Usage struct {
	Id                      string          `db:"id"`
	UserId                  string          `db:"user_id"`
	ModelId                 string          `db:"model_id"`
	TransactionId           string          `db:"transaction_id"`
	CreditsSpent            decimal.Decimal `db:"credits_spent"`
	RequestSignature        string          `db:"request_signature"`
	RunId                   string          `db:"run_id"`
	Estimated               bool            `db:"estimated"`
	SettlementTransactionId string          `db:"settlement_transaction_id"`
	CreatedAt               time.Time       `db:"created_at"`
	SettledAt               *time.Time      `db:"settled_at"`
}

// Category is a provider model collection mirrored locally
type Category struct {
	Slug        string    `db:"slug"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Model is a provider model mirrored locally
type Model struct {
	Slug          string    `db:"slug"`
	CategorySlug  string    `db:"category_slug"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	RunCount      int64     `db:"run_count"`
	CoverImageUrl string    `db:"cover_image_url"`
	Version       string    `db:"version"`
	UpdatedAt     time.Time `db:"updated_at"`
}

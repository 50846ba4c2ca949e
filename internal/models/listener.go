package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PopupStatus string

const (
	PopupOpen    PopupStatus = "OPEN"
	PopupPaid    PopupStatus = "PAID"
	PopupExpired PopupStatus = "EXPIRED"
)

// BalancePopup is a time-boxed invitation for a user to top up credits with crypto.
// It is unfinished while FinishedAt is nil.
type BalancePopup struct {
	Id               string          `db:"id"`
	UserId           string          `db:"user_id"`
	PriceUsd         decimal.Decimal `db:"price_usd"`
	AmountExpected   decimal.Decimal `db:"amount_expected"`
	AddressToPay     string          `db:"address_to_pay"`
	CurrencyToPay    string          `db:"currency_to_pay"`
	TimeToPayMinutes int             `db:"time_to_pay_minutes"`
	PayUntil         time.Time       `db:"pay_until"`
	Status           PopupStatus     `db:"status"`
	EventId          string          `db:"event_id"`
	AmountPaid       decimal.Decimal `db:"amount_paid"`
	CreatedAt        time.Time       `db:"created_at"`
	FinishedAt       *time.Time      `db:"finished_at"`
}

func (p *BalancePopup) Finished() bool {
	return p.FinishedAt != nil
}

// AcceptsAt reports whether a payment observed at t falls inside the popup window.
func (p *BalancePopup) AcceptsAt(t time.Time) bool {
	return !t.Before(p.CreatedAt) && !t.After(p.PayUntil)
}

const (
	EventNameDeposit = "Deposit"

	// Keys of Web3Event.Data for deposit events
	DepositFromKey   = "from"
	DepositTokenKey  = "token"
	DepositAmountKey = "amount"
)

// Web3Event is an ingested contract log. EventId is the idempotency key.
type Web3Event struct {
	Seq             int64             `db:"seq"`
	EventId         string            `db:"event_id"`
	BlockNumber     uint64            `db:"block_number"`
	TransactionHash string            `db:"transaction_hash"`
	LogIndex        uint              `db:"log_index"`
	Address         string            `db:"address"`
	EventName       string            `db:"event_name"`
	EventHash       string            `db:"event_hash"`
	Data            map[string]string `db:"data"`
	CreatedAt       time.Time         `db:"created_at"`
}

// NewEventId derives the idempotency key of a log.
func NewEventId(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex)
}

// CurrencyInfo describes a currency accepted for popups
type CurrencyInfo struct {
	Symbol      string `yaml:"symbol"`
	Token       string `yaml:"token"`
	Decimals    int32  `yaml:"decimals"`
	CoingeckoId string `yaml:"coingecko_id"`
}

// ScaleAmount converts an on-chain integer amount into currency units
func (c CurrencyInfo) ScaleAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid on-chain amount %q: %w", raw, err)
	}
	return amount.Shift(-c.Decimals), nil
}

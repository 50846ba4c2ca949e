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

package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// UserRecord is the authenticated user
type UserRecord struct {
	Id            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserBalance represents a user's current credit balance
type UserBalance struct {
	UserId string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// TransactionRecord represents a transaction in the user's history
type TransactionRecord struct {
	Id         string            `json:"id"`
	Type       TransactionType   `json:"type"`
	Amount     decimal.Decimal   `json:"amount"`
	Status     TransactionStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// PopupRecord represents a balance popup returned to its owner
type PopupRecord struct {
	Id               string          `json:"id"`
	PriceUsd         decimal.Decimal `json:"price_usd"`
	AmountExpected   decimal.Decimal `json:"amount_expected"`
	AddressToPay     string          `json:"address_to_pay"`
	CurrencyToPay    string          `json:"currency_to_pay"`
	TimeToPayMinutes int             `json:"time_to_pay_minutes"`
	PayUntil         time.Time       `json:"pay_until"`
	Status           PopupStatus     `json:"status"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	CreatedAt        time.Time       `json:"created_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// CreatePopupRequest is the body of a popup creation call. PriceUsd is quoted when omitted.
type CreatePopupRequest struct {
	Currency       string           `json:"currency"`
	PriceUsd       *decimal.Decimal `json:"price_usd,omitempty"`
	AmountExpected *decimal.Decimal `json:"amount_expected,omitempty"`
}

// SignedMessage carries a sign-in message and its wallet signature
type SignedMessage struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// MessageResponse returns a message for the wallet to sign
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenResponse returns a bearer token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RunRequest is the body of a model run call
type RunRequest struct {
	Input json.RawMessage `json:"input"`
	SignedMessage
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CurrenciesResponse lists the currencies accepted for balance popups
type CurrenciesResponse struct {
	Currencies []string `json:"currencies"`
}

// BillingFailedResponse returns the run output of a run that could not be billed
type BillingFailedResponse struct {
	Error  string     `json:"error"`
	Result *RunResult `json:"result,omitempty"`
	Run    *Run       `json:"run,omitempty"`
}

// CategoryRecord is a catalog category
type CategoryRecord struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ModelRecord is a catalog model
type ModelRecord struct {
	Slug          string `json:"slug"`
	CategorySlug  string `json:"category_slug,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	RunCount      int64  `json:"run_count"`
	CoverImageUrl string `json:"cover_image_url"`
	Version       string `json:"version,omitempty"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

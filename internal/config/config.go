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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"model-market-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout, busyTimeout time.Duration
		requestTimeout, shutdownTimeout, messageMaxAge             time.Duration
		retryBaseWait, providerTimeout, hardwareTTL                time.Duration
		eventsInterval, reconcileInterval                          time.Duration
		categoriesInterval, modelsInterval, popupExpiryGrace       time.Duration
	)
	defaults := []struct {
		key   string
		dst   *time.Duration
		value time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &connMaxLifetime, 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", &connMaxIdleTime, 30 * time.Second},
		{"DB_PING_TIMEOUT", &pingTimeout, 5 * time.Second},
		{"DB_BUSY_TIMEOUT", &busyTimeout, 5 * time.Second},
		{"SERVER_REQUEST_TIMEOUT", &requestTimeout, 60 * time.Second},
		{"SERVER_SHUTDOWN_TIMEOUT", &shutdownTimeout, 30 * time.Second},
		{"AUTH_MESSAGE_TTL", &messageMaxAge, 10 * time.Minute},
		{"PROVIDER_API_RETRY_BASE_WAIT", &retryBaseWait, 500 * time.Millisecond},
		{"PROVIDER_API_TIMEOUT", &providerTimeout, 120 * time.Second},
		{"HARDWARE_CACHE_TTL", &hardwareTTL, 0},
		{"WEB3_EVENTS_INTERVAL", &eventsInterval, time.Minute},
		{"POPUP_RECONCILE_INTERVAL", &reconcileInterval, 30 * time.Second},
		{"CATEGORIES_SYNC_INTERVAL", &categoriesInterval, 168 * time.Hour},
		{"MODELS_SYNC_INTERVAL", &modelsInterval, 24 * time.Hour},
		{"POPUP_EXPIRY_GRACE", &popupExpiryGrace, 10 * time.Minute},
	}
	for _, d := range defaults {
		value, err := getEnvDuration(d.key, d.value)
		if err != nil {
			return nil, err
		}
		*d.dst = value
	}

	freeTrialCredits, err := getEnvDecimal("FREE_TRIAL_CREDITS", decimal.NewFromInt(500))
	if err != nil {
		return nil, err
	}

	defaultModelCost, err := getEnvDecimal("DEFAULT_MODEL_COST", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}

	minimumCredits, err := getEnvDecimal("MINIMUM_CREDITS_TO_RUN", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}

	minTokenBalance, err := getEnvDecimal("ONCHAIN_MIN_TOKEN_BALANCE", decimal.Zero)
	if err != nil {
		return nil, err
	}

	retryFactor, err := strconv.ParseFloat(getEnvString("PROVIDER_API_RETRY_FACTOR", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float for PROVIDER_API_RETRY_FACTOR: %w", err)
	}

	jwtExpiresIn := time.Duration(getEnvInt("JWT_EXPIRES_IN_MINUTES", 1440)) * time.Minute

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "market.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		Ledger: models.LedgerConfig{
			FreeTrialMode:    getEnvBool("FREE_TRIAL_MODE", true),
			FreeTrialCredits: freeTrialCredits,
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8000"),
			RequestTimeout:  requestTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowedOrigins:  getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Auth: models.AuthConfig{
			JwtSecret:     getEnvString("JWT_SECRET", ""),
			JwtExpiresIn:  jwtExpiresIn,
			Domain:        getEnvString("AUTH_DOMAIN", "localhost:3000"),
			Uri:           getEnvString("AUTH_URI", "http://localhost:3000"),
			ChainId:       int64(getEnvInt("AUTH_CHAIN_ID", 1)),
			MessageMaxAge: messageMaxAge,
		},
		Provider: models.ProviderConfig{
			Name:          getEnvString("PROVIDER_NAME", "replicate"),
			ApiUrl:        getEnvString("PROVIDER_API_URL", "http://localhost:8001"),
			RetryAttempts: getEnvInt("PROVIDER_API_RETRY_ATTEMPTS", 3),
			RetryFactor:   retryFactor,
			RetryBaseWait: retryBaseWait,
			Timeout:       providerTimeout,
		},
		Billing: models.BillingConfig{
			DefaultModelCost:      defaultModelCost,
			MinimumCreditsToRun:   minimumCredits,
			OnchainGatingEnabled:  getEnvBool("ONCHAIN_GATING_ENABLED", false),
			OnchainMinTokenAmount: minTokenBalance,
		},
		Cache: models.CacheConfig{
			RedisUrl:    getEnvString("REDIS_URL", ""),
			HardwareTTL: hardwareTTL,
		},
		Chain: models.ChainConfig{
			RpcUrl:             getEnvString("WEB3_RPC_URL", ""),
			ContractAddress:    getEnvString("WEB3_CONTRACT_ADDRESS", ""),
			GateTokenAddress:   getEnvString("ONCHAIN_GATE_TOKEN_ADDRESS", ""),
			GateTokenDecimals:  int32(getEnvInt("ONCHAIN_GATE_TOKEN_DECIMALS", 18)),
			StartLookbackBlock: uint64(getEnvInt("WEB3_START_LOOKBACK_BLOCKS", 5000)),
			BlockBatchSize:     uint64(getEnvInt("WEB3_BLOCK_BATCH", 2000)),
			ConfirmOverlap:     uint64(getEnvInt("WEB3_CONFIRM_OVERLAP", 12)),
		},
		Popup: models.PopupConfig{
			AddressToPay:     getEnvString("POPUP_ADDRESS_TO_PAY", ""),
			TimeToPayMinutes: getEnvInt("POPUP_TIME_TO_PAY_MINUTES", 30),
			CurrenciesFile:   getEnvString("CURRENCIES_FILE", "currencies.yaml"),
			QuotesApiUrl:     getEnvString("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"),
		},
		Listener: models.ListenerConfig{
			EventsInterval:     eventsInterval,
			ReconcileInterval:  reconcileInterval,
			CategoriesInterval: categoriesInterval,
			ModelsInterval:     modelsInterval,
			PopupExpiryGrace:   popupExpiryGrace,
			EventBatchSize:     getEnvInt("POPUP_EVENT_BATCH", 500),
		},
	}, nil
}

// LoadGateway reads the provider gateway settings
func LoadGateway() (*models.GatewayConfig, error) {
	requestTimeout, err := getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	upstreamTimeout, err := getEnvDuration("PROVIDER_REPLICATE_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.GatewayConfig{
		Server: models.ServerConfig{
			Addr:            getEnvString("GATEWAY_ADDR", ":8001"),
			RequestTimeout:  requestTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowedOrigins:  getEnvList("GATEWAY_ALLOWED_ORIGINS", []string{"*"}),
		},
		Replicate: models.ReplicateConfig{
			BaseUrl:     getEnvString("PROVIDER_REPLICATE_API_URL", "https://api.replicate.com/v1"),
			ApiToken:    getEnvString("PROVIDER_REPLICATE_API_KEY", ""),
			WaitSeconds: getEnvInt("PROVIDER_REPLICATE_WAIT_SECONDS", 60),
			Timeout:     upstreamTimeout,
		},
		PricingFile: getEnvString("PRICING_FILE", "pricing.yaml"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return amount, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

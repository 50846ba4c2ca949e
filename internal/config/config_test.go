package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Ledger.FreeTrialMode {
		t.Error("Expected free trial mode enabled by default")
	}
	if !cfg.Ledger.InitialBalance().Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected initial balance 500, got %s", cfg.Ledger.InitialBalance().String())
	}
	if cfg.Provider.RetryAttempts != 3 || cfg.Provider.RetryFactor != 2 {
		t.Errorf("Expected 3 attempts with factor 2, got %d and %v", cfg.Provider.RetryAttempts, cfg.Provider.RetryFactor)
	}
	if cfg.Auth.JwtExpiresIn != 1440*time.Minute {
		t.Errorf("Expected JWT lifetime 1440m, got %v", cfg.Auth.JwtExpiresIn)
	}
	if cfg.Popup.TimeToPayMinutes != 30 {
		t.Errorf("Expected 30 minutes to pay, got %d", cfg.Popup.TimeToPayMinutes)
	}
	if cfg.Listener.EventsInterval != time.Minute || cfg.Listener.ReconcileInterval != 30*time.Second {
		t.Errorf("Unexpected job intervals: %v %v", cfg.Listener.EventsInterval, cfg.Listener.ReconcileInterval)
	}
	if cfg.Listener.CategoriesInterval != 168*time.Hour || cfg.Listener.ModelsInterval != 24*time.Hour {
		t.Errorf("Unexpected catalog intervals: %v %v", cfg.Listener.CategoriesInterval, cfg.Listener.ModelsInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FREE_TRIAL_MODE", "false")
	t.Setenv("DEFAULT_MODEL_COST", "0.25")
	t.Setenv("PROVIDER_API_RETRY_FACTOR", "1.5")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WEB3_EVENTS_INTERVAL", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Ledger.InitialBalance().IsZero() {
		t.Errorf("Expected zero seed with free trial off, got %s", cfg.Ledger.InitialBalance().String())
	}
	if !cfg.Billing.DefaultModelCost.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("Expected default cost 0.25, got %s", cfg.Billing.DefaultModelCost.String())
	}
	if cfg.Provider.RetryFactor != 1.5 {
		t.Errorf("Expected retry factor 1.5, got %v", cfg.Provider.RetryFactor)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Listener.EventsInterval != 15*time.Second {
		t.Errorf("Expected 15s, got %v", cfg.Listener.EventsInterval)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"POPUP_RECONCILE_INTERVAL", "soon"},
		{"FREE_TRIAL_CREDITS", "lots"},
		{"PROVIDER_API_RETRY_FACTOR", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadGateway(t *testing.T) {
	t.Setenv("PRICING_FILE", "/etc/market/pricing.yaml")

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("LoadGateway failed: %v", err)
	}
	if cfg.PricingFile != "/etc/market/pricing.yaml" {
		t.Errorf("Expected pricing file override, got %s", cfg.PricingFile)
	}
	if cfg.Replicate.BaseUrl != "https://api.replicate.com/v1" {
		t.Errorf("Unexpected base url %s", cfg.Replicate.BaseUrl)
	}
}

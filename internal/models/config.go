package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application backend configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Server   ServerConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Billing  BillingConfig
	Cache    CacheConfig
	Chain    ChainConfig
	Popup    PopupConfig
	Listener ListenerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// LedgerConfig controls how balance rows are seeded
type LedgerConfig struct {
	FreeTrialMode    bool
	FreeTrialCredits decimal.Decimal
}

// InitialBalance is the amount a lazily created balance row starts with.
func (c LedgerConfig) InitialBalance() decimal.Decimal {
	if !c.FreeTrialMode {
		return decimal.Zero
	}
	return c.FreeTrialCredits
}

// ServerConfig holds HTTP listener settings shared by both services
type ServerConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// AuthConfig holds sign-in message and bearer token settings
type AuthConfig struct {
	JwtSecret     string
	JwtExpiresIn  time.Duration
	Domain        string
	Uri           string
	ChainId       int64
	MessageMaxAge time.Duration
}

// ProviderConfig points at the provider gateway
type ProviderConfig struct {
	Name          string
	ApiUrl        string
	RetryAttempts int
	RetryFactor   float64
	RetryBaseWait time.Duration
	Timeout       time.Duration
}

// BillingConfig holds cost fallbacks and the optional on-chain gate
type BillingConfig struct {
	DefaultModelCost      decimal.Decimal
	MinimumCreditsToRun   decimal.Decimal
	OnchainGatingEnabled  bool
	OnchainMinTokenAmount decimal.Decimal
}

// CacheConfig selects the hardware price cache backend
type CacheConfig struct {
	RedisUrl    string
	HardwareTTL time.Duration
}

// ChainConfig holds RPC and contract settings
type ChainConfig struct {
	RpcUrl             string
	ContractAddress    string
	GateTokenAddress   string
	GateTokenDecimals  int32
	StartLookbackBlock uint64
	BlockBatchSize     uint64
	ConfirmOverlap     uint64
}

// PopupConfig holds the parameters every new balance popup is created with
type PopupConfig struct {
	AddressToPay     string
	TimeToPayMinutes int
	CurrenciesFile   string
	QuotesApiUrl     string
}

// ListenerConfig holds scheduler cadences
type ListenerConfig struct {
	EventsInterval     time.Duration
	ReconcileInterval  time.Duration
	CategoriesInterval time.Duration
	ModelsInterval     time.Duration
	PopupExpiryGrace   time.Duration
	EventBatchSize     int
}

// GatewayConfig represents the provider gateway configuration
type GatewayConfig struct {
	Server      ServerConfig
	Replicate   ReplicateConfig
	PricingFile string
}

// ReplicateConfig holds upstream credentials for the Replicate backend
type ReplicateConfig struct {
	BaseUrl     string
	ApiToken    string
	WaitSeconds int
	Timeout     time.Duration
}

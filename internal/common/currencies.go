package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"model-market-go/internal/models"

	"gopkg.in/yaml.v2"
)

// NativeTokenAddress identifies the chain's native currency in deposit events
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"

type CurrenciesConfig struct {
	Currencies []models.CurrencyInfo `yaml:"currencies"`
}

func LoadCurrencyConfig(currenciesFile string) ([]models.CurrencyInfo, error) {
	data, err := readConfigFile(currenciesFile)
	if err != nil {
		return nil, err
	}

	var config CurrenciesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", currenciesFile, err)
	}

	seen := make(map[string]bool)
	for i, currency := range config.Currencies {
		if currency.Symbol == "" {
			return nil, fmt.Errorf("currency at index %d missing symbol", i)
		}
		if currency.Token == "" {
			return nil, fmt.Errorf("currency %s missing token address", currency.Symbol)
		}
		if currency.Decimals < 0 {
			return nil, fmt.Errorf("currency %s has negative decimals", currency.Symbol)
		}
		symbol := strings.ToUpper(currency.Symbol)
		if seen[symbol] {
			return nil, fmt.Errorf("currency %s listed twice", symbol)
		}
		seen[symbol] = true
		config.Currencies[i].Symbol = symbol
	}

	return config.Currencies, nil
}

// CurrencyRegistry resolves popup currencies by symbol and by deposit token address
type CurrencyRegistry struct {
	bySymbol map[string]models.CurrencyInfo
	byToken  map[string]models.CurrencyInfo
}

func NewCurrencyRegistry(currencies []models.CurrencyInfo) *CurrencyRegistry {
	registry := &CurrencyRegistry{
		bySymbol: make(map[string]models.CurrencyInfo, len(currencies)),
		byToken:  make(map[string]models.CurrencyInfo, len(currencies)),
	}
	for _, currency := range currencies {
		currency.Symbol = strings.ToUpper(currency.Symbol)
		registry.bySymbol[currency.Symbol] = currency
		registry.byToken[strings.ToLower(currency.Token)] = currency
	}
	return registry
}

func (r *CurrencyRegistry) BySymbol(symbol string) (models.CurrencyInfo, bool) {
	currency, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return currency, ok
}

func (r *CurrencyRegistry) ByToken(tokenAddress string) (models.CurrencyInfo, bool) {
	currency, ok := r.byToken[strings.ToLower(strings.TrimSpace(tokenAddress))]
	return currency, ok
}

// Symbols returns the accepted symbols in sorted order
func (r *CurrencyRegistry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (r *CurrencyRegistry) All() []models.CurrencyInfo {
	currencies := make([]models.CurrencyInfo, 0, len(r.bySymbol))
	for _, symbol := range r.Symbols() {
		currencies = append(currencies, r.bySymbol[symbol])
	}
	return currencies
}

func readConfigFile(name string) ([]byte, error) {
	var path string
	if filepath.IsAbs(name) {
		path = name
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", name, err)
	}
	return data, nil
}

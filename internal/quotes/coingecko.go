package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"model-market-go/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPriceUnavailable = errors.New("price unavailable")

const vsCurrency = "usd"

// CoinGecko quotes currencies in USD through the simple/price endpoint
type CoinGecko struct {
	baseUrl    string
	httpClient *http.Client
}

func NewCoinGecko(baseUrl string, timeout time.Duration) (*CoinGecko, error) {
	httpClient, err := provider.NewHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return NewCoinGeckoWithHttp(baseUrl, httpClient)
}

func NewCoinGeckoWithHttp(baseUrl string, httpClient *http.Client) (*CoinGecko, error) {
	if _, err := url.ParseRequestURI(baseUrl); err != nil {
		return nil, fmt.Errorf("invalid coingecko url %q: %w", baseUrl, err)
	}
	return &CoinGecko{baseUrl: strings.TrimRight(baseUrl, "/"), httpClient: httpClient}, nil
}

// PriceUsd returns the USD price of one unit of the coin
func (c *CoinGecko) PriceUsd(ctx context.Context, coinId string) (decimal.Decimal, error) {
	if coinId == "" {
		return decimal.Zero, fmt.Errorf("%w: currency has no coingecko id", ErrPriceUnavailable)
	}

	query := url.Values{"ids": []string{coinId}, "vs_currencies": []string{vsCurrency}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: coingecko returned %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return decimal.Zero, fmt.Errorf("%w: unable to decode response: %v", ErrPriceUnavailable, err)
	}

	price, ok := prices[coinId][vsCurrency]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s price for %s", ErrPriceUnavailable, vsCurrency, coinId)
	}
	return price, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"model-market-go/internal/metrics"
	"model-market-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var _ Provider = (*Client)(nil)

// Client talks to the provider gateway. Failed calls are retried with exponential backoff.
// Run submissions are never retried once the gateway may have accepted them.
type Client struct {
	name       string
	baseUrl    string
	httpClient *http.Client
	attempts   int
	factor     float64
	baseWait   time.Duration
}

func NewClient(cfg models.ProviderConfig) (*Client, error) {
	httpClient, err := NewHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return NewClientWithHttp(cfg, httpClient)
}

func NewClientWithHttp(cfg models.ProviderConfig, httpClient *http.Client) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if _, err := url.ParseRequestURI(cfg.ApiUrl); err != nil {
		return nil, fmt.Errorf("invalid provider api url %q: %w", cfg.ApiUrl, err)
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	factor := cfg.RetryFactor
	if factor < 1 {
		factor = 1
	}

	return &Client{
		name:       cfg.Name,
		baseUrl:    strings.TrimRight(cfg.ApiUrl, "/"),
		httpClient: httpClient,
		attempts:   attempts,
		factor:     factor,
		baseWait:   cfg.RetryBaseWait,
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) ListCategories(ctx context.Context) ([]models.ProviderCategory, error) {
	var response models.CategoriesResponse
	if err := c.do(ctx, "list_categories", http.MethodGet, "/categories", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Categories, nil
}

func (c *Client) ListModels(ctx context.Context, category string) ([]models.ProviderModel, error) {
	var response []models.ProviderModel
	path := fmt.Sprintf("/providers/%s/categories/%s/models", url.PathEscape(c.name), url.PathEscape(category))
	if err := c.do(ctx, "list_models", http.MethodGet, path, nil, nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) Run(ctx context.Context, model string, input json.RawMessage, version string) (*models.RunResult, error) {
	var result models.RunResult
	if err := c.do(ctx, "run", http.MethodPost, c.modelPath(model, "run"), versionQuery(version), models.RunInput{Input: input}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RunAsync(ctx context.Context, model string, input json.RawMessage, version string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, "run_async", http.MethodPost, c.modelPath(model, "run_async"), versionQuery(version), models.RunInput{Input: input}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetStatus(ctx context.Context, runId string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, "run_status", http.MethodGet, "/runs/"+url.PathEscape(runId)+"/status", nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetResult(ctx context.Context, runId string) (*models.RunResult, error) {
	var result models.RunResult
	if err := c.do(ctx, "run_result", http.MethodGet, "/runs/"+url.PathEscape(runId)+"/result", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetCostInfo(ctx context.Context, model string) (*models.ModelCostInfo, error) {
	var response models.ModelCostResponse
	if err := c.do(ctx, "cost_info", http.MethodGet, c.modelPath(model, "info"), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Info, nil
}

func (c *Client) GetHardwareCosts(ctx context.Context) ([]models.HardwareCost, error) {
	var response models.HardwareCostsResponse
	path := fmt.Sprintf("/providers/%s/hardware/costs", url.PathEscape(c.name))
	if err := c.do(ctx, "hardware_costs", http.MethodGet, path, nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Info, nil
}

func (c *Client) modelPath(model, action string) string {
	return fmt.Sprintf("/providers/%s/models/%s/%s", url.PathEscape(c.name), url.PathEscape(model), action)
}

func versionQuery(version string) url.Values {
	if version == "" {
		return nil
	}
	return url.Values{"version": []string{version}}
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Operation: operation, Err: fmt.Errorf("unable to encode request: %w", err)}
		}
	}

	endpoint := c.baseUrl + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	idempotent := method == http.MethodGet
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := c.attempt(ctx, operation, method, endpoint, payload, out)
		if err != nil && !retryable(ctx, err, idempotent) {
			return backoff.Permanent(err)
		}
		return err
	}, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		zap.L().Warn("Provider request failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}

	var providerErr *Error
	if !errors.As(err, &providerErr) {
		err = &Error{Operation: operation, Err: err}
	}
	zap.L().Error("Provider request failed",
		zap.String("operation", operation),
		zap.Int("attempt", attempt),
		zap.Error(err))
	return err
}

func (c *Client) attempt(ctx context.Context, operation, method, endpoint string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Operation: operation, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Operation: operation, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close response body", zap.Error(err))
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("unable to decode response: %w", err)}
	}
	return nil
}

// retryPolicy waits baseWait * factor^(n-1) before retry n and stops after the configured attempts
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseWait
	policy.Multiplier = c.factor
	policy.RandomizationFactor = 0
	policy.MaxInterval = time.Duration(float64(c.baseWait) * math.Pow(c.factor, float64(c.attempts)))
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.attempts-1)), ctx)
}

// retryable reports whether err may be retried. Run submissions are not idempotent, so they
// are only retried when the gateway never received them or rejected them with 429.
func retryable(ctx context.Context, err error, idempotent bool) bool {
	if ctx.Err() != nil {
		return false
	}
	var providerErr *Error
	if !errors.As(err, &providerErr) {
		return false
	}
	switch {
	case providerErr.StatusCode == http.StatusTooManyRequests:
		return true
	case providerErr.StatusCode == 0 && !idempotent:
		var opErr *net.OpError
		return errors.As(providerErr.Err, &opErr) && opErr.Op == "dial"
	case providerErr.StatusCode == 0:
		return !errors.Is(providerErr.Err, context.Canceled)
	case providerErr.StatusCode >= http.StatusInternalServerError:
		return idempotent
	}
	return false
}

func errorMessage(body []byte) string {
	var response models.ErrorResponse
	if err := json.Unmarshal(body, &response); err == nil && response.Error != "" {
		return response.Error
	}
	message := strings.TrimSpace(string(body))
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}

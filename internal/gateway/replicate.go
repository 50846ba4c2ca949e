package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"model-market-go/internal/common"
	"model-market-go/internal/metrics"
	"model-market-go/internal/models"
	"model-market-go/internal/pricing"
	"model-market-go/internal/provider"

	"go.uber.org/zap"
)

const (
	ReplicateName = "replicate"

	pollInterval = time.Second
)

var _ provider.Provider = (*Replicate)(nil)

// Replicate serves the provider capability set from the Replicate REST API. Model arguments
// are plain "owner/name" identifiers. Prices come from a static pricing table.
type Replicate struct {
	baseUrl     string
	token       string
	waitSeconds int
	httpClient  *http.Client
	prices      *common.PricingTable
}

func NewReplicate(cfg models.ReplicateConfig, prices *common.PricingTable) (*Replicate, error) {
	httpClient, err := provider.NewHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return NewReplicateWithHttp(cfg, prices, httpClient)
}

func NewReplicateWithHttp(cfg models.ReplicateConfig, prices *common.PricingTable, httpClient *http.Client) (*Replicate, error) {
	if cfg.ApiToken == "" {
		return nil, fmt.Errorf("replicate api token cannot be empty")
	}
	if _, err := url.ParseRequestURI(cfg.BaseUrl); err != nil {
		return nil, fmt.Errorf("invalid replicate base url %q: %w", cfg.BaseUrl, err)
	}
	if prices == nil {
		prices = &common.PricingTable{Models: map[string]models.ModelCostInfo{}}
	}
	return &Replicate{
		baseUrl:     strings.TrimRight(cfg.BaseUrl, "/"),
		token:       cfg.ApiToken,
		waitSeconds: cfg.WaitSeconds,
		httpClient:  httpClient,
		prices:      prices,
	}, nil
}

func (r *Replicate) Name() string {
	return ReplicateName
}

type replicateCollection struct {
	Slug        string           `json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Models      []replicateModel `json:"models"`
}

type replicateModel struct {
	Owner          string          `json:"owner"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	RunCount       int64           `json:"run_count"`
	CoverImageUrl  string          `json:"cover_image_url"`
	DefaultExample json.RawMessage `json:"default_example"`
	LatestVersion  *struct {
		Id string `json:"id"`
	} `json:"latest_version"`
}

type replicatePrediction struct {
	Id          string          `json:"id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output"`
	Error       json.RawMessage `json:"error"`
	CreatedAt   *time.Time      `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Metrics     struct {
		PredictTime *float64 `json:"predict_time"`
	} `json:"metrics"`
}

func (r *Replicate) ListCategories(ctx context.Context) ([]models.ProviderCategory, error) {
	var categories []models.ProviderCategory
	next := "/collections"
	for next != "" {
		var page struct {
			Next    string                `json:"next"`
			Results []replicateCollection `json:"results"`
		}
		if err := r.do(ctx, "list_categories", http.MethodGet, next, nil, nil, &page); err != nil {
			return nil, err
		}
		for _, c := range page.Results {
			categories = append(categories, models.ProviderCategory{Slug: c.Slug, Name: c.Name, Description: c.Description})
		}
		next = strings.TrimPrefix(page.Next, r.baseUrl)
	}
	return categories, nil
}

func (r *Replicate) ListModels(ctx context.Context, category string) ([]models.ProviderModel, error) {
	var collection replicateCollection
	if err := r.do(ctx, "list_models", http.MethodGet, "/collections/"+url.PathEscape(category), nil, nil, &collection); err != nil {
		return nil, err
	}

	result := make([]models.ProviderModel, 0, len(collection.Models))
	for _, m := range collection.Models {
		pm := models.ProviderModel{
			Slug:           provider.EncodeModelSlug(m.Owner + "/" + m.Name),
			Name:           m.Name,
			Description:    m.Description,
			RunCount:       m.RunCount,
			CoverImageUrl:  m.CoverImageUrl,
			DefaultExample: m.DefaultExample,
		}
		if m.LatestVersion != nil {
			pm.Version = m.LatestVersion.Id
		}
		result = append(result, pm)
	}
	return result, nil
}

func (r *Replicate) Run(ctx context.Context, model string, input json.RawMessage, version string) (*models.RunResult, error) {
	prediction, err := r.createPrediction(ctx, "run", model, input, version, true)
	if err != nil {
		return nil, err
	}

	// Prefer: wait returns early for long runs, keep polling until the prediction finishes
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !terminal(prediction.Status) {
		select {
		case <-ctx.Done():
			return nil, &provider.Error{Operation: "run", Err: ctx.Err()}
		case <-ticker.C:
		}
		if prediction, err = r.getPrediction(ctx, "run", prediction.Id); err != nil {
			return nil, err
		}
	}
	return toRunResult(prediction), nil
}

func (r *Replicate) RunAsync(ctx context.Context, model string, input json.RawMessage, version string) (*models.Run, error) {
	prediction, err := r.createPrediction(ctx, "run_async", model, input, version, false)
	if err != nil {
		return nil, err
	}
	run := toRun(prediction)
	return &run, nil
}

func (r *Replicate) GetStatus(ctx context.Context, runId string) (*models.Run, error) {
	prediction, err := r.getPrediction(ctx, "run_status", runId)
	if err != nil {
		return nil, err
	}
	run := toRun(prediction)
	return &run, nil
}

func (r *Replicate) GetResult(ctx context.Context, runId string) (*models.RunResult, error) {
	prediction, err := r.getPrediction(ctx, "run_result", runId)
	if err != nil {
		return nil, err
	}
	return toRunResult(prediction), nil
}

// GetCostInfo returns the published cost info of model, or nil when the pricing table has none
func (r *Replicate) GetCostInfo(_ context.Context, model string) (*models.ModelCostInfo, error) {
	info, ok := r.prices.Models[model]
	if !ok {
		return nil, nil
	}
	if sku, err := pricing.SkuFromText(info.HardwareName); err == nil {
		info.Sku = sku
	}
	return &info, nil
}

func (r *Replicate) GetHardwareCosts(_ context.Context) ([]models.HardwareCost, error) {
	return r.prices.Hardware, nil
}

func (r *Replicate) createPrediction(ctx context.Context, operation, model string, input json.RawMessage, version string, wait bool) (*replicatePrediction, error) {
	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" {
		return nil, &provider.Error{Operation: operation, StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("invalid model %q", model)}
	}

	body := map[string]any{"input": input}
	path := fmt.Sprintf("/models/%s/%s/predictions", url.PathEscape(owner), url.PathEscape(name))
	if version != "" {
		body["version"] = version
		path = "/predictions"
	}

	headers := http.Header{}
	if wait && r.waitSeconds > 0 {
		headers.Set("Prefer", fmt.Sprintf("wait=%d", r.waitSeconds))
	}

	var prediction replicatePrediction
	if err := r.do(ctx, operation, http.MethodPost, path, headers, body, &prediction); err != nil {
		return nil, err
	}
	zap.L().Info("Prediction created",
		zap.String("model", model),
		zap.String("prediction_id", prediction.Id),
		zap.String("status", prediction.Status))
	return &prediction, nil
}

func (r *Replicate) getPrediction(ctx context.Context, operation, id string) (*replicatePrediction, error) {
	var prediction replicatePrediction
	if err := r.do(ctx, operation, http.MethodGet, "/predictions/"+url.PathEscape(id), nil, nil, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (r *Replicate) do(ctx context.Context, operation, method, path string, headers http.Header, body, out any) error {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(ReplicateName + "_" + operation).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &provider.Error{Operation: operation, Err: fmt.Errorf("unable to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseUrl+path, reader)
	if err != nil {
		return &provider.Error{Operation: operation, Err: err}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &provider.Error{Operation: operation, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close response body", zap.Error(err))
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.Error{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.Error{Operation: operation, StatusCode: resp.StatusCode, Message: upstreamMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &provider.Error{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("unable to decode response: %w", err)}
	}
	return nil
}

// NormalizeState maps an upstream run status onto the marketplace run states
func NormalizeState(status string) models.RunState {
	switch strings.ToLower(status) {
	case "running", "started", "processing":
		return models.RunRunning
	case "succeeded", "completed", "finished":
		return models.RunCompleted
	case "failed", "canceled", "cancelled":
		return models.RunFailed
	}
	return models.RunPending
}

func terminal(status string) bool {
	state := NormalizeState(status)
	return state == models.RunCompleted || state == models.RunFailed
}

func toRun(p *replicatePrediction) models.Run {
	return models.Run{Id: p.Id, Status: NormalizeState(p.Status), CreatedAt: p.CreatedAt}
}

func toRunResult(p *replicatePrediction) *models.RunResult {
	result := &models.RunResult{Run: toRun(p), FinishedAt: p.CompletedAt}
	if !terminal(p.Status) {
		return result
	}

	outcome := &models.RunOutcome{Output: p.Output, ElapsedTime: p.Metrics.PredictTime}
	if len(p.Error) > 0 && string(p.Error) != "null" {
		var message string
		if err := json.Unmarshal(p.Error, &message); err != nil {
			message = string(p.Error)
		}
		outcome.Error = message
	}
	result.Result = outcome
	return result
}

func upstreamMessage(body []byte) string {
	var detail struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &detail); err == nil {
		if detail.Detail != "" {
			return detail.Detail
		}
		if detail.Title != "" {
			return detail.Title
		}
	}
	message := strings.TrimSpace(string(body))
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}

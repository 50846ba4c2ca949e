package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RunState string

const (
	RunPending   RunState = "PENDING"
	RunRunning   RunState = "RUNNING"
	RunCompleted RunState = "COMPLETED"
	RunFailed    RunState = "FAILED"
)

// ProviderCategory represents a provider model collection
type ProviderCategory struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProviderModel represents a hosted model. Slug is base64("owner/name").
type ProviderModel struct {
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	RunCount       int64           `json:"run_count"`
	CoverImageUrl  string          `json:"cover_image_url"`
	Version        string          `json:"version,omitempty"`
	DefaultExample json.RawMessage `json:"default_example,omitempty"`
}

// RunOutcome carries the provider output of a finished run
type RunOutcome struct {
	Error       string          `json:"error,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ElapsedTime *float64        `json:"elapsed_time,omitempty"`
}

// Run identifies a provider run and its normalised state
type Run struct {
	Id        string     `json:"id"`
	Status    RunState   `json:"status"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// RunResult is a Run together with its outcome, if any
type RunResult struct {
	Run
	Result     *RunOutcome `json:"result,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// ElapsedTime returns the provider-reported run duration in seconds, or nil.
func (r *RunResult) ElapsedTime() *float64 {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.ElapsedTime
}

// ModelCostInfo is what a provider publishes about a model's typical run
type ModelCostInfo struct {
	HardwareName          string   `json:"hardware_name"`
	Sku                   string   `json:"sku,omitempty"`
	TypicalPredictionTime *float64 `json:"typical_prediction_time"`
}

// HardwareCost is one row of a provider hardware price table
type HardwareCost struct {
	Sku            string          `json:"sku" yaml:"sku"`
	Name           string          `json:"name" yaml:"name"`
	PricePerSecond decimal.Decimal `json:"price_per_second" yaml:"-"`
	PricePerHour   decimal.Decimal `json:"price_per_hour" yaml:"-"`
	GpuCount       int             `json:"gpu_count" yaml:"gpu_count"`
	CpuCount       int             `json:"cpu_count" yaml:"cpu_count"`
	GpuRamGb       int             `json:"gpu_ram_gb" yaml:"gpu_ram_gb"`
	RamGb          int             `json:"ram_gb" yaml:"ram_gb"`
}

// CategoriesResponse is the provider gateway category listing
type CategoriesResponse struct {
	Categories []ProviderCategory `json:"categories"`
}

// ModelCostResponse wraps ModelCostInfo. Info is null when the model has no published cost.
type ModelCostResponse struct {
	Info *ModelCostInfo `json:"info"`
}

// HardwareCostsResponse wraps a provider hardware price table
type HardwareCostsResponse struct {
	Info []HardwareCost `json:"info"`
}

// RunInput is the body the provider gateway accepts for a model run
type RunInput struct {
	Input json.RawMessage `json:"input"`
}

package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"model-market-go/internal/models"
)

// Provider is the capability set of a model-hosting backend
type Provider interface {
	Name() string
	ListCategories(ctx context.Context) ([]models.ProviderCategory, error)
	ListModels(ctx context.Context, category string) ([]models.ProviderModel, error)
	Run(ctx context.Context, model string, input json.RawMessage, version string) (*models.RunResult, error)
	RunAsync(ctx context.Context, model string, input json.RawMessage, version string) (*models.Run, error)
	GetStatus(ctx context.Context, runId string) (*models.Run, error)
	GetResult(ctx context.Context, runId string) (*models.RunResult, error)
	GetCostInfo(ctx context.Context, model string) (*models.ModelCostInfo, error)
	GetHardwareCosts(ctx context.Context) ([]models.HardwareCost, error)
}

var ErrProvider = errors.New("provider request failed")

// Error is returned for every failed provider call. StatusCode is zero for transport errors.
type Error struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: %s: status %d: %s", ErrProvider, e.Operation, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: status %d", ErrProvider, e.Operation, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrProvider, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrProvider, e.Operation)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// EncodeModelSlug turns "owner/name" into the identifier used in provider URLs
func EncodeModelSlug(model string) string {
	return base64.StdEncoding.EncodeToString([]byte(model))
}

func DecodeModelSlug(slug string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(slug)
	if err != nil {
		// Path segments sometimes arrive with url-safe padding
		if decoded, err = base64.URLEncoding.DecodeString(slug); err != nil {
			return "", fmt.Errorf("invalid model slug %q: %w", slug, err)
		}
	}
	return string(decoded), nil
}

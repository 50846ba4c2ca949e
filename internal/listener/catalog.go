package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"go.uber.org/zap"
)

// CatalogSource lists the provider catalog
type CatalogSource interface {
	ListCategories(ctx context.Context) ([]models.ProviderCategory, error)
	ListModels(ctx context.Context, category string) ([]models.ProviderModel, error)
}

// CatalogSync mirrors provider categories and models into the local catalog
type CatalogSync struct {
	source CatalogSource
	store  store.CatalogStore
}

func NewCatalogSync(source CatalogSource, catalog store.CatalogStore) *CatalogSync {
	return &CatalogSync{source: source, store: catalog}
}

func (c *CatalogSync) CategoriesJob(interval time.Duration) Job {
	return Job{Name: "categories", Interval: interval, Run: c.SyncCategories}
}

func (c *CatalogSync) ModelsJob(interval time.Duration) Job {
	return Job{Name: "models", Interval: interval, Run: c.SyncModels}
}

func (c *CatalogSync) SyncCategories(ctx context.Context) error {
	categories, err := c.source.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list provider categories: %w", err)
	}
	if err := c.store.UpsertCategories(ctx, categories); err != nil {
		return err
	}
	zap.L().Info("Categories synced", zap.Int("count", len(categories)))
	return nil
}

// SyncModels refreshes the models of every stored category. A failing category is logged
// and the rest are still synced.
func (c *CatalogSync) SyncModels(ctx context.Context) error {
	categories, err := c.store.ListCategories(ctx)
	if err != nil {
		return err
	}

	var errs []error
	synced := 0
	for _, category := range categories {
		providerModels, err := c.source.ListModels(ctx, category.Slug)
		if err != nil {
			zap.L().Warn("Failed to list provider models",
				zap.String("category", category.Slug),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("category %s: %w", category.Slug, err))
			continue
		}
		if err := c.store.UpsertModels(ctx, category.Slug, providerModels); err != nil {
			errs = append(errs, err)
			continue
		}
		synced += len(providerModels)
	}

	zap.L().Info("Models synced",
		zap.Int("categories", len(categories)),
		zap.Int("models", synced),
		zap.Int("failed_categories", len(errs)))
	return errors.Join(errs...)
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) UpsertCategories(ctx context.Context, categories []models.ProviderCategory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := s.now()
	for _, category := range categories {
		if category.Slug == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, queryUpsertCategory, category.Slug, category.Name, category.Description, updatedAt); err != nil {
			return fmt.Errorf("failed to upsert category %s: %w", category.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categories: %w", err)
	}
	zap.L().Info("Categories synced", zap.Int("count", len(categories)))
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, queryListCategories)
	if err != nil {
		return nil, fmt.Errorf("unable to query categories: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.Slug, &category.Name, &category.Description, &category.UpdatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan category row: %w", err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}
	return categories, nil
}

func (s *Service) GetCategory(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	err := s.db.QueryRowContext(ctx, queryGetCategory, slug).
		Scan(&category.Slug, &category.Name, &category.Description, &category.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, slug)
		}
		return nil, fmt.Errorf("unable to query category: %w", err)
	}
	return &category, nil
}

func (s *Service) UpsertModels(ctx context.Context, categorySlug string, providerModels []models.ProviderModel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := s.now()
	for _, m := range providerModels {
		if m.Slug == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, queryUpsertModel,
			m.Slug, categorySlug, m.Name, m.Description, m.RunCount, m.CoverImageUrl, m.Version, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert model %s: %w", m.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit models: %w", err)
	}
	zap.L().Info("Models synced", zap.String("category", categorySlug), zap.Int("count", len(providerModels)))
	return nil
}

func (s *Service) ListModels(ctx context.Context, categorySlug string) ([]models.Model, error) {
	rows, err := s.db.QueryContext(ctx, queryListModels, categorySlug)
	if err != nil {
		return nil, fmt.Errorf("unable to query models: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var result []models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.Slug, &m.CategorySlug, &m.Name, &m.Description, &m.RunCount,
			&m.CoverImageUrl, &m.Version, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan model row: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model rows: %w", err)
	}
	return result, nil
}

// GetModel returns the model with slug. A model listed under several categories resolves
// to its most recently synced row.
func (s *Service) GetModel(ctx context.Context, slug string) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRowContext(ctx, queryGetModel, slug).Scan(&m.Slug, &m.CategorySlug, &m.Name,
		&m.Description, &m.RunCount, &m.CoverImageUrl, &m.Version, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: model %s", store.ErrNotFound, slug)
		}
		return nil, fmt.Errorf("unable to query model: %w", err)
	}
	return &m, nil
}

package api

import (
	"net/http"

	"model-market-go/internal/models"

	"github.com/go-chi/chi/v5"
)

func (s *LedgerService) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.db.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	records := make([]models.CategoryRecord, len(categories))
	for i, c := range categories {
		records[i] = categoryRecord(&c)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *LedgerService) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := s.db.GetCategory(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryRecord(category))
}

func (s *LedgerService) handleListModels(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.db.ListModels(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	records := make([]models.ModelRecord, len(catalog))
	for i, m := range catalog {
		records[i] = modelRecord(&m)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *LedgerService) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.db.GetModel(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modelRecord(m))
}

func categoryRecord(c *models.Category) models.CategoryRecord {
	return models.CategoryRecord{Slug: c.Slug, Name: c.Name, Description: c.Description}
}

func modelRecord(m *models.Model) models.ModelRecord {
	return models.ModelRecord{
		Slug:          m.Slug,
		CategorySlug:  m.CategorySlug,
		Name:          m.Name,
		Description:   m.Description,
		RunCount:      m.RunCount,
		CoverImageUrl: m.CoverImageUrl,
		Version:       m.Version,
	}
}

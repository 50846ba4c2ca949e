package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"model-market-go/internal/models"
	"model-market-go/internal/provider"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes model-hosting backends over one HTTP surface. Run lookups by id go to the
// first backend.
type Server struct {
	providers map[string]provider.Provider
	primary   provider.Provider
	router    *chi.Mux
}

func NewServer(cfg models.ServerConfig, providers ...provider.Provider) (*Server, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	s := &Server{
		providers: make(map[string]provider.Provider, len(providers)),
		primary:   providers[0],
		router:    chi.NewRouter(),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/categories", s.handleCategories)
	s.router.Get("/runs/{id}/status", s.handleStatus)
	s.router.Get("/runs/{id}/result", s.handleResult)
	s.router.Route("/providers/{provider}", func(r chi.Router) {
		r.Get("/categories/{category}/models", s.handleModels)
		r.Post("/models/{model}/run", s.handleRun)
		r.Post("/models/{model}/run_async", s.handleRunAsync)
		r.Get("/models/{model}/info", s.handleCostInfo)
		r.Get("/hardware/costs", s.handleHardwareCosts)
	})

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.primary.ListCategories(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CategoriesResponse{Categories: categories})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	list, err := p.ListModels(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	p, model, input, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	result, err := p.Run(r.Context(), model, input, r.URL.Query().Get("version"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunAsync(w http.ResponseWriter, r *http.Request) {
	p, model, input, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	run, err := p.RunAsync(r.Context(), model, input, r.URL.Query().Get("version"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.primary.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.primary.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCostInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	model, ok := modelParam(w, r)
	if !ok {
		return
	}
	info, err := p.GetCostInfo(r.Context(), model)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ModelCostResponse{Info: info})
}

func (s *Server) handleHardwareCosts(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	costs, err := p.GetHardwareCosts(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.HardwareCostsResponse{Info: costs})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (provider.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := s.providers[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", name))
	}
	return p, ok
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (provider.Provider, string, json.RawMessage, bool) {
	p, ok := s.lookup(w, r)
	if !ok {
		return nil, "", nil, false
	}
	model, ok := modelParam(w, r)
	if !ok {
		return nil, "", nil, false
	}

	var body models.RunInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, "", nil, false
	}
	if len(body.Input) == 0 {
		body.Input = json.RawMessage(`{}`)
	}
	return p, model, body.Input, true
}

// modelParam decodes the base64 model id of the route into "owner/name"
func modelParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "model"))
	if err == nil {
		var model string
		if model, err = provider.DecodeModelSlug(raw); err == nil {
			return model, true
		}
	}
	writeError(w, http.StatusBadRequest, "invalid model id")
	return "", false
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, models.ErrorResponse{Error: message})
}

// writeUpstreamError passes upstream client errors through and reports everything else as 502
func writeUpstreamError(w http.ResponseWriter, err error) {
	zap.L().Error("Upstream provider call failed", zap.Error(err))

	var providerErr *provider.Error
	if errors.As(err, &providerErr) && providerErr.StatusCode >= 400 && providerErr.StatusCode < 500 {
		writeError(w, providerErr.StatusCode, providerErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"model-market-go/internal/auth"
	"model-market-go/internal/common"
	"model-market-go/internal/models"
	"model-market-go/internal/quotes"
	"model-market-go/internal/runs"
	"model-market-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunService is the run orchestrator surface the HTTP layer calls
type RunService interface {
	RunModel(ctx context.Context, params runs.RunParams) (*models.RunResult, error)
	RunModelAsync(ctx context.Context, params runs.RunParams) (*models.Run, error)
	GetRunStatus(ctx context.Context, runId string) (*models.Run, error)
	GetRunResult(ctx context.Context, runId string) (*models.RunResult, error)
}

// PriceQuoter prices one unit of a currency in USD
type PriceQuoter interface {
	PriceUsd(ctx context.Context, coinId string) (decimal.Decimal, error)
}

type Config struct {
	Store      store.Store
	Runs       RunService
	Verifier   *auth.Verifier
	Tokens     *auth.TokenIssuer
	Currencies *common.CurrencyRegistry
	Quotes     PriceQuoter
	Popup      models.PopupConfig
	Server     models.ServerConfig
}

// LedgerService serves the backend HTTP API
type LedgerService struct {
	db         store.Store
	runs       RunService
	verifier   *auth.Verifier
	tokens     *auth.TokenIssuer
	currencies *common.CurrencyRegistry
	quotes     PriceQuoter
	popup      models.PopupConfig
	router     *chi.Mux
}

func NewLedgerService(cfg Config) *LedgerService {
	s := &LedgerService{
		db:         cfg.Store,
		runs:       cfg.Runs,
		verifier:   cfg.Verifier,
		tokens:     cfg.Tokens,
		currencies: cfg.Currencies,
		quotes:     cfg.Quotes,
		popup:      cfg.Popup,
		router:     chi.NewRouter(),
	}
	s.setupRoutes(cfg.Server)
	return s
}

func (s *LedgerService) Handler() http.Handler {
	return s.router
}

func (s *LedgerService) setupRoutes(cfg models.ServerConfig) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/auth/message", s.handleAuthMessage)
	s.router.Post("/auth/verify", s.handleAuthVerify)

	s.router.Get("/categories", s.handleListCategories)
	s.router.Get("/categories/{slug}", s.handleGetCategory)
	s.router.Get("/categories/{slug}/models", s.handleListModels)
	s.router.Get("/models/{slug}", s.handleGetModel)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/users/me", s.handleGetMe)
		r.Get("/balance", s.handleGetBalance)
		r.Get("/balance/popup/currencies", s.handleListCurrencies)
		r.Post("/balance/popup", s.handleCreatePopup)
		r.Get("/balance/popup/{id}", s.handleGetPopup)
		r.Get("/transactions", s.handleGetTransactions)

		r.Get("/runs/{model}/message", s.handleRunMessage)
		r.Post("/runs/async/{model}", s.handleRunModelAsync)
		r.Post("/runs/{model}", s.handleRunModel)
		r.Get("/runs/{id}/status", s.handleRunStatus)
		r.Get("/runs/{id}/result", s.handleRunResult)
	})
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *LedgerService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("HTTP request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
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

// writeServiceError maps a service error to its HTTP status. Unmapped errors are logged
// and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, runs.ErrInsufficientBalance),
		errors.Is(err, runs.ErrInsufficientOnchainBalance),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidTransactionType):
		return http.StatusBadRequest
	case errors.Is(err, runs.ErrBillingFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, runs.ErrProviderFailure),
		errors.Is(err, quotes.ErrPriceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

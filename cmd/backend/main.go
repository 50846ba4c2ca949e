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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"model-market-go/internal/api"
	"model-market-go/internal/auth"
	"model-market-go/internal/chain"
	"model-market-go/internal/common"
	"model-market-go/internal/config"
	"model-market-go/internal/listener"
	"model-market-go/internal/pricing"
	"model-market-go/internal/provider"
	"model-market-go/internal/quotes"
	"model-market-go/internal/runs"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting model marketplace backend")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	providerClient, err := provider.NewClient(cfg.Provider)
	if err != nil {
		zap.L().Fatal("Failed to create provider client", zap.Error(err))
	}

	var priceStore pricing.HardwareStore = pricing.NewMemoryStore()
	if cfg.Cache.RedisUrl != "" {
		redisStore, err := pricing.NewRedisStore(ctx, cfg.Cache.RedisUrl, cfg.Cache.HardwareTTL)
		if err != nil {
			zap.L().Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				zap.L().Warn("Failed to close redis client", zap.Error(err))
			}
		}()
		priceStore = redisStore
		zap.L().Info("Using redis hardware price cache")
	}
	calculator := pricing.NewCostCalculator(pricing.NewHardwareCostCache(priceStore), cfg.Billing.DefaultModelCost)

	var chainClient *chain.Client
	if cfg.Chain.RpcUrl != "" {
		chainClient, err = chain.Dial(ctx, cfg.Chain)
		if err != nil {
			zap.L().Fatal("Failed to connect to chain", zap.Error(err))
		}
		defer chainClient.Close()
	} else {
		zap.L().Warn("WEB3_RPC_URL not set, deposit ingestion disabled")
	}

	var gate runs.TokenBalanceChecker
	if chainClient != nil {
		gate = chainClient
	}
	orchestrator, err := runs.NewOrchestrator(services.DbService, providerClient, calculator, gate, cfg.Billing)
	if err != nil {
		zap.L().Fatal("Failed to create run orchestrator", zap.Error(err))
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JwtSecret, cfg.Auth.JwtExpiresIn)
	if err != nil {
		zap.L().Fatal("Failed to create token issuer", zap.Error(err))
	}

	quoter, err := quotes.NewCoinGecko(cfg.Popup.QuotesApiUrl, cfg.Provider.Timeout)
	if err != nil {
		zap.L().Fatal("Failed to create price quoter", zap.Error(err))
	}

	catalog := listener.NewCatalogSync(providerClient, services.DbService)
	reconciler := listener.NewPopupReconciler(listener.PopupReconcilerConfig{
		Store:       services.DbService,
		Currencies:  services.Currencies,
		BatchSize:   cfg.Listener.EventBatchSize,
		ExpiryGrace: cfg.Listener.PopupExpiryGrace,
	})
	jobs := []listener.Job{
		reconciler.Job(cfg.Listener.ReconcileInterval),
		catalog.CategoriesJob(cfg.Listener.CategoriesInterval),
		catalog.ModelsJob(cfg.Listener.ModelsInterval),
	}
	if chainClient != nil {
		ingester := listener.NewEventIngester(listener.EventIngesterConfig{
			Source:         chainClient,
			Store:          services.DbService,
			StartLookback:  cfg.Chain.StartLookbackBlock,
			BatchSize:      cfg.Chain.BlockBatchSize,
			ConfirmOverlap: cfg.Chain.ConfirmOverlap,
		})
		jobs = append(jobs, ingester.Job(cfg.Listener.EventsInterval))
	}

	scheduler := listener.NewScheduler(jobs...)
	if err := scheduler.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start scheduler", zap.Error(err))
	}

	service := api.NewLedgerService(api.Config{
		Store:      services.DbService,
		Runs:       orchestrator,
		Verifier:   auth.NewVerifier(cfg.Auth),
		Tokens:     tokens,
		Currencies: services.Currencies,
		Quotes:     quoter,
		Popup:      cfg.Popup,
		Server:     cfg.Server,
	})
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: service.Handler(),
	}

	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping backend...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}

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

	"model-market-go/internal/common"
	"model-market-go/internal/config"
	"model-market-go/internal/gateway"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.LoadGateway()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	zap.L().Info("Starting provider gateway", zap.String("pricing_file", cfg.PricingFile))

	prices, err := common.LoadPricingConfig(cfg.PricingFile)
	if err != nil {
		zap.L().Fatal("Failed to load pricing", zap.Error(err))
	}
	zap.L().Info("Loaded pricing",
		zap.Int("hardware", len(prices.Hardware)),
		zap.Int("models", len(prices.Models)))

	replicate, err := gateway.NewReplicate(cfg.Replicate, prices)
	if err != nil {
		zap.L().Fatal("Failed to create replicate backend", zap.Error(err))
	}

	gw, err := gateway.NewServer(cfg.Server, replicate)
	if err != nil {
		zap.L().Fatal("Failed to create gateway", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: gw.Handler(),
	}

	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		return
	}
	zap.L().Info("Gateway stopped gracefully")
}

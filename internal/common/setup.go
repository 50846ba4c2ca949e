package common

import (
	"context"
	"log"
	"strings"

	"model-market-go/internal/database"
	"model-market-go/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService  *database.Service
	Currencies *CurrencyRegistry
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database and loads the currency registry used by popups
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading currency registry", zap.String("file", cfg.Popup.CurrenciesFile))
	currencies, err := LoadCurrencyConfig(cfg.Popup.CurrenciesFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	registry := NewCurrencyRegistry(currencies)
	zap.L().Info("Accepted popup currencies", zap.Strings("symbols", registry.Symbols()))

	return &Services{
		DbService:  dbService,
		Currencies: registry,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for operator commands like balance reports
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}

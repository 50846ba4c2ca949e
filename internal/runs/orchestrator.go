package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"model-market-go/internal/metrics"
	"model-market-go/internal/models"
	"model-market-go/internal/pricing"
	"model-market-go/internal/provider"
	"model-market-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientOnchainBalance = errors.New("insufficient on-chain token balance")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrProviderFailure            = errors.New("model provider failure")
	ErrBillingFailed              = store.ErrBillingFailed
)

const (
	modeSync  = "sync"
	modeAsync = "async"
)

// Billing is the subset of the store the orchestrator needs
type Billing interface {
	HasSufficientBalance(ctx context.Context, userId string, required decimal.Decimal) (bool, error)
	CreateUsage(ctx context.Context, params store.CreateUsageParams) (*models.Usage, *models.Transaction, error)
	GetUsageByRunId(ctx context.Context, runId string) (*models.Usage, error)
	SettleUsage(ctx context.Context, params store.SettleUsageParams) (*models.Transaction, error)
}

// TokenBalanceChecker reads a wallet's gate token balance
type TokenBalanceChecker interface {
	TokenBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error)
}

type RunParams struct {
	User      *models.User
	Signature string
	Model     string
	Input     json.RawMessage
	Version   string
}

type Orchestrator struct {
	billing    Billing
	provider   provider.Provider
	calculator *pricing.CostCalculator
	gate       TokenBalanceChecker
	cfg        models.BillingConfig
}

// NewOrchestrator wires the run flow. gate may be nil when on-chain gating is disabled.
func NewOrchestrator(billing Billing, p provider.Provider, calculator *pricing.CostCalculator, gate TokenBalanceChecker, cfg models.BillingConfig) (*Orchestrator, error) {
	if cfg.OnchainGatingEnabled && gate == nil {
		return nil, fmt.Errorf("on-chain gating enabled without a token balance checker")
	}
	if !cfg.MinimumCreditsToRun.IsPositive() {
		cfg.MinimumCreditsToRun = decimal.NewFromInt(1)
	}
	return &Orchestrator{
		billing:    billing,
		provider:   p,
		calculator: calculator,
		gate:       gate,
		cfg:        cfg,
	}, nil
}

// RunModel runs a model synchronously and bills the reported run time. The model is priced
// before the run starts. A failed run is not billed. When billing fails after a successful
// run the result is returned together with ErrBillingFailed.
func (o *Orchestrator) RunModel(ctx context.Context, params RunParams) (*models.RunResult, error) {
	logger := zap.L().With(
		zap.String("provider", o.provider.Name()),
		zap.String("user_id", params.User.Id),
		zap.String("model", params.Model))

	if err := o.checkPreconditions(ctx, params.User); err != nil {
		o.recordRun(modeSync, err)
		return nil, err
	}

	price, err := o.priceModel(ctx, params.Model)
	if err != nil {
		o.recordRun(modeSync, err)
		return nil, err
	}

	logger.Info("Run model started")
	result, err := o.provider.Run(ctx, params.Model, params.Input, params.Version)
	if err != nil {
		logger.Error("Unable to get result from model run", zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrProviderFailure, err)
		o.recordRun(modeSync, err)
		return nil, err
	}
	if err := runFailure(result); err != nil {
		logger.Warn("Model run failed, not billing", zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrProviderFailure, err)
		o.recordRun(modeSync, err)
		return nil, err
	}
	logger.Info("Run model finished", zap.String("run_id", result.Id), zap.String("status", string(result.Status)))

	cost := price.Cost(result.ElapsedTime())
	if _, _, err := o.billing.CreateUsage(ctx, store.CreateUsageParams{
		UserId:           params.User.Id,
		ModelId:          params.Model,
		CreditsSpent:     cost,
		RequestSignature: params.Signature,
		RunId:            result.Id,
	}); err != nil {
		logger.Error("Run succeeded but billing failed", zap.String("cost", cost.String()), zap.Error(err))
		o.recordRun(modeSync, err)
		return result, err
	}

	o.recordRun(modeSync, nil)
	return result, nil
}

// RunModelAsync starts a run and bills the model's typical cost immediately. The charge is
// settled against the actual run time when the result is fetched, and refunded when the
// run fails.
func (o *Orchestrator) RunModelAsync(ctx context.Context, params RunParams) (*models.Run, error) {
	logger := zap.L().With(
		zap.String("provider", o.provider.Name()),
		zap.String("user_id", params.User.Id),
		zap.String("model", params.Model))

	if err := o.checkPreconditions(ctx, params.User); err != nil {
		o.recordRun(modeAsync, err)
		return nil, err
	}

	price, err := o.priceModel(ctx, params.Model)
	if err != nil {
		o.recordRun(modeAsync, err)
		return nil, err
	}

	run, err := o.provider.RunAsync(ctx, params.Model, params.Input, params.Version)
	if err != nil {
		logger.Error("Unable to run model asynchronously", zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrProviderFailure, err)
		o.recordRun(modeAsync, err)
		return nil, err
	}
	logger.Info("Async run started", zap.String("run_id", run.Id))

	estimate := price.Cost(nil)
	if _, _, err := o.billing.CreateUsage(ctx, store.CreateUsageParams{
		UserId:           params.User.Id,
		ModelId:          params.Model,
		CreditsSpent:     estimate,
		RequestSignature: params.Signature,
		RunId:            run.Id,
		Estimated:        true,
	}); err != nil {
		logger.Error("Async run started but billing failed",
			zap.String("run_id", run.Id),
			zap.String("estimate", estimate.String()),
			zap.Error(err))
		o.recordRun(modeAsync, err)
		return run, err
	}

	o.recordRun(modeAsync, nil)
	return run, nil
}

func (o *Orchestrator) GetRunStatus(ctx context.Context, runId string) (*models.Run, error) {
	run, err := o.provider.GetStatus(ctx, runId)
	if err != nil {
		zap.L().Error("Unable to get run status", zap.String("run_id", runId), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return run, nil
}

// GetRunResult returns the provider result and settles the estimated charge of a finished
// run. A failed run is refunded in full.
func (o *Orchestrator) GetRunResult(ctx context.Context, runId string) (*models.RunResult, error) {
	result, err := o.provider.GetResult(ctx, runId)
	if err != nil {
		zap.L().Error("Unable to get run result", zap.String("run_id", runId), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	switch {
	case runFailure(result) != nil:
		o.settle(ctx, runId, func(*models.Usage) (decimal.Decimal, error) {
			return decimal.Zero, nil
		})
	case result.Status == models.RunCompleted && result.ElapsedTime() != nil:
		o.settle(ctx, runId, func(usage *models.Usage) (decimal.Decimal, error) {
			return o.calculator.CalculateCost(ctx, o.provider, usage.ModelId, result.ElapsedTime())
		})
	}
	return result, nil
}

// settle re-bills the estimated usage of runId at the cost returned by actual. A pricing
// failure leaves the usage unsettled for the next fetch.
func (o *Orchestrator) settle(ctx context.Context, runId string, actual func(*models.Usage) (decimal.Decimal, error)) {
	logger := zap.L().With(zap.String("run_id", runId))

	usage, err := o.billing.GetUsageByRunId(ctx, runId)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("No usage recorded for run, nothing to settle")
		return
	}
	if err != nil {
		logger.Error("Unable to load usage for settlement", zap.Error(err))
		return
	}
	if !usage.Estimated || usage.SettledAt != nil {
		return
	}

	cost, err := actual(usage)
	if err != nil {
		logger.Warn("Unable to price run for settlement", zap.String("usage_id", usage.Id), zap.Error(err))
		return
	}
	_, err = o.billing.SettleUsage(ctx, store.SettleUsageParams{UsageId: usage.Id, ActualCost: cost})
	if err != nil && !errors.Is(err, store.ErrAlreadySettled) {
		logger.Error("Unable to settle usage", zap.String("usage_id", usage.Id), zap.Error(err))
	}
}

func (o *Orchestrator) priceModel(ctx context.Context, model string) (*pricing.ModelPrice, error) {
	price, err := o.calculator.PriceModel(ctx, o.provider, model)
	if err != nil {
		zap.L().Error("Unable to price model run",
			zap.String("provider", o.provider.Name()),
			zap.String("model", model),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return price, nil
}

// runFailure reports a provider response that describes a failed run
func runFailure(result *models.RunResult) error {
	if result == nil {
		return errors.New("provider returned no run result")
	}
	message := ""
	if result.Result != nil {
		message = result.Result.Error
	}
	if result.Status != models.RunFailed && message == "" {
		return nil
	}
	if message == "" {
		message = "no error reported"
	}
	return fmt.Errorf("run %s failed: %s", result.Id, message)
}

func (o *Orchestrator) checkPreconditions(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}

	if o.cfg.OnchainGatingEnabled {
		balance, err := o.gate.TokenBalance(ctx, user.WalletAddress)
		if err != nil {
			return fmt.Errorf("unable to read on-chain balance: %w", err)
		}
		if !balance.GreaterThan(o.cfg.OnchainMinTokenAmount) {
			zap.L().Info("Run rejected by on-chain gate",
				zap.String("user_id", user.Id),
				zap.String("token_balance", balance.String()),
				zap.String("required", o.cfg.OnchainMinTokenAmount.String()))
			return ErrInsufficientOnchainBalance
		}
	}

	ok, err := o.billing.HasSufficientBalance(ctx, user.Id, o.cfg.MinimumCreditsToRun)
	if err != nil {
		return fmt.Errorf("unable to check balance: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}
	return nil
}

func (o *Orchestrator) recordRun(mode string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientOnchainBalance):
		outcome = "gated"
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrProviderFailure):
		outcome = "provider_error"
	case errors.Is(err, ErrBillingFailed):
		outcome = "billing_failed"
	default:
		outcome = "error"
	}
	metrics.ModelRuns.WithLabelValues(mode, outcome).Inc()
}

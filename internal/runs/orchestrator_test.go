package runs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"model-market-go/internal/database"
	"model-market-go/internal/models"
	"model-market-go/internal/pricing"
	"model-market-go/internal/provider"
	"model-market-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ provider.Provider = (*fakeProvider)(nil)

type fakeProvider struct {
	runResult *models.RunResult
	runErr    error
	asyncRun  *models.Run
	result    *models.RunResult
	costInfo  *models.ModelCostInfo
	costErr   error
	hardware  []models.HardwareCost
	runCalls  int32
}

func (f *fakeProvider) Name() string { return "replicate" }

func (f *fakeProvider) ListCategories(context.Context) ([]models.ProviderCategory, error) {
	return nil, nil
}

func (f *fakeProvider) ListModels(context.Context, string) ([]models.ProviderModel, error) {
	return nil, nil
}

func (f *fakeProvider) Run(context.Context, string, json.RawMessage, string) (*models.RunResult, error) {
	atomic.AddInt32(&f.runCalls, 1)
	return f.runResult, f.runErr
}

func (f *fakeProvider) RunAsync(context.Context, string, json.RawMessage, string) (*models.Run, error) {
	atomic.AddInt32(&f.runCalls, 1)
	return f.asyncRun, f.runErr
}

func (f *fakeProvider) GetStatus(_ context.Context, runId string) (*models.Run, error) {
	return &models.Run{Id: runId, Status: models.RunRunning}, nil
}

func (f *fakeProvider) GetResult(context.Context, string) (*models.RunResult, error) {
	return f.result, nil
}

func (f *fakeProvider) GetCostInfo(context.Context, string) (*models.ModelCostInfo, error) {
	return f.costInfo, f.costErr
}

func (f *fakeProvider) GetHardwareCosts(context.Context) ([]models.HardwareCost, error) {
	return f.hardware, nil
}

type fakeGate struct {
	balance decimal.Decimal
}

func (g fakeGate) TokenBalance(context.Context, string) (decimal.Decimal, error) {
	return g.balance, nil
}

func seconds(v float64) *float64 { return &v }

func completedResult(id string, elapsed *float64) *models.RunResult {
	return &models.RunResult{
		Run:    models.Run{Id: id, Status: models.RunCompleted},
		Result: &models.RunOutcome{Output: json.RawMessage(`"done"`), ElapsedTime: elapsed},
	}
}

// newPricedProvider prices the T4 at 0.5 credits per second
func newPricedProvider() *fakeProvider {
	return &fakeProvider{
		costInfo: &models.ModelCostInfo{HardwareName: "Nvidia T4 GPU", TypicalPredictionTime: seconds(4)},
		hardware: []models.HardwareCost{{Sku: pricing.SkuGpuT4, PricePerSecond: decimal.RequireFromString("0.5")}},
	}
}

type fixture struct {
	db           *database.Service
	orchestrator *Orchestrator
	user         *models.User
}

func setup(t *testing.T, seed decimal.Decimal, p provider.Provider, gate TokenBalanceChecker, cfg models.BillingConfig) *fixture {
	t.Helper()

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "runs_test.db"),
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  5 * time.Second,
	}, models.LedgerConfig{FreeTrialMode: true, FreeTrialCredits: seed})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	user, err := db.GetOrCreateUser(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)

	if cfg.DefaultModelCost.IsZero() {
		cfg.DefaultModelCost = decimal.NewFromInt(1)
	}
	calculator := pricing.NewCostCalculator(pricing.NewHardwareCostCache(nil), cfg.DefaultModelCost)
	orchestrator, err := NewOrchestrator(db, p, calculator, gate, cfg)
	require.NoError(t, err)

	return &fixture{db: db, orchestrator: orchestrator, user: user}
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.db.GetBalance(context.Background(), f.user.Id)
	require.NoError(t, err)
	return balance
}

func (f *fixture) params() RunParams {
	return RunParams{
		User:      f.user,
		Signature: "0xsig",
		Model:     provider.EncodeModelSlug("owner/model"),
		Input:     json.RawMessage(`{"prompt":"hi"}`),
	}
}

func TestRunModel_BillsElapsedTime(t *testing.T) {
	p := newPricedProvider()
	p.runResult = completedResult("run-1", seconds(4))
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
	ctx := context.Background()

	result, err := f.orchestrator.RunModel(ctx, f.params())
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.Id)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(498)), "balance %s", f.balance(t))

	usage, err := f.db.GetUserUsage(ctx, f.user.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].CreditsSpent.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "0xsig", usage[0].RequestSignature)
	assert.Equal(t, "run-1", usage[0].RunId)
	assert.False(t, usage[0].Estimated)

	tx, err := f.db.GetTransaction(ctx, usage[0].TransactionId)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
	assert.Equal(t, models.TransactionDebit, tx.Type)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(2)))
}

func TestRunModel_InsufficientBalance(t *testing.T) {
	p := newPricedProvider()
	p.runResult = completedResult("run-1", seconds(4))
	f := setup(t, decimal.Zero, p, nil, models.BillingConfig{})
	ctx := context.Background()

	_, err := f.orchestrator.RunModel(ctx, f.params())
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int32(0), atomic.LoadInt32(&p.runCalls))

	transactions, err := f.db.GetTransactions(ctx, f.user.Id, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, transactions)
}

func TestRunModel_ProviderFailure(t *testing.T) {
	p := newPricedProvider()
	p.runErr = &provider.Error{Operation: "run", StatusCode: 500, Message: "boom"}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
	ctx := context.Background()

	_, err := f.orchestrator.RunModel(ctx, f.params())
	assert.ErrorIs(t, err, ErrProviderFailure)

	transactions, err := f.db.GetTransactions(ctx, f.user.Id, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, transactions)
	usage, err := f.db.GetUserUsage(ctx, f.user.Id, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, usage)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)))
}

func TestRunModel_BillingFailedReturnsOutput(t *testing.T) {
	p := newPricedProvider()
	// 40s at 0.5 is 20 credits against a balance of 5
	p.runResult = completedResult("run-1", seconds(40))
	f := setup(t, decimal.NewFromInt(5), p, nil, models.BillingConfig{})

	result, err := f.orchestrator.RunModel(context.Background(), f.params())
	assert.ErrorIs(t, err, ErrBillingFailed)
	require.NotNil(t, result)
	assert.Equal(t, "run-1", result.Id)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(5)))
}

func TestRunModel_DefaultCostWithoutSku(t *testing.T) {
	p := &fakeProvider{
		runResult: completedResult("run-1", nil),
		costInfo:  &models.ModelCostInfo{HardwareName: "Quantum Annealer", TypicalPredictionTime: seconds(3)},
	}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{DefaultModelCost: decimal.RequireFromString("1.25")})

	_, err := f.orchestrator.RunModel(context.Background(), f.params())
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("498.75")), "balance %s", f.balance(t))
}

func TestRunModel_OnchainGate(t *testing.T) {
	cfg := models.BillingConfig{OnchainGatingEnabled: true, OnchainMinTokenAmount: decimal.NewFromInt(10)}

	_, err := NewOrchestrator(nil, newPricedProvider(), nil, nil, cfg)
	assert.Error(t, err)

	tests := []struct {
		name    string
		balance decimal.Decimal
		wantErr error
	}{
		{"below", decimal.NewFromInt(3), ErrInsufficientOnchainBalance},
		{"equal", decimal.NewFromInt(10), ErrInsufficientOnchainBalance},
		{"above", decimal.NewFromInt(11), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPricedProvider()
			p.runResult = completedResult("run-1", seconds(2))
			f := setup(t, decimal.NewFromInt(500), p, fakeGate{balance: tt.balance}, cfg)

			_, err := f.orchestrator.RunModel(context.Background(), f.params())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, int32(0), atomic.LoadInt32(&p.runCalls))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunModelAsync_SettlesOnResult(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  float64
		expected decimal.Decimal
	}{
		// estimate is 4s at 0.5 = 2 credits
		{"longer run debits the difference", 7, decimal.RequireFromString("496.5")},
		{"shorter run credits the difference", 1, decimal.RequireFromString("499.5")},
		{"exact estimate", 4, decimal.NewFromInt(498)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPricedProvider()
			p.asyncRun = &models.Run{Id: "async-1", Status: models.RunPending}
			f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
			ctx := context.Background()

			run, err := f.orchestrator.RunModelAsync(ctx, f.params())
			require.NoError(t, err)
			assert.Equal(t, "async-1", run.Id)
			assert.True(t, f.balance(t).Equal(decimal.NewFromInt(498)))

			usage, err := f.db.GetUsageByRunId(ctx, "async-1")
			require.NoError(t, err)
			assert.True(t, usage.Estimated)
			assert.Nil(t, usage.SettledAt)

			p.result = completedResult("async-1", seconds(tt.elapsed))
			_, err = f.orchestrator.GetRunResult(ctx, "async-1")
			require.NoError(t, err)
			assert.True(t, f.balance(t).Equal(tt.expected), "balance %s", f.balance(t))

			// fetching again does not settle twice
			_, err = f.orchestrator.GetRunResult(ctx, "async-1")
			require.NoError(t, err)
			assert.True(t, f.balance(t).Equal(tt.expected))

			usage, err = f.db.GetUsageByRunId(ctx, "async-1")
			require.NoError(t, err)
			assert.NotNil(t, usage.SettledAt)
		})
	}
}

func TestGetRunResult_PendingDoesNotSettle(t *testing.T) {
	p := newPricedProvider()
	p.asyncRun = &models.Run{Id: "async-2", Status: models.RunPending}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
	ctx := context.Background()

	_, err := f.orchestrator.RunModelAsync(ctx, f.params())
	require.NoError(t, err)

	p.result = &models.RunResult{Run: models.Run{Id: "async-2", Status: models.RunRunning}}
	result, err := f.orchestrator.GetRunResult(ctx, "async-2")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, result.Status)

	usage, err := f.db.GetUsageByRunId(ctx, "async-2")
	require.NoError(t, err)
	assert.Nil(t, usage.SettledAt)
}

func TestGetRunResult_UnknownRun(t *testing.T) {
	p := newPricedProvider()
	p.result = completedResult("elsewhere", seconds(3))
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})

	result, err := f.orchestrator.GetRunResult(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", result.Id)

	_, err = f.db.GetUsageByRunId(context.Background(), "elsewhere")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRunModel_FailedRunIsNotBilled(t *testing.T) {
	tests := []struct {
		name   string
		result *models.RunResult
	}{
		{"failed state", &models.RunResult{
			Run:    models.Run{Id: "run-1", Status: models.RunFailed},
			Result: &models.RunOutcome{Error: "CUDA out of memory", ElapsedTime: seconds(4)},
		}},
		{"failed state without outcome", &models.RunResult{
			Run: models.Run{Id: "run-1", Status: models.RunFailed},
		}},
		{"error with completed state", &models.RunResult{
			Run:    models.Run{Id: "run-1", Status: models.RunCompleted},
			Result: &models.RunOutcome{Error: "invalid input", ElapsedTime: seconds(1)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPricedProvider()
			p.runResult = tt.result
			f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
			ctx := context.Background()

			_, err := f.orchestrator.RunModel(ctx, f.params())
			assert.ErrorIs(t, err, ErrProviderFailure)
			assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)), "balance %s", f.balance(t))

			usage, err := f.db.GetUserUsage(ctx, f.user.Id, 10, 0)
			require.NoError(t, err)
			assert.Empty(t, usage)
		})
	}
}

func TestRunModel_PricingFailureSkipsRun(t *testing.T) {
	p := newPricedProvider()
	p.runResult = completedResult("run-1", seconds(4))
	p.costErr = &provider.Error{Operation: "cost_info", StatusCode: 503}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})

	_, err := f.orchestrator.RunModel(context.Background(), f.params())
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorContains(t, err, pricing.ErrPricingUnavailable.Error())
	assert.Equal(t, int32(0), atomic.LoadInt32(&p.runCalls))
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)))

	_, err = f.orchestrator.RunModelAsync(context.Background(), f.params())
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, int32(0), atomic.LoadInt32(&p.runCalls))
}

func TestGetRunResult_FailedRunRefundsEstimate(t *testing.T) {
	p := newPricedProvider()
	p.asyncRun = &models.Run{Id: "async-3", Status: models.RunPending}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
	ctx := context.Background()

	_, err := f.orchestrator.RunModelAsync(ctx, f.params())
	require.NoError(t, err)
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(498)))

	p.result = &models.RunResult{
		Run:    models.Run{Id: "async-3", Status: models.RunFailed},
		Result: &models.RunOutcome{Error: "canceled"},
	}
	result, err := f.orchestrator.GetRunResult(ctx, "async-3")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)), "balance %s", f.balance(t))

	_, err = f.orchestrator.GetRunResult(ctx, "async-3")
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)))

	usage, err := f.db.GetUsageByRunId(ctx, "async-3")
	require.NoError(t, err)
	assert.NotNil(t, usage.SettledAt)
}

func TestGetRunResult_PricingFailureRetriesSettlement(t *testing.T) {
	p := newPricedProvider()
	p.asyncRun = &models.Run{Id: "async-4", Status: models.RunPending}
	f := setup(t, decimal.NewFromInt(500), p, nil, models.BillingConfig{})
	ctx := context.Background()

	_, err := f.orchestrator.RunModelAsync(ctx, f.params())
	require.NoError(t, err)

	p.result = completedResult("async-4", seconds(6))
	p.costErr = &provider.Error{Operation: "cost_info", StatusCode: 503}
	_, err = f.orchestrator.GetRunResult(ctx, "async-4")
	require.NoError(t, err)

	usage, err := f.db.GetUsageByRunId(ctx, "async-4")
	require.NoError(t, err)
	assert.Nil(t, usage.SettledAt)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(498)))

	p.costErr = nil
	_, err = f.orchestrator.GetRunResult(ctx, "async-4")
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(497)), "balance %s", f.balance(t))
}

package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"model-market-go/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name      string
	info      map[string]*models.ModelCostInfo
	infoErr   error
	hardware  []models.HardwareCost
	loadErr   error
	loadCalls int32
	loadDelay time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) GetCostInfo(_ context.Context, model string) (*models.ModelCostInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info[model], nil
}

func (f *fakeSource) GetHardwareCosts(_ context.Context) ([]models.HardwareCost, error) {
	atomic.AddInt32(&f.loadCalls, 1)
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	return f.hardware, f.loadErr
}

func float(v float64) *float64 { return &v }

func newSource() *fakeSource {
	return &fakeSource{
		name: "replicate",
		info: map[string]*models.ModelCostInfo{
			"t4-model":     {HardwareName: "Nvidia T4 GPU", TypicalPredictionTime: float(10)},
			"a40-model":    {HardwareName: "Nvidia A40 (Large) GPU", TypicalPredictionTime: float(4)},
			"exotic-model": {HardwareName: "Quantum Annealer", TypicalPredictionTime: float(3)},
			"h100-model":   {HardwareName: "Nvidia A100 (80GB) GPU", TypicalPredictionTime: float(3)},
		},
		hardware: []models.HardwareCost{
			{Sku: SkuGpuT4, PricePerSecond: decimal.RequireFromString("0.000225")},
			{Sku: SkuGpuA40Large, PricePerSecond: decimal.RequireFromString("0.000725")},
		},
	}
}

func TestSkuFromText(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"CPU", SkuCpu},
		{"Nvidia A100 (80GB) GPU", SkuGpuA100},
		{"Nvidia T4 GPU", SkuGpuT4},
		{"Nvidia V100 GPU", SkuGpuV100},
		{"Nvidia A40 (Large) GPU", SkuGpuA40Large},
		{"Nvidia A40 GPU small", SkuGpuA40Small},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sku, err := SkuFromText(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sku)
		})
	}

	_, err := SkuFromText("Nvidia A40 GPU")
	assert.ErrorIs(t, err, ErrUnknownHardware)
}

func TestCalculateCost(t *testing.T) {
	defaultCost := decimal.RequireFromString("1.5")
	ctx := context.Background()

	tests := []struct {
		name     string
		model    string
		elapsed  *float64
		expected string
	}{
		{"elapsed time known", "t4-model", float(4), "0.0009"},
		{"typical time when elapsed unknown", "t4-model", nil, "0.00225"},
		{"a40 large", "a40-model", float(2), "0.00145"},
		{"sku without price falls back", "h100-model", float(2), "1.5"},
		{"unknown hardware falls back", "exotic-model", nil, "1.5"},
		{"unknown model falls back", "missing-model", nil, "1.5"},
		{"zero run time falls back", "t4-model", float(0), "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calculator := NewCostCalculator(NewHardwareCostCache(nil), defaultCost)
			cost, err := calculator.CalculateCost(ctx, newSource(), tt.model, tt.elapsed)
			require.NoError(t, err)
			assert.True(t, cost.Equal(decimal.RequireFromString(tt.expected)), "expected %s, got %s", tt.expected, cost.String())
		})
	}
}

func TestCalculateCost_AsyncFallbackIsExactDefault(t *testing.T) {
	source := newSource()
	source.hardware = []models.HardwareCost{{Sku: SkuGpuV100, PricePerSecond: decimal.RequireFromString("0.0014")}}

	calculator := NewCostCalculator(NewHardwareCostCache(nil), decimal.NewFromInt(1))
	cost, err := calculator.CalculateCost(context.Background(), source, "t4-model", nil)
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.NewFromInt(1)), "got %s", cost.String())
}

func TestCalculateCost_FetchFailures(t *testing.T) {
	ctx := context.Background()
	calculator := NewCostCalculator(NewHardwareCostCache(nil), decimal.NewFromInt(2))

	source := newSource()
	source.infoErr = errors.New("gateway down")
	_, err := calculator.CalculateCost(ctx, source, "t4-model", float(1))
	assert.ErrorIs(t, err, ErrPricingUnavailable)

	source = newSource()
	source.name = "other"
	source.loadErr = errors.New("gateway down")
	_, err = calculator.CalculateCost(ctx, source, "t4-model", float(1))
	assert.ErrorIs(t, err, ErrPricingUnavailable)

	// an empty table is a miss, not a failure
	source = newSource()
	source.name = "empty"
	source.hardware = nil
	cost, err := calculator.CalculateCost(ctx, source, "t4-model", float(1))
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.NewFromInt(2)), "got %s", cost.String())
}

func TestPriceModel_CostAppliesToElapsed(t *testing.T) {
	calculator := NewCostCalculator(NewHardwareCostCache(nil), decimal.NewFromInt(2))
	price, err := calculator.PriceModel(context.Background(), newSource(), "t4-model")
	require.NoError(t, err)

	assert.Equal(t, SkuGpuT4, price.Sku)
	assert.True(t, price.Cost(nil).Equal(decimal.RequireFromString("0.00225")))
	assert.True(t, price.Cost(float(8)).Equal(decimal.RequireFromString("0.0018")))
	assert.True(t, price.Cost(float(-1)).Equal(decimal.NewFromInt(2)))
}

func TestHardwareCostCache_LoadsOnceAndInvalidates(t *testing.T) {
	ctx := context.Background()
	source := newSource()
	source.loadDelay = 20 * time.Millisecond
	cache := NewHardwareCostCache(NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			costs, err := cache.Get(ctx, source)
			assert.NoError(t, err)
			assert.Len(t, costs, 2)
		}()
	}
	wg.Wait()

	_, err := cache.Get(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.loadCalls))

	require.NoError(t, cache.Invalidate(ctx, source.Name()))
	_, err = cache.Get(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.loadCalls))
}

func TestHardwareCostCache_EmptyTableNotCached(t *testing.T) {
	ctx := context.Background()
	source := newSource()
	source.hardware = nil
	cache := NewHardwareCostCache(nil)

	for i := 0; i < 2; i++ {
		costs, err := cache.Get(ctx, source)
		require.NoError(t, err)
		assert.Empty(t, costs)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.loadCalls))
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	store, err := NewRedisStore(ctx, "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	defer store.Close()

	source := newSource()
	first := NewHardwareCostCache(store)
	costs, err := first.Get(ctx, source)
	require.NoError(t, err)
	require.Len(t, costs, 2)

	// A second replica sharing the redis store never calls the provider
	second := NewHardwareCostCache(store)
	shared, err := second.Get(ctx, source)
	require.NoError(t, err)
	require.Len(t, shared, 2)
	assert.True(t, shared[0].PricePerSecond.Equal(decimal.RequireFromString("0.000225")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.loadCalls))

	assert.True(t, mr.Exists(redisKeyPrefix+"replicate"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(redisKeyPrefix+"replicate"))

	_, err = second.Get(ctx, source)
	require.NoError(t, err)
	require.NoError(t, second.Invalidate(ctx, "replicate"))
	assert.False(t, mr.Exists(redisKeyPrefix+"replicate"))
}

func TestNewRedisStore_InvalidUrl(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url", 0)
	assert.Error(t, err)
}

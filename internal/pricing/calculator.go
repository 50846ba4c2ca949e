package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPricingUnavailable is returned when cost info or hardware prices cannot be fetched
var ErrPricingUnavailable = errors.New("model pricing unavailable")

// CostCalculator converts a model run into credits
type CostCalculator struct {
	cache       *HardwareCostCache
	defaultCost decimal.Decimal
}

func NewCostCalculator(cache *HardwareCostCache, defaultCost decimal.Decimal) *CostCalculator {
	return &CostCalculator{cache: cache, defaultCost: defaultCost}
}

func (c *CostCalculator) DefaultCost() decimal.Decimal {
	return c.defaultCost
}

// ModelPrice is the resolved price of one model. A zero PricePerSecond means the model
// is billed at the default cost.
type ModelPrice struct {
	Provider       string
	Model          string
	Sku            string
	PricePerSecond decimal.Decimal
	TypicalSeconds *float64
	defaultCost    decimal.Decimal
}

// PriceModel resolves the per-second price of model. Fetch failures return
// ErrPricingUnavailable; a model without cost info, hardware or a matching sku resolves
// to the default cost.
func (c *CostCalculator) PriceModel(ctx context.Context, source PriceSource, model string) (*ModelPrice, error) {
	logger := zap.L().With(zap.String("provider", source.Name()), zap.String("model", model))
	price := &ModelPrice{Provider: source.Name(), Model: model, defaultCost: c.defaultCost}

	info, err := source.GetCostInfo(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("%w: cost info for %s: %v", ErrPricingUnavailable, model, err)
	}
	if info == nil || (info.HardwareName == "" && info.Sku == "") {
		logger.Warn("Model has no hardware, using default model cost")
		return price, nil
	}
	price.TypicalSeconds = info.TypicalPredictionTime

	sku := info.Sku
	if sku == "" {
		if sku, err = SkuFromText(info.HardwareName); err != nil {
			logger.Warn("Hardware not priced, using default model cost", zap.Error(err))
			return price, nil
		}
	}
	price.Sku = sku

	costs, err := c.cache.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: hardware costs of %s: %v", ErrPricingUnavailable, source.Name(), err)
	}
	for _, hardware := range costs {
		if hardware.Sku == sku {
			price.PricePerSecond = hardware.PricePerSecond
			return price, nil
		}
	}

	logger.Warn("No hardware price for sku, using default model cost", zap.String("sku", sku))
	return price, nil
}

// Cost prices a run at price_per_second * elapsed. A nil elapsed uses the model's typical
// prediction time.
func (p *ModelPrice) Cost(elapsed *float64) decimal.Decimal {
	if !p.PricePerSecond.IsPositive() {
		return p.defaultCost
	}

	logger := zap.L().With(zap.String("provider", p.Provider), zap.String("model", p.Model))
	seconds := elapsed
	if seconds == nil {
		seconds = p.TypicalSeconds
	}
	if seconds == nil || *seconds < 0 {
		logger.Warn("Run time unknown, using default model cost")
		return p.defaultCost
	}

	cost := p.PricePerSecond.Mul(decimal.NewFromFloat(*seconds))
	if !cost.IsPositive() {
		logger.Warn("Computed cost is not positive, using default model cost", zap.String("cost", cost.String()))
		return p.defaultCost
	}
	logger.Debug("Run cost calculated",
		zap.String("sku", p.Sku),
		zap.Float64("seconds", *seconds),
		zap.String("cost", cost.String()))
	return cost
}

// CalculateCost resolves the model price and applies it to elapsed
func (c *CostCalculator) CalculateCost(ctx context.Context, source PriceSource, model string, elapsed *float64) (decimal.Decimal, error) {
	price, err := c.PriceModel(ctx, source, model)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Cost(elapsed), nil
}

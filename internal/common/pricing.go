package common

import (
	"fmt"

	"model-market-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

var secondsPerHour = decimal.NewFromInt(3600)

type hardwareEntry struct {
	models.HardwareCost `yaml:",inline"`
	PricePerSecond      string `yaml:"price_per_second"`
	PricePerHour        string `yaml:"price_per_hour"`
}

type modelCostEntry struct {
	Model                 string   `yaml:"model"`
	Hardware              string   `yaml:"hardware"`
	TypicalPredictionTime *float64 `yaml:"typical_prediction_time"`
}

type pricingFile struct {
	Hardware []hardwareEntry  `yaml:"hardware"`
	Models   []modelCostEntry `yaml:"models"`
}

// PricingTable is the hardware price list and per-model cost info a gateway publishes
type PricingTable struct {
	Hardware []models.HardwareCost
	Models   map[string]models.ModelCostInfo
}

// LoadPricingConfig reads a pricing YAML. A missing price_per_hour is derived from
// price_per_second and the other way around.
func LoadPricingConfig(pricingFileName string) (*PricingTable, error) {
	data, err := readConfigFile(pricingFileName)
	if err != nil {
		return nil, err
	}

	var raw pricingFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", pricingFileName, err)
	}

	table := &PricingTable{Models: make(map[string]models.ModelCostInfo, len(raw.Models))}
	for i, entry := range raw.Hardware {
		if entry.Sku == "" {
			return nil, fmt.Errorf("hardware at index %d missing sku", i)
		}

		cost := entry.HardwareCost
		switch {
		case entry.PricePerSecond != "":
			if cost.PricePerSecond, err = decimal.NewFromString(entry.PricePerSecond); err != nil {
				return nil, fmt.Errorf("invalid price_per_second for %s: %w", entry.Sku, err)
			}
			cost.PricePerHour = cost.PricePerSecond.Mul(secondsPerHour)
			if entry.PricePerHour != "" {
				if cost.PricePerHour, err = decimal.NewFromString(entry.PricePerHour); err != nil {
					return nil, fmt.Errorf("invalid price_per_hour for %s: %w", entry.Sku, err)
				}
			}
		case entry.PricePerHour != "":
			if cost.PricePerHour, err = decimal.NewFromString(entry.PricePerHour); err != nil {
				return nil, fmt.Errorf("invalid price_per_hour for %s: %w", entry.Sku, err)
			}
			cost.PricePerSecond = cost.PricePerHour.Div(secondsPerHour)
		default:
			return nil, fmt.Errorf("hardware %s has no price", entry.Sku)
		}

		if cost.PricePerSecond.IsNegative() {
			return nil, fmt.Errorf("hardware %s has a negative price", entry.Sku)
		}
		table.Hardware = append(table.Hardware, cost)
	}

	for i, entry := range raw.Models {
		if entry.Model == "" {
			return nil, fmt.Errorf("model at index %d missing name", i)
		}
		table.Models[entry.Model] = models.ModelCostInfo{
			HardwareName:          entry.Hardware,
			TypicalPredictionTime: entry.TypicalPredictionTime,
		}
	}

	return table, nil
}

package pricing

import (
	"errors"
	"fmt"
	"strings"
)

const (
	SkuCpu         = "cpu"
	SkuGpuA100     = "gpu-a100-large"
	SkuGpuT4       = "gpu-t4"
	SkuGpuV100     = "gpu-v100"
	SkuGpuA40Large = "gpu-a40-large"
	SkuGpuA40Small = "gpu-a40-small"
)

var ErrUnknownHardware = errors.New("unknown hardware")

// SkuFromText maps a free-form hardware name such as "Nvidia A40 (Large) GPU" to a price table SKU.
// Rules are checked in order, first match wins.
func SkuFromText(text string) (string, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cpu"):
		return SkuCpu, nil
	case strings.Contains(lower, "a100"):
		return SkuGpuA100, nil
	case strings.Contains(lower, "t4"):
		return SkuGpuT4, nil
	case strings.Contains(lower, "v100"):
		return SkuGpuV100, nil
	case strings.Contains(lower, "a40") && strings.Contains(lower, "large"):
		return SkuGpuA40Large, nil
	case strings.Contains(lower, "a40") && strings.Contains(lower, "small"):
		return SkuGpuA40Small, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownHardware, text)
}

package store

import (
	"errors"
	"fmt"
	"testing"
)

// Compile-time checks that the interfaces are importable and usable.
func TestStoreInterfaceExists(t *testing.T) {
	_ = CreateUsageParams{}
	_ = CompletePopupParams{}

	var _ Store
	var _ Ledger
}

func TestSentinelErrorsWrap(t *testing.T) {
	sentinels := []error{
		ErrBalanceNotFound,
		ErrInsufficientFunds,
		ErrBillingFailed,
		ErrNotFound,
		ErrAlreadySettled,
		ErrPopupClosed,
		ErrEventConsumed,
	}

	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("context: %w", sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("Expected wrapped error to match %v", sentinel)
		}
	}

	if errors.Is(ErrBalanceNotFound, ErrInsufficientFunds) {
		t.Errorf("Expected distinct sentinel errors")
	}
}

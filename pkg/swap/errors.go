package swap

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrUnauthorized       = errors.New("caller is not the agent or manager")
	ErrZeroMinBuy         = errors.New("min buy amount must be positive")
	ErrZeroAmount         = errors.New("sell amount is zero")
	ErrBelowDustThreshold = errors.New("balance at or below dust threshold")
	ErrAlreadyInitialized = errors.New("order already initialized")
	ErrUnknownFingerprint = errors.New("fingerprint does not match order")
	ErrExpired            = errors.New("order deadline passed")
	ErrNotExpired         = errors.New("order deadline not reached")
)

// PriceConditionChangedError rejects a settlement attempt whose re-quoted
// output exceeds the committed amount by more than the tolerance. The
// committed amount is a floor; once the market moves up beyond tolerance
// the stale commitment must not be filled.
type PriceConditionChangedError struct {
	MaxAccepted *big.Int // committed amount plus tolerance
	Current     *big.Int // freshly quoted output
}

func (e *PriceConditionChangedError) Error() string {
	return fmt.Sprintf("price condition changed: current quote %s exceeds max accepted %s",
		e.Current.String(), e.MaxAccepted.String())
}

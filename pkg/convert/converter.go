package convert

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/rates"
)

var (
	ErrSameToken  = errors.New("sell and buy token are identical")
	ErrRateUnset  = errors.New("no conversion rate for token pair")
	ErrZeroAmount = errors.New("sell amount is zero")
	ErrZeroOutput = errors.New("expected output rounds to zero")
)

// Converter computes the expected output amount of a swap from the
// current rate table. Pure reads, no state of its own.
type Converter struct {
	registry *asset.Registry
	table    *rates.Table
}

func New(registry *asset.Registry, table *rates.Table) (*Converter, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if table == nil {
		return nil, fmt.Errorf("rate table cannot be nil")
	}
	return &Converter{registry: registry, table: table}, nil
}

// ExpectedOut returns how much of buyToken the current rate yields for
// sellAmount of sellToken, before any margin.
func (c *Converter) ExpectedOut(sellToken, buyToken common.Address, sellAmount *big.Int) (*big.Int, error) {
	if sellToken == buyToken {
		return nil, ErrSameToken
	}
	if sellAmount == nil || sellAmount.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	rate, ok := c.table.Get(sellToken, buyToken)
	if !ok {
		return nil, ErrRateUnset
	}
	sellDec, err := c.registry.Decimals(sellToken)
	if err != nil {
		return nil, fmt.Errorf("sell token: %w", err)
	}
	buyDec, err := c.registry.Decimals(buyToken)
	if err != nil {
		return nil, fmt.Errorf("buy token: %w", err)
	}

	out := ApplyRate(sellAmount, rate, sellDec, buyDec)
	if out.Sign() == 0 {
		// A tiny sell against a low-precision quote token can lose all
		// precision; refuse rather than quote a free trade.
		return nil, ErrZeroOutput
	}
	return out, nil
}

// ApplyRate scales sellAmount by rate across heterogeneous token
// precisions. The rate carries rates.RateDecimals fixed-point decimals.
//
// Example: rate = 10_000 * 10^18 (ETH/USDT), sellDec=18, buyDec=6:
//
//	shift = 18 + 18 - 6 = 30
//	out   = sellAmount * rate / 10^30
//
// When the shift is negative the power moves to the numerator, keeping
// all exponents non-negative. Multiply-before-divide preserves
// precision; division truncates toward zero.
func ApplyRate(sellAmount, rate *big.Int, sellDecimals, buyDecimals uint8) *big.Int {
	shift := int(sellDecimals) + rates.RateDecimals - int(buyDecimals)
	out := new(big.Int).Mul(sellAmount, rate)
	if shift >= 0 {
		return out.Quo(out, pow10(shift))
	}
	return out.Mul(out, pow10(-shift))
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

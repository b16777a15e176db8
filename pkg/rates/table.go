package rates

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RateDecimals is the fixed-point scale of every stored rate. A rate of
// 1.0 is stored as 10^18.
const RateDecimals = 18

type pair struct {
	base  common.Address
	quote common.Address
}

// Table stores pairwise conversion rates keyed by ordered (base, quote)
// pairs. No inverse rate is derived: stETH->DAI and DAI->stETH are two
// independent entries. An absent entry means unset, which is distinct
// from a zero price (zero prices are rejected on write).
//
// Writes replace a single slot atomically under the lock, so a reader
// interleaving with an update sees one consistent before/after value.
type Table struct {
	mu    sync.RWMutex
	rates map[pair]*big.Int
}

func NewTable() *Table {
	return &Table{rates: make(map[pair]*big.Int)}
}

// Set stores the rate for (base, quote), scaled by 10^RateDecimals.
func (t *Table) Set(base, quote common.Address, rate *big.Int) error {
	if base == quote {
		return fmt.Errorf("base and quote token must differ")
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	t.mu.Lock()
	t.rates[pair{base, quote}] = new(big.Int).Set(rate)
	t.mu.Unlock()
	return nil
}

// Get returns the stored rate, or ok=false if the pair is unset.
func (t *Table) Get(base, quote common.Address) (*big.Int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[pair{base, quote}]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(r), true
}

// Pairs returns every ordered pair with a stored rate.
func (t *Table) Pairs() [][2]common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][2]common.Address, 0, len(t.rates))
	for p := range t.rates {
		out = append(out, [2]common.Address{p.base, p.quote})
	}
	return out
}

package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Token holds the metadata the conversion math needs. Decimals vary per
// token (stETH/DAI use 18, USDT/USDC use 6) and must be looked up, never
// assumed.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Registry maps token addresses to their metadata.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]Token)}
}

func (r *Registry) Register(t Token) error {
	if t.Address == (common.Address{}) {
		return fmt.Errorf("token address cannot be zero")
	}
	if t.Symbol == "" {
		return fmt.Errorf("token symbol cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Address]; ok {
		return fmt.Errorf("token %s already registered", t.Address.Hex())
	}
	r.tokens[t.Address] = t
	return nil
}

func (r *Registry) Get(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// Decimals returns the decimal precision for a registered token.
func (r *Registry) Decimals(addr common.Address) (uint8, error) {
	t, ok := r.Get(addr)
	if !ok {
		return 0, fmt.Errorf("unknown token %s", addr.Hex())
	}
	return t.Decimals, nil
}

func (r *Registry) List() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the fungible-token surface the settlement core consumes.
// Transfers are atomic from the caller's perspective: no callbacks run
// mid-transfer and a failed call leaves balances untouched.
type Ledger interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Allowance(token, owner, spender common.Address) *big.Int
}

// Book is an in-memory Ledger keyed by (token, holder). It stands in for
// the on-chain ERC-20 contracts in local deployments and tests.
type Book struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int
}

func NewBook() *Book {
	return &Book{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[[2]common.Address]*big.Int),
	}
}

func (b *Book) BalanceOf(token, holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[token][holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Mint credits a holder. Test and simulator helper, not part of Ledger.
func (b *Book) Mint(token, to common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, to, amount)
}

func (b *Book) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[token][from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance of %s: have %s, need %s",
			token.Hex(), balString(bal), amount.String())
	}
	bal.Sub(bal, amount)
	b.credit(token, to, amount)
	return nil
}

func (b *Book) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative approval amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[token] == nil {
		b.allowances[token] = make(map[[2]common.Address]*big.Int)
	}
	b.allowances[token][[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (b *Book) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if a, ok := b.allowances[token][[2]common.Address{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TransferFrom moves tokens on behalf of an approved spender, the path
// the settlement relayer uses on fill.
func (b *Book) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := [2]common.Address{from, spender}
	allowance, ok := b.allowances[token][key]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("allowance of %s for %s too low", token.Hex(), spender.Hex())
	}
	bal, ok := b.balances[token][from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance of %s: have %s, need %s",
			token.Hex(), balString(bal), amount.String())
	}
	allowance.Sub(allowance, amount)
	bal.Sub(bal, amount)
	b.credit(token, to, amount)
	return nil
}

// credit assumes b.mu is held.
func (b *Book) credit(token, to common.Address, amount *big.Int) {
	if b.balances[token] == nil {
		b.balances[token] = make(map[common.Address]*big.Int)
	}
	if bal, ok := b.balances[token][to]; ok {
		bal.Add(bal, amount)
	} else {
		b.balances[token][to] = new(big.Int).Set(amount)
	}
}

func balString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}

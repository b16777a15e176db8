package swap

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/crypto"
	"github.com/tresolabs/treso/pkg/util"
)

// maxApproval is the unlimited allowance granted to the settlement
// relayer. Safe only because each order instance is single-use.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Order is a single-use settlement instance. It is created by a Factory,
// initialized exactly once with concrete trade terms, validated
// read-only any number of times by the venue, and drained back to the
// factory once expired. State never mutates after Initialize; recovery
// moves funds, not state.
type Order struct {
	addr            common.Address
	relayer         common.Address
	receiver        common.Address
	domainSeparator common.Hash

	clock  util.Clock
	ledger asset.Ledger
	log    *zap.SugaredLogger

	mu          sync.Mutex
	initialized bool
	factory     *Factory // controlling factory, recorded at Initialize
	manager     common.Address
	sellAmount  *big.Int
	buyAmount   *big.Int
	deadline    time.Time
	fingerprint common.Hash
	descriptor  crypto.SettlementOrder
}

// Description is the read-only projection of an initialized order.
type Description struct {
	Fingerprint common.Hash
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	Deadline    time.Time
}

// NewTemplate builds the prototype order every factory clones. The
// template itself is permanently marked initialized so the ungoverned
// prototype can never hold funds or terms of its own.
func NewTemplate(receiver, relayer common.Address, domainSeparator common.Hash) (*Order, error) {
	if receiver == (common.Address{}) {
		return nil, fmt.Errorf("receiver address cannot be zero")
	}
	if relayer == (common.Address{}) {
		return nil, fmt.Errorf("relayer address cannot be zero")
	}
	return &Order{
		receiver:        receiver,
		relayer:         relayer,
		domainSeparator: domainSeparator,
		initialized:     true,
	}, nil
}

// clone copies the template's fixed settlement parameters into a fresh,
// uninitialized instance with its own identity.
func (o *Order) clone(addr common.Address, clock util.Clock, ledger asset.Ledger, log *zap.SugaredLogger) *Order {
	return &Order{
		addr:            addr,
		receiver:        o.receiver,
		relayer:         o.relayer,
		domainSeparator: o.domainSeparator,
		clock:           clock,
		ledger:          ledger,
		log:             log,
	}
}

// Address returns the order's identity, the holder of its sell tokens.
func (o *Order) Address() common.Address { return o.addr }

// Initialize commits the order's trade terms. Exactly one call ever
// succeeds per instance. The caller becomes the controlling factory: all
// later re-quotes go through it.
//
// The committed buy amount is max(current estimate, minBuyAmount), so
// minBuyAmount acts as a floor against placing orders off a manipulated
// quote. Everything commits together: amounts, deadline, fingerprint and
// the relayer approval, or nothing does.
func (o *Order) Initialize(f *Factory, minBuyAmount *big.Int, manager common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return ErrAlreadyInitialized
	}
	if f == nil {
		return fmt.Errorf("controlling factory cannot be nil")
	}
	if minBuyAmount == nil || minBuyAmount.Sign() <= 0 {
		return ErrZeroMinBuy
	}

	sellAmount := o.ledger.BalanceOf(f.SellToken(), o.addr)
	if sellAmount.Cmp(dustThreshold) <= 0 {
		return ErrBelowDustThreshold
	}

	estimated, err := f.EstimateTradeOutput(sellAmount)
	if err != nil {
		return fmt.Errorf("estimate trade output: %w", err)
	}
	buyAmount := new(big.Int).Set(estimated)
	if buyAmount.Cmp(minBuyAmount) < 0 {
		buyAmount.Set(minBuyAmount)
	}

	deadline := o.clock.Now().Add(f.Duration())

	descriptor := crypto.SettlementOrder{
		SellToken:         f.SellToken(),
		BuyToken:          f.BuyToken(),
		Receiver:          o.receiver,
		SellAmount:        new(big.Int).Set(sellAmount),
		BuyAmount:         new(big.Int).Set(buyAmount),
		ValidTo:           uint32(deadline.Unix()),
		AppData:           common.Hash{},
		FeeAmount:         new(big.Int),
		Kind:              crypto.KindSell,
		PartiallyFillable: false,
		SellTokenBalance:  crypto.BalanceERC20,
		BuyTokenBalance:   crypto.BalanceERC20,
	}
	fingerprint, err := descriptor.Fingerprint(o.domainSeparator)
	if err != nil {
		return fmt.Errorf("fingerprint order: %w", err)
	}

	// One-time unlimited approval; amortizes the venue's pulls and is
	// bounded by the instance being single-use.
	if err := o.ledger.Approve(f.SellToken(), o.addr, o.relayer, maxApproval); err != nil {
		return fmt.Errorf("approve relayer: %w", err)
	}

	o.factory = f
	o.manager = manager
	o.sellAmount = sellAmount
	o.buyAmount = buyAmount
	o.deadline = deadline
	o.fingerprint = fingerprint
	o.descriptor = descriptor
	o.initialized = true

	if o.log != nil {
		o.log.Infow("order_initialized",
			"order", o.addr.Hex(),
			"fingerprint", fingerprint.Hex(),
			"sell_amount", sellAmount.String(),
			"buy_amount", buyAmount.String(),
			"deadline", deadline.Unix(),
		)
	}
	return nil
}

// ValidateFingerprint is the venue-facing acceptance predicate. It is
// read-only and re-quotes the market on every call: acceptance at one
// instant implies nothing about the next.
//
// Accept when the fresh quote is at or below the committed amount (the
// commitment is already the floor), or above it by no more than
// tolerance. A larger upward move means the commitment is stale enough
// that filling it would forfeit real surplus, so the order rejects.
func (o *Order) ValidateFingerprint(candidate common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized || o.factory == nil {
		return ErrUnknownFingerprint
	}
	if candidate != o.fingerprint {
		return ErrUnknownFingerprint
	}
	if !o.clock.Now().Before(o.deadline) {
		return ErrExpired
	}

	currentBuy, err := o.factory.EstimateTradeOutput(o.sellAmount)
	if err != nil {
		return fmt.Errorf("re-quote: %w", err)
	}
	if currentBuy.Cmp(o.buyAmount) <= 0 {
		return nil
	}

	deviation := new(big.Int).Sub(currentBuy, o.buyAmount)
	maxDeviation := new(big.Int).Mul(o.buyAmount, big.NewInt(o.factory.ToleranceBps()))
	maxDeviation.Quo(maxDeviation, big.NewInt(bpsDenominator))
	if deviation.Cmp(maxDeviation) > 0 {
		return &PriceConditionChangedError{
			MaxAccepted: new(big.Int).Add(o.buyAmount, maxDeviation),
			Current:     currentBuy,
		}
	}
	return nil
}

// RecoverExpiredFunds returns the remaining sell-token balance to the
// controlling factory. Callable by anyone once the deadline has passed;
// the factory is the only beneficiary, and ungated recovery keeps funds
// from sticking in dead instances.
func (o *Order) RecoverExpiredFunds() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized || o.factory == nil {
		return ErrNotExpired
	}
	if o.clock.Now().Before(o.deadline) {
		return ErrNotExpired
	}

	sellToken := o.factory.SellToken()
	balance := o.ledger.BalanceOf(sellToken, o.addr)
	if balance.Cmp(dustThreshold) <= 0 {
		return ErrBelowDustThreshold
	}

	recipient := o.factory.Address()
	if err := o.ledger.Transfer(sellToken, o.addr, recipient, balance); err != nil {
		return fmt.Errorf("recover funds: %w", err)
	}

	o.factory.emitRecovery(o.addr, sellToken, recipient, balance)

	if o.log != nil {
		o.log.Infow("order_funds_recovered",
			"order", o.addr.Hex(),
			"token", sellToken.Hex(),
			"recipient", recipient.Hex(),
			"amount", balance.String(),
		)
	}
	return nil
}

// Describe projects the committed terms. Valid after initialization.
func (o *Order) Describe() (Description, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized || o.factory == nil {
		return Description{}, fmt.Errorf("order not initialized")
	}
	return Description{
		Fingerprint: o.fingerprint,
		SellToken:   o.factory.SellToken(),
		BuyToken:    o.factory.BuyToken(),
		SellAmount:  new(big.Int).Set(o.sellAmount),
		BuyAmount:   new(big.Int).Set(o.buyAmount),
		Deadline:    o.deadline,
	}, nil
}

// Descriptor returns the full settlement descriptor for event emission.
func (o *Order) Descriptor() (crypto.SettlementOrder, common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized || o.factory == nil {
		return crypto.SettlementOrder{}, common.Hash{}, fmt.Errorf("order not initialized")
	}
	return o.descriptor, o.fingerprint, nil
}

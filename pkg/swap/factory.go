package swap

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/convert"
	"github.com/tresolabs/treso/pkg/events"
	"github.com/tresolabs/treso/pkg/util"
)

// External-contract constants. Changing any of them breaks compatibility
// with venues and deployed configurations.
const (
	bpsDenominator = 10_000
	MaxConfigBps   = 1_000 // 10% ceiling for margin and tolerance

	MinOrderDuration = 60 * time.Second
	MaxOrderDuration = 24 * time.Hour
)

// dustThreshold is the raw-unit floor below which balances are not worth
// an order or a recovery transfer. Rebasing tokens can round a few units
// away between reads; forcing a transfer of those units fails or burns
// more than it moves.
var dustThreshold = big.NewInt(10)

// Config is the immutable trade configuration a Factory is built from.
// Validated once at construction, never revisited, never mutated.
type Config struct {
	Agent   common.Address // treasury agent, allowed to place orders
	Manager common.Address // delegated operator, also allowed

	SellToken common.Address
	BuyToken  common.Address

	Converter *convert.Converter
	Template  *Order

	Duration     time.Duration
	MarginBps    int64
	ToleranceBps int64
}

func (c Config) validate() error {
	if c.Agent == (common.Address{}) {
		return fmt.Errorf("agent address cannot be zero")
	}
	if c.SellToken == (common.Address{}) {
		return fmt.Errorf("sell token address cannot be zero")
	}
	if c.BuyToken == (common.Address{}) {
		return fmt.Errorf("buy token address cannot be zero")
	}
	if c.SellToken == c.BuyToken {
		return fmt.Errorf("sell and buy token must differ")
	}
	if c.Converter == nil {
		return fmt.Errorf("converter cannot be nil")
	}
	if c.Template == nil {
		return fmt.Errorf("order template cannot be nil")
	}
	if c.Duration < MinOrderDuration || c.Duration > MaxOrderDuration {
		return fmt.Errorf("duration %s outside [%s, %s]", c.Duration, MinOrderDuration, MaxOrderDuration)
	}
	if c.MarginBps < 0 || c.MarginBps > MaxConfigBps {
		return fmt.Errorf("margin %d bps outside [0, %d]", c.MarginBps, MaxConfigBps)
	}
	if c.ToleranceBps < 0 || c.ToleranceBps > MaxConfigBps {
		return fmt.Errorf("tolerance %d bps outside [0, %d]", c.ToleranceBps, MaxConfigBps)
	}
	return nil
}

// Factory holds one frozen trade configuration and spawns single-use
// orders for it. Factories share nothing mutable with each other or with
// the orders they spawn beyond the read-only config and rate table, so
// any number can run concurrently.
type Factory struct {
	cfg    Config
	addr   common.Address
	clock  util.Clock
	ledger asset.Ledger
	bus    *events.Bus
	log    *zap.SugaredLogger

	mu     sync.Mutex
	nonce  uint64
	orders map[common.Address]*Order
}

// NewFactory validates the configuration and builds a factory. A config
// violation means the factory never exists; there is no half-valid state
// to repair later.
func NewFactory(cfg Config, ledger asset.Ledger, clock util.Clock, bus *events.Bus, log *zap.SugaredLogger) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid trade config: %w", err)
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Factory{
		cfg:    cfg,
		addr:   deriveAddress(cfg.Agent.Bytes(), cfg.SellToken.Bytes(), cfg.BuyToken.Bytes(), []byte("factory")),
		clock:  clock,
		ledger: ledger,
		bus:    bus,
		log:    log,
		orders: make(map[common.Address]*Order),
	}, nil
}

func (f *Factory) Address() common.Address   { return f.addr }
func (f *Factory) SellToken() common.Address { return f.cfg.SellToken }
func (f *Factory) BuyToken() common.Address  { return f.cfg.BuyToken }
func (f *Factory) Duration() time.Duration   { return f.cfg.Duration }
func (f *Factory) MarginBps() int64          { return f.cfg.MarginBps }
func (f *Factory) ToleranceBps() int64       { return f.cfg.ToleranceBps }

func (f *Factory) authorized(caller common.Address) bool {
	return caller == f.cfg.Agent || (f.cfg.Manager != (common.Address{}) && caller == f.cfg.Manager)
}

// PlaceOrder moves the factory's whole sell-token balance into a fresh
// single-use order and commits its trade terms. minBuyAmount is the
// caller's floor on the output; the committed amount never drops below
// it even if the live quote does.
func (f *Factory) PlaceOrder(caller common.Address, minBuyAmount *big.Int) (*Order, error) {
	if !f.authorized(caller) {
		return nil, ErrUnauthorized
	}
	if minBuyAmount == nil || minBuyAmount.Sign() <= 0 {
		return nil, ErrZeroMinBuy
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	balance := f.ledger.BalanceOf(f.cfg.SellToken, f.addr)
	if balance.Cmp(dustThreshold) <= 0 {
		return nil, ErrBelowDustThreshold
	}

	f.nonce++
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], f.nonce)
	order := f.cfg.Template.clone(
		deriveAddress(f.addr.Bytes(), nonceBytes[:]),
		f.clock, f.ledger, f.log,
	)

	if err := f.ledger.Transfer(f.cfg.SellToken, f.addr, order.Address(), balance); err != nil {
		return nil, fmt.Errorf("fund order: %w", err)
	}
	if err := order.Initialize(f, minBuyAmount, caller); err != nil {
		// Unwind the funding transfer so a failed placement leaves the
		// factory exactly as it was.
		if rerr := f.ledger.Transfer(f.cfg.SellToken, order.Address(), f.addr, balance); rerr != nil && f.log != nil {
			f.log.Errorw("order_unwind_failed", "order", order.Address().Hex(), "err", rerr)
		}
		return nil, err
	}

	f.orders[order.Address()] = order

	descriptor, fingerprint, err := order.Descriptor()
	if err == nil && f.bus != nil {
		f.bus.Publish(events.OrderCreated{
			Order:       order.Address(),
			Fingerprint: fingerprint,
			Descriptor:  descriptor,
		})
	}

	if f.log != nil {
		f.log.Infow("order_placed",
			"factory", f.addr.Hex(),
			"order", order.Address().Hex(),
			"caller", caller.Hex(),
			"sell_amount", balance.String(),
		)
	}
	return order, nil
}

// EstimateTradeOutput converts sellAmount at the current rate and
// deducts the configured margin: raw * (10000 - marginBps) / 10000.
// Margin applies after conversion, never before.
func (f *Factory) EstimateTradeOutput(sellAmount *big.Int) (*big.Int, error) {
	if sellAmount == nil || sellAmount.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	raw, err := f.cfg.Converter.ExpectedOut(f.cfg.SellToken, f.cfg.BuyToken, sellAmount)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(raw, big.NewInt(bpsDenominator-f.cfg.MarginBps))
	return out.Quo(out, big.NewInt(bpsDenominator)), nil
}

// EstimateTradeOutputFromCurrentBalance estimates against the factory's
// live sell-token balance.
func (f *Factory) EstimateTradeOutputFromCurrentBalance() (*big.Int, error) {
	return f.EstimateTradeOutput(f.ledger.BalanceOf(f.cfg.SellToken, f.addr))
}

// Order returns a previously placed order by handle.
func (f *Factory) Order(addr common.Address) (*Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[addr]
	return o, ok
}

// Orders lists every order this factory has placed.
func (f *Factory) Orders() []*Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out
}

func (f *Factory) emitRecovery(order, token, recipient common.Address, amount *big.Int) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(events.FundsRecovered{
		Order:     order,
		Token:     token,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
	})
}

// deriveAddress builds a deterministic 20-byte identity from seed parts,
// the in-process analogue of deployment addresses.
func deriveAddress(parts ...[]byte) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(parts...)[12:])
}

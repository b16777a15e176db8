package swap

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/convert"
	"github.com/tresolabs/treso/pkg/events"
	"github.com/tresolabs/treso/pkg/rates"
	"github.com/tresolabs/treso/pkg/util"
)

var (
	agent   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	manager = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	relayer = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	sellTok = common.HexToAddress("0x0000000000000000000000000000000000000011")
	buyTok  = common.HexToAddress("0x0000000000000000000000000000000000000022")

	domainSep = common.HexToHash("0xc078f884a2676e1345748b1feace7b0abee5d00ecadb6e574dcdd109a63e8943")
)

func pow10i(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

type testEnv struct {
	factory *Factory
	table   *rates.Table
	book    *asset.Book
	bus     *events.Bus
	clock   *util.FakeClock
}

// newTestEnv builds a factory over two 18-decimal tokens. With margin 0
// and a rate of x*10^14, a sell amount of 10_000 raw units estimates to
// exactly x units out, which makes tolerance boundaries easy to pin.
func newTestEnv(t *testing.T, marginBps, toleranceBps int64) *testEnv {
	t.Helper()
	return newTestEnvDecimals(t, marginBps, toleranceBps, 18, 18)
}

func newTestEnvDecimals(t *testing.T, marginBps, toleranceBps int64, sellDec, buyDec uint8) *testEnv {
	t.Helper()

	registry := asset.NewRegistry()
	if err := registry.Register(asset.Token{Address: sellTok, Symbol: "SELL", Decimals: sellDec}); err != nil {
		t.Fatalf("register sell token: %v", err)
	}
	if err := registry.Register(asset.Token{Address: buyTok, Symbol: "BUY", Decimals: buyDec}); err != nil {
		t.Fatalf("register buy token: %v", err)
	}

	table := rates.NewTable()
	converter, err := convert.New(registry, table)
	if err != nil {
		t.Fatalf("converter: %v", err)
	}
	template, err := NewTemplate(agent, relayer, domainSep)
	if err != nil {
		t.Fatalf("template: %v", err)
	}

	book := asset.NewBook()
	bus := events.NewBus()
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))

	factory, err := NewFactory(Config{
		Agent:        agent,
		Manager:      manager,
		SellToken:    sellTok,
		BuyToken:     buyTok,
		Converter:    converter,
		Template:     template,
		Duration:     time.Hour,
		MarginBps:    marginBps,
		ToleranceBps: toleranceBps,
	}, book, clock, bus, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	return &testEnv{factory: factory, table: table, book: book, bus: bus, clock: clock}
}

// setQuote pins EstimateTradeOutput(10_000) to exactly x (margin 0).
func (e *testEnv) setQuote(t *testing.T, x int64) {
	t.Helper()
	rate := new(big.Int).Mul(big.NewInt(x), pow10i(14))
	if err := e.table.Set(sellTok, buyTok, rate); err != nil {
		t.Fatalf("set rate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	registry := asset.NewRegistry()
	registry.Register(asset.Token{Address: sellTok, Symbol: "SELL", Decimals: 18})
	registry.Register(asset.Token{Address: buyTok, Symbol: "BUY", Decimals: 18})
	converter, _ := convert.New(registry, rates.NewTable())
	template, _ := NewTemplate(agent, relayer, domainSep)

	valid := Config{
		Agent: agent, Manager: manager,
		SellToken: sellTok, BuyToken: buyTok,
		Converter: converter, Template: template,
		Duration: time.Hour, MarginBps: 100, ToleranceBps: 100,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero agent", func(c *Config) { c.Agent = common.Address{} }, true},
		{"zero sell token", func(c *Config) { c.SellToken = common.Address{} }, true},
		{"zero buy token", func(c *Config) { c.BuyToken = common.Address{} }, true},
		{"same tokens", func(c *Config) { c.BuyToken = sellTok }, true},
		{"nil converter", func(c *Config) { c.Converter = nil }, true},
		{"nil template", func(c *Config) { c.Template = nil }, true},
		{"duration too short", func(c *Config) { c.Duration = 59 * time.Second }, true},
		{"duration at minimum", func(c *Config) { c.Duration = 60 * time.Second }, false},
		{"duration at maximum", func(c *Config) { c.Duration = 24 * time.Hour }, false},
		{"duration too long", func(c *Config) { c.Duration = 24*time.Hour + time.Second }, true},
		{"margin above ceiling", func(c *Config) { c.MarginBps = 1001 }, true},
		{"margin at ceiling", func(c *Config) { c.MarginBps = 1000 }, false},
		{"negative margin", func(c *Config) { c.MarginBps = -1 }, true},
		{"tolerance above ceiling", func(c *Config) { c.ToleranceBps = 1001 }, true},
		{"tolerance at ceiling", func(c *Config) { c.ToleranceBps = 1000 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewFactory(cfg, asset.NewBook(), util.RealClock{}, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got err=%v", tt.wantErr, err)
			}
		})
	}
}

func TestEstimateMarginZeroEqualsRaw(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)

	out, err := env.factory.EstimateTradeOutput(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if out.Int64() != 1000 {
		t.Errorf("out = %d, want 1000 (raw converter output)", out.Int64())
	}
}

func TestEstimateMarginMonotonic(t *testing.T) {
	amount := big.NewInt(10_000)
	var prev *big.Int
	for _, margin := range []int64{0, 1, 50, 100, 500, 1000} {
		env := newTestEnv(t, margin, 0)
		env.setQuote(t, 1000)
		out, err := env.factory.EstimateTradeOutput(amount)
		if err != nil {
			t.Fatalf("margin %d: %v", margin, err)
		}
		if prev != nil && out.Cmp(prev) > 0 {
			t.Errorf("margin %d: output %s increased over previous %s", margin, out.String(), prev.String())
		}
		prev = out
	}
}

// 1000 tokens at rate 1.0 into a 6-decimal stable, 1% margin: 990 out.
func TestEstimateScenario(t *testing.T) {
	env := newTestEnvDecimals(t, 100, 0, 18, 6)
	if err := env.table.Set(sellTok, buyTok, pow10i(18)); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	sellAmount := new(big.Int).Mul(big.NewInt(1000), pow10i(18))
	out, err := env.factory.EstimateTradeOutput(sellAmount)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(990), pow10i(6))
	if out.Cmp(want) != 0 {
		t.Errorf("out = %s, want %s", out.String(), want.String())
	}
}

func TestEstimateZeroAmount(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	if _, err := env.factory.EstimateTradeOutput(big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("err = %v, want ErrZeroAmount", err)
	}
	if _, err := env.factory.EstimateTradeOutput(nil); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("nil amount: err = %v, want ErrZeroAmount", err)
	}
}

func TestEstimateFromCurrentBalance(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10_000))

	out, err := env.factory.EstimateTradeOutputFromCurrentBalance()
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if out.Int64() != 1000 {
		t.Errorf("out = %d, want 1000", out.Int64())
	}
}

func TestPlaceOrderDustThreshold(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)

	// Exactly at the dust floor: refused
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10))
	if _, err := env.factory.PlaceOrder(agent, big.NewInt(1)); !errors.Is(err, ErrBelowDustThreshold) {
		t.Errorf("balance 10: err = %v, want ErrBelowDustThreshold", err)
	}

	// One unit above: accepted
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(1))
	if _, err := env.factory.PlaceOrder(agent, big.NewInt(1)); err != nil {
		t.Errorf("balance 11: unexpected err %v", err)
	}
}

func TestPlaceOrderAuthorization(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10_000))

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	if _, err := env.factory.PlaceOrder(stranger, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger: err = %v, want ErrUnauthorized", err)
	}
	if _, err := env.factory.PlaceOrder(manager, big.NewInt(1)); err != nil {
		t.Errorf("manager: unexpected err %v", err)
	}
}

func TestPlaceOrderMinBuyRequired(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10_000))

	if _, err := env.factory.PlaceOrder(agent, big.NewInt(0)); !errors.Is(err, ErrZeroMinBuy) {
		t.Errorf("zero: err = %v, want ErrZeroMinBuy", err)
	}
	if _, err := env.factory.PlaceOrder(agent, nil); !errors.Is(err, ErrZeroMinBuy) {
		t.Errorf("nil: err = %v, want ErrZeroMinBuy", err)
	}
}

func TestPlaceOrderMovesFunds(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)
	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10_000))

	sub := env.bus.Subscribe(8)

	order, err := env.factory.PlaceOrder(agent, big.NewInt(1))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if got := env.book.BalanceOf(sellTok, env.factory.Address()); got.Sign() != 0 {
		t.Errorf("factory balance after place = %s, want 0", got.String())
	}
	if got := env.book.BalanceOf(sellTok, order.Address()); got.Int64() != 10_000 {
		t.Errorf("order balance = %s, want 10000", got.String())
	}
	// Relayer holds an effectively unlimited approval from the order
	allowance := env.book.Allowance(sellTok, order.Address(), relayer)
	if allowance.Cmp(big.NewInt(10_000)) < 0 {
		t.Errorf("relayer allowance too low: %s", allowance.String())
	}

	select {
	case ev := <-sub:
		created, ok := ev.(events.OrderCreated)
		if !ok {
			t.Fatalf("event type = %T, want OrderCreated", ev)
		}
		if created.Order != order.Address() {
			t.Errorf("event order = %s, want %s", created.Order.Hex(), order.Address().Hex())
		}
		if created.Descriptor.SellAmount.Int64() != 10_000 {
			t.Errorf("event sell amount = %s, want 10000", created.Descriptor.SellAmount.String())
		}
	default:
		t.Fatal("no OrderCreated event published")
	}

	// The factory remembers its orders
	if _, ok := env.factory.Order(order.Address()); !ok {
		t.Error("order not found by handle")
	}
}

func TestPlaceOrderIndependentInstances(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.setQuote(t, 1000)

	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(10_000))
	first, err := env.factory.PlaceOrder(agent, big.NewInt(1))
	if err != nil {
		t.Fatalf("first place: %v", err)
	}

	env.book.Mint(sellTok, env.factory.Address(), big.NewInt(20_000))
	second, err := env.factory.PlaceOrder(agent, big.NewInt(1))
	if err != nil {
		t.Fatalf("second place: %v", err)
	}

	if first.Address() == second.Address() {
		t.Error("orders share an identity")
	}
	d1, _ := first.Describe()
	d2, _ := second.Describe()
	if d1.SellAmount.Cmp(d2.SellAmount) == 0 {
		t.Error("orders share state")
	}
}

package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/tresolabs/treso/pkg/swap"
)

type Trade struct {
	Agent   common.Address // treasury agent, receives bought tokens
	Manager common.Address // delegated operator allowed to place orders

	SellToken common.Address
	BuyToken  common.Address

	// Relayer is granted sell-token approval by each order so the
	// settlement venue can pull funds on fill.
	Relayer common.Address

	// DomainSeparator of the settlement venue, binds fingerprints to one
	// venue deployment.
	DomainSeparator common.Hash

	OrderDuration time.Duration
	MarginBps     int64
	ToleranceBps  int64
}

type Node struct {
	APIAddr    string
	P2PListen  string // multiaddr for the event publisher, empty = disabled
	LogFile    string
	JournalDir string
}

type Config struct {
	Trade Trade
	Node  Node
}

func Default() Config {
	return Config{
		Trade: Trade{
			// stETH -> DAI, the reference deployment pair
			SellToken: common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"),
			BuyToken:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			Relayer:   common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"),
			DomainSeparator: common.HexToHash(
				"0xc078f884a2676e1345748b1feace7b0abee5d00ecadb6e574dcdd109a63e8943"),
			OrderDuration: time.Hour,
			MarginBps:     100, // 1%
			ToleranceBps:  100, // 1%
		},
		Node: Node{
			APIAddr:    ":8080",
			P2PListen:  "",
			LogFile:    "data/tresod.log",
			JournalDir: "data/journal",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("TRADE_AGENT"); v != "" {
		cfg.Trade.Agent = common.HexToAddress(v)
	}
	if v := os.Getenv("TRADE_MANAGER"); v != "" {
		cfg.Trade.Manager = common.HexToAddress(v)
	}
	if v := os.Getenv("TRADE_SELL_TOKEN"); v != "" {
		cfg.Trade.SellToken = common.HexToAddress(v)
	}
	if v := os.Getenv("TRADE_BUY_TOKEN"); v != "" {
		cfg.Trade.BuyToken = common.HexToAddress(v)
	}
	if v := os.Getenv("TRADE_RELAYER"); v != "" {
		cfg.Trade.Relayer = common.HexToAddress(v)
	}
	if v := os.Getenv("TRADE_DOMAIN_SEPARATOR"); v != "" {
		cfg.Trade.DomainSeparator = common.HexToHash(v)
	}
	if v := os.Getenv("TRADE_ORDER_DURATION_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.Trade.OrderDuration = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("TRADE_MARGIN_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Trade.MarginBps = bps
		}
	}
	if v := os.Getenv("TRADE_TOLERANCE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Trade.ToleranceBps = bps
		}
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("P2P_LISTEN"); v != "" {
		cfg.Node.P2PListen = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("JOURNAL_DIR"); v != "" {
		cfg.Node.JournalDir = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks trade parameter sanity. A config that fails here must
// never reach the factory.
func (c Config) Validate() error {
	t := c.Trade
	if t.SellToken == (common.Address{}) {
		return fmt.Errorf("sell token address cannot be zero")
	}
	if t.BuyToken == (common.Address{}) {
		return fmt.Errorf("buy token address cannot be zero")
	}
	if t.SellToken == t.BuyToken {
		return fmt.Errorf("sell and buy token must differ")
	}
	if t.Relayer == (common.Address{}) {
		return fmt.Errorf("relayer address cannot be zero")
	}
	if t.OrderDuration < swap.MinOrderDuration || t.OrderDuration > swap.MaxOrderDuration {
		return fmt.Errorf("order duration %s outside [%s, %s]", t.OrderDuration, swap.MinOrderDuration, swap.MaxOrderDuration)
	}
	if t.MarginBps < 0 || t.MarginBps > swap.MaxConfigBps {
		return fmt.Errorf("margin %d bps outside [0, %d]", t.MarginBps, swap.MaxConfigBps)
	}
	if t.ToleranceBps < 0 || t.ToleranceBps > swap.MaxConfigBps {
		return fmt.Errorf("tolerance %d bps outside [0, %d]", t.ToleranceBps, swap.MaxConfigBps)
	}
	return nil
}

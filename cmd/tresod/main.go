package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tresolabs/treso/params"
	"github.com/tresolabs/treso/pkg/api"
	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/convert"
	"github.com/tresolabs/treso/pkg/events"
	"github.com/tresolabs/treso/pkg/rates"
	"github.com/tresolabs/treso/pkg/storage"
	"github.com/tresolabs/treso/pkg/swap"
	"github.com/tresolabs/treso/pkg/util"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Assets & rates ----
	registry := asset.NewRegistry()
	for _, t := range tradeTokens(cfg) {
		if err := registry.Register(t); err != nil {
			sugar.Fatalw("register_token_failed", "token", t.Symbol, "err", err)
		}
	}
	book := asset.NewBook()

	table := rates.NewTable()
	converter, err := convert.New(registry, table)
	if err != nil {
		sugar.Fatalw("converter_init_failed", "err", err)
	}

	// ---- Settlement core ----
	bus := events.NewBus()

	template, err := swap.NewTemplate(cfg.Trade.Agent, cfg.Trade.Relayer, cfg.Trade.DomainSeparator)
	if err != nil {
		sugar.Fatalw("order_template_failed", "err", err)
	}
	factory, err := swap.NewFactory(swap.Config{
		Agent:        cfg.Trade.Agent,
		Manager:      cfg.Trade.Manager,
		SellToken:    cfg.Trade.SellToken,
		BuyToken:     cfg.Trade.BuyToken,
		Converter:    converter,
		Template:     template,
		Duration:     cfg.Trade.OrderDuration,
		MarginBps:    cfg.Trade.MarginBps,
		ToleranceBps: cfg.Trade.ToleranceBps,
	}, book, util.RealClock{}, bus, sugar)
	if err != nil {
		sugar.Fatalw("factory_init_failed", "err", err)
	}

	// Local runs have no bridge; seed the factory balance directly.
	if amount := os.Getenv("DEV_MINT_SELL_TOKEN"); amount != "" {
		if v, ok := new(big.Int).SetString(amount, 10); ok {
			book.Mint(cfg.Trade.SellToken, factory.Address(), v)
			sugar.Infow("dev_mint", "token", cfg.Trade.SellToken.Hex(), "amount", v.String())
		}
	}

	// ---- Journal ----
	journal, err := storage.NewJournal(cfg.Node.JournalDir, sugar)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()
	go journal.Consume(ctx, bus.Subscribe(256))

	// ---- Event publisher ----
	if cfg.Node.P2PListen != "" {
		publisher, err := events.NewPublisher(ctx, events.PublisherConfig{
			ListenAddr: cfg.Node.P2PListen,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("publisher_init_failed", "err", err)
		}
		defer publisher.Close()
		go publisher.Run(ctx, bus.Subscribe(256))
	}

	// ---- API ----
	server := api.NewServer(factory, registry, table, []common.Address{cfg.Trade.Agent, cfg.Trade.Manager})
	go server.Hub().StreamEvents(ctx, bus.Subscribe(256))
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("tresod_started",
		"factory", factory.Address().Hex(),
		"sell_token", cfg.Trade.SellToken.Hex(),
		"buy_token", cfg.Trade.BuyToken.Hex(),
		"duration", cfg.Trade.OrderDuration.String(),
		"margin_bps", cfg.Trade.MarginBps,
		"tolerance_bps", cfg.Trade.ToleranceBps,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("tresod_shutdown")
}

// tradeTokens builds the registry entries for the configured pair.
// Defaults match the reference deployment (stETH -> DAI); override via
// SELL_TOKEN_SYMBOL / SELL_TOKEN_DECIMALS and the BUY_TOKEN_ variants
// when quoting 6-decimal stables.
func tradeTokens(cfg params.Config) []asset.Token {
	return []asset.Token{
		{
			Address:  cfg.Trade.SellToken,
			Symbol:   envOr("SELL_TOKEN_SYMBOL", "stETH"),
			Decimals: envDecimals("SELL_TOKEN_DECIMALS", 18),
		},
		{
			Address:  cfg.Trade.BuyToken,
			Symbol:   envOr("BUY_TOKEN_SYMBOL", "DAI"),
			Decimals: envDecimals("BUY_TOKEN_DECIMALS", 18),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDecimals(key string, fallback uint8) uint8 {
	if v := os.Getenv(key); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d >= 0 && d <= 36 {
			return uint8(d)
		}
	}
	return fallback
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ducminhle1904/virtual-autotrader/internal/api"
	"github.com/ducminhle1904/virtual-autotrader/internal/config"
	"github.com/ducminhle1904/virtual-autotrader/internal/engine"
	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
	"github.com/ducminhle1904/virtual-autotrader/internal/notifications"
	"github.com/ducminhle1904/virtual-autotrader/internal/pricing"
	"github.com/ducminhle1904/virtual-autotrader/internal/safety"
	"github.com/ducminhle1904/virtual-autotrader/internal/settings"
	tradesignal "github.com/ducminhle1904/virtual-autotrader/internal/signal"
	"github.com/ducminhle1904/virtual-autotrader/pkg/reporting"
)

func main() {
	var (
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		demo       = flag.Bool("demo", false, "Use static demo prices instead of Bybit market data")
		exportPath = flag.String("export", "", "Write the trade journal here on shutdown (.xlsx or .csv)")
		quiet      = flag.Bool("quiet", false, "Skip the status tables on startup and shutdown")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: true})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Close()

	if err := run(cfg, lg, *demo, *exportPath, *quiet); err != nil {
		lg.LogError("autotrader", err)
		lg.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *logger.Logger, demo bool, exportPath string, quiet bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("🚀 Virtual Autotrader Starting...")

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	health := monitoring.NewHealthChecker()
	bus := engine.NewBus()
	defer bus.Close()

	ecfg := engine.DefaultConfig()
	ecfg.RepriceInterval = cfg.Pricing.RepriceInterval
	ecfg.PriceFetchTimeout = cfg.Pricing.FetchTimeout

	eng, err := engine.New(ctx, store,
		engine.WithConfig(ecfg),
		engine.WithLogger(lg.With("engine")),
		engine.WithHealth(health),
		engine.WithBus(bus),
		engine.WithPriceSource(priceSource(cfg, lg, demo)),
		engine.WithFeeds(feeds(cfg, lg)...),
	)
	if err != nil {
		return err
	}

	relay := notifications.NewRelay(notifier(cfg, lg), lg.With("notifications"))
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go relay.Run(ctx, events)

	// recorded before Start so a persisted enabled flag can be restored
	if cfg.DetectorActive {
		if err := eng.SetDetectorActive(ctx, true); err != nil {
			lg.Warning("Could not record detector state: %v", err)
		}
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	if !quiet {
		reporting.WriteStatus(os.Stdout, eng.Snapshot())
	}

	server := api.NewServer(cfg.HTTPAddr, api.NewRouter(eng, health, lg.With("api")), lg)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx) }()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\n🛑 Shutdown signal received...")
	case err := <-serverErr:
		if err != nil {
			lg.Error("Control API stopped: %v", err)
		}
	}

	cancel()
	eng.Close()

	if !quiet {
		reporting.WriteStatus(os.Stdout, eng.Snapshot())
	}
	if path := exportTarget(cfg, exportPath); path != "" {
		if err := reporting.WriteJournal(eng.Journal(), eng.Snapshot().Account, path); err != nil {
			lg.Error("Failed to export journal: %v", err)
		} else {
			lg.Info("📁 Saved trade journal to: %s", path)
		}
	}
	fmt.Println("✅ Autotrader stopped successfully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (settings.Store, func(), error) {
	defaults := settings.Defaults(cfg.InitialBalance)

	switch cfg.Store.Kind {
	case config.StoreMemory:
		return settings.NewMemoryStore(defaults), func() {}, nil
	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		pool, err := settings.NewPool(connectCtx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := settings.NewPostgresStore(pool, cfg.Store.UserID, defaults)
		if err := store.EnsureSchema(connectCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		store, err := settings.NewFileStore(cfg.Store.StateFile, defaults)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func priceSource(cfg *config.Config, lg *logger.Logger, demo bool) pricing.Source {
	if demo {
		lg.Warning("⚠️ Demo mode: positions are repriced from static prices")
		return pricing.NewStaticSource(map[string]float64{"BTC": 60000, "ETH": 3000, "SOL": 150})
	}
	src := pricing.NewBybitSource(pricing.BybitConfig{Testnet: cfg.Pricing.Testnet, Quote: cfg.Pricing.Quote})
	lg.Info("📈 Prices from Bybit %s (%s quote)", src.Environment(), cfg.Pricing.Quote)
	return src
}

func feeds(cfg *config.Config, lg *logger.Logger) []tradesignal.Feed {
	var out []tradesignal.Feed
	if cfg.Signals.SourceURL != "" {
		breaker := safety.NewCircuitBreaker("signal-poll", safety.CircuitBreakerConfig{FailureThreshold: 5, Cooldown: 2 * time.Minute})
		breaker.OnStateChange(func(name string, from, to safety.CircuitBreakerState) {
			lg.Warning("circuit %s: %s -> %s", name, from, to)
		})
		request := tradesignal.Request{Symbols: cfg.Signals.Symbols, AnalysisTypes: cfg.Signals.AnalysisTypes}
		out = append(out, tradesignal.NewPoller("signal-poll",
			tradesignal.NewHTTPSource(cfg.Signals.SourceURL, nil),
			request,
			cfg.Signals.PollInterval,
			tradesignal.WithBreaker(breaker),
			tradesignal.WithPollerLogger(lg.With("poller")),
		))
	}
	if cfg.Signals.StreamURL != "" {
		out = append(out, tradesignal.NewStreamFeed("signal-stream", cfg.Signals.StreamURL,
			tradesignal.WithStreamLogger(lg.With("stream")),
		))
	}
	if len(out) == 0 {
		lg.Warning("⚠️ No signal feed configured; signals are only accepted on POST /api/signals")
	}
	return out
}

func notifier(cfg *config.Config, lg *logger.Logger) notifications.Notifier {
	if cfg.Notifications.TelegramToken != "" {
		return notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	}
	return notifications.NewLogNotifier(lg.With("alerts"))
}

func exportTarget(cfg *config.Config, flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if cfg.JournalExport == "auto" {
		return reporting.DefaultJournalPath(time.Now())
	}
	return cfg.JournalExport
}

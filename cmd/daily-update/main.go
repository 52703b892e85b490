package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"barvault/internal/cache"
	"barvault/internal/config"
	"barvault/internal/fetch"
	"barvault/internal/provider"
	"barvault/internal/update"
	"barvault/internal/util"
)

func main() {
	symbolsPath := flag.String("symbols", "reference/symbols.txt", "symbol universe file, one symbol per line")
	lookback := flag.Int("lookback", 0, "days of history for symbols with no coverage (0 = config default)")
	flag.Parse()

	cfgPath := "config/barvault.yaml"
	if p := os.Getenv("BARVAULT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	symbols, err := util.ReadSymbolsFile(*symbolsPath)
	if err != nil {
		log.Fatalf("failed to read symbols: %v", err)
	}

	barCache, err := cache.Open(cfg.Storage.CachePath, cache.Options{TTL: cfg.Fetch.TTL()})
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer barCache.Close()

	client := provider.NewAlpacaClient(cfg.Provider.APIKey, cfg.Provider.APISecret, cfg.Provider.DataURL)
	exec := fetch.NewExecutor(fetch.ExecutorConfig{
		MaxRetries:       cfg.Fetch.MaxRetries,
		BaseDelay:        cfg.Fetch.BaseDelay(),
		MaxDelay:         cfg.Fetch.MaxDelay(),
		AttemptTimeout:   cfg.Fetch.AttemptTimeout(),
		BreakerThreshold: cfg.Fetch.BreakerThreshold,
		BreakerCooldown:  cfg.Fetch.BreakerCooldown(),
	}, logger)
	coord := fetch.NewCoordinator(fetch.CoordinatorConfig{
		Cache:       barCache,
		Client:      client,
		Executor:    exec,
		Limiter:     util.NewRateLimiter(cfg.Fetch.RateLimitPerSec, 1),
		Concurrency: cfg.Fetch.BatchConcurrency,
		Logger:      logger,
	})

	lookbackDays := cfg.Update.LookbackDays
	if *lookback > 0 {
		lookbackDays = *lookback
	}

	upd := update.NewUpdater(coord, barCache, update.Config{
		Exchange:     cfg.Provider.Exchange,
		LookbackDays: lookbackDays,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting daily update", "symbols", len(symbols))
	if err := upd.Run(ctx, symbols); err != nil {
		slog.Error("daily update failed", "error", err)
		os.Exit(1)
	}

	st := coord.Statistics()
	slog.Info("daily update done", "apiCalls", st.APICalls, "hits", st.CacheHits, "misses", st.CacheMisses)
}

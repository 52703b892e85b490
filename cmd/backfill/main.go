package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"barvault/internal/backfill"
	"barvault/internal/cache"
	"barvault/internal/config"
	"barvault/internal/fetch"
	"barvault/internal/provider"
	"barvault/internal/util"
)

func main() {
	symbolsPath := flag.String("symbols", "reference/symbols.txt", "symbol universe file, one symbol per line")
	years := flag.Int("years", 0, "years of history to backfill (0 = config default)")
	batch := flag.Int("batch", 0, "symbols per batch between progress logs (0 = config default)")
	resume := flag.Bool("resume", false, "continue from an in-progress checkpoint")
	keepDone := flag.Bool("keep-done", false, "leave the completed checkpoint on disk")
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

	bfYears := cfg.Backfill.Years
	if *years > 0 {
		bfYears = *years
	}
	bfBatch := cfg.Backfill.BatchSize
	if *batch > 0 {
		bfBatch = *batch
	}

	mgr := backfill.NewManager(coord, backfill.NewStore(cfg.Storage.CheckpointPath), backfill.Config{
		Exchange:  cfg.Provider.Exchange,
		Years:     bfYears,
		BatchSize: bfBatch,
		Resume:    *resume,
		KeepDone:  *keepDone,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting backfill", "symbols", len(symbols), "years", bfYears, "resume", *resume)
	if err := mgr.Run(ctx, symbols); err != nil {
		st := coord.Statistics()
		slog.Error("backfill failed", "error", err, "apiCalls", st.APICalls, "hitRate", st.HitRate())
		os.Exit(1)
	}

	st := coord.Statistics()
	slog.Info("backfill done", "apiCalls", st.APICalls, "hits", st.CacheHits, "misses", st.CacheMisses)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"barvault/internal/backfill"
	"barvault/internal/cache"
	"barvault/internal/config"
	"barvault/internal/fetch"
	"barvault/internal/health"
	"barvault/internal/ops"
	"barvault/internal/provider"
	"barvault/internal/update"
	"barvault/internal/util"
)

func main() {
	symbolsPath := flag.String("symbols", "reference/symbols.txt", "symbol universe file, one symbol per line")
	updateSpec := flag.String("update-cron", "30 18 * * MON-FRI", "cron spec for the daily update")
	purgeSpec := flag.String("purge-cron", "0 3 * * SUN", "cron spec for the stale-row purge")
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

	upd := update.NewUpdater(coord, barCache, update.Config{
		Exchange:     cfg.Provider.Exchange,
		LookbackDays: cfg.Update.LookbackDays,
	}, logger)

	mon := health.NewMonitor(barCache, backfill.NewStore(cfg.Storage.CheckpointPath), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := cron.New()
	if _, err := sched.AddFunc(*updateSpec, func() {
		slog.Info("scheduled daily update starting", "symbols", len(symbols))
		if err := upd.Run(ctx, symbols); err != nil {
			slog.Error("scheduled daily update failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("invalid -update-cron: %v", err)
	}
	if _, err := sched.AddFunc(*purgeSpec, func() {
		n, err := barCache.PurgeStale(ctx, time.Now().Add(-90*24*time.Hour))
		if err != nil {
			slog.Error("scheduled purge failed", "error", err)
			return
		}
		slog.Info("scheduled purge done", "rows", n)
	}); err != nil {
		log.Fatalf("invalid -purge-cron: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := ops.NewServer(mon, coord, logger)

	slog.Info("barvaultd starting", "addr", addr, "updateCron", *updateSpec, "purgeCron", *purgeSpec)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		log.Fatalf("ops server error: %v", err)
	}
}

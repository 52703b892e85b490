package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"barvault/internal/backfill"
	"barvault/internal/cache"
	"barvault/internal/config"
	"barvault/internal/health"
	"barvault/internal/util"
)

func main() {
	cfgPath := "config/barvault.yaml"
	if p := os.Getenv("BARVAULT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Report goes to stdout; logs stay on stderr.
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	barCache, err := cache.Open(cfg.Storage.CachePath, cache.Options{TTL: cfg.Fetch.TTL()})
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer barCache.Close()

	mon := health.NewMonitor(barCache, backfill.NewStore(cfg.Storage.CheckpointPath), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := mon.Report(ctx)
	if err != nil {
		log.Fatalf("health report failed: %v", err)
	}

	writeReport(os.Stdout, rep)

	switch rep.Status {
	case health.StatusCritical:
		os.Exit(2)
	case health.StatusWarning:
		os.Exit(1)
	}
}

func writeReport(w io.Writer, rep *health.Report) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Fatalf("encoding report: %v", err)
	}
}

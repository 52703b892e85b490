package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barvault/internal/cache"
	"barvault/internal/config"
	"barvault/internal/export"
	"barvault/internal/util"
)

func main() {
	from := flag.String("from", "", "start date YYYY-MM-DD (default: 10 years ago)")
	to := flag.String("to", "", "end date YYYY-MM-DD (default: today)")
	outDir := flag.String("out", "", "export root directory (default: storage.export_dir)")
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

	dir := cfg.Storage.ExportDir
	if *outDir != "" {
		dir = *outDir
	}
	if dir == "" {
		log.Fatal("no export directory: set storage.export_dir or pass -out")
	}

	now := time.Now().UTC()
	fromDate := now.AddDate(-10, 0, 0)
	toDate := now
	if *from != "" {
		if fromDate, err = time.Parse("2006-01-02", *from); err != nil {
			log.Fatalf("invalid -from: %v", err)
		}
	}
	if *to != "" {
		if toDate, err = time.Parse("2006-01-02", *to); err != nil {
			log.Fatalf("invalid -to: %v", err)
		}
	}

	barCache, err := cache.Open(cfg.Storage.CachePath, cache.Options{TTL: cfg.Fetch.TTL()})
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer barCache.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := export.NewParquetExporter(dir, barCache, logger)
	n, err := e.ExportAll(ctx, fromDate, toDate)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	slog.Info("export finished", "rows", n, "dir", dir)
}

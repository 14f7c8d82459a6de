package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"cryptoPilot/config"
	"cryptoPilot/internal/adapters/logger"
	"cryptoPilot/internal/adapters/postgres"
	"cryptoPilot/internal/adapters/sqlite"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/risk"
	"cryptoPilot/internal/utils"
)

// export_report dumps the trade history and a performance metric summary for
// one symbol to CSV files.

type tradeStore interface {
	ports.TradeRepository
	Close() error
}

func main() {
	var (
		symbol  = flag.String("symbol", "ETHUSDT", "trading symbol to report on")
		limit   = flag.Int("limit", 10000, "maximum number of trades to export")
		balance = flag.Float64("balance", 10000, "initial balance used for metric computation")
		outDir  = flag.String("out", "data", "output directory for the CSV files")
	)
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Console: true})

	var repo tradeStore
	switch cfg.DBDriver {
	case config.DriverPostgres:
		repo, err = postgres.NewRepository(postgres.Config{DSN: cfg.PostgresDSN, Logger: appLogger})
	default:
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: cfg.SQLitePath, Logger: appLogger})
	}
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to open database")
		log.Fatalf("FATAL: Failed to open database: %v", err)
	}
	defer repo.Close()

	trades, err := repo.FindBySymbol(ctx, *symbol, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to load trades", map[string]interface{}{"symbol": *symbol})
		log.Fatalf("FATAL: Failed to load trades: %v", err)
	}
	if len(trades) == 0 {
		appLogger.Warn(ctx, "No trades found, nothing to export", map[string]interface{}{"symbol": *symbol})
		return
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("FATAL: Failed to create output directory %s: %v", *outDir, err)
	}

	now := time.Now().UTC()
	tradesFile := utils.ReportFilename(*outDir, "trades_"+*symbol, now)
	if err := utils.WriteTradesToCSV(trades, tradesFile); err != nil {
		appLogger.Error(ctx, err, "Failed to write trades CSV")
		log.Fatalf("FATAL: Failed to write trades CSV: %v", err)
	}
	appLogger.Info(ctx, "Trades exported", map[string]interface{}{"file": tradesFile, "count": len(trades)})

	metrics := risk.ComputeMetrics(trades, *balance)
	metricsFile := utils.ReportFilename(*outDir, "metrics_"+*symbol, now)
	if err := utils.WriteMetricsToCSV(metrics, metricsFile); err != nil {
		appLogger.Error(ctx, err, "Failed to write metrics CSV")
		log.Fatalf("FATAL: Failed to write metrics CSV: %v", err)
	}
	appLogger.Info(ctx, "Metrics exported", map[string]interface{}{
		"file":     metricsFile,
		"trades":   metrics.TotalTrades,
		"winRate":  metrics.WinRate,
		"totalPnl": metrics.TotalProfit,
	})
}

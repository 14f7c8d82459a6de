package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"cryptoPilot/config"
	"cryptoPilot/internal/adapters/advisor/openai"
	"cryptoPilot/internal/adapters/binanceclient"
	"cryptoPilot/internal/adapters/coingecko"
	"cryptoPilot/internal/adapters/logger"
	"cryptoPilot/internal/adapters/postgres"
	"cryptoPilot/internal/adapters/rediscache"
	"cryptoPilot/internal/adapters/sqlite"
	"cryptoPilot/internal/app"
	"cryptoPilot/internal/bots"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/recommendation"
	"cryptoPilot/internal/risk"
	"cryptoPilot/internal/sltp"
)

// repository is the combined storage surface the platform needs; both
// database adapters implement it.
type repository interface {
	ports.PositionRepository
	ports.TradeRepository
	ports.PortfolioRepository
	ports.BotRepository
	ports.RecommendationRepository
	Close() error
}

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	var repo repository
	switch cfg.DBDriver {
	case config.DriverPostgres:
		repo, err = postgres.NewRepository(postgres.Config{DSN: cfg.PostgresDSN, Logger: appLogger})
	default:
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: cfg.SQLitePath, Logger: appLogger})
	}
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"driver": cfg.DBDriver})

	// 4. Initialize Exchange Client (Binance Adapter)
	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized")

	// 5. Initialize Market Data Provider and Quote Cache
	market, err := coingecko.New(coingecko.Config{
		BaseURL:         cfg.MarketDataBaseURL,
		APIKey:          cfg.MarketDataAPIKey,
		RateLimitPerSec: cfg.MarketDataRPS,
		Logger:          appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market data provider")
		log.Fatalf("FATAL: Failed to initialize market data provider: %v", err)
	}

	var cache ports.QuoteCache
	if cfg.RedisAddr != "" {
		redisCache, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.QuoteCacheTTL,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to connect to Redis quote cache")
			log.Fatalf("FATAL: Failed to connect to Redis quote cache: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		appLogger.Warn(ctx, "REDIS_ADDR not set, running without a quote cache")
	}

	// 6. Initialize Advisor Client
	advisorClient, err := openai.New(openai.Config{
		BaseURL:         cfg.AdvisorBaseURL,
		APIKey:          cfg.AdvisorAPIKey,
		DefaultModel:    cfg.AdvisorModel,
		RateLimitPerSec: cfg.AdvisorRPS,
		Logger:          appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize advisor client")
		log.Fatalf("FATAL: Failed to initialize advisor client: %v", err)
	}
	appLogger.Info(ctx, "Advisor client initialized", map[string]interface{}{"model": cfg.AdvisorModel})

	// 7. Risk Manager and SL/TP Tracker
	riskMgr := risk.NewRiskManager(risk.RiskConfig{
		MaxPositionSize:   cfg.MaxPositionSize,
		MaxLeverage:       cfg.MaxLeverage,
		MaxDrawdown:       cfg.MaxDrawdown,
		MaxDailyLoss:      cfg.MaxDailyLoss,
		MaxOpenPositions:  cfg.MaxOpenPositions,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
		MaxDailyTrades:    cfg.MaxDailyTrades,
	})

	tracker, err := sltp.New(sltp.Config{
		EntryTolerance:     cfg.EntryTolerance,
		EMAFastPeriod:      cfg.EMAFastPeriod,
		EMASlowPeriod:      cfg.EMASlowPeriod,
		RSIPeriod:          cfg.RSIPeriod,
		RSIOverbought:      cfg.RSIOverbought,
		RSIOversold:        cfg.RSIOversold,
		TrailingActivation: cfg.TrailingActivation,
		Levels: sltp.LevelConfig{
			ATRPeriod:         cfg.ATRPeriod,
			ATRMultiplier:     cfg.ATRMultiplier,
			SwingLookback:     cfg.SwingLookback,
			StopLossPercent:   cfg.StopLossPercent,
			TakeProfitPercent: cfg.TakeProfitPercent,
		},
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize SL/TP tracker")
		log.Fatalf("FATAL: Failed to initialize SL/TP tracker: %v", err)
	}

	// 8. Core Services
	botSvc, err := bots.NewService(bots.Config{
		Repo:       repo,
		Portfolios: repo,
		RiskMgr:    riskMgr,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize bot service")
		log.Fatalf("FATAL: Failed to initialize bot service: %v", err)
	}

	recSvc, err := recommendation.NewService(recommendation.Config{
		Repo:          repo,
		Positions:     repo,
		Bots:          repo,
		Exchange:      exchange,
		Market:        market,
		Advisor:       advisorClient,
		Logger:        appLogger,
		SignalTTL:     cfg.SignalTTL,
		EntryWindow:   cfg.EntryWindow,
		KlineInterval: cfg.KlineInterval,
		QuoteCurrency: cfg.QuoteCurrency,
		ATRPeriod:     cfg.ATRPeriod,
		RSIPeriod:     cfg.RSIPeriod,
		EMAFastPeriod: cfg.EMAFastPeriod,
		EMASlowPeriod: cfg.EMASlowPeriod,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize recommendation service")
		log.Fatalf("FATAL: Failed to initialize recommendation service: %v", err)
	}

	// 9. Orchestrator
	orchestrator, err := app.New(app.Config{
		Logger:               appLogger,
		Exchange:             exchange,
		Positions:            repo,
		Trades:               repo,
		Bots:                 botSvc,
		Recs:                 recSvc,
		Market:               market,
		Cache:                cache,
		Tracker:              tracker,
		RiskMgr:              riskMgr,
		TickInterval:         cfg.TickInterval,
		PollCheckInterval:    cfg.PollCheckInterval,
		QuoteRefreshInterval: cfg.QuoteRefreshInterval,
		KlineInterval:        cfg.KlineInterval,
		QuoteCurrency:        cfg.QuoteCurrency,
		QuoteAssets:          cfg.QuoteAssets,
		AutoAcceptConfidence: cfg.AutoAcceptConfidence,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	// 10. Run until shutdown
	if err := orchestrator.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Orchestrator exited with error")
		log.Fatalf("FATAL: Orchestrator exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

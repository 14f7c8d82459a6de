package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Database
	DBDriver    string // sqlite or postgres
	SQLitePath  string
	PostgresDSN string

	// Redis quote cache (optional: empty addr disables the cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	QuoteCacheTTL time.Duration

	// Market data provider
	MarketDataBaseURL string
	MarketDataAPIKey  string
	MarketDataRPS     float64 // Requests per second against the provider
	QuoteCurrency     string
	QuoteAssets       []string // Assets kept warm in the cache

	// Advisor (LLM signal provider)
	AdvisorBaseURL string
	AdvisorAPIKey  string
	AdvisorModel   string
	AdvisorRPS     float64

	// Orchestrator loops
	TickInterval         time.Duration
	PollCheckInterval    time.Duration
	QuoteRefreshInterval time.Duration
	KlineInterval        string
	SignalTTL            time.Duration
	EntryWindow          time.Duration
	AutoAcceptConfidence float64 // 0 disables automatic signal acceptance

	// Position tracking
	EntryTolerance     float64 // Max fractional distance from the planned entry
	EMAFastPeriod      int
	EMASlowPeriod      int
	RSIPeriod          int
	RSIOverbought      float64
	RSIOversold        float64
	TrailingActivation float64
	ATRPeriod          int
	ATRMultiplier      float64
	SwingLookback      int
	StopLossPercent    float64
	TakeProfitPercent  float64

	// Risk limits
	MaxPositionSize  float64
	MaxLeverage      int
	MaxDrawdown      float64
	MaxDailyLoss     float64 // Fraction of balance
	MaxOpenPositions int
	MaxDailyTrades   int

	// Logging
	LogLevel   string
	LogConsole bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Exchange API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Database
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", DriverSQLite))
	switch cfg.DBDriver {
	case DriverSQLite:
		cfg.SQLitePath = getEnv("SQLITE_PATH", "./data/crypto_pilot.db")
	case DriverPostgres:
		cfg.PostgresDSN = getEnv("POSTGRES_DSN", "")
		if cfg.PostgresDSN == "" {
			errs = append(errs, "POSTGRES_DSN must be set when DB_DRIVER is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported DB_DRIVER %q (use %s or %s)", cfg.DBDriver, DriverSQLite, DriverPostgres))
	}

	// Redis quote cache
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.RedisPrefix = getEnv("REDIS_PREFIX", "cryptopilot")
	cfg.QuoteCacheTTL = minutes(getEnvAsInt("QUOTE_CACHE_TTL_MINUTES", 5))
	if cfg.QuoteCacheTTL <= 0 {
		errs = append(errs, "QUOTE_CACHE_TTL_MINUTES must be positive")
	}

	// Market data provider
	cfg.MarketDataBaseURL = getEnv("COINGECKO_BASE_URL", "")
	cfg.MarketDataAPIKey = getEnv("COINGECKO_API_KEY", "")
	cfg.MarketDataRPS = getEnvAsFloat("COINGECKO_RPS", 0.5)
	if cfg.MarketDataRPS <= 0 {
		errs = append(errs, "COINGECKO_RPS must be positive")
	}
	cfg.QuoteCurrency = strings.ToUpper(getEnv("QUOTE_CURRENCY", "USDT"))
	cfg.QuoteAssets = splitList(getEnv("QUOTE_ASSETS", "BTC,ETH"))

	// Advisor
	cfg.AdvisorBaseURL = getEnv("ADVISOR_BASE_URL", "")
	cfg.AdvisorAPIKey = getEnv("ADVISOR_API_KEY", "")
	cfg.AdvisorModel = getEnv("ADVISOR_MODEL", "gpt-4o-mini")
	cfg.AdvisorRPS = getEnvAsFloat("ADVISOR_RPS", 0.5)
	if cfg.AdvisorAPIKey == "" {
		errs = append(errs, "ADVISOR_API_KEY must be set")
	}
	if cfg.AdvisorRPS <= 0 {
		errs = append(errs, "ADVISOR_RPS must be positive")
	}

	// Orchestrator loops
	cfg.TickInterval = seconds(getEnvAsInt("TICK_INTERVAL_SECONDS", 15))
	cfg.PollCheckInterval = seconds(getEnvAsInt("POLL_CHECK_INTERVAL_SECONDS", 60))
	cfg.QuoteRefreshInterval = minutes(getEnvAsInt("QUOTE_REFRESH_MINUTES", 60))
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	cfg.SignalTTL = minutes(getEnvAsInt("SIGNAL_TTL_MINUTES", 60))
	cfg.EntryWindow = minutes(getEnvAsInt("ENTRY_WINDOW_MINUTES", 30))
	if cfg.TickInterval <= 0 || cfg.PollCheckInterval <= 0 || cfg.QuoteRefreshInterval <= 0 {
		errs = append(errs, "orchestrator intervals must be positive")
	}
	if cfg.SignalTTL <= 0 || cfg.EntryWindow <= 0 {
		errs = append(errs, "SIGNAL_TTL_MINUTES and ENTRY_WINDOW_MINUTES must be positive")
	}

	cfg.AutoAcceptConfidence, err = getEnvAsFloatRequired("AUTO_ACCEPT_CONFIDENCE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid AUTO_ACCEPT_CONFIDENCE: %v", err))
	} else if cfg.AutoAcceptConfidence < 0 || cfg.AutoAcceptConfidence > 1 {
		errs = append(errs, "AUTO_ACCEPT_CONFIDENCE must be between 0.0 and 1.0")
	}

	// Position tracking
	cfg.EntryTolerance = getEnvAsFloat("ENTRY_TOLERANCE", 0.005)
	if cfg.EntryTolerance <= 0 || cfg.EntryTolerance >= 1 {
		errs = append(errs, "ENTRY_TOLERANCE must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.EMAFastPeriod = getEnvAsInt("EMA_FAST_PERIOD", 9)
	cfg.EMASlowPeriod = getEnvAsInt("EMA_SLOW_PERIOD", 21)
	if cfg.EMAFastPeriod <= 0 || cfg.EMASlowPeriod <= 0 || cfg.EMAFastPeriod >= cfg.EMASlowPeriod {
		errs = append(errs, "EMA periods must be positive with EMA_FAST_PERIOD < EMA_SLOW_PERIOD")
	}
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", 70.0)
	cfg.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", 30.0)
	if cfg.RSIPeriod <= 0 {
		errs = append(errs, "RSI_PERIOD must be positive")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (RSI_OVERBOUGHT must be > RSI_OVERSOLD, between 0-100)")
	}
	cfg.TrailingActivation = getEnvAsFloat("TRAILING_ACTIVATION", 0.015)
	if cfg.TrailingActivation <= 0 {
		errs = append(errs, "TRAILING_ACTIVATION must be positive")
	}
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	cfg.ATRMultiplier = getEnvAsFloat("ATR_MULTIPLIER", 2.0)
	cfg.SwingLookback = getEnvAsInt("SWING_LOOKBACK", 5)
	if cfg.ATRPeriod <= 0 || cfg.ATRMultiplier <= 0 || cfg.SwingLookback <= 0 {
		errs = append(errs, "ATR_PERIOD, ATR_MULTIPLIER and SWING_LOOKBACK must be positive")
	}

	cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	} else if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 1.0 {
		errs = append(errs, "STOP_LOSS must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.TakeProfitPercent, err = getEnvAsFloatRequired("TAKE_PROFIT", 0.06)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT: %v", err))
	} else if cfg.TakeProfitPercent <= 0 {
		errs = append(errs, "TAKE_PROFIT must be positive")
	}

	// Risk limits
	cfg.MaxPositionSize = getEnvAsFloat("MAX_POSITION_SIZE", 10.0)
	cfg.MaxLeverage = getEnvAsInt("MAX_LEVERAGE", 20)
	cfg.MaxDrawdown = getEnvAsFloat("MAX_DRAWDOWN", 0.1)
	cfg.MaxDailyLoss = getEnvAsFloat("MAX_DAILY_LOSS", 0.05)
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 5)
	cfg.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 50)
	if cfg.MaxPositionSize <= 0 || cfg.MaxLeverage <= 0 || cfg.MaxOpenPositions <= 0 || cfg.MaxDailyTrades <= 0 {
		errs = append(errs, "risk limits must be positive")
	}
	if cfg.MaxDrawdown <= 0 || cfg.MaxDrawdown >= 1 || cfg.MaxDailyLoss <= 0 || cfg.MaxDailyLoss >= 1 {
		errs = append(errs, "MAX_DRAWDOWN and MAX_DAILY_LOSS must be between 0.0 and 1.0 (exclusive)")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.LogConsole = getEnvAsBool("LOG_CONSOLE", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// splitList parses a comma-separated list, trimming whitespace and upper-casing.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

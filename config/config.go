package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"aiInvestSim/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Decision source (OpenAI-compatible API)
	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	// Binance API (public price endpoints work with empty keys)
	BinanceAPIKey    string
	BinanceSecretKey string

	// Simulation Parameters
	InitialCapital        decimal.Decimal
	MaxLeverage           int
	MaintenanceMarginRate decimal.Decimal // Fraction of notional, e.g. 0.05
	CashReservePct        decimal.Decimal // Minimum cash fraction of equity
	MarginUsageCap        decimal.Decimal // Maximum margin fraction of equity

	// Timing
	CycleInterval   time.Duration // Time between decision cycles
	ScanInterval    time.Duration // Risk monitor scan cadence
	DecisionTimeout time.Duration
	PriceTimeout    time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Decision source
	cfg.AIBaseURL = getEnv("AI_BASE_URL", "https://api.openai.com/v1")
	cfg.AIAPIKey = getEnv("AI_API_KEY", "")
	cfg.AIModel = getEnv("AI_MODEL", "gpt-4o")
	if cfg.AIAPIKey == "" {
		errs = append(errs, "AI_API_KEY must be set")
	}

	// Binance API
	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")

	// Simulation Parameters
	cfg.InitialCapital, err = getEnvAsDecimal("INITIAL_CAPITAL", "10000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if !cfg.InitialCapital.IsPositive() {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	cfg.MaxLeverage, err = getEnvAsIntRequired("MAX_LEVERAGE", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_LEVERAGE: %v", err))
	} else if cfg.MaxLeverage <= 0 {
		errs = append(errs, "MAX_LEVERAGE must be positive")
	}

	cfg.MaintenanceMarginRate, err = getEnvAsDecimal("MAINTENANCE_MARGIN_RATE", "0.05")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAINTENANCE_MARGIN_RATE: %v", err))
	} else if !cfg.MaintenanceMarginRate.IsPositive() || cfg.MaintenanceMarginRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "MAINTENANCE_MARGIN_RATE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.CashReservePct, err = getEnvAsDecimal("CASH_RESERVE_PCT", "0.10")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CASH_RESERVE_PCT: %v", err))
	} else if cfg.CashReservePct.IsNegative() || cfg.CashReservePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "CASH_RESERVE_PCT must be between 0.0 and 1.0")
	}

	cfg.MarginUsageCap, err = getEnvAsDecimal("MARGIN_USAGE_CAP", "0.25")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_USAGE_CAP: %v", err))
	} else if !cfg.MarginUsageCap.IsPositive() || cfg.MarginUsageCap.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "MARGIN_USAGE_CAP must be between 0.0 (exclusive) and 1.0")
	}

	// Timing
	cycleMinutes := getEnvAsInt("CYCLE_INTERVAL_MINUTES", 60)
	if cycleMinutes <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_MINUTES must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleMinutes) * time.Minute

	scanSeconds := getEnvAsInt("SCAN_INTERVAL_SECONDS", 60)
	if scanSeconds <= 0 {
		errs = append(errs, "SCAN_INTERVAL_SECONDS must be positive")
	}
	cfg.ScanInterval = time.Duration(scanSeconds) * time.Second

	decisionSeconds := getEnvAsInt("DECISION_TIMEOUT_SECONDS", 60)
	if decisionSeconds <= 0 {
		errs = append(errs, "DECISION_TIMEOUT_SECONDS must be positive")
	}
	cfg.DecisionTimeout = time.Duration(decisionSeconds) * time.Second

	priceSeconds := getEnvAsInt("PRICE_TIMEOUT_SECONDS", 15)
	if priceSeconds <= 0 {
		errs = append(errs, "PRICE_TIMEOUT_SECONDS must be positive")
	}
	cfg.PriceTimeout = time.Duration(priceSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/invest_sim.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
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

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RiskConfig holds the risk limits enforced by the coordinator and the
// portfolio agent. All percentages are fractions of total equity.
type RiskConfig struct {
	MaxSinglePositionPct   float64 // Max share of equity in one position (0.01-0.5)
	MinCashRatio           float64 // Cash floor that is never allocated (0-0.9)
	MaxTotalStockPct       float64 // Max share of equity across all positions (0.1-1.0)
	SuddenMoveThresholdPct float64 // One-tick move that pauses the monitor (1.0-30.0, percent)
	MaxDailyTrades         int     // New buys stop once this many fills happened today (1-100)
	StopLossMode           string  // "user_approval" or "auto"
}

// RateConfig holds the upstream rate-limit budget.
type RateConfig struct {
	QueryPerSec int
	OrderPerSec int
	MinInterval time.Duration // Minimum spacing between requests of the same kind
}

// CacheConfig holds cache sizing and the optional shared tiers.
type CacheConfig struct {
	L1MaxSize int
	RedisAddr string // Empty disables the L2 tier
	RedisDB   int
	DiskPath  string // Empty disables the L3 tier
}

// PipelineConfig bounds concurrent analysis sessions.
type PipelineConfig struct {
	MaxConcurrent int
	SlotTimeout   time.Duration
}

// ExchangeConfig holds broker and crypto-exchange credentials.
type ExchangeConfig struct {
	Mock         bool // Route all orders to the simulator
	AppKey       string
	AppSecret    string
	AccountNo    string
	BaseURL      string
	CryptoKey    string
	CryptoSecret string
	CryptoURL    string
}

// ReasonerConfig holds the LLM endpoint used for analysis narration.
type ReasonerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BackupConfig holds the S3-compatible snapshot target.
type BackupConfig struct {
	Enabled       bool
	Bucket        string
	Endpoint      string // Empty means the default AWS endpoint
	Region        string
	AccessKey     string // Empty falls back to the ambient credential chain
	SecretKey     string
	Schedule      string // Cron expression
	RetentionDays int    // 0 keeps every archive
}

// Config holds application configuration
type Config struct {
	DataDir       string
	LogLevel      string
	Port          int
	DevMode       bool
	HolidayAPIURL string // Empty disables holiday fetching

	Risk     RiskConfig
	Rate     RateConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
	Exchange ExchangeConfig
	Reasoner ReasonerConfig
	Backup   BackupConfig
}

// DefaultCacheTTLs maps a cache key prefix to its default TTL. Callers may
// override per Set call; unknown prefixes fall back to DefaultTTL.
var DefaultCacheTTLs = map[string]time.Duration{
	"stock_info":      3 * time.Second,
	"orderbook":       2 * time.Second,
	"daily_chart":     time.Hour,
	"cash_balance":    30 * time.Second,
	"account_balance": 5 * time.Second,
	"pending_orders":  5 * time.Second,
	"filled_orders":   10 * time.Second,
	"stock_list":      24 * time.Hour,
	"holidays":        24 * time.Hour,
}

// DefaultTTL is used for keys whose prefix has no entry in DefaultCacheTTLs.
const DefaultTTL = 60 * time.Second

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKPILOT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		HolidayAPIURL: getEnv("HOLIDAY_API_URL", ""),
		Risk: RiskConfig{
			MaxSinglePositionPct:   getEnvAsFloat("RISK_MAX_SINGLE_POSITION_PCT", 0.15),
			MinCashRatio:           getEnvAsFloat("RISK_MIN_CASH_RATIO", 0.20),
			MaxTotalStockPct:       getEnvAsFloat("RISK_MAX_TOTAL_STOCK_PCT", 0.80),
			SuddenMoveThresholdPct: getEnvAsFloat("RISK_SUDDEN_MOVE_THRESHOLD_PCT", 10.0),
			MaxDailyTrades:         getEnvAsInt("RISK_MAX_DAILY_TRADES", 10),
			StopLossMode:           getEnv("RISK_STOP_LOSS_MODE", "user_approval"),
		},
		Rate: RateConfig{
			QueryPerSec: getEnvAsInt("RATE_QUERY_PER_SEC", 5),
			OrderPerSec: getEnvAsInt("RATE_ORDER_PER_SEC", 5),
			MinInterval: time.Duration(getEnvAsFloat("RATE_MIN_INTERVAL_SEC", 0.7) * float64(time.Second)),
		},
		Cache: CacheConfig{
			L1MaxSize: getEnvAsInt("CACHE_L1_MAX_SIZE", 1000),
			RedisAddr: getEnv("CACHE_REDIS_ADDR", ""),
			RedisDB:   getEnvAsInt("CACHE_REDIS_DB", 0),
			DiskPath:  getEnv("CACHE_DISK_PATH", filepath.Join(absDataDir, "cache.db")),
		},
		Pipeline: PipelineConfig{
			MaxConcurrent: getEnvAsInt("PIPELINE_MAX_CONCURRENT", 4),
			SlotTimeout:   time.Duration(getEnvAsInt("PIPELINE_SLOT_TIMEOUT_SEC", 60)) * time.Second,
		},
		Exchange: ExchangeConfig{
			Mock:         getEnvAsBool("EXCHANGE_MOCK", false),
			AppKey:       getEnv("KIWOOM_APP_KEY", ""),
			AppSecret:    getEnv("KIWOOM_APP_SECRET", ""),
			AccountNo:    getEnv("KIWOOM_ACCOUNT_NO", ""),
			BaseURL:      getEnv("KIWOOM_BASE_URL", "https://api.kiwoom.com"),
			CryptoKey:    getEnv("UPBIT_ACCESS_KEY", ""),
			CryptoSecret: getEnv("UPBIT_SECRET_KEY", ""),
			CryptoURL:    getEnv("UPBIT_BASE_URL", "https://api.upbit.com"),
		},
		Reasoner: ReasonerConfig{
			BaseURL: getEnv("REASONER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("REASONER_API_KEY", ""),
			Model:   getEnv("REASONER_MODEL", "gpt-4o-mini"),
		},
		Backup: BackupConfig{
			Enabled:       getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			Schedule:      getEnv("BACKUP_SCHEDULE", "30 3 * * *"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are inside their allowed ranges.
func (c *Config) Validate() error {
	r := c.Risk
	if r.MaxSinglePositionPct < 0.01 || r.MaxSinglePositionPct > 0.5 {
		return fmt.Errorf("risk.max_single_position_pct must be in [0.01, 0.5], got %v", r.MaxSinglePositionPct)
	}
	if r.MinCashRatio < 0 || r.MinCashRatio > 0.9 {
		return fmt.Errorf("risk.min_cash_ratio must be in [0, 0.9], got %v", r.MinCashRatio)
	}
	if r.MaxTotalStockPct < 0.1 || r.MaxTotalStockPct > 1.0 {
		return fmt.Errorf("risk.max_total_stock_pct must be in [0.1, 1.0], got %v", r.MaxTotalStockPct)
	}
	if r.SuddenMoveThresholdPct < 1.0 || r.SuddenMoveThresholdPct > 30.0 {
		return fmt.Errorf("risk.sudden_move_threshold_pct must be in [1.0, 30.0], got %v", r.SuddenMoveThresholdPct)
	}
	if r.MaxDailyTrades < 1 || r.MaxDailyTrades > 100 {
		return fmt.Errorf("risk.max_daily_trades must be in [1, 100], got %d", r.MaxDailyTrades)
	}
	if r.StopLossMode != "user_approval" && r.StopLossMode != "auto" {
		return fmt.Errorf("risk.stop_loss_mode must be user_approval or auto, got %q", r.StopLossMode)
	}
	if c.Rate.QueryPerSec < 1 || c.Rate.OrderPerSec < 1 {
		return fmt.Errorf("rate limits must be at least 1/sec")
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be at least 1")
	}
	if !c.Exchange.Mock && (c.Exchange.AppKey == "" || c.Exchange.AppSecret == "") {
		return fmt.Errorf("broker credentials required unless EXCHANGE_MOCK=true")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

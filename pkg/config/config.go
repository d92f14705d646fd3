package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// All environment variables are read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Upstream feed
	Feed FeedConfig

	// Ingestion
	Ingest IngestConfig

	// Trading calendar
	Market MarketConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection pool. Kept small on purpose: the ingestion cadence is
	// low-frequency and the upstream database has a tight connection budget.
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// FeedConfig holds upstream quote feed configuration.
type FeedConfig struct {
	BaseURL    string
	FuturesURL string // optional 3-month futures endpoint; empty disables
	StreamURL  string // optional websocket endpoint; empty disables streaming
	Instrument string // instrument the feed serves, e.g. "aluminum"
	Timeout    time.Duration
	RatePerSec int // upstream request budget
	Source     string
}

// IngestConfig holds ingestion scheduler configuration.
type IngestConfig struct {
	OpenInterval   time.Duration // polling cadence while the session is open
	ClosedInterval time.Duration // polling cadence outside trading hours
	DedupLookback  time.Duration
}

// MarketConfig holds trading calendar policy.
type MarketConfig struct {
	Timezone    string // IANA name, e.g. "Asia/Kolkata"
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int // session is live through the end of this minute
	TradingDays []time.Weekday
}

// Load reads configuration from environment variables.
// This is the only function that calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8086"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 5),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Feed: FeedConfig{
			BaseURL:    getEnv("FEED_BASE_URL", ""),
			FuturesURL: getEnv("FEED_FUTURES_URL", ""),
			StreamURL:  getEnv("FEED_STREAM_URL", ""),
			Instrument: getEnv("FEED_INSTRUMENT", "aluminum"),
			Timeout:    getEnvAsDuration("FEED_TIMEOUT", "5s"),
			RatePerSec: getEnvAsInt("FEED_RATE_PER_SEC", 2),
			Source:     getEnv("FEED_SOURCE", "scheduled-poll"),
		},

		Ingest: IngestConfig{
			OpenInterval:   getEnvAsDuration("INGEST_OPEN_INTERVAL", "1m"),
			ClosedInterval: getEnvAsDuration("INGEST_CLOSED_INTERVAL", "5m"),
			DedupLookback:  getEnvAsDuration("INGEST_DEDUP_LOOKBACK", "10m"),
		},

		Market: MarketConfig{
			Timezone:    getEnv("MARKET_TIMEZONE", "Asia/Kolkata"),
			StartHour:   getEnvAsInt("MARKET_START_HOUR", 9),
			StartMinute: getEnvAsInt("MARKET_START_MINUTE", 0),
			EndHour:     getEnvAsInt("MARKET_END_HOUR", 23),
			EndMinute:   getEnvAsInt("MARKET_END_MINUTE", 30),
			TradingDays: getEnvAsWeekdays("MARKET_TRADING_DAYS", "Mon,Tue,Wed,Thu,Fri"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Feed.BaseURL == "" {
		return fmt.Errorf("FEED_BASE_URL is required")
	}

	if c.Market.StartHour < 0 || c.Market.StartHour > 23 {
		return fmt.Errorf("MARKET_START_HOUR out of range: %d", c.Market.StartHour)
	}
	if c.Market.EndHour < 0 || c.Market.EndHour > 23 {
		return fmt.Errorf("MARKET_END_HOUR out of range: %d", c.Market.EndHour)
	}
	if c.Market.EndMinute < 0 || c.Market.EndMinute > 59 {
		return fmt.Errorf("MARKET_END_MINUTE out of range: %d", c.Market.EndMinute)
	}
	if len(c.Market.TradingDays) == 0 {
		return fmt.Errorf("MARKET_TRADING_DAYS must name at least one day")
	}

	if c.Feed.Timeout < 3*time.Second || c.Feed.Timeout > 10*time.Second {
		return fmt.Errorf("FEED_TIMEOUT must be between 3s and 10s, got %s", c.Feed.Timeout)
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func getEnvAsWeekdays(key string, defaultValue string) []time.Weekday {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	days := parseWeekdays(valueStr)
	if len(days) == 0 {
		days = parseWeekdays(defaultValue)
	}

	return days
}

func parseWeekdays(s string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		if day, ok := weekdayNames[name]; ok {
			days = append(days, day)
		}
	}
	return days
}

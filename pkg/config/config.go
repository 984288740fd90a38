package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trading bridge.
type Config struct {
	Port string `yaml:"port"`

	// Execution mode: "simulated" or "live".
	Mode string `yaml:"mode"`

	// Engine subprocess (simulated mode).
	EngineCommand string   `yaml:"engine_command"`
	EngineArgs    []string `yaml:"engine_args"`

	// Venue credentials (live mode + user data stream).
	VenueTestnet   bool   `yaml:"venue_testnet"`
	VenueAPIKey    string `yaml:"venue_api_key"`
	VenueAPISecret string `yaml:"venue_api_secret"`

	// Event log sizing.
	EventLogCapacity   int `yaml:"event_log_capacity"`
	RecentActivityCap  int `yaml:"recent_activity_cap"`

	// Live-mode order status polling.
	OrderPollInterval time.Duration `yaml:"order_poll_interval"`

	// Fallback market feed.
	Symbols            []string      `yaml:"symbols"`
	MarketPollEnabled  bool          `yaml:"market_poll_enabled"`
	MarketPollInterval time.Duration `yaml:"market_poll_interval"`
	MarketStaleAfter   time.Duration `yaml:"market_stale_after"`

	// Persistence.
	DBPath string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`
}

// Load reads environment variables (optionally via .env) into Config.
// When CONFIG_FILE points at a YAML file, its values are applied first
// and the environment overrides them.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               "8080",
		Mode:               "simulated",
		EngineCommand:      "./engine",
		EventLogCapacity:   2000,
		RecentActivityCap:  200,
		OrderPollInterval:  2 * time.Second,
		Symbols:            []string{"BTCUSDT", "ETHUSDT"},
		MarketPollEnabled:  true,
		MarketPollInterval: 5 * time.Second,
		MarketStaleAfter:   15 * time.Second,
		DBPath:             "./data/bridge.db",
		LogLevel:           "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Mode = strings.ToLower(getEnv("MODE", cfg.Mode))
	cfg.EngineCommand = getEnv("ENGINE_COMMAND", cfg.EngineCommand)
	if args := os.Getenv("ENGINE_ARGS"); args != "" {
		cfg.EngineArgs = strings.Fields(args)
	}
	cfg.VenueTestnet = getEnvBool("VENUE_TESTNET", cfg.VenueTestnet)
	cfg.VenueAPIKey = getEnv("VENUE_API_KEY", cfg.VenueAPIKey)
	cfg.VenueAPISecret = getEnv("VENUE_API_SECRET", cfg.VenueAPISecret)
	cfg.EventLogCapacity = getEnvInt("EVENT_LOG_CAPACITY", cfg.EventLogCapacity)
	cfg.RecentActivityCap = getEnvInt("RECENT_ACTIVITY_CAP", cfg.RecentActivityCap)
	cfg.OrderPollInterval = getEnvDuration("ORDER_POLL_INTERVAL", cfg.OrderPollInterval)
	if syms := os.Getenv("SYMBOLS"); syms != "" {
		cfg.Symbols = splitAndTrim(syms)
	}
	cfg.MarketPollEnabled = getEnvBool("MARKET_POLL_ENABLED", cfg.MarketPollEnabled)
	cfg.MarketPollInterval = getEnvDuration("MARKET_POLL_INTERVAL", cfg.MarketPollInterval)
	cfg.MarketStaleAfter = getEnvDuration("MARKET_STALE_AFTER", cfg.MarketStaleAfter)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.Mode != "simulated" && cfg.Mode != "live" {
		return nil, fmt.Errorf("invalid MODE %q: want simulated or live", cfg.Mode)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
)

// Store kinds
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Kind        string
	StateFile   string
	DatabaseURL string
	UserID      string
}

type SignalConfig struct {
	SourceURL     string
	StreamURL     string
	Symbols       []string
	AnalysisTypes []string
	PollInterval  time.Duration
}

type PricingConfig struct {
	Testnet         bool
	Quote           string
	RepriceInterval time.Duration
	FetchTimeout    time.Duration
}

type NotificationConfig struct {
	TelegramToken  string
	TelegramChatID string
}

type Config struct {
	Environment string
	LogLevel    string
	LogFile     string
	HTTPAddr    string

	InitialBalance float64
	DetectorActive bool
	JournalExport  string

	Store         StoreConfig
	Signals       SignalConfig
	Pricing       PricingConfig
	Notifications NotificationConfig
}

// Load reads envFile if it exists, then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),

		InitialBalance: getEnvFloat("INITIAL_BALANCE", 1000),
		DetectorActive: getEnvBool("DETECTOR_ACTIVE", false),
		JournalExport:  getEnv("JOURNAL_EXPORT", ""),

		Store: StoreConfig{
			Kind:        strings.ToLower(getEnv("AUTOTRADER_STORE", StoreFile)),
			StateFile:   getEnv("AUTOTRADER_STATE_FILE", "data/autotrader_state.json"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			UserID:      getEnv("AUTOTRADER_USER_ID", "default"),
		},
		Signals: SignalConfig{
			SourceURL:     getEnv("SIGNAL_SOURCE_URL", ""),
			StreamURL:     getEnv("SIGNAL_STREAM_URL", ""),
			Symbols:       getEnvList("SIGNAL_SYMBOLS", []string{"BTC", "ETH", "SOL"}),
			AnalysisTypes: getEnvList("SIGNAL_ANALYSIS_TYPES", []string{"technical", "sentiment"}),
			PollInterval:  getEnvDuration("POLL_INTERVAL", 30*time.Second),
		},
		Pricing: PricingConfig{
			Testnet:         getEnvBool("BYBIT_TESTNET", false),
			Quote:           strings.ToUpper(getEnv("PRICE_QUOTE", "USDT")),
			RepriceInterval: getEnvDuration("REPRICE_INTERVAL", 10*time.Second),
			FetchTimeout:    getEnvDuration("PRICE_FETCH_TIMEOUT", 5*time.Second),
		},
		Notifications: NotificationConfig{
			TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
			TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if c.Store.StateFile == "" {
			errs = append(errs, errors.New("AUTOTRADER_STATE_FILE is required for the file store"))
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTOTRADER_STORE must be memory, file or postgres, got %q", c.Store.Kind))
	}

	if c.InitialBalance < portfolio.MinVirtualBalance {
		errs = append(errs, fmt.Errorf("INITIAL_BALANCE must be at least %.2f", portfolio.MinVirtualBalance))
	}
	if c.Signals.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Pricing.RepriceInterval <= 0 {
		errs = append(errs, errors.New("REPRICE_INTERVAL must be positive"))
	}
	if c.Pricing.FetchTimeout <= 0 {
		errs = append(errs, errors.New("PRICE_FETCH_TIMEOUT must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if (c.Notifications.TelegramToken == "") != (c.Notifications.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}

	return errors.Join(errs...)
}

// HasSignalFeed is true when at least one signal feed is configured
func (c *Config) HasSignalFeed() bool {
	return c.Signals.SourceURL != "" || c.Signals.StreamURL != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return val
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

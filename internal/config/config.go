package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	LLM         LLMConfig
	Marketplace MarketplaceConfig
	Readiness   ReadinessConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	Humanize       bool
}

type LLMConfig struct {
	APIURL            string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
}

type MarketplaceConfig struct {
	MaxResults         int
	MaxReviews         int
	MaxReviewsLimit    int
	ReviewsPerProduct  int
	ReviewPacing       time.Duration
	ScrollAttempts     int
	LoadMoreClicks     int
	PaginationPages    int
	PageLoadTimeout    time.Duration
	NavigationRetries  int
	HTMLBudget         int
	AntiBotWaitTimeout time.Duration
}

type ReadinessConfig struct {
	Budget          time.Duration
	SettleInterval  time.Duration
	HeightThreshold float64
	SelectorTimeout time.Duration
	FinalPause      time.Duration
}

type RedisConfig struct {
	// Addr empty disables the event stream.
	Addr     string
	Password string
	DB       int
	Stream   string
}

type DatabaseConfig struct {
	// Host empty disables the run journal.
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	MaxConns     int
	RelayEnabled bool
	RelayBatch   int
	RelayEvery   time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 10*time.Minute),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1280),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 900),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Moscow"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ru-RU"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			Humanize:       getBoolOrDefault("BROWSER_HUMANIZE", true),
		},
		LLM: LLMConfig{
			APIURL:            getEnvOrDefault("LLM_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
			APIKey:            firstEnv("LLM_API_KEY", "OPENROUTER_API_KEY"),
			Model:             getEnvOrDefault("LLM_MODEL", "deepseek/deepseek-chat"),
			Temperature:       getFloatOrDefault("LLM_TEMPERATURE", 0.1),
			MaxTokens:         getIntOrDefault("LLM_MAX_TOKENS", 4000),
			Timeout:           getDurationOrDefault("LLM_TIMEOUT", 90*time.Second),
			MaxRetries:        getIntOrDefault("LLM_MAX_RETRIES", 3),
			RequestsPerSecond: getFloatOrDefault("LLM_REQUESTS_PER_SECOND", 1),
			Burst:             getIntOrDefault("LLM_BURST", 3),
		},
		Marketplace: MarketplaceConfig{
			MaxResults:         getIntOrDefault("MARKETPLACE_MAX_RESULTS", 10),
			MaxReviews:         getIntOrDefault("MARKETPLACE_MAX_REVIEWS", 20),
			MaxReviewsLimit:    getIntOrDefault("MARKETPLACE_MAX_REVIEWS_LIMIT", 100),
			ReviewsPerProduct:  getIntOrDefault("MARKETPLACE_REVIEWS_PER_PRODUCT", 5),
			ReviewPacing:       getDurationOrDefault("MARKETPLACE_REVIEW_PACING", time.Second),
			ScrollAttempts:     getIntOrDefault("MARKETPLACE_SCROLL_ATTEMPTS", 5),
			LoadMoreClicks:     getIntOrDefault("MARKETPLACE_LOAD_MORE_CLICKS", 3),
			PaginationPages:    getIntOrDefault("MARKETPLACE_PAGINATION_PAGES", 3),
			PageLoadTimeout:    getDurationOrDefault("MARKETPLACE_PAGE_LOAD_TIMEOUT", 30*time.Second),
			NavigationRetries:  getIntOrDefault("MARKETPLACE_NAVIGATION_RETRIES", 2),
			HTMLBudget:         getIntOrDefault("MARKETPLACE_HTML_BUDGET", 80000),
			AntiBotWaitTimeout: getDurationOrDefault("MARKETPLACE_ANTIBOT_TIMEOUT", 15*time.Second),
		},
		Readiness: ReadinessConfig{
			Budget:          getDurationOrDefault("READINESS_BUDGET", 15*time.Second),
			SettleInterval:  getDurationOrDefault("READINESS_SETTLE_INTERVAL", 3*time.Second),
			HeightThreshold: getFloatOrDefault("READINESS_HEIGHT_THRESHOLD", 100),
			SelectorTimeout: getDurationOrDefault("READINESS_SELECTOR_TIMEOUT", 3*time.Second),
			FinalPause:      getDurationOrDefault("READINESS_FINAL_PAUSE", 2*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:marketplace_events"),
		},
		Database: DatabaseConfig{
			Host:         getEnvOrDefault("DB_HOST", ""),
			Port:         getIntOrDefault("DB_PORT", 5432),
			User:         getEnvOrDefault("DB_USER", "postgres"),
			Password:     getEnvOrDefault("DB_PASSWORD", ""),
			DBName:       getEnvOrDefault("DB_NAME", "marketplace_agent"),
			MaxConns:     getIntOrDefault("DB_MAX_CONNS", 10),
			RelayEnabled: getBoolOrDefault("OUTBOX_RELAY_ENABLED", true),
			RelayBatch:   getIntOrDefault("OUTBOX_RELAY_BATCH", 100),
			RelayEvery:   getDurationOrDefault("OUTBOX_RELAY_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Marketplace.MaxResults < 1 {
		return fmt.Errorf("MARKETPLACE_MAX_RESULTS must be at least 1")
	}
	if c.Marketplace.MaxReviewsLimit < 1 {
		return fmt.Errorf("MARKETPLACE_MAX_REVIEWS_LIMIT must be at least 1")
	}
	if c.Marketplace.MaxReviews > c.Marketplace.MaxReviewsLimit {
		return fmt.Errorf("MARKETPLACE_MAX_REVIEWS cannot be greater than MARKETPLACE_MAX_REVIEWS_LIMIT")
	}
	if c.Marketplace.HTMLBudget < 1000 {
		return fmt.Errorf("MARKETPLACE_HTML_BUDGET must be at least 1000")
	}
	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("browser viewport must be positive")
	}
	if c.Database.Host != "" && c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required when DB_HOST is set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

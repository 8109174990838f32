package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port           string
	Env            string
	LogLevel       string
	RequestTimeout time.Duration
	CORSOrigins    []string

	// Service metadata
	AppName         string
	AppVersion      string
	DataSources     []string
	LastModelUpdate string

	// LocalMode swaps every external store for an in-memory one and
	// accepts test-/dev-/local- prefixed keys.
	LocalMode bool

	// Database (secret store + prediction log)
	DatabaseURL   string
	APIKeysSecret string

	// Redis (counter store + object store)
	RedisURL string

	// Directory-backed object store, used instead of Redis when set
	ObjectStoreDir string

	// WatchModel reloads the model bundle when it changes in ObjectStoreDir
	WatchModel bool

	// Timeout applied to every call into an external store
	StoreTimeout time.Duration

	// Object paths
	ModelPath           string
	PredictionCachePath string
	FeaturesPath        string

	// Rate Limiting (requests per hour per key)
	RateLimitRequests int

	// Caching
	CacheTTLSeconds int

	// Prediction defaults used when the model bundle does not override them
	FallbackPrice         float64
	MexicoPremium         float64
	CompletenessThreshold float64
	WholesaleDiscount     float64
	DefaultConfidence     float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),

		AppName:         getEnv("APP_NAME", "Steel Rebar Price Predictor"),
		AppVersion:      getEnv("APP_VERSION", "v2.0"),
		DataSources:     getEnvList("DATA_SOURCES", []string{"LME", "Banxico", "EPU", "Trade Events"}),
		LastModelUpdate: getEnv("LAST_MODEL_UPDATE", "2025-09-29T17:04:52Z"),

		LocalMode: getEnvBool("LOCAL_MODE", false),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		APIKeysSecret: getEnv("API_KEYS_SECRET", "steel-predictor-api-keys"),

		RedisURL:       getEnv("REDIS_URL", ""),
		ObjectStoreDir: getEnv("OBJECT_STORE_DIR", ""),
		WatchModel:     getEnvBool("WATCH_MODEL", true),
		StoreTimeout:   getEnvDuration("STORE_TIMEOUT", 2*time.Second),

		ModelPath:           getEnv("MODEL_PATH", "models/bundle.json"),
		PredictionCachePath: getEnv("PREDICTION_CACHE_PATH", "predictions/current.json"),
		FeaturesPath:        getEnv("FEATURES_PATH", "features/latest.json"),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		CacheTTLSeconds:   getEnvInt("CACHE_TTL_SECONDS", 3600),

		FallbackPrice:         getEnvFloat("FALLBACK_PRICE", 625.0),
		MexicoPremium:         getEnvFloat("MEXICO_PREMIUM", 1.157),
		CompletenessThreshold: getEnvFloat("COMPLETENESS_THRESHOLD", 0.8),
		WholesaleDiscount:     getEnvFloat("WHOLESALE_DISCOUNT", 0.8874),
		DefaultConfidence:     getEnvFloat("DEFAULT_CONFIDENCE", 0.95),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// storeCallsPerRequest counts the quota, cache and feature reads of one prediction
const storeCallsPerRequest = 3

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	// Outside local mode every external store must be reachable by URL
	if !c.LocalMode {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required (or set LOCAL_MODE=true)")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required (or set LOCAL_MODE=true)")
		}
	}

	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must not be negative, got %d", c.CacheTTLSeconds)
	}
	if c.CompletenessThreshold <= 0 || c.CompletenessThreshold > 1 {
		return fmt.Errorf("COMPLETENESS_THRESHOLD must be in (0, 1], got %v", c.CompletenessThreshold)
	}
	if c.FallbackPrice <= 0 {
		return fmt.Errorf("FALLBACK_PRICE must be positive, got %v", c.FallbackPrice)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	// A prediction makes up to storeCallsPerRequest sequential store calls
	if budget := storeCallsPerRequest * c.StoreTimeout; c.RequestTimeout <= budget {
		return fmt.Errorf("REQUEST_TIMEOUT must exceed %d x STORE_TIMEOUT (%s), got %s", storeCallsPerRequest, budget, c.RequestTimeout)
	}

	return nil
}

// CacheTTL returns the prediction cache freshness window
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// getEnvList parses a comma-separated list, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

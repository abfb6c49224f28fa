package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Catalog storage
	CatalogBackend string // gorm or dynamodb
	DBDriver       string // sqlite or postgres
	DBPath         string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DynamoDBTable  string

	// Resolution cache
	CacheBackend        string // memory or redis
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	CacheStaleAfter     time.Duration
	CacheEvictAfter     time.Duration
	CacheRefreshTimeout time.Duration

	FallbackCatalogPath string

	LogLevel  string
	LogFormat string
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment only.
func FromEnv() *Config {
	return &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "release"),

		CatalogBackend: getEnv("CATALOG_BACKEND", "gorm"),
		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		DBPath:         getEnv("DB_PATH", "./followup.db"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "followup"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		DynamoDBTable:  getEnv("DYNAMODB_TABLE", "followup-templates"),

		CacheBackend:        getEnv("CACHE_BACKEND", "memory"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		CacheStaleAfter:     getEnvDuration("CACHE_STALE_AFTER", 10*time.Minute),
		CacheEvictAfter:     getEnvDuration("CACHE_EVICT_AFTER", 30*time.Minute),
		CacheRefreshTimeout: getEnvDuration("CACHE_REFRESH_TIMEOUT", 10*time.Second),

		FallbackCatalogPath: getEnv("FALLBACK_CATALOG_PATH", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration syntax ("90s", "15m"); anything else,
// including non-positive values, yields fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

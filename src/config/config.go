package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port          string
	DatabasePath  string
	LogLevel      string
	BaseCurrency  string
	FetchTimeout  time.Duration // applies to the fetch phase only
	FetchRate     time.Duration // minimum interval between provider requests
	FetchBurst    int
	CacheTTL      time.Duration
	CacheCleanup  time.Duration
	PlaidTimezone string // assumed institution timezone for date-only providers
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	Cfg = &AppConfig{
		Port:          getEnv("PORT", "8080"),
		DatabasePath:  getEnv("DATABASE_PATH", "./ledgerfolio.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BaseCurrency:  getEnv("BASE_CURRENCY", "USD"),
		FetchTimeout:  getEnvAsDuration("FETCH_TIMEOUT", 60*time.Second),
		FetchRate:     getEnvAsDuration("FETCH_RATE_INTERVAL", 200*time.Millisecond),
		FetchBurst:    getEnvAsInt("FETCH_RATE_BURST", 5),
		CacheTTL:      getEnvAsDuration("RESULT_CACHE_TTL", 15*time.Minute),
		CacheCleanup:  getEnvAsDuration("RESULT_CACHE_CLEANUP", 30*time.Minute),
		PlaidTimezone: getEnv("PLAID_ASSUMED_TIMEZONE", "America/New_York"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, BaseCurrency=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.BaseCurrency)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

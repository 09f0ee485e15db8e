package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Provider credentials (the registry references these by env var name)
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // zerolog level, default: "info"

	// Dispatcher
	ProviderCacheTTL time.Duration // default: 60s

	// Advisory usage windows (never enforced before dispatch)
	WindowTokensPerMinute int64 // default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	ttlStr := getEnv("PROVIDER_CACHE_TTL_SECONDS", "60")
	ttl, err := strconv.Atoi(ttlStr)
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("invalid PROVIDER_CACHE_TTL_SECONDS: %q", ttlStr)
	}
	cfg.ProviderCacheTTL = time.Duration(ttl) * time.Second

	tpmStr := getEnv("WINDOW_TOKENS_PER_MINUTE", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WINDOW_TOKENS_PER_MINUTE: %w", err)
	}
	cfg.WindowTokensPerMinute = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

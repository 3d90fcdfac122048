package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultNATSURL           = "nats://localhost:4222"
	defaultRedisURL          = "redis://localhost:6379"
	defaultHTTPAddr          = ":8080"
	defaultMetricsAddr       = ":9090"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultTavilyURL         = "https://api.tavily.com"
	defaultMarketsConfig     = "config/markets.yaml"
	defaultWorkerCount       = 4
	defaultStageTimeout      = 5 * time.Minute
	defaultStreamTokenTTL    = 24 * time.Hour
	defaultReconcileInterval = time.Minute
	defaultStaleJobAfter     = 10 * time.Minute

	envNATSURL           = "NATS_URL"
	envRedisURL          = "REDIS_URL"
	envHTTPAddr          = "HTTP_ADDR"
	envMetricsAddr       = "METRICS_ADDR"
	envOpenAIAPIKey      = "OPENAI_API_KEY"
	envOpenAIModel       = "OPENAI_MODEL"
	envTavilyAPIKey      = "TAVILY_API_KEY"
	envTavilyURL         = "TAVILY_URL"
	envIdentitySecret    = "IDENTITY_JWT_SECRET"
	envStreamTokenSecret = "STREAM_TOKEN_SECRET"
	envStreamTokenTTL    = "STREAM_TOKEN_TTL"
	envWorkerCount       = "WORKER_COUNT"
	envStageTimeout      = "STAGE_TIMEOUT"
	envReconcileInterval = "RECONCILE_INTERVAL"
	envStaleJobAfter     = "STALE_JOB_AFTER"
	envMarketsConfigPath = "MARKETS_CONFIG_PATH"
	envCORSAllowOrigins  = "CORS_ALLOW_ORIGINS"
)

// Config holds runtime configuration for the gateway and worker processes.
type Config struct {
	NatsURL           string
	RedisURL          string
	HTTPAddr          string
	MetricsAddr       string
	OpenAIAPIKey      string
	OpenAIModel       string
	TavilyAPIKey      string
	TavilyURL         string
	IdentitySecret    string
	StreamTokenSecret string
	StreamTokenTTL    time.Duration
	WorkerCount       int
	StageTimeout      time.Duration
	ReconcileInterval time.Duration
	StaleJobAfter     time.Duration
	MarketsConfigPath string
	CORSAllowOrigins  string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		NatsURL:           envOr(envNATSURL, defaultNATSURL),
		RedisURL:          envOr(envRedisURL, defaultRedisURL),
		HTTPAddr:          envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:       envOr(envMetricsAddr, defaultMetricsAddr),
		OpenAIAPIKey:      os.Getenv(envOpenAIAPIKey),
		OpenAIModel:       envOr(envOpenAIModel, defaultOpenAIModel),
		TavilyAPIKey:      os.Getenv(envTavilyAPIKey),
		TavilyURL:         envOr(envTavilyURL, defaultTavilyURL),
		IdentitySecret:    os.Getenv(envIdentitySecret),
		StreamTokenSecret: os.Getenv(envStreamTokenSecret),
		StreamTokenTTL:    envDuration(envStreamTokenTTL, defaultStreamTokenTTL),
		WorkerCount:       envInt(envWorkerCount, defaultWorkerCount),
		StageTimeout:      envDuration(envStageTimeout, defaultStageTimeout),
		ReconcileInterval: envDuration(envReconcileInterval, defaultReconcileInterval),
		StaleJobAfter:     envDuration(envStaleJobAfter, defaultStaleJobAfter),
		MarketsConfigPath: envOr(envMarketsConfigPath, defaultMarketsConfig),
		CORSAllowOrigins:  os.Getenv(envCORSAllowOrigins),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

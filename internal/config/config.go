package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/oneiroi/api/internal/logger"
)

// Config holds all configuration for the API service
type Config struct {
	// Server
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"GO_ENV" env-default:"development"`
	Logger      logger.Config

	// Optional infrastructure, disabled when empty
	RedisURL     string `env:"REDIS_URL"`
	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Requests per minute per client on the card route
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" env-default:"20"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`

	Flux  FluxConfig
	Proxy ProxyConfig
}

// FluxConfig configures the remote image generation service
type FluxConfig struct {
	BaseURL        string        `env:"FLUX_BASE_URL" env-default:"https://api.bfl.ai/v1"`
	ModelPath      string        `env:"FLUX_MODEL_PATH" env-default:"/flux-kontext-pro"`
	ResultPath     string        `env:"FLUX_RESULT_PATH" env-default:"/get_result"`
	APIKey         string        `env:"FLUX_API_KEY"`
	MaxAttempts    int           `env:"FLUX_POLL_MAX_ATTEMPTS" env-default:"30"`
	PollInterval   time.Duration `env:"FLUX_POLL_INTERVAL" env-default:"5s"`
	RequestTimeout time.Duration `env:"FLUX_REQUEST_TIMEOUT" env-default:"30s"`
}

// ProxyConfig configures the artifact proxy
type ProxyConfig struct {
	AllowedHosts []string `env:"PROXY_ALLOWED_HOSTS" env-separator:"," env-default:"bfl.ai"`
	// When set, artifacts are downloaded through <BaseURL>/proxy instead of in-process
	BaseURL  string        `env:"PROXY_BASE_URL"`
	MaxBytes int64         `env:"PROXY_MAX_BYTES" env-default:"20971520"`
	Timeout  time.Duration `env:"PROXY_TIMEOUT" env-default:"60s"`
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if cfg.Flux.MaxAttempts <= 0 {
		return nil, fmt.Errorf("FLUX_POLL_MAX_ATTEMPTS must be positive, got %d", cfg.Flux.MaxAttempts)
	}
	if cfg.Flux.PollInterval < 0 {
		return nil, fmt.Errorf("FLUX_POLL_INTERVAL must not be negative")
	}
	if len(cfg.Proxy.AllowedHosts) == 0 {
		return nil, fmt.Errorf("PROXY_ALLOWED_HOSTS must list at least one host")
	}
	return &cfg, nil
}

// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all server configuration parsed from environment variables.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`
	Version string `env:"APP_VERSION" envDefault:"0.1.0"`
	Port    int    `env:"PORT" envDefault:"8080"`

	// Upstream completion API
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIMaxTokens   int           `env:"OPENAI_MAX_TOKENS" envDefault:"800"`
	OpenAITemperature float32       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"25s"`
	// CompletionProvider selects the upstream adapter: "openai" or "static".
	// The static provider answers with a fixed greeting and is meant for smoke deployments.
	CompletionProvider string `env:"COMPLETION_PROVIDER" envDefault:"openai"`

	// Gatekeeper
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"50"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1h"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	MaxMessages     int           `env:"MAX_MESSAGES" envDefault:"50"`
	MaxContentChars int           `env:"MAX_CONTENT_CHARS" envDefault:"4000"`
	MaxPromptTokens int           `env:"MAX_PROMPT_TOKENS" envDefault:"3000"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	// TrustForwardedFor makes the limiter key on the first X-Forwarded-For hop.
	// Only enable behind a proxy that overwrites the header.
	TrustForwardedFor bool `env:"TRUST_FORWARDED_FOR" envDefault:"false"`

	// Shared state
	StoreBackend       string        `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL           string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	StoreMaxEntries    int           `env:"STORE_MAX_ENTRIES" envDefault:"100000"`
	StoreSweepInterval time.Duration `env:"STORE_SWEEP_INTERVAL" envDefault:"10m"`

	// Directory dataset
	DirectoryPath            string `env:"DIRECTORY_PATH"`
	DirectoryURL             string `env:"DIRECTORY_URL"`
	DirectoryRateLimitPerMin int    `env:"DIRECTORY_RATE_LIMIT_PER_MIN" envDefault:"120"`

	// HTTP
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"sudbury-directory"`
	// TraceSampleRatio overrides the per-environment default when in (0,1].
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"0"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// Environment returns the deployment environment name reported by the health endpoint.
func (c Config) Environment() string {
	switch {
	case c.IsProd():
		return "production"
	case c.IsTest():
		return "test"
	default:
		return "development"
	}
}

// OpenAIConfigured reports whether the upstream credential is present.
func (c Config) OpenAIConfigured() bool { return strings.TrimSpace(c.OpenAIAPIKey) != "" }

// UsesRedis reports whether shared state lives in Redis.
func (c Config) UsesRedis() bool { return strings.EqualFold(c.StoreBackend, "redis") }

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// ClientConfig configures the chat client and its endpoint fallback policy.
type ClientConfig struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	// BaseURL resolves relative entries of Endpoints.
	BaseURL string `env:"CHAT_BASE_URL" envDefault:"http://localhost:8080"`
	// Endpoints are tried in this order.
	Endpoints []string `env:"CHAT_ENDPOINTS" envSeparator:"," envDefault:"/.netlify/functions/openai-proxy,/api/chat,https://sudbury-directory-new.netlify.app/.netlify/functions/openai-proxy"`
	// MaxRetries is the number of attempts per endpoint.
	MaxRetries     int           `env:"CHAT_MAX_RETRIES" envDefault:"3"`
	RetryDelay     time.Duration `env:"CHAT_RETRY_DELAY" envDefault:"1500ms"`
	AttemptTimeout time.Duration `env:"CHAT_ATTEMPT_TIMEOUT" envDefault:"30s"`
	// ProbeAddr is dialled before each send; empty disables the connectivity check.
	ProbeAddr    string        `env:"CHAT_PROBE_ADDR"`
	ProbeTimeout time.Duration `env:"CHAT_PROBE_TIMEOUT" envDefault:"2s"`
}

// LoadClient parses environment variables into a ClientConfig.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("op=config.LoadClient: %w", err)
	}
	return cfg, nil
}

// IsTest reports whether the client is running in test mode.
func (c ClientConfig) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetRetryPolicy returns attempts per endpoint and the delay between them.
// In test environments the delay is shortened for fast test execution.
func (c ClientConfig) GetRetryPolicy() (maxRetries int, delay time.Duration) {
	maxRetries = c.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	if c.IsTest() {
		return maxRetries, 10 * time.Millisecond
	}
	return maxRetries, c.RetryDelay
}

// ResolvedEndpoints returns absolute endpoint URLs in priority order.
func (c ClientConfig) ResolvedEndpoints() ([]string, error) {
	base, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("op=config.ResolvedEndpoints: base url: %w", err)
	}
	out := make([]string, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		ref, err := url.Parse(e)
		if err != nil {
			return nil, fmt.Errorf("op=config.ResolvedEndpoints: endpoint %q: %w", e, err)
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("op=config.ResolvedEndpoints: no endpoints configured")
	}
	return out, nil
}

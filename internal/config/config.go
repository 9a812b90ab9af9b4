package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds the process configuration, read from the environment.
type Config struct {
	Port  int  `env:"PORT" envDefault:"8080"`
	Debug bool `env:"DEBUG" envDefault:"false"`

	// Signing key material for the upstream API. KeyA is the key
	// identifier embedded in the bearer token, KeyB signs the request.
	KeyA string `env:"KEY_A,required"`
	KeyB string `env:"KEY_B,required"`

	// ClientUA is the upstream client version string, sent as
	// "ChatOn_Android/<ClientUA>".
	ClientUA string `env:"CLIENT_UA,required"`

	UpstreamBaseURL string        `env:"UPSTREAM_BASE_URL" envDefault:"https://api.chaton.ai"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	InsecureTLS     bool          `env:"UPSTREAM_INSECURE_TLS" envDefault:"false"`

	ClientTimeZone string `env:"CLIENT_TIME_ZONE" envDefault:"-05:00"`

	DefaultMaxTokens int `env:"DEFAULT_MAX_TOKENS" envDefault:"8000"`

	// MaxConcurrentGenerations caps parallel upstream calls made by one
	// image generation batch.
	MaxConcurrentGenerations int `env:"MAX_CONCURRENT_GENERATIONS" envDefault:"10"`
}

// New reads the configuration from the process environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	return cfg, nil
}

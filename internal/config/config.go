package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// Processor
	// ----------------------------
	BatchSize   int           `envconfig:"BATCH_SIZE" default:"25"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	RateLimit   int           `envconfig:"RATE_LIMIT" default:"10"`

	// ----------------------------
	// Trigger
	// ----------------------------
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"1m"`
	ClaimTimeout time.Duration `envconfig:"CLAIM_TIMEOUT" default:"5m"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort          string `envconfig:"API_PORT" default:"8080"`
	BroadcastMaxRows int    `envconfig:"BROADCAST_MAX_ROWS" default:"1000"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}

package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	RedisURL  string `env:"REDIS_URL"`

	// Hub timing
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	StalenessThreshold time.Duration `env:"STALENESS_THRESHOLD" default:"60s"`
	DrainTimeout       time.Duration `env:"DRAIN_TIMEOUT" default:"5s"`

	// Data feed
	QuotePollInterval time.Duration `env:"QUOTE_POLL_INTERVAL" default:"5s"`

	// Connection limits
	MaxWebSocketConnections int64   `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionsPerSecond    float64 `env:"CONNECTIONS_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.StalenessThreshold < cfg.HeartbeatInterval {
		return fmt.Errorf("STALENESS_THRESHOLD (%v) must not be shorter than HEARTBEAT_INTERVAL (%v)",
			cfg.StalenessThreshold, cfg.HeartbeatInterval)
	}
	if cfg.DrainTimeout <= 0 {
		return fmt.Errorf("DRAIN_TIMEOUT must be positive")
	}
	if cfg.QuotePollInterval <= 0 {
		return fmt.Errorf("QUOTE_POLL_INTERVAL must be positive")
	}
	if cfg.MaxWebSocketConnections <= 0 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	return nil
}

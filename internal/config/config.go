// Package config loads server and client runtime configuration from
// environment variables, with an optional .env file for local development.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ServerConfig holds everything the server binary needs beyond the single
// positional initial-capacity CLI argument.
type ServerConfig struct {
	ShmName         string `env:"SHMKV_SHM_NAME" envDefault:"/shmkv_ipc"`
	RingSlots       int    `env:"SHMKV_RING_SLOTS" envDefault:"12"`
	LogLevel        string `env:"SHMKV_LOG_LEVEL" envDefault:"info"`
	LogPretty       bool   `env:"SHMKV_LOG_PRETTY" envDefault:"false"`
	MetricsAddr     string `env:"SHMKV_METRICS_ADDR" envDefault:":9400"`
	MetricsEnabled  bool   `env:"SHMKV_METRICS_ENABLED" envDefault:"true"`
	ResourceLogFreq string `env:"SHMKV_RESOURCE_LOG_INTERVAL" envDefault:"30s"`
}

// ClientConfig holds the client REPL's connection settings.
type ClientConfig struct {
	ShmName   string `env:"SHMKV_SHM_NAME" envDefault:"/shmkv_ipc"`
	LogLevel  string `env:"SHMKV_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"SHMKV_LOG_PRETTY" envDefault:"false"`
}

// LoadServer reads ServerConfig from the environment, trying a .env file
// first for local development convenience. Priority: env vars > .env > defaults.
func LoadServer(logger *zerolog.Logger) (ServerConfig, error) {
	loadDotenv(logger)

	cfg := ServerConfig{}
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.RingSlots <= 0 {
		return ServerConfig{}, fmt.Errorf("SHMKV_RING_SLOTS must be > 0, got %d", cfg.RingSlots)
	}
	return cfg, nil
}

// LoadClient reads ClientConfig from the environment.
func LoadClient(logger *zerolog.Logger) (ClientConfig, error) {
	loadDotenv(logger)

	cfg := ClientConfig{}
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse client config: %w", err)
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("no .env file found, using environment variables only")
		}
	}
}

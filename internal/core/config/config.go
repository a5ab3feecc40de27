package config

import (
	"time"

	"github.com/bford21/vitalikrun/internal/core/domain"
	redisclient "github.com/bford21/vitalikrun/internal/infra/redis"
	"github.com/bford21/vitalikrun/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Chains   []ChainConfig      `yaml:"chains"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	FrontendOrigin string `yaml:"frontend_origin"` // CORS allow-origin, "*" when empty
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds settings for one watched blockchain.
type ChainConfig struct {
	Name           domain.ChainName `yaml:"name"`
	WSURL          string           `yaml:"ws_url"`   // websocket endpoint for newHeads subscription
	HTTPURL        string           `yaml:"http_url"` // JSON-RPC endpoint for block enrichment
	ReconnectDelay time.Duration    `yaml:"reconnect_delay"`
}

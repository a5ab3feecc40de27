package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].Name == "" {
			return nil, fmt.Errorf("chain %d: name is required", i)
		}
		if cfg.Chains[i].WSURL == "" {
			return nil, fmt.Errorf("chain %q: ws_url is required", cfg.Chains[i].Name)
		}
		if cfg.Chains[i].HTTPURL == "" {
			return nil, fmt.Errorf("chain %q: http_url is required", cfg.Chains[i].Name)
		}
		if cfg.Chains[i].ReconnectDelay == 0 {
			cfg.Chains[i].ReconnectDelay = 5 * time.Second
		}
	}

	if cfg.Redis.LeaderboardTTL == 0 {
		cfg.Redis.LeaderboardTTL = 5 * time.Second
	}

	return &cfg, nil
}

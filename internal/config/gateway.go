// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig is the configuration for the protocol-sniffing gateway.
type GatewayConfig struct {
	Listen           string        `yaml:"listen"`
	Bootstrap        []string      `yaml:"bootstrap"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	CORSAllowOrigins []string      `yaml:"cors_allow_origins"`
	Logging          LoggingInfo   `yaml:"logging"`
}

// LoadGatewayConfig reads and validates the gateway's YAML configuration
// file.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gateway config: %w", err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing gateway config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating gateway config: %w", err)
	}
	return &cfg, nil
}

func (c *GatewayConfig) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if len(c.Bootstrap) == 0 {
		return fmt.Errorf("bootstrap must have at least one peer address")
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

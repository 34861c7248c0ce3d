// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the node
// and gateway processes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingInfo configures a process's structured logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default info
	Format string `yaml:"format"` // json|text, default json
}

// NodeConfig is the configuration for one ring peer process.
type NodeConfig struct {
	Addr                      string        `yaml:"addr"`
	Next                      string        `yaml:"next"`
	DataDir                   string        `yaml:"data_dir"`
	GossipInterval            time.Duration `yaml:"gossip_interval"`
	GossipTimeout             time.Duration `yaml:"gossip_timeout"`
	HealPollTimeout           time.Duration `yaml:"heal_poll_timeout"`
	HealSchedule              string        `yaml:"heal_schedule"`
	RelayRateLimitBytesPerSec int64         `yaml:"relay_rate_limit_bytes_per_sec"`
	Logging                   LoggingInfo   `yaml:"logging"`
}

// LoadNodeConfig reads and validates a node's YAML configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node config: %w", err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing node config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating node config: %w", err)
	}
	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DataDir == "" {
		c.DataDir = "nodes"
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = 5 * time.Second
	}
	if c.GossipTimeout <= 0 {
		c.GossipTimeout = 2 * time.Second
	}
	if c.HealPollTimeout <= 0 {
		c.HealPollTimeout = 30 * time.Second
	}
	if c.RelayRateLimitBytesPerSec < 0 {
		return fmt.Errorf("relay_rate_limit_bytes_per_sec must be >= 0")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

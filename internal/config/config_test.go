// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadNodeConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "addr: 127.0.0.1:7001\n")
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig: %v", err)
	}
	if cfg.DataDir != "nodes" {
		t.Errorf("DataDir default = %q, want %q", cfg.DataDir, "nodes")
	}
	if cfg.GossipInterval != 5*time.Second {
		t.Errorf("GossipInterval default = %v, want 5s", cfg.GossipInterval)
	}
	if cfg.GossipTimeout != 2*time.Second {
		t.Errorf("GossipTimeout default = %v, want 2s", cfg.GossipTimeout)
	}
	if cfg.HealPollTimeout != 30*time.Second {
		t.Errorf("HealPollTimeout default = %v, want 30s", cfg.HealPollTimeout)
	}
	if cfg.HealSchedule != "" {
		t.Errorf("HealSchedule default = %q, want empty (feature off)", cfg.HealSchedule)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadNodeConfigMissingAddr(t *testing.T) {
	path := writeTempConfig(t, "data_dir: nodes\n")
	if _, err := LoadNodeConfig(path); err == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestLoadNodeConfigRejectsNegativeRateLimit(t *testing.T) {
	path := writeTempConfig(t, "addr: 127.0.0.1:7001\nrelay_rate_limit_bytes_per_sec: -5\n")
	if _, err := LoadNodeConfig(path); err == nil {
		t.Fatal("expected error for negative rate limit")
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "listen: 127.0.0.1:8080\nbootstrap:\n  - 127.0.0.1:7001\n")
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.RefreshInterval != 10*time.Second {
		t.Errorf("RefreshInterval default = %v, want 10s", cfg.RefreshInterval)
	}
	if len(cfg.Bootstrap) != 1 || cfg.Bootstrap[0] != "127.0.0.1:7001" {
		t.Errorf("Bootstrap = %v", cfg.Bootstrap)
	}
}

func TestLoadGatewayConfigRequiresBootstrap(t *testing.T) {
	path := writeTempConfig(t, "listen: 127.0.0.1:8080\n")
	if _, err := LoadGatewayConfig(path); err == nil {
		t.Fatal("expected error for missing bootstrap peers")
	}
}

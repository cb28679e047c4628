package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the small YAML document fpcoreboot loads to size the arena
// and seed the route snapshot and session map it builds over it.
type Config struct {
	ArenaSizeBytes int64         `yaml:"arena_size_bytes"`
	WorkerCount    int           `yaml:"worker_count"`
	SessionTTLSecs uint64        `yaml:"session_ttl_seconds"`
	Routes         []RouteConfig `yaml:"routes"`
}

// RouteConfig is one (CIDR, label) pair fed into the range collector.
type RouteConfig struct {
	CIDR  string `yaml:"cidr"`
	Label string `yaml:"label"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ArenaSizeBytes <= 0 {
		return nil, fmt.Errorf("config: arena_size_bytes must be positive")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("config: worker_count must be positive")
	}
	if cfg.SessionTTLSecs == 0 {
		return nil, fmt.Errorf("config: session_ttl_seconds must be positive")
	}
	return &cfg, nil
}

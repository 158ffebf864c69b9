// Package config loads run configuration and rule files from YAML.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/agentic-research/flowgraph/internal/diag"
	"gopkg.in/yaml.v3"
)

// Bounds are the tunable precision/termination limits of the taint engines.
// The defaults were chosen empirically.
type Bounds struct {
	MaxFields       int `yaml:"max_fields"`
	MaxDepth        int `yaml:"max_depth"`
	MaxPathsPerSink int `yaml:"max_paths_per_sink"`
}

type CacheConfig struct {
	// MemoryCeilingMB bounds the estimated size of resident per-file fact
	// bundles. Zero disables eviction.
	MemoryCeilingMB int `yaml:"memory_ceiling_mb"`
}

type Engines struct {
	Backward bool `yaml:"backward"`
	Forward  bool `yaml:"forward"`
}

// Config is the complete run configuration.
type Config struct {
	Bounds  Bounds      `yaml:"bounds"`
	Cache   CacheConfig `yaml:"cache"`
	Workers int         `yaml:"workers"`
	Engines Engines     `yaml:"engines"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Bounds: Bounds{
			MaxFields:       5,
			MaxDepth:        10,
			MaxPathsPerSink: 100,
		},
		Cache:   CacheConfig{MemoryCeilingMB: 1024},
		Workers: 4,
		Engines: Engines{Backward: true, Forward: true},
	}
}

// Load reads a YAML config file layered over Default. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations no run could use.
func (c Config) Validate() error {
	switch {
	case c.Bounds.MaxFields < 1:
		return diag.Configf("bounds.max_fields", "must be >= 1, got %d", c.Bounds.MaxFields)
	case c.Bounds.MaxDepth < 1:
		return diag.Configf("bounds.max_depth", "must be >= 1, got %d", c.Bounds.MaxDepth)
	case c.Bounds.MaxPathsPerSink < 1:
		return diag.Configf("bounds.max_paths_per_sink", "must be >= 1, got %d", c.Bounds.MaxPathsPerSink)
	case c.Cache.MemoryCeilingMB < 0:
		return diag.Configf("cache.memory_ceiling_mb", "must be >= 0, got %d", c.Cache.MemoryCeilingMB)
	case c.Workers < 1:
		return diag.Configf("workers", "must be >= 1, got %d", c.Workers)
	case !c.Engines.Backward && !c.Engines.Forward:
		return diag.Configf("engines", "at least one of backward/forward must be enabled")
	}
	return nil
}

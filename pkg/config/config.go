// Package config provides FireFlow configuration management.
// Priority: defaults < config file < environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all FireFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Lake      LakeConfig      `yaml:"lake"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PipelineConfig identifies the pipeline and its drop zone.
type PipelineConfig struct {
	Name    string `yaml:"name"`     // ledger pipeline_name
	DropDir string `yaml:"drop_dir"` // watched client drop directory
}

// WarehouseConfig controls the embedded DuckDB warehouse.
type WarehouseConfig struct {
	Path        string `yaml:"path"`
	MemoryLimit string `yaml:"memory_limit"` // e.g. "8GB"
	Threads     int    `yaml:"threads"`
	TempDir     string `yaml:"temp_dir"` // spill directory for large scans
}

// LakeConfig controls the parquet data lake.
type LakeConfig struct {
	RootDir string `yaml:"root_dir"`
}

// ArchiveConfig controls optional S3 archival of lake snapshots.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"` // for S3-compatible services
	Concurrency int    `yaml:"concurrency"`

	// static credentials; the default AWS chain applies when empty
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TelemetryConfig for optional OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP gRPC, e.g. "localhost:4317"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Pipeline: PipelineConfig{
			Name:    "phase2_incremental",
			DropDir: filepath.Join("data", "client_drop"),
		},
		Warehouse: WarehouseConfig{
			Path:        filepath.Join("data", "warehouse.duckdb"),
			MemoryLimit: "8GB",
			Threads:     4,
			TempDir:     filepath.Join("data", "tmp_duckdb"),
		},
		Lake: LakeConfig{
			RootDir: filepath.Join("data", "data_lake"),
		},
		Archive: ArchiveConfig{
			Region:      "us-east-1",
			Concurrency: 5,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}

// Load reads configuration from path (if it exists) on top of the
// defaults, then applies environment overrides. An empty path loads
// "fireflow.yaml" from the working directory when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "fireflow.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.loadEnv()
	return cfg, nil
}

// loadEnv applies environment variable overrides.
func (c *Config) loadEnv() {
	if v := os.Getenv("FIREFLOW_WAREHOUSE"); v != "" {
		c.Warehouse.Path = v
	}
	if v := os.Getenv("FIREFLOW_DROP_DIR"); v != "" {
		c.Pipeline.DropDir = v
	}
	if v := os.Getenv("FIREFLOW_LAKE_DIR"); v != "" {
		c.Lake.RootDir = v
	}
	if v := os.Getenv("FIREFLOW_PIPELINE"); v != "" {
		c.Pipeline.Name = v
	}
	if v := os.Getenv("FIREFLOW_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Warehouse.Threads = n
		}
	}
	if v := os.Getenv("FIREFLOW_MEMORY_LIMIT"); v != "" {
		c.Warehouse.MemoryLimit = v
	}
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

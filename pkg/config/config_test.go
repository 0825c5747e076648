package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.Name != "phase2_incremental" {
		t.Errorf("unexpected pipeline name: %s", cfg.Pipeline.Name)
	}
	if cfg.Warehouse.Threads != 4 {
		t.Errorf("unexpected threads: %d", cfg.Warehouse.Threads)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fireflow.yaml")
	content := `
pipeline:
  name: test_pipeline
  drop_dir: /tmp/drop
warehouse:
  path: /tmp/wh.duckdb
  memory_limit: 2GB
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.Name != "test_pipeline" {
		t.Errorf("file value not applied: %s", cfg.Pipeline.Name)
	}
	if cfg.Warehouse.MemoryLimit != "2GB" {
		t.Errorf("file value not applied: %s", cfg.Warehouse.MemoryLimit)
	}
	// untouched fields keep defaults
	if cfg.Lake.RootDir == "" {
		t.Error("defaults lost on partial file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIREFLOW_WAREHOUSE", "/env/wh.duckdb")
	t.Setenv("FIREFLOW_THREADS", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Warehouse.Path != "/env/wh.duckdb" {
		t.Errorf("env override not applied: %s", cfg.Warehouse.Path)
	}
	if cfg.Warehouse.Threads != 8 {
		t.Errorf("env override not applied: %d", cfg.Warehouse.Threads)
	}
}

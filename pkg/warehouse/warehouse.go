// Package warehouse provides access to the embedded DuckDB warehouse
// file. Connections are opened per logical unit of work and closed by
// the caller so no stage holds locks across stage boundaries.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/fireflow/fireflow/pkg/config"
)

// Logical schemas inside the warehouse file.
const (
	SchemaBronze = "bronze"
	SchemaSilver = "silver"
	SchemaGold   = "gold"
	SchemaMeta   = "meta"
)

// Open opens the warehouse file and applies the resource pragmas.
// The caller owns the returned handle and must close it.
func Open(cfg config.WarehouseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create warehouse dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", cfg.Path, err)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenReadOnly opens the warehouse without write access.
func OpenReadOnly(cfg config.WarehouseConfig) (*sql.DB, error) {
	db, err := sql.Open("duckdb", cfg.Path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open warehouse read-only %s: %w", cfg.Path, err)
	}
	return db, nil
}

// applyPragmas configures memory limit, spill directory, and threads.
// The temp directory keeps large scans from failing with out-of-memory.
func applyPragmas(db *sql.DB, cfg config.WarehouseConfig) error {
	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA temp_directory='%s'", sqlEscape(cfg.TempDir))); err != nil {
			return fmt.Errorf("set temp_directory: %w", err)
		}
	}
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA memory_limit='%s'", sqlEscape(cfg.MemoryLimit))); err != nil {
			return fmt.Errorf("set memory_limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA threads=%d", cfg.Threads)); err != nil {
			return fmt.Errorf("set threads: %w", err)
		}
	}
	return nil
}

// EnsureSchemas creates the four logical schemas if absent.
func EnsureSchemas(ctx context.Context, db *sql.DB) error {
	for _, s := range []string{SchemaBronze, SchemaSilver, SchemaGold, SchemaMeta} {
		if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+s); err != nil {
			return fmt.Errorf("create schema %s: %w", s, err)
		}
	}
	return nil
}

// TableExists reports whether schema.table exists.
func TableExists(ctx context.Context, db *sql.DB, schema, table string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
		LIMIT 1
	`, schema, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return true, nil
}

// TableColumns returns the column names of schema.table in ordinal order.
func TableColumns(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Package export produces the serving artifacts consumed outside the
// warehouse: a small standalone DuckDB file for the dashboard and an
// xlsx workbook for spreadsheet users. Only gold objects are exported,
// never bronze or silver.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/fireflow/fireflow/pkg/errors"
)

// KPIViews are the reporting views materialized into every export.
var KPIViews = []string{
	"v_kpi_incident_volume_month",
	"v_kpi_response_time_month",
	"v_kpi_top_incident_type",
}

// DimTables are the dimensions shipped alongside the KPIs. The fact
// table stays home: it is too large for a serving copy and the KPIs
// already aggregate it.
var DimTables = []string{
	"dim_date",
	"dim_incident_type",
	"dim_location",
}

// DashboardDB writes a fresh standalone serving database at outputPath
// containing the KPI views (materialized as tables), the dimensions,
// and a meta.dashboard_metadata stamp. The warehouse is attached
// read-only; a missing gold object aborts with a hint to run the
// pipeline first.
func DashboardDB(ctx context.Context, warehousePath, outputPath string) error {
	if _, err := os.Stat(warehousePath); err != nil {
		return errors.FileNotFound(warehousePath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return errors.Wrap(err, errors.CodeExport, "create export directory")
	}
	// always regenerate
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeExport, "remove stale export")
	}

	dst, err := sql.Open("duckdb", outputPath)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "open export database")
	}
	defer dst.Close()

	abs, err := filepath.Abs(warehousePath)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "resolve warehouse path")
	}
	attach := fmt.Sprintf("ATTACH '%s' AS src (READ_ONLY)", sqlEscape(abs))
	if _, err := dst.ExecContext(ctx, attach); err != nil {
		return errors.Wrap(err, errors.CodeExport, "attach warehouse")
	}

	for _, stmt := range []string{
		"CREATE SCHEMA IF NOT EXISTS gold",
		"CREATE SCHEMA IF NOT EXISTS meta",
		"CREATE TABLE meta.dashboard_metadata (exported_at TIMESTAMP, source_db VARCHAR, note VARCHAR)",
	} {
		if _, err := dst.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.CodeExport, "prepare export schemas")
		}
	}
	if _, err := dst.ExecContext(ctx,
		"INSERT INTO meta.dashboard_metadata VALUES (?, ?, ?)",
		time.Now().UTC(), warehousePath, "serving copy: KPIs + dimensions, no fact"); err != nil {
		return errors.Wrap(err, errors.CodeExport, "write export metadata")
	}

	objects := append(append([]string{}, KPIViews...), DimTables...)
	for _, name := range objects {
		ok, err := existsInSource(ctx, dst, name)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(errors.CodeExport, "warehouse is missing gold objects, run the pipeline first").
				WithContext("object", "gold."+name)
		}
		create := fmt.Sprintf("CREATE TABLE gold.%s AS SELECT * FROM src.gold.%s", name, name)
		if _, err := dst.ExecContext(ctx, create); err != nil {
			return errors.Wrap(err, errors.CodeExport, "export gold."+name)
		}
	}

	if _, err := dst.ExecContext(ctx, "DETACH src"); err != nil {
		return errors.Wrap(err, errors.CodeExport, "detach warehouse")
	}
	return nil
}

// existsInSource checks the attached catalog for a gold table or view.
func existsInSource(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM information_schema.tables
		WHERE table_catalog = 'src' AND table_schema = 'gold' AND table_name = ?
		LIMIT 1
	`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeExport, "probe src.gold."+name)
	}
	return true, nil
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

package export

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/fireflow/fireflow/pkg/config"
	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/gold"
	"github.com/fireflow/fireflow/pkg/silver"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

// buildWarehouse creates a warehouse file with one fact row and a full
// gold tier, then closes it.
func buildWarehouse(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wh.duckdb")
	db, err := warehouse.Open(config.WarehouseConfig{Path: path, Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := silver.New(db).Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO silver.calls_clean
		    (call_number, incident_number, received_ts, dispatch_ts,
		     response_time_sec, call_date, call_type, final_priority)
		VALUES
		    (1, 100, TIMESTAMP '2024-04-02 08:30:00', TIMESTAMP '2024-04-02 08:31:00',
		     510, DATE '2024-04-02', 'Structure Fire', 3)`); err != nil {
		t.Fatal(err)
	}
	if _, err := gold.New(db).BuildAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDashboardDB(t *testing.T) {
	ctx := context.Background()
	whPath := buildWarehouse(t)
	outPath := filepath.Join(t.TempDir(), "exports", "dashboard.duckdb")

	if err := DashboardDB(ctx, whPath, outPath); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("duckdb", outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM gold.v_kpi_incident_volume_month").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("kpi rows = %d, want 1", n)
	}
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM gold.dim_location").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("dim_location rows = %d, want 1", n)
	}

	// fact stays home
	err = db.QueryRowContext(ctx, "SELECT count(*) FROM gold.fact_incident").Scan(&n)
	if err == nil {
		t.Error("fact_incident exported, want serving copy without it")
	}

	var note string
	if err := db.QueryRowContext(ctx, "SELECT note FROM meta.dashboard_metadata").Scan(&note); err != nil {
		t.Fatal(err)
	}
	if note == "" {
		t.Error("metadata note is empty")
	}
}

func TestDashboardDBRequiresGold(t *testing.T) {
	ctx := context.Background()
	whPath := filepath.Join(t.TempDir(), "wh.duckdb")
	db, err := warehouse.Open(config.WarehouseConfig{Path: whPath, Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	err = DashboardDB(ctx, whPath, filepath.Join(t.TempDir(), "dashboard.duckdb"))
	if err == nil {
		t.Fatal("expected error exporting a warehouse without gold")
	}
	if !errors.IsCode(err, errors.CodeExport) {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeExport)
	}
}

func TestWorkbook(t *testing.T) {
	ctx := context.Background()
	whPath := buildWarehouse(t)
	db, err := warehouse.OpenReadOnly(config.WarehouseConfig{Path: whPath, Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	outPath := filepath.Join(t.TempDir(), "kpi.xlsx")
	if err := Workbook(ctx, db, outPath); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != len(KPIViews) {
		t.Fatalf("sheets = %v, want %d", sheets, len(KPIViews))
	}

	rows, err := f.GetRows("incident_volume_month")
	if err != nil {
		t.Fatal(err)
	}
	// header plus one aggregate row
	if len(rows) != 2 {
		t.Fatalf("incident_volume_month rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "year" {
		t.Errorf("header = %v, want year first", rows[0])
	}
}

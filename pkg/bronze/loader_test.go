package bronze

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/fireflow/fireflow/pkg/config"
	"github.com/fireflow/fireflow/pkg/fingerprint"
	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := warehouse.Open(config.WarehouseConfig{
		Path:    filepath.Join(t.TempDir(), "wh.duckdb"),
		Threads: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newRunWithPending starts a run and logs the given file PENDING.
func newRunWithPending(t *testing.T, db *sql.DB, path string) string {
	t.Helper()
	ctx := context.Background()
	fp, err := fingerprint.File(path)
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(db)
	if err := l.EnsureTables(ctx); err != nil {
		t.Fatal(err)
	}
	runID, err := l.StartRun(ctx, "p1", ledger.TriggerManual, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.LogFile(ctx, runID, "p1", filepath.Dir(path), fp, ledger.StatusPending, ""); err != nil {
		t.Fatal(err)
	}
	return runID
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func tableCount(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestLoadAllCreatesTableAndInserts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeCSV(t, dir, "fire_calls.csv",
		"Call Number,City,Received DtTm\n1,SF,01/01/2024 10:00:00 AM\n2,SF,01/01/2024 11:00:00 AM\n")

	runID := newRunWithPending(t, db, path)
	res, err := NewLoader(db, "p1").LoadAll(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if res.InsertedCalls != 2 || res.InsertedIncidents != 0 || res.Files != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := tableCount(t, db, "bronze.calls"); n != 2 {
		t.Errorf("bronze.calls has %d rows, want 2", n)
	}

	// business columns land sanitized and as text
	var city string
	if err := db.QueryRow("SELECT city FROM bronze.calls WHERE call_number = '1'").Scan(&city); err != nil {
		t.Fatal(err)
	}
	if city != "SF" {
		t.Errorf("unexpected city: %q", city)
	}
}

func TestLoadAllIdempotentOnReRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeCSV(t, dir, "fire_calls.csv", "Call Number,City\n1,SF\n2,SF\n")

	ld := NewLoader(db, "p1")

	first, err := ld.LoadAll(ctx, newRunWithPending(t, db, path))
	if err != nil {
		t.Fatal(err)
	}
	if first.InsertedCalls != 2 {
		t.Fatalf("first load: %+v", first)
	}

	// force the same content PENDING again, as if the registry check
	// had been bypassed; the anti-join still blocks duplicates
	second, err := ld.LoadAll(ctx, newRunWithPending(t, db, path))
	if err != nil {
		t.Fatal(err)
	}
	if second.InsertedCalls != 0 || second.Files != 1 {
		t.Errorf("second load inserted rows: %+v", second)
	}
	if n := tableCount(t, db, "bronze.calls"); n != 2 {
		t.Errorf("row count grew on re-run: %d", n)
	}
}

func TestLoadAllSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	ld := NewLoader(db, "p1")

	pathA := writeCSV(t, dir, "calls_old.csv", "Call Number,City\n1,SF\n")
	if _, err := ld.LoadAll(ctx, newRunWithPending(t, db, pathA)); err != nil {
		t.Fatal(err)
	}

	// the next generation of the export gained a column
	pathB := writeCSV(t, dir, "calls_new.csv", "Call Number,City,Battalion\n2,SF,B01\n")
	if _, err := ld.LoadAll(ctx, newRunWithPending(t, db, pathB)); err != nil {
		t.Fatal(err)
	}

	cols, err := warehouse.TableColumns(ctx, db, "bronze", "calls")
	if err != nil {
		t.Fatal(err)
	}
	hasBattalion := false
	for _, c := range cols {
		if c == "battalion" {
			hasBattalion = true
		}
	}
	if !hasBattalion {
		t.Fatalf("battalion column not added, columns: %v", cols)
	}

	// old rows read NULL for the new column
	var battalion sql.NullString
	if err := db.QueryRow("SELECT battalion FROM bronze.calls WHERE call_number = '1'").Scan(&battalion); err != nil {
		t.Fatal(err)
	}
	if battalion.Valid {
		t.Errorf("old row has non-NULL battalion: %q", battalion.String)
	}
	if n := tableCount(t, db, "bronze.calls"); n != 2 {
		t.Errorf("unexpected row count: %d", n)
	}
}

func TestLoadAllRoutesDatasets(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()
	ld := NewLoader(db, "p1")

	if _, err := ld.LoadAll(ctx, newRunWithPending(t, db,
		writeCSV(t, dir, "fire_calls.csv", "Call Number\n1\n"))); err != nil {
		t.Fatal(err)
	}
	res, err := ld.LoadAll(ctx, newRunWithPending(t, db,
		writeCSV(t, dir, "fire_incidents.csv", "IncidentNumber\n100\n101\n")))
	if err != nil {
		t.Fatal(err)
	}
	if res.InsertedIncidents != 2 || res.InsertedCalls != 0 {
		t.Errorf("unexpected routing: %+v", res)
	}
	if n := tableCount(t, db, "bronze.incidents"); n != 2 {
		t.Errorf("bronze.incidents has %d rows", n)
	}
}

func TestLoadAllRegistersContent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeCSV(t, dir, "fire_calls.csv", "Call Number\n1\n")
	fp, err := fingerprint.File(path)
	if err != nil {
		t.Fatal(err)
	}

	runID := newRunWithPending(t, db, path)
	if _, err := NewLoader(db, "p1").LoadAll(ctx, runID); err != nil {
		t.Fatal(err)
	}

	l := ledger.New(db)
	seen, err := l.AlreadyIngested(ctx, "p1", fp.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("content not registered after successful load")
	}
	remaining, err := l.PendingFiles(ctx, runID, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("files left PENDING after load: %+v", remaining)
	}
}

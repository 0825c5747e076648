package gold

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fireflow/fireflow/pkg/config"
	"github.com/fireflow/fireflow/pkg/silver"
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

// emptySilver creates the typed silver tables with no rows, so tests
// can insert exactly the rows they need.
func emptySilver(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := silver.New(db).Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func mustExec(t *testing.T, db *sql.DB, query string) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		t.Fatalf("%v\nquery: %s", err, query)
	}
}

const insertCall = `
INSERT INTO silver.calls_clean
    (call_number, incident_number, received_ts, dispatch_ts, on_scene_ts,
     response_time_sec, dispatch_delay_sec, travel_time_sec,
     call_date, call_type, call_type_group, final_priority,
     address, city, zipcode_of_incident, battalion)
VALUES
    (1, 100, TIMESTAMP '2024-04-02 08:30:00', TIMESTAMP '2024-04-02 08:31:00',
     TIMESTAMP '2024-04-02 08:38:30', 510, 60, 450,
     DATE '2024-04-02', 'Structure Fire', 'Fire', 3,
     '100 MAIN ST', 'San Francisco', 94110, 'B02')`

const insertIncident = `
INSERT INTO silver.incidents_clean
    (incident_number, call_number, incident_date, alarm_ts, close_ts,
     suppression_units, suppression_personnel, estimated_property_loss,
     primary_situation, address, city, zipcode, battalion)
VALUES
    (100, 1, DATE '2024-04-02', TIMESTAMP '2024-04-02 08:30:00',
     TIMESTAMP '2024-04-02 09:10:00', 3, 12, 25000,
     '111 - building fire', '100 MAIN ST', 'San Francisco', 94110, 'B02')`

func TestBuildAllStar(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)
	mustExec(t, db, insertCall)
	mustExec(t, db, insertIncident)

	res, err := New(db).BuildAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Facts != 1 {
		t.Fatalf("facts = %d, want 1", res.Facts)
	}
	if res.Dates != 1 {
		t.Errorf("dates = %d, want 1", res.Dates)
	}

	var (
		dateID                        int64
		locationID, incidentTypeID   sql.NullInt64
		responseSec, durationSec      int64
		loss                          int64
	)
	err = db.QueryRowContext(ctx, `
		SELECT date_id, location_id, incident_type_id,
		       response_time_sec, incident_duration_sec, estimated_property_loss
		FROM gold.fact_incident`).
		Scan(&dateID, &locationID, &incidentTypeID, &responseSec, &durationSec, &loss)
	if err != nil {
		t.Fatal(err)
	}
	if dateID != 20240402 {
		t.Errorf("date_id = %d, want 20240402", dateID)
	}
	if !locationID.Valid {
		t.Error("location_id is NULL, want dimension match")
	}
	if !incidentTypeID.Valid {
		t.Error("incident_type_id is NULL, want dimension match")
	}
	if responseSec != 510 {
		t.Errorf("response_time_sec = %d, want 510", responseSec)
	}
	// 08:30:00 received to 09:10:00 close
	if durationSec != 2400 {
		t.Errorf("incident_duration_sec = %d, want 2400", durationSec)
	}
	if loss != 25000 {
		t.Errorf("estimated_property_loss = %d, want 25000", loss)
	}

	var weekday int
	var isWeekend bool
	err = db.QueryRowContext(ctx,
		"SELECT weekday, is_weekend FROM gold.dim_date WHERE date_id = 20240402").
		Scan(&weekday, &isWeekend)
	if err != nil {
		t.Fatal(err)
	}
	// 2024-04-02 is a Tuesday
	if weekday != 2 || isWeekend {
		t.Errorf("weekday/is_weekend = %d/%v, want 2/false", weekday, isWeekend)
	}
}

func TestLocationKeyCoverage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)

	// two calls at the same address, one at another, none with a
	// matching incident row
	mustExec(t, db, `
		INSERT INTO silver.calls_clean
		    (call_number, incident_number, call_date, address, city, battalion)
		VALUES
		    (1, 100, DATE '2024-04-02', '100 MAIN ST', 'SF', 'B02'),
		    (2, 101, DATE '2024-04-02', '100 MAIN ST', 'SF', 'B02'),
		    (3, 102, DATE '2024-04-03', '7 OAK AVE', 'SF', 'B03')`)

	res, err := New(db).BuildAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Locations != 2 {
		t.Fatalf("locations = %d, want 2", res.Locations)
	}

	var unmatched int64
	err = db.QueryRowContext(ctx,
		"SELECT count(*) FROM gold.fact_incident WHERE location_id IS NULL").
		Scan(&unmatched)
	if err != nil {
		t.Fatal(err)
	}
	if unmatched != 0 {
		t.Errorf("%d fact rows without location_id, want 0", unmatched)
	}

	var distinctLocs int64
	err = db.QueryRowContext(ctx,
		`SELECT count(DISTINCT location_id) FROM gold.fact_incident
		 WHERE call_number IN (1, 2)`).
		Scan(&distinctLocs)
	if err != nil {
		t.Fatal(err)
	}
	if distinctLocs != 1 {
		t.Errorf("calls 1 and 2 map to %d locations, want 1", distinctLocs)
	}
}

func TestFactDropsRowsWithoutEventDate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)

	mustExec(t, db, `
		INSERT INTO silver.calls_clean (call_number, incident_number, call_date)
		VALUES (1, 100, DATE '2024-04-02'), (2, 101, NULL)`)

	res, err := New(db).BuildAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Facts != 1 {
		t.Errorf("facts = %d, want 1 (undated row dropped)", res.Facts)
	}
}

func TestFactExcludesCallsWithoutIncidentNumber(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)

	mustExec(t, db, `
		INSERT INTO silver.calls_clean (call_number, incident_number, call_date)
		VALUES (1, 100, DATE '2024-04-02'), (2, NULL, DATE '2024-04-02')`)

	res, err := New(db).BuildAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Facts != 1 {
		t.Errorf("facts = %d, want 1 (call without incident_number excluded)", res.Facts)
	}
}

func TestKPIViews(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)
	mustExec(t, db, insertCall)
	mustExec(t, db, insertIncident)

	if _, err := New(db).BuildAll(ctx); err != nil {
		t.Fatal(err)
	}

	var year, month int
	var avg float64
	var n int64
	err := db.QueryRowContext(ctx,
		"SELECT year, month, avg_response_time_sec, n_incidents FROM gold.v_kpi_response_time_month").
		Scan(&year, &month, &avg, &n)
	if err != nil {
		t.Fatal(err)
	}
	if year != 2024 || month != 4 || avg != 510 || n != 1 {
		t.Errorf("kpi row = %d/%d avg=%v n=%d, want 2024/4 avg=510 n=1", year, month, avg, n)
	}

	var callType string
	err = db.QueryRowContext(ctx,
		"SELECT call_type FROM gold.v_kpi_top_incident_type").Scan(&callType)
	if err != nil {
		t.Fatal(err)
	}
	if callType != "Structure Fire" {
		t.Errorf("call_type = %q, want Structure Fire", callType)
	}
}

func TestBuildAllEmptySilver(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emptySilver(t, db)

	res, err := New(db).BuildAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{}) {
		t.Errorf("result = %+v, want all zero", res)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM gold.v_kpi_incident_volume_month")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	if rows.Next() {
		t.Error("unexpected KPI rows over empty fact")
	}
}

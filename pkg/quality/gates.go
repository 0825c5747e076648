// Package quality holds the fail-fast assertion suites that stand
// between the pipeline stages and a "done" run. Every assertion is a
// whole-table aggregate that must come back zero; the first violation
// aborts with the invariant name and the offending row count.
package quality

import (
	"context"
	"database/sql"

	"github.com/fireflow/fireflow/pkg/errors"
)

// assertion counts rows violating one invariant.
type assertion struct {
	invariant string
	query     string
}

func runAssertions(ctx context.Context, db *sql.DB, checks []assertion) error {
	for _, a := range checks {
		var offending int64
		if err := db.QueryRowContext(ctx, a.query).Scan(&offending); err != nil {
			return errors.Wrap(err, errors.CodeQualityGate, "evaluate "+a.invariant)
		}
		if offending != 0 {
			return errors.QualityGate(a.invariant, offending)
		}
	}
	return nil
}

var silverAssertions = []assertion{
	{"silver_not_empty",
		`SELECT CASE WHEN (SELECT count(*) FROM silver.calls_clean) +
		             (SELECT count(*) FROM silver.incidents_clean) = 0
		        THEN 1 ELSE 0 END`},

	{"calls_call_number_not_null",
		"SELECT count(*) FROM silver.calls_clean WHERE call_number IS NULL"},
	{"calls_call_number_unique",
		"SELECT count(*) - count(DISTINCT call_number) FROM silver.calls_clean"},
	{"calls_elapsed_non_negative",
		`SELECT count(*) FROM silver.calls_clean
		 WHERE response_time_sec < 0 OR dispatch_delay_sec < 0 OR travel_time_sec < 0`},

	{"incidents_incident_number_not_null",
		"SELECT count(*) FROM silver.incidents_clean WHERE incident_number IS NULL"},
	{"incidents_incident_number_unique",
		"SELECT count(*) - count(DISTINCT incident_number) FROM silver.incidents_clean"},
	{"incidents_losses_non_negative",
		`SELECT count(*) FROM silver.incidents_clean
		 WHERE estimated_property_loss < 0 OR estimated_contents_loss < 0`},
	{"incidents_resources_non_negative",
		`SELECT count(*) FROM silver.incidents_clean
		 WHERE suppression_units < 0 OR suppression_personnel < 0
		    OR ems_units < 0 OR ems_personnel < 0
		    OR other_units < 0 OR other_personnel < 0`},
}

// silverSampleAssertions run over a bounded random sample. They catch
// wholesale parse breakage (a format change that try_strptime quietly
// turns into garbage years) without scanning the full table.
var silverSampleAssertions = []assertion{
	{"calls_sample_received_ts_in_range",
		`SELECT count(*) FROM (
		     SELECT received_ts FROM silver.calls_clean USING SAMPLE 1000 ROWS
		 ) WHERE received_ts IS NOT NULL
		     AND (received_ts < TIMESTAMP '1990-01-01' OR received_ts > now()::TIMESTAMP + INTERVAL 1 DAY)`},
	{"calls_sample_zipcode_in_range",
		`SELECT count(*) FROM (
		     SELECT zipcode_of_incident AS z FROM silver.calls_clean USING SAMPLE 1000 ROWS
		 ) WHERE z IS NOT NULL AND (z < 1 OR z > 99999)`},
	{"incidents_sample_incident_date_in_range",
		`SELECT count(*) FROM (
		     SELECT incident_date FROM silver.incidents_clean USING SAMPLE 1000 ROWS
		 ) WHERE incident_date IS NOT NULL
		     AND (incident_date < DATE '1990-01-01' OR incident_date > current_date + INTERVAL 1 DAY)`},
}

var goldAssertions = []assertion{
	{"fact_not_empty",
		"SELECT CASE WHEN count(*) = 0 THEN 1 ELSE 0 END FROM gold.fact_incident"},
	{"fact_date_id_not_null",
		"SELECT count(*) FROM gold.fact_incident WHERE date_id IS NULL"},
	{"fact_location_id_not_null",
		"SELECT count(*) FROM gold.fact_incident WHERE location_id IS NULL"},
	{"fact_incident_type_id_not_null",
		"SELECT count(*) FROM gold.fact_incident WHERE incident_type_id IS NULL"},
	{"fact_incident_id_unique",
		"SELECT count(*) - count(DISTINCT incident_id) FROM gold.fact_incident"},
	{"fact_durations_non_negative",
		`SELECT count(*) FROM gold.fact_incident
		 WHERE response_time_sec < 0 OR dispatch_delay_sec < 0
		    OR travel_time_sec < 0 OR incident_duration_sec < 0`},
	{"dim_location_key_unique",
		"SELECT count(*) - count(DISTINCT location_key) FROM gold.dim_location"},
	{"dim_date_id_unique",
		"SELECT count(*) - count(DISTINCT date_id) FROM gold.dim_date"},
}

// SilverGate validates the cleaned tables after a rebuild.
func SilverGate(ctx context.Context, db *sql.DB) error {
	if err := runAssertions(ctx, db, silverAssertions); err != nil {
		return err
	}
	return runAssertions(ctx, db, silverSampleAssertions)
}

// GoldGate validates the star schema after a build. A gold build that
// produced zero fact rows fails the gate: the build only runs after
// bronze inserted something, so an empty fact means every new row was
// dropped on the way.
func GoldGate(ctx context.Context, db *sql.DB) error {
	return runAssertions(ctx, db, goldAssertions)
}

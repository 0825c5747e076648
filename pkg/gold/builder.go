// Package gold rebuilds the query-facing star schema from silver.
// Dimensions are rebuilt before the fact so every run reranks
// surrogate keys; consumers join through the current tables rather
// than caching ids across runs.
package gold

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

// Builder rebuilds the gold dimensions, fact table and KPI views.
type Builder struct {
	db *sql.DB
}

func New(db *sql.DB) *Builder {
	return &Builder{db: db}
}

// Result reports post-build row counts.
type Result struct {
	Dates         int64
	IncidentTypes int64
	Locations     int64
	Facts         int64
}

// BuildAll rebuilds the whole star schema in dependency order.
func (b *Builder) BuildAll(ctx context.Context) (Result, error) {
	var res Result

	if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+warehouse.SchemaGold); err != nil {
		return res, errors.Wrap(err, errors.CodeGoldBuild, "create gold schema")
	}

	steps := []struct {
		table string
		sql   string
		count *int64
	}{
		{"dim_date", dimDateSQL, &res.Dates},
		{"dim_incident_type", dimIncidentTypeSQL, &res.IncidentTypes},
		{"dim_location", dimLocationSQL(), &res.Locations},
		{"fact_incident", factIncidentSQL(), &res.Facts},
	}
	for _, step := range steps {
		if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS gold."+step.table); err != nil {
			return res, errors.Wrap(err, errors.CodeGoldBuild, "drop gold."+step.table)
		}
		if _, err := b.db.ExecContext(ctx, step.sql); err != nil {
			return res, errors.Wrap(err, errors.CodeGoldBuild, "build gold."+step.table)
		}
		if err := b.db.QueryRowContext(ctx, "SELECT count(*) FROM gold."+step.table).Scan(step.count); err != nil {
			return res, errors.Wrap(err, errors.CodeGoldBuild, "count gold."+step.table)
		}
	}

	if err := b.CreateKPIViews(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// dim_date covers every distinct date seen on either silver table.
// The surrogate is the date itself as YYYYMMDD, so it is stable across
// rebuilds.
const dimDateSQL = `
CREATE TABLE gold.dim_date AS
WITH all_dates AS (
    SELECT DISTINCT call_date AS d
    FROM silver.calls_clean
    WHERE call_date IS NOT NULL
    UNION
    SELECT DISTINCT incident_date AS d
    FROM silver.incidents_clean
    WHERE incident_date IS NOT NULL
)
SELECT
    CAST(strftime(d, '%Y%m%d') AS BIGINT) AS date_id,
    d AS date,
    EXTRACT(year FROM d)::INT AS year,
    EXTRACT(month FROM d)::INT AS month,
    EXTRACT(day FROM d)::INT AS day,
    EXTRACT(dow FROM d)::INT AS weekday,
    EXTRACT(week FROM d)::INT AS week_of_year,
    CASE WHEN EXTRACT(dow FROM d) IN (0, 6) THEN TRUE ELSE FALSE END AS is_weekend
FROM all_dates
ORDER BY d`

// dim_incident_type holds the distinct classification tuples of calls
// joined to their incident. All-NULL tuples are excluded; the fact
// join handles them as a NULL incident_type_id.
const dimIncidentTypeSQL = `
CREATE TABLE gold.dim_incident_type AS
WITH base AS (
    SELECT
        c.call_type,
        c.call_type_group,
        c.final_priority,
        i.primary_situation
    FROM silver.calls_clean c
    LEFT JOIN silver.incidents_clean i
      ON i.incident_number = c.incident_number
    WHERE c.incident_number IS NOT NULL
),
cleaned AS (
    SELECT DISTINCT
        NULLIF(TRIM(call_type), '') AS call_type,
        NULLIF(TRIM(call_type_group), '') AS call_type_group,
        final_priority,
        NULLIF(TRIM(primary_situation), '') AS primary_situation
    FROM base
    WHERE call_type IS NOT NULL
       OR call_type_group IS NOT NULL
       OR final_priority IS NOT NULL
       OR primary_situation IS NOT NULL
)
SELECT
    row_number() OVER (ORDER BY call_type, call_type_group, primary_situation, final_priority) AS incident_type_id,
    call_type,
    call_type_group,
    primary_situation,
    final_priority
FROM cleaned`

func dimLocationSQL() string {
	return fmt.Sprintf(`
CREATE TABLE gold.dim_location AS
WITH base AS (
    SELECT %s
    FROM silver.calls_clean c
    LEFT JOIN silver.incidents_clean i
      ON i.incident_number = c.incident_number
),
keys AS (
    SELECT DISTINCT %s
    FROM base
),
keyed AS (
    SELECT %s AS location_key, *
    FROM keys
)
SELECT
    row_number() OVER (ORDER BY location_key) AS location_id,
    location_key,
    address, city, zipcode, neighborhood, battalion, station_area,
    supervisor_district, fire_prevention_district, box, location_point
FROM keyed`,
		locationBaseSQL, locationNormalizeSQL, locationKeySQL())
}

// fact_incident takes calls as the driving table, enriches from
// incidents, and resolves the three dimension keys. The location join
// goes through the hash key, the type join through null-safe tuple
// equality. Rows without any event date cannot join dim_date and are
// dropped.
func factIncidentSQL() string {
	return fmt.Sprintf(`
CREATE TABLE gold.fact_incident AS
WITH base AS (
    SELECT
        c.call_number,
        c.incident_number,
        c.received_ts,
        c.dispatch_ts,
        c.response_ts,
        c.on_scene_ts,
        c.response_time_sec,
        c.dispatch_delay_sec,
        c.travel_time_sec,
        c.number_of_alarms AS c_number_of_alarms,
        i.number_of_alarms AS i_number_of_alarms,
        i.suppression_units,
        i.suppression_personnel,
        i.ems_units,
        i.ems_personnel,
        i.other_units,
        i.other_personnel,
        i.estimated_property_loss,
        i.estimated_contents_loss,
        c.call_type,
        c.call_type_group,
        i.primary_situation,
        c.final_priority,
        c.call_date,
        i.incident_date,
        i.close_ts,
        %s
    FROM silver.calls_clean c
    LEFT JOIN silver.incidents_clean i
      ON i.incident_number = c.incident_number
    WHERE c.incident_number IS NOT NULL
),
loc_keys AS (
    SELECT *, %s
    FROM base
),
keyed AS (
    SELECT *, %s AS location_key
    FROM loc_keys
),
d AS (
    SELECT k.*, COALESCE(k.incident_date, k.call_date) AS event_date
    FROM keyed k
    WHERE COALESCE(k.incident_date, k.call_date) IS NOT NULL
)
SELECT
    row_number() OVER () AS incident_id,
    d.incident_number,
    d.call_number,
    dd.date_id,
    dl.location_id,
    dit.incident_type_id,
    d.received_ts,
    d.dispatch_ts,
    d.response_ts,
    d.on_scene_ts,
    d.close_ts,
    d.response_time_sec,
    d.dispatch_delay_sec,
    d.travel_time_sec,
    CASE
      WHEN d.received_ts IS NOT NULL AND d.close_ts IS NOT NULL
       AND datediff('second', d.received_ts, d.close_ts) >= 0
      THEN datediff('second', d.received_ts, d.close_ts)
      ELSE NULL
    END AS incident_duration_sec,
    COALESCE(d.c_number_of_alarms, d.i_number_of_alarms) AS number_of_alarms,
    d.suppression_units,
    d.suppression_personnel,
    d.ems_units,
    d.ems_personnel,
    d.other_units,
    d.other_personnel,
    d.estimated_property_loss,
    d.estimated_contents_loss,
    d.final_priority
FROM d
LEFT JOIN gold.dim_date dd
  ON dd.date = CAST(d.event_date AS DATE)
LEFT JOIN gold.dim_location dl
  ON dl.location_key = d.location_key
LEFT JOIN gold.dim_incident_type dit
  ON dit.call_type IS NOT DISTINCT FROM NULLIF(TRIM(d.call_type), '')
 AND dit.call_type_group IS NOT DISTINCT FROM NULLIF(TRIM(d.call_type_group), '')
 AND dit.primary_situation IS NOT DISTINCT FROM NULLIF(TRIM(d.primary_situation), '')
 AND dit.final_priority IS NOT DISTINCT FROM d.final_priority`,
		locationBaseSQL, locationNormalizeSQL, locationKeySQL())
}

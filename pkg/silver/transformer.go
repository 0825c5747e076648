// Package silver rebuilds the typed, deduplicated silver tier from
// bronze. The rebuild is wholesale: both clean tables are dropped and
// recreated on every run, so silver is always a pure function of the
// current bronze contents.
package silver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

const (
	TableCalls     = "calls_clean"
	TableIncidents = "incidents_clean"
)

// Transformer rebuilds silver.calls_clean and silver.incidents_clean.
type Transformer struct {
	db *sql.DB
}

func New(db *sql.DB) *Transformer {
	return &Transformer{db: db}
}

// Result reports the post-rebuild row counts.
type Result struct {
	Calls     int64
	Incidents int64
}

// Rebuild drops and recreates both clean tables. A bronze table that
// does not exist yet yields an empty clean table with the full typed
// schema, so downstream gold SQL never has to probe for columns.
func (t *Transformer) Rebuild(ctx context.Context) (Result, error) {
	var res Result

	if _, err := t.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+warehouse.SchemaSilver); err != nil {
		return res, errors.Wrap(err, errors.CodeSilverRebuild, "create silver schema")
	}

	calls, err := t.rebuildTable(ctx, "calls", TableCalls, callsColumns, callsDerived, "call_number")
	if err != nil {
		return res, err
	}
	res.Calls = calls

	incidents, err := t.rebuildTable(ctx, "incidents", TableIncidents, incidentsColumns, nil, "incident_number")
	if err != nil {
		return res, err
	}
	res.Incidents = incidents

	return res, nil
}

// derivedCol is a metric computed from already-resolved concepts.
type derivedCol struct {
	out string
	// expr receives the resolver and returns typed SQL, or "" when the
	// inputs it needs are not present in this bronze generation.
	expr func(r *resolver) string
}

// callsDerived holds the elapsed-time metrics. Negative spans mean
// clock skew between CAD timestamps and are nulled rather than kept.
var callsDerived = []derivedCol{
	{out: "response_time_sec", expr: func(r *resolver) string {
		return elapsedSQL(r.parsed("received_ts"), r.parsed("on_scene_ts"))
	}},
	{out: "dispatch_delay_sec", expr: func(r *resolver) string {
		return elapsedSQL(r.parsed("received_ts"), r.parsed("dispatch_ts"))
	}},
	{out: "travel_time_sec", expr: func(r *resolver) string {
		return elapsedSQL(r.parsed("dispatch_ts"), r.parsed("on_scene_ts"))
	}},
}

func (t *Transformer) rebuildTable(ctx context.Context, bronzeTable, cleanTable string, specs []colSpec, derived []derivedCol, dedupKey string) (int64, error) {
	target := warehouse.SchemaSilver + "." + cleanTable

	exists, err := warehouse.TableExists(ctx, t.db, warehouse.SchemaBronze, bronzeTable)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeSilverRebuild, "probe bronze."+bronzeTable)
	}

	if _, err := t.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return 0, errors.Wrap(err, errors.CodeSilverRebuild, "drop "+target)
	}

	if !exists {
		if _, err := t.db.ExecContext(ctx, emptyTableSQL(target, specs, derived)); err != nil {
			return 0, errors.Wrap(err, errors.CodeSilverRebuild, "create empty "+target)
		}
		return 0, nil
	}

	cols, err := warehouse.TableColumns(ctx, t.db, warehouse.SchemaBronze, bronzeTable)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeSilverRebuild, "describe bronze."+bronzeTable)
	}

	r, err := newResolver(specs, cols)
	if err != nil {
		return 0, err
	}

	query, err := buildSQL(target, warehouse.SchemaBronze+"."+bronzeTable, r, derived, dedupKey)
	if err != nil {
		return 0, err
	}
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return 0, errors.Wrap(err, errors.CodeSilverRebuild, "rebuild "+target).
			WithContext("bronze_table", bronzeTable)
	}

	var n int64
	if err := t.db.QueryRowContext(ctx, "SELECT count(*) FROM "+target).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodeSilverRebuild, "count "+target)
	}
	return n, nil
}

// resolver binds concept specs to the columns actually present in a
// bronze table.
type resolver struct {
	specs   []colSpec
	present map[string]bool
	// source column per output name, "" when no candidate matched
	source map[string]string
}

func newResolver(specs []colSpec, bronzeCols []string) (*resolver, error) {
	present := make(map[string]bool, len(bronzeCols))
	for _, c := range bronzeCols {
		present[c] = true
	}
	r := &resolver{specs: specs, present: present, source: make(map[string]string, len(specs))}
	for _, s := range specs {
		found := ""
		for _, cand := range s.candidates {
			if present[cand] {
				found = cand
				break
			}
		}
		if found == "" && s.required {
			return nil, errors.MissingColumn(s.out, s.candidates)
		}
		r.source[s.out] = found
	}
	return r, nil
}

// parsed returns the typed SQL expression for an output column, or ""
// when the concept has no source column in this bronze generation.
func (r *resolver) parsed(out string) string {
	src := r.source[out]
	if src == "" {
		return ""
	}
	for _, s := range r.specs {
		if s.out == out {
			return typedExpr(src, s.kind)
		}
	}
	return ""
}

func typedExpr(src string, kind colKind) string {
	q := warehouse.QuoteIdent(src)
	switch kind {
	case kindInt:
		return fmt.Sprintf("try_cast(%s AS INTEGER)", q)
	case kindBigint:
		return fmt.Sprintf("try_cast(%s AS BIGINT)", q)
	case kindMoney:
		return fmt.Sprintf("CASE WHEN try_cast(%s AS BIGINT) < 0 THEN NULL ELSE try_cast(%s AS BIGINT) END", q, q)
	case kindTimestamp:
		return tsParseSQL(q)
	case kindDate:
		return dateParseSQL(q)
	default:
		return fmt.Sprintf("NULLIF(TRIM(%s), '')", q)
	}
}

// tsParseSQL tries the CAD export formats before giving the engine a
// last shot at whatever else shows up.
func tsParseSQL(quoted string) string {
	return fmt.Sprintf(
		"COALESCE(try_strptime(%[1]s, '%%m/%%d/%%Y %%I:%%M:%%S %%p'), try_strptime(%[1]s, '%%m/%%d/%%Y %%H:%%M:%%S'), try_strptime(%[1]s, '%%Y-%%m-%%d %%H:%%M:%%S'), try_cast(%[1]s AS TIMESTAMP))",
		quoted)
}

func dateParseSQL(quoted string) string {
	return fmt.Sprintf(
		"try_cast(COALESCE(try_strptime(%[1]s, '%%m/%%d/%%Y'), try_strptime(%[1]s, '%%Y-%%m-%%d'), try_cast(%[1]s AS TIMESTAMP)) AS DATE)",
		quoted)
}

// elapsedSQL computes whole seconds between two parsed timestamps,
// nulling spans that run backwards.
func elapsedSQL(start, end string) string {
	if start == "" || end == "" {
		return ""
	}
	return fmt.Sprintf(
		"CASE WHEN %[1]s IS NOT NULL AND %[2]s IS NOT NULL AND datediff('second', %[1]s, %[2]s) >= 0 THEN datediff('second', %[1]s, %[2]s) ELSE NULL END",
		start, end)
}

func buildSQL(target, source string, r *resolver, derived []derivedCol, dedupKey string) (string, error) {
	var sel []string
	for _, s := range r.specs {
		expr := r.parsed(s.out)
		if expr == "" {
			expr = "CAST(NULL AS " + s.kind.sqlType() + ")"
		}
		sel = append(sel, expr+" AS "+warehouse.QuoteIdent(s.out))
	}
	for _, d := range derived {
		expr := d.expr(r)
		if expr == "" {
			expr = "CAST(NULL AS BIGINT)"
		}
		sel = append(sel, expr+" AS "+warehouse.QuoteIdent(d.out))
	}

	ordinal := "CAST(NULL AS BIGINT)"
	if r.present["_source_row_number"] {
		ordinal = "try_cast(_source_row_number AS BIGINT)"
	}
	sel = append(sel, ordinal+" AS source_row_number")

	keyExpr := r.parsed(dedupKey)
	if keyExpr == "" {
		return "", errors.New(errors.CodeSilverRebuild, "dedup key "+dedupKey+" unresolved")
	}

	// Most recent event wins; rows with an unparseable event timestamp
	// sort behind everything dated. Ties break on ingestion recency,
	// then on position within the source file.
	order := []string{}
	if ts := r.parsed("received_ts"); ts != "" {
		order = append(order, fmt.Sprintf("COALESCE(%s, TIMESTAMP '1900-01-01') DESC", ts))
	} else if ts := r.parsed("alarm_ts"); ts != "" {
		order = append(order, fmt.Sprintf("COALESCE(%s, TIMESTAMP '1900-01-01') DESC", ts))
	}
	if r.present["_ingested_at_utc"] {
		order = append(order, "try_cast(_ingested_at_utc AS TIMESTAMP) DESC")
	}
	if r.present["_source_row_number"] {
		order = append(order, "try_cast(_source_row_number AS BIGINT) DESC")
	}
	if len(order) == 0 {
		order = append(order, keyExpr+" DESC")
	}

	return fmt.Sprintf(
		"CREATE TABLE %s AS\nSELECT %s\nFROM %s\nWHERE %s IS NOT NULL\nQUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s) = 1",
		target,
		strings.Join(sel, ",\n       "),
		source,
		keyExpr,
		keyExpr,
		strings.Join(order, ", "),
	), nil
}

func emptyTableSQL(target string, specs []colSpec, derived []derivedCol) string {
	var cols []string
	for _, s := range specs {
		cols = append(cols, warehouse.QuoteIdent(s.out)+" "+s.kind.sqlType())
	}
	for _, d := range derived {
		cols = append(cols, warehouse.QuoteIdent(d.out)+" BIGINT")
	}
	cols = append(cols, "source_row_number BIGINT")
	return "CREATE TABLE " + target + " (" + strings.Join(cols, ", ") + ")"
}

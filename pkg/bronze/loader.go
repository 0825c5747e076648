// Package bronze appends raw source rows into the bronze layer.
// The loader is schema-evolving (the bronze table's column set is the
// running union of every observed source schema) and idempotent: rows
// are keyed by (_source_sha256, _source_row_number) and inserted
// through an anti-join, so re-ingesting the same content inserts
// nothing twice, even after a crash mid-insert.
package bronze

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fireflow/fireflow/pkg/detect"
	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/lake"
	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/sanitize"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

// Technical columns stamped on every bronze row, in table order.
var techColumns = []string{
	"_source_row_number",
	"_source_sha256",
	"_source_file_path",
	"_ingested_at_utc",
}

// Result summarizes one bronze-load pass. Inserted counts cover only
// rows that were actually new in this run.
type Result struct {
	InsertedCalls     int64
	InsertedIncidents int64
	Files             int
}

// Loader ingests PENDING files into bronze.calls / bronze.incidents.
type Loader struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	pipeline string
}

// NewLoader creates a bronze loader over an open warehouse handle.
func NewLoader(db *sql.DB, pipeline string) *Loader {
	return &Loader{
		db:       db,
		ledger:   ledger.New(db),
		pipeline: pipeline,
	}
}

// LoadAll ingests every PENDING file of the run. The lake snapshot is
// the preferred source; the original CSV is the fallback when no
// snapshot was written. Any error for a single file propagates and
// leaves that file PENDING; partial bronze writes are kept for
// inspection rather than retried blindly.
func (ld *Loader) LoadAll(ctx context.Context, runID string) (Result, error) {
	if _, err := ld.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+warehouse.SchemaBronze); err != nil {
		return Result{}, errors.Wrap(err, errors.CodeBronzeLoad, "create bronze schema")
	}

	pending, err := ld.ledger.PendingFiles(ctx, runID, ld.pipeline)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if len(pending) == 0 {
		log.Print("no pending files to load into bronze")
		return res, nil
	}

	for _, pf := range pending {
		source := pf.FilePath
		if pf.LakePath != "" {
			source = pf.LakePath
		}

		dataset, inserted, err := ld.loadOne(ctx, source, pf.SHA256)
		if err != nil {
			return res, errors.Wrapf(err, errors.CodeBronzeLoad, "ingest %s", source)
		}

		if dataset == detect.DatasetCalls {
			res.InsertedCalls += inserted
		} else {
			res.InsertedIncidents += inserted
		}
		res.Files++

		// DONE + content registry: this is what turns the next drop of
		// identical bytes into a SKIPPED classification.
		if err := ld.ledger.MarkDone(ctx, runID, ld.pipeline, pf.SHA256); err != nil {
			return res, err
		}
	}

	log.Printf("bronze ingest done | inserted_calls=%d inserted_incidents=%d files=%d",
		res.InsertedCalls, res.InsertedIncidents, res.Files)
	return res, nil
}

// loadOne ingests a single source file and returns its dataset type
// and the number of newly inserted rows.
func (ld *Loader) loadOne(ctx context.Context, source, sha256 string) (detect.Dataset, int64, error) {
	rawCols, err := lake.SourceColumns(ctx, ld.db, source)
	if err != nil {
		return "", 0, err
	}
	srcCols := sanitize.Columns(rawCols)

	// classification runs against the resolved source path: lake
	// snapshots all share a generic file name, the partition directory
	// carries the dataset signal
	dataset := detect.DatasetType(srcCols, source)
	table := string(dataset)
	target := warehouse.SchemaBronze + "." + table

	log.Printf("ingest source: %s -> %s", source, target)

	exists, err := warehouse.TableExists(ctx, ld.db, warehouse.SchemaBronze, table)
	if err != nil {
		return "", 0, err
	}
	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	if !exists {
		if err := ld.createEmpty(ctx, target, source, rawCols, srcCols); err != nil {
			return "", 0, err
		}
	}

	// schema evolution: extend the target with any column the source
	// (or the technical set) has that the table lacks
	existing, err := warehouse.TableColumns(ctx, ld.db, warehouse.SchemaBronze, table)
	if err != nil {
		return "", 0, err
	}
	existingSet := toSet(existing)
	desired := append(append([]string{}, srcCols...), techColumns...)
	var added []string
	for _, c := range desired {
		if !existingSet[c] {
			if _, err := ld.db.ExecContext(ctx, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN %s VARCHAR", target, warehouse.QuoteIdent(c))); err != nil {
				return "", 0, fmt.Errorf("add column %s: %w", c, err)
			}
			added = append(added, c)
			existingSet[c] = true
		}
	}
	if len(added) > 0 {
		log.Printf("schema evolution on %s: added %v", target, added)
		existing, err = warehouse.TableColumns(ctx, ld.db, warehouse.SchemaBronze, table)
		if err != nil {
			return "", 0, err
		}
	}

	selectList := buildSelect(existing, rawCols, srcCols, sha256, source, now)

	before, err := ld.countForSHA(ctx, target, sha256)
	if err != nil {
		return "", 0, err
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO %s
		SELECT t.*
		FROM (
		  SELECT
		    %s
		  FROM %s
		) t
		WHERE NOT EXISTS (
		  SELECT 1 FROM %s b
		  WHERE b._source_sha256 = t._source_sha256
		    AND b._source_row_number = t._source_row_number
		)
	`, target, selectList, lake.SourceRelation(source), target)

	if _, err := ld.db.ExecContext(ctx, insertSQL); err != nil {
		return "", 0, fmt.Errorf("idempotent insert: %w", err)
	}

	after, err := ld.countForSHA(ctx, target, sha256)
	if err != nil {
		return "", 0, err
	}

	inserted := after - before
	log.Printf("bronze file done | dataset=%s inserted_now=%d total_for_sha=%d sha=%s",
		dataset, inserted, after, sha256)
	return dataset, inserted, nil
}

// createEmpty creates the target with the source's columns (as VARCHAR)
// plus the technical columns, and zero rows.
func (ld *Loader) createEmpty(ctx context.Context, target, source string, rawCols, srcCols []string) error {
	selects := make([]string, 0, len(srcCols)+len(techColumns))
	for i, raw := range rawCols {
		selects = append(selects, fmt.Sprintf("CAST(%s AS VARCHAR) AS %s",
			warehouse.QuoteIdent(raw), warehouse.QuoteIdent(srcCols[i])))
	}
	for _, c := range techColumns {
		selects = append(selects, fmt.Sprintf("CAST(NULL AS VARCHAR) AS %s", warehouse.QuoteIdent(c)))
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE %s AS
		SELECT %s
		FROM %s
		WHERE 1=0
	`, target, strings.Join(selects, ",\n\t\t"), lake.SourceRelation(source))

	log.Printf("creating bronze table %s", target)
	if _, err := ld.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	return nil
}

// buildSelect produces a select list yielding exactly the target's
// columns in table order: source columns cast to text, technical
// expressions, and NULL for columns the source lacks.
func buildSelect(tableCols, rawCols, srcCols []string, sha256, source, now string) string {
	exprs := make(map[string]string, len(tableCols))
	for i, c := range srcCols {
		exprs[c] = fmt.Sprintf("CAST(%s AS VARCHAR) AS %s",
			warehouse.QuoteIdent(rawCols[i]), warehouse.QuoteIdent(c))
	}
	exprs["_source_row_number"] = `CAST(row_number() OVER () - 1 AS VARCHAR) AS "_source_row_number"`
	exprs["_source_sha256"] = fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_source_sha256"`, sqlEscape(sha256))
	exprs["_source_file_path"] = fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_source_file_path"`, sqlEscape(source))
	exprs["_ingested_at_utc"] = fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_ingested_at_utc"`, now)

	out := make([]string, 0, len(tableCols))
	for _, c := range tableCols {
		expr, ok := exprs[c]
		if !ok {
			expr = fmt.Sprintf("CAST(NULL AS VARCHAR) AS %s", warehouse.QuoteIdent(c))
		}
		out = append(out, expr)
	}
	return strings.Join(out, ",\n\t\t    ")
}

func (ld *Loader) countForSHA(ctx context.Context, target, sha256 string) (int64, error) {
	var n int64
	err := ld.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE _source_sha256 = '%s'", target, sqlEscape(sha256))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows for sha: %w", err)
	}
	return n, nil
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Package lake materializes PENDING drop-zone files as immutable
// columnar parquet snapshots, partitioned by dataset, ingest date, and
// content hash. Snapshots carry provenance columns so bronze rows can
// always be traced back to their source bytes.
package lake

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fireflow/fireflow/pkg/detect"
	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/sanitize"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

// SnapshotName is the file name of every lake object; the partition
// directories carry the identity.
const SnapshotName = "data.parquet"

// Result summarizes one lake-write pass.
type Result struct {
	Written   int
	Calls     int
	Incidents int
}

// Writer converts PENDING CSV files into lake snapshots.
type Writer struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	rootDir  string
	pipeline string
}

// NewWriter creates a lake writer over an open warehouse handle.
func NewWriter(db *sql.DB, rootDir, pipeline string) *Writer {
	return &Writer{
		db:       db,
		ledger:   ledger.New(db),
		rootDir:  rootDir,
		pipeline: pipeline,
	}
}

// TargetPath returns the lake path for a (dataset, ingest date, hash).
func TargetPath(rootDir string, dataset detect.Dataset, ingestDate, sha256 string) string {
	return filepath.Join(
		rootDir,
		string(dataset),
		"ingest_date="+ingestDate,
		"sha256="+sha256,
		SnapshotName,
	)
}

// WriteAll snapshots every PENDING file of the run that has no lake
// path yet. Re-invoking it for an already-written file rewrites the
// same bytes; the ledger status stays PENDING either way, advancing it
// is the bronze loader's job.
func (w *Writer) WriteAll(ctx context.Context, runID string) (Result, error) {
	pending, err := w.ledger.PendingFiles(ctx, runID, w.pipeline)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if len(pending) == 0 {
		log.Print("no pending files to snapshot")
		return res, nil
	}

	ingestDate := time.Now().UTC().Format("2006-01-02")

	for _, pf := range pending {
		dataset, err := w.writeOne(ctx, pf, ingestDate)
		if err != nil {
			return res, errors.Wrapf(err, errors.CodeLakeWrite, "snapshot %s", pf.FilePath)
		}

		if err := w.ledger.SetLakePath(ctx, runID, w.pipeline, pf.SHA256,
			TargetPath(w.rootDir, dataset, ingestDate, pf.SHA256)); err != nil {
			return res, err
		}

		res.Written++
		if dataset == detect.DatasetCalls {
			res.Calls++
		} else {
			res.Incidents++
		}
	}

	log.Printf("lake write done | written=%d calls=%d incidents=%d", res.Written, res.Calls, res.Incidents)
	return res, nil
}

// writeOne snapshots a single CSV and returns its dataset type.
func (w *Writer) writeOne(ctx context.Context, pf ledger.PendingFile, ingestDate string) (detect.Dataset, error) {
	rawCols, err := SourceColumns(ctx, w.db, pf.FilePath)
	if err != nil {
		return "", err
	}
	sanitized := sanitize.Columns(rawCols)
	dataset := detect.DatasetType(sanitized, pf.FilePath)

	target := TargetPath(w.rootDir, dataset, ingestDate, pf.SHA256)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("create lake partition: %w", err)
	}

	selects := make([]string, 0, len(rawCols)+4)
	for i, raw := range rawCols {
		selects = append(selects, fmt.Sprintf("CAST(%s AS VARCHAR) AS %s",
			warehouse.QuoteIdent(raw), warehouse.QuoteIdent(sanitized[i])))
	}
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	selects = append(selects,
		`CAST(row_number() OVER () - 1 AS VARCHAR) AS "_source_row_number"`,
		fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_source_sha256"`, sqlEscape(pf.SHA256)),
		fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_source_file_path"`, sqlEscape(pf.FilePath)),
		fmt.Sprintf(`CAST('%s' AS VARCHAR) AS "_lake_written_at_utc"`, now),
	)

	copySQL := fmt.Sprintf(`
		COPY (
			SELECT %s
			FROM %s
		) TO '%s' (FORMAT PARQUET)
	`, strings.Join(selects, ",\n\t\t\t"), SourceRelation(pf.FilePath), sqlEscape(target))

	log.Printf("writing lake snapshot: %s", target)
	if _, err := w.db.ExecContext(ctx, copySQL); err != nil {
		return "", fmt.Errorf("copy to parquet: %w", err)
	}
	return dataset, nil
}

// SourceRelation returns the DuckDB relation expression reading a
// source file with every column as text. Typing is deferred to silver.
func SourceRelation(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return fmt.Sprintf("read_parquet('%s')", sqlEscape(path))
	}
	return fmt.Sprintf("read_csv_auto('%s', ALL_VARCHAR=TRUE)", sqlEscape(path))
}

// SourceColumns introspects the column names of a source file without
// materializing any data rows.
func SourceColumns(ctx context.Context, db *sql.DB, path string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+SourceRelation(path))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", path, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	scan := make([]interface{}, len(colNames))
	var name string
	scan[0] = &name
	for i := 1; i < len(scan); i++ {
		scan[i] = new(interface{})
	}

	var cols []string
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: no columns", path)
	}
	return cols, nil
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

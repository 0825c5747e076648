// Package ledger is the durable bookkeeping store for incremental
// ingestion. It records one row per pipeline run, one row per file
// observed in a run, and a registry of content hashes that completed
// bronze ingestion. The registry is the cross-run memory that turns a
// re-drop of identical bytes into a no-op.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/fingerprint"
)

// Run lifecycle statuses.
const (
	RunRunning = "RUNNING"
	RunSuccess = "SUCCESS"
	RunFailed  = "FAILED"
)

// Per-file ledger statuses.
const (
	StatusPending = "PENDING"
	StatusSkipped = "SKIPPED"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

// Trigger kinds for a run.
const (
	TriggerSchedule = "SCHEDULE"
	TriggerManual   = "MANUAL"
	TriggerWatch    = "WATCH"
)

const ddl = `
CREATE SCHEMA IF NOT EXISTS meta;

CREATE TABLE IF NOT EXISTS meta.ingestion_runs (
  run_id            UUID PRIMARY KEY,
  pipeline_name     VARCHAR NOT NULL,
  started_at        TIMESTAMP NOT NULL,
  finished_at       TIMESTAMP,
  status            VARCHAR NOT NULL,
  trigger_type      VARCHAR NOT NULL,
  notes             VARCHAR
);

CREATE TABLE IF NOT EXISTS meta.ingestion_log (
  log_id            UUID PRIMARY KEY,
  run_id            UUID NOT NULL,
  pipeline_name     VARCHAR NOT NULL,

  drop_dir          VARCHAR NOT NULL,
  file_name         VARCHAR NOT NULL,
  file_path         VARCHAR NOT NULL,

  file_size_bytes   BIGINT NOT NULL,
  file_mtime_utc    TIMESTAMP NOT NULL,
  file_sha256       VARCHAR NOT NULL,

  detected_at       TIMESTAMP NOT NULL,

  lake_path         VARCHAR,
  lake_written_at   TIMESTAMP,

  status            VARCHAR NOT NULL,
  error_message     VARCHAR,

  CONSTRAINT fk_run FOREIGN KEY(run_id) REFERENCES meta.ingestion_runs(run_id)
);

CREATE TABLE IF NOT EXISTS meta.ingested_contents (
  pipeline_name     VARCHAR NOT NULL,
  content_sha256    VARCHAR NOT NULL,
  first_success_at  TIMESTAMP NOT NULL,
  last_success_at   TIMESTAMP NOT NULL,
  PRIMARY KEY (pipeline_name, content_sha256)
);

CREATE INDEX IF NOT EXISTS ix_ingestion_log_run ON meta.ingestion_log(run_id);
CREATE INDEX IF NOT EXISTS ix_ingestion_log_sha ON meta.ingestion_log(pipeline_name, file_sha256);
`

// Ledger wraps a warehouse handle with meta-schema operations.
type Ledger struct {
	db *sql.DB
}

// New returns a Ledger over an open warehouse handle. The handle stays
// owned by the caller.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// utcNow returns a naive-UTC timestamp, matching the TIMESTAMP columns.
func utcNow() time.Time {
	return time.Now().UTC()
}

// EnsureTables creates the meta schema and tables if absent.
func (l *Ledger) EnsureTables(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.CodeLedger, "create meta tables")
	}
	return nil
}

// StartRun opens a run record in status RUNNING and returns its id.
func (l *Ledger) StartRun(ctx context.Context, pipeline, trigger, notes string) (string, error) {
	runID := uuid.NewString()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO meta.ingestion_runs(run_id, pipeline_name, started_at, status, trigger_type, notes)
		VALUES (?, ?, ?, 'RUNNING', ?, ?)
	`, runID, pipeline, utcNow(), trigger, nullIfEmpty(notes))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeLedger, "start run")
	}
	return runID, nil
}

// FinishRun sets the terminal status of a run. The detection cycle
// records SUCCESS; a later pipeline stage failure overwrites it with
// FAILED.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE meta.ingestion_runs
		SET finished_at = ?, status = ?
		WHERE run_id = ?
	`, utcNow(), status, runID)
	if err != nil {
		return errors.Wrapf(err, errors.CodeLedger, "finish run %s", runID)
	}
	return nil
}

// LogFile records one observed file with its fingerprint and
// classification. A failed fingerprint is logged with a zero-valued
// fingerprint and the captured error message.
func (l *Ledger) LogFile(ctx context.Context, runID, pipeline, dropDir string, fp fingerprint.Fingerprint, status, errMsg string) error {
	mtime := fp.ModTimeUTC
	if mtime.IsZero() {
		mtime = utcNow()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO meta.ingestion_log(
		  log_id, run_id, pipeline_name,
		  drop_dir, file_name, file_path,
		  file_size_bytes, file_mtime_utc, file_sha256,
		  detected_at, status, error_message
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), runID, pipeline,
		dropDir, fp.Name, fp.Path,
		fp.SizeBytes, mtime, fp.SHA256,
		utcNow(), status, nullIfEmpty(errMsg))
	if err != nil {
		return errors.Wrapf(err, errors.CodeLedger, "log file %s", fp.Name)
	}
	return nil
}

// AlreadyIngested reports whether this content hash completed a bronze
// ingest for this pipeline in any earlier run.
func (l *Ledger) AlreadyIngested(ctx context.Context, pipeline, sha256 string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `
		SELECT 1
		FROM meta.ingested_contents
		WHERE pipeline_name = ? AND content_sha256 = ?
		LIMIT 1
	`, pipeline, sha256).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeLedger, "check ingested content")
	}
	return true, nil
}

// PendingFile is a ledger row awaiting bronze ingestion.
type PendingFile struct {
	FilePath string
	SHA256   string
	LakePath string // empty when no lake snapshot was written yet
}

// PendingFiles returns the PENDING rows of a run in detection order.
func (l *Ledger) PendingFiles(ctx context.Context, runID, pipeline string) ([]PendingFile, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT file_path, file_sha256, COALESCE(lake_path, '')
		FROM meta.ingestion_log
		WHERE run_id = ? AND pipeline_name = ? AND status = 'PENDING'
		ORDER BY detected_at, file_name
	`, runID, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLedger, "query pending files")
	}
	defer rows.Close()

	var out []PendingFile
	for rows.Next() {
		var pf PendingFile
		if err := rows.Scan(&pf.FilePath, &pf.SHA256, &pf.LakePath); err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// SetLakePath records where a file's lake snapshot was written. The
// status stays PENDING; only the bronze loader advances it.
func (l *Ledger) SetLakePath(ctx context.Context, runID, pipeline, sha256, lakePath string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE meta.ingestion_log
		SET lake_path = ?, lake_written_at = ?
		WHERE run_id = ? AND pipeline_name = ? AND file_sha256 = ?
	`, lakePath, utcNow(), runID, pipeline, sha256)
	if err != nil {
		return errors.Wrap(err, errors.CodeLedger, "set lake path")
	}
	return nil
}

// MarkDone transitions a file PENDING -> DONE and upserts the content
// registry so a later identical drop classifies SKIPPED. first_success_at
// is kept from the first success; last_success_at bumps on every one.
func (l *Ledger) MarkDone(ctx context.Context, runID, pipeline, sha256 string) error {
	now := utcNow()

	if _, err := l.db.ExecContext(ctx, `
		UPDATE meta.ingestion_log
		SET status = 'DONE', error_message = NULL
		WHERE run_id = ? AND pipeline_name = ? AND file_sha256 = ?
	`, runID, pipeline, sha256); err != nil {
		return errors.Wrap(err, errors.CodeLedger, "mark done")
	}

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO meta.ingested_contents
		  (pipeline_name, content_sha256, first_success_at, last_success_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pipeline_name, content_sha256)
		DO UPDATE SET last_success_at = excluded.last_success_at
	`, pipeline, sha256, now, now); err != nil {
		return errors.Wrap(err, errors.CodeLedger, "upsert ingested content")
	}
	return nil
}

// RunInfo summarizes one pipeline run for the status command.
type RunInfo struct {
	RunID      string
	Pipeline   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Trigger    string
}

// RecentRuns returns the latest runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT CAST(run_id AS VARCHAR), pipeline_name, started_at, finished_at, status, trigger_type
		FROM meta.ingestion_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLedger, "query runs")
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var ri RunInfo
		var finished sql.NullTime
		if err := rows.Scan(&ri.RunID, &ri.Pipeline, &ri.StartedAt, &finished, &ri.Status, &ri.Trigger); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			ri.FinishedAt = &t
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// FileInfo is one ledger row for the status command.
type FileInfo struct {
	FileName   string
	SHA256     string
	Status     string
	LakePath   string
	DetectedAt time.Time
	Error      string
}

// RunFiles returns the per-file rows of a run in detection order.
func (l *Ledger) RunFiles(ctx context.Context, runID string) ([]FileInfo, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT file_name, file_sha256, status, COALESCE(lake_path, ''), detected_at, COALESCE(error_message, '')
		FROM meta.ingestion_log
		WHERE run_id = ?
		ORDER BY detected_at, file_name
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLedger, "query run files")
	}
	defer rows.Close()

	var out []FileInfo
	for rows.Next() {
		var fi FileInfo
		if err := rows.Scan(&fi.FileName, &fi.SHA256, &fi.Status, &fi.LakePath, &fi.DetectedAt, &fi.Error); err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

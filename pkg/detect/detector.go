// Package detect scans the client drop zone, fingerprints each CSV,
// and classifies it against the ledger's content registry. It also
// owns dataset-type classification, shared by the lake writer and the
// bronze loader.
package detect

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fireflow/fireflow/pkg/fingerprint"
	"github.com/fireflow/fireflow/pkg/ledger"
)

// Dataset names the two bronze targets.
type Dataset string

const (
	DatasetCalls     Dataset = "calls"
	DatasetIncidents Dataset = "incidents"
)

// Result summarizes one detection cycle. Pending == 0 is the signal to
// skip every downstream stage.
type Result struct {
	RunID   string
	Pending int
	Skipped int
	Failed  int
	Files   int
}

// Scanner classifies drop-zone files.
type Scanner struct {
	ledger   *ledger.Ledger
	pipeline string
	dropDir  string
}

// NewScanner creates a drop-zone scanner over an open warehouse handle.
func NewScanner(db *sql.DB, pipeline, dropDir string) *Scanner {
	return &Scanner{
		ledger:   ledger.New(db),
		pipeline: pipeline,
		dropDir:  dropDir,
	}
}

// Scan runs one detection cycle: open a run, fingerprint every *.csv
// in the drop zone, log each file as PENDING, SKIPPED, or FAILED, and
// close the run. A per-file fingerprint failure does not abort the
// scan; the run only finishes FAILED when the loop itself cannot
// proceed (a ledger write error).
func (s *Scanner) Scan(ctx context.Context, trigger, notes string) (Result, error) {
	if err := s.ledger.EnsureTables(ctx); err != nil {
		return Result{}, err
	}

	runID, err := s.ledger.StartRun(ctx, s.pipeline, trigger, notes)
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: runID}

	resolvedDrop, err := filepath.Abs(s.dropDir)
	if err != nil {
		resolvedDrop = s.dropDir
	}

	files, err := listCSVs(s.dropDir)
	if err != nil {
		// cannot even enumerate the drop zone
		_ = s.ledger.FinishRun(ctx, runID, ledger.RunFailed)
		return res, err
	}
	res.Files = len(files)
	log.Printf("drop zone %s: %d csv files", resolvedDrop, len(files))

	for _, path := range files {
		fp, ferr := fingerprint.File(path)
		if ferr != nil {
			// audit trail for the broken file, scan continues
			dummy := fingerprint.Fingerprint{
				Name: filepath.Base(path),
				Path: path,
			}
			if lerr := s.ledger.LogFile(ctx, runID, s.pipeline, resolvedDrop, dummy, ledger.StatusFailed, ferr.Error()); lerr != nil {
				_ = s.ledger.FinishRun(ctx, runID, ledger.RunFailed)
				return res, lerr
			}
			res.Failed++
			continue
		}

		seen, lerr := s.ledger.AlreadyIngested(ctx, s.pipeline, fp.SHA256)
		if lerr == nil && seen {
			lerr = s.ledger.LogFile(ctx, runID, s.pipeline, resolvedDrop, fp, ledger.StatusSkipped, "already_ingested")
			if lerr == nil {
				res.Skipped++
				continue
			}
		}
		if lerr != nil {
			_ = s.ledger.FinishRun(ctx, runID, ledger.RunFailed)
			return res, lerr
		}

		if lerr := s.ledger.LogFile(ctx, runID, s.pipeline, resolvedDrop, fp, ledger.StatusPending, ""); lerr != nil {
			_ = s.ledger.FinishRun(ctx, runID, ledger.RunFailed)
			return res, lerr
		}
		res.Pending++
	}

	// zero pending is a deliberate no-op, still SUCCESS
	if err := s.ledger.FinishRun(ctx, runID, ledger.RunSuccess); err != nil {
		return res, err
	}

	log.Printf("detect summary | pending=%d skipped=%d failed=%d", res.Pending, res.Skipped, res.Failed)
	return res, nil
}

// listCSVs returns the regular *.csv files in dir, sorted by name. A
// missing drop directory is an empty scan, not an error.
func listCSVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan drop zone %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// DatasetType classifies a source as calls or incidents from its
// sanitized column set, tie-breaking on the resolved path. Lake
// snapshots all share a generic file name, so the partition directory
// in the path carries the type signal there.
func DatasetType(cols []string, path string) Dataset {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[strings.ToLower(c)] = true
	}
	pathLC := strings.ToLower(path)

	hasCall := set["call_number"] || set["callnumber"]
	hasInc := set["incident_number"] || set["incidentnumber"]

	if hasInc && hasCall {
		// merged exports: the name decides
		if strings.Contains(pathLC, "call") {
			return DatasetCalls
		}
		return DatasetIncidents
	}
	if hasInc {
		return DatasetIncidents
	}
	if hasCall {
		return DatasetCalls
	}

	if strings.Contains(pathLC, "incident") {
		return DatasetIncidents
	}
	if strings.Contains(pathLC, "call") {
		return DatasetCalls
	}
	return DatasetIncidents
}

// Package pipeline runs the incremental warehouse refresh: detect new
// drops, snapshot them to the lake, append to bronze, rebuild silver
// and gold behind their quality gates. Stages execute strictly in
// order; each one opens its own warehouse handle so no lock is held
// across stage boundaries.
package pipeline

import (
	"context"
	"database/sql"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fireflow/fireflow/pkg/bronze"
	"github.com/fireflow/fireflow/pkg/config"
	"github.com/fireflow/fireflow/pkg/detect"
	"github.com/fireflow/fireflow/pkg/errors"
	"github.com/fireflow/fireflow/pkg/gold"
	"github.com/fireflow/fireflow/pkg/lake"
	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/quality"
	"github.com/fireflow/fireflow/pkg/silver"
	"github.com/fireflow/fireflow/pkg/warehouse"
)

// Summary aggregates the per-stage results of one run.
type Summary struct {
	RunID    string
	Detect   detect.Result
	Lake     lake.Result
	Bronze   bronze.Result
	Silver   silver.Result
	Gold     gold.Result
	NoOp     bool
	Duration time.Duration
}

// Runner executes full pipeline passes against one warehouse file.
type Runner struct {
	cfg config.Config
}

func NewRunner(cfg config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes one full pass. Trigger names what started the run
// (schedule, manual, watch). When detection finds nothing PENDING the
// pass stops there and reports NoOp with the run still SUCCESS.
func (r *Runner) Run(ctx context.Context, trigger, notes string) (Summary, error) {
	started := time.Now()
	var sum Summary

	tracer := otel.Tracer("fireflow/pipeline")
	ctx, root := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer root.End()

	err := r.stage(ctx, tracer, "detect", "", func(ctx context.Context, db *sql.DB) error {
		res, err := detect.NewScanner(db, r.cfg.Pipeline.Name, r.cfg.Pipeline.DropDir).
			Scan(ctx, trigger, notes)
		if err != nil {
			return err
		}
		sum.RunID = res.RunID
		sum.Detect = res
		log.Printf("detect: run=%s files=%d pending=%d skipped=%d failed=%d",
			res.RunID, res.Files, res.Pending, res.Skipped, res.Failed)
		return nil
	})
	if err != nil {
		return r.finish(sum, started, root, err)
	}

	if sum.Detect.Pending == 0 {
		sum.NoOp = true
		log.Printf("run %s: nothing pending, downstream stages skipped", sum.RunID)
		return r.finish(sum, started, root, nil)
	}

	err = r.stage(ctx, tracer, "lake", sum.RunID, func(ctx context.Context, db *sql.DB) error {
		res, err := lake.NewWriter(db, r.cfg.Lake.RootDir, r.cfg.Pipeline.Name).
			WriteAll(ctx, sum.RunID)
		if err != nil {
			return err
		}
		sum.Lake = res
		log.Printf("lake: written=%d calls=%d incidents=%d", res.Written, res.Calls, res.Incidents)
		return nil
	})
	if err != nil {
		return r.finish(sum, started, root, err)
	}

	err = r.stage(ctx, tracer, "bronze", sum.RunID, func(ctx context.Context, db *sql.DB) error {
		res, err := bronze.NewLoader(db, r.cfg.Pipeline.Name).LoadAll(ctx, sum.RunID)
		if err != nil {
			return err
		}
		sum.Bronze = res
		log.Printf("bronze: files=%d inserted calls=%d incidents=%d",
			res.Files, res.InsertedCalls, res.InsertedIncidents)
		return nil
	})
	if err != nil {
		return r.finish(sum, started, root, err)
	}

	if sum.Bronze.InsertedCalls+sum.Bronze.InsertedIncidents == 0 {
		sum.NoOp = true
		log.Printf("run %s: bronze inserted 0 rows, rebuild skipped", sum.RunID)
		return r.finish(sum, started, root, nil)
	}

	err = r.stage(ctx, tracer, "silver", sum.RunID, func(ctx context.Context, db *sql.DB) error {
		res, err := silver.New(db).Rebuild(ctx)
		if err != nil {
			return err
		}
		sum.Silver = res
		log.Printf("silver: calls_clean=%d incidents_clean=%d", res.Calls, res.Incidents)
		return quality.SilverGate(ctx, db)
	})
	if err != nil {
		return r.finish(sum, started, root, err)
	}

	err = r.stage(ctx, tracer, "gold", sum.RunID, func(ctx context.Context, db *sql.DB) error {
		res, err := gold.New(db).BuildAll(ctx)
		if err != nil {
			return err
		}
		sum.Gold = res
		log.Printf("gold: dates=%d types=%d locations=%d facts=%d",
			res.Dates, res.IncidentTypes, res.Locations, res.Facts)
		return quality.GoldGate(ctx, db)
	})
	return r.finish(sum, started, root, err)
}

// stage opens a fresh warehouse handle, runs fn under its own span,
// and closes the handle before the next stage starts. A non-empty
// runID is marked FAILED in the ledger when fn errors.
func (r *Runner) stage(ctx context.Context, tracer trace.Tracer, name, runID string, fn func(context.Context, *sql.DB) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	db, err := warehouse.Open(r.cfg.Warehouse)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open warehouse")
		return err
	}
	defer db.Close()

	if err := fn(ctx, db); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.GetCode(err)))
		if runID != "" {
			if lerr := ledger.New(db).FinishRun(ctx, runID, ledger.RunFailed); lerr != nil {
				log.Printf("run %s: record failure: %v", runID, lerr)
			}
		}
		return err
	}
	return nil
}

func (r *Runner) finish(sum Summary, started time.Time, root trace.Span, err error) (Summary, error) {
	sum.Duration = time.Since(started)
	if err != nil {
		root.RecordError(err)
		root.SetStatus(codes.Error, string(errors.GetCode(err)))
		log.Printf("run %s failed after %s: %v", sum.RunID, sum.Duration.Round(time.Millisecond), err)
		return sum, err
	}
	log.Printf("run %s finished in %s", sum.RunID, sum.Duration.Round(time.Millisecond))
	return sum, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/fireflow/fireflow/pkg/detect"
	"github.com/fireflow/fireflow/pkg/export"
	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/pipeline"
	"github.com/fireflow/fireflow/pkg/storage/s3"
	"github.com/fireflow/fireflow/pkg/telemetry"
	"github.com/fireflow/fireflow/pkg/tui"
	"github.com/fireflow/fireflow/pkg/warehouse"
	"github.com/fireflow/fireflow/pkg/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline pass",
	Long: `Scan the drop directory, ingest new files through the lake and bronze,
and rebuild silver and gold behind their quality gates. With no new
data the run records SUCCESS and stops after detection.`,
	RunE: runRun,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan the drop directory without ingesting",
	Long: `Run a detection cycle only: fingerprint every CSV in the drop zone
and classify it PENDING, SKIPPED, or FAILED in the ledger. Useful to
preview what a run would pick up.`,
	RunE: runDetect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their files",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the drop directory and run on new files",
	Long: `Block watching the drop directory. When CSV files land, wait for the
burst to settle and execute one pipeline pass. Runs triggered this way
use the WATCH trigger in the ledger.`,
	RunE: runWatch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the serving database (and optionally xlsx)",
	Long: `Write a standalone dashboard database containing the gold KPI views
and dimensions (never the fact table). With --xlsx, also write a KPI
workbook next to it.

Examples:
  fireflow export -o dashboard_exports/dashboard.duckdb
  fireflow export -o exports/dashboard.duckdb --xlsx`,
	RunE: runExport,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload lake snapshots to the configured S3 bucket",
	RunE:  runArchive,
}

func init() {
	runCmd.Flags().StringVar(&notesFlag, "notes", "", "free-form note recorded on the run")
	detectCmd.Flags().StringVar(&notesFlag, "notes", "", "free-form note recorded on the run")
	statusCmd.Flags().IntVarP(&limitFlag, "limit", "n", 10, "number of runs to show")
	exportCmd.Flags().StringVarP(&outputFlag, "output", "o",
		filepath.Join("dashboard_exports", "dashboard.duckdb"), "export database path")
	exportCmd.Flags().BoolVar(&xlsxFlag, "xlsx", false, "also write a KPI xlsx workbook")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !quietFlag {
		tui.PrintBanner(version)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	sum, err := pipeline.NewRunner(cfg).Run(ctx, ledger.TriggerManual, notesFlag)
	if err != nil {
		tui.PrintError(err)
		return err
	}
	tui.PrintRunSummary(sum)
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := warehouse.Open(cfg.Warehouse)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := detect.NewScanner(db, cfg.Pipeline.Name, cfg.Pipeline.DropDir).
		Scan(ctx, ledger.TriggerManual, notesFlag)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d files, %d pending, %d skipped, %d failed\n",
		res.RunID, res.Files, res.Pending, res.Skipped, res.Failed)

	files, err := ledger.New(db).RunFiles(ctx, res.RunID)
	if err != nil {
		return err
	}
	tui.PrintFiles(files)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := warehouse.OpenReadOnly(cfg.Warehouse)
	if err != nil {
		return err
	}
	defer db.Close()

	l := ledger.New(db)
	runs, err := l.RecentRuns(ctx, limitFlag)
	if err != nil {
		return err
	}
	tui.PrintRuns(runs)

	if len(runs) > 0 {
		files, err := l.RunFiles(ctx, runs[0].RunID)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			fmt.Printf("  files of run %s:\n", runs[0].RunID)
			tui.PrintFiles(files)
			fmt.Println()
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !quietFlag {
		tui.PrintBanner(version)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	runner := pipeline.NewRunner(cfg)

	// catch anything dropped before the watcher started
	if sum, err := runner.Run(ctx, ledger.TriggerWatch, "watch startup"); err != nil {
		tui.PrintError(err)
	} else {
		tui.PrintRunSummary(sum)
	}

	w := watch.New(cfg.Pipeline.DropDir)
	w.OnChange = func(ctx context.Context) error {
		sum, err := runner.Run(ctx, ledger.TriggerWatch, "")
		if err != nil {
			return err
		}
		tui.PrintRunSummary(sum)
		return nil
	}
	w.OnError = func(err error) {
		log.Printf("watch: %v", err)
	}

	log.Printf("watching %s", cfg.Pipeline.DropDir)
	return w.Run(ctx)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := export.DashboardDB(ctx, cfg.Warehouse.Path, outputFlag); err != nil {
		return err
	}
	fmt.Printf("exported %s\n", outputFlag)

	if xlsxFlag {
		db, err := warehouse.OpenReadOnly(cfg.Warehouse)
		if err != nil {
			return err
		}
		defer db.Close()

		xlsxPath := outputFlag[:len(outputFlag)-len(filepath.Ext(outputFlag))] + ".xlsx"
		if err := export.Workbook(ctx, db, xlsxPath); err != nil {
			return err
		}
		fmt.Printf("exported %s\n", xlsxPath)
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Archive.Bucket == "" {
		return fmt.Errorf("archive: no bucket configured")
	}

	client, err := s3.NewClient(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	// Archive serializes progress calls, so the lazy bar init is safe
	var bar *progressbar.ProgressBar
	res, err := client.Archive(ctx, cfg.Lake.RootDir, func(done, total int) {
		if bar == nil {
			bar = tui.ShowProgress(int64(total), "archiving")
		}
		_ = bar.Add(1)
	})
	if err != nil {
		return err
	}
	fmt.Printf("archive: %d uploaded (%s), %d already present\n",
		res.Uploaded, tui.FormatBytes(res.Bytes), res.Skipped)
	return nil
}

// FireFlow - incremental fire department incident warehouse.
// Ingests CSV drops into a bronze/silver/gold DuckDB warehouse with a
// durable ingestion ledger and content-hash idempotence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fireflow/fireflow/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configPath    string
	dropDir       string
	warehousePath string
	lakeDir       string
	notesFlag     string
	limitFlag     int
	outputFlag    string
	xlsxFlag      bool
	quietFlag     bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fireflow",
	Short: "FireFlow - incremental incident data warehouse",
	Long: `FireFlow ingests fire department CSV extracts dropped into a watch
directory, snapshots them into a parquet lake, and maintains a DuckDB
warehouse with bronze/silver/gold tiers and KPI views.

Re-dropping identical files is a no-op: the ingestion ledger remembers
every content hash ever processed.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dropDir, "drop-dir", "", "override drop directory")
	rootCmd.PersistentFlags().StringVar(&warehousePath, "warehouse", "", "override warehouse file path")
	rootCmd.PersistentFlags().StringVar(&lakeDir, "lake-dir", "", "override lake root directory")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress the banner")

	rootCmd.AddCommand(runCmd, detectCmd, statusCmd, watchCmd, exportCmd, archiveCmd)
}

// loadConfig merges config file, env, and CLI overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dropDir != "" {
		cfg.Pipeline.DropDir = dropDir
	}
	if warehousePath != "" {
		cfg.Warehouse.Path = warehousePath
	}
	if lakeDir != "" {
		cfg.Lake.RootDir = lakeDir
	}
	return *cfg, nil
}

// Package tui renders pipeline output for the terminal. Simple,
// streaming, no full-screen TUI - clean styled lines only.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/fireflow/fireflow/pkg/ledger"
	"github.com/fireflow/fireflow/pkg/pipeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF4400")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
)

// PrintBanner prints the product header.
func PrintBanner(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  FIREFLOW") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Fire department incident warehouse pipeline"))
	fmt.Println()
}

// PrintRunSummary renders the stage counters of one pipeline pass.
func PrintRunSummary(sum pipeline.Summary) {
	fmt.Println()
	if sum.NoOp {
		fmt.Println(successStyle.Render("  ✓ RUN COMPLETE") + mutedStyle.Render("  (no new data)"))
	} else {
		fmt.Println(successStyle.Render("  ✓ RUN COMPLETE"))
	}
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Run:"), titleStyle.Render(sum.RunID))
	fmt.Printf("  %s %s pending, %s skipped, %s failed of %s files\n",
		mutedStyle.Render("Detect:"),
		titleStyle.Render(formatNumber(int64(sum.Detect.Pending))),
		titleStyle.Render(formatNumber(int64(sum.Detect.Skipped))),
		renderFailed(sum.Detect.Failed),
		titleStyle.Render(formatNumber(int64(sum.Detect.Files))))

	if !sum.NoOp {
		fmt.Printf("  %s %s snapshots (%s calls, %s incidents)\n",
			mutedStyle.Render("Lake:"),
			titleStyle.Render(formatNumber(int64(sum.Lake.Written))),
			formatNumber(int64(sum.Lake.Calls)),
			formatNumber(int64(sum.Lake.Incidents)))
		fmt.Printf("  %s %s call rows, %s incident rows\n",
			mutedStyle.Render("Bronze:"),
			titleStyle.Render(formatNumber(sum.Bronze.InsertedCalls)),
			titleStyle.Render(formatNumber(sum.Bronze.InsertedIncidents)))
		fmt.Printf("  %s %s calls_clean, %s incidents_clean\n",
			mutedStyle.Render("Silver:"),
			titleStyle.Render(formatNumber(sum.Silver.Calls)),
			titleStyle.Render(formatNumber(sum.Silver.Incidents)))
		fmt.Printf("  %s %s facts over %s dates, %s types, %s locations\n",
			mutedStyle.Render("Gold:"),
			titleStyle.Render(formatNumber(sum.Gold.Facts)),
			formatNumber(sum.Gold.Dates),
			formatNumber(sum.Gold.IncidentTypes),
			formatNumber(sum.Gold.Locations))
	}
	fmt.Printf("  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(sum.Duration)))
	fmt.Println()
}

func renderFailed(n int) string {
	if n > 0 {
		return warnStyle.Render(formatNumber(int64(n)))
	}
	return titleStyle.Render("0")
}

// PrintRuns renders the recent run table for the status command.
func PrintRuns(runs []ledger.RunInfo) {
	if len(runs) == 0 {
		fmt.Println(mutedStyle.Render("  no runs recorded"))
		return
	}
	fmt.Println()
	fmt.Printf("  %-36s  %-8s  %-8s  %-19s  %s\n",
		mutedStyle.Render("RUN"), mutedStyle.Render("STATUS"),
		mutedStyle.Render("TRIGGER"), mutedStyle.Render("STARTED"),
		mutedStyle.Render("DURATION"))
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		fmt.Printf("  %-36s  %s  %-8s  %-19s  %s\n",
			r.RunID, renderStatus(r.Status), r.Trigger,
			r.StartedAt.Format("2006-01-02 15:04:05"), dur)
	}
	fmt.Println()
}

// PrintFiles renders the per-file rows of a run.
func PrintFiles(files []ledger.FileInfo) {
	for _, f := range files {
		sha := f.SHA256
		if len(sha) > 12 {
			sha = sha[:12]
		}
		line := fmt.Sprintf("    %s  %s  %s", renderStatus(f.Status), f.FileName, mutedStyle.Render(sha))
		if f.Error != "" {
			line += "  " + warnStyle.Render(f.Error)
		}
		fmt.Println(line)
	}
}

func renderStatus(status string) string {
	padded := fmt.Sprintf("%-8s", status)
	switch status {
	case ledger.RunSuccess, ledger.StatusDone:
		return successStyle.Render(padded)
	case ledger.StatusFailed:
		return accentStyle.Render(padded)
	case ledger.StatusSkipped:
		return mutedStyle.Render(padded)
	default:
		return warnStyle.Render(padded)
	}
}

// PrintError renders a failure line.
func PrintError(err error) {
	fmt.Println()
	fmt.Println(accentStyle.Render("  ✗ " + err.Error()))
	fmt.Println()
}

// ShowProgress creates the archive upload progress bar.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// FormatBytes renders a byte count for humans.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

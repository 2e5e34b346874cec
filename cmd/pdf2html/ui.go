package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/ivlev/pdf2html/internal/batch"
	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

func newProgress(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printSummary(w io.Writer, report *domain.BatchReport, stats inference.Stats) {
	bold.Fprintf(w, "\nRun %s\n", report.RunID)
	for _, res := range report.Results {
		if res.State == domain.StateDone {
			green.Fprintf(w, "✓ %s", res.Path)
			fmt.Fprintf(w, " → %s (%d pages, %d figures, %s)\n", res.Output, res.Pages, res.Regions, res.Duration.Round(10*time.Millisecond))
		} else {
			red.Fprintf(w, "✗ %s", res.Path)
			fmt.Fprintf(w, " (%s)\n", res.ErrorKind())
		}
	}

	fmt.Fprintf(w, "\n%d done, %d failed\n", report.Succeeded, report.Failed)
	line := fmt.Sprintf("inference: %d calls, %d attempts, %d retries, %d cache hits\n",
		stats.Calls, stats.Attempts, stats.Retries, stats.CacheHits)
	if stats.Retries > 0 {
		yellow.Fprint(w, line)
	} else {
		fmt.Fprint(w, line)
	}
}

func printFailures(w io.Writer, report *domain.BatchReport) {
	for _, line := range batch.FailureLines(report) {
		fmt.Fprintln(w, line)
	}
}

func printModes(w io.Writer, set *mode.Set) {
	for _, name := range set.Names() {
		p, _ := set.Lookup(name)
		bold.Fprintf(w, "%-18s", p.Name)
		fmt.Fprintf(w, " %s\n", p.Description)
	}
}

package cli

// This file contains the listing of the catalog tests and of previous
// sweeps.

import (
	"fmt"
	"strings"
	"time"

	"github.com/jifbench/jifbench/history"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/report"
	"github.com/urfave/cli/v2"
)

func (a *App) tests(ctx *cli.Context) error {
	root, err := checkoutRoot(ctx)
	if err != nil {
		return err
	}
	tests, err := selectTests(ctx, root)
	if err != nil {
		return err
	}

	for _, tc := range tests {
		fmt.Fprintln(a.stdout, tc)
		fmt.Fprintf(a.stdout, "   Command: %s\n", tc.Command)
		fmt.Fprintf(a.stdout, "   Args: %s\n", tc.Args)
	}
	fmt.Fprintf(a.stdout, "\n%d tests\n", len(tests))
	return nil
}

func countFailed(steps []model.StepOutcome) int {
	failed := 0
	for _, s := range steps {
		if s.Failed() {
			failed++
		}
	}
	return failed
}

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	entries, err := history.LoadEntries(a.logger, cfg.Paths.Results)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.stdout, "No sweeps found")
		fmt.Fprintf(a.stdout, "Sweeps are saved to %s/%s<timestamp>/\n", cfg.Paths.Results, history.DirPrefix)
		return nil
	}

	displayed := entries
	if limit > 0 && limit < len(displayed) {
		displayed = displayed[:limit]
	}

	fmt.Fprintf(a.stdout, "\n=== Sweeps (%d total) ===\n\n", len(entries))

	for _, entry := range displayed {
		s := entry.Sweep
		timestamp := s.Timestamp.Format("2006-01-02 15:04:05")
		duration := s.Duration.Round(time.Millisecond)
		failed := countFailed(s.Steps)

		// Determine status indicator
		status := "✓"
		if s.Error != "" || failed > 0 {
			status = "✗"
		}

		shortID := s.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(a.stdout, "%s  %s  [%s]  steps=%d failed=%d  id=%s\n", status, timestamp, duration, len(s.Steps), failed, shortID)
		if s.DryRun {
			fmt.Fprintln(a.stdout, "   Dry run")
		}
		if len(s.Args) > 1 {
			fmt.Fprintf(a.stdout, "   Args: %s\n", strings.Join(s.Args[1:], " "))
		}
		fmt.Fprintf(a.stdout, "   Tests: %s\n", strings.Join(s.Tests, ", "))
		if s.Git != nil && s.Git.Commit != "" {
			shortCommit := s.Git.Commit
			if len(shortCommit) > 8 {
				shortCommit = shortCommit[:8]
			}
			fmt.Fprintf(a.stdout, "   Commit: %s", shortCommit)
			if s.Git.Branch != "" {
				fmt.Fprintf(a.stdout, " (%s)", s.Git.Branch)
			}
			fmt.Fprintln(a.stdout)
		}
		if s.Error != "" {
			fmt.Fprintf(a.stdout, "   Error: %s\n", s.Error)
		}
		for _, artifact := range s.Artifacts {
			fmt.Fprintf(a.stdout, "   %s: %s (%.1f KB)\n", artifactTypeName(artifact.Type), artifact.File, float64(artifact.Size)/1024)
		}
		fmt.Fprintf(a.stdout, "   %s\n", entry.FullPath)
		fmt.Fprintln(a.stdout)
	}

	fmt.Fprintln(a.stdout, "\nView a sweep: jifbench view <id>")
	fmt.Fprintf(a.stdout, "View the restore breakdown: go tool pprof <path>/%s\n", report.BreakdownFile)
	return nil
}

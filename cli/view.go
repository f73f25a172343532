package cli

// This file contains the view command for displaying a sweep from history.

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/jifbench/jifbench/history"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/results"
	"github.com/urfave/cli/v2"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// A negative index is "-" followed by digits only ("-1"), anything else
	// starting with "-" is a pprof flag ("-top", "-http=:8080")
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", in
		}
	}

	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	arg, pprofArgs := parseViewArgs(ctx.Args().Slice())

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	entries, err := history.LoadEntries(a.logger, cfg.Paths.Results)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	entry, err := history.Find(entries, arg)
	if err != nil {
		return err
	}

	return a.displaySweep(entry, pprofArgs)
}

func (a *App) displaySweep(entry *history.Entry, pprofArgs []string) error {
	s := entry.Sweep

	shortID := s.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(a.stdout, "=== Sweep: %s ===\n", shortID)
	fmt.Fprintf(a.stdout, "Time: %s\n", s.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(a.stdout, "Duration: %s\n", s.Duration)
	fmt.Fprintf(a.stdout, "Directory: %s\n", entry.FullPath)
	fmt.Fprintf(a.stdout, "Kernel facility: %t\n", s.KernelFacility)
	if s.DryRun {
		fmt.Fprintln(a.stdout, "Dry run: true")
	}
	if s.Git != nil && s.Git.Commit != "" {
		fmt.Fprintf(a.stdout, "Git Commit: %s", s.Git.Commit)
		if s.Git.Branch != "" {
			fmt.Fprintf(a.stdout, " (%s)", s.Git.Branch)
		}
		fmt.Fprintln(a.stdout)
	}
	fmt.Fprintf(a.stdout, "Tests: %d, steps: %d, failed: %d\n", len(s.Tests), len(s.Steps), countFailed(s.Steps))
	for _, step := range s.Steps {
		if step.Failed() {
			fmt.Fprintf(a.stdout, "  ✗ %s %s: %s\n", step.Test, step.Step, step.Error)
		}
	}
	if s.Error != "" {
		fmt.Fprintf(a.stdout, "Error: %s\n", s.Error)
	}
	fmt.Fprintln(a.stdout)

	if profileArtifact := findArtifact(s.Artifacts, model.ArtifactTypeBreakdownProfile); profileArtifact != nil {
		return a.displayProfile(entry.FullPath, profileArtifact, pprofArgs)
	}
	if aggArtifact := findArtifact(s.Artifacts, model.ArtifactTypeAggregate); aggArtifact != nil {
		return a.displayAggregate(entry.FullPath, aggArtifact)
	}

	fmt.Fprintln(a.stdout, "No aggregated results, run the plot command on the directory")
	return nil
}

func (a *App) displayProfile(runDir string, artifact *model.Artifact, pprofArgs []string) error {
	profilePath := filepath.Join(runDir, artifact.File)
	fmt.Fprintf(a.stdout, "Profile: %s (%.1f KB)\n", profilePath, float64(artifact.Size)/1024)

	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = runDir

	return cmd.Run()
}

func formatMicros(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func (a *App) displayAggregate(runDir string, artifact *model.Artifact) error {
	agg, err := results.Read(filepath.Join(runDir, artifact.File))
	if err != nil {
		return fmt.Errorf("failed to read aggregate: %w", err)
	}

	fmt.Fprintf(a.stdout, "%-32s %-40s %10s %10s %10s %10s %10s\n", "PROGRAM", "CONFIG", "FIRST", "METADATA", "FS", "DATA", "WARM")
	for _, program := range agg.Programs() {
		for _, c := range model.RestoreConfigs {
			s, ok := agg[program][c.Tag]
			if !ok {
				continue
			}
			fmt.Fprintf(a.stdout, "%-32s %-40s %10s %10s %10s %10s %10s\n",
				program, c.Tag,
				formatMicros(s.ColdFirstIter),
				formatMicros(s.MetadataRestore),
				formatMicros(s.FSRestore),
				formatMicros(s.DataRestore),
				formatMicros(s.WarmIter),
			)
		}
	}
	return nil
}

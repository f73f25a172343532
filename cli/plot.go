package cli

// This file contains the aggregation of a result directory into the
// aggregate, the chart and the breakdown profile.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jifbench/jifbench/history"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/report"
	"github.com/jifbench/jifbench/results"
	"github.com/urfave/cli/v2"
)

// aggregate parses the logs of dir and writes the derived artifacts next to
// them. Under dry-run the logs are parsed but nothing is written.
func (a *App) aggregate(dir string, dryRun bool) ([]model.Artifact, error) {
	agg, err := results.ParseAll(dir)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return nil, nil
	}
	if len(agg) == 0 {
		a.logger.Warn().Str("dir", dir).Msg("No results to aggregate")
		return nil, nil
	}

	outputs := []struct {
		file  string
		typ   model.ArtifactType
		write func(model.Aggregate, string) error
	}{
		{results.AggregateFile, model.ArtifactTypeAggregate, results.Write},
		{report.ChartFile, model.ArtifactTypeChart, report.Chart},
		{report.BreakdownFile, model.ArtifactTypeBreakdownProfile, report.WriteBreakdown},
	}

	var artifacts []model.Artifact
	for _, o := range outputs {
		if err := o.write(agg, filepath.Join(dir, o.file)); err != nil {
			return artifacts, err
		}
		artifact, err := newArtifact(dir, o.file, o.typ)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, artifact)
		a.logger.Debug().Str("file", artifact.File).Uint64("size", artifact.Size).Msg("Wrote artifact")
	}
	return artifacts, nil
}

func (a *App) plot(ctx *cli.Context) error {
	dirs := ctx.Args().Slice()
	if len(dirs) == 0 {
		return fmt.Errorf("at least one result directory is required")
	}

	for _, dir := range dirs {
		artifacts, err := a.aggregate(dir, false)
		if err != nil {
			return fmt.Errorf("failed to plot %s: %w", dir, err)
		}

		// Keep the sweep record, when there is one, in line with the files
		s, err := history.Load(dir)
		switch {
		case err == nil:
			s.Artifacts = artifacts
			if err := history.Save(dir, s); err != nil {
				return err
			}
		case !errors.Is(err, os.ErrNotExist):
			a.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to parse sweep.json")
		}

		fmt.Fprintf(a.stdout, "%s: %d artifacts\n", dir, len(artifacts))
	}
	return nil
}

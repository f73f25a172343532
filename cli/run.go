package cli

// This file contains the sweep command: host bring-up, the engine run and
// the recording of the sweep in its result directory.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/history"
	"github.com/jifbench/jifbench/hostenv"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/runner"
	"github.com/jifbench/jifbench/sweep"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"
)

func (a *App) newRunner(cfg config.Config) *runner.Runner {
	return runner.New(a.logger,
		runner.WithEcho(a.stdout),
		runner.WithDryRun(cfg.DryRun),
		runner.WithTimeout(time.Duration(cfg.StepTimeout)),
	)
}

// pagerFor returns the kernel facility controller, or nil when the facility
// is disabled or not installed.
func (a *App) pagerFor(cfg config.Config, r *runner.Runner) *jifpager.Controller {
	if !cfg.Experiments.Kernel {
		return nil
	}
	if !jifpager.Probe(cfg.Paths.PagerDevice) {
		a.logger.Info().Str("device", cfg.Paths.PagerDevice).Msg("Pager not installed, skipping kernel-assisted restores")
		return nil
	}
	return jifpager.NewController(a.logger, jifpager.NewSysfsSurface(r, cfg.Paths.PagerSysfs, cfg.Sudo), cfg.DryRun)
}

func (a *App) run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	tests, err := selectTests(ctx, cfg.Paths.Root)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		return fmt.Errorf("no test matches the filters")
	}
	if cfg.DryRun {
		for _, tc := range tests {
			fmt.Fprintln(a.stdout, tc)
		}
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, unix.SIGTERM)
	defer stop()

	r := a.newRunner(cfg)
	pager := a.pagerFor(cfg, r)

	if err := hostenv.NewIOKernel(a.logger, r, cfg.Paths.CaladanDir, cfg.Sudo).Ensure(runCtx); err != nil {
		return err
	}
	if cfg.UseChroot {
		chroot := hostenv.NewChroot(a.logger, r, cfg, pager != nil)
		if err := chroot.Setup(runCtx); err != nil {
			return fmt.Errorf("failed to set up chroot: %w", err)
		}
		defer func() {
			if err := chroot.Teardown(context.WithoutCancel(runCtx)); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to tear down chroot")
			}
		}()
	}

	start := time.Now()
	dir, err := history.Create(cfg.Paths.Results, start)
	if err != nil {
		return err
	}

	record := model.Sweep{
		ID:             history.NewID(),
		Timestamp:      start,
		Args:           a.args,
		DryRun:         cfg.DryRun,
		KernelFacility: pager != nil,
	}
	for _, tc := range tests {
		record.Tests = append(record.Tests, tc.ID())
	}
	// A dry run spawns nothing, git included
	if !cfg.DryRun {
		if commit, branch, err := a.getGitInfo(cfg.Paths.Root); err == nil {
			record.Git = &model.Git{Commit: commit, Branch: branch}
		} else {
			a.logger.Debug().Err(err).Msg("No git information")
		}
	}

	a.logger.Info().Str("dir", dir).Int("tests", len(tests)).Bool("kernel", pager != nil).Msg("Starting sweep")
	outcomes, sweepErr := sweep.NewEngine(a.logger, cfg, r, pager, dir).Run(runCtx, tests)
	record.Steps = outcomes
	record.Duration = time.Since(start)
	if sweepErr != nil {
		record.Error = sweepErr.Error()
	}

	artifacts, err := a.aggregate(dir, cfg.DryRun)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to aggregate results")
	}
	record.Artifacts = artifacts

	if err := history.Save(dir, record); err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	a.logger.Info().
		Str("dir", dir).
		Int("steps", len(outcomes)).
		Int("failed", failed).
		Dur("duration", record.Duration).
		Msg("Sweep finished")
	return sweepErr
}

// Package sweep measures every enabled restore configuration of every test
// and drives the pipeline that prepares them.
package sweep

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/pipeline"
	"github.com/jifbench/jifbench/restore"
	"github.com/rs/zerolog"
)

// LogPath returns the timing log of a configuration.
func LogPath(dir, tag string) string {
	return filepath.Join(dir, model.TimingLog(tag))
}

// Step is one restore configuration of one test.
type Step struct {
	Tag string
	Run func(ctx context.Context) error
}

// Sweep runs the restore matrix of tests.
type Sweep struct {
	logger   zerolog.Logger
	cfg      config.Config
	restorer *restore.Restorer
	dir      string
}

// New creates a sweep writing its logs into dir.
func New(logger zerolog.Logger, cfg config.Config, restorer *restore.Restorer, dir string) *Sweep {
	return &Sweep{
		logger:   logger,
		cfg:      cfg,
		restorer: restorer,
		dir:      dir,
	}
}

func (s *Sweep) kernel(tc model.TestCase, run restore.KernelRun) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.restorer.Kernel(ctx, tc, run)
		return err
	}
}

// Steps returns the enabled configurations of a test in measurement order.
// Kernel-assisted configurations are only planned when the facility is
// available.
func (s *Sweep) Steps(tc model.TestCase, imgs pipeline.Images, coRunners []model.TestCase) []Step {
	exp := s.cfg.Experiments
	var steps []Step

	if exp.ELFBaseline && imgs.ELF != nil {
		elf := imgs.ELF.Image()
		steps = append(steps, Step{Tag: model.TagELF, Run: func(ctx context.Context) error {
			if err := s.restorer.DropCaches(ctx); err != nil {
				return err
			}
			return s.restorer.ELF(ctx, tc, elf, LogPath(s.dir, model.TagELF))
		}})
	}

	if exp.JIFUserspaceBaseline {
		indexed := imgs.Indexed.Image()
		steps = append(steps, Step{Tag: model.TagJIFUserspace, Run: func(ctx context.Context) error {
			if err := s.restorer.DropCaches(ctx); err != nil {
				return err
			}
			return s.restorer.Userspace(ctx, tc, indexed, LogPath(s.dir, model.TagJIFUserspace), "")
		}})
	}

	if !s.restorer.KernelAvailable() {
		return steps
	}

	ordered := imgs.Ordered.Ordered()
	kernelRun := func(tag string, prefault, minor, cold, reorder bool, coRunners []model.TestCase) Step {
		run := restore.DefaultKernelRun(LogPath(s.dir, tag), ordered)
		run.Knobs.Prefault = prefault
		run.Knobs.PrefaultMinor = minor
		run.Cold = cold
		run.Reorder = reorder
		run.CoRunners = coRunners
		return Step{Tag: tag, Run: s.kernel(tc, run)}
	}

	if exp.KernelNoPrefetch {
		steps = append(steps, kernelRun(model.TagKernel, false, false, true, true, nil))
	}
	if exp.KernelPrefetch {
		steps = append(steps, kernelRun(model.TagKernelPrefetch, true, false, true, false, nil))
	}
	if exp.KernelPrefetchFull {
		steps = append(steps, kernelRun(model.TagKernelPrefetchReorderFull, true, true, true, true, nil))
	}
	if exp.SecondApps && len(coRunners) > 0 {
		steps = append(steps, kernelRun(model.TagKernelSecondApps, false, false, false, false, coRunners))
	}
	if exp.SelfContention {
		steps = append(steps, kernelRun(model.TagKernelSelf, false, false, true, false, []model.TestCase{tc}))
	}
	return steps
}

// Run measures every enabled configuration of a test. A failing
// configuration is recorded and the next one runs; a co-runner failure or a
// cancelled context aborts and is returned.
func (s *Sweep) Run(ctx context.Context, tc model.TestCase, imgs pipeline.Images, coRunners []model.TestCase) ([]model.StepOutcome, error) {
	logger := s.logger.With().Str("test", tc.ID()).Logger()

	var outcomes []model.StepOutcome
	for _, step := range s.Steps(tc, imgs, coRunners) {
		logger.Info().Str("config", step.Tag).Msg("Restoring")

		outcome := model.StepOutcome{Test: tc.ID(), Step: step.Tag}
		err := step.Run(ctx)
		if err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)

		switch {
		case err == nil:
		case errors.Is(err, restore.ErrContention), errors.Is(err, jifpager.ErrNotArmed), ctx.Err() != nil:
			return outcomes, err
		default:
			logger.Warn().Err(err).Str("config", step.Tag).Msg("Restore failed")
		}
	}
	return outcomes, nil
}

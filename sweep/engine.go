package sweep

import (
	"context"
	"time"

	"github.com/jifbench/jifbench/cache"
	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/pipeline"
	"github.com/jifbench/jifbench/registry"
	"github.com/jifbench/jifbench/restore"
	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

// StepPipeline is the outcome step name of a test's artifact generation.
const StepPipeline = "pipeline"

// Engine prepares the artifacts of every test and then measures them.
type Engine struct {
	logger   zerolog.Logger
	cfg      config.Config
	pipeline *pipeline.Pipeline
	sweep    *Sweep
}

// NewEngine wires an engine writing into dir. pager is nil when the kernel
// facility is absent or disabled; kernel-assisted configurations are then
// skipped entirely.
func NewEngine(logger zerolog.Logger, cfg config.Config, r *runner.Runner, pager *jifpager.Controller, dir string) *Engine {
	dropper := cache.New(logger, r, cfg.Paths.DropCaches, cfg.Sudo, cfg.DropCacheRepeats, time.Duration(cfg.DropCacheDelay))
	restorer := restore.NewRestorer(logger, r, cfg, pager, dropper)
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		pipeline: pipeline.New(logger, cfg, restorer, dir),
		sweep:    New(logger, cfg, restorer, dir),
	}
}

// Run generates (or locates) the artifacts of every test, then runs the
// restore matrix of every test whose artifacts are available. Tests are
// co-runners of each other within the given set.
func (e *Engine) Run(ctx context.Context, tests []model.TestCase) ([]model.StepOutcome, error) {
	var outcomes []model.StepOutcome
	images := make(map[model.Key]pipeline.Images, len(tests))

	for _, tc := range tests {
		var (
			imgs pipeline.Images
			err  error
		)
		if e.cfg.RedoSnapshot {
			imgs, err = e.pipeline.Generate(ctx, tc)
		} else {
			imgs, err = e.pipeline.Existing(tc)
		}

		outcome := model.StepOutcome{Test: tc.ID(), Step: StepPipeline}
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, err
			}
			outcome.Error = err.Error()
			e.logger.Error().Err(err).Str("test", tc.ID()).Msg("Image pipeline failed, skipping test")
		} else {
			images[tc.Key()] = imgs
		}
		outcomes = append(outcomes, outcome)
	}

	var ready []model.TestCase
	for _, tc := range tests {
		if _, ok := images[tc.Key()]; ok {
			ready = append(ready, tc)
		}
	}

	for _, tc := range ready {
		steps, err := e.sweep.Run(ctx, tc, images[tc.Key()], registry.CoRunners(tc, ready))
		outcomes = append(outcomes, steps...)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

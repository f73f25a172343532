package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jifbench/jifbench/cache"
	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

// ErrNoFacility is returned by kernel-assisted operations when the kernel
// facility was not detected.
var ErrNoFacility = errors.New("jif_pager facility is not available")

// Ordered is the pair of fault-order augmented images of a test.
type Ordered struct {
	Metadata  string
	Plain     string
	Reordered string
}

// Select returns the reordered image when reorder is set, the plain one
// otherwise.
func (o Ordered) Select(reorder bool) Image {
	if reorder {
		return Image{Metadata: o.Metadata, Data: o.Reordered}
	}
	return Image{Metadata: o.Metadata, Data: o.Plain}
}

// Ordered returns the ordered images of the layout.
func (l Layout) Ordered() Ordered {
	return Ordered{
		Metadata:  l.Target(SuffixJIFMetadata),
		Plain:     l.Target(SuffixOrdered),
		Reordered: l.Target(SuffixReordered),
	}
}

// KernelRun holds the parameters of one kernel-assisted restore.
type KernelRun struct {
	// Log the measured run appends to; statistics go to Log + "_kstats"
	Log string
	// Images of the measured test
	Images Ordered
	// Knobs applied before the run
	Knobs jifpager.Knobs
	// Drop the page cache before the run
	Cold bool
	// Restore the prefetch-reordered images
	Reorder bool
	// Tests restored concurrently before the measured run
	CoRunners []model.TestCase
}

// DefaultKernelRun returns the knob defaults of a kernel-assisted restore:
// fault-around, readahead, reorder and tracing enabled.
func DefaultKernelRun(log string, images Ordered) KernelRun {
	return KernelRun{
		Log:    log,
		Images: images,
		Knobs: jifpager.Knobs{
			FaultAround: true,
			Readahead:   true,
			Trace:       true,
		},
		Reorder: true,
	}
}

// Restorer performs snapshot captures and restores.
type Restorer struct {
	logger   zerolog.Logger
	runner   *runner.Runner
	cfg      config.Config
	junction Junction
	pager    *jifpager.Controller
	dropper  *cache.Dropper
}

// NewRestorer creates a restorer. pager is nil when the kernel facility is
// absent; every kernel-assisted operation then fails with ErrNoFacility.
func NewRestorer(logger zerolog.Logger, r *runner.Runner, cfg config.Config, pager *jifpager.Controller, dropper *cache.Dropper) *Restorer {
	return &Restorer{
		logger:   logger,
		runner:   r,
		cfg:      cfg,
		junction: NewJunction(cfg),
		pager:    pager,
		dropper:  dropper,
	}
}

// KernelAvailable reports whether kernel-assisted restores can run.
func (r *Restorer) KernelAvailable() bool {
	return r.pager != nil
}

// Junction returns the command builder of the restorer.
func (r *Restorer) Junction() Junction {
	return r.junction
}

// Runner returns the process runner of the restorer.
func (r *Restorer) Runner() *runner.Runner {
	return r.runner
}

// DropCaches forces a cold page cache.
func (r *Restorer) DropCaches(ctx context.Context) error {
	return r.dropper.Drop(ctx)
}

// Snapshot runs the test under the snapshot driver and writes a snapshot at
// the prefix of the layout.
func (r *Restorer) Snapshot(ctx context.Context, tc model.TestCase, prefix string, flags []string, log string) error {
	flags = append(append([]string{}, flags...), FlagSnapshotPre, prefix)
	return r.runner.Run(ctx, r.junction.Command(tc, Invocation{
		Flags:  flags,
		Target: Split(tc.Command),
		Log:    log,
	}))
}

// ELF restores an ELF snapshot.
func (r *Restorer) ELF(ctx context.Context, tc model.TestCase, img Image, log string) error {
	return r.runner.Run(ctx, r.junction.Command(tc, Invocation{
		Flags:  []string{FlagRestore},
		Target: []string{img.Metadata, img.Data},
		Log:    log,
	}))
}

// Userspace restores a JIF image without the kernel facility. A non-empty
// traceOut records the fault order of the first iteration into it.
func (r *Restorer) Userspace(ctx context.Context, tc model.TestCase, img Image, log, traceOut string) error {
	var flags []string
	if traceOut != "" {
		flags = append(flags, FlagStackSwitch, FlagMemTrace, FlagMemTraceOut, traceOut)
	}
	flags = append(flags, FlagJIF, FlagRestore)
	return r.runner.Run(ctx, r.junction.Command(tc, Invocation{
		Flags:  flags,
		Target: []string{img.Metadata, img.Data},
		Log:    log,
	}))
}

func (r *Restorer) kernelCommand(tc model.TestCase, runtimeConfig string, img Image, log string) runner.Command {
	return r.junction.Command(tc, Invocation{
		RuntimeConfig: runtimeConfig,
		Flags:         []string{FlagJIF, FlagRestoreKernel},
		Target:        []string{img.Metadata, img.Data},
		Log:           log,
	})
}

// coRunnerConfig renders the runtime configuration of the co-runner at idx
// with its own network identity.
func (r *Restorer) coRunnerConfig(idx int) (string, runner.Command) {
	path := filepath.Join("/tmp", fmt.Sprintf("beconf_%d.conf", idx))
	return path, runner.Command{
		Args:       []string{"sed", fmt.Sprintf("s/host_addr.*/host_addr 123.45.6.%d/", idx), r.cfg.Paths.CaladanConfig},
		Output:     path,
		Truncate:   true,
		StdoutOnly: true,
	}
}

// Kernel performs a kernel-assisted restore: it applies the knobs, resets the
// counters, optionally drops the page cache, restores the co-runners and
// joins them, resets the counters again, runs the measured restore and
// appends its statistics to the telemetry log.
func (r *Restorer) Kernel(ctx context.Context, tc model.TestCase, run KernelRun) (model.KernelRunStats, error) {
	if r.pager == nil {
		return model.KernelRunStats{}, ErrNoFacility
	}

	if err := r.pager.Apply(ctx, run.Knobs); err != nil {
		return model.KernelRunStats{}, err
	}
	if _, err := r.pager.Reset(ctx); err != nil {
		return model.KernelRunStats{}, err
	}
	if run.Cold {
		if err := r.dropper.Drop(ctx); err != nil {
			return model.KernelRunStats{}, err
		}
	}

	if len(run.CoRunners) > 0 {
		var barrier Barrier
		for idx, co := range run.CoRunners {
			conf, sed := r.coRunnerConfig(idx)
			if err := r.runner.Run(ctx, sed); err != nil {
				barrier.Fail(co, err)
				continue
			}
			img := LayoutFor(r.cfg, co).Ordered().Select(run.Reorder)
			barrier.Launch(ctx, r.runner, co, r.kernelCommand(co, conf, img, run.Log+"_second_app_"+co.ID()))
		}
		if err := barrier.Wait(); err != nil {
			return model.KernelRunStats{}, err
		}
	}

	armed, err := r.pager.Reset(ctx)
	if err != nil {
		return model.KernelRunStats{}, err
	}
	if err := r.runner.Run(ctx, r.kernelCommand(tc, "", run.Images.Select(run.Reorder), run.Log)); err != nil {
		return model.KernelRunStats{}, err
	}

	stats, err := r.pager.ReadStats(ctx, armed)
	if err != nil {
		return model.KernelRunStats{}, err
	}
	stats.Derive()
	stats.Readahead = run.Knobs.Readahead
	stats.Prefault = run.Knobs.Prefault
	stats.Cold = run.Cold
	stats.Key = tc.ID()

	line, err := json.Marshal(stats)
	if err != nil {
		return model.KernelRunStats{}, fmt.Errorf("failed to encode stats: %w", err)
	}
	if err := r.runner.AppendLine(run.Log+"_kstats", string(line)); err != nil {
		return model.KernelRunStats{}, err
	}
	return stats, nil
}

// DumpTrace copies the kernel fault-order trace buffer to dst on the host.
func (r *Restorer) DumpTrace(ctx context.Context, dst string) error {
	const scratch = "/tmp/ord"
	if err := r.runner.Run(ctx, runner.Command{
		Args:       []string{"cat", r.cfg.Paths.PagerTrace},
		Sudo:       r.cfg.Sudo,
		Output:     scratch,
		Truncate:   true,
		StdoutOnly: true,
	}); err != nil {
		return fmt.Errorf("failed to read kernel trace: %w", err)
	}
	return r.runner.Run(ctx, runner.Command{
		Args: []string{"cp", scratch, dst},
		Sudo: r.cfg.Sudo,
	})
}

// Package pipeline produces the snapshot artifacts of a test. Every step
// returns a handle to what it wrote and the next step consumes that handle,
// so a step cannot run before the artifacts it reads exist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/restore"
	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

// ErrMissingArtifact is returned when an artifact expected from a previous
// sweep is not on disk.
var ErrMissingArtifact = errors.New("missing artifact")

// LogBase is the prefix of the pipeline logs inside a result directory.
const LogBase = "generate_images"

// ELFSnapshot is a metadata and ELF image pair.
type ELFSnapshot struct {
	image restore.Image
}

// Image returns the restorable pair.
func (s ELFSnapshot) Image() restore.Image {
	return s.image
}

// JIFSnapshot is a metadata and JIF image pair.
type JIFSnapshot struct {
	layout restore.Layout
}

// IndexedImage is a JIF image with interval trees built.
type IndexedImage struct {
	layout restore.Layout
}

// Image returns the restorable pair.
func (i IndexedImage) Image() restore.Image {
	return restore.Image{
		Metadata: i.layout.Target(restore.SuffixJIFMetadata),
		Data:     i.layout.Target(restore.SuffixITrees),
	}
}

// FaultOrder is a recorded page fault order.
type FaultOrder struct {
	layout restore.Layout
}

// OrderedImages are the indexed image augmented with a fault order, once
// plain and once reordered for prefetching.
type OrderedImages struct {
	ordered restore.Ordered
}

// Ordered returns the image paths.
func (o OrderedImages) Ordered() restore.Ordered {
	return o.ordered
}

// Images is the complete artifact set of a test.
type Images struct {
	// Present only when the ELF baseline is enabled
	ELF     *ELFSnapshot
	JIF     JIFSnapshot
	Indexed IndexedImage
	Order   FaultOrder
	Ordered OrderedImages
}

// Pipeline generates the artifacts of tests into one result directory.
type Pipeline struct {
	logger   zerolog.Logger
	cfg      config.Config
	restorer *restore.Restorer
	dir      string
}

// New creates a pipeline writing its logs into dir.
func New(logger zerolog.Logger, cfg config.Config, restorer *restore.Restorer, dir string) *Pipeline {
	return &Pipeline{
		logger:   logger,
		cfg:      cfg,
		restorer: restorer,
		dir:      dir,
	}
}

func (p *Pipeline) log(suffix string) string {
	return filepath.Join(p.dir, LogBase+suffix)
}

func (p *Pipeline) layout(tc model.TestCase) restore.Layout {
	return restore.LayoutFor(p.cfg, tc)
}

func (p *Pipeline) run() *runner.Runner {
	return p.restorer.Runner()
}

// Baseline runs the test without the snapshot driver and appends its output
// to the Linux baseline log.
func (p *Pipeline) Baseline(ctx context.Context, tc model.TestCase) error {
	return p.run().Run(ctx, runner.Command{
		Args:   restore.Split(tc.RawCommand),
		Env:    []string{"DONTSTOP=1"},
		Output: filepath.Join(p.dir, model.TimingLog(model.TagLinux)),
	})
}

// SnapshotELF captures an ELF snapshot.
func (p *Pipeline) SnapshotELF(ctx context.Context, tc model.TestCase) (ELFSnapshot, error) {
	l := p.layout(tc)
	if err := p.restorer.Snapshot(ctx, tc, l.Prefix(), nil, p.log("_snap_elf")); err != nil {
		return ELFSnapshot{}, fmt.Errorf("failed to snapshot %s as ELF: %w", tc.ID(), err)
	}
	return ELFSnapshot{image: restore.Image{
		Metadata: l.Target(restore.SuffixELFMetadata),
		Data:     l.Target(restore.SuffixELFImage),
	}}, nil
}

// SnapshotJIF captures a JIF snapshot.
func (p *Pipeline) SnapshotJIF(ctx context.Context, tc model.TestCase) (JIFSnapshot, error) {
	l := p.layout(tc)
	flags := []string{restore.FlagJIF, restore.FlagMadvRemap}
	if err := p.restorer.Snapshot(ctx, tc, l.Prefix(), flags, p.log("_snap_jif")); err != nil {
		return JIFSnapshot{}, fmt.Errorf("failed to snapshot %s as JIF: %w", tc.ID(), err)
	}
	return JIFSnapshot{layout: l}, nil
}

// BuildITrees builds the interval tree index of a JIF snapshot.
func (p *Pipeline) BuildITrees(ctx context.Context, tc model.TestCase, snap JIFSnapshot) (IndexedImage, error) {
	l := snap.layout
	sub := []string{"build-itrees"}
	if p.cfg.UseChroot {
		sub = append(sub, p.cfg.Paths.Chroot)
	}
	cmd := p.restorer.Junction().Tool(l.Host(restore.SuffixJIFImage), l.Host(restore.SuffixITrees), sub, p.log("_build_itree"))
	if err := p.run().Run(ctx, cmd); err != nil {
		return IndexedImage{}, fmt.Errorf("failed to build itrees for %s: %w", tc.ID(), err)
	}
	return IndexedImage{layout: l}, nil
}

// TraceFaultOrder restores the indexed image once in userspace while
// recording the order in which pages are touched.
func (p *Pipeline) TraceFaultOrder(ctx context.Context, tc model.TestCase, img IndexedImage) (FaultOrder, error) {
	l := img.layout
	err := p.restorer.Userspace(ctx, tc, img.Image(), p.log("_build_ord_jif"), l.Target(restore.SuffixOrder))
	if err != nil {
		return FaultOrder{}, fmt.Errorf("failed to trace fault order of %s: %w", tc.ID(), err)
	}
	return FaultOrder{layout: l}, nil
}

// ApplyFaultOrder folds a fault order into the indexed image, producing the
// prefetch-reordered and the plain ordered images.
func (p *Pipeline) ApplyFaultOrder(ctx context.Context, tc model.TestCase, img IndexedImage, order FaultOrder) (OrderedImages, error) {
	l := img.layout
	tool := p.restorer.Junction()
	ord := order.layout.Host(restore.SuffixOrder)

	for _, cmd := range []runner.Command{
		tool.Tool(l.Host(restore.SuffixITrees), l.Host(restore.SuffixReordered), []string{"add-ord", "--setup-prefetch", ord}, p.log("_add_ord_reord")),
		tool.Tool(l.Host(restore.SuffixITrees), l.Host(restore.SuffixOrdered), []string{"add-ord", ord}, p.log("_add_ord")),
	} {
		if err := p.run().Run(ctx, cmd); err != nil {
			return OrderedImages{}, fmt.Errorf("failed to apply fault order to %s: %w", tc.ID(), err)
		}
	}
	return OrderedImages{ordered: l.Ordered()}, nil
}

// KernelTrace records the fault order with the kernel tracer, which observes
// a superset of the pages the userspace tracer sees. Every repetition
// overwrites the order file.
func (p *Pipeline) KernelTrace(ctx context.Context, tc model.TestCase, imgs OrderedImages) (FaultOrder, error) {
	l := p.layout(tc)
	run := restore.DefaultKernelRun(p.log("_build_ord_itrees_jif_k"), imgs.ordered)
	run.Knobs = jifpager.Knobs{
		Prefault:      true,
		PrefaultMinor: true,
		Readahead:     true,
		Trace:         true,
	}
	run.Cold = true

	for i := 0; i < p.cfg.KernelTraceRuns; i++ {
		if _, err := p.restorer.Kernel(ctx, tc, run); err != nil {
			return FaultOrder{}, fmt.Errorf("kernel trace %d of %s failed: %w", i, tc.ID(), err)
		}
		if err := p.restorer.DumpTrace(ctx, l.Host(restore.SuffixOrder)); err != nil {
			return FaultOrder{}, err
		}
	}
	return FaultOrder{layout: l}, nil
}

// Generate runs the whole pipeline for a test. The first failing step aborts
// the pipeline of that test.
func (p *Pipeline) Generate(ctx context.Context, tc model.TestCase) (Images, error) {
	logger := p.logger.With().Str("test", tc.ID()).Logger()
	var imgs Images

	if p.cfg.Experiments.LinuxBaseline {
		if err := p.Baseline(ctx, tc); err != nil {
			logger.Warn().Err(err).Msg("Linux baseline failed")
		}
	}

	if p.cfg.Experiments.ELFBaseline {
		elf, err := p.SnapshotELF(ctx, tc)
		if err != nil {
			return Images{}, err
		}
		imgs.ELF = &elf
	}

	jif, err := p.SnapshotJIF(ctx, tc)
	if err != nil {
		return Images{}, err
	}
	imgs.JIF = jif

	if imgs.Indexed, err = p.BuildITrees(ctx, tc, jif); err != nil {
		return Images{}, err
	}
	if imgs.Order, err = p.TraceFaultOrder(ctx, tc, imgs.Indexed); err != nil {
		return Images{}, err
	}
	if imgs.Ordered, err = p.ApplyFaultOrder(ctx, tc, imgs.Indexed, imgs.Order); err != nil {
		return Images{}, err
	}

	if p.restorer.KernelAvailable() {
		if imgs.Order, err = p.KernelTrace(ctx, tc, imgs.Ordered); err != nil {
			return Images{}, err
		}
		if imgs.Ordered, err = p.ApplyFaultOrder(ctx, tc, imgs.Indexed, imgs.Order); err != nil {
			return Images{}, err
		}
	}

	logger.Info().Msg("Generated images")
	return imgs, nil
}

// Existing returns the artifacts of a previous sweep. Outside dry-run mode
// every artifact the enabled restores read must exist on the host; the fault
// ordered images are only read by kernel-assisted restores.
func (p *Pipeline) Existing(tc model.TestCase) (Images, error) {
	l := p.layout(tc)
	suffixes := []string{
		restore.SuffixJIFMetadata,
		restore.SuffixJIFImage,
		restore.SuffixITrees,
	}
	if p.restorer.KernelAvailable() {
		suffixes = append(suffixes, restore.SuffixOrder, restore.SuffixOrdered, restore.SuffixReordered)
	}
	imgs := Images{
		JIF:     JIFSnapshot{layout: l},
		Indexed: IndexedImage{layout: l},
		Order:   FaultOrder{layout: l},
		Ordered: OrderedImages{ordered: l.Ordered()},
	}
	if p.cfg.Experiments.ELFBaseline {
		suffixes = append(suffixes, restore.SuffixELFMetadata, restore.SuffixELFImage)
		imgs.ELF = &ELFSnapshot{image: restore.Image{
			Metadata: l.Target(restore.SuffixELFMetadata),
			Data:     l.Target(restore.SuffixELFImage),
		}}
	}

	if p.run().DryRun() {
		return imgs, nil
	}
	for _, s := range suffixes {
		if _, err := os.Stat(l.Host(s)); err != nil {
			return Images{}, fmt.Errorf("%w: %s: %w", ErrMissingArtifact, tc.ID(), err)
		}
	}
	return imgs, nil
}

// Package jifpager controls the jif_pager kernel module: it applies the
// experiment knobs, resets the cumulative counters and reads them back after
// a measured restore.
package jifpager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jifbench/jifbench/model"
	"github.com/rs/zerolog"
)

// Control surface keys.
const (
	KeyTrace          = "trace"
	KeyReadahead      = "readahead"
	KeyFaultAround    = "fault_around"
	KeyPrefault       = "prefault"
	KeyPrefaultMinor  = "prefault_minor"
	KeyMeasureLatency = "measure_latency"
	KeyReset          = "reset"
	KeyStats          = "stats"
)

// ErrNotArmed is returned when statistics are read with a token that is not
// the one minted by the latest Reset.
var ErrNotArmed = errors.New("jifpager: counters were not reset before reading")

// Knobs is the set of boolean settings applied before a kernel-assisted run.
type Knobs struct {
	FaultAround    bool
	Prefault       bool
	PrefaultMinor  bool
	MeasureLatency bool
	Readahead      bool
	Trace          bool
}

// Armed proves that the counters were reset. Only Controller.Reset mints it.
type Armed struct {
	owner *Controller
	seq   uint64
}

// Controller is the single owner of the control surface during a sweep.
type Controller struct {
	logger  zerolog.Logger
	surface Surface
	dryRun  bool
	resets  uint64
}

// NewController creates a controller. In dry-run mode knob writes are still
// issued (the surface echoes them) but statistics are never read.
func NewController(logger zerolog.Logger, surface Surface, dryRun bool) *Controller {
	return &Controller{logger: logger, surface: surface, dryRun: dryRun}
}

func boolValue(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (c *Controller) set(ctx context.Context, key string, v bool) error {
	if err := c.surface.Write(ctx, key, boolValue(v)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (c *Controller) SetFaultAround(ctx context.Context, v bool) error {
	return c.set(ctx, KeyFaultAround, v)
}

func (c *Controller) SetPrefault(ctx context.Context, v bool) error {
	return c.set(ctx, KeyPrefault, v)
}

func (c *Controller) SetPrefaultMinor(ctx context.Context, v bool) error {
	return c.set(ctx, KeyPrefaultMinor, v)
}

func (c *Controller) SetMeasureLatency(ctx context.Context, v bool) error {
	return c.set(ctx, KeyMeasureLatency, v)
}

func (c *Controller) SetReadahead(ctx context.Context, v bool) error {
	return c.set(ctx, KeyReadahead, v)
}

func (c *Controller) SetTrace(ctx context.Context, v bool) error {
	return c.set(ctx, KeyTrace, v)
}

// Apply writes every knob in a fixed order.
func (c *Controller) Apply(ctx context.Context, k Knobs) error {
	for _, step := range []struct {
		key string
		v   bool
	}{
		{KeyFaultAround, k.FaultAround},
		{KeyPrefault, k.Prefault},
		{KeyPrefaultMinor, k.PrefaultMinor},
		{KeyMeasureLatency, k.MeasureLatency},
		{KeyReadahead, k.Readahead},
		{KeyTrace, k.Trace},
	} {
		if err := c.set(ctx, step.key, step.v); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the cumulative counters. The returned token supersedes every
// token minted before.
func (c *Controller) Reset(ctx context.Context) (Armed, error) {
	if err := c.surface.Write(ctx, KeyReset, "1"); err != nil {
		return Armed{}, fmt.Errorf("failed to reset counters: %w", err)
	}
	c.resets++
	return Armed{owner: c, seq: c.resets}, nil
}

// ReadStats reads the counters accumulated since the reset that minted the
// token. Derived metrics are not filled in.
func (c *Controller) ReadStats(ctx context.Context, token Armed) (model.KernelRunStats, error) {
	if token.owner != c || token.seq == 0 || token.seq != c.resets {
		return model.KernelRunStats{}, ErrNotArmed
	}
	if c.dryRun {
		return model.KernelRunStats{}, nil
	}

	data, err := c.surface.Read(ctx, KeyStats)
	if err != nil {
		return model.KernelRunStats{}, err
	}
	stats, err := ParseStats(data)
	if err != nil {
		return model.KernelRunStats{}, err
	}

	c.logger.Debug().
		Uint64("sync_pages_read", stats.SyncPagesRead).
		Uint64("async_pages_read", stats.AsyncPagesRead).
		Uint64("major_faults", stats.MajorFaults).
		Uint64("minor_faults", stats.MinorFaults).
		Msg("Read jif_pager stats")
	return stats, nil
}

// ParseStats decodes the first line of the stats endpoint.
func ParseStats(data []byte) (model.KernelRunStats, error) {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	var stats model.KernelRunStats
	if err := json.Unmarshal(line, &stats); err != nil {
		return model.KernelRunStats{}, fmt.Errorf("failed to parse jif_pager stats: %w", err)
	}
	return stats, nil
}

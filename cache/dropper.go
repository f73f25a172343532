// Package cache forces cold page cache conditions before a measured restore.
package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

// DropAll is the drop_caches value that frees the page cache, dentries and
// inodes.
const DropAll = "3"

// Dropper drops the page cache. One drop is not enough to cool the cache
// while background activity keeps refilling it, so it is repeated with a
// delay between repetitions.
type Dropper struct {
	logger  zerolog.Logger
	runner  *runner.Runner
	path    string
	sudo    bool
	repeats int
	delay   time.Duration
	sleep   func(context.Context, time.Duration) error
}

// New creates a dropper writing to the drop_caches control at path.
func New(logger zerolog.Logger, r *runner.Runner, path string, sudo bool, repeats int, delay time.Duration) *Dropper {
	return &Dropper{
		logger:  logger,
		runner:  r,
		path:    path,
		sudo:    sudo,
		repeats: repeats,
		delay:   delay,
		sleep:   sleepContext,
	}
}

// Drop writes the drop command repeatedly. It does nothing in dry-run mode.
func (d *Dropper) Drop(ctx context.Context) error {
	if d.runner.DryRun() {
		return nil
	}

	d.logger.Debug().Int("repeats", d.repeats).Dur("delay", d.delay).Msg("Dropping page cache")
	for i := 0; i < d.repeats; i++ {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return err
			}
		}
		err := d.runner.Run(ctx, runner.Command{
			Args:     []string{"tee", d.path},
			Sudo:     d.sudo,
			Stdin:    DropAll,
			Output:   os.DevNull,
			Truncate: true,
		})
		if err != nil {
			return fmt.Errorf("failed to drop caches: %w", err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package hostenv

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

// Chroot prepares the filesystem the restored programs see: the binary and
// build trees are bind mounted read-only and the pager device is recreated
// inside it.
type Chroot struct {
	logger zerolog.Logger
	runner *runner.Runner
	dir    string
	binds  []string
	device string
	sudo   bool
	// Whether the pager device is installed on the host
	kernel bool
}

// NewChroot creates the chroot described by cfg.
func NewChroot(logger zerolog.Logger, r *runner.Runner, cfg config.Config, kernel bool) *Chroot {
	return &Chroot{
		logger: logger,
		runner: r,
		dir:    cfg.Paths.Chroot,
		binds:  []string{cfg.Paths.Bin, cfg.Paths.Build},
		device: cfg.Paths.PagerDevice,
		sudo:   cfg.Sudo,
		kernel: kernel,
	}
}

func (c *Chroot) inside(path string) string {
	return filepath.Join(c.dir, path)
}

func (c *Chroot) run(ctx context.Context, args ...string) error {
	return c.runner.Run(ctx, runner.Command{Args: args, Sudo: c.sudo})
}

// Setup mounts the trees and creates the device node.
func (c *Chroot) Setup(ctx context.Context) error {
	// The device is resolved first so a missing one leaves nothing mounted.
	var node []string
	if c.kernel {
		major, minor, err := jifpager.DeviceNumber(c.device)
		switch {
		case err == nil:
			node = []string{"mknod", "-m", "666", c.inside(c.device), "c", strconv.FormatUint(uint64(major), 10), strconv.FormatUint(uint64(minor), 10)}
		case c.runner.DryRun():
			c.logger.Warn().Err(err).Msg("Skipping pager device node")
		default:
			return err
		}
	}

	mkdir := []string{"mkdir", "-p"}
	for _, b := range c.binds {
		mkdir = append(mkdir, c.inside(b))
	}
	if err := c.run(ctx, mkdir...); err != nil {
		return fmt.Errorf("failed to create chroot mount points: %w", err)
	}

	for i, b := range c.binds {
		if err := c.run(ctx, "mount", "--bind", "-o", "ro", b, c.inside(b)); err != nil {
			return c.unbind(ctx, c.binds[:i], fmt.Errorf("failed to bind %s into the chroot: %w", b, err))
		}
	}

	if node == nil {
		return nil
	}
	if err := c.run(ctx, node...); err != nil {
		// Left over from a previous sweep
		c.logger.Warn().Err(err).Msg("Failed to create pager device node")
	}
	return nil
}

// unbind unmounts the given binds, latest first, after a failed Setup. The
// returned error carries cause and every unmount failure.
func (c *Chroot) unbind(ctx context.Context, binds []string, cause error) error {
	errs := multierror.Append(nil, cause)
	for i := len(binds) - 1; i >= 0; i-- {
		if err := c.run(ctx, "umount", c.inside(binds[i])); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// Teardown unmounts the trees and removes the device node. Every step is
// attempted; the failures are returned together.
func (c *Chroot) Teardown(ctx context.Context) error {
	var errs *multierror.Error
	for _, b := range c.binds {
		if err := c.run(ctx, "umount", c.inside(b)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if c.kernel {
		if err := c.run(ctx, "rm", c.inside(c.device)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Package hostenv brings up the host services the restores depend on: the
// Caladan I/O kernel daemon and the chroot the restored programs run in.
package hostenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
)

const (
	iokernelName  = "iokerneld"
	iokernelReady = "running dataplan"

	// DefaultIOKernelLog receives the output of the daemon
	DefaultIOKernelLog = "/tmp/iokernel0.log"
)

var iokernelArgs = []string{"ias", "nobw", "noht", "no_hw_qdel", "numanode", "-1", "--", "--allow", "00:00.0", "--vdev=net_tap0"}

// ErrIOKernelExited is returned when the daemon dies before it is ready.
var ErrIOKernelExited = errors.New("iokerneld exited before it was ready")

// IOKernel starts the Caladan I/O kernel daemon.
type IOKernel struct {
	logger     zerolog.Logger
	runner     *runner.Runner
	caladanDir string
	sudo       bool
	log        string
	poll       time.Duration

	// alive reports whether a daemon process exists
	alive func(ctx context.Context) bool
}

// NewIOKernel creates a launcher for the daemon built in caladanDir.
func NewIOKernel(logger zerolog.Logger, r *runner.Runner, caladanDir string, sudo bool) *IOKernel {
	k := &IOKernel{
		logger:     logger,
		runner:     r,
		caladanDir: caladanDir,
		sudo:       sudo,
		log:        DefaultIOKernelLog,
		poll:       300 * time.Millisecond,
	}
	k.alive = k.pgrep
	return k
}

func (k *IOKernel) pgrep(ctx context.Context) bool {
	return k.runner.Run(ctx, runner.Command{
		Args:       []string{"pgrep", iokernelName},
		Output:     os.DevNull,
		StdoutOnly: true,
	}) == nil
}

func (k *IOKernel) ready() bool {
	data, err := os.ReadFile(k.log)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(iokernelReady))
}

// Ensure starts the daemon unless one is running and waits until its
// dataplane is up. In dry-run mode the commands are only printed.
func (k *IOKernel) Ensure(ctx context.Context) error {
	dryRun := k.runner.DryRun()
	if !dryRun && k.alive(ctx) {
		k.logger.Debug().Msg("iokerneld already running")
		return nil
	}

	setup := runner.Command{
		Args: []string{filepath.Join(k.caladanDir, "scripts", "setup_machine.sh"), "nouintr"},
		Sudo: k.sudo,
	}
	if err := k.runner.Run(ctx, setup); err != nil {
		return fmt.Errorf("failed to set up machine: %w", err)
	}

	daemon := runner.Command{
		Args:     append([]string{filepath.Join(k.caladanDir, iokernelName)}, iokernelArgs...),
		Sudo:     k.sudo,
		Output:   k.log,
		Truncate: true,
	}
	if err := k.runner.Spawn(ctx, daemon); err != nil {
		return fmt.Errorf("failed to start iokerneld: %w", err)
	}
	if dryRun {
		return nil
	}

	ticker := time.NewTicker(k.poll)
	defer ticker.Stop()
	for !k.ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for iokerneld: %w", ctx.Err())
		case <-ticker.C:
		}
		if !k.alive(ctx) {
			return fmt.Errorf("%w, see %s", ErrIOKernelExited, k.log)
		}
	}

	k.logger.Info().Str("log", k.log).Msg("iokerneld is running")
	return nil
}

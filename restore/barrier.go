package restore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/runner"
)

// ErrContention is returned when a co-runner did not complete successfully.
// A contention measurement without a live contender is meaningless, so the
// caller aborts the sweep on it.
var ErrContention = errors.New("co-runner failed")

// launched is a co-runner that was started and must be joined.
type launched struct {
	test   model.TestCase
	handle *runner.Handle
}

// Barrier is the two-phase join of the co-runners of one kernel-assisted
// step: Launch starts them, Wait joins all of them.
type Barrier struct {
	pending []launched
	errs    *multierror.Error
}

// Launch starts a co-runner. A start failure is recorded and reported by Wait
// so already running co-runners are still joined.
func (b *Barrier) Launch(ctx context.Context, r *runner.Runner, tc model.TestCase, cmd runner.Command) {
	h, err := r.Start(ctx, cmd)
	if err != nil {
		b.errs = multierror.Append(b.errs, fmt.Errorf("%s: %w", tc.ID(), err))
		return
	}
	b.pending = append(b.pending, launched{test: tc, handle: h})
}

// Fail records a failure to prepare a co-runner.
func (b *Barrier) Fail(tc model.TestCase, err error) {
	b.errs = multierror.Append(b.errs, fmt.Errorf("%s: %w", tc.ID(), err))
}

// Wait joins every launched co-runner. It fails with ErrContention when any
// of them could not be started or did not exit successfully.
func (b *Barrier) Wait() error {
	for _, l := range b.pending {
		if err := l.handle.Wait(); err != nil {
			b.errs = multierror.Append(b.errs, fmt.Errorf("failed to run function %s: %w", l.test.ID(), err))
		}
	}
	b.pending = nil

	if err := b.errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	return nil
}

package jifpager

// surface.go provides access to the jif_pager control surface exposed by the
// kernel module under sysfs and debugfs.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jifbench/jifbench/runner"
	"golang.org/x/sys/unix"
)

// Surface is the key/value control surface of the kernel facility.
type Surface interface {
	// Write sets a scalar knob.
	Write(ctx context.Context, key, value string) error
	// Read returns the content of a readable endpoint.
	Read(ctx context.Context, key string) ([]byte, error)
}

// SysfsSurface writes knobs through privileged tee invocations so every
// write shows up in the echoed command stream.
type SysfsSurface struct {
	runner *runner.Runner
	dir    string
	sudo   bool
}

// NewSysfsSurface creates a surface rooted at dir (e.g. /sys/kernel/jif_pager).
func NewSysfsSurface(r *runner.Runner, dir string, sudo bool) *SysfsSurface {
	return &SysfsSurface{runner: r, dir: dir, sudo: sudo}
}

func (s *SysfsSurface) Write(ctx context.Context, key, value string) error {
	return s.runner.Run(ctx, runner.Command{
		Args:     []string{"tee", filepath.Join(s.dir, key)},
		Sudo:     s.sudo,
		Stdin:    value,
		Output:   os.DevNull,
		Truncate: true,
	})
}

func (s *SysfsSurface) Read(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(s.dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Probe reports whether the kernel facility is installed, i.e. whether path
// exists and is a character device.
func Probe(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR
}

// DeviceNumber returns the major and minor number of a character device.
func DeviceNumber(path string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, 0, fmt.Errorf("%s is not a character device", path)
	}
	return unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), nil
}

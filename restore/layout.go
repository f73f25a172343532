// Package restore runs the snapshot driver: snapshot captures, userspace and
// kernel-assisted restores, and the co-runner barrier used to restore under
// contention.
package restore

import (
	"path/filepath"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/model"
)

// Artifact suffixes appended to the snapshot prefix of a test.
const (
	SuffixELFMetadata = ".metadata"
	SuffixELFImage    = ".elf"
	SuffixJIFMetadata = ".jm"
	SuffixJIFImage    = ".jif"
	SuffixITrees      = "_itrees.jif"
	SuffixOrder       = ".ord"
	SuffixOrdered     = "_itrees_ord.jif"
	SuffixReordered   = "_itrees_ord_reorder.jif"
)

// Layout derives every artifact path of a test from its identity. Target
// paths are seen by the restored program (inside the chroot when one is
// used), host paths by the tools running next to the engine.
type Layout struct {
	prefix string
	chroot string
}

// LayoutFor returns the artifact layout of a test.
func LayoutFor(cfg config.Config, tc model.TestCase) Layout {
	l := Layout{prefix: filepath.Join("/tmp", tc.ID())}
	if cfg.UseChroot {
		l.chroot = cfg.Paths.Chroot
	}
	return l
}

// Prefix returns the snapshot prefix inside the target filesystem.
func (l Layout) Prefix() string {
	return l.prefix
}

// Target returns the path of an artifact inside the target filesystem.
func (l Layout) Target(suffix string) string {
	return l.prefix + suffix
}

// Host returns the path of an artifact on the host.
func (l Layout) Host(suffix string) string {
	if l.chroot == "" {
		return l.prefix + suffix
	}
	return filepath.Join(l.chroot, l.prefix+suffix)
}

// Image is a restorable metadata and memory image pair, as target paths.
type Image struct {
	Metadata string
	Data     string
}

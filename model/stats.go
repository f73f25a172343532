package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateResult is returned when a (program, configuration) result is
// recorded twice. Every log line corresponds to exactly one completed run, so
// a duplicate means the sweep wrote the same result twice.
var ErrDuplicateResult = errors.New("duplicate result")

// KernelRunStats is one record of the cumulative jif_pager counters read after
// a kernel-assisted restore, augmented with the experiment knobs.
type KernelRunStats struct {
	SyncPagesRead  uint64 `json:"sync_pages_read"`
	AsyncPagesRead uint64 `json:"async_pages_read"`
	MinorFaults    uint64 `json:"minor_faults"`
	MajorFaults    uint64 `json:"major_faults"`
	PreMinorFaults uint64 `json:"pre_minor_faults"`
	PreMajorFaults uint64 `json:"pre_major_faults"`
	SyncReadaheads uint64 `json:"sync_readaheads"`

	// Percentage of read pages that were actually faulted on. Only present
	// when at least one page was read.
	PercentTouched *float64 `json:"percent_touched,omitempty"`
	// Mean pages per synchronous readahead. Only present when at least one
	// page was read.
	BatchSize *float64 `json:"batch_size,omitempty"`

	Readahead bool `json:"readahead"`
	Prefault  bool `json:"prefault"`
	Cold      bool `json:"cold"`

	// Identity of the test that produced the record
	Key string `json:"key"`
}

// TotalPages returns the number of pages read synchronously and asynchronously.
func (s KernelRunStats) TotalPages() uint64 {
	return s.SyncPagesRead + s.AsyncPagesRead
}

// TotalFaults returns the sum of all fault counters.
func (s KernelRunStats) TotalFaults() uint64 {
	return s.MinorFaults + s.MajorFaults + s.PreMinorFaults + s.PreMajorFaults
}

// Derive fills the over-read percentage and the mean batch size. Both stay
// unset when no page was read; the batch size also needs a readahead event.
func (s *KernelRunStats) Derive() {
	s.PercentTouched = nil
	s.BatchSize = nil

	pages := s.TotalPages()
	if pages == 0 {
		return
	}
	touched := float64(s.TotalFaults()) / float64(pages) * 100.0
	s.PercentTouched = &touched

	if s.SyncReadaheads > 0 {
		batch := float64(pages) / float64(s.SyncReadaheads)
		s.BatchSize = &batch
	}
}

// RunStats is the reduced result of one program under one restore
// configuration. Latencies are in microseconds; nil means no data.
type RunStats struct {
	ColdFirstIter   *int64          `json:"cold_first_iter"`
	MetadataRestore *int64          `json:"metadata_restore"`
	FSRestore       *int64          `json:"fs_restore"`
	DataRestore     *int64          `json:"data_restore"`
	WarmIter        *int64          `json:"warm_iter"`
	Kernel          *KernelRunStats `json:"jifpager_stats_ns,omitempty"`
}

// Aggregate maps program -> restore configuration tag -> stats.
type Aggregate map[string]map[string]*RunStats

// Put records the timing stats of a program under a configuration. Writing
// the same (program, tag) twice fails with ErrDuplicateResult.
func (a Aggregate) Put(program, tag string, stats RunStats) error {
	byTag, ok := a[program]
	if !ok {
		byTag = make(map[string]*RunStats)
		a[program] = byTag
	}
	if _, exists := byTag[tag]; exists {
		return fmt.Errorf("%w: program %q, config %q", ErrDuplicateResult, program, tag)
	}
	byTag[tag] = &stats
	return nil
}

// AttachKernel merges kernel statistics into the (program, tag) entry,
// creating the entry when the timing log had no line for it.
func (a Aggregate) AttachKernel(program, tag string, ks KernelRunStats) error {
	byTag, ok := a[program]
	if !ok {
		byTag = make(map[string]*RunStats)
		a[program] = byTag
	}
	entry, ok := byTag[tag]
	if !ok {
		entry = &RunStats{}
		byTag[tag] = entry
	}
	if entry.Kernel != nil {
		return fmt.Errorf("%w: kernel stats for program %q, config %q", ErrDuplicateResult, program, tag)
	}
	entry.Kernel = &ks
	return nil
}

// Programs returns the program names in sorted order.
func (a Aggregate) Programs() []string {
	programs := make([]string, 0, len(a))
	for p := range a {
		programs = append(programs, p)
	}
	sort.Strings(programs)
	return programs
}

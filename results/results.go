// Package results reduces the logs of a result directory into an aggregate
// keyed by program and restore configuration.
package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jifbench/jifbench/model"
)

// Markers of the timing log lines.
const (
	// The serverless runtime separates the marker from its payload with two
	// spaces.
	DataMarker    = "DATA  "
	RestoreMarker = "restore time"
)

// Token offsets, after the restore marker, of the restore phase latencies.
const (
	metadataToken = 2
	dataToken     = 4
	fsToken       = 6
)

// AggregateFile is the aggregate file name inside a result directory.
const AggregateFile = "aggregate.json"

const maxLineSize = 1024 * 1024

// TimingRecord is one DATA line of a timing log, merged with the restore time
// line that preceded it. Latencies are in microseconds.
type TimingRecord struct {
	Program         string  `json:"program"`
	Times           []int64 `json:"times,omitempty"`
	Warmup          []int64 `json:"warmup,omitempty"`
	CaladanInit     *int64  `json:"caladan_init,omitempty"`
	JunctionInit    *int64  `json:"junction_init,omitempty"`
	ApplicationInit *int64  `json:"application_init,omitempty"`
	FirstIter       *int64  `json:"first_iter,omitempty"`
	MetadataRestore *int64  `json:"metadata_restore,omitempty"`
	DataRestore     *int64  `json:"data_restore,omitempty"`
	FSRestore       *int64  `json:"fs_restore,omitempty"`
}

// Stats reduces the record to the aggregate tuple. The warm iteration is the
// third one and is absent when fewer were recorded.
func (r TimingRecord) Stats() model.RunStats {
	s := model.RunStats{
		ColdFirstIter:   r.FirstIter,
		MetadataRestore: r.MetadataRestore,
		FSRestore:       r.FSRestore,
		DataRestore:     r.DataRestore,
	}
	if len(r.Times) > 2 {
		warm := r.Times[2]
		s.WarmIter = &warm
	}
	return s
}

func parseRestoreLine(line string) (metadata, data, fs int64, err error) {
	_, rest, _ := strings.Cut(line, RestoreMarker)
	fields := strings.Fields(rest)
	if len(fields) <= fsToken {
		return 0, 0, 0, fmt.Errorf("restore time line has %d fields, want more than %d", len(fields), fsToken)
	}
	values := make([]int64, 0, 3)
	for _, idx := range []int{metadataToken, dataToken, fsToken} {
		v, err := strconv.ParseInt(fields[idx], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid restore time field %q: %w", fields[idx], err)
		}
		values = append(values, v)
	}
	return values[0], values[1], values[2], nil
}

// GetOneLog parses a timing log. A missing file yields no records. A program
// reported twice fails with model.ErrDuplicateResult.
func GetOneLog(path string) (map[string]TimingRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]TimingRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records := make(map[string]TimingRecord)
	var restoreLine string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()

		idx := strings.LastIndex(line, DataMarker)
		if idx < 0 {
			if strings.Contains(line, RestoreMarker) {
				restoreLine = line
			}
			continue
		}

		var rec TimingRecord
		payload := strings.TrimSpace(line[idx+len(DataMarker):])
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: failed to parse DATA payload: %w", path, lineNo, err)
		}
		if _, ok := records[rec.Program]; ok {
			return nil, fmt.Errorf("%w: program %q in %s:%d", model.ErrDuplicateResult, rec.Program, path, lineNo)
		}

		if restoreLine != "" {
			metadata, data, fs, err := parseRestoreLine(restoreLine)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			rec.MetadataRestore = &metadata
			rec.DataRestore = &data
			rec.FSRestore = &fs
			restoreLine = ""
		}

		records[rec.Program] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// GetKernelStats merges a kernel statistics log into the aggregate under tag.
// Every line is one JSON record; its key names the program. A missing file
// adds nothing.
func GetKernelStats(path string, agg model.Aggregate, tag string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ks model.KernelRunStats
		if err := json.Unmarshal([]byte(line), &ks); err != nil {
			return fmt.Errorf("%s:%d: failed to parse kernel stats: %w", path, lineNo, err)
		}
		if ks.Key == "" {
			return fmt.Errorf("%s:%d: kernel stats record without key", path, lineNo)
		}
		if err := agg.AttachKernel(ks.Key, tag, ks); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// ParseAll aggregates every configuration log of a result directory, in
// catalog order.
func ParseAll(dir string) (model.Aggregate, error) {
	agg := make(model.Aggregate)
	for _, c := range model.RestoreConfigs {
		records, err := GetOneLog(filepath.Join(dir, model.TimingLog(c.Tag)))
		if err != nil {
			return nil, err
		}
		for program, rec := range records {
			if err := agg.Put(program, c.Tag, rec.Stats()); err != nil {
				return nil, err
			}
		}
		if err := GetKernelStats(filepath.Join(dir, model.KernelLog(c.Tag)), agg, c.Tag); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

// Write stores the aggregate as indented JSON.
func Write(agg model.Aggregate, path string) error {
	data, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode aggregate: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Read loads an aggregate written by Write.
func Read(path string) (model.Aggregate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	agg := make(model.Aggregate)
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return agg, nil
}

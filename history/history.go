package history

// This file manages the result directories of sweeps: one directory per
// sweep, a symlink to the most recent one, and the sweep record inside.

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jifbench/jifbench/model"
	"github.com/rs/zerolog"
)

const (
	// DirPrefix starts the name of every sweep directory
	DirPrefix = "run."
	// RecentLink points at the directory of the latest sweep
	RecentLink = DirPrefix + "recent"
	// RecordFile holds the sweep record inside a sweep directory
	RecordFile = "sweep.json"
	// TimestampLayout formats the start time in the directory name
	TimestampLayout = "2006_01_02_15_04_05"
)

type Entry struct {
	Sweep    model.Sweep
	FullPath string
}

// NewID returns a random sweep identifier.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// Create makes the directory of a sweep started at now and points the recent
// link at it.
func Create(root string, now time.Time) (string, error) {
	name := DirPrefix + now.Format(TimestampLayout)
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}

	link := filepath.Join(root, RecentLink)
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to replace %s: %w", link, err)
	}
	if err := os.Symlink(name, link); err != nil {
		return "", fmt.Errorf("failed to link %s: %w", link, err)
	}
	return dir, nil
}

// Save writes the sweep record into dir.
func Save(dir string, s model.Sweep) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RecordFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write sweep record: %w", err)
	}
	return nil
}

// Load reads the sweep record of dir.
func Load(dir string) (model.Sweep, error) {
	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err != nil {
		return model.Sweep{}, err
	}

	var s model.Sweep
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Sweep{}, err
	}
	return s, nil
}

// LoadEntries loads every recorded sweep below root, newest first. A
// missing root holds no sweeps.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() || !strings.HasPrefix(d.Name(), DirPrefix) {
			return nil
		}

		s, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			return filepath.SkipDir
		}
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to parse sweep.json")
			return filepath.SkipDir
		}
		entries = append(entries, Entry{Sweep: s, FullPath: path})
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sweep.Timestamp.After(entries[j].Sweep.Timestamp)
	})
	return entries, nil
}

// Find selects an entry: 0 is the latest sweep, -1 the one before and so
// on; anything else is a prefix of the sweep ID.
func Find(entries []Entry, arg string) (*Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no sweeps recorded")
	}

	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, etc.)", arg)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d sweeps)", arg, len(entries))
		}
		return &entries[index], nil
	}

	prefix := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Sweep.ID), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no sweep found matching ID: %s", arg)
}

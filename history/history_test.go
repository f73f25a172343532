package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jifbench/jifbench/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	first := time.Date(2024, 3, 7, 9, 5, 1, 0, time.UTC)

	dir, err := Create(root, first)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run.2024_03_07_09_05_01"), dir)

	target, err := os.Readlink(filepath.Join(root, RecentLink))
	require.NoError(t, err)
	assert.Equal(t, "run.2024_03_07_09_05_01", target)

	second, err := Create(root, first.Add(time.Hour))
	require.NoError(t, err)
	target, err = os.Readlink(filepath.Join(root, RecentLink))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(second), target)
}

func TestLoadEntries(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		dir, err := Create(root, now)
		require.NoError(t, err)
		s := model.Sweep{ID: NewID(), Timestamp: now, Tests: []string{"python_matmul"}}
		require.NoError(t, Save(dir, s))
		ids = append(ids, s.ID)
	}

	// no record, and a broken record
	_, err := Create(root, base.Add(time.Hour))
	require.NoError(t, err)
	broken, err := Create(root, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(broken, RecordFile), []byte("{"), 0644))

	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].Sweep.ID)
	assert.Equal(t, ids[0], entries[2].Sweep.ID)
	assert.Equal(t, filepath.Join(root, "run.2024_03_07_09_02_00"), entries[0].FullPath)
}

func TestLoadEntriesMissingRoot(t *testing.T) {
	entries, err := LoadEntries(zerolog.Nop(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFind(t *testing.T) {
	entries := []Entry{
		{Sweep: model.Sweep{ID: "abc123"}},
		{Sweep: model.Sweep{ID: "def456"}},
	}

	tests := []struct {
		arg     string
		wantID  string
		wantErr bool
	}{
		{arg: "0", wantID: "abc123"},
		{arg: "-1", wantID: "def456"},
		{arg: "-2", wantErr: true},
		{arg: "1", wantErr: true},
		{arg: "DEF", wantID: "def456"},
		{arg: "ff", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			e, err := Find(entries, tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.Sweep.ID)
		})
	}

	_, err := Find(nil, "0")
	require.Error(t, err)
}

package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrop(t *testing.T) {
	dir := t.TempDir()
	control := filepath.Join(dir, "drop_caches")

	var echo bytes.Buffer
	r := runner.New(zerolog.Nop(), runner.WithEcho(&echo))
	d := New(zerolog.Nop(), r, control, false, 4, 10*time.Second)

	var slept []time.Duration
	d.sleep = func(_ context.Context, delay time.Duration) error {
		slept = append(slept, delay)
		return nil
	}

	require.NoError(t, d.Drop(context.Background()))

	lines := strings.Split(strings.TrimSpace(echo.String()), "\n")
	assert.Len(t, lines, 4)
	for _, l := range lines {
		assert.Equal(t, "echo 3 | tee "+control+" > /dev/null 2>&1", l)
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, slept)

	data, err := os.ReadFile(control)
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(data))
}

func TestDropDryRun(t *testing.T) {
	dir := t.TempDir()
	control := filepath.Join(dir, "drop_caches")

	var echo bytes.Buffer
	r := runner.New(zerolog.Nop(), runner.WithEcho(&echo), runner.WithDryRun(true))
	d := New(zerolog.Nop(), r, control, true, 4, time.Hour)

	require.NoError(t, d.Drop(context.Background()))
	assert.Empty(t, echo.String())
	_, err := os.Stat(control)
	assert.True(t, os.IsNotExist(err))
}

func TestDropCancelled(t *testing.T) {
	dir := t.TempDir()
	r := runner.New(zerolog.Nop(), runner.WithEcho(&bytes.Buffer{}))
	d := New(zerolog.Nop(), r, filepath.Join(dir, "drop_caches"), false, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Drop(ctx)
	require.Error(t, err)
}

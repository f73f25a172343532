package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "plain",
			cmd:  Command{Args: []string{"pgrep", "iokerneld"}},
			want: "pgrep iokerneld",
		},
		{
			name: "sudo with append redirect",
			cmd: Command{
				Args:   []string{"/build/junction_run", "cfg", "--function_arg", `{ "N": 300}`},
				Sudo:   true,
				Output: "/results/restore_images_elf",
			},
			want: `sudo -E /build/junction_run cfg --function_arg '{ "N": 300}' >> /results/restore_images_elf 2>&1`,
		},
		{
			name: "stdin pipe with truncate",
			cmd: Command{
				Args:     []string{"tee", "/sys/kernel/jif_pager/reset"},
				Sudo:     true,
				Stdin:    "1",
				Output:   "/dev/null",
				Truncate: true,
			},
			want: "echo 1 | sudo -E tee /sys/kernel/jif_pager/reset > /dev/null 2>&1",
		},
		{
			name: "unbuffered with env",
			cmd: Command{
				Args:       []string{"jiftool", "a.jif", "b.jif", "build-itrees"},
				Env:        []string{"DONTSTOP=1"},
				Unbuffered: true,
			},
			want: "DONTSTOP=1 stdbuf -e0 -i0 -o0 jiftool a.jif b.jif build-itrees",
		},
		{
			name: "stdout only",
			cmd: Command{
				Args:       []string{"cat", "/sys/kernel/debug/mem_trace"},
				Output:     "/tmp/ord",
				Truncate:   true,
				StdoutOnly: true,
			},
			want: "cat /sys/kernel/debug/mem_trace > /tmp/ord",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "log")

	var echo bytes.Buffer
	r := New(zerolog.Nop(), WithEcho(&echo), WithDryRun(true))
	require.True(t, r.DryRun())

	require.NoError(t, r.Run(context.Background(), Command{Args: []string{"false"}, Output: out}))

	h, err := r.Start(context.Background(), Command{Args: []string{"definitely-not-a-binary"}})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, "false >> "+out+" 2>&1\ndefinitely-not-a-binary\n", echo.String())
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "dry-run must not create output files")
}

func TestRunAppendsOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "log")

	var echo bytes.Buffer
	r := New(zerolog.Nop(), WithEcho(&echo))

	cmd := Command{Args: []string{"sh", "-c", "echo out; echo err >&2"}, Output: out}
	require.NoError(t, r.Run(context.Background(), cmd))
	require.NoError(t, r.Run(context.Background(), cmd))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("out\n")))
	assert.Equal(t, 2, bytes.Count(data, []byte("err\n")))
	assert.Equal(t, 2, bytes.Count(echo.Bytes(), []byte("\n")))
}

func TestRunTruncatesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "ord")
	require.NoError(t, os.WriteFile(out, []byte("stale\n"), 0644))

	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}))
	require.NoError(t, r.Run(context.Background(), Command{
		Args:     []string{"sh", "-c", "echo fresh"},
		Output:   out,
		Truncate: true,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(data))
}

func TestRunStdin(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "knob")

	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}))
	require.NoError(t, r.Run(context.Background(), Command{
		Args:     []string{"tee", target},
		Stdin:    "1",
		Output:   os.DevNull,
		Truncate: true,
	}))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))
}

func TestRunExitError(t *testing.T) {
	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}))

	err := r.Run(context.Background(), Command{Args: []string{"sh", "-c", "exit 3"}})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "sh -c 'exit 3'", exitErr.Command)
}

func TestStartWait(t *testing.T) {
	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}))

	ok, err := r.Start(context.Background(), Command{Args: []string{"true"}})
	require.NoError(t, err)
	bad, err := r.Start(context.Background(), Command{Args: []string{"false"}})
	require.NoError(t, err)

	assert.Equal(t, "true", ok.Command())
	assert.NoError(t, ok.Wait())
	assert.Error(t, bad.Wait())
}

func TestTimeout(t *testing.T) {
	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}), WithTimeout(50*time.Millisecond))

	err := r.Run(context.Background(), Command{Args: []string{"sleep", "5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStartMissingBinary(t *testing.T) {
	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}))

	_, err := r.Start(context.Background(), Command{Args: []string{"/nonexistent/binary"}})
	require.Error(t, err)
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore_images_itrees_jif_k_kstats")

	var echo bytes.Buffer
	r := New(zerolog.Nop(), WithEcho(&echo))
	require.NoError(t, r.AppendLine(path, `{"key":"a"}`))
	require.NoError(t, r.AppendLine(path, `{"key":"b"}`))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"key\":\"a\"}\n{\"key\":\"b\"}\n", string(data))
	assert.Equal(t, "echo '{\"key\":\"a\"}' >> "+path+"\n", echo.String()[:len("echo '{\"key\":\"a\"}' >> "+path+"\n")])
}

func TestAppendLineDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kstats")

	var echo bytes.Buffer
	r := New(zerolog.Nop(), WithEcho(&echo), WithDryRun(true))
	require.NoError(t, r.AppendLine(path, `{}`))

	assert.Equal(t, "echo '{}' >> "+path+"\n", echo.String())
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSpawnOutlivesTimeout(t *testing.T) {
	out := filepath.Join(t.TempDir(), "daemon.log")
	r := New(zerolog.Nop(), WithEcho(&bytes.Buffer{}), WithTimeout(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Spawn(ctx, Command{
		Args:   []string{"sh", "-c", "sleep 0.2; echo ready"},
		Output: out,
	}))
	cancel()

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && string(data) == "ready\n"
	}, 5*time.Second, 20*time.Millisecond)
}

package restore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jifbench/jifbench/cache"
	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/jifpager"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/registry"
	"github.com/jifbench/jifbench/runner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoSurface records knob writes into the same stream the runner echoes
// commands to, so tests can check the interleaving.
type echoSurface struct {
	out   io.Writer
	stats string
}

func (s *echoSurface) Write(_ context.Context, key, value string) error {
	fmt.Fprintf(s.out, "surface %s=%s\n", key, value)
	return nil
}

func (s *echoSurface) Read(_ context.Context, key string) ([]byte, error) {
	if key != jifpager.KeyStats {
		return nil, errors.New("unexpected read of " + key)
	}
	return []byte(s.stats), nil
}

const statsLine = `{"sync_pages_read": 80, "async_pages_read": 20, "minor_faults": 5, "major_faults": 3, "pre_minor_faults": 1, "pre_major_faults": 1, "sync_readaheads": 10}` + "\n"

// fakeDriver fails the restore of any function named python_bad.
const fakeDriver = `#!/bin/sh
case "$*" in
*"--function_name python_bad"*) exit 1 ;;
esac
exit 0
`

type fixture struct {
	cfg      config.Config
	echo     *bytes.Buffer
	restorer *Restorer
	dir      string
}

func newFixture(t *testing.T, dryRun bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	driver := filepath.Join(dir, "junction_run")
	require.NoError(t, os.WriteFile(driver, []byte(fakeDriver), 0755))
	runtime := filepath.Join(dir, "caladan.config")
	require.NoError(t, os.WriteFile(runtime, []byte("host_addr 192.168.1.1\nhost_netmask 255.255.255.0\n"), 0644))

	cfg := config.Default(dir)
	cfg.UseChroot = false
	cfg.Sudo = false
	cfg.Paths.Runner = driver
	cfg.Paths.CaladanConfig = runtime
	cfg.Paths.DropCaches = filepath.Join(dir, "drop_caches")
	cfg.DropCacheRepeats = 1

	echo := &bytes.Buffer{}
	r := runner.New(zerolog.Nop(), runner.WithEcho(echo), runner.WithDryRun(dryRun), runner.WithOutput(io.Discard, io.Discard))
	pager := jifpager.NewController(zerolog.Nop(), &echoSurface{out: echo, stats: statsLine}, dryRun)
	dropper := cache.New(zerolog.Nop(), r, cfg.Paths.DropCaches, false, cfg.DropCacheRepeats, time.Duration(cfg.DropCacheDelay))

	return &fixture{
		cfg:      cfg,
		echo:     echo,
		restorer: NewRestorer(zerolog.Nop(), r, cfg, pager, dropper),
		dir:      dir,
	}
}

func (f *fixture) lines() []string {
	return strings.Split(strings.TrimSpace(f.echo.String()), "\n")
}

func TestLayout(t *testing.T) {
	tc := registry.NewTest("python", "matmul", "python3 run.py matmul", "{}", "", nil)

	cfg := config.Default("/opt/junction")
	l := LayoutFor(cfg, tc)
	assert.Equal(t, "/tmp/python_matmul", l.Prefix())
	assert.Equal(t, "/tmp/python_matmul_itrees.jif", l.Target(SuffixITrees))
	assert.Equal(t, "/opt/junction/chroot/tmp/python_matmul.ord", l.Host(SuffixOrder))

	cfg.UseChroot = false
	l = LayoutFor(cfg, tc)
	assert.Equal(t, "/tmp/python_matmul.ord", l.Host(SuffixOrder))

	ordered := l.Ordered()
	assert.Equal(t, Image{Metadata: "/tmp/python_matmul.jm", Data: "/tmp/python_matmul_itrees_ord_reorder.jif"}, ordered.Select(true))
	assert.Equal(t, Image{Metadata: "/tmp/python_matmul.jm", Data: "/tmp/python_matmul_itrees_ord.jif"}, ordered.Select(false))
}

func TestJunctionCommand(t *testing.T) {
	cfg := config.Default("/opt/junction")
	tc := registry.NewTest("python", "matmul", "/bin/python3 run.py matmul", `{ "N": 300}`, "", registry.ReplaceRunner("run.py", "new_runner.py"))

	cmd := NewJunction(cfg).Command(tc, Invocation{
		Flags:  []string{FlagSnapshotPre, "/tmp/python_matmul"},
		Target: Split(tc.Command),
		Log:    "/results/generate_images_snap_elf",
	})
	assert.Equal(t,
		`sudo -E /opt/junction/build/junction/junction_run /opt/junction/build/junction/caladan_test_ts_st.config `+
			`--snapshot-prefix /tmp/python_matmul --function_arg '{ "N": 300}' --function_name python_matmul `+
			`--chroot=/opt/junction/chroot --cache_linux_fs -- /bin/python3 new_runner.py matmul `+
			`>> /results/generate_images_snap_elf 2>&1`,
		cmd.String())

	tool := NewJunction(cfg).Tool("/c/tmp/a.jif", "/c/tmp/a_itrees.jif", []string{"build-itrees", "/c"}, "/results/log")
	assert.Equal(t,
		"stdbuf -e0 -i0 -o0 /opt/junction/build/jiftool /c/tmp/a.jif /c/tmp/a_itrees.jif build-itrees /c >> /results/log 2>&1",
		tool.String())
}

func TestKernelSequence(t *testing.T) {
	f := newFixture(t, false)
	t.Cleanup(func() { os.Remove("/tmp/beconf_0.conf") })

	tc := registry.NewTest("python", "matmul", "python3 run.py matmul", "1", "", nil)
	co := registry.NewTest("python", "pyaes", "python3 run.py pyaes", "2", "", nil)

	log := filepath.Join(f.dir, "restore_images_sa_itrees_jif_k")
	run := DefaultKernelRun(log, LayoutFor(f.cfg, tc).Ordered())
	run.Cold = true
	run.Reorder = false
	run.CoRunners = []model.TestCase{co}

	stats, err := f.restorer.Kernel(context.Background(), tc, run)
	require.NoError(t, err)

	lines := f.lines()
	require.Len(t, lines, 13)
	assert.Equal(t, []string{
		"surface fault_around=1",
		"surface prefault=0",
		"surface prefault_minor=0",
		"surface measure_latency=0",
		"surface readahead=1",
		"surface trace=1",
		"surface reset=1",
	}, lines[:7])
	assert.Equal(t, "echo 3 | tee "+f.cfg.Paths.DropCaches+" > /dev/null 2>&1", lines[7])
	assert.Equal(t, "sed 's/host_addr.*/host_addr 123.45.6.0/' "+f.cfg.Paths.CaladanConfig+" > /tmp/beconf_0.conf", lines[8])
	assert.Equal(t, f.cfg.Paths.Runner+" /tmp/beconf_0.conf --jif -rk --function_arg 2 --function_name python_pyaes -- "+
		"/tmp/python_pyaes.jm /tmp/python_pyaes_itrees_ord.jif >> "+log+"_second_app_python_pyaes 2>&1", lines[9])
	assert.Equal(t, "surface reset=1", lines[10])
	assert.Equal(t, f.cfg.Paths.Runner+" "+f.cfg.Paths.CaladanConfig+" --jif -rk --function_arg 1 --function_name python_matmul -- "+
		"/tmp/python_matmul.jm /tmp/python_matmul_itrees_ord.jif >> "+log+" 2>&1", lines[11])
	assert.True(t, strings.HasPrefix(lines[12], "echo "), lines[12])

	conf, err := os.ReadFile("/tmp/beconf_0.conf")
	require.NoError(t, err)
	assert.Equal(t, "host_addr 123.45.6.0\nhost_netmask 255.255.255.0\n", string(conf))

	require.NotNil(t, stats.PercentTouched)
	require.NotNil(t, stats.BatchSize)
	assert.InDelta(t, 10.0, *stats.PercentTouched, 1e-9)
	assert.InDelta(t, 10.0, *stats.BatchSize, 1e-9)

	data, err := os.ReadFile(log + "_kstats")
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "python_matmul", record["key"])
	assert.Equal(t, true, record["cold"])
	assert.Equal(t, true, record["readahead"])
	assert.Equal(t, false, record["prefault"])
	assert.Equal(t, 10.0, record["percent_touched"])
	assert.Equal(t, 10.0, record["batch_size"])
	assert.Equal(t, 80.0, record["sync_pages_read"])
}

func TestKernelContention(t *testing.T) {
	f := newFixture(t, false)
	t.Cleanup(func() {
		os.Remove("/tmp/beconf_0.conf")
		os.Remove("/tmp/beconf_1.conf")
	})

	tc := registry.NewTest("python", "matmul", "python3 run.py matmul", "1", "", nil)
	good := registry.NewTest("python", "pyaes", "python3 run.py pyaes", "2", "", nil)
	bad := registry.NewTest("python", "bad", "python3 run.py bad", "3", "", nil)

	log := filepath.Join(f.dir, "restore_images_sa_itrees_jif_k")
	run := DefaultKernelRun(log, LayoutFor(f.cfg, tc).Ordered())
	run.CoRunners = []model.TestCase{good, bad}

	_, err := f.restorer.Kernel(context.Background(), tc, run)
	require.ErrorIs(t, err, ErrContention)
	assert.Contains(t, err.Error(), "python_bad")
	assert.NotContains(t, err.Error(), "function python_pyaes")

	resets := strings.Count(f.echo.String(), "surface reset=1")
	assert.Equal(t, 1, resets, "measured run must not be reached")
	_, err = os.Stat(log)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(log + "_kstats")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestKernelDryRun(t *testing.T) {
	f := newFixture(t, true)

	tc := registry.NewTest("python", "matmul", "python3 run.py matmul", "1", "", nil)
	log := filepath.Join(f.dir, "restore_images_self_itrees_jif_k")
	run := DefaultKernelRun(log, LayoutFor(f.cfg, tc).Ordered())
	run.Cold = true
	run.CoRunners = []model.TestCase{tc}

	stats, err := f.restorer.Kernel(context.Background(), tc, run)
	require.NoError(t, err)
	assert.Equal(t, "python_matmul", stats.Key)
	assert.Nil(t, stats.PercentTouched)

	lines := f.lines()
	// Knobs, reset, sed, co-runner, reset, measured run, stats append; the
	// page cache drop is skipped in dry-run mode.
	require.Len(t, lines, 12)
	assert.Contains(t, lines[7], "sed ")
	assert.Contains(t, lines[8], "--function_name python_matmul")
	assert.Contains(t, lines[8], "_second_app_python_matmul")
	assert.Equal(t, "surface reset=1", lines[9])
	assert.Contains(t, lines[11], log+"_kstats")

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"junction_run", "caladan.config"}, names)
}

func TestKernelWithoutFacility(t *testing.T) {
	f := newFixture(t, true)
	r := NewRestorer(zerolog.Nop(), f.restorer.Runner(), f.cfg, nil, nil)
	assert.False(t, r.KernelAvailable())

	tc := registry.NewTest("go", "resizer", "resizer", "1", "tiny", nil)
	_, err := r.Kernel(context.Background(), tc, DefaultKernelRun("log", LayoutFor(f.cfg, tc).Ordered()))
	require.ErrorIs(t, err, ErrNoFacility)
	assert.Empty(t, f.echo.String())
}

func TestBarrier(t *testing.T) {
	r := runner.New(zerolog.Nop(), runner.WithEcho(io.Discard), runner.WithOutput(io.Discard, io.Discard))
	ctx := context.Background()

	a := registry.NewTest("go", "a", "a", "", "", nil)
	b := registry.NewTest("go", "b", "b", "", "", nil)

	var ok Barrier
	ok.Launch(ctx, r, a, runner.Command{Args: []string{"true"}})
	ok.Launch(ctx, r, b, runner.Command{Args: []string{"true"}})
	require.NoError(t, ok.Wait())

	var failing Barrier
	failing.Launch(ctx, r, a, runner.Command{Args: []string{"false"}})
	failing.Launch(ctx, r, b, runner.Command{Args: []string{"true"}})
	failing.Fail(b, errors.New("no runtime config"))
	err := failing.Wait()
	require.ErrorIs(t, err, ErrContention)
	assert.Contains(t, err.Error(), "go_a")
	assert.Contains(t, err.Error(), "no runtime config")

	var exitErr *runner.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestDumpTrace(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.restorer.DumpTrace(context.Background(), "/chroot/tmp/python_matmul.ord"))
	assert.Equal(t, []string{
		"cat /sys/kernel/debug/mem_trace > /tmp/ord",
		"cp /tmp/ord /chroot/tmp/python_matmul.ord",
	}, f.lines())
}

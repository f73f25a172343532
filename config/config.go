// Package config holds the immutable configuration of a sweep. A Config is
// built once from defaults, an optional YAML file and command-line overrides,
// and then passed by value into the engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"
)

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Experiments selects which experiment families run.
type Experiments struct {
	LinuxBaseline        bool `json:"linuxBaseline"`
	ELFBaseline          bool `json:"elfBaseline"`
	JIFUserspaceBaseline bool `json:"jifUserspaceBaseline"`
	Kernel               bool `json:"kernel"`
	KernelNoPrefetch     bool `json:"kernelNoPrefetch"`
	KernelPrefetch       bool `json:"kernelPrefetch"`
	KernelPrefetchFull   bool `json:"kernelPrefetchReorder"`
	SecondApps           bool `json:"secondApps"`
	SelfContention       bool `json:"selfContention"`
}

// Paths locates the external collaborators and the result tree.
type Paths struct {
	Root          string `json:"root"`
	Build         string `json:"build"`
	Bin           string `json:"bin"`
	Runner        string `json:"runner"`
	JIFTool       string `json:"jiftool"`
	CaladanConfig string `json:"caladanConfig"`
	CaladanDir    string `json:"caladanDir"`
	Chroot        string `json:"chroot"`
	Results       string `json:"results"`
	PagerDevice   string `json:"pagerDevice"`
	PagerSysfs    string `json:"pagerSysfs"`
	PagerTrace    string `json:"pagerTrace"`
	DropCaches    string `json:"dropCaches"`
}

// Config is the complete configuration of a sweep.
type Config struct {
	Paths       Paths       `json:"paths"`
	Experiments Experiments `json:"experiments"`

	// Use the chroot'ed filesystem for the restored programs
	UseChroot bool `json:"useChroot"`
	// Regenerate the snapshot artifacts before restoring
	RedoSnapshot bool `json:"redoSnapshot"`
	// Prefix privileged commands with sudo -E
	Sudo bool `json:"sudo"`
	// Print the commands without running them
	DryRun bool `json:"dryRun"`

	// Number of kernel traced restores used to build the fault order
	KernelTraceRuns int `json:"kernelTraceRuns"`
	// How many times the page cache is dropped before a cold restore
	DropCacheRepeats int `json:"dropCacheRepeats"`
	// Delay between two page cache drops
	DropCacheDelay Duration `json:"dropCacheDelay"`
	// Upper bound for every blocking external step, 0 disables it
	StepTimeout Duration `json:"stepTimeout"`
}

// Default returns the configuration rooted at the given checkout directory.
func Default(root string) Config {
	build := filepath.Join(root, "build")
	caladan := filepath.Join(root, "lib", "caladan")
	return Config{
		Paths: Paths{
			Root:          root,
			Build:         build,
			Bin:           filepath.Join(root, "bin"),
			Runner:        filepath.Join(build, "junction", "junction_run"),
			JIFTool:       filepath.Join(build, "jiftool"),
			CaladanConfig: filepath.Join(build, "junction", "caladan_test_ts_st.config"),
			CaladanDir:    caladan,
			Chroot:        filepath.Join(root, "chroot"),
			Results:       filepath.Join(root, "results"),
			PagerDevice:   "/dev/jif_pager",
			PagerSysfs:    "/sys/kernel/jif_pager",
			PagerTrace:    "/sys/kernel/debug/mem_trace",
			DropCaches:    "/proc/sys/vm/drop_caches",
		},
		Experiments: Experiments{
			LinuxBaseline:        false,
			ELFBaseline:          true,
			JIFUserspaceBaseline: true,
			Kernel:               true,
			KernelNoPrefetch:     true,
			KernelPrefetch:       true,
			KernelPrefetchFull:   true,
			SecondApps:           true,
			SelfContention:       true,
		},
		UseChroot:        true,
		RedoSnapshot:     true,
		Sudo:             true,
		KernelTraceRuns:  3,
		DropCacheRepeats: 4,
		DropCacheDelay:   Duration(10 * time.Second),
	}
}

// Load reads a YAML file on top of the given base configuration. Keys absent
// from the file keep their base value.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := base
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the invariants the engine relies on.
func (c Config) Validate() error {
	if c.Paths.Runner == "" {
		return fmt.Errorf("paths.runner must be set")
	}
	if c.Paths.Results == "" {
		return fmt.Errorf("paths.results must be set")
	}
	if c.UseChroot && c.Paths.Chroot == "" {
		return fmt.Errorf("paths.chroot must be set when useChroot is enabled")
	}
	if c.KernelTraceRuns < 0 {
		return fmt.Errorf("kernelTraceRuns must not be negative, got %d", c.KernelTraceRuns)
	}
	if c.DropCacheRepeats < 0 {
		return fmt.Errorf("dropCacheRepeats must not be negative, got %d", c.DropCacheRepeats)
	}
	if c.DropCacheDelay < 0 || c.StepTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

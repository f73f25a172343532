package cli

// This file contains the sweep flags and their translation into a
// configuration and a test filter.

import (
	"fmt"
	"os"
	"regexp"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/registry"
	"github.com/urfave/cli/v2"
)

type boolOverride struct {
	name    string
	aliases []string
	usage   string
	value   bool
	field   func(*config.Config) *bool
}

// Toggles default to the values of config.Default; a flag only overrides the
// configuration when it is set explicitly.
var boolOverrides = []boolOverride{
	{"dry-run", []string{"n"}, "Print the commands without running them", false, func(c *config.Config) *bool { return &c.DryRun }},
	{"redo-snapshot", nil, "Regenerate the snapshot artifacts", true, func(c *config.Config) *bool { return &c.RedoSnapshot }},
	{"use-chroot", nil, "Restore inside the chroot'ed filesystem", true, func(c *config.Config) *bool { return &c.UseChroot }},
	{"sudo", nil, "Run privileged commands through sudo -E", true, func(c *config.Config) *bool { return &c.Sudo }},
	{"linux-baseline", nil, "Run the plain Linux baseline", false, func(c *config.Config) *bool { return &c.Experiments.LinuxBaseline }},
	{"elf-baseline", nil, "Restore the ELF snapshots", true, func(c *config.Config) *bool { return &c.Experiments.ELFBaseline }},
	{"jif-userspace-baseline", nil, "Restore the JIF snapshots in userspace", true, func(c *config.Config) *bool { return &c.Experiments.JIFUserspaceBaseline }},
	{"kernel-exps", nil, "Run the kernel-assisted restores when the pager is installed", true, func(c *config.Config) *bool { return &c.Experiments.Kernel }},
	{"kernel-no-prefetch", nil, "Kernel-assisted restore without prefetching", true, func(c *config.Config) *bool { return &c.Experiments.KernelNoPrefetch }},
	{"kernel-prefetch", nil, "Kernel-assisted restore with prefetching", true, func(c *config.Config) *bool { return &c.Experiments.KernelPrefetch }},
	{"kernel-prefetch-reorder", nil, "Kernel-assisted restore with prefetching, reordering and minor prefaults", true, func(c *config.Config) *bool { return &c.Experiments.KernelPrefetchFull }},
	{"second-apps", nil, "Kernel-assisted restore after the other programs of the language ran", true, func(c *config.Config) *bool { return &c.Experiments.SecondApps }},
	{"self-contention", nil, "Kernel-assisted restore after the same program ran", true, func(c *config.Config) *bool { return &c.Experiments.SelfContention }},
}

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "root",
			Usage: "Root of the junction checkout (default: current directory)",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file applied on top of the defaults",
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "name-filter",
			Usage: "Only run tests whose name matches the regular expression",
		},
		&cli.StringFlag{
			Name:  "lang-filter",
			Usage: "Only run tests whose language matches the regular expression",
		},
		&cli.StringFlag{
			Name:  "arg-name-filter",
			Usage: "Only run argument variants matching the regular expression",
		},
	}
}

func runFlags() []cli.Flag {
	flags := filterFlags()
	for _, o := range boolOverrides {
		flags = append(flags, &cli.BoolFlag{Name: o.name, Aliases: o.aliases, Usage: o.usage, Value: o.value})
	}
	return append(flags,
		&cli.IntFlag{
			Name:  "kernel-trace-runs",
			Usage: "Number of kernel traced restores used to build the fault order",
			Value: 3,
		},
		&cli.DurationFlag{
			Name:  "step-timeout",
			Usage: "Upper bound for every external step (0 disables it)",
		},
	)
}

func checkoutRoot(ctx *cli.Context) (string, error) {
	if root := ctx.String("root"); root != "" {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

// loadConfig builds the configuration from the defaults, the configuration
// file and the explicitly set flags, in that order.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	root, err := checkoutRoot(ctx)
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.Default(root)
	if path := ctx.String("config"); path != "" {
		if cfg, err = config.Load(path, cfg); err != nil {
			return config.Config{}, err
		}
	}

	for _, o := range boolOverrides {
		if ctx.IsSet(o.name) {
			*o.field(&cfg) = ctx.Bool(o.name)
		}
	}
	if ctx.IsSet("kernel-trace-runs") {
		cfg.KernelTraceRuns = ctx.Int("kernel-trace-runs")
	}
	if ctx.IsSet("step-timeout") {
		cfg.StepTimeout = config.Duration(ctx.Duration("step-timeout"))
	}
	return cfg, cfg.Validate()
}

func compileFilter(flag, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return re, nil
}

func loadFilter(ctx *cli.Context) (registry.Filter, error) {
	var (
		f   registry.Filter
		err error
	)
	if f.Name, err = compileFilter("name-filter", ctx.String("name-filter")); err != nil {
		return f, err
	}
	if f.Lang, err = compileFilter("lang-filter", ctx.String("lang-filter")); err != nil {
		return f, err
	}
	if f.ArgName, err = compileFilter("arg-name-filter", ctx.String("arg-name-filter")); err != nil {
		return f, err
	}
	return f, nil
}

// selectTests returns the catalog tests matching the filter flags, in
// catalog order.
func selectTests(ctx *cli.Context, root string) ([]model.TestCase, error) {
	reg, err := registry.Catalog(root)
	if err != nil {
		return nil, err
	}
	f, err := loadFilter(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Select(f), nil
}


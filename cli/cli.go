package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "jifbench"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
	// Receives command echoes and listings
	stdout io.Writer
	// Command line of the current invocation
	args []string
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	app := &App{
		logger: log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano}),
		stdout: os.Stdout,
	}
	app.cli = &cli.App{
		Name:  AppName,
		Usage: "Measure snapshot restore latency across restore configurations",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
		}, rootFlags()...),
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		// Default action when no command is specified: a sweep with the
		// configured defaults
		Action: app.run,
	}
	app.cli.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Generate the snapshots and restore them under every enabled configuration",
			Flags:  runFlags(),
			Action: app.run,
		},
		{
			Name:      "plot",
			Usage:     "Aggregate and chart existing result directories",
			ArgsUsage: "DIR...",
			Action:    app.plot,
		},
		{
			Name:   "tests",
			Usage:  "List the catalog tests matching the filters",
			Flags:  filterFlags(),
			Action: app.tests,
		},
		{
			Name:  "list",
			Usage: "List previous sweeps",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Show at most `N` sweeps (0 shows all)", Value: 20},
			},
			Action: app.list,
		},
		{
			Name:            "view",
			Usage:           "Show a recorded sweep and open its restore breakdown",
			ArgsUsage:       "[INDEX|ID] [-- PPROF-FLAGS]",
			SkipFlagParsing: true,
			Description: `Selects a sweep from the result directory:
  0           the latest sweep (default)
  -N          the Nth sweep before the latest
  <hex-id>    the sweep whose ID starts with the prefix

The sweep summary is printed, then go tool pprof opens breakdown.pb.gz with
the remaining arguments. Samples carry program, config and phase labels.

  jifbench view -1 -- -top
  jifbench view 3f9a -tagfocus=phase=data`,
			Action: app.view,
		},
	}
	return app
}

func (a *App) Run(args []string) error {
	a.args = args
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

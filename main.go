package main

import (
	"fmt"
	"os"

	"github.com/jifbench/jifbench/cli"
)

// Version information, set by goreleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	c := cli.New()
	c.SetVersion(version, commit, date)
	if err := c.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cli.AppName, err)
		os.Exit(1)
	}
}

package runner

// command.go describes external invocations and renders them as shell
// command lines for the echo stream.

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Command is a single external invocation.
type Command struct {
	Args       []string // Program and its arguments
	Env        []string // Extra KEY=VALUE pairs added to the environment
	Sudo       bool     // Run through sudo -E
	Unbuffered bool     // Run through stdbuf -e0 -i0 -o0
	Stdin      string   // Data fed to the standard input
	Output     string   // File receiving stdout and stderr (empty: inherit)
	Truncate   bool     // Truncate Output instead of appending to it
	StdoutOnly bool     // Only redirect stdout to Output, stderr is inherited
}

// argv returns the full argument vector including the sudo and stdbuf
// wrappers.
func (c Command) argv() []string {
	argv := make([]string, 0, len(c.Args)+6)
	if c.Sudo {
		argv = append(argv, "sudo", "-E")
	}
	if c.Unbuffered {
		argv = append(argv, "stdbuf", "-e0", "-i0", "-o0")
	}
	return append(argv, c.Args...)
}

// String renders the command as a shell command line with proper escaping.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+12)

	if c.Stdin != "" {
		parts = append(parts, "echo", shellescape.Quote(c.Stdin), "|")
	}
	for _, kv := range c.Env {
		parts = append(parts, shellescape.Quote(kv))
	}
	for _, arg := range c.argv() {
		parts = append(parts, shellescape.Quote(arg))
	}

	if c.Output != "" {
		redirect := ">>"
		if c.Truncate {
			redirect = ">"
		}
		parts = append(parts, redirect, shellescape.Quote(c.Output))
		if !c.StdoutOnly {
			parts = append(parts, "2>&1")
		}
	}

	return strings.Join(parts, " ")
}

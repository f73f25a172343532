package restore

import (
	"strings"

	"github.com/jifbench/jifbench/config"
	"github.com/jifbench/jifbench/model"
	"github.com/jifbench/jifbench/runner"
)

// Driver flags.
const (
	FlagRestore       = "-r"
	FlagRestoreKernel = "-rk"
	FlagJIF           = "--jif"
	FlagMadvRemap     = "--madv_remap"
	FlagStackSwitch   = "--stackswitch"
	FlagMemTrace      = "--mem-trace"
	FlagMemTraceOut   = "--mem-trace-out"
	FlagSnapshotPre   = "--snapshot-prefix"
)

// Junction builds invocations of the snapshot driver.
type Junction struct {
	cfg config.Config
}

// NewJunction creates a command builder for the given configuration.
func NewJunction(cfg config.Config) Junction {
	return Junction{cfg: cfg}
}

// Invocation describes one run of the snapshot driver.
type Invocation struct {
	// Caladan runtime configuration, the default one when empty
	RuntimeConfig string
	// Driver flags placed before the function arguments
	Flags []string
	// Target command or image pair placed after "--"
	Target []string
	// Log file the output is appended to
	Log string
}

// functionArgs returns the arguments that name the function and its payload.
func functionArgs(tc model.TestCase) []string {
	return []string{"--function_arg", tc.Args, "--function_name", tc.ID()}
}

// Command renders the invocation for a test.
func (j Junction) Command(tc model.TestCase, inv Invocation) runner.Command {
	runtime := inv.RuntimeConfig
	if runtime == "" {
		runtime = j.cfg.Paths.CaladanConfig
	}

	args := []string{j.cfg.Paths.Runner, runtime}
	args = append(args, inv.Flags...)
	args = append(args, functionArgs(tc)...)
	if j.cfg.UseChroot {
		args = append(args, "--chroot="+j.cfg.Paths.Chroot, "--cache_linux_fs")
	}
	args = append(args, "--")
	args = append(args, inv.Target...)

	return runner.Command{
		Args:   args,
		Sudo:   j.cfg.Sudo,
		Output: inv.Log,
	}
}

// Tool renders an invocation of the image tool:
// <tool> <input> <output> <subcommand> [args].
func (j Junction) Tool(input, output string, sub []string, log string) runner.Command {
	args := []string{j.cfg.Paths.JIFTool, input, output}
	args = append(args, sub...)
	return runner.Command{
		Args:       args,
		Unbuffered: true,
		Output:     log,
	}
}

// Split turns a test invocation into an argument vector.
func Split(command string) []string {
	return strings.Fields(command)
}

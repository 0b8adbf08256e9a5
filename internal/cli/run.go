package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"

	"github.com/robertvazan/pmdata-sub001/internal/config"
)

const (
	minArgs      = 2
	consumedOne  = 1
	consumedTwo  = 2
	consumedNone = 0
	helpFlag     = "--help"
)

// Run is the main entry point. Returns exit code.
// A value on sigCh cancels the running command.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < minArgs {
		printUsage(out, nil)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		fprintln(errOut, "Global flags:")
		fprintln(errOut, globalOptions)

		return 1
	}

	cfg, err := config.Load(config.Input{
		WorkDirOverride:  flags.workDir,
		ConfigPath:       flags.configPath,
		CacheDirOverride: flags.cacheDir,
		LogLevelOverride: flags.logLevel,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a := &app{
		cfg: cfg,
		log: &log.Logger{Handler: logcli.New(errOut), Level: cfg.Level()},
		in:  in,
	}

	commands := a.commands()

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == helpFlag {
		printUsage(out, commands)

		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return dispatch(ctx, NewIO(out, errOut), commands, flags.remaining)
}

// dispatch runs the command named by args[0].
func dispatch(ctx context.Context, o *IO, commands []*Command, args []string) int {
	for _, cmd := range commands {
		if cmd.Name() == args[0] {
			return cmd.Run(ctx, o, args[1:])
		}
	}

	o.ErrPrintln("error: unknown command:", args[0])

	return 1
}

type globalFlags struct {
	workDir    string
	configPath string
	cacheDir   string
	logLevel   string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// valueFlag matches a flag that takes a value, as "--name value" or "--name=value".
func valueFlag(args []string, idx int, names []string, dst *string) (int, error) {
	arg := args[idx]

	for _, name := range names {
		if arg == name {
			if idx+1 >= len(args) {
				return consumedNone, fmt.Errorf("%w: %s", ErrFlagRequiresArg, arg)
			}

			*dst = args[idx+1]

			return consumedTwo, nil
		}

		if after, ok := strings.CutPrefix(arg, name+"="); ok && strings.HasPrefix(name, "--") {
			*dst = after

			return consumedOne, nil
		}
	}

	return consumedNone, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	if after, ok := strings.CutPrefix(arg, "-C"); ok && after != "" {
		flags.workDir = after

		return consumedOne, nil
	}

	for _, f := range []struct {
		names []string
		dst   *string
	}{
		{[]string{"-C", "--cwd"}, &flags.workDir},
		{[]string{"-c", "--config"}, &flags.configPath},
		{[]string{"--cache-dir"}, &flags.cacheDir},
		{[]string{"--log-level"}, &flags.logLevel},
	} {
		consumed, err := valueFlag(args, idx, f.names, f.dst)
		if err != nil || consumed > 0 {
			return consumed, err
		}
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", ErrUnknownFlag, arg)
	}

	// Not a flag
	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptions = `  -h, --help               Show help
  -C, --cwd <dir>          Run as if started in <dir>
  -c, --config <file>      Use specified config file
  --cache-dir <dir>        Override the cache directory
  --log-level <level>      debug, info, warn, error or fatal`

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, `depcache - inspect and populate a dependency-aware cache

Usage: depcache [options] <command> [args]

Global flags:
`+globalOptions+`

Commands:`)

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}

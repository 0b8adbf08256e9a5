package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// exitInterrupted is returned when the command was cut short by a signal.
const exitInterrupted = 130

// Arg names one positional argument of a [Command].
type Arg struct {
	// Name is shown in angle brackets in help output.
	Name string

	// Desc explains the accepted forms, e.g. ID prefixes or cache names.
	Desc string

	// Missing is returned when the argument is absent. Defaults to
	// [ErrMissingArg] wrapped with the name.
	Missing error
}

func (a Arg) missing() error {
	if a.Missing != nil {
		return a.Missing
	}

	return fmt.Errorf("%w <%s>", ErrMissingArg, a.Name)
}

// Command is one depcache subcommand. Run checks the positional arguments
// against Args before calling Exec, so Exec may index args directly.
type Command struct {
	Flags *flag.FlagSet

	// Usage follows "depcache" in help, starting with the command name.
	Usage string

	// Short is the line shown in the command listing.
	Short string

	// Long is the command help text; Short is used when empty.
	Long string

	// Args lists the required positional arguments. Extra ones are
	// rejected with [ErrTooManyArgs].
	Args []Arg

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the command's line in the listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// PrintHelp prints "depcache <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: depcache [options]", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if len(c.Args) > 0 {
		o.Println()
		o.Println("Arguments:")

		for _, arg := range c.Args {
			o.Printf("  %-12s %s\n", "<"+arg.Name+">", arg.Desc)
		}
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}

	o.Println()
	o.Println("Global options are listed by 'depcache --help'.")
}

func (c *Command) checkArgs(args []string) error {
	if len(args) < len(c.Args) {
		return c.Args[len(args)].missing()
	}

	if len(args) > len(c.Args) {
		return fmt.Errorf("%w: %v", ErrTooManyArgs, args[len(c.Args):])
	}

	return nil
}

// Run parses flags, checks arguments, and executes the command. It returns
// the exit code: 0 on success, 1 on failure or when Finish reports
// warnings, 130 when ctx was cancelled by a signal.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err == nil {
		err = c.checkArgs(c.Flags.Args())
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())

	switch {
	case err != nil && ctx.Err() != nil:
		o.ErrPrintln("interrupted:", err)

		return exitInterrupted
	case err != nil:
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

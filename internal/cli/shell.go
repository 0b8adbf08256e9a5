package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

const shellPrompt = "depcache> "

// lineReader is the subset of liner.State the shell uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// scanReader reads commands from a non-terminal input, one per line.
type scanReader struct {
	scanner *bufio.Scanner
}

func (s *scanReader) Prompt(string) (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return s.scanner.Text(), nil
}

func (*scanReader) AppendHistory(string) {}
func (*scanReader) Close() error         { return nil }

// lineEditor wraps liner with a persistent history file.
type lineEditor struct {
	*liner.State

	history string
}

func newLineEditor(complete func(string) []string) *lineEditor {
	ed := &lineEditor{State: liner.NewLiner(), history: historyFile()}
	ed.SetCtrlCAborts(true)
	ed.SetCompleter(complete)

	if f, err := os.Open(ed.history); err == nil {
		_, _ = ed.ReadHistory(f)
		_ = f.Close()
	}

	return ed
}

func (ed *lineEditor) Close() error {
	if ed.history != "" {
		if f, err := os.Create(ed.history); err == nil {
			_, _ = ed.WriteHistory(f)
			_ = f.Close()
		}
	}

	return ed.State.Close()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".depcache_history")
}

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Run commands interactively",
		Long: `Read commands from stdin, one per line, and run them against the same
configuration. Type 'help' for the command list and 'exit' to leave.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			var r lineReader
			if a.in == os.Stdin {
				r = newLineEditor(a.complete)
			} else {
				r = &scanReader{scanner: bufio.NewScanner(a.in)}
			}

			defer r.Close()

			return a.execShell(ctx, o, r)
		},
	}
}

func (a *app) execShell(ctx context.Context, o *IO, r lineReader) error {
	failed := 0

	for ctx.Err() == nil {
		line, err := r.Prompt(shellPrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			break
		}

		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		r.AppendHistory(line)

		switch fields[0] {
		case "exit", "quit", "q":
			return shellResult(failed)
		case "help", "?":
			for _, cmd := range a.baseCommands() {
				o.Println(cmd.HelpLine())
			}

			continue
		}

		if dispatch(ctx, o, a.baseCommands(), fields) != 0 {
			failed++
		}
	}

	return shellResult(failed)
}

func shellResult(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%w: %d", ErrShellFailed, failed)
	}

	return nil
}

// complete offers command names matching the typed prefix.
func (a *app) complete(line string) []string {
	var out []string

	for _, cmd := range a.baseCommands() {
		if strings.HasPrefix(cmd.Name(), line) {
			out = append(out, cmd.Name())
		}
	}

	for _, word := range []string{"help", "exit"} {
		if strings.HasPrefix(word, line) {
			out = append(out, word)
		}
	}

	return out
}

package cli

import "errors"

// Error variables for CLI operations.
var (
	ErrFlagRequiresArg = errors.New("flag requires an argument")
	ErrUnknownFlag     = errors.New("unknown flag")
	ErrMissingArg      = errors.New("missing argument")
	ErrIDRequired      = errors.New("snapshot ID is required")
	ErrURIRequired     = errors.New("URI is required")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrNotFound        = errors.New("snapshot not found")
	ErrAmbiguousID     = errors.New("ambiguous snapshot ID")
	ErrNoValue         = errors.New("snapshot holds no value")
)

// ErrShellFailed indicates at least one command in a shell session failed.
var ErrShellFailed = errors.New("shell: commands failed")

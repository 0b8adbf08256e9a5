package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/mmap"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// CatCmd returns the cat command.
func CatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("cat", flag.ContinueOnError),
		Usage: "cat <id>",
		Short: "Write a snapshot's artifact to stdout",
		Args:  []Arg{{Name: "id", Desc: "snapshot ID, unique ID prefix, or cache name", Missing: ErrIDRequired}},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.withStore(ctx, func(store *snapstore.Store) error {
				rec, err := find(ctx, store, args[0])
				if err != nil {
					return err
				}

				return execCat(o, rec)
			})
		},
	}
}

func execCat(o *IO, rec snapstore.Record) error {
	if rec.Outcome != snapstore.OutcomeValue || rec.Path == "" {
		return fmt.Errorf("%w: %s is %s", ErrNoValue, rec.ID, rec.Outcome)
	}

	data, err := mmap.Default.Open(rec.Path)
	if errors.Is(err, mmap.ErrTooLarge) {
		return streamFile(o, rec.Path)
	}

	if err != nil {
		return err
	}

	_, err = o.Write(data)

	return err
}

func streamFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)

	return err
}

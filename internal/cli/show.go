package cli

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// ShowCmd returns the show command.
func ShowCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("show", flag.ContinueOnError),
		Usage: "show <id>",
		Short: "Show snapshot metadata",
		Long:  "Print every recorded field of one snapshot. <id> may be a unique ID prefix or a cache name.",
		Args:  []Arg{{Name: "id", Desc: "snapshot ID, unique ID prefix, or cache name", Missing: ErrIDRequired}},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.withStore(ctx, func(store *snapstore.Store) error {
				rec, err := find(ctx, store, args[0])
				if err != nil {
					return err
				}

				execShow(o, rec)

				return nil
			})
		},
	}
}

func execShow(o *IO, rec snapstore.Record) {
	o.Println("id=" + rec.ID)
	o.Println("cache=" + rec.Cache)
	o.Println("outcome=" + string(rec.Outcome))

	if rec.Path != "" {
		o.Println("path=" + rec.Path)
		o.Printf("size=%s (%d bytes)\n", humanize.Bytes(uint64(max(rec.Size, 0))), rec.Size)
	}

	if rec.Hash != "" {
		o.Println("hash=" + rec.Hash)
	}

	o.Println("attempt=" + rec.Attempt)
	o.Println("input=" + rec.Input)
	o.Printf("refreshed=%s (%s)\n", rec.Refreshed.Format(time.RFC3339), humanize.Time(rec.Refreshed))

	if !rec.Updated.IsZero() {
		o.Printf("updated=%s (%s)\n", rec.Updated.Format(time.RFC3339), humanize.Time(rec.Updated))
	}

	o.Println("cost=" + rec.Cost.String())

	if rec.Failure != "" {
		o.Println("failure=" + rec.Failure)
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.String("prefix", "", "Only list IDs starting with `prefix`")
	fs.Int("limit", 0, "Show at most `N` snapshots")

	return &Command{
		Flags: fs,
		Usage: "ls [flags]",
		Short: "List cached snapshots",
		Long: `List persisted snapshots, one per line: ID, outcome, size, age, cost and
cache name. Snapshots whose artifact is missing on disk are reported as warnings.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			prefix, _ := fs.GetString("prefix")
			limit, _ := fs.GetInt("limit")

			return a.withStore(ctx, func(store *snapstore.Store) error {
				return execLs(ctx, o, store, prefix, limit)
			})
		},
	}
}

func execLs(ctx context.Context, o *IO, store *snapstore.Store, prefix string, limit int) error {
	records, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	for _, rec := range records {
		if rec.Path != "" {
			if _, statErr := os.Stat(rec.Path); statErr != nil {
				o.Warn(rec.ID, "artifact missing, run 'depcache rm "+rec.ID+"'")
			}
		}

		o.Println(formatLsLine(rec))
	}

	return nil
}

func formatLsLine(rec snapstore.Record) string {
	size := "-"
	if rec.Outcome == snapstore.OutcomeValue {
		size = humanize.Bytes(uint64(max(rec.Size, 0)))
	}

	return fmt.Sprintf("%-40s %-9s %8s  %-16s %8s  %s",
		rec.ID, rec.Outcome, size, humanize.Time(rec.Refreshed), rec.Cost.Round(time.Millisecond), rec.Cache)
}

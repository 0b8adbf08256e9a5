package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rm", flag.ContinueOnError),
		Usage: "rm <id>",
		Short: "Delete a snapshot and its artifacts",
		Long: `Delete the snapshot record and the entry's directory. The next access of the
cache starts from empty. Fails while another process holds the cache open.`,
		Args: []Arg{{Name: "id", Desc: "snapshot ID, unique ID prefix, or cache name", Missing: ErrIDRequired}},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			lock, err := depcache.LockDir(a.cfg.CacheDirAbs)
			if err != nil {
				return err
			}
			defer lock.Close()

			return a.withStore(ctx, func(store *snapstore.Store) error {
				rec, err := find(ctx, store, args[0])
				if err != nil {
					return err
				}

				err = store.Delete(ctx, rec.ID)
				if err != nil {
					return err
				}

				err = os.RemoveAll(filepath.Join(a.cfg.CacheDirAbs, filepath.FromSlash(rec.ID)))
				if err != nil {
					return fmt.Errorf("remove artifacts: %w", err)
				}

				o.Println("removed", rec.ID)

				return nil
			})
		},
	}
}

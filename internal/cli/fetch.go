package cli

import (
	"context"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache"
)

const settleInterval = 50 * time.Millisecond

// remote mirrors one URI. Period is not part of the identity, only of
// the refresh policy.
type remote struct {
	uri    string
	period time.Duration
}

func (r remote) String() string { return "download " + r.uri }
func (r remote) URI() string    { return r.uri }

func (r remote) Caching() depcache.CachingOptions {
	return depcache.CachingOptions{Blocking: true, Period: r.period}
}

// FetchCmd returns the fetch command.
func FetchCmd(a *app) *Command {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.Duration("period", 0, "Re-download when the local copy is older than `d`")
	fs.Bool("refresh", false, "Download again even if the local copy is current")

	return &Command{
		Flags: fs,
		Usage: "fetch <uri> [flags]",
		Short: "Download a URI into the cache and print its path",
		Long: `Mirror <uri> (http, https, s3 or file) into the cache directory and print the
local path. An existing copy is reused unless it is older than --period or
--refresh is given.`,
		Args: []Arg{{Name: "uri", Desc: "http, https, s3 or file URI", Missing: ErrURIRequired}},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			period, _ := fs.GetDuration("period")
			refresh, _ := fs.GetBool("refresh")

			return a.execFetch(ctx, o, remote{uri: args[0], period: period}, refresh)
		},
	}
}

func (a *app) execFetch(ctx context.Context, o *IO, def remote, refresh bool) (err error) {
	e, err := a.openEngine(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	b := e.Download(def)

	if refresh {
		err = b.Refresh()
		if err != nil {
			return err
		}
	}

	path, err := settle(ctx, b)
	if err != nil {
		return err
	}

	o.Println(path)

	return nil
}

// settle polls until b stops changing and returns its final path.
// A stale copy served during a re-download is not reported.
func settle(ctx context.Context, b *depcache.Binary) (string, error) {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()

	for {
		path, err := b.Path(ctx)
		if b.Stability(ctx) != depcache.Unstable {
			return path, err
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fetch %s: %w", b, ctx.Err())
		case <-ticker.C:
		}
	}
}

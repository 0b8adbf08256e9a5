package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/robertvazan/pmdata-sub001/internal/config"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/fetch"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// app carries what every command needs: resolved config, logger and stdin.
type app struct {
	cfg config.Config
	log log.Interface
	in  io.Reader
}

func (a *app) commands() []*Command {
	return append(a.baseCommands(), ShellCmd(a))
}

// baseCommands builds fresh commands, so flags parsed by one invocation
// do not leak into the next.
func (a *app) baseCommands() []*Command {
	return []*Command{
		LsCmd(a),
		ShowCmd(a),
		CatCmd(a),
		FetchCmd(a),
		RmCmd(a),
		PrintConfigCmd(&a.cfg),
	}
}

func (a *app) openStore(ctx context.Context) (*snapstore.Store, error) {
	store, err := snapstore.Open(ctx, a.cfg.CacheDirAbs)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return store, nil
}

func (a *app) openEngine(ctx context.Context) (*depcache.Engine, error) {
	fetcher := fetch.New(
		fetch.WithRetryMax(a.cfg.RetryMaxOrDefault()),
		fetch.WithTimeout(time.Duration(a.cfg.Download.Timeout)),
		fetch.WithRegion(a.cfg.S3.Region),
		fetch.WithProfile(a.cfg.S3.Profile),
		fetch.WithLogger(a.log),
	)

	e, err := depcache.Open(ctx, depcache.Options{
		Dir:         a.cfg.CacheDirAbs,
		Parallelism: a.cfg.Parallelism,
		Logger:      a.log,
		Fetcher:     fetcher,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return e, nil
}

// find resolves query to one record: an exact ID, a unique ID prefix,
// or an exact cache name.
func find(ctx context.Context, store *snapstore.Store, query string) (snapstore.Record, error) {
	rec, ok, err := store.Load(ctx, query)
	if err != nil {
		return snapstore.Record{}, err
	}

	if ok {
		return rec, nil
	}

	all, err := store.List(ctx, "")
	if err != nil {
		return snapstore.Record{}, err
	}

	var matches []snapstore.Record

	for _, r := range all {
		if r.Cache == query || strings.HasPrefix(r.ID, query) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return snapstore.Record{}, fmt.Errorf("%w: %s", ErrNotFound, query)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}

		slices.Sort(ids)

		return snapstore.Record{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousID, query, strings.Join(ids, ", "))
	}
}

// withStore opens the snapshot store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(*snapstore.Store) error) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, store.Close())
	}()

	return fn(store)
}

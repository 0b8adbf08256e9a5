package depcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/codec"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/fetch"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/mmap"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// Engine owns the entries of one cache directory.
//
// Locking architecture
//
//  1. Engine.mu guards closed against attempt startup, so Close can wait
//     for every attempt it did not prevent.
//
//  2. exclusivity is held for reading by every running attempt and for
//     writing by attempts of Exclusive definitions.
//
//  3. worker.mu (per entry) guards the in-flight attempt slot and the
//     publication of its snapshot.
//
// Lock ordering: exclusivity → worker.mu. Engine.mu is never held while
// acquiring the others.
type Engine struct {
	dir     string
	log     log.Interface
	clock   Clock
	codecs  *codec.Registry
	maps    *mmap.Registry
	fetcher fetch.Source
	store   *snapstore.Store
	lock    *DirLock

	sem         *semaphore.Weighted
	exclusivity sync.RWMutex

	entries sync.Map // map[entryKey]*entry
	ids     sync.Map // map[string]entryKey

	ctx    context.Context //nolint:containedctx // engine lifetime, parent of every attempt
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	running sync.WaitGroup
}

// Open prepares the cache directory and, unless disabled, the snapshot store.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if ctx == nil {
		return nil, errors.New("open engine: context is nil")
	}

	if opts.Dir == "" {
		return nil, errors.New("open engine: directory is empty")
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open engine: create directory: %w", err)
	}

	lock, err := lockDir(dir, unix.LOCK_SH)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	e := &Engine{
		dir:     dir,
		lock:    lock,
		log:     opts.Logger,
		clock:   opts.Clock,
		codecs:  opts.Codecs,
		maps:    opts.Maps,
		fetcher: opts.Fetcher,
	}

	if e.log == nil {
		e.log = log.Log
	}

	if e.clock == nil {
		e.clock = systemClock{}
	}

	if e.codecs == nil {
		e.codecs = codec.Default
	}

	if e.maps == nil {
		e.maps = mmap.Default
	}

	if e.fetcher == nil {
		e.fetcher = fetch.New(fetch.WithLogger(e.log))
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	e.sem = semaphore.NewWeighted(int64(parallelism))

	if !opts.DisablePersistence {
		e.store, err = snapstore.Open(ctx, dir)
		if err != nil {
			_ = lock.Close()

			return nil, fmt.Errorf("open engine: %w", err)
		}
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))

	return e, nil
}

// Dir returns the absolute cache root.
func (e *Engine) Dir() string {
	return e.dir
}

// Close cancels running attempts, waits for them, and closes the store.
// Cancellations caused by Close are not persisted.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.running.Wait()

	var storeErr error
	if e.store != nil {
		storeErr = e.store.Close()
	}

	return errors.Join(storeErr, e.lock.Close())
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.closed
}

// spawn runs fn on its own goroutine unless the engine is closed.
func (e *Engine) spawn(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false
	}

	e.running.Add(1)

	go func() {
		defer e.running.Done()

		fn()
	}()

	return true
}

type kind uint8

const (
	kindBinary kind = iota + 1
	kindObject
	kindComputed
	kindDownload
)

type entryKey struct {
	kind kind
	def  any
}

// resolve returns the entry for def, creating it on first use.
func (e *Engine) resolve(k kind, def any, newProducer func() producer) (*entry, error) {
	if def == nil || !reflect.TypeOf(def).Comparable() {
		return nil, fmt.Errorf("%w: %T is not comparable", ErrInvalidDefinition, def)
	}

	key := entryKey{kind: k, def: def}

	if v, ok := e.entries.Load(key); ok {
		ent, _ := v.(*entry)

		return ent, nil
	}

	ident, err := identityOf(def)
	if err != nil {
		return nil, err
	}

	if e.isClosed() {
		return nil, ErrClosed
	}

	if prev, loaded := e.ids.LoadOrStore(ident.id, key); loaded && prev != key {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, ident.name)
	}

	ent := newEntry(e, ident, def, newProducer())
	e.restore(ent)

	v, _ := e.entries.LoadOrStore(key, ent)
	actual, _ := v.(*entry)

	return actual, nil
}

// restore loads the persisted snapshot of a freshly created entry.
func (e *Engine) restore(ent *entry) {
	if e.store == nil || !ent.producer.persistent() {
		return
	}

	rec, ok, err := e.store.Load(e.ctx, ent.id)
	if err != nil {
		e.log.WithError(err).WithField("cache", ent.name).Warn("load persisted snapshot")

		return
	}

	if !ok {
		return
	}

	s := restoreSnapshot(ent, rec)
	if s == nil {
		e.log.WithField("cache", ent.name).Debug("discarding persisted snapshot without artifact")

		return
	}

	ent.snapshot.Store(s)
}

// persist saves a published snapshot. Failures are logged; the in-memory
// snapshot is already authoritative.
func (e *Engine) persist(ent *entry, s *Snapshot) {
	if e.store == nil || !ent.producer.persistent() {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed && s.outcome == OutcomeCancelled {
		return
	}

	err := e.store.Save(context.WithoutCancel(e.ctx), s.record(ent))
	if err != nil {
		e.log.WithError(err).WithField("cache", ent.name).Error("persist snapshot")
	}
}

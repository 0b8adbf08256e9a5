package depcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// handle binds a definition to its entry in one engine. Every variant
// embeds it.
type handle struct {
	engine      *Engine
	kind        kind
	def         any
	newProducer func() producer

	once sync.Once
	ent  *entry
	err  error
}

func (h *handle) entry() (*entry, error) {
	h.once.Do(func() {
		h.ent, h.err = h.engine.resolve(h.kind, h.def, h.newProducer)
	})

	return h.ent, h.err
}

// snapshot returns the value snapshot a reader should see, or the failure
// recorded in it.
func (h *handle) snapshot(ctx context.Context) (*entry, *Snapshot, error) {
	ent, err := h.entry()
	if err != nil {
		return nil, nil, err
	}

	s, err := ent.access(ctx, true)
	if err != nil {
		return nil, nil, err
	}

	err = s.result()
	if err != nil {
		return nil, nil, err
	}

	return ent, s, nil
}

// Touch records the dependency when called from Link and runs the staleness
// trigger. An empty cache is not an error here.
func (h *handle) Touch(ctx context.Context) error {
	ent, err := h.entry()
	if err != nil {
		return err
	}

	_, err = ent.access(ctx, false)

	return SilenceEmpty(err)
}

// Stability evaluates the entry without scheduling anything.
func (h *handle) Stability(ctx context.Context) Stability {
	ent, err := h.entry()
	if err != nil {
		return Failing
	}

	return ent.stability(ctx)
}

// Snapshot returns the latest snapshot, or nil if no attempt has completed.
// It records nothing and triggers nothing.
func (h *handle) Snapshot() *Snapshot {
	ent, err := h.entry()
	if err != nil {
		return nil
	}

	return ent.snapshot.Load()
}

// Progress returns the progress of the attempt in flight, or nil when the
// entry is idle.
func (h *handle) Progress() *Progress {
	ent, err := h.entry()
	if err != nil {
		return nil
	}

	return ent.worker.progress()
}

// Refresh schedules a recompute regardless of freshness. It is a no-op
// while an attempt is running.
func (h *handle) Refresh() error {
	ent, err := h.entry()
	if err != nil {
		return err
	}

	if ent.engine.isClosed() {
		return ErrClosed
	}

	ent.schedule()

	return nil
}

// Cancel cancels the running attempt, which then publishes a cancelled
// snapshot.
func (h *handle) Cancel() error {
	ent, err := h.entry()
	if err != nil {
		return err
	}

	ent.cancel()

	return nil
}

func (h *handle) String() string {
	ent, err := h.entry()
	if err != nil {
		return fmt.Sprintf("%T", h.def)
	}

	return ent.name
}

// Binary is the handle of a file-producing cache.
type Binary struct {
	handle
}

// Binary returns the handle of def. Handles are cheap; any number may
// refer to the same definition.
func (e *Engine) Binary(def BinaryCache) *Binary {
	return &Binary{handle{
		engine:      e,
		kind:        kindBinary,
		def:         def,
		newProducer: func() producer { return binaryProducer{def: def} },
	}}
}

// Path returns the artifact path of the current snapshot.
func (b *Binary) Path(ctx context.Context) (string, error) {
	_, s, err := b.snapshot(ctx)
	if err != nil {
		return "", err
	}

	return s.path, nil
}

// Get returns the complete artifact.
func (b *Binary) Get(ctx context.Context) ([]byte, error) {
	ent, s, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ent.name, err)
	}

	return data, nil
}

// Stream opens the artifact for reading from the start. The caller closes it.
func (b *Binary) Stream(ctx context.Context) (io.ReadCloser, error) {
	ent, s, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", ent.name, err)
	}

	return f, nil
}

// Mmap returns the artifact mapped read-only. The mapping is shared
// process-wide and must not be modified. Artifacts of 2 GiB or more fail
// with [ErrSizeLimit].
func (b *Binary) Mmap(ctx context.Context) ([]byte, error) {
	ent, s, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	data, err := ent.engine.maps.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", ent.name, err)
	}

	return data, nil
}

// Object is the handle of a serialized-object cache.
type Object[T any] struct {
	handle
}

// NewObject returns the handle of def in e.
func NewObject[T any](e *Engine, def ObjectCache[T]) *Object[T] {
	return &Object[T]{handle{
		engine:      e,
		kind:        kindObject,
		def:         def,
		newProducer: func() producer { return objectProducer[T]{def: def} },
	}}
}

// Path returns the serialized artifact path of the current snapshot.
func (o *Object[T]) Path(ctx context.Context) (string, error) {
	_, s, err := o.snapshot(ctx)
	if err != nil {
		return "", err
	}

	return s.path, nil
}

// Get deserializes a fresh copy of the value on every call.
func (o *Object[T]) Get(ctx context.Context) (T, error) {
	var v T

	ent, s, err := o.snapshot(ctx)
	if err != nil {
		return v, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return v, fmt.Errorf("read %s: %w", ent.name, err)
	}

	err = ent.engine.codecs.Unmarshal(data, &v)
	if err != nil {
		return v, fmt.Errorf("deserialize %s: %w", ent.name, err)
	}

	return v, nil
}

// Computed is the handle of an in-memory compute cache.
type Computed[T any] struct {
	handle
}

// NewComputed returns the handle of def in e.
func NewComputed[T any](e *Engine, def ComputeCache[T]) *Computed[T] {
	return &Computed[T]{handle{
		engine:      e,
		kind:        kindComputed,
		def:         def,
		newProducer: func() producer { return computedProducer[T]{def: def} },
	}}
}

// Get returns the value of the current snapshot. The value is shared by
// all readers and must not be modified.
func (c *Computed[T]) Get(ctx context.Context) (T, error) {
	_, s, err := c.snapshot(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	v, _ := s.value.(T)

	return v, nil
}

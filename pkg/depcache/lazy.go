package depcache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// lazyResults holds every evaluated lazy definition for the process lifetime.
// lazyKeys gives each definition its own flight key, so distinct definitions
// sharing a name never share a computation.
var (
	lazyResults sync.Map // map[any]lazyResult
	lazyKeys    sync.Map // map[any]string
	lazySeq     atomic.Uint64
	lazyFlight  singleflight.Group
)

func lazyKey(def any) string {
	if k, ok := lazyKeys.Load(def); ok {
		return k.(string) //nolint:forcetypeassert // only strings stored
	}

	k, _ := lazyKeys.LoadOrStore(def, strconv.FormatUint(lazySeq.Add(1), 10))

	return k.(string) //nolint:forcetypeassert // only strings stored
}

type lazyResult struct {
	value any
	err   error
}

// Lazy is the handle of a one-shot memoized definition. The value is
// computed at most once per process, is not tied to any engine, and is
// never re-evaluated. Errors are memoized too.
type Lazy[T any] struct {
	def LazyCache[T]
}

// NewLazy returns the handle of def. def must be comparable.
func NewLazy[T any](def LazyCache[T]) *Lazy[T] {
	return &Lazy[T]{def: def}
}

// Touch starts the computation in the background if it has not run yet.
func (l *Lazy[T]) Touch(ctx context.Context) error {
	_, err := identityOf(l.def)
	if err != nil {
		return err
	}

	if _, ok := lazyResults.Load(l.def); ok {
		return nil
	}

	lazyFlight.DoChan(lazyKey(l.def), l.evaluate(ctx))

	return nil
}

// Get returns the memoized value, computing it on first use. Concurrent
// first calls share one computation; a caller whose ctx ends stops waiting
// without cancelling it.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	var zero T

	ident, err := identityOf(l.def)
	if err != nil {
		return zero, err
	}

	if r, ok := lazyResults.Load(l.def); ok {
		return unpackLazy[T](r)
	}

	ch := lazyFlight.DoChan(lazyKey(l.def), l.evaluate(ctx))

	select {
	case res := <-ch:
		return unpackLazy[T](res.Val)
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %s: %w", ErrEmptyCache, ident.name, ctx.Err())
	}
}

// evaluate computes outside the caller's cancellation and outside any
// Link or Compute scope: the value belongs to the process, not the caller.
func (l *Lazy[T]) evaluate(ctx context.Context) func() (any, error) {
	detached := withScope(context.WithoutCancel(ctx), nil)

	return func() (any, error) {
		if r, ok := lazyResults.Load(l.def); ok {
			return r, nil
		}

		v, err := l.def.Compute(detached)
		r, _ := lazyResults.LoadOrStore(l.def, lazyResult{value: v, err: err})

		return r, nil
	}
}

func unpackLazy[T any](r any) (T, error) {
	res, _ := r.(lazyResult)
	v, _ := res.value.(T)

	return v, res.err
}

package depcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// entry is the controller of one definition: its snapshot, its worker, and
// the staleness protocol between them.
type entry struct {
	engine   *Engine
	id       string
	name     string
	dir      string
	opts     CachingOptions
	producer producer

	snapshot atomic.Pointer[Snapshot]
	worker   worker

	mu      sync.Mutex
	changed chan struct{}
}

func newEntry(e *Engine, ident identity, def any, p producer) *entry {
	return &entry{
		engine:   e,
		id:       ident.id,
		name:     ident.name,
		dir:      e.dir + "/" + ident.id,
		opts:     cachingOf(def),
		producer: p,
	}
}

// watch returns a channel closed on the next snapshot publication or
// attempt completion.
func (ent *entry) watch() <-chan struct{} {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.changed == nil {
		ent.changed = make(chan struct{})
	}

	return ent.changed
}

func (ent *entry) notify() {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.changed != nil {
		close(ent.changed)
		ent.changed = nil
	}
}

// capture is the outcome of one Link run.
type capture struct {
	input       *Input
	fingerprint Fingerprint
	children    Stability
	suspended   *SuspendedError
	err         error
}

// captureMemo is shared by the nested captures of one top-level capture,
// so a dependency reached along several paths is linked and triggered once.
type captureMemo struct {
	mu        sync.Mutex
	stability map[*entry]Stability
	triggered map[*entry]capture
}

func newCaptureMemo() *captureMemo {
	return &captureMemo{stability: map[*entry]Stability{}, triggered: map[*entry]capture{}}
}

func (m *captureMemo) stabilityOf(ctx context.Context, ent *entry) Stability {
	m.mu.Lock()
	st, ok := m.stability[ent]
	m.mu.Unlock()

	if ok {
		return st
	}

	st = ent.stabilityWith(ctx, m)

	m.mu.Lock()
	m.stability[ent] = st
	m.mu.Unlock()

	return st
}

func (m *captureMemo) trigger(ctx context.Context, ent *entry) capture {
	m.mu.Lock()
	c, ok := m.triggered[ent]
	m.mu.Unlock()

	if ok {
		return c
	}

	c = ent.triggerWith(ctx, m)

	m.mu.Lock()
	m.triggered[ent] = c
	m.mu.Unlock()

	return c
}

// capture runs Link against a fresh input. Active captures also run the
// staleness triggers of the dependencies they touch.
func (ent *entry) capture(ctx context.Context, active bool) capture {
	return ent.captureWith(ctx, active, newCaptureMemo())
}

func (ent *entry) captureWith(ctx context.Context, active bool, memo *captureMemo) capture {
	kind := capturePassive
	if active {
		kind = captureActive
	}

	in := newInput()

	err := ent.producer.link(withScope(ctx, &scope{kind: kind, input: in, memo: memo}))
	fp := in.freeze()

	if in.suspension != nil {
		return capture{input: in, suspended: in.suspension}
	}

	if err != nil {
		return capture{input: in, err: err}
	}

	children := Ready
	for _, dep := range in.dependencies() {
		children = children.fold(memo.stabilityOf(ctx, dep))
	}

	return capture{input: in, fingerprint: fp, children: children}
}

// stability evaluates the priority chain without scheduling anything.
func (ent *entry) stability(ctx context.Context) Stability {
	return ent.stabilityWith(ctx, newCaptureMemo())
}

func (ent *entry) stabilityWith(ctx context.Context, memo *captureMemo) Stability {
	c := ent.captureWith(ctx, false, memo)
	s := ent.snapshot.Load()

	return evaluateStability(c, s, ent.engine.clock.Now(), ent.opts.Period, ent.worker.inProgress())
}

// trigger schedules a recompute when the entry is empty, stale, or expired
// and its inputs have settled. The capture is returned for callers that
// wait; it is zero when a refresh was already in progress. Inside an active
// capture each entry is triggered at most once.
func (ent *entry) trigger(ctx context.Context) capture {
	if sc := scopeFrom(ctx); sc != nil && sc.kind == captureActive && sc.memo != nil {
		return sc.memo.trigger(ctx, ent)
	}

	return ent.triggerWith(ctx, newCaptureMemo())
}

func (ent *entry) triggerWith(ctx context.Context, memo *captureMemo) capture {
	if ent.worker.inProgress() {
		return capture{}
	}

	c := ent.captureWith(ctx, true, memo)
	if c.suspended != nil || c.err != nil || c.children != Ready {
		return c
	}

	if ent.opts.Mode == Manual {
		return c
	}

	s := ent.snapshot.Load()

	switch {
	case s == nil:
		ent.schedule()
	case ent.opts.Mode == Initial:
	case s.fingerprint != c.fingerprint, expired(s, ent.engine.clock.Now(), ent.opts.Period):
		ent.schedule()
	}

	return c
}

// access returns the snapshot a reader should see. With wait set, an empty
// blocking cache waits for its first snapshot, except inside Link, where it
// suspends the capture instead.
func (ent *entry) access(ctx context.Context, wait bool) (*Snapshot, error) {
	sc := scopeFrom(ctx)

	if sc != nil && sc.kind == computing {
		s, err := sc.input.dependency(ent, nil)
		if err != nil {
			return nil, err
		}

		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrEmptyCache, ent.name)
		}

		return s, nil
	}

	var c capture
	if sc == nil || sc.kind == captureActive {
		c = ent.trigger(ctx)
	}

	s := ent.snapshot.Load()

	if sc != nil {
		s, _ = sc.input.dependency(ent, s)
	}

	if s != nil {
		return s, nil
	}

	if !ent.opts.Blocking {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCache, ent.name)
	}

	if sc != nil {
		err := &SuspendedError{Cache: ent.name, Ready: ent.watch()}
		sc.input.suspend(err)

		return nil, err
	}

	if !wait {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCache, ent.name)
	}

	return ent.await(ctx, c)
}

// await blocks until the first snapshot is published or ctx ends.
func (ent *entry) await(ctx context.Context, c capture) (*Snapshot, error) {
	for {
		changed := ent.watch()

		if s := ent.snapshot.Load(); s != nil {
			return s, nil
		}

		if !ent.worker.inProgress() {
			if c.input == nil {
				c = ent.trigger(ctx)
			}

			switch {
			case c.err != nil:
				return nil, fmt.Errorf("link %s: %w", ent.name, c.err)
			case c.suspended == nil && c.children == Failing:
				return nil, fmt.Errorf("%w: %s", ErrDependencyFailing, ent.name)
			}
		}

		waits, settled := ent.waitSet(ctx, c)
		if settled {
			c = capture{}

			continue
		}

		done := make(chan struct{})
		wake := anyOf(done, waits...)

		select {
		case <-changed:
		case <-wake:
		case <-ctx.Done():
			close(done)

			return nil, fmt.Errorf("%w: %s: %w", ErrEmptyCache, ent.name, ctx.Err())
		}

		close(done)

		c = capture{}
	}
}

// waitSet collects the change channels of every unsettled entry below c.
// settled reports that c saw unsettled inputs which have settled since, so
// the caller should trigger again right away.
func (ent *entry) waitSet(ctx context.Context, c capture) ([]<-chan struct{}, bool) {
	if c.input == nil {
		return nil, false
	}

	var out []<-chan struct{}

	if c.suspended != nil {
		out = append(out, c.suspended.Ready)
	}

	seen := map[*entry]bool{ent: true}
	for _, dep := range c.input.dependencies() {
		out = dep.unsettled(ctx, out, seen)
	}

	return out, len(out) == 0 && c.children != Ready
}

func (ent *entry) unsettled(ctx context.Context, out []<-chan struct{}, seen map[*entry]bool) []<-chan struct{} {
	if seen[ent] {
		return out
	}

	seen[ent] = true

	// Subscribe before evaluating so a change in between is not lost.
	changed := ent.watch()

	c := ent.capture(ctx, false)
	if evaluateStability(c, ent.snapshot.Load(), ent.engine.clock.Now(), ent.opts.Period, ent.worker.inProgress()) == Ready {
		return out
	}

	out = append(out, changed)

	if c.suspended != nil {
		out = append(out, c.suspended.Ready)
	}

	for _, dep := range c.input.dependencies() {
		out = dep.unsettled(ctx, out, seen)
	}

	return out
}

// anyOf returns a channel closed when any of chans is closed. Helper
// goroutines exit once done is closed.
func anyOf(done <-chan struct{}, chans ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	if len(chans) == 0 {
		return out
	}

	var once sync.Once

	for _, ch := range chans {
		go func() {
			select {
			case <-ch:
				once.Do(func() { close(out) })
			case <-done:
			}
		}()
	}

	return out
}

package depcache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// attempt is one scheduled compute. Fields other than id, ctx and cancel
// are guarded by worker.mu.
type attempt struct {
	id       string
	ctx      context.Context //nolint:containedctx // attempt lifetime
	cancel   context.CancelFunc
	progress *Progress

	cancelled bool
	started   bool
}

// worker is the single-flight slot of one entry.
type worker struct {
	mu      sync.Mutex
	current *attempt
}

func (w *worker) inProgress() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.current != nil
}

// progress returns the progress of the attempt in flight, or nil.
func (w *worker) progress() *Progress {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return nil
	}

	return w.current.progress
}

func newAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// schedule starts an attempt unless one is in flight. An attempt that was
// cancelled before it started is replaced.
func (ent *entry) schedule() bool {
	w := &ent.worker

	w.mu.Lock()

	if cur := w.current; cur != nil && (!cur.cancelled || cur.started) {
		w.mu.Unlock()

		return false
	}

	ctx, cancel := context.WithCancel(ent.engine.ctx)
	id := newAttemptID()
	a := &attempt{id: id, ctx: ctx, cancel: cancel, progress: newProgress(id, ent.engine.clock.Now())}
	w.current = a

	w.mu.Unlock()

	if !ent.engine.spawn(func() { ent.run(a) }) {
		w.mu.Lock()
		if w.current == a {
			w.current = nil
		}
		w.mu.Unlock()

		cancel()

		return false
	}

	ent.engine.log.WithFields(log.Fields{"cache": ent.name, "attempt": a.id}).Debug("refresh scheduled")
	ent.notify()

	return true
}

// cancel cancels the attempt in flight, if any.
func (ent *entry) cancel() {
	w := &ent.worker

	w.mu.Lock()
	a := w.current
	if a != nil {
		a.cancelled = true
	}
	w.mu.Unlock()

	if a != nil {
		a.cancel()
	}
}

// begin marks a as started. It reports false when a was superseded.
func (ent *entry) begin(a *attempt) bool {
	w := &ent.worker

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != a {
		return false
	}

	a.started = true

	return true
}

func (ent *entry) run(a *attempt) {
	e := ent.engine
	logger := e.log.WithFields(log.Fields{"cache": ent.name, "attempt": a.id})

	refreshed := e.clock.Now()

	err := e.sem.Acquire(a.ctx, 1)
	if err != nil {
		c := ent.capture(a.ctx, false)
		ent.complete(a, ent.cancelled(a, c.fingerprint, refreshed), logger)

		return
	}
	defer e.sem.Release(1)

	a.progress.enter(StageExclusivity)

	if ent.opts.Exclusive {
		e.exclusivity.Lock()
		defer e.exclusivity.Unlock()
	} else {
		e.exclusivity.RLock()
		defer e.exclusivity.RUnlock()
	}

	if !ent.begin(a) {
		return
	}

	refreshed = e.clock.Now()
	a.progress.enter(StageComputing)
	logger.Debug("refresh started")

	var (
		fp  Fingerprint
		out content
	)

	c := ent.capture(a.ctx, false)

	switch {
	case c.suspended != nil:
		err = c.suspended
	case c.err != nil:
		err = c.err
	default:
		fp = c.fingerprint
		ctx := withProgress(withScope(a.ctx, &scope{kind: computing, input: c.input}), a.progress)

		out, err = ent.producer.produce(ctx, ent, a)
		if err == nil {
			err = c.input.err()
		}
	}

	var s *Snapshot

	switch {
	case err != nil && a.ctx.Err() != nil:
		s = ent.cancelled(a, fp, refreshed)
	case err != nil:
		s = &Snapshot{
			outcome:     OutcomeFailure,
			err:         newComputeError(ent.name, err),
			fingerprint: fp,
			attempt:     a.id,
			refreshed:   refreshed,
			updated:     e.clock.Now(),
		}
	default:
		s = &Snapshot{
			outcome:     OutcomeValue,
			path:        out.path,
			value:       out.value,
			fingerprint: fp,
			hash:        out.hash,
			size:        out.size,
			attempt:     a.id,
			refreshed:   refreshed,
			updated:     e.clock.Now(),
		}

		if prev := ent.snapshot.Load(); prev != nil && prev.outcome == OutcomeValue && prev.hash == s.hash {
			s.updated = prev.updated
		}
	}

	s.cost = e.clock.Now().Sub(refreshed)

	if s.outcome != OutcomeValue && out.path != "" {
		_ = os.Remove(out.path)
	}

	ent.complete(a, s, logger)
}

// cancelled builds the snapshot of a cancelled attempt. Without a captured
// fingerprint it keeps the previous one so the cancellation alone does not
// look like a dependency change.
func (ent *entry) cancelled(a *attempt, fp Fingerprint, refreshed time.Time) *Snapshot {
	if fp == "" {
		if prev := ent.snapshot.Load(); prev != nil {
			fp = prev.fingerprint
		}
	}

	return &Snapshot{
		outcome:     OutcomeCancelled,
		err:         cancelledError(ent.name),
		fingerprint: fp,
		attempt:     a.id,
		refreshed:   refreshed,
		updated:     ent.engine.clock.Now(),
	}
}

// complete publishes s if a is still the attempt in flight.
func (ent *entry) complete(a *attempt, s *Snapshot, logger log.Interface) {
	w := &ent.worker

	w.mu.Lock()

	if w.current != a {
		w.mu.Unlock()
		a.cancel()

		return
	}

	// Superseded artifacts stay on disk: readers may still hold their paths.
	ent.snapshot.Store(s)
	w.current = nil

	w.mu.Unlock()

	a.cancel()
	ent.notify()
	ent.engine.persist(ent, s)

	switch s.outcome {
	case OutcomeValue:
		logger.WithFields(log.Fields{
			"cost": s.cost.Round(time.Millisecond).String(),
			"size": humanize.Bytes(uint64(max(s.size, 0))), //nolint:gosec // clamped
		}).Info("refreshed")
	case OutcomeFailure:
		logger.WithError(s.err).Warn("refresh failed")
	case OutcomeCancelled:
		logger.Info("refresh cancelled")
	}
}

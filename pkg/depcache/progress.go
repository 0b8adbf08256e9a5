package depcache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Attempt stages reported by [Progress.Stage].
const (
	StageScheduling  = "scheduling"
	StageExclusivity = "exclusivity"
	StageComputing   = "computing"
)

// Progress describes the attempt in flight for one entry. It is updated by
// the worker and by [ReportProgress] from inside Compute, and is safe to
// read concurrently.
type Progress struct {
	attempt   string
	scheduled time.Time

	mu        sync.Mutex
	stage     string
	milestone string
}

func newProgress(attempt string, now time.Time) *Progress {
	return &Progress{attempt: attempt, scheduled: now, stage: StageScheduling}
}

// Attempt returns the ID the snapshot will carry once published.
func (p *Progress) Attempt() string { return p.attempt }

// Scheduled returns when the attempt was scheduled.
func (p *Progress) Scheduled() time.Time { return p.scheduled }

// Stage returns what the attempt is waiting for or doing.
func (p *Progress) Stage() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stage
}

// Milestone returns the last value passed to [ReportProgress], or "".
func (p *Progress) Milestone() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.milestone
}

// String formats the progress as "stage (milestone)".
func (p *Progress) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.milestone == "" {
		return p.stage
	}

	return p.stage + " (" + p.milestone + ")"
}

func (p *Progress) enter(stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.milestone = ""
}

type progressKey struct{}

func withProgress(ctx context.Context, p *Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ReportProgress sets the milestone of the attempt whose Compute runs with
// ctx, for example the number of bytes written so far. Outside Compute it
// does nothing.
func ReportProgress(ctx context.Context, format string, args ...any) {
	p, _ := ctx.Value(progressKey{}).(*Progress)
	if p == nil {
		return
	}

	milestone := fmt.Sprintf(format, args...)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.milestone = milestone
}

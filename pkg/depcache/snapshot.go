package depcache

import (
	"fmt"
	"os"
	"time"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

// Outcome is the terminal result of a compute attempt.
type Outcome int

const (
	OutcomeValue Outcome = iota + 1
	OutcomeFailure
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValue:
		return "value"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is the immutable record of the latest completed attempt.
// Snapshots are replaced as a whole, never modified.
type Snapshot struct {
	outcome     Outcome
	path        string
	value       any
	err         error
	fingerprint Fingerprint
	hash        string
	size        int64
	attempt     string
	refreshed   time.Time
	updated     time.Time
	cost        time.Duration
}

// Outcome reports whether the attempt produced a value, failed, or was cancelled.
func (s *Snapshot) Outcome() Outcome { return s.outcome }

// Path is the artifact file. Empty for in-memory entries and non-values.
func (s *Snapshot) Path() string { return s.path }

// Err is the recorded failure, [ErrCancelled], or nil for values.
func (s *Snapshot) Err() error { return s.err }

// Fingerprint is the dependency fingerprint the attempt was computed against.
func (s *Snapshot) Fingerprint() Fingerprint { return s.fingerprint }

// Hash is the SHA-256 of the artifact (base64url), or the attempt ID for
// in-memory values.
func (s *Snapshot) Hash() string { return s.hash }

// Size is the artifact size in bytes.
func (s *Snapshot) Size() int64 { return s.size }

// Attempt is the UUIDv7 of the attempt that produced this snapshot.
func (s *Snapshot) Attempt() string { return s.attempt }

// Refreshed is when the attempt started.
func (s *Snapshot) Refreshed() time.Time { return s.refreshed }

// Updated is when the content last changed. A recompute that yields
// identical bytes keeps the previous Updated time.
func (s *Snapshot) Updated() time.Time { return s.updated }

// Cost is how long the attempt took.
func (s *Snapshot) Cost() time.Duration { return s.cost }

// identity is the snapshot's contribution to a dependent's fingerprint.
func (s *Snapshot) identity() string {
	switch s.outcome {
	case OutcomeValue:
		return "value:" + s.hash
	case OutcomeFailure:
		return "failed:" + s.attempt
	default:
		return "cancelled:" + s.attempt
	}
}

// result returns the error a reader sees for a non-value snapshot.
func (s *Snapshot) result() error {
	if s.outcome == OutcomeValue {
		return nil
	}

	return s.err
}

func (s *Snapshot) record(ent *entry) snapstore.Record {
	rec := snapstore.Record{
		ID:        ent.id,
		Cache:     ent.name,
		Path:      s.path,
		Input:     string(s.fingerprint),
		Hash:      s.hash,
		Size:      s.size,
		Attempt:   s.attempt,
		Updated:   s.updated,
		Refreshed: s.refreshed,
		Cost:      s.cost,
	}

	switch s.outcome {
	case OutcomeValue:
		rec.Outcome = snapstore.OutcomeValue
	case OutcomeCancelled:
		rec.Outcome = snapstore.OutcomeCancelled
	default:
		rec.Outcome = snapstore.OutcomeFailure
		rec.Failure = s.err.Error()

		if ce, ok := s.err.(*ComputeError); ok { //nolint:errorlint // constructed unwrapped
			rec.Failure = ce.Message
		}
	}

	return rec
}

// restoreSnapshot rebuilds a snapshot from persisted metadata. It returns nil
// when the record is unusable, e.g. its artifact file is gone.
func restoreSnapshot(ent *entry, rec snapstore.Record) *Snapshot {
	s := &Snapshot{
		path:        rec.Path,
		fingerprint: Fingerprint(rec.Input),
		hash:        rec.Hash,
		size:        rec.Size,
		attempt:     rec.Attempt,
		refreshed:   rec.Refreshed,
		updated:     rec.Updated,
		cost:        rec.Cost,
	}

	switch rec.Outcome {
	case snapstore.OutcomeValue:
		info, err := os.Stat(rec.Path)
		if err != nil || !info.Mode().IsRegular() || info.Size() != rec.Size {
			return nil
		}

		s.outcome = OutcomeValue
	case snapstore.OutcomeCancelled:
		s.outcome = OutcomeCancelled
		s.err = cancelledError(ent.name)
	case snapstore.OutcomeFailure:
		s.outcome = OutcomeFailure
		s.err = &ComputeError{Cache: ent.name, Message: rec.Failure}
	default:
		return nil
	}

	return s
}

func cancelledError(cache string) error {
	return fmt.Errorf("%w: %s", ErrCancelled, cache)
}

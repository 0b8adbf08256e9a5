package depcache

import "time"

// Stability signals how likely an entry is to change soon.
// It is derived on every query and never stored.
type Stability int

const (
	// Ready means the snapshot is current and successful.
	Ready Stability = iota

	// Unstable means a change is likely: the entry or a dependency is empty,
	// stale, expired, or being recomputed.
	Unstable

	// Failing means the entry or a dependency settled on a failure.
	Failing
)

func (s Stability) String() string {
	switch s {
	case Ready:
		return "READY"
	case Unstable:
		return "UNSTABLE"
	case Failing:
		return "FAILING"
	default:
		return "UNKNOWN"
	}
}

// fold combines dependency stabilities. Unstable outranks Failing.
func (s Stability) fold(other Stability) Stability {
	if s == Unstable || other == Unstable {
		return Unstable
	}

	if s == Failing || other == Failing {
		return Failing
	}

	return Ready
}

// evaluateStability applies the priority chain. Earlier checks win.
func evaluateStability(c capture, s *Snapshot, now time.Time, period time.Duration, refreshing bool) Stability {
	switch {
	case c.suspended != nil:
		return Unstable
	case c.err != nil:
		return Failing
	case c.children != Ready:
		return c.children
	case s == nil:
		return Unstable
	case s.fingerprint != c.fingerprint:
		return Unstable
	case expired(s, now, period):
		return Unstable
	case refreshing:
		return Unstable
	case s.outcome != OutcomeValue:
		return Failing
	default:
		return Ready
	}
}

func expired(s *Snapshot, now time.Time, period time.Duration) bool {
	return period > 0 && now.After(s.refreshed.Add(period))
}

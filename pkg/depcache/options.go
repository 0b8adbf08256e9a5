package depcache

import (
	"time"

	"github.com/apex/log"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/codec"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/fetch"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache/mmap"
)

// RefreshMode selects who schedules recomputes.
type RefreshMode int

const (
	// Automatic recomputes stale entries when they are accessed.
	Automatic RefreshMode = iota

	// Manual recomputes only on explicit Refresh.
	Manual

	// Initial computes an empty cache on access but afterwards recomputes
	// only on explicit Refresh.
	Initial
)

func (m RefreshMode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Initial:
		return "initial"
	default:
		return "automatic"
	}
}

// CachingOptions is the per-definition refresh policy.
// The zero value is non-blocking, automatic, with no period.
type CachingOptions struct {
	// Blocking makes reads of an empty cache wait for the first snapshot
	// instead of failing with [ErrEmptyCache].
	Blocking bool

	// Period is the maximum tolerated snapshot age. Zero disables expiry.
	Period time.Duration

	Mode RefreshMode

	// Exclusive attempts run alone: no other attempt runs concurrently.
	Exclusive bool
}

// Clock supplies the current time for period checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures an [Engine].
type Options struct {
	// Dir is the cache root. Required.
	Dir string

	// Parallelism bounds concurrently running compute attempts.
	// Defaults to GOMAXPROCS.
	Parallelism int

	// Logger defaults to the apex/log package logger.
	Logger log.Interface

	// Clock defaults to the system clock.
	Clock Clock

	// Codecs serializes object caches. Defaults to [codec.Default].
	Codecs *codec.Registry

	// Maps serves Mmap reads. Defaults to [mmap.Default].
	Maps *mmap.Registry

	// Fetcher opens download URIs. Defaults to [fetch.New].
	Fetcher fetch.Source

	// DisablePersistence keeps snapshots in memory only.
	DisablePersistence bool
}

package depcache

import (
	"errors"
	"fmt"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/mmap"
)

// Sentinel errors returned by depcache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	data, err := words.Get(ctx)
//	if depcache.IsEmpty(err) {
//	    // not computed yet, try again later
//	}
var (
	// ErrEmptyCache indicates no snapshot exists yet and the cache is not
	// configured to block.
	//
	// Recovery: retry later, or set [CachingOptions.Blocking]. Use
	// [SilenceEmpty] to ignore exactly this condition.
	ErrEmptyCache = errors.New("depcache: empty cache")

	// ErrComputeFailed matches every [*ComputeError].
	ErrComputeFailed = errors.New("depcache: compute failed")

	// ErrCancelled indicates the latest compute attempt was cancelled.
	//
	// Recovery: call Refresh. Cancelled attempts are never retried automatically.
	ErrCancelled = errors.New("depcache: compute cancelled")

	// ErrSizeLimit indicates the artifact is too large to memory-map.
	//
	// Recovery: none. Use Stream instead.
	ErrSizeLimit = mmap.ErrTooLarge

	// ErrUndeclaredDependency indicates Compute read a dependency or
	// parameter that Link did not declare.
	//
	// This is a programming error in the cache definition.
	ErrUndeclaredDependency = errors.New("depcache: dependency not declared in Link")

	// ErrDependencyFailing indicates a blocking read gave up because the
	// cache is empty and one of its dependencies is failing.
	ErrDependencyFailing = errors.New("depcache: dependency failing")

	// ErrDuplicateIdentity indicates two distinct definitions resolve to the
	// same storage location.
	//
	// Recovery: give the definitions distinct String() output.
	ErrDuplicateIdentity = errors.New("depcache: duplicate cache identity")

	// ErrInvalidDefinition indicates a definition that cannot serve as a cache key.
	//
	// This is a programming error. Definitions must be comparable, typically pointers.
	ErrInvalidDefinition = errors.New("depcache: invalid definition")

	// ErrMissingOutput indicates Compute returned without writing the file.
	ErrMissingOutput = errors.New("depcache: compute produced no file")

	// ErrClosed indicates the [Engine] has been closed.
	ErrClosed = errors.New("depcache: engine closed")
)

// ComputeError is the failure recorded in a snapshot when Compute (or Link,
// at attempt time) returned an error. It is returned on every access until a
// later attempt succeeds.
type ComputeError struct {
	Cache   string
	Message string

	// Err is the original error. It is nil when the failure was restored
	// from persisted metadata.
	Err error
}

func newComputeError(cache string, err error) *ComputeError {
	return &ComputeError{Cache: cache, Message: err.Error(), Err: err}
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("depcache: compute %s: %s", e.Cache, e.Message)
}

// Unwrap exposes both [ErrComputeFailed] and the original error.
func (e *ComputeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrComputeFailed}
	}

	return []error{ErrComputeFailed, e.Err}
}

// SuspendedError is returned from reads of an empty blocking cache made
// while a Link is being captured. Ready is closed when the cache changes.
type SuspendedError struct {
	Cache string
	Ready <-chan struct{}
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("depcache: %s is empty, suspended", e.Cache)
}

// Unwrap makes a suspension match [ErrEmptyCache].
func (e *SuspendedError) Unwrap() error {
	return ErrEmptyCache
}

// IsEmpty reports whether err is an empty-cache condition.
func IsEmpty(err error) bool {
	return errors.Is(err, ErrEmptyCache)
}

// SilenceEmpty returns nil for empty-cache conditions and err otherwise.
func SilenceEmpty(err error) error {
	if IsEmpty(err) {
		return nil
	}

	return err
}

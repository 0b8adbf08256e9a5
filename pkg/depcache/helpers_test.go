package depcache_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/stretchr/testify/require"

	"github.com/robertvazan/pmdata-sub001/internal/testutil"
	"github.com/robertvazan/pmdata-sub001/pkg/depcache"
)

const waitFor = 5 * time.Second

func quietLogger() log.Interface {
	return &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}
}

type engineOption func(*depcache.Options)

func withClock(c depcache.Clock) engineOption {
	return func(o *depcache.Options) { o.Clock = c }
}

func withParallelism(n int) engineOption {
	return func(o *depcache.Options) { o.Parallelism = n }
}

func openEngine(t *testing.T, dir string, opts ...engineOption) *depcache.Engine {
	t.Helper()

	o := depcache.Options{Dir: dir, Logger: quietLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	e, err := depcache.Open(t.Context(), o)
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close() })

	return e
}

func newEngine(t *testing.T, opts ...engineOption) *depcache.Engine {
	t.Helper()

	return openEngine(t, t.TempDir(), opts...)
}

// textDef writes the current value of text to its artifact. Its Link reads
// text as a parameter, so changing it makes the artifact stale.
type textDef struct {
	name    string
	version int
	opts    depcache.CachingOptions

	mu   sync.Mutex
	text string
	fail error

	// gate, when set, holds every Compute until a token is sent.
	gate  chan struct{}
	calls atomic.Int32
	links atomic.Int32
}

func newText(name, text string, opts depcache.CachingOptions) *textDef {
	return &textDef{name: name, text: text, opts: opts}
}

func (d *textDef) String() string                   { return d.name }
func (d *textDef) Version() int                     { return d.version }
func (d *textDef) Caching() depcache.CachingOptions { return d.opts }

func (d *textDef) set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.text = text
}

func (d *textDef) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fail = err
}

func (d *textDef) current() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.text
}

func (d *textDef) Link(ctx context.Context) error {
	d.links.Add(1)
	depcache.Param(ctx, "text", d.current)

	return nil
}

func (d *textDef) Compute(ctx context.Context, path string) error {
	d.calls.Add(1)

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	fail := d.fail
	d.mu.Unlock()

	if fail != nil {
		return fail
	}

	text := depcache.Param(ctx, "text", d.current)

	return os.WriteFile(path, []byte(text), 0o600)
}

// upperDef derives its artifact from another binary cache.
type upperDef struct {
	name  string
	src   *depcache.Binary
	calls atomic.Int32
	opts  depcache.CachingOptions
}

func (d *upperDef) String() string                   { return d.name }
func (d *upperDef) Caching() depcache.CachingOptions { return d.opts }

func (d *upperDef) Link(ctx context.Context) error {
	return d.src.Touch(ctx)
}

func (d *upperDef) Compute(ctx context.Context, path string) error {
	d.calls.Add(1)

	data, err := d.src.Get(ctx)
	if err != nil {
		return err
	}

	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}

		out[i] = b
	}

	return os.WriteFile(path, out, 0o600)
}

var errBoom = errors.New("boom")

var _ depcache.Clock = (*testutil.Clock)(nil)

func waitStability(t *testing.T, want depcache.Stability, get func() depcache.Stability) {
	t.Helper()

	require.Eventually(t, func() bool { return get() == want }, waitFor, time.Millisecond,
		"stability never became %s", want)
}

package codec

import (
	"sync"
	"sync/atomic"
)

// Configurer adjusts a freshly built codec, typically by calling
// [Codec.Register] or [Codec.AddSerializer].
type Configurer func(*Codec)

// Registry is a versioned, append-only list of configurers.
type Registry struct {
	mu          sync.Mutex
	configurers []Configurer
	version     atomic.Uint64
	pool        sync.Pool
	builds      atomic.Int64
}

// NewRegistry returns an empty registry at version zero.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default is the process-wide registry used when no other is configured.
var Default = NewRegistry()

// Register appends fn and bumps the version. Codecs built earlier are
// rebuilt the next time they are acquired.
func (r *Registry) Register(fn Configurer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configurers = append(r.configurers, fn)
	r.version.Add(1)
}

// RegisterType is shorthand for registering a type for interface decoding.
func (r *Registry) RegisterType(prototype any) {
	r.Register(func(c *Codec) { c.Register(prototype) })
}

// RegisterSerializer is shorthand for routing one type through s.
func (r *Registry) RegisterSerializer(prototype any, s Serializer) {
	r.Register(func(c *Codec) { c.AddSerializer(prototype, s) })
}

// Version returns the current registry version.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Builds returns how many codecs have been built.
func (r *Registry) Builds() int64 {
	return r.builds.Load()
}

// Acquire checks out a codec that reflects every registration made so far.
// The caller owns it until [Registry.Release].
func (r *Registry) Acquire() *Codec {
	c, _ := r.pool.Get().(*Codec)
	if c != nil && c.version == r.version.Load() {
		return c
	}

	return r.build()
}

// Release returns a codec to the pool.
func (r *Registry) Release(c *Codec) {
	if c == nil {
		return
	}

	r.pool.Put(c)
}

// Marshal encodes v with a pooled codec.
func (r *Registry) Marshal(v any) ([]byte, error) {
	c := r.Acquire()
	defer r.Release(c)

	return c.Marshal(v)
}

// Unmarshal decodes data into target with a pooled codec.
func (r *Registry) Unmarshal(data []byte, target any) error {
	c := r.Acquire()
	defer r.Release(c)

	return c.Unmarshal(data, target)
}

func (r *Registry) build() *Codec {
	r.mu.Lock()
	fns := r.configurers[:len(r.configurers):len(r.configurers)]
	version := r.version.Load()
	r.mu.Unlock()

	c := newCodec(version)
	for _, fn := range fns {
		fn(c)
	}

	r.builds.Add(1)

	return c
}

// Package mmap keeps one read-only memory mapping per file path for the
// lifetime of the process.
//
// Mappings are created lazily on first [Registry.Open] and are never
// released. Callers must never write to the returned slices. Files behind a
// published mapping must not be truncated or rewritten in place; producers
// publish new content under a new path instead.
//
// # Concurrency
//
// Concurrent opens of the same path yield exactly one mapping. Opens of
// different paths never wait on each other: each path has its own lock.
package mmap

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MaxSize is the largest file size that can be mapped.
// The mapping length must fit a 32-bit signed integer.
const MaxSize = math.MaxInt32

// ErrTooLarge is returned when the file is larger than [MaxSize].
//
// Recovery: none. The call fails and is not retried.
var ErrTooLarge = errors.New("mmap: file too large")

// Registry maps paths to their process-lifetime mappings.
//
// The zero value is ready to use.
type Registry struct {
	all    sync.Map // map[string]*mapping
	mapped atomic.Int64
}

// Default is the process-wide registry.
var Default = &Registry{}

// mapping owns one file handle and one read-only mapping.
type mapping struct {
	mu   sync.Mutex
	path string
	file *os.File
	data []byte
}

// Open returns the read-only mapping of path, creating it on first use.
func (r *Registry) Open(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("mmap: path is empty")
	}

	v, ok := r.all.Load(path)
	if !ok {
		v, _ = r.all.LoadOrStore(path, &mapping{path: path})
	}

	m, _ := v.(*mapping)

	return m.open(r)
}

// Len returns the number of mappings created so far.
func (r *Registry) Len() int {
	return int(r.mapped.Load())
}

func (m *mapping) open(r *Registry) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		return m.data, nil
	}

	info, err := os.Stat(m.path)
	if err != nil {
		return nil, fmt.Errorf("mmap: stat: %w", err)
	}

	size := info.Size()
	if size > MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, m.path, size, MaxSize)
	}

	if m.file == nil {
		f, openErr := os.Open(m.path)
		if openErr != nil {
			return nil, fmt.Errorf("mmap: open: %w", openErr)
		}

		m.file = f
	}

	// Zero-length mappings are rejected by the kernel.
	if size == 0 {
		m.data = []byte{}
		r.mapped.Add(1)

		return m.data, nil
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	m.data = data
	r.mapped.Add(1)

	return m.data, nil
}

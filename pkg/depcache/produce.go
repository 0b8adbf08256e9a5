package depcache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// producer adapts one definition variant to the worker.
type producer interface {
	link(ctx context.Context) error
	produce(ctx context.Context, ent *entry, a *attempt) (content, error)

	// persistent reports whether snapshots survive a restart.
	persistent() bool
}

// content is the value half of a successful attempt.
type content struct {
	path  string
	value any
	hash  string
	size  int64
}

// stage runs write against a staging path in the entry directory and, if
// it succeeds and the attempt read only declared inputs, atomically
// publishes the file under the attempt ID.
func stage(ctx context.Context, ent *entry, a *attempt, write func(path string) error) (content, error) {
	err := os.MkdirAll(ent.dir, 0o750)
	if err != nil {
		return content{}, fmt.Errorf("create cache directory: %w", err)
	}

	tmp := filepath.Join(ent.dir, "."+a.id+".tmp")
	final := filepath.Join(ent.dir, a.id)

	published := false

	defer func() {
		if !published {
			_ = os.Remove(tmp)
		}
	}()

	err = write(tmp)
	if err != nil {
		return content{}, err
	}

	info, err := os.Stat(tmp)
	if errors.Is(err, fs.ErrNotExist) {
		return content{}, ErrMissingOutput
	}

	if err != nil {
		return content{}, fmt.Errorf("stat output: %w", err)
	}

	if !info.Mode().IsRegular() {
		return content{}, fmt.Errorf("%w: %s is not a regular file", ErrMissingOutput, tmp)
	}

	err = violation(ctx)
	if err != nil {
		return content{}, err
	}

	hash, err := hashFile(tmp)
	if err != nil {
		return content{}, err
	}

	err = atomic.ReplaceFile(tmp, final)
	if err != nil {
		return content{}, fmt.Errorf("publish output: %w", err)
	}

	published = true

	return content{path: final, hash: hash, size: info.Size()}, nil
}

// violation returns the undeclared-read error recorded in the computing
// scope of ctx, if any.
func violation(ctx context.Context) error {
	s := scopeFrom(ctx)
	if s == nil {
		return nil
	}

	return s.input.err()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash output: %w", err)
	}
	defer f.Close()

	h := sha256.New()

	_, err = io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("hash output: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

type binaryProducer struct {
	def BinaryCache
}

func (p binaryProducer) link(ctx context.Context) error { return p.def.Link(ctx) }
func (binaryProducer) persistent() bool                 { return true }

func (p binaryProducer) produce(ctx context.Context, ent *entry, a *attempt) (content, error) {
	return stage(ctx, ent, a, func(path string) error {
		return p.def.Compute(ctx, path)
	})
}

type objectProducer[T any] struct {
	def ObjectCache[T]
}

func (p objectProducer[T]) link(ctx context.Context) error { return p.def.Link(ctx) }
func (objectProducer[T]) persistent() bool                 { return true }

func (p objectProducer[T]) produce(ctx context.Context, ent *entry, a *attempt) (content, error) {
	return stage(ctx, ent, a, func(path string) error {
		v, err := p.def.Compute(ctx)
		if err != nil {
			return err
		}

		data, err := ent.engine.codecs.Marshal(v)
		if err != nil {
			return fmt.Errorf("serialize: %w", err)
		}

		err = os.WriteFile(path, data, 0o640)
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		return nil
	})
}

type computedProducer[T any] struct {
	def ComputeCache[T]
}

func (p computedProducer[T]) link(ctx context.Context) error { return p.def.Link(ctx) }
func (computedProducer[T]) persistent() bool                 { return false }

// produce keeps the value in memory. The attempt ID stands in for a content
// hash, so every recompute changes the identity seen by dependents.
func (p computedProducer[T]) produce(ctx context.Context, _ *entry, a *attempt) (content, error) {
	v, err := p.def.Compute(ctx)
	if err != nil {
		return content{}, err
	}

	return content{value: v, hash: a.id}, nil
}

package depcache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// Linker declares dependencies. Link must read, through handles and
// [Param], everything the output depends on. It runs often and must be
// cheap and free of side effects.
type Linker interface {
	Link(ctx context.Context) error
}

// BinaryCache produces a file.
//
// Compute must fully write the artifact at path. The path is a staging
// location that is published atomically after Compute returns nil.
type BinaryCache interface {
	Linker
	Compute(ctx context.Context, path string) error
}

// ObjectCache produces a value that is stored serialized on disk.
// Every read deserializes a fresh copy.
type ObjectCache[T any] interface {
	Linker
	Compute(ctx context.Context) (T, error)
}

// ComputeCache produces a value kept in memory only.
type ComputeCache[T any] interface {
	Linker
	Compute(ctx context.Context) (T, error)
}

// LazyCache produces a value at most once per process and never
// re-evaluates it.
type LazyCache[T any] interface {
	Compute(ctx context.Context) (T, error)
}

// DownloadCache mirrors the resource at URI into a file.
// It may also implement [Linker] to declare extra dependencies.
type DownloadCache interface {
	URI() string
}

// Versioned definitions select a disjoint storage location per version.
// Definitions that do not implement it have version 0.
type Versioned interface {
	Version() int
}

// Configured definitions override the default [CachingOptions].
type Configured interface {
	Caching() CachingOptions
}

func versionOf(def any) int {
	if v, ok := def.(Versioned); ok {
		return v.Version()
	}

	return 0
}

func cachingOf(def any) CachingOptions {
	if c, ok := def.(Configured); ok {
		return c.Caching()
	}

	return CachingOptions{}
}

// identity is the resolved naming of one definition.
type identity struct {
	name string // human-readable, from String() or %+v
	id   string // storage key, <TypeName>/<hash of name and version>
}

func identityOf(def any) (identity, error) {
	v := reflect.ValueOf(def)
	if !v.IsValid() {
		return identity{}, fmt.Errorf("%w: nil", ErrInvalidDefinition)
	}

	if !v.Type().Comparable() {
		return identity{}, fmt.Errorf("%w: %T is not comparable", ErrInvalidDefinition, def)
	}

	if v.Kind() == reflect.Pointer && v.IsNil() {
		return identity{}, fmt.Errorf("%w: nil %T", ErrInvalidDefinition, def)
	}

	t := v.Type()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	typeName := sanitize(t.Name())

	var name string

	if s, ok := def.(fmt.Stringer); ok {
		name = s.String()
	} else {
		name = fmt.Sprintf("%s%+v", typeName, reflect.Indirect(v).Interface())
	}

	sum := sha256.Sum256(fmt.Appendf(nil, "%s\nversion %d", name, versionOf(def)))

	return identity{
		name: name,
		id:   typeName + "/" + base64.RawURLEncoding.EncodeToString(sum[:12]),
	}, nil
}

func sanitize(name string) string {
	if name == "" {
		return "anonymous"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

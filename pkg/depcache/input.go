package depcache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Fingerprint summarizes the dependency state seen by one Link run.
// Fingerprints are only ever compared for equality.
type Fingerprint string

// Input records what one Link run read: dependency snapshots and named
// parameters. After freeze it is read-only and serves the same values to
// Compute.
type Input struct {
	mu           sync.Mutex
	frozen       bool
	inconsistent bool
	params       map[string]param
	deps         map[*entry]*Snapshot
	order        []*entry
	suspension   *SuspendedError
	violation    error
	fingerprint  Fingerprint
}

type param struct {
	value any
	text  string
}

func newInput() *Input {
	return &Input{
		params: map[string]param{},
		deps:   map[*entry]*Snapshot{},
	}
}

// dependency records s as the snapshot of ent unless one is recorded already,
// and returns the recorded snapshot. Frozen inputs only answer lookups.
func (in *Input) dependency(ent *entry, s *Snapshot) (*Snapshot, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if prev, ok := in.deps[ent]; ok {
		return prev, nil
	}

	if in.frozen {
		err := fmt.Errorf("%w: %s", ErrUndeclaredDependency, ent.name)
		if in.violation == nil {
			in.violation = err
		}

		return nil, err
	}

	in.deps[ent] = s
	in.order = append(in.order, ent)

	return s, nil
}

func (in *Input) suspend(err *SuspendedError) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.suspension == nil {
		in.suspension = err
	}
}

func (in *Input) freeze() Fingerprint {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.frozen {
		return in.fingerprint
	}

	lines := make([]string, 0, len(in.params)+len(in.deps))

	for key, p := range in.params {
		lines = append(lines, "param "+key+" = "+p.text)
	}

	for ent, s := range in.deps {
		id := "empty"
		if s != nil {
			id = s.identity()
		}

		lines = append(lines, "cache "+ent.id+" = "+id)
	}

	slices.Sort(lines)

	var b strings.Builder

	if in.inconsistent {
		b.WriteString("[inconsistent]\n")
	}

	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	in.fingerprint = Fingerprint(base64.RawURLEncoding.EncodeToString(sum[:]))
	in.frozen = true

	return in.fingerprint
}

func (in *Input) dependencies() []*entry {
	in.mu.Lock()
	defer in.mu.Unlock()

	return slices.Clone(in.order)
}

func (in *Input) err() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.violation
}

type scopeKind int

const (
	// capturePassive records dependencies without triggering them.
	capturePassive scopeKind = iota
	// captureActive records dependencies and runs their staleness triggers.
	captureActive
	// computing serves the frozen input to Compute.
	computing
)

type scope struct {
	kind  scopeKind
	input *Input
	memo  *captureMemo
}

type scopeKey struct{}

func withScope(ctx context.Context, s *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)

	return s
}

// Param records a named input parameter. Inside Link, supply is called once
// and its result, formatted with %v, becomes part of the fingerprint. Inside
// Compute the value recorded by Link is returned. Outside both, Param just
// returns supply().
//
// Reading a parameter in Compute that Link did not record fails the attempt
// with [ErrUndeclaredDependency].
func Param[T any](ctx context.Context, key string, supply func() T) T {
	s := scopeFrom(ctx)
	if s == nil {
		return supply()
	}

	in := s.input

	in.mu.Lock()
	p, ok := in.params[key]
	in.mu.Unlock()

	if ok {
		v, _ := p.value.(T)

		return v
	}

	// supply may itself read dependencies, so it runs unlocked.
	value := supply()

	in.mu.Lock()
	defer in.mu.Unlock()

	if p, ok := in.params[key]; ok {
		v, _ := p.value.(T)

		return v
	}

	if in.frozen {
		if in.violation == nil {
			in.violation = fmt.Errorf("%w: parameter %q", ErrUndeclaredDependency, key)
		}

		return value
	}

	in.params[key] = param{value: value, text: fmt.Sprint(value)}

	return value
}

// SetParam records a parameter value directly. Recording a different value
// for a key already present marks the input inconsistent, which changes its
// fingerprint.
func SetParam(ctx context.Context, key string, value any) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}

	in := s.input

	in.mu.Lock()
	defer in.mu.Unlock()

	text := fmt.Sprint(value)

	if p, ok := in.params[key]; ok {
		if p.text != text && !in.frozen {
			in.inconsistent = true
		}

		return
	}

	if in.frozen {
		if in.violation == nil {
			in.violation = fmt.Errorf("%w: parameter %q", ErrUndeclaredDependency, key)
		}

		return
	}

	in.params[key] = param{value: value, text: text}
}

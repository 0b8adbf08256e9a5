// Package codec serializes values into self-describing, type-tagged envelopes.
//
// A [Registry] holds an append-only list of [Configurer] callbacks and a
// version counter that is bumped on every registration. Codecs are built by
// replaying all callbacks in registration order and are pooled: each worker
// checks one out with [Registry.Acquire], uses it exclusively, and returns it
// with [Registry.Release]. A codec built against an older version is rebuilt
// on its next checkout, so new registrations take effect without blocking
// serializations already in flight.
//
// # Wire Format
//
// Every envelope is a JSON object carrying the full type identity of the
// stored value (package path plus type name), never a numeric type code:
//
//	{"type":"example.com/pkg.Point","value":{"X":1,"Y":2}}
//	{"type":"example.com/pkg.Blob","data":"<base64 custom serializer output>"}
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformed indicates the input is not a codec envelope.
	ErrMalformed = errors.New("codec: malformed envelope")

	// ErrTypeMismatch indicates the stored type cannot be assigned to the target.
	ErrTypeMismatch = errors.New("codec: type mismatch")

	// ErrUnknownType indicates an interface target met a type name that no
	// configurer registered.
	//
	// Recovery: register the concrete type with [Codec.Register].
	ErrUnknownType = errors.New("codec: unknown type")

	// ErrInvalidTarget indicates Unmarshal was given a nil or non-pointer target.
	//
	// This is a programming error.
	ErrInvalidTarget = errors.New("codec: target must be a non-nil pointer")

	// ErrNilValue indicates an attempt to marshal an untyped nil.
	ErrNilValue = errors.New("codec: cannot marshal nil")
)

// Serializer encodes values of one concrete type into bytes and back.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Codec is one configured serializer instance.
//
// A Codec is not safe for concurrent use. Obtain one per goroutine from
// [Registry.Acquire].
type Codec struct {
	version     uint64
	types       map[string]reflect.Type
	serializers map[reflect.Type]Serializer
}

func newCodec(version uint64) *Codec {
	return &Codec{
		version:     version,
		types:       map[string]reflect.Type{},
		serializers: map[reflect.Type]Serializer{},
	}
}

// Version returns the registry version this codec was built against.
func (c *Codec) Version() uint64 {
	return c.version
}

// Register makes the concrete type of prototype decodable into interface targets.
func (c *Codec) Register(prototype any) {
	t := reflect.TypeOf(prototype)
	if t == nil {
		return
	}

	c.types[TypeName(t)] = t
}

// AddSerializer routes values of prototype's concrete type through s.
// The type is registered as well.
func (c *Codec) AddSerializer(prototype any, s Serializer) {
	t := reflect.TypeOf(prototype)
	if t == nil {
		return
	}

	c.types[TypeName(t)] = t
	c.serializers[t] = s
}

type envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
	Data  []byte          `json:"data,omitempty"`
}

// Marshal encodes v into a type-tagged envelope.
func (c *Codec) Marshal(v any) ([]byte, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, ErrNilValue
	}

	env := envelope{Type: TypeName(t)}

	if s, ok := c.serializers[t]; ok {
		data, err := s.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("codec: encode %s: %w", env.Type, err)
		}

		env.Data = data
	} else {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("codec: encode %s: %w", env.Type, err)
		}

		env.Value = raw
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("codec: encode envelope: %w", err)
	}

	return out, nil
}

// Unmarshal decodes an envelope into target, which must be a non-nil pointer.
//
// If target points to a concrete type, the stored type name must match it.
// If target points to an interface, the stored type must have been registered
// and must implement that interface.
func (c *Codec) Unmarshal(data []byte, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidTarget
	}

	if !gjson.ValidBytes(data) {
		return ErrMalformed
	}

	name := gjson.GetBytes(data, "type")
	if name.Type != gjson.String {
		return ErrMalformed
	}

	want := rv.Elem().Type()
	t := want

	if TypeName(want) != name.Str {
		if want.Kind() != reflect.Interface {
			return fmt.Errorf("%w: stored %s, target %s", ErrTypeMismatch, name.Str, TypeName(want))
		}

		registered, ok := c.types[name.Str]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownType, name.Str)
		}

		if !registered.AssignableTo(want) {
			return fmt.Errorf("%w: stored %s, target %s", ErrTypeMismatch, name.Str, TypeName(want))
		}

		t = registered
	}

	value, err := c.decode(t, data)
	if err != nil {
		return fmt.Errorf("codec: decode %s: %w", name.Str, err)
	}

	rv.Elem().Set(value)

	return nil
}

func (c *Codec) decode(t reflect.Type, data []byte) (reflect.Value, error) {
	if s, ok := c.serializers[t]; ok {
		raw, err := base64.StdEncoding.DecodeString(gjson.GetBytes(data, "data").Str)
		if err != nil {
			return reflect.Value{}, err
		}

		v, err := s.Decode(raw)
		if err != nil {
			return reflect.Value{}, err
		}

		out := reflect.ValueOf(v)
		if !out.IsValid() || !out.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%w: serializer returned %T", ErrTypeMismatch, v)
		}

		return out, nil
	}

	ptr := reflect.New(t)

	raw := gjson.GetBytes(data, "value")
	if raw.Exists() {
		err := json.Unmarshal([]byte(raw.Raw), ptr.Interface())
		if err != nil {
			return reflect.Value{}, err
		}
	}

	return ptr.Elem(), nil
}

// TypeName returns the full identity of t, qualifying every named type
// with its package path.
func TypeName(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}

		return t.PkgPath() + "." + t.Name()
	}

	switch t.Kind() {
	case reflect.Pointer:
		return "*" + TypeName(t.Elem())
	case reflect.Slice:
		return "[]" + TypeName(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + TypeName(t.Elem())
	case reflect.Map:
		return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
	default:
		return t.String()
	}
}

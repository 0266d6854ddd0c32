package payload

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes one payload type under a stable string tag. The tag is
// persisted alongside every workflow instance, so it must stay identical
// across releases for as long as instances of that type can be resumed.
type Codec interface {
	// Tag returns the stable identifier stored with the instance.
	Tag() string

	// Marshal serializes a payload value of this codec's type.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a payload value of this
	// codec's type.
	Unmarshal(data []byte) (any, error)

	// GoType returns the Go type this codec serializes.
	GoType() reflect.Type

	// Zero returns a zero value of this codec's type.
	Zero() any
}

// JSONCodec serializes payloads of type T with encoding/json.
type JSONCodec[T any] struct {
	tag string
}

// NewJSONCodec creates a JSON codec for T under the given tag.
func NewJSONCodec[T any](tag string) JSONCodec[T] {
	return JSONCodec[T]{tag: tag}
}

// Tag implements Codec.
func (c JSONCodec[T]) Tag() string { return c.tag }

// Marshal implements Codec. The value must be a T (or *T).
func (c JSONCodec[T]) Marshal(v any) ([]byte, error) {
	t, err := assertPayload[T](c.tag, v)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal %q: %w", c.tag, err)
	}
	return data, nil
}

// Unmarshal implements Codec and returns a value of type T.
func (c JSONCodec[T]) Unmarshal(data []byte) (any, error) {
	var t T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("payload: unmarshal %q: %w", c.tag, err)
		}
	}
	return t, nil
}

// GoType implements Codec.
func (c JSONCodec[T]) GoType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Zero implements Codec.
func (c JSONCodec[T]) Zero() any {
	var t T
	return t
}

// MsgpackCodec serializes payloads of type T with msgpack, for hosts that
// prefer a compact binary encoding over JSON.
type MsgpackCodec[T any] struct {
	tag string
}

// NewMsgpackCodec creates a msgpack codec for T under the given tag.
func NewMsgpackCodec[T any](tag string) MsgpackCodec[T] {
	return MsgpackCodec[T]{tag: tag}
}

// Tag implements Codec.
func (c MsgpackCodec[T]) Tag() string { return c.tag }

// Marshal implements Codec. The value must be a T (or *T).
func (c MsgpackCodec[T]) Marshal(v any) ([]byte, error) {
	t, err := assertPayload[T](c.tag, v)
	if err != nil {
		return nil, err
	}

	data, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal %q: %w", c.tag, err)
	}
	return data, nil
}

// Unmarshal implements Codec and returns a value of type T.
func (c MsgpackCodec[T]) Unmarshal(data []byte) (any, error) {
	var t T
	if len(data) > 0 {
		if err := msgpack.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("payload: unmarshal %q: %w", c.tag, err)
		}
	}
	return t, nil
}

// GoType implements Codec.
func (c MsgpackCodec[T]) GoType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Zero implements Codec.
func (c MsgpackCodec[T]) Zero() any {
	var t T
	return t
}

// assertPayload narrows a type-erased value to T, accepting both T and *T.
func assertPayload[T any](tag string, v any) (T, error) {
	switch t := v.(type) {
	case T:
		return t, nil
	case *T:
		return *t, nil
	default:
		var zero T
		return zero, fmt.Errorf("payload: codec %q cannot serialize %T", tag, v)
	}
}

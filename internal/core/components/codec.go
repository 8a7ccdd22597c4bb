package components

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

// Codec is the typed half of a Serializer.
type Codec[T any] interface {
	Encode(model T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// typed adapts a Codec to the untyped Serializer. The type assertion in
// Serialize is the only dynamic check on the write path.
type typed[T any] struct {
	codec Codec[T]
}

func (s typed[T]) Serialize(model any) ([]byte, error) {
	switch m := model.(type) {
	case T:
		return s.codec.Encode(m)
	case *T:
		if m == nil {
			return nil, fmt.Errorf("%w: nil %T", ErrInvalidSerializer, model)
		}
		return s.codec.Encode(*m)
	default:
		var zero T
		return nil, fmt.Errorf("%w: got %T, want %T", ErrInvalidSerializer, model, zero)
	}
}

func (s typed[T]) Deserialize(data []byte) (any, error) {
	return s.codec.Decode(data)
}

// NewSerializer wraps a typed codec.
func NewSerializer[T any](codec Codec[T]) Serializer {
	return typed[T]{codec: codec}
}

// Register binds a typed codec to id.
func Register[T any](r *Registry, id crdt.ComponentID, name string, codec Codec[T]) error {
	if codec == nil {
		return fmt.Errorf("%w: component %d (%s)", ErrInvalidSerializer, id, name)
	}
	return r.Register(id, name, NewSerializer(codec))
}

// Decode deserializes data with the serializer registered for id and asserts its type.
func Decode[T any](r *Registry, id crdt.ComponentID, data []byte) (T, error) {
	var zero T
	b, err := r.Lookup(id)
	if err != nil {
		return zero, err
	}
	model, err := b.Serializer.Deserialize(data)
	if err != nil {
		return zero, err
	}
	typedModel, ok := model.(T)
	if !ok {
		return zero, fmt.Errorf("%w: component %d decodes to %T", ErrInvalidSerializer, id, model)
	}
	return typedModel, nil
}

// JSONCodec encodes models as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(model T) ([]byte, error) {
	return json.Marshal(model)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var model T
	err := json.Unmarshal(data, &model)
	return model, err
}

// BinaryCodec encodes fixed-size models in little endian.
type BinaryCodec[T any] struct{}

func (BinaryCodec[T]) Encode(model T) ([]byte, error) {
	size := binary.Size(model)
	if size < 0 {
		return nil, fmt.Errorf("%w: %T is not fixed-size", ErrInvalidSerializer, model)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, model); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (BinaryCodec[T]) Decode(data []byte) (T, error) {
	var model T
	if size := binary.Size(model); size != len(data) {
		return model, fmt.Errorf("binary payload is %d bytes, %T needs %d", len(data), model, size)
	}
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &model)
	return model, err
}

// RawCodec passes payload bytes through untouched.
type RawCodec struct{}

func (RawCodec) Encode(model []byte) ([]byte, error) {
	return bytes.Clone(model), nil
}

func (RawCodec) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

package components

import (
	"errors"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

// Component kinds every world understands.
const (
	TransformID     crdt.ComponentID = 1
	NameID          crdt.ComponentID = 2
	PointerEventsID crdt.ComponentID = 3
)

type Vector3 struct {
	X, Y, Z float32
}

type Quaternion struct {
	X, Y, Z, W float32
}

type Transform struct {
	Position Vector3
	Rotation Quaternion
	Scale    Vector3
}

// IdentityTransform sits at the origin with unit scale.
func IdentityTransform() Transform {
	return Transform{
		Rotation: Quaternion{W: 1},
		Scale:    Vector3{X: 1, Y: 1, Z: 1},
	}
}

type Name struct {
	Value string `json:"value"`
}

// PointerEvent is appended by the host world every time an entity is clicked.
type PointerEvent struct {
	Button    uint8 `json:"button"`
	Tick      int64 `json:"tick"`
	EventType uint8 `json:"event_type"`
}

// RegisterDefaults registers the built-in kinds.
func RegisterDefaults(r *Registry) error {
	return errors.Join(
		Register[Transform](r, TransformID, "transform", BinaryCodec[Transform]{}),
		Register[Name](r, NameID, "name", JSONCodec[Name]{}),
		Register[PointerEvent](r, PointerEventsID, "pointer_events", JSONCodec[PointerEvent]{}),
	)
}

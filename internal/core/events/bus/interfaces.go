package bus

import (
	"fmt"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
)

// Kind selects which handlers receive an Event. AnyKind subscribes to everything.
type Kind uint8

const (
	AnyKind Kind = iota
	EntityCreated
	EntityDestroyed
	ComponentSet
	ComponentRemoved
)

func (k Kind) String() string {
	switch k {
	case AnyKind:
		return "any"
	case EntityCreated:
		return "entity_created"
	case EntityDestroyed:
		return "entity_destroyed"
	case ComponentSet:
		return "component_set"
	case ComponentRemoved:
		return "component_removed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event describes one structural change applied to the host world.
//
// Model is set for ComponentSet only and must be treated as read-only.
type Event struct {
	Kind      Kind
	Entity    crdt.Entity
	Handle    hostworld.Handle
	Component crdt.ComponentID
	Model     any
}

// Handler is called synchronously in the publisher goroutine. Handlers run
// while the world lock is held and must not apply buffers themselves.
type Handler func(Event) error

// Observer receives delivery callbacks. Metrics are only collected while at
// least one observer is registered.
type Observer interface {
	OnDelivered(kind Kind, handlers int, err error)
}

type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
}

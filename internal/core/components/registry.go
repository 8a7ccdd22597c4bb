package components

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

var (
	ErrAlreadyRegistered = errors.New("component already registered")
	ErrNotRegistered     = errors.New("component not registered")
	ErrRegistrySealed    = errors.New("component registry is sealed")
	ErrInvalidSerializer = errors.New("invalid serializer")
)

// Serializer converts a component model to protocol payload bytes and back.
// Implementations must be total and free of side effects. Deserialize owns
// the slice it receives; callers never reuse it.
type Serializer interface {
	Serialize(model any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Bridge is everything the bridge knows about one component kind.
type Bridge struct {
	ID         crdt.ComponentID
	Name       string
	Serializer Serializer
}

var _ crdt.ComponentSet = (*Registry)(nil)

// Registry maps component ids to their serializers.
//
// Registration happens while the world is being set up. Seal freezes the
// registry; lookups after that never take the lock.
type Registry struct {
	mu      sync.RWMutex
	sealed  bool
	bridges map[crdt.ComponentID]Bridge
}

func NewRegistry() *Registry {
	return &Registry{bridges: make(map[crdt.ComponentID]Bridge)}
}

func (r *Registry) Register(id crdt.ComponentID, name string, serializer Serializer) error {
	if serializer == nil {
		return fmt.Errorf("%w: component %d (%s)", ErrInvalidSerializer, id, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: component %d (%s)", ErrRegistrySealed, id, name)
	}
	if existing, ok := r.bridges[id]; ok {
		return fmt.Errorf("%w: component %d (%s) is taken by %s", ErrAlreadyRegistered, id, name, existing.Name)
	}
	r.bridges[id] = Bridge{ID: id, Name: name, Serializer: serializer}
	return nil
}

// MustRegister panics on a setup error.
func (r *Registry) MustRegister(id crdt.ComponentID, name string, serializer Serializer) {
	if err := r.Register(id, name, serializer); err != nil {
		panic(err)
	}
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Get(id crdt.ComponentID) (Bridge, bool) {
	if !r.Sealed() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	b, ok := r.bridges[id]
	return b, ok
}

// Lookup is Get returning ErrNotRegistered for unknown ids.
func (r *Registry) Lookup(id crdt.ComponentID) (Bridge, error) {
	b, ok := r.Get(id)
	if !ok {
		return Bridge{}, fmt.Errorf("%w: component %d", ErrNotRegistered, id)
	}
	return b, nil
}

// MustGet panics for unknown ids: asking for one is a programming error.
func (r *Registry) MustGet(id crdt.ComponentID) Bridge {
	b, err := r.Lookup(id)
	if err != nil {
		panic(err)
	}
	return b
}

func (r *Registry) Contains(id crdt.ComponentID) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []crdt.ComponentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]crdt.ComponentID, 0, len(r.bridges))
	for id := range r.bridges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

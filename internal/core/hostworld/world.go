package hostworld

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

var ErrStaleHandle = errors.New("stale entity handle")

// Handle identifies an entity of the host world. A destroyed handle never
// becomes valid again, even when its index is reused.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

// World is the part of the host ECS the synchronizer writes to.
type World interface {
	Create() Handle
	Destroy(h Handle) error
	Set(h Handle, component crdt.ComponentID, model any) error
	Remove(h Handle, component crdt.ComponentID) error
}

var _ World = (*Store)(nil)

type slot struct {
	generation uint32
	alive      bool
	components map[crdt.ComponentID]any
}

// Store is an in-memory World.
type Store struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	alive int
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Create() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alive++
	if n := len(s.free); n > 0 {
		index := s.free[n-1]
		s.free = s.free[:n-1]
		sl := &s.slots[index]
		sl.alive = true
		return Handle{Index: index, Generation: sl.generation}
	}

	s.slots = append(s.slots, slot{alive: true, components: make(map[crdt.ComponentID]any)})
	return Handle{Index: uint32(len(s.slots) - 1)}
}

func (s *Store) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(h)
	if err != nil {
		return err
	}
	sl.alive = false
	sl.generation++
	clear(sl.components)
	s.free = append(s.free, h.Index)
	s.alive--
	return nil
}

func (s *Store) Set(h Handle, component crdt.ComponentID, model any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(h)
	if err != nil {
		return err
	}
	sl.components[component] = model
	return nil
}

// Remove is a no-op for components the entity does not have.
func (s *Store) Remove(h Handle, component crdt.ComponentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(h)
	if err != nil {
		return err
	}
	delete(sl.components, component)
	return nil
}

func (s *Store) Get(h Handle, component crdt.ComponentID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, err := s.slot(h)
	if err != nil {
		return nil, false
	}
	model, ok := sl.components[component]
	return model, ok
}

func (s *Store) Has(h Handle, component crdt.ComponentID) bool {
	_, ok := s.Get(h, component)
	return ok
}

// Components lists the kinds attached to h in ascending order.
func (s *Store) Components(h Handle) []crdt.ComponentID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, err := s.slot(h)
	if err != nil {
		return nil
	}
	return slices.Sorted(maps.Keys(sl.components))
}

func (s *Store) Alive(h Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.slot(h)
	return err == nil
}

// Len is the number of live entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

func (s *Store) slot(h Handle) (*slot, error) {
	if int(h.Index) >= len(s.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	sl := &s.slots[h.Index]
	if !sl.alive || sl.generation != h.Generation {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return sl, nil
}

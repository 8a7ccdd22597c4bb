package worldsync

import (
	"fmt"
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/events/bus"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
)

type Option func(*Synchronizer)

func WithLogger(logger log.Log) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorldLock makes Apply hold locker, the lock every other host world writer takes.
func WithWorldLock(locker sync.Locker) Option {
	return func(s *Synchronizer) {
		if locker != nil {
			s.worldLock = locker
		}
	}
}

// WithReservedEntities lists entities owned by the host itself; staged
// components for them are never applied.
func WithReservedEntities(entities ...crdt.Entity) Option {
	return func(s *Synchronizer) {
		for _, e := range entities {
			s.reserved[e] = struct{}{}
		}
	}
}

func WithPool(pool *CollectionsPool) Option {
	return func(s *Synchronizer) {
		if pool != nil {
			s.pool = pool
		}
	}
}

// WithEvents publishes every applied change to b.
func WithEvents(b *bus.Bus) Option {
	return func(s *Synchronizer) {
		s.events = b
	}
}

// Synchronizer owns the single in-flight buffer of a world and applies
// finalized buffers to it.
type Synchronizer struct {
	world     hostworld.World
	registry  *components.Registry
	pool      *CollectionsPool
	logger    log.Log
	worldLock sync.Locker
	reserved  map[crdt.Entity]struct{}
	events    *bus.Bus

	rentMu sync.Mutex
	rented *SyncCommandBuffer

	mapMu    sync.RWMutex
	entities map[crdt.Entity]hostworld.Handle
}

func NewSynchronizer(world hostworld.World, registry *components.Registry, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		world:     world,
		registry:  registry,
		logger:    log.NewNop(),
		worldLock: &sync.Mutex{},
		reserved:  make(map[crdt.Entity]struct{}),
		entities:  make(map[crdt.Entity]hostworld.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewCollectionsPool()
	}
	return s
}

// GetSyncCommandBuffer rents the buffer of this world. It fails with
// ErrSyncBufferRented while the previous buffer has not been released.
func (s *Synchronizer) GetSyncCommandBuffer() (*SyncCommandBuffer, error) {
	s.rentMu.Lock()
	defer s.rentMu.Unlock()

	if s.rented != nil {
		return nil, ErrSyncBufferRented
	}

	batches, err := s.pool.GetMainDictionary()
	if err != nil {
		return nil, fmt.Errorf("rent batch states: %w", err)
	}
	deleted, err := s.pool.GetDeletedEntities()
	if err != nil {
		_ = s.pool.ReleaseMainDictionary(batches)
		return nil, fmt.Errorf("rent deleted entities: %w", err)
	}

	s.rented = &SyncCommandBuffer{
		owner:    s,
		registry: s.registry,
		logger:   s.logger,
		batches:  batches,
		deleted:  deleted,
	}
	return s.rented, nil
}

// ApplySyncCommandBuffer writes a finalized buffer to the host world and
// releases it. Deletions go first. Host world failures are logged and only
// skip the failing operation.
func (s *Synchronizer) ApplySyncCommandBuffer(buf *SyncCommandBuffer) error {
	if buf == nil || buf.owner != s {
		return ErrForeignBuffer
	}
	if buf.released {
		return ErrBufferReleased
	}
	defer buf.Release()

	if !buf.finalized {
		return ErrBufferNotFinalized
	}

	s.worldLock.Lock()
	defer s.worldLock.Unlock()

	for _, entity := range buf.deleted.All() {
		s.destroy(entity)
	}

	for _, entity := range buf.batches.Entities() {
		if _, ok := s.reserved[entity]; ok {
			s.logger.Debug("Skipping reserved entity", log.Stringer("entity", entity))
			continue
		}
		s.applyBatch(entity, buf.batches.Batch(entity))
	}
	return nil
}

// TryGetHandle returns the host handle mapped to entity.
func (s *Synchronizer) TryGetHandle(entity crdt.Entity) (hostworld.Handle, bool) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	h, ok := s.entities[entity]
	return h, ok
}

// MappedEntities is the number of entities that have a host handle.
func (s *Synchronizer) MappedEntities() int {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	return len(s.entities)
}

func (s *Synchronizer) releaseRental(buf *SyncCommandBuffer) {
	s.rentMu.Lock()
	if s.rented == buf {
		s.rented = nil
	}
	s.rentMu.Unlock()
}

func (s *Synchronizer) destroy(entity crdt.Entity) {
	h, ok := s.TryGetHandle(entity)
	if !ok {
		return
	}

	s.mapMu.Lock()
	delete(s.entities, entity)
	s.mapMu.Unlock()

	if err := s.world.Destroy(h); err != nil {
		s.logger.Warn("Failed to destroy entity",
			log.Stringer("entity", entity),
			log.Stringer("handle", h),
			log.Error(err),
		)
		return
	}
	s.publish(bus.Event{Kind: bus.EntityDestroyed, Entity: entity, Handle: h})
}

func (s *Synchronizer) applyBatch(entity crdt.Entity, batch []*BatchState) {
	h, ok := s.TryGetHandle(entity)
	if !ok {
		if !hasUpserts(batch) {
			return
		}
		h = s.world.Create()
		s.mapMu.Lock()
		s.entities[entity] = h
		s.mapMu.Unlock()
		s.publish(bus.Event{Kind: bus.EntityCreated, Entity: entity, Handle: h})
	}

	for _, state := range batch {
		var (
			err  error
			kind bus.Kind
		)
		switch state.Last {
		case crdt.ComponentAdded, crdt.ComponentModified:
			kind = bus.ComponentSet
			err = s.world.Set(h, state.Component, state.Model)
		case crdt.ComponentDeleted:
			kind = bus.ComponentRemoved
			err = s.world.Remove(h, state.Component)
		default:
			continue
		}
		if err != nil {
			s.logger.Warn("Failed to apply component",
				log.Stringer("entity", entity),
				log.Stringer("handle", h),
				log.Int32("component", int32(state.Component)),
				log.Stringer("effect", state.Last),
				log.Error(err),
			)
			continue
		}

		event := bus.Event{Kind: kind, Entity: entity, Handle: h, Component: state.Component}
		if kind == bus.ComponentSet {
			event.Model = state.Model
		}
		s.publish(event)
	}
}

func (s *Synchronizer) publish(event bus.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(event); err != nil {
		s.logger.Warn("World event handler failed",
			log.Stringer("kind", event.Kind),
			log.Stringer("entity", event.Entity),
			log.Error(err),
		)
	}
}

func hasUpserts(batch []*BatchState) bool {
	for _, state := range batch {
		if state.Last == crdt.ComponentAdded || state.Last == crdt.ComponentModified {
			return true
		}
	}
	return false
}

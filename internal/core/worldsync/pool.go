package worldsync

import (
	"cmp"
	"slices"
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/pkg/generic"
)

// BatchState is what one staging cycle did to an (entity, component) pair.
//
// First and Last are the effects of the first and the last staged message.
// After Finalize both hold the merged effect, and Model holds the decoded
// last payload for additions and modifications.
type BatchState struct {
	Component crdt.ComponentID
	First     crdt.ReconciliationEffect
	Last      crdt.ReconciliationEffect
	Payload   []byte
	Model     any

	bridge components.Bridge
}

func (s *BatchState) reset() {
	payload := s.Payload[:0]
	*s = BatchState{Payload: payload}
}

type componentBatch = map[crdt.ComponentID]*BatchState

// BatchStates is the main dictionary: entity -> component -> BatchState.
type BatchStates struct {
	pool     *CollectionsPool
	entities map[crdt.Entity]componentBatch
}

func (b *BatchStates) Len() int {
	return len(b.entities)
}

func (b *BatchStates) Get(entity crdt.Entity, component crdt.ComponentID) (*BatchState, bool) {
	state, ok := b.entities[entity][component]
	return state, ok
}

// Entities lists the staged entities in ascending order.
func (b *BatchStates) Entities() []crdt.Entity {
	out := make([]crdt.Entity, 0, len(b.entities))
	for entity := range b.entities {
		out = append(out, entity)
	}
	slices.Sort(out)
	return out
}

// Batch lists the staged components of entity ordered by component id.
func (b *BatchStates) Batch(entity crdt.Entity) []*BatchState {
	batch := b.entities[entity]
	out := make([]*BatchState, 0, len(batch))
	for _, state := range batch {
		out = append(out, state)
	}
	slices.SortFunc(out, func(x, y *BatchState) int {
		return cmp.Compare(x.Component, y.Component)
	})
	return out
}

func (b *BatchStates) stage(entity crdt.Entity, component crdt.ComponentID) (*BatchState, bool) {
	batch, ok := b.entities[entity]
	if !ok {
		batch = b.pool.getInner()
		b.entities[entity] = batch
	} else if state, ok := batch[component]; ok {
		return state, false
	}

	state := b.pool.states.Get()
	state.Component = component
	batch[component] = state
	return state, true
}

func (b *BatchStates) dropEntity(entity crdt.Entity) {
	if batch, ok := b.entities[entity]; ok {
		b.pool.releaseInner(batch)
		delete(b.entities, entity)
	}
}

func (b *BatchStates) clear() {
	for _, batch := range b.entities {
		b.pool.releaseInner(batch)
	}
	clear(b.entities)
}

// DeletedEntities is the list of entities deleted during one cycle, in deletion order.
type DeletedEntities struct {
	list []crdt.Entity
	set  map[crdt.Entity]struct{}
}

func (d *DeletedEntities) add(entity crdt.Entity) {
	if _, ok := d.set[entity]; ok {
		return
	}
	d.set[entity] = struct{}{}
	d.list = append(d.list, entity)
}

func (d *DeletedEntities) Contains(entity crdt.Entity) bool {
	_, ok := d.set[entity]
	return ok
}

func (d *DeletedEntities) Len() int {
	return len(d.list)
}

// All returns the backing list; it is only valid until the collection is released.
func (d *DeletedEntities) All() []crdt.Entity {
	return d.list
}

func (d *DeletedEntities) clear() {
	clear(d.list)
	d.list = d.list[:0]
	clear(d.set)
}

type PoolOption func(*CollectionsPool)

// WithPrewarm creates n inner dictionaries up front.
func WithPrewarm(n int) PoolOption {
	return func(p *CollectionsPool) {
		for i := 0; i < n; i++ {
			p.inner = append(p.inner, make(componentBatch))
		}
	}
}

// CollectionsPool keeps the collections of one world between staging cycles.
// Each world owns its own pool; a pool never hands out the same collection twice.
type CollectionsPool struct {
	mu sync.Mutex

	main          *BatchStates
	mainRented    bool
	deleted       *DeletedEntities
	deletedRented bool

	inner  []componentBatch
	states *generic.Pool[*BatchState]
}

func NewCollectionsPool(opts ...PoolOption) *CollectionsPool {
	p := &CollectionsPool{
		deleted: &DeletedEntities{set: make(map[crdt.Entity]struct{})},
		states: generic.NewResetPool(func() *BatchState {
			return &BatchState{}
		}, (*BatchState).reset),
	}
	p.main = &BatchStates{pool: p, entities: make(map[crdt.Entity]componentBatch)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CollectionsPool) GetMainDictionary() (*BatchStates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mainRented {
		return nil, ErrCollectionAlreadyRented
	}
	p.mainRented = true
	return p.main, nil
}

func (p *CollectionsPool) ReleaseMainDictionary(main *BatchStates) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if main != p.main || !p.mainRented {
		return ErrCollectionNotRented
	}
	main.clear()
	p.mainRented = false
	return nil
}

func (p *CollectionsPool) GetDeletedEntities() (*DeletedEntities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deletedRented {
		return nil, ErrCollectionAlreadyRented
	}
	p.deletedRented = true
	return p.deleted, nil
}

func (p *CollectionsPool) ReleaseDeletedEntities(deleted *DeletedEntities) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if deleted != p.deleted || !p.deletedRented {
		return ErrCollectionNotRented
	}
	deleted.clear()
	p.deletedRented = false
	return nil
}

// Inner dictionaries are only touched by the renter of the main dictionary.
func (p *CollectionsPool) getInner() componentBatch {
	if n := len(p.inner); n > 0 {
		batch := p.inner[n-1]
		p.inner = p.inner[:n-1]
		return batch
	}
	return make(componentBatch)
}

func (p *CollectionsPool) releaseInner(batch componentBatch) {
	for _, state := range batch {
		p.states.Put(state)
	}
	clear(batch)
	p.inner = append(p.inner, batch)
}

package worldsync

import (
	"bytes"
	"fmt"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
)

// SyncCommandBuffer stages one batch of reconciled messages for the host world.
//
// Only the synchronizer hands buffers out. A buffer is staged from any single
// goroutine, finalized, and then applied; it must be released on every path,
// usually with defer buf.Release().
type SyncCommandBuffer struct {
	owner    *Synchronizer
	registry *components.Registry
	logger   log.Log

	batches *BatchStates
	deleted *DeletedEntities

	finalized bool
	released  bool
}

// SyncMessage stages msg with the effect ProcessMessage reported for it and
// returns the effect now recorded for (entity, component).
func (b *SyncCommandBuffer) SyncMessage(msg crdt.Message, effect crdt.ReconciliationEffect) (crdt.ReconciliationEffect, error) {
	if err := b.checkStaging(); err != nil {
		return crdt.NoChanges, err
	}

	switch effect {
	case crdt.EntityDeleted:
		b.deleteEntity(msg.Entity)
		return crdt.EntityDeleted, nil
	case crdt.ComponentAdded, crdt.ComponentModified, crdt.ComponentDeleted:
		if err := b.stage(msg.Entity, msg.Component, effect, msg.Data); err != nil {
			return crdt.NoChanges, err
		}
		return effect, nil
	default:
		return effect, nil
	}
}

// StagePut stages a value that replaces whatever the host world holds.
func (b *SyncCommandBuffer) StagePut(entity crdt.Entity, component crdt.ComponentID, payload []byte) error {
	if err := b.checkStaging(); err != nil {
		return err
	}
	return b.stage(entity, component, crdt.ComponentModified, payload)
}

func (b *SyncCommandBuffer) StageAppend(entity crdt.Entity, component crdt.ComponentID, payload []byte) error {
	return b.StagePut(entity, component, payload)
}

func (b *SyncCommandBuffer) StageDelete(entity crdt.Entity, component crdt.ComponentID) error {
	if err := b.checkStaging(); err != nil {
		return err
	}
	return b.stage(entity, component, crdt.ComponentDeleted, nil)
}

func (b *SyncCommandBuffer) StageDeleteEntity(entity crdt.Entity) error {
	if err := b.checkStaging(); err != nil {
		return err
	}
	b.deleteEntity(entity)
	return nil
}

// LastEffect reports the effect recorded for (entity, component), NoChanges
// when nothing is staged.
func (b *SyncCommandBuffer) LastEffect(entity crdt.Entity, component crdt.ComponentID) crdt.ReconciliationEffect {
	if b.released {
		return crdt.NoChanges
	}
	if state, ok := b.batches.Get(entity, component); ok {
		return state.Last
	}
	return crdt.NoChanges
}

// IsEntityDeleted reports whether the buffer deletes entity.
func (b *SyncCommandBuffer) IsEntityDeleted(entity crdt.Entity) bool {
	return !b.released && b.deleted.Contains(entity)
}

func (b *SyncCommandBuffer) Finalized() bool {
	return b.finalized
}

// Finalize merges the staged effects and decodes the last payload of every
// pair that ends up added or modified. Pairs whose payload does not decode
// are dropped from the batch.
func (b *SyncCommandBuffer) Finalize() error {
	if err := b.checkStaging(); err != nil {
		return err
	}

	for entity, batch := range b.batches.entities {
		changed := false
		for _, state := range batch {
			final := mergeEffects(state.First, state.Last)
			if final == crdt.ComponentAdded || final == crdt.ComponentModified {
				// Payload is pooled and reused by the next cycle.
				model, err := state.bridge.Serializer.Deserialize(bytes.Clone(state.Payload))
				if err != nil {
					b.logger.Warn("Failed to deserialize staged component",
						log.Stringer("entity", entity),
						log.String("component", state.bridge.Name),
						log.Error(err),
					)
					final = crdt.NoChanges
				} else {
					state.Model = model
				}
			}
			state.First, state.Last = final, final
			changed = changed || final != crdt.NoChanges
		}
		if !changed {
			b.batches.dropEntity(entity)
		}
	}

	b.finalized = true
	return nil
}

// Release returns the collections to the pool and frees the synchronizer for
// the next buffer. Calling it again is a no-op.
func (b *SyncCommandBuffer) Release() {
	if b.released {
		return
	}
	b.released = true

	if err := b.owner.pool.ReleaseMainDictionary(b.batches); err != nil {
		b.logger.Error("Failed to release batch states", log.Error(err))
	}
	if err := b.owner.pool.ReleaseDeletedEntities(b.deleted); err != nil {
		b.logger.Error("Failed to release deleted entities", log.Error(err))
	}
	b.batches, b.deleted = nil, nil
	b.owner.releaseRental(b)
}

func (b *SyncCommandBuffer) checkStaging() error {
	switch {
	case b.released:
		return ErrBufferReleased
	case b.finalized:
		return ErrBufferFinalized
	default:
		return nil
	}
}

func (b *SyncCommandBuffer) stage(entity crdt.Entity, component crdt.ComponentID, effect crdt.ReconciliationEffect, payload []byte) error {
	bridge, err := b.registry.Lookup(component)
	if err != nil {
		return fmt.Errorf("stage %s: %w", entity, err)
	}

	state, created := b.batches.stage(entity, component)
	if created {
		state.First = effect
		state.bridge = bridge
	}
	state.Last = effect
	state.Payload = append(state.Payload[:0], payload...)
	return nil
}

// Once deleted an entity cannot come back, so its staged components are dropped.
func (b *SyncCommandBuffer) deleteEntity(entity crdt.Entity) {
	b.deleted.add(entity)
	b.batches.dropEntity(entity)
}

// mergeEffects resolves the effect of a whole cycle from its first and last effects.
func mergeEffects(first, last crdt.ReconciliationEffect) crdt.ReconciliationEffect {
	switch first {
	case crdt.ComponentAdded:
		// the component did not exist before the cycle
		if last == crdt.ComponentDeleted {
			return crdt.NoChanges
		}
		return crdt.ComponentAdded
	case crdt.ComponentModified, crdt.ComponentDeleted:
		// the host world may hold the component already
		if last == crdt.ComponentDeleted {
			return crdt.ComponentDeleted
		}
		return crdt.ComponentModified
	default:
		return last
	}
}

package worldsync

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/events/bus"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
)

func applyCycle(t *testing.T, s *Synchronizer, stage func(buf *SyncCommandBuffer)) {
	t.Helper()
	buf, err := s.GetSyncCommandBuffer()
	require.NoError(t, err)
	defer buf.Release()

	stage(buf)
	require.NoError(t, buf.Finalize())
	require.NoError(t, s.ApplySyncCommandBuffer(buf))
}

func TestSynchronizer_SingleOwnerRental(t *testing.T) {
	s := NewSynchronizer(hostworld.NewStore(), newRegistry(t))

	first, err := s.GetSyncCommandBuffer()
	require.NoError(t, err)

	second, err := s.GetSyncCommandBuffer()
	require.ErrorIs(t, err, ErrSyncBufferRented)
	require.Nil(t, second)

	first.Release()

	third, err := s.GetSyncCommandBuffer()
	require.NoError(t, err)
	third.Release()

	first.Release()
	_, err = s.GetSyncCommandBuffer()
	require.NoError(t, err)
}

func TestSynchronizer_ConcurrentRental(t *testing.T) {
	const n = 64
	s := NewSynchronizer(hostworld.NewStore(), newRegistry(t))

	var (
		g       errgroup.Group
		start   = make(chan struct{})
		owners  atomic.Int32
		rented  atomic.Int32
		winners = make(chan *SyncCommandBuffer, n)
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-start
			buf, err := s.GetSyncCommandBuffer()
			switch {
			case err == nil:
				owners.Add(1)
				winners <- buf
				return nil
			case errors.Is(err, ErrSyncBufferRented):
				rented.Add(1)
				return nil
			default:
				return err
			}
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	close(winners)

	require.Equal(t, int32(1), owners.Load())
	require.Equal(t, int32(n-1), rented.Load())

	buf := <-winners
	require.NotNil(t, buf)
	buf.Release()

	next, err := s.GetSyncCommandBuffer()
	require.NoError(t, err)
	next.Release()
}

func TestSynchronizer_ApplyPutTwice(t *testing.T) {
	world := hostworld.NewStore()
	s := NewSynchronizer(world, newRegistry(t))
	entity := crdt.NewEntity(7, 0)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{X: 1})))
	})

	require.Equal(t, 1, world.Len())
	require.Equal(t, 1, s.MappedEntities())
	h, ok := s.TryGetHandle(entity)
	require.True(t, ok)
	model, ok := world.Get(h, positionID)
	require.True(t, ok)
	require.Equal(t, position{X: 1}, model)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{X: 2})))
	})

	require.Equal(t, 1, world.Len())
	again, ok := s.TryGetHandle(entity)
	require.True(t, ok)
	require.Equal(t, h, again)
	model, _ = world.Get(h, positionID)
	require.Equal(t, position{X: 2}, model)
}

func TestSynchronizer_DeleteEntityThenRecreate(t *testing.T) {
	world := hostworld.NewStore()
	s := NewSynchronizer(world, newRegistry(t))
	entity := crdt.NewEntity(7, 0)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{X: 1})))
	})
	old, ok := s.TryGetHandle(entity)
	require.True(t, ok)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StageDeleteEntity(entity))
	})
	require.Zero(t, world.Len())
	require.False(t, world.Alive(old))
	_, ok = s.TryGetHandle(entity)
	require.False(t, ok)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{X: 3})))
	})
	fresh, ok := s.TryGetHandle(entity)
	require.True(t, ok)
	require.NotEqual(t, old, fresh)
	require.True(t, world.Alive(fresh))
	require.False(t, world.Alive(old))
	require.Equal(t, 1, world.Len())
}

func TestSynchronizer_ComponentRemoval(t *testing.T) {
	world := hostworld.NewStore()
	s := NewSynchronizer(world, newRegistry(t))
	entity := crdt.NewEntity(512, 0)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{})))
		require.NoError(t, buf.StagePut(entity, labelID, payload(t, components.Name{Value: "door"})))
	})
	h, _ := s.TryGetHandle(entity)
	require.Equal(t, []crdt.ComponentID{positionID, labelID}, world.Components(h))

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StageDelete(entity, labelID))
	})
	require.Equal(t, []crdt.ComponentID{positionID}, world.Components(h))

	// deletions alone never create an entity
	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StageDelete(crdt.NewEntity(600, 0), labelID))
	})
	require.Equal(t, 1, world.Len())
}

func TestSynchronizer_ReservedEntities(t *testing.T) {
	world := hostworld.NewStore()
	player := crdt.NewEntity(1, 0)
	s := NewSynchronizer(world, newRegistry(t), WithReservedEntities(player))

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(player, positionID, payload(t, position{X: 1})))
		require.NoError(t, buf.StagePut(crdt.NewEntity(512, 0), positionID, payload(t, position{X: 1})))
	})

	_, ok := s.TryGetHandle(player)
	require.False(t, ok)
	require.Equal(t, 1, world.Len())
}

func TestSynchronizer_HostErrorsSkipOnlyTheFailingOperation(t *testing.T) {
	store := hostworld.NewStore()
	s := NewSynchronizer(rejectingWorld{Store: store, reject: labelID}, newRegistry(t))
	e1, e2 := crdt.NewEntity(512, 0), crdt.NewEntity(513, 0)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(e1, labelID, payload(t, components.Name{Value: "x"})))
		require.NoError(t, buf.StagePut(e1, positionID, payload(t, position{X: 1})))
		require.NoError(t, buf.StagePut(e2, positionID, payload(t, position{X: 2})))
	})

	h1, ok := s.TryGetHandle(e1)
	require.True(t, ok)
	require.Equal(t, []crdt.ComponentID{positionID}, store.Components(h1))

	h2, ok := s.TryGetHandle(e2)
	require.True(t, ok)
	require.True(t, store.Has(h2, positionID))
}

func TestSynchronizer_ApplyFaults(t *testing.T) {
	s := NewSynchronizer(hostworld.NewStore(), newRegistry(t))
	other := NewSynchronizer(hostworld.NewStore(), newRegistry(t))

	buf, err := s.GetSyncCommandBuffer()
	require.NoError(t, err)
	require.ErrorIs(t, other.ApplySyncCommandBuffer(buf), ErrForeignBuffer)
	require.ErrorIs(t, other.ApplySyncCommandBuffer(nil), ErrForeignBuffer)

	require.ErrorIs(t, s.ApplySyncCommandBuffer(buf), ErrBufferNotFinalized)
	require.ErrorIs(t, s.ApplySyncCommandBuffer(buf), ErrBufferReleased)

	buf, err = s.GetSyncCommandBuffer()
	require.NoError(t, err)
	buf.Release()
}

func TestSynchronizer_PublishesAppliedChanges(t *testing.T) {
	events := bus.New()
	var kinds []bus.Kind
	events.Subscribe(bus.AnyKind, func(e bus.Event) error {
		kinds = append(kinds, e.Kind)
		return nil
	})

	s := NewSynchronizer(hostworld.NewStore(), newRegistry(t), WithEvents(events))
	entity := crdt.NewEntity(512, 0)

	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StagePut(entity, positionID, payload(t, position{})))
	})
	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StageDelete(entity, positionID))
	})
	applyCycle(t, s, func(buf *SyncCommandBuffer) {
		require.NoError(t, buf.StageDeleteEntity(entity))
	})

	require.Equal(t, []bus.Kind{
		bus.EntityCreated,
		bus.ComponentSet,
		bus.ComponentRemoved,
		bus.EntityDestroyed,
	}, kinds)
}

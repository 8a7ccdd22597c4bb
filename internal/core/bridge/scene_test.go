package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
	"github.com/zeusync/ecsbridge/internal/core/outgoing"
	"github.com/zeusync/ecsbridge/internal/core/worldsync"
)

func newRegistry(t *testing.T) *components.Registry {
	t.Helper()
	r := components.NewRegistry()
	require.NoError(t, components.RegisterDefaults(r))
	r.Seal()
	return r
}

func nameData(t *testing.T, value string) []byte {
	t.Helper()
	data, err := json.Marshal(components.Name{Value: value})
	require.NoError(t, err)
	return data
}

func messagesOf(envelopes []outgoing.Envelope) []crdt.Message {
	out := make([]crdt.Message, len(envelopes))
	for i, env := range envelopes {
		out[i] = env.Message()
	}
	return out
}

func TestScene_SendToRenderer(t *testing.T) {
	world := hostworld.NewStore()
	scene := NewScene(world, newRegistry(t))
	entity := crdt.NewEntity(7, 0)

	out, err := scene.SendToRenderer([]crdt.Message{
		{Type: crdt.MessagePutComponent, Entity: entity, Component: components.NameID, Timestamp: 1, Data: nameData(t, "p1")},
	})
	require.NoError(t, err)
	require.Empty(t, out)

	h, ok := scene.Synchronizer().TryGetHandle(entity)
	require.True(t, ok)
	model, _ := world.Get(h, components.NameID)
	require.Equal(t, components.Name{Value: "p1"}, model)

	_, err = scene.SendToRenderer([]crdt.Message{
		{Type: crdt.MessagePutComponent, Entity: entity, Component: components.NameID, Timestamp: 0, Data: nameData(t, "old")},
		{Type: crdt.MessagePutComponent, Entity: entity, Component: components.NameID, Timestamp: 2, Data: nameData(t, "p2")},
	})
	require.NoError(t, err)

	require.Equal(t, 1, world.Len())
	model, _ = world.Get(h, components.NameID)
	require.Equal(t, components.Name{Value: "p2"}, model)

	_, err = scene.SendToRenderer([]crdt.Message{{Type: crdt.MessageDeleteEntity, Entity: entity}})
	require.NoError(t, err)
	require.Zero(t, world.Len())
	require.Zero(t, scene.Synchronizer().MappedEntities())

	m := scene.Metrics().Snapshot()
	require.Equal(t, uint64(4), m.Processed)
	require.Equal(t, uint64(1), m.Outdated)
	require.Equal(t, uint64(3), m.BatchesApplied)
}

func TestScene_WriterOutputIsDrained(t *testing.T) {
	scene := NewScene(hostworld.NewStore(), newRegistry(t))
	entity := crdt.NewEntity(512, 0)

	effect, err := scene.Writer().PutComponent(entity, components.TransformID, components.IdentityTransform())
	require.NoError(t, err)
	require.Equal(t, crdt.ComponentAdded, effect)

	state, err := scene.GetState()
	require.NoError(t, err)
	require.Len(t, state, 1)

	out, err := scene.SendToRenderer(nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, entity, out[0].Entity)
	require.Equal(t, components.TransformID, out[0].Component)

	out, err = scene.SendToRenderer(nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, uint64(1), scene.Metrics().Snapshot().Outgoing)
}

func TestScene_ReplicasConverge(t *testing.T) {
	registry := newRegistry(t)
	worldA := hostworld.NewStore()
	a := NewScene(worldA, registry)
	b := NewScene(hostworld.NewStore(), registry)
	entity := crdt.NewEntity(512, 0)

	_, err := a.Writer().PutComponent(entity, components.NameID, components.Name{Value: "a"})
	require.NoError(t, err)
	_, err = b.Writer().PutComponent(entity, components.NameID, components.Name{Value: "b"})
	require.NoError(t, err)
	require.NotEqual(t, a.StateDigest(), b.StateDigest())

	fromA, err := a.SendToRenderer(nil)
	require.NoError(t, err)
	fromB, err := b.SendToRenderer(messagesOf(fromA))
	require.NoError(t, err)
	_, err = a.SendToRenderer(messagesOf(fromB))
	require.NoError(t, err)

	require.Equal(t, a.StateDigest(), b.StateDigest())

	h, ok := a.Synchronizer().TryGetHandle(entity)
	require.True(t, ok)
	model, _ := worldA.Get(h, components.NameID)
	require.Equal(t, components.Name{Value: "b"}, model)

	require.Equal(t, uint64(1), a.Metrics().Snapshot().TieBreaks)
	require.Equal(t, uint64(1), b.Metrics().Snapshot().Outdated)
}

func TestScene_Faults(t *testing.T) {
	scene := NewScene(hostworld.NewStore(), newRegistry(t))
	entity := crdt.NewEntity(512, 0)

	_, err := scene.SendToRenderer([]crdt.Message{
		{Type: crdt.MessagePutComponent, Entity: entity, Component: 404, Data: []byte("x")},
	})
	require.ErrorIs(t, err, crdt.ErrUnregisteredComponent)

	held, err := scene.Synchronizer().GetSyncCommandBuffer()
	require.NoError(t, err)
	_, err = scene.SendToRenderer(nil)
	require.ErrorIs(t, err, worldsync.ErrSyncBufferRented)
	require.Equal(t, uint64(1), scene.Metrics().Snapshot().RentalContention)
	held.Release()

	_, err = scene.SendToRenderer(nil)
	require.NoError(t, err)

	scene.Close()
	require.True(t, scene.Closed())
	_, err = scene.SendToRenderer(nil)
	require.ErrorIs(t, err, ErrSceneClosed)
	_, err = scene.GetState()
	require.ErrorIs(t, err, ErrSceneClosed)
}

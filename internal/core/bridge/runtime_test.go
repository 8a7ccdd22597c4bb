package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

func TestRuntime_StartScenesConcurrently(t *testing.T) {
	const n = 300
	registry := newRegistry(t)
	rt := NewRuntime(WithConcurrency(32))
	t.Cleanup(func() { _ = rt.Close() })

	require.NoError(t, rt.StartScenes(context.Background(), n, NewStoreSceneFactory(registry, rt.SceneOptions()...)))

	scenes := rt.Scenes()
	require.Len(t, scenes, n)

	ids := make(map[uuid.UUID]struct{}, n)
	for _, scene := range scenes {
		ids[scene.ID()] = struct{}{}
		found, ok := rt.Scene(scene.ID())
		require.True(t, ok)
		require.Same(t, scene, found)
	}
	require.Len(t, ids, n)

	for i, scene := range scenes {
		_, err := scene.SendToRenderer([]crdt.Message{{
			Type:      crdt.MessagePutComponent,
			Entity:    crdt.NewEntity(uint16(512+i), 0),
			Component: components.NameID,
			Data:      []byte(`{"value":"x"}`),
		}})
		require.NoError(t, err)
		require.Equal(t, 1, scene.Synchronizer().MappedEntities())
	}
	require.Equal(t, uint64(n), rt.Metrics().Snapshot().BatchesApplied)
}

func TestRuntime_StartScenesFailure(t *testing.T) {
	rt := NewRuntime()
	boom := errors.New("boom")
	registry := newRegistry(t)
	healthy := NewStoreSceneFactory(registry)

	err := rt.StartScenes(context.Background(), 10, func(ctx context.Context, index int) (*Scene, error) {
		if index == 4 {
			return nil, boom
		}
		return healthy(ctx, index)
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, rt.Scenes())
}

func TestRuntime_TickAndClose(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.StartScenes(context.Background(), 4, NewStoreSceneFactory(newRegistry(t), rt.SceneOptions()...)))

	var ticks atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := rt.Tick(ctx, 5*time.Millisecond, func(_ context.Context, scene *Scene) error {
		ticks.Add(1)
		_, err := scene.SendToRenderer(nil)
		return err
	})
	require.NoError(t, err)
	require.Positive(t, ticks.Load())

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	for _, scene := range rt.Scenes() {
		require.True(t, scene.Closed())
	}

	err = rt.StartScenes(context.Background(), 1, NewStoreSceneFactory(newRegistry(t)))
	require.ErrorIs(t, err, ErrSceneClosed)
}

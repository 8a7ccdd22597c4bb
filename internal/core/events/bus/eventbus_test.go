package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

type testObserver struct {
	delivered int
	lastErr   error
}

func (o *testObserver) OnDelivered(_ Kind, handlers int, err error) {
	o.delivered += handlers
	o.lastErr = err
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()

	var created, all []Event
	b.Subscribe(EntityCreated, func(e Event) error {
		created = append(created, e)
		return nil
	})
	b.Subscribe(AnyKind, func(e Event) error {
		all = append(all, e)
		return nil
	})

	entity := crdt.NewEntity(512, 0)
	require.NoError(t, b.Publish(Event{Kind: EntityCreated, Entity: entity}))
	require.NoError(t, b.Publish(Event{Kind: ComponentSet, Entity: entity, Component: 1}))

	require.Len(t, created, 1)
	require.Equal(t, entity, created[0].Entity)
	require.Len(t, all, 2)
}

func TestBus_Cancel(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe(ComponentRemoved, func(Event) error {
		calls++
		return nil
	})
	require.Equal(t, 1, b.Subscribers(ComponentRemoved))

	sub.Cancel()
	sub.Cancel()
	require.Zero(t, b.Subscribers(ComponentRemoved))

	require.NoError(t, b.Publish(Event{Kind: ComponentRemoved}))
	require.Zero(t, calls)
}

func TestBus_ErrorsAreJoinedAndObserved(t *testing.T) {
	b := New()
	obs := &testObserver{}

	require.NoError(t, b.Publish(Event{Kind: EntityDestroyed}))
	require.Zero(t, b.Metrics().Published)

	b.AddObserver(obs)
	errA, errB := errors.New("a"), errors.New("b")
	b.Subscribe(EntityDestroyed, func(Event) error { return errA })
	b.Subscribe(EntityDestroyed, func(Event) error { return errB })

	err := b.Publish(Event{Kind: EntityDestroyed})
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)

	m := b.Metrics()
	require.Equal(t, uint64(1), m.Published)
	require.Equal(t, uint64(2), m.DeliveredHandlers)
	require.Equal(t, uint64(1), m.Errors)
	require.Equal(t, 2, obs.delivered)
	require.Error(t, obs.lastErr)

	b.RemoveObserver(obs)
	require.Error(t, b.Publish(Event{Kind: EntityDestroyed}))
	require.Equal(t, uint64(1), b.Metrics().Published)
}

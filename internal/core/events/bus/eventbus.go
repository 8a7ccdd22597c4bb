package bus

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Subscription is returned by Subscribe. Cancel is idempotent.
type Subscription struct {
	id     uuid.UUID
	kind   Kind
	cancel func()
	once   sync.Once
}

func (s *Subscription) ID() uuid.UUID { return s.id }
func (s *Subscription) Kind() Kind    { return s.kind }

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus is a thread-safe in-process fan-out of world change events.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[Kind]map[uuid.UUID]Handler
	observers map[Observer]struct{}
	metrics   Metrics
}

func New() *Bus {
	return &Bus{
		handlers:  make(map[Kind]map[uuid.UUID]Handler),
		observers: make(map[Observer]struct{}),
	}
}

func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uuid.UUID]Handler)
	}
	id := uuid.New()
	b.handlers[kind][id] = handler

	return &Subscription{
		id:   id,
		kind: kind,
		cancel: func() {
			b.mu.Lock()
			delete(b.handlers[kind], id)
			b.mu.Unlock()
		},
	}
}

// Publish delivers event to the handlers of its kind and to AnyKind handlers.
// Handler errors are joined.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[event.Kind])+len(b.handlers[AnyKind]))
	for _, h := range b.handlers[event.Kind] {
		subs = append(subs, h)
	}
	if event.Kind != AnyKind {
		for _, h := range b.handlers[AnyKind] {
			subs = append(subs, h)
		}
	}
	observed := len(b.observers) > 0
	b.mu.RUnlock()

	var all error
	for _, h := range subs {
		if err := h(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	if observed {
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(len(subs))
		if all != nil {
			b.metrics.Errors++
		}
		observers := make([]Observer, 0, len(b.observers))
		for obs := range b.observers {
			observers = append(observers, obs)
		}
		b.mu.Unlock()

		for _, obs := range observers {
			obs.OnDelivered(event.Kind, len(subs), all)
		}
	}
	return all
}

func (b *Bus) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

// Metrics returns a snapshot of the counters.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// Subscribers counts the live handlers of kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

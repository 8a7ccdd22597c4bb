package writer

import (
	"fmt"
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
	"github.com/zeusync/ecsbridge/internal/core/outgoing"
)

type Option func(*Writer)

// WithLocker shares the lock that guards the protocol with the inbound path.
func WithLocker(locker sync.Locker) Option {
	return func(w *Writer) {
		if locker != nil {
			w.locker = locker
		}
	}
}

func WithLogger(logger log.Log) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Writer turns host world component changes into protocol messages. Every
// change is reconciled into the local state first and forwarded to the
// collector only when it changed something.
type Writer struct {
	protocol  *crdt.Protocol
	registry  *components.Registry
	collector *outgoing.Collector
	locker    sync.Locker
	logger    log.Log
}

func New(protocol *crdt.Protocol, registry *components.Registry, collector *outgoing.Collector, opts ...Option) *Writer {
	w := &Writer{
		protocol:  protocol,
		registry:  registry,
		collector: collector,
		locker:    &sync.Mutex{},
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) PutComponent(entity crdt.Entity, component crdt.ComponentID, model any) (crdt.ReconciliationEffect, error) {
	data, err := w.serialize(component, model)
	if err != nil {
		return crdt.NoChanges, err
	}

	w.locker.Lock()
	defer w.locker.Unlock()
	return w.commit(w.protocol.CreatePutMessage(entity, component, data))
}

func (w *Writer) AppendComponent(entity crdt.Entity, component crdt.ComponentID, model any) (crdt.ReconciliationEffect, error) {
	data, err := w.serialize(component, model)
	if err != nil {
		return crdt.NoChanges, err
	}

	w.locker.Lock()
	defer w.locker.Unlock()
	return w.commit(w.protocol.CreateAppendMessage(entity, component, data))
}

func (w *Writer) DeleteComponent(entity crdt.Entity, component crdt.ComponentID) (crdt.ReconciliationEffect, error) {
	if _, err := w.registry.Lookup(component); err != nil {
		return crdt.NoChanges, err
	}

	w.locker.Lock()
	defer w.locker.Unlock()
	return w.commit(w.protocol.CreateDeleteMessage(entity, component))
}

func (w *Writer) DeleteEntity(entity crdt.Entity) (crdt.ReconciliationEffect, error) {
	w.locker.Lock()
	defer w.locker.Unlock()
	return w.commit(w.protocol.CreateDeleteEntityMessage(entity))
}

func (w *Writer) serialize(component crdt.ComponentID, model any) ([]byte, error) {
	bridge, err := w.registry.Lookup(component)
	if err != nil {
		return nil, err
	}
	data, err := bridge.Serializer.Serialize(model)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", bridge.Name, err)
	}
	return data, nil
}

func (w *Writer) commit(msg crdt.ProcessedMessage) (crdt.ReconciliationEffect, error) {
	result, err := w.protocol.ProcessMessage(msg.Message)
	if err != nil {
		return crdt.NoChanges, err
	}
	if !result.Effect.Changed() {
		w.logger.Debug("host change not forwarded",
			log.Stringer("message", msg.Message),
			log.Stringer("state", result.State),
		)
		return crdt.NoChanges, nil
	}
	w.collector.Add(msg)
	return result.Effect, nil
}

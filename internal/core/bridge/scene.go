package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/events/bus"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
	"github.com/zeusync/ecsbridge/internal/core/outgoing"
	"github.com/zeusync/ecsbridge/internal/core/worldsync"
	"github.com/zeusync/ecsbridge/internal/core/writer"
)

var ErrSceneClosed = errors.New("scene is closed")

type sceneOptions struct {
	logger    log.Log
	metrics   *Metrics
	events    *bus.Bus
	worldLock sync.Locker
	reserved  []crdt.Entity
	maxAppend int
	prewarm   int
}

type SceneOption func(*sceneOptions)

func WithLogger(logger log.Log) SceneOption {
	return func(o *sceneOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) SceneOption {
	return func(o *sceneOptions) { o.metrics = metrics }
}

func WithEvents(events *bus.Bus) SceneOption {
	return func(o *sceneOptions) { o.events = events }
}

// WithWorldLock is the lock the host world holds while it mutates entities.
func WithWorldLock(locker sync.Locker) SceneOption {
	return func(o *sceneOptions) { o.worldLock = locker }
}

func WithReservedEntities(entities ...crdt.Entity) SceneOption {
	return func(o *sceneOptions) { o.reserved = append(o.reserved, entities...) }
}

func WithMaxAppendComponents(n int) SceneOption {
	return func(o *sceneOptions) { o.maxAppend = n }
}

func WithPrewarm(n int) SceneOption {
	return func(o *sceneOptions) { o.prewarm = n }
}

// Scene connects one scene runtime with its host world.
//
// Incoming batches go through SendToRenderer; host world changes go through
// Writer and come back out of the next SendToRenderer call.
type Scene struct {
	id     uuid.UUID
	logger log.Log

	protocolMu sync.Mutex
	protocol   *crdt.Protocol

	synchronizer *worldsync.Synchronizer
	collector    *outgoing.Collector
	writer       *writer.Writer
	metrics      *Metrics
	ownsMetrics  bool

	closed atomic.Bool
}

func NewScene(world hostworld.World, registry *components.Registry, opts ...SceneOption) *Scene {
	o := sceneOptions{
		logger:    log.NewNop(),
		maxAppend: crdt.DefaultMaxAppendComponents,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ownsMetrics := o.metrics == nil
	if ownsMetrics {
		o.metrics = NewMetrics()
	}

	id := uuid.New()
	logger := o.logger.With(log.String("scene", id.String()))

	s := &Scene{
		id:          id,
		logger:      logger,
		metrics:     o.metrics,
		ownsMetrics: ownsMetrics,
		protocol: crdt.NewProtocol(
			crdt.WithComponents(registry),
			crdt.WithMaxAppendComponents(o.maxAppend),
		),
		collector: outgoing.NewCollector(),
	}

	syncOpts := []worldsync.Option{
		worldsync.WithLogger(logger),
		worldsync.WithWorldLock(o.worldLock),
		worldsync.WithReservedEntities(o.reserved...),
		worldsync.WithPool(worldsync.NewCollectionsPool(worldsync.WithPrewarm(o.prewarm))),
	}
	if o.events != nil {
		syncOpts = append(syncOpts, worldsync.WithEvents(o.events))
	}
	s.synchronizer = worldsync.NewSynchronizer(world, registry, syncOpts...)
	s.writer = writer.New(s.protocol, registry, s.collector,
		writer.WithLocker(&s.protocolMu),
		writer.WithLogger(logger),
	)
	return s
}

func (s *Scene) ID() uuid.UUID { return s.id }

func (s *Scene) Writer() *writer.Writer { return s.writer }

func (s *Scene) Synchronizer() *worldsync.Synchronizer { return s.synchronizer }

func (s *Scene) Metrics() *Metrics { return s.metrics }

// SendToRenderer reconciles one batch from the scene runtime, applies it to
// the host world and returns what the host world produced since the last call.
//
// It fails with worldsync.ErrSyncBufferRented when another batch of this
// scene is still in flight.
func (s *Scene) SendToRenderer(messages []crdt.Message) ([]outgoing.Envelope, error) {
	if s.closed.Load() {
		return nil, ErrSceneClosed
	}

	buf, err := s.synchronizer.GetSyncCommandBuffer()
	if err != nil {
		if errors.Is(err, worldsync.ErrSyncBufferRented) {
			s.metrics.contended()
		}
		return nil, err
	}
	defer buf.Release()

	if err = s.reconcile(buf, messages); err != nil {
		return nil, err
	}
	if err = buf.Finalize(); err != nil {
		return nil, err
	}
	if err = s.synchronizer.ApplySyncCommandBuffer(buf); err != nil {
		return nil, fmt.Errorf("apply batch: %w", err)
	}
	s.metrics.batchApplied()

	out := s.collector.Drain()
	s.metrics.sent(len(out))
	return out, nil
}

// GetState describes the whole scene state, host world changes included.
func (s *Scene) GetState() ([]crdt.ProcessedMessage, error) {
	if s.closed.Load() {
		return nil, ErrSceneClosed
	}

	s.protocolMu.Lock()
	defer s.protocolMu.Unlock()
	return s.protocol.CurrentState(), nil
}

// StateDigest hashes the scene state; converged replicas share it.
func (s *Scene) StateDigest() uint64 {
	s.protocolMu.Lock()
	defer s.protocolMu.Unlock()
	return s.protocol.StateDigest()
}

// Close stops the scene from accepting batches. Batches in flight finish.
func (s *Scene) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.ownsMetrics {
		if err := s.metrics.Shutdown(context.Background()); err != nil {
			s.logger.Warn("Failed to shut down scene metrics", log.Error(err))
		}
	}
	s.logger.Debug("Scene closed")
}

func (s *Scene) Closed() bool {
	return s.closed.Load()
}

func (s *Scene) reconcile(buf *worldsync.SyncCommandBuffer, messages []crdt.Message) error {
	s.protocolMu.Lock()
	defer s.protocolMu.Unlock()

	for _, msg := range messages {
		result, err := s.protocol.ProcessMessage(msg)
		if err != nil {
			s.logger.Error("Failed to process message", log.Stringer("message", msg), log.Error(err))
			return err
		}
		s.metrics.observe(result)

		if result.Conflict() {
			s.logger.Debug("Message superseded",
				log.Stringer("message", msg),
				log.Stringer("state", result.State),
			)
		}

		if _, err = buf.SyncMessage(msg, result.Effect); err != nil {
			return err
		}
	}
	return nil
}

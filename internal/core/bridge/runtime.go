package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
	"github.com/zeusync/ecsbridge/internal/core/worldsync"
	"github.com/zeusync/ecsbridge/pkg/concurrent"
)

// SceneFactory builds the scene with the given index.
type SceneFactory func(ctx context.Context, index int) (*Scene, error)

// NewStoreSceneFactory gives every scene its own in-memory host world.
func NewStoreSceneFactory(registry *components.Registry, opts ...SceneOption) SceneFactory {
	return func(_ context.Context, _ int) (*Scene, error) {
		return NewScene(hostworld.NewStore(), registry, opts...), nil
	}
}

// TickFunc runs once per scene on every tick.
type TickFunc func(ctx context.Context, scene *Scene) error

type RuntimeOption func(*Runtime)

func WithRuntimeLogger(logger log.Log) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConcurrency bounds how many scenes start or tick at once.
func WithConcurrency(n int) RuntimeOption {
	return func(r *Runtime) {
		r.concurrency = n
	}
}

// Runtime runs many independent scenes side by side.
type Runtime struct {
	logger      log.Log
	metrics     *Metrics
	concurrency int

	mu     sync.RWMutex
	scenes map[uuid.UUID]*Scene
	order  []*Scene
	closed bool
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		logger:  log.NewNop(),
		metrics: NewMetrics(),
		scenes:  make(map[uuid.UUID]*Scene),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics is shared by the scenes created with SceneOptions.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// SceneOptions are the options every scene of this runtime must be built with.
func (r *Runtime) SceneOptions() []SceneOption {
	return []SceneOption{WithLogger(r.logger), WithMetrics(r.metrics)}
}

// StartScenes builds n scenes concurrently. Nothing is registered when one
// of them fails.
func (r *Runtime) StartScenes(ctx context.Context, n int, factory SceneFactory) error {
	if n <= 0 {
		return nil
	}

	scenes, err := concurrent.ParallelMap(ctx, concurrent.Range(n), r.concurrency, func(ctx context.Context, index int) (*Scene, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scene, err := factory(ctx, index)
		if err != nil {
			return nil, fmt.Errorf("start scene %d: %w", index, err)
		}
		return scene, nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		for _, scene := range scenes {
			scene.Close()
		}
		return ErrSceneClosed
	}
	for _, scene := range scenes {
		r.scenes[scene.ID()] = scene
		r.order = append(r.order, scene)
	}

	r.logger.Info("Scenes started", log.Int("count", n), log.Int("total", len(r.order)))
	return nil
}

func (r *Runtime) Scene(id uuid.UUID) (*Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scene, ok := r.scenes[id]
	return scene, ok
}

// Scenes lists the scenes in start order.
func (r *Runtime) Scenes() []*Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Tick runs fn for every scene concurrently each interval until ctx is done.
// A scene whose batch is still in flight is skipped for that tick.
func (r *Runtime) Tick(ctx context.Context, interval time.Duration, fn TickFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := concurrent.Concurrent(ctx, r.Scenes(), r.concurrency, func(ctx context.Context, scene *Scene) error {
				err := fn(ctx, scene)
				if isRetryable(err) {
					return nil
				}
				return err
			})
			if err != nil {
				return err
			}
		}
	}
}

// Close closes every scene.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for _, scene := range r.order {
		scene.Close()
	}
	r.logger.Info("Runtime closed", log.Int("scenes", len(r.order)))

	if err := r.metrics.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shut down metrics: %w", err)
	}
	return nil
}

// Contention and closed scenes skip a tick, they do not stop the loop.
func isRetryable(err error) bool {
	return errors.Is(err, worldsync.ErrSyncBufferRented) || errors.Is(err, ErrSceneClosed)
}

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/ecsbridge/internal/config"
	"github.com/zeusync/ecsbridge/internal/core/bridge"
	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
)

var ProviderSet = wire.NewSet(
	ProvideLogConfig,
	log.Provide,
	ProvideRegistry,
	ProvideRuntime,
	ProvideSceneFactory,
	NewApp,
)

// App is everything the bridge command needs.
type App struct {
	Config   config.Config
	Logger   *log.Logger
	Registry *components.Registry
	Runtime  *bridge.Runtime
	Factory  bridge.SceneFactory
}

func NewApp(cfg config.Config, logger *log.Logger, registry *components.Registry, runtime *bridge.Runtime, factory bridge.SceneFactory) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Runtime:  runtime,
		Factory:  factory,
	}
}

// Start brings up the configured number of scenes.
func (a *App) Start(ctx context.Context) error {
	return a.Runtime.StartScenes(ctx, a.Config.Runtime.Scenes, a.Factory)
}

// Stop closes the runtime and flushes the logger.
func (a *App) Stop() error {
	err := a.Runtime.Close()
	_ = a.Logger.Sync()
	return err
}

func ProvideLogConfig(cfg config.Config) log.Config {
	return cfg.Log
}

// ProvideRegistry registers the built-in component kinds and seals the registry.
func ProvideRegistry() (*components.Registry, error) {
	registry := components.NewRegistry()
	if err := components.RegisterDefaults(registry); err != nil {
		return nil, err
	}
	registry.Seal()
	return registry, nil
}

func ProvideRuntime(cfg config.Config, logger *log.Logger) *bridge.Runtime {
	return bridge.NewRuntime(
		bridge.WithRuntimeLogger(logger),
		bridge.WithConcurrency(cfg.Runtime.Concurrency),
	)
}

func ProvideSceneFactory(cfg config.Config, registry *components.Registry, runtime *bridge.Runtime) bridge.SceneFactory {
	opts := append(runtime.SceneOptions(),
		bridge.WithReservedEntities(cfg.Sync.Reserved()...),
		bridge.WithMaxAppendComponents(cfg.Protocol.MaxAppendComponents),
		bridge.WithPrewarm(cfg.Sync.Prewarm),
	)
	return bridge.NewStoreSceneFactory(registry, opts...)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/ecsbridge/internal/core/bridge"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
	"github.com/zeusync/ecsbridge/internal/injector"
)

type runOptions struct {
	*rootOptions
	Duration time.Duration
	Seed     uint64
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run simulated scenes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenes(cmd.Context(), opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed of the simulated scene runtimes")

	return cmd
}

func runScenes(ctx context.Context, opts *runOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	app, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	logger := app.Logger

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err = app.Start(ctx); err != nil {
		return err
	}

	sims := make(map[*bridge.Scene]*simulator)
	for i, scene := range app.Runtime.Scenes() {
		sims[scene] = newSimulator(scene, app.Registry, opts.Seed+uint64(i))
	}

	logger.Info("Bridge started",
		log.Int("scenes", len(sims)),
		log.Duration("tick", cfg.Runtime.TickInterval),
	)

	err = app.Runtime.Tick(ctx, cfg.Runtime.TickInterval, func(_ context.Context, scene *bridge.Scene) error {
		return sims[scene].step()
	})
	if err != nil {
		logger.Error("Tick failed", log.Error(err))
	}

	diverged := 0
	for scene, sim := range sims {
		if flushErr := sim.flush(); flushErr != nil {
			logger.Warn("Final flush failed", log.String("scene", scene.ID().String()), log.Error(flushErr))
			continue
		}
		if !sim.converged() {
			diverged++
		}
	}

	m := app.Runtime.Metrics().Snapshot()
	logger.Info("Bridge stopped",
		log.Uint64("processed", m.Processed),
		log.Uint64("outdated", m.Outdated),
		log.Uint64("tie_breaks", m.TieBreaks),
		log.Uint64("batches", m.BatchesApplied),
		log.Uint64("outgoing", m.Outgoing),
		log.Int("diverged", diverged),
	)

	if stopErr := app.Stop(); err == nil {
		err = stopErr
	}
	return err
}

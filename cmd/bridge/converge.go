package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/ecsbridge/internal/core/bridge"
	"github.com/zeusync/ecsbridge/internal/injector"
)

type convergeOptions struct {
	*rootOptions
	Ticks int
	Seed  uint64
}

type convergeReport struct {
	Ticks     int                    `json:"ticks"`
	Scenes    int                    `json:"scenes"`
	Converged bool                   `json:"converged"`
	Digests   []string               `json:"digests"`
	Metrics   bridge.MetricsSnapshot `json:"metrics"`
}

func newConvergeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &convergeOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Run a fixed number of ticks and check every scene converged",
		Long: `Drives every scene with a simulated scene runtime for a fixed number of
ticks, then compares the state digest of each scene with its replica.

Example:
  bridge converge --ticks 500 --scenes 4 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConverge(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 100, "number of ticks per scene")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed of the simulated scene runtimes")

	return cmd
}

func runConverge(cmd *cobra.Command, opts *convergeOptions) error {
	if opts.Ticks <= 0 {
		return fmt.Errorf("--ticks must be positive, got %d", opts.Ticks)
	}

	cfg, err := opts.load()
	if err != nil {
		return err
	}
	app, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	if err = app.Start(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = app.Stop() }()

	report := convergeReport{Ticks: opts.Ticks, Converged: true}
	for i, scene := range app.Runtime.Scenes() {
		sim := newSimulator(scene, app.Registry, opts.Seed+uint64(i))
		for tick := 0; tick < opts.Ticks; tick++ {
			if err = sim.step(); err != nil {
				return fmt.Errorf("scene %s tick %d: %w", scene.ID(), tick, err)
			}
		}
		if err = sim.flush(); err != nil {
			return err
		}

		report.Scenes++
		report.Converged = report.Converged && sim.converged()
		report.Digests = append(report.Digests, fmt.Sprintf("%016x", scene.StateDigest()))
	}
	report.Metrics = app.Runtime.Metrics().Snapshot()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err = enc.Encode(report); err != nil {
		return err
	}
	if !report.Converged {
		return fmt.Errorf("scenes diverged")
	}
	return nil
}

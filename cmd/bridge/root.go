package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/ecsbridge/internal/config"
)

type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Scenes     int
	Tick       time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Scene runtime to host world bridge",
		Long:          "Runs scenes whose state is replicated into an in-memory host world.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "overrides log.level")
	cmd.PersistentFlags().IntVar(&opts.Scenes, "scenes", 0, "overrides runtime.scenes")
	cmd.PersistentFlags().DurationVar(&opts.Tick, "tick", 0, "overrides runtime.tick_interval")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newConvergeCommand(opts))

	return cmd
}

// load reads the config file, if any, and applies the flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Scenes > 0 {
		cfg.Runtime.Scenes = o.Scenes
	}
	if o.Tick > 0 {
		cfg.Runtime.TickInterval = o.Tick
	}
	return cfg, cfg.Validate()
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/observability/log"
)

// Config is the configuration of the bridge runtime.
type Config struct {
	Log      log.Config     `yaml:"log"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Sync     SyncConfig     `yaml:"sync"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type ProtocolConfig struct {
	MaxAppendComponents int `yaml:"max_append_components"`
}

type SyncConfig struct {
	// ReservedEntities are owned by the host; 1 and 2 are the player and the camera.
	ReservedEntities []uint32 `yaml:"reserved_entities"`
	Prewarm          int      `yaml:"prewarm"`
}

type RuntimeConfig struct {
	Scenes       int           `yaml:"scenes"`
	Concurrency  int           `yaml:"concurrency"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

func Default() Config {
	return Config{
		Log: log.Config{
			Level:    "info",
			Encoding: "json",
		},
		Protocol: ProtocolConfig{
			MaxAppendComponents: crdt.DefaultMaxAppendComponents,
		},
		Sync: SyncConfig{
			ReservedEntities: []uint32{1, 2},
			Prewarm:          16,
		},
		Runtime: RuntimeConfig{
			Scenes:       1,
			Concurrency:  16,
			TickInterval: 50 * time.Millisecond,
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}

// LoadYAML decodes r on top of Default and validates the result.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Encoding != "" && c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		errs = append(errs, fmt.Errorf("log.encoding: unknown encoding %q", c.Log.Encoding))
	}
	if c.Protocol.MaxAppendComponents <= 0 {
		errs = append(errs, fmt.Errorf("protocol.max_append_components must be positive, got %d", c.Protocol.MaxAppendComponents))
	}
	if c.Sync.Prewarm < 0 {
		errs = append(errs, fmt.Errorf("sync.prewarm must not be negative, got %d", c.Sync.Prewarm))
	}
	if c.Runtime.Scenes <= 0 {
		errs = append(errs, fmt.Errorf("runtime.scenes must be positive, got %d", c.Runtime.Scenes))
	}
	if c.Runtime.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("runtime.concurrency must not be negative, got %d", c.Runtime.Concurrency))
	}
	if c.Runtime.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("runtime.tick_interval must be positive, got %s", c.Runtime.TickInterval))
	}
	return errors.Join(errs...)
}

// Reserved converts ReservedEntities to protocol entities.
func (c SyncConfig) Reserved() []crdt.Entity {
	out := make([]crdt.Entity, len(c.ReservedEntities))
	for i, e := range c.ReservedEntities {
		out[i] = crdt.Entity(e)
	}
	return out
}

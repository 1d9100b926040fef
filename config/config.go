// Package config loads database options from YAML files.
//
// Every field is optional; unset fields keep the defaults from
// neurite.DefaultOptions. Unknown keys are rejected so typos surface at
// load time instead of silently running with defaults.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neuritedb/neurite"
	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/txlog"
)

// Config mirrors the tunable parts of neurite.Options in YAML.
type Config struct {
	// RotationThreshold is the log file size in bytes beyond which commits
	// rotate to a fresh file.
	RotationThreshold int64 `yaml:"rotation_threshold"`

	// BufferSize is the log append buffer size in bytes.
	BufferSize int `yaml:"buffer_size"`

	// CheckpointLayout is "separate" or "inline".
	CheckpointLayout string `yaml:"checkpoint_layout"`

	// Durability is "sync", "group" or "async".
	Durability string `yaml:"durability"`

	// Compression is "none", "lz4" or "zstd".
	Compression string `yaml:"compression"`

	// FailOnMissingFiles controls whether startup fails when log or id
	// files are missing. Unset keeps the default (true).
	FailOnMissingFiles *bool `yaml:"fail_on_missing_files"`

	Resources Resources `yaml:"resources"`
}

// Resources mirrors resource.Config.
type Resources struct {
	MemoryLimitBytes     int64 `yaml:"memory_limit_bytes"`
	MaxBackgroundWorkers int64 `yaml:"max_background_workers"`
	IOLimitBytesPerSec   int64 `yaml:"io_limit_bytes_per_sec"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse parses YAML config data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks enum fields and value ranges.
func (c *Config) Validate() error {
	if _, err := c.checkpointKind(); err != nil {
		return err
	}

	if _, err := c.durabilityMode(); err != nil {
		return err
	}

	if _, err := c.compression(); err != nil {
		return err
	}

	if c.RotationThreshold < 0 {
		return fmt.Errorf("rotation_threshold must not be negative, got %d", c.RotationThreshold)
	}

	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative, got %d", c.BufferSize)
	}

	return nil
}

// Option returns an option function applying this config, for use with
// neurite.Open.
func (c *Config) Option() func(o *neurite.Options) {
	return func(o *neurite.Options) {
		if c.RotationThreshold > 0 {
			o.RotationThreshold = c.RotationThreshold
		}

		if c.BufferSize > 0 {
			o.BufferSize = c.BufferSize
		}

		if kind, err := c.checkpointKind(); err == nil && kind != "" {
			o.Checkpoints = kind
		}

		if mode, err := c.durabilityMode(); err == nil && c.Durability != "" {
			o.Durability = mode
		}

		if comp, err := c.compression(); err == nil && c.Compression != "" {
			o.Compression = comp
		}

		if c.FailOnMissingFiles != nil {
			o.FailOnMissingFiles = *c.FailOnMissingFiles
		}

		o.Resources = resource.Config{
			MemoryLimitBytes:     c.Resources.MemoryLimitBytes,
			MaxBackgroundWorkers: c.Resources.MaxBackgroundWorkers,
			IOLimitBytesPerSec:   c.Resources.IOLimitBytesPerSec,
		}
	}
}

func (c *Config) checkpointKind() (checkpoint.Kind, error) {
	switch c.CheckpointLayout {
	case "":
		return "", nil
	case "separate":
		return checkpoint.KindSeparate, nil
	case "inline":
		return checkpoint.KindInline, nil
	default:
		return "", fmt.Errorf("unknown checkpoint_layout %q", c.CheckpointLayout)
	}
}

func (c *Config) durabilityMode() (txlog.DurabilityMode, error) {
	switch c.Durability {
	case "", "sync":
		return txlog.DurabilitySync, nil
	case "group":
		return txlog.DurabilityGroupCommit, nil
	case "async":
		return txlog.DurabilityAsync, nil
	default:
		return 0, fmt.Errorf("unknown durability %q", c.Durability)
	}
}

func (c *Config) compression() (txlog.Compression, error) {
	switch c.Compression {
	case "", "none":
		return txlog.CompressionNone, nil
	case "lz4":
		return txlog.CompressionLZ4, nil
	case "zstd":
		return txlog.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", c.Compression)
	}
}

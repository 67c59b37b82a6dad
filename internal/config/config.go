// Package config assembles the server configuration from ROADEXT_*
// environment variables. Command-line flags in cmd/roadext-server override
// the values read here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/internal/observability"
)

const (
	DefaultGRPCAddr     = ":50061"
	DefaultMetricsAddr  = ":9090"
	DefaultTickInterval = 50 * time.Millisecond
)

// Config is the full runtime configuration of the extension server.
type Config struct {
	Capacities core.Capacities

	RegistryEnabled       bool
	RecklessDriverPercent int

	GRPCAddr     string
	MetricsAddr  string
	ScenarioPath string

	TickInterval time.Duration
	Accelerated  bool
	// MaxFrames stops the frame loop after this many frames; zero runs
	// until shutdown.
	MaxFrames uint32

	Log     logging.Config
	Tracing observability.TracingConfig
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Capacities:      core.DefaultCapacities(),
		RegistryEnabled: true,
		GRPCAddr:        DefaultGRPCAddr,
		MetricsAddr:     DefaultMetricsAddr,
		TickInterval:    DefaultTickInterval,
		Log:             logging.Config{Level: "info", Format: "text", AddSource: true},
		Tracing:         observability.TracingConfig{SampleRatio: 1}.ApplyDefaults(),
	}
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup. Unset keys keep their
// defaults; malformed values are reported together.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	intVar := func(key string, dst *int) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = v
		}
	}
	boolVar := func(key string, dst *bool) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			v, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = v
		}
	}
	stringVar := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = strings.TrimSpace(raw)
		}
	}

	intVar("ROADEXT_MAX_SEGMENTS", &cfg.Capacities.MaxSegments)
	intVar("ROADEXT_MAX_NODES", &cfg.Capacities.MaxNodes)
	intVar("ROADEXT_MAX_VEHICLES", &cfg.Capacities.MaxVehicles)
	boolVar("ROADEXT_REGISTRY_ENABLED", &cfg.RegistryEnabled)
	intVar("ROADEXT_RECKLESS_PERCENT", &cfg.RecklessDriverPercent)
	stringVar("ROADEXT_GRPC_ADDR", &cfg.GRPCAddr)
	stringVar("ROADEXT_METRICS_ADDR", &cfg.MetricsAddr)
	stringVar("ROADEXT_SCENARIO", &cfg.ScenarioPath)
	boolVar("ROADEXT_ACCELERATED", &cfg.Accelerated)
	stringVar("LOG_LEVEL", &cfg.Log.Level)
	stringVar("LOG_FORMAT", &cfg.Log.Format)

	if raw, ok := lookup("ROADEXT_TICK"); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("ROADEXT_TICK: %w", err))
		} else {
			cfg.TickInterval = d
		}
	}
	if raw, ok := lookup("ROADEXT_MAX_FRAMES"); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("ROADEXT_MAX_FRAMES: %w", err))
		} else {
			cfg.MaxFrames = uint32(v)
		}
	}

	cfg.Tracing = observability.TracingConfigFromLookup(lookup)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	cfg = cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// ApplyDefaults fills zero values with the defaults.
func (c Config) ApplyDefaults() Config {
	c.Capacities = c.Capacities.ApplyDefaults()
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	c.Tracing = c.Tracing.ApplyDefaults()
	return c
}

// Validate reports values that cannot be used.
func (c Config) Validate() error {
	if c.RecklessDriverPercent < 0 || c.RecklessDriverPercent > 100 {
		return fmt.Errorf("reckless driver percent %d outside [0, 100]", c.RecklessDriverPercent)
	}
	if c.Capacities.MaxSegments < 2 || c.Capacities.MaxNodes < 2 || c.Capacities.MaxVehicles < 2 {
		return fmt.Errorf("capacities too small: %s", c.Capacities)
	}
	return nil
}

// Options returns the feature options consumed by core.Extensions.
func (c Config) Options() core.StaticOptions {
	return core.StaticOptions{
		Registry:        c.RegistryEnabled,
		RecklessPercent: c.RecklessDriverPercent,
	}
}

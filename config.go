// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clrauto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"go.opentelemetry.io/clrauto/internal/pkg/instrumentation"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
)

const (
	// envIntegrationsKey is the key for the environment variable value
	// containing the path of an integration catalog file.
	envIntegrationsKey = "OTEL_CLR_AUTO_INTEGRATIONS"
	// envDisabledIntegrationsKey is the key for the environment variable
	// value containing a comma separated list of integration names to
	// disable.
	envDisabledIntegrationsKey = "OTEL_CLR_AUTO_DISABLED_INTEGRATIONS"
	// envSkipAssembliesKey is the key for the environment variable value
	// containing a comma separated list of assembly names never
	// instrumented.
	envSkipAssembliesKey = "OTEL_CLR_AUTO_SKIP_ASSEMBLIES"
	// envLogLevelKey is the key for the environment variable value
	// containing the log level.
	envLogLevelKey = "OTEL_LOG_LEVEL"
)

// ProfilerOption applies a configuration option value to a [Profiler].
type ProfilerOption interface {
	apply(context.Context, profilerConfig) (profilerConfig, error)
}

type fnOpt func(context.Context, profilerConfig) (profilerConfig, error)

func (f fnOpt) apply(ctx context.Context, c profilerConfig) (profilerConfig, error) {
	return f(ctx, c)
}

type profilerConfig struct {
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	catalog       []Integration
	inst          instrumentation.Config
	provider      instrumentation.Provider
}

func newProfilerConfig(ctx context.Context, options []ProfilerOption) (profilerConfig, error) {
	var (
		c   profilerConfig
		err error
	)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		var e error
		c, e = opt.apply(ctx, c)
		err = errors.Join(err, e)
	}
	return c, err
}

func (c profilerConfig) Logger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c profilerConfig) MeterProvider() metric.MeterProvider {
	if c.meterProvider != nil {
		return c.meterProvider
	}
	return otel.GetMeterProvider()
}

// WithIntegrations returns a [ProfilerOption] that adds catalog to the
// integrations the [Profiler] applies.
func WithIntegrations(catalog ...Integration) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		c.catalog = append(c.catalog, catalog...)
		return c, nil
	})
}

// WithIntegrationsFile returns a [ProfilerOption] that adds the integrations
// decoded from the YAML or JSON catalog at path.
func WithIntegrationsFile(path string) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		catalog, err := integration.LoadFile(path)
		if err != nil {
			return c, err
		}
		c.catalog = append(c.catalog, catalog...)
		return c, nil
	})
}

// WithDisabledIntegrations returns a [ProfilerOption] that disables the
// integrations with the given names, for every span kind.
func WithDisabledIntegrations(names ...string) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		if c.inst.Integrations == nil {
			c.inst.Integrations = make(map[instrumentation.IntegrationID]instrumentation.IntegrationConfig)
		}
		off := false
		for _, name := range names {
			id := instrumentation.IntegrationID{Name: name}
			c.inst.Integrations[id] = instrumentation.IntegrationConfig{Enabled: &off}
		}
		return c, nil
	})
}

// WithSkipAssemblies returns a [ProfilerOption] that replaces the list of
// assemblies never instrumented. The default list holds the core libraries
// and the managed half of the agent.
func WithSkipAssemblies(names ...string) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		c.inst.SkipAssemblies = append([]string{}, names...)
		return c, nil
	})
}

// WithConfigProvider returns a [ProfilerOption] that uses p to configure
// the [Profiler]. The initial configuration of p replaces the one set by
// [WithDisabledIntegrations] and [WithSkipAssemblies]. Updates of p apply to
// the modules loaded after them, until the Profiler shuts down.
func WithConfigProvider(p ConfigProvider) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		c.provider = p
		return c, nil
	})
}

// WithLogger returns a [ProfilerOption] that configures the logger used by
// the [Profiler].
//
// If this option is not used, nothing is logged.
func WithLogger(logger *slog.Logger) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		c.logger = logger
		return c, nil
	})
}

// WithMeterProvider returns a [ProfilerOption] that configures the
// [metric.MeterProvider] the [Profiler] reports its own activity to.
//
// If this option is not used, the global MeterProvider is used.
func WithMeterProvider(mp metric.MeterProvider) ProfilerOption {
	return fnOpt(func(_ context.Context, c profilerConfig) (profilerConfig, error) {
		c.meterProvider = mp
		return c, nil
	})
}

// Used for testing.
var lookupEnv = os.LookupEnv

// WithEnv returns a [ProfilerOption] that configures the [Profiler] using
// the values defined by the following environment variables:
//
//   - OTEL_CLR_AUTO_INTEGRATIONS: path of an integration catalog file
//   - OTEL_CLR_AUTO_DISABLED_INTEGRATIONS: comma separated integration names
//   - OTEL_CLR_AUTO_SKIP_ASSEMBLIES: comma separated assembly names
//   - OTEL_LOG_LEVEL: sets the level of the default logger
//
// Values not set in the environment are left unchanged. Options applied
// after WithEnv take precedence.
func WithEnv() ProfilerOption {
	return fnOpt(func(ctx context.Context, c profilerConfig) (profilerConfig, error) {
		var err error
		if path, ok := lookupEnv(envIntegrationsKey); ok && path != "" {
			var e error
			c, e = WithIntegrationsFile(path).apply(ctx, c)
			err = errors.Join(err, e)
		}
		if val, ok := lookupEnv(envDisabledIntegrationsKey); ok {
			c, _ = WithDisabledIntegrations(splitList(val)...).apply(ctx, c)
		}
		if val, ok := lookupEnv(envSkipAssembliesKey); ok {
			c, _ = WithSkipAssemblies(splitList(val)...).apply(ctx, c)
		}
		if val, ok := lookupEnv(envLogLevelKey); ok && val != "" {
			l, e := ParseLogLevel(val)
			if e != nil {
				err = errors.Join(err, fmt.Errorf("parse log level %q: %w", val, e))
			} else {
				c.logger = newLogger(l.Level())
			}
		}
		return c, err
	})
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Used for testing.
var newLogger = newLoggerFunc

func newLoggerFunc(level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	h := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(h)
}

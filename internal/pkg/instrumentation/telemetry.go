// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "go.opentelemetry.io/clrauto/internal/pkg/instrumentation"

var (
	instrumentedTrue  = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("clrauto.instrumented", true)))
	instrumentedFalse = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("clrauto.instrumented", false)))
)

// telemetry records the engine's own metrics.
type telemetry struct {
	loads        metric.Int64Counter
	unloads      metric.Int64Counter
	ready        metric.Int64UpDownCounter
	compilations metric.Int64Counter
	misses       metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider, version string) (*telemetry, error) {
	meter := mp.Meter(scopeName, metric.WithInstrumentationVersion(version))

	var (
		t   telemetry
		err error
		e   error
	)
	t.loads, e = meter.Int64Counter(
		"clrauto.module.loads",
		metric.WithDescription("Number of module loads observed."),
		metric.WithUnit("{module}"),
	)
	err = errors.Join(err, e)
	t.unloads, e = meter.Int64Counter(
		"clrauto.module.unloads",
		metric.WithDescription("Number of module unloads observed."),
		metric.WithUnit("{module}"),
	)
	err = errors.Join(err, e)
	t.ready, e = meter.Int64UpDownCounter(
		"clrauto.modules.ready",
		metric.WithDescription("Number of modules in the metadata cache."),
		metric.WithUnit("{module}"),
	)
	err = errors.Join(err, e)
	t.compilations, e = meter.Int64Counter(
		"clrauto.jit.compilations",
		metric.WithDescription("Number of JIT compilations observed."),
		metric.WithUnit("{function}"),
	)
	err = errors.Join(err, e)
	t.misses, e = meter.Int64Counter(
		"clrauto.module.cache_misses",
		metric.WithDescription("Number of JIT compilations of functions in uncached modules."),
		metric.WithUnit("{function}"),
	)
	err = errors.Join(err, e)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *telemetry) moduleLoaded(ctx context.Context, replaced bool) {
	t.loads.Add(ctx, 1)
	if !replaced {
		t.ready.Add(ctx, 1)
	}
}

func (t *telemetry) moduleUnloaded(ctx context.Context, cached bool) {
	t.unloads.Add(ctx, 1)
	if cached {
		t.ready.Add(ctx, -1)
	}
}

func (t *telemetry) cacheCleared(ctx context.Context, n int) {
	if n > 0 {
		t.ready.Add(ctx, -int64(n))
	}
}

func (t *telemetry) compiled(ctx context.Context, instrumented bool) {
	if instrumented {
		t.compilations.Add(ctx, 1, instrumentedTrue)
		return
	}
	t.compilations.Add(ctx, 1, instrumentedFalse)
}

func (t *telemetry) cacheMiss(ctx context.Context) {
	t.misses.Add(ctx, 1)
}

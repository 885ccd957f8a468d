// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clrauto decides which methods of a .NET application a CLR
// profiler rewrites to route calls through instrumentation wrappers.
//
// A host profiler forwards the runtime's callbacks to a [Profiler]. The
// Profiler resolves module and method identities through the host's
// introspection surface, keeps one metadata entry per loaded module, and
// answers each JIT compilation with the [Directive] the host applies.
package clrauto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/instrumentation"
)

// Callback is the set of runtime events a host profiler forwards to the
// engine. Every method may be called concurrently from runtime threads.
type Callback interface {
	// Initialize attaches to the host surface info and subscribes to the
	// events the engine needs.
	Initialize(info corprof.ProfilerInfo) error
	// ModuleLoadFinished records module id. A non-nil status means the
	// runtime failed to load the module.
	ModuleLoadFinished(id corprof.ModuleID, status error) error
	// ModuleUnloadStarted drops the record of module id.
	ModuleUnloadStarted(id corprof.ModuleID) error
	// JITCompilationStarted returns the directive for function id, or nil
	// if nothing is rewritten.
	JITCompilationStarted(id corprof.FunctionID, safeToBlock bool) (*Directive, error)
	// Shutdown detaches from the host.
	Shutdown() error
}

// Profiler is the instrumentation engine of one runtime. Create it with
// [NewProfiler].
type Profiler struct {
	logger   *slog.Logger
	manager  *instrumentation.Manager
	provider instrumentation.Provider
	stop     context.CancelFunc
}

var _ Callback = (*Profiler)(nil)

// NewProfiler returns a new [Profiler] configured with the provided opts.
//
// If no integrations are provided, the Profiler caches module metadata but
// never rewrites a method. An error is returned if an option fails or the
// integration catalog is invalid.
func NewProfiler(ctx context.Context, opts ...ProfilerOption) (*Profiler, error) {
	c, err := newProfilerConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	logger := c.Logger()
	if c.provider != nil {
		c.inst = c.provider.InitialConfig(ctx)
	}
	m, err := instrumentation.NewManager(logger, c.catalog, c.inst, c.MeterProvider(), Version())
	if err != nil {
		return nil, err
	}

	p := &Profiler{logger: logger, manager: m, provider: c.provider, stop: func() {}}
	if c.provider != nil {
		ctx, p.stop = context.WithCancel(ctx)
		go m.ConfigLoop(ctx, c.provider)
	}

	logger.Debug(
		"profiler created",
		"version", Version(),
		"integrations", len(m.Integrations()),
	)
	return p, nil
}

// recoverCallback turns a panic in the callback name into an error so it
// never unwinds into the runtime.
func (p *Profiler) recoverCallback(name string, err *error) {
	if r := recover(); r != nil {
		p.logger.Error("callback panicked", "callback", name, "panic", r)
		*err = fmt.Errorf("%s: panic: %v", name, r)
	}
}

func (p *Profiler) Initialize(info corprof.ProfilerInfo) (err error) {
	defer p.recoverCallback("Initialize", &err)
	return p.manager.Initialize(info)
}

func (p *Profiler) ModuleLoadFinished(id corprof.ModuleID, status error) (err error) {
	defer p.recoverCallback("ModuleLoadFinished", &err)
	return p.manager.ModuleLoadFinished(id, status)
}

func (p *Profiler) ModuleUnloadStarted(id corprof.ModuleID) (err error) {
	defer p.recoverCallback("ModuleUnloadStarted", &err)
	return p.manager.ModuleUnloadStarted(id)
}

func (p *Profiler) JITCompilationStarted(id corprof.FunctionID, safeToBlock bool) (d *Directive, err error) {
	defer p.recoverCallback("JITCompilationStarted", &err)
	return p.manager.JITCompilationStarted(id, safeToBlock)
}

func (p *Profiler) Shutdown() (err error) {
	defer p.recoverCallback("Shutdown", &err)

	p.stop()
	err = p.manager.Shutdown()
	if p.provider != nil {
		err = errors.Join(err, p.provider.Shutdown(context.Background()))
	}
	return err
}

// Lookup returns a copy of the cached metadata of module id.
func (p *Profiler) Lookup(id corprof.ModuleID) (*ModuleMetadata, bool) {
	return p.manager.Lookup(id)
}

// Integrations returns the enabled integrations the Profiler applies.
func (p *Profiler) Integrations() []Integration {
	return p.manager.Integrations()
}

// AgentLoaded reports whether the managed wrapper assembly of the
// integrations was loaded.
func (p *Profiler) AgentLoaded() bool {
	return p.manager.AgentLoaded()
}

// Attached reports whether the Profiler is attached to a host.
func (p *Profiler) Attached() bool {
	return p.manager.Attached()
}

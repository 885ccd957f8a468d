// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrumentation tracks loaded modules and decides which functions
// the host should rewrite.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

// EventMask is the set of host events the Manager subscribes to.
const EventMask = corprof.MonitorModuleLoads | corprof.MonitorJITCompilation | corprof.DisableInlining

var (
	// ErrAlreadyInitialized is returned when Initialize is called on an
	// attached Manager.
	ErrAlreadyInitialized = errors.New("instrumentation manager already initialized")
	// ErrDetached is returned when Initialize is called after Shutdown.
	ErrDetached = errors.New("instrumentation manager detached")
)

type managerState int

const (
	managerStateUninitialized managerState = iota
	managerStateInitializing
	managerStateAttached
	managerStateShuttingDown
	managerStateDetached
)

func (s managerState) String() string {
	switch s {
	case managerStateUninitialized:
		return "uninitialized"
	case managerStateInitializing:
		return "initializing"
	case managerStateAttached:
		return "attached"
	case managerStateShuttingDown:
		return "shutting down"
	case managerStateDetached:
		return "detached"
	default:
		return fmt.Sprintf("managerState(%d)", int(s))
	}
}

// Manager handles the module metadata cache of an attached host.
type Manager struct {
	logger    *slog.Logger
	version   string
	resolver  *metadata.Resolver
	catalog   []integration.Integration
	agents    map[string]struct{}
	telemetry *telemetry
	modules   *moduleCache

	// enabled and skip are derived from the current Config.
	enabled  []integration.Integration
	skip     map[string]struct{}
	configMu sync.RWMutex

	info        corprof.ProfilerInfo
	state       managerState
	agentLoaded bool
	stateMu     sync.RWMutex
}

// NewManager returns a new [Manager] applying the integrations of catalog
// enabled by c.
func NewManager(logger *slog.Logger, catalog []integration.Integration, c Config, mp metric.MeterProvider, version string) (*Manager, error) {
	if err := integration.Validate(catalog); err != nil {
		return nil, fmt.Errorf("invalid integration catalog: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t, err := newTelemetry(mp, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	agents := make(map[string]struct{})
	for _, i := range catalog {
		for _, mr := range i.MethodReplacements {
			if mr.Wrapper.Assembly != "" {
				agents[mr.Wrapper.Assembly] = struct{}{}
			}
		}
	}

	m := &Manager{
		logger:    logger,
		version:   version,
		resolver:  metadata.NewResolver(logger),
		catalog:   catalog,
		agents:    agents,
		telemetry: t,
		modules:   newModuleCache(),
	}
	m.applyConfig(c)
	return m, nil
}

// Integrations returns the enabled integrations the Manager applies.
func (m *Manager) Integrations() []integration.Integration {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return slices.Clone(m.enabled)
}

func (m *Manager) filters() ([]integration.Integration, map[string]struct{}) {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return m.enabled, m.skip
}

func (m *Manager) applyConfig(c Config) {
	enabled, skip := c.enabledIntegrations(m.catalog), c.skipSet()

	m.configMu.Lock()
	m.enabled, m.skip = enabled, skip
	m.configMu.Unlock()
}

// ApplyConfig replaces the enablement configuration of the Manager. Modules
// loaded afterwards are filtered with c. Cached modules keep the
// integrations they were loaded with.
func (m *Manager) ApplyConfig(c Config) {
	m.applyConfig(c)
	m.logger.Info("applied configuration", "integrations", integration.Names(m.Integrations()))
}

// ConfigLoop applies the configuration updates of p until ctx is done or
// p stops providing updates.
func (m *Manager) ConfigLoop(ctx context.Context, p Provider) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-p.Watch():
			if !ok {
				m.logger.Info("Configuration provider closed, configuration updates will no longer be received")
				return
			}
			m.ApplyConfig(c)
		}
	}
}

// Attached reports whether the Manager is attached to a host.
func (m *Manager) Attached() bool {
	_, ok := m.attachedInfo()
	return ok
}

func (m *Manager) attachedInfo() (corprof.ProfilerInfo, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	if m.state != managerStateAttached {
		return nil, false
	}
	return m.info, true
}

// AgentLoaded reports whether a module of a wrapper assembly of the catalog
// was loaded since the Manager attached.
func (m *Manager) AgentLoaded() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.agentLoaded
}

func (m *Manager) markAgentLoaded(md *ModuleMetadata) {
	if _, ok := m.agents[md.Assembly.Name]; !ok {
		return
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.state == managerStateAttached && !m.agentLoaded {
		m.agentLoaded = true
		m.logger.Info("agent assembly loaded", "module", md.Module.ID, "assembly", md.Assembly.Name)
	}
}

// Initialize attaches the Manager to the host surface info. If the host
// rejects the event subscription an error is returned and the Manager stays
// uninitialized.
func (m *Manager) Initialize(info corprof.ProfilerInfo) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	switch m.state {
	case managerStateUninitialized:
	case managerStateShuttingDown, managerStateDetached:
		return ErrDetached
	default:
		return ErrAlreadyInitialized
	}
	if info == nil {
		return errors.New("nil profiler info")
	}

	m.state = managerStateInitializing
	if err := info.SetEventMask(EventMask); err != nil {
		m.state = managerStateUninitialized
		return fmt.Errorf("failed to set event mask: %w", err)
	}

	m.info = info
	m.state = managerStateAttached
	m.logger.Info(
		"attached to host",
		"version", m.version,
		"integrations", integration.Names(m.Integrations()),
	)
	return nil
}

// ModuleLoadFinished caches the metadata of the loaded module id. A non-nil
// status means the host failed to load the module and nothing is cached.
func (m *Manager) ModuleLoadFinished(id corprof.ModuleID, status error) error {
	info, ok := m.attachedInfo()
	if !ok {
		m.logger.Debug("not attached, ignoring module load", "module", id)
		return nil
	}
	if status != nil {
		m.logger.Debug("module failed to load", "module", id, "error", status)
		return nil
	}

	md := m.buildModuleMetadata(info, id)

	prev, ok := m.modules.insert(id, md)
	if !ok {
		m.logger.Debug("shutting down, dropping module", "module", id)
		return nil
	}
	m.telemetry.moduleLoaded(context.Background(), prev != nil)
	m.markAgentLoaded(md)

	if len(md.Integrations) > 0 {
		m.logger.Debug(
			"module ready for instrumentation",
			"module", id,
			"assembly", md.Assembly.Name,
			"integrations", integration.Names(md.Integrations),
		)
	}
	return nil
}

// buildModuleMetadata resolves everything the cache entry for id needs.
// Failures produce an entry without integrations so every loaded module is
// cached.
func (m *Manager) buildModuleMetadata(info corprof.ProfilerInfo, id corprof.ModuleID) *ModuleMetadata {
	module := m.resolver.ResolveModule(info, id)
	md := &ModuleMetadata{Module: module, Assembly: module.Assembly}
	if !module.IsValid() {
		m.logger.Debug("unable to resolve module", "module", id)
		return md
	}

	catalog, skip := m.filters()
	if reason := skipReason(module, skip); reason != "" {
		m.logger.Debug("skipping module", "module", id, "path", module.Path, "reason", reason)
		return md
	}

	imp, err := info.GetModuleMetadata(id)
	if err != nil {
		m.logger.Debug("unable to get module metadata", "module", id, "error", err)
		return md
	}
	md.Import = imp

	integrations := integration.FilterByCaller(catalog, module.Assembly.Name)
	if len(integrations) == 0 {
		return md
	}
	integrations, refs := integration.FilterByTargetImport(integrations, m.resolver, imp)
	if len(integrations) == 0 {
		return md
	}

	md.Integrations = integrations
	md.AssemblyRefs = referencedAssemblies(refs, integrations)
	return md
}

func skipReason(module metadata.ModuleInfo, skip map[string]struct{}) string {
	switch {
	case module.Flags.Has(corprof.ModuleFlagWindowsRuntime):
		return "windows runtime module"
	case module.Flags.Has(corprof.ModuleFlagResource):
		return "resource module"
	}
	if _, ok := skip[module.Assembly.Name]; ok {
		return "skipped assembly"
	}
	return ""
}

// ModuleUnloadStarted evicts the cache entry of id.
func (m *Manager) ModuleUnloadStarted(id corprof.ModuleID) error {
	if _, ok := m.attachedInfo(); !ok {
		return nil
	}

	_, cached := m.modules.remove(id)
	m.telemetry.moduleUnloaded(context.Background(), cached)
	m.logger.Debug("module unloaded", "module", id, "cached", cached)
	return nil
}

// JITCompilationStarted returns the rewrite directive for the function fid,
// or nil if nothing applies to it.
func (m *Manager) JITCompilationStarted(fid corprof.FunctionID, safeToBlock bool) (*Directive, error) {
	info, ok := m.attachedInfo()
	if !ok {
		return nil, nil
	}
	ctx := context.Background()

	mid, tok, err := info.GetFunctionInfo(fid)
	if err != nil {
		m.logger.Debug("unable to get function info", "function", fid, "error", err)
		m.telemetry.compiled(ctx, false)
		return nil, nil
	}

	md, ok := m.modules.lookup(mid)
	if !ok {
		m.telemetry.cacheMiss(ctx)
		m.telemetry.compiled(ctx, false)
		return nil, nil
	}

	d := md.directive(m.resolver, mid, fid, tok)
	m.telemetry.compiled(ctx, d != nil)
	if d != nil {
		d.AgentLoaded = m.AgentLoaded()
		m.logger.Debug(
			"instrumenting function",
			"function", d.Caller.Name,
			"type", d.Caller.Type.Name,
			"integrations", integration.Names(d.Integrations),
			"safe_to_block", safeToBlock,
		)
	}
	return d, nil
}

// Lookup returns a copy of the cached metadata of the module id.
func (m *Manager) Lookup(id corprof.ModuleID) (*ModuleMetadata, bool) {
	md, ok := m.modules.lookup(id)
	if !ok {
		return nil, false
	}
	return md.clone(), true
}

// Shutdown detaches the Manager and drops the module cache. Calling
// Shutdown more than once is a no-op.
func (m *Manager) Shutdown() error {
	m.stateMu.Lock()
	switch m.state {
	case managerStateShuttingDown, managerStateDetached:
		m.stateMu.Unlock()
		return nil
	}
	m.state = managerStateShuttingDown
	m.stateMu.Unlock()

	n := m.modules.close()
	m.telemetry.cacheCleared(context.Background(), n)

	m.stateMu.Lock()
	m.info = nil
	m.state = managerStateDetached
	m.stateMu.Unlock()

	m.logger.Info("detached from host", "modules", n)
	return nil
}

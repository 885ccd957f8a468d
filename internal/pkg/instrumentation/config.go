// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/clrauto/internal/pkg/integration"
)

// DefaultSkipAssemblies are the assemblies never instrumented unless
// [Config.SkipAssemblies] replaces them.
var DefaultSkipAssemblies = []string{
	"mscorlib",
	"netstandard",
	"System.Private.CoreLib",
	"OpenTelemetry.ClrProfiler.Managed",
	"OpenTelemetry.ClrProfiler.Managed.Core",
}

// IntegrationID is used to identify an integration.
type IntegrationID struct {
	// Name of the integration (e.g. "AdoNet").
	Name string
	// SpanKind is the relevant span kind for the integration.
	// This can be used to configure server-only, client-only spans.
	// If not set, the identifier is assumed to be applicable to all span kinds of the integration.
	SpanKind trace.SpanKind
}

// IntegrationConfig is used to configure a specific integration.
type IntegrationConfig struct {
	// Enabled determines whether the integration is applied to modules.
	// If nil, the value of DefaultDisabled is used.
	Enabled *bool
}

// Config is used to configure instrumentation.
type Config struct {
	// Integrations defines integration-specific configuration.
	// If an integration is referenced by more than one key, the most specific key is used.
	// For example, if ("AdoNet", unspecified) and ("AdoNet", client) are both present,
	// the configuration for ("AdoNet", client) is used for the client integration.
	Integrations map[IntegrationID]IntegrationConfig

	// DefaultDisabled determines whether integrations are disabled by default.
	// If set to true, an integration is only applied when explicitly enabled.
	DefaultDisabled bool

	// SkipAssemblies lists assembly names whose modules are cached without
	// integrations. If nil, DefaultSkipAssemblies is used.
	SkipAssemblies []string
}

func getIntegrationConfig(id IntegrationID, c Config) (IntegrationConfig, bool) {
	if ic, ok := c.Integrations[id]; ok {
		return ic, true
	}

	id.SpanKind = trace.SpanKindUnspecified
	if ic, ok := c.Integrations[id]; ok {
		return ic, true
	}

	return IntegrationConfig{}, false
}

func isIntegrationEnabled(i integration.Integration, c Config) bool {
	id := IntegrationID{Name: i.Name, SpanKind: i.SpanKind}
	if ic, ok := getIntegrationConfig(id, c); ok && ic.Enabled != nil {
		return *ic.Enabled
	}
	return !c.DefaultDisabled
}

// enabledIntegrations returns the integrations of catalog that c enables,
// in catalog order.
func (c Config) enabledIntegrations(catalog []integration.Integration) []integration.Integration {
	var out []integration.Integration
	for _, i := range catalog {
		if isIntegrationEnabled(i, c) {
			out = append(out, i)
		}
	}
	return out
}

func (c Config) skipSet() map[string]struct{} {
	names := c.SkipAssemblies
	if names == nil {
		names = DefaultSkipAssemblies
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Provider provides the initial configuration and updates to the
// instrumentation configuration.
type Provider interface {
	// InitialConfig returns the initial instrumentation configuration.
	InitialConfig(ctx context.Context) Config
	// Watch returns a channel that receives updates to the instrumentation
	// configuration.
	Watch() <-chan Config
	// Shutdown releases any resources held by the provider.
	Shutdown(ctx context.Context) error
}

type staticProvider struct {
	c Config
}

// NewStaticProvider returns a provider that does not provide any updates
// and provides c as the initial configuration.
func NewStaticProvider(c Config) Provider {
	return &staticProvider{c: c}
}

func (p *staticProvider) InitialConfig(_ context.Context) Config {
	return p.c
}

func (p *staticProvider) Watch() <-chan Config {
	c := make(chan Config)
	close(c)
	return c
}

func (p *staticProvider) Shutdown(_ context.Context) error {
	return nil
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clrauto

import (
	"io"

	"go.opentelemetry.io/clrauto/internal/pkg/instrumentation"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
)

type (
	// Integration is a named bundle of method replacement rules.
	Integration = integration.Integration
	// MethodReplacement redirects calls made by a caller to a target method
	// through a wrapper.
	MethodReplacement = integration.MethodReplacement
	// MethodReference names a method. Empty fields match anything.
	MethodReference = integration.MethodReference
	// Signature is a method signature blob.
	Signature = integration.Signature
	// VersionConstraint restricts the version of a target assembly.
	VersionConstraint = integration.VersionConstraint

	// Directive tells the host which replacements apply to a function
	// being compiled.
	Directive = instrumentation.Directive
	// ModuleMetadata is the cached state of a loaded module.
	ModuleMetadata = instrumentation.ModuleMetadata

	// InstrumentationConfig selects the enabled integrations and the
	// assemblies never instrumented.
	InstrumentationConfig = instrumentation.Config
	// IntegrationID identifies an integration, or one span kind of it, in an
	// InstrumentationConfig.
	IntegrationID = instrumentation.IntegrationID
	// IntegrationConfig configures one integration.
	IntegrationConfig = instrumentation.IntegrationConfig
	// ConfigProvider provides the initial InstrumentationConfig of a
	// [Profiler] and updates to it.
	ConfigProvider = instrumentation.Provider
)

// NewStaticConfigProvider returns a [ConfigProvider] that provides c and
// never updates it.
func NewStaticConfigProvider(c InstrumentationConfig) ConfigProvider {
	return instrumentation.NewStaticProvider(c)
}

// ParseSignature parses space separated hex bytes, such as "00 02 1C 1C".
func ParseSignature(s string) (Signature, error) {
	return integration.ParseSignature(s)
}

// ParseVersionConstraint parses a comma separated version constraint, such
// as ">= 4.0, < 5.0".
func ParseVersionConstraint(s string) (VersionConstraint, error) {
	return integration.ParseVersionConstraint(s)
}

// LoadIntegrations decodes a YAML or JSON integration catalog from r.
func LoadIntegrations(r io.Reader) ([]Integration, error) {
	return integration.Load(r)
}

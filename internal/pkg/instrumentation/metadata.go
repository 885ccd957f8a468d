// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"maps"
	"slices"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

// ModuleMetadata is the cached view of a loaded module. It must not be
// modified after it is cached.
type ModuleMetadata struct {
	Module   metadata.ModuleInfo
	Assembly metadata.AssemblyInfo
	// Import is the metadata surface of the module. It is nil if the module
	// could not be resolved.
	Import corprof.ModuleImport
	// Integrations applicable to the module, in catalog order.
	Integrations []integration.Integration
	// AssemblyRefs maps each target and wrapper assembly of Integrations
	// referenced by the module to that reference.
	AssemblyRefs map[string]metadata.AssemblyRef
}

// clone returns a copy of md that shares nothing mutable with it.
func (md *ModuleMetadata) clone() *ModuleMetadata {
	c := *md
	c.Integrations = slices.Clone(md.Integrations)
	c.AssemblyRefs = maps.Clone(md.AssemblyRefs)
	return &c
}

// Directive instructs the host how to rewrite a function being compiled.
// It is owned by the caller.
type Directive struct {
	ModuleID   corprof.ModuleID
	FunctionID corprof.FunctionID
	Caller     metadata.FunctionInfo
	// Integrations with at least one rule matching Caller.
	Integrations []integration.Integration
	// Replacements are the matching rules of Integrations, in order.
	Replacements []integration.MethodReplacement
	AssemblyRefs map[string]metadata.AssemblyRef
	// AgentLoaded reports whether a wrapper assembly of the catalog was
	// already loaded when the directive was built. If false, the rewritten
	// code has to load it first.
	AgentLoaded bool
}

// directive returns the rewrite directive for the method token tok, or nil
// if no cached integration applies to it.
func (md *ModuleMetadata) directive(r *metadata.Resolver, mid corprof.ModuleID, fid corprof.FunctionID, tok corprof.Token) *Directive {
	if len(md.Integrations) == 0 || md.Import == nil {
		return nil
	}

	caller := r.ResolveFunction(md.Import, tok)
	if !caller.IsValid() {
		return nil
	}

	d := &Directive{
		ModuleID:   mid,
		FunctionID: fid,
		Caller:     caller,
	}
	for _, i := range md.Integrations {
		reps := i.CallerReplacements(caller)
		if len(reps) == 0 {
			continue
		}
		d.Integrations = append(d.Integrations, i)
		d.Replacements = append(d.Replacements, reps...)
	}
	if len(d.Integrations) == 0 {
		return nil
	}
	d.AssemblyRefs = maps.Clone(md.AssemblyRefs)
	return d
}

// referencedAssemblies maps the target and wrapper assemblies of
// integrations to the first of refs with that name.
func referencedAssemblies(refs []metadata.AssemblyRef, integrations []integration.Integration) map[string]metadata.AssemblyRef {
	wanted := make(map[string]struct{})
	for _, i := range integrations {
		for _, mr := range i.MethodReplacements {
			for _, name := range []string{mr.Target.Assembly, mr.Wrapper.Assembly} {
				if name != "" {
					wanted[name] = struct{}{}
				}
			}
		}
	}

	out := make(map[string]metadata.AssemblyRef)
	for _, ref := range refs {
		if _, ok := wanted[ref.Name]; !ok {
			continue
		}
		if _, dup := out[ref.Name]; !dup {
			out[ref.Name] = ref
		}
	}
	return out
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package integration

import (
	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

// FilterByCaller returns the integrations of catalog with at least one rule
// whose caller assembly is unset or equal to assemblyName.
func FilterByCaller(catalog []Integration, assemblyName string) []Integration {
	return filter(catalog, func(mr MethodReplacement) bool {
		return mr.Caller.Assembly == "" || mr.Caller.Assembly == assemblyName
	})
}

// FilterByTarget returns the integrations of catalog with at least one rule
// whose target assembly is one of refs.
func FilterByTarget(catalog []Integration, refs []metadata.AssemblyRef) []Integration {
	return filter(catalog, func(mr MethodReplacement) bool {
		for _, ref := range refs {
			if mr.Target.matchesRef(ref) {
				return true
			}
		}
		return false
	})
}

// FilterByTargetImport is FilterByTarget over the assembly references of
// imp. Each reference is resolved once per call and the resolved references
// are returned for reuse. Nothing is resolved for an empty catalog.
func FilterByTargetImport(catalog []Integration, r *metadata.Resolver, imp corprof.AssemblyImport) ([]Integration, []metadata.AssemblyRef) {
	if len(catalog) == 0 {
		return nil, nil
	}
	refs := r.ResolveAssemblyRefs(imp)
	return FilterByTarget(catalog, refs), refs
}

// filter keeps whole integrations, in catalog order, if any of their rules
// satisfies keep. The catalog is not modified.
func filter(catalog []Integration, keep func(MethodReplacement) bool) []Integration {
	var enabled []Integration
	for _, i := range catalog {
		for _, mr := range i.MethodReplacements {
			if keep(mr) {
				enabled = append(enabled, i)
				break
			}
		}
	}
	return enabled
}

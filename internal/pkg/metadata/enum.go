// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"iter"

	"go.opentelemetry.io/clrauto/corprof"
)

// enumBatch is the number of tokens requested from the host per call.
const enumBatch = 16

// AssemblyRefs returns the assembly reference tokens of imp in the order the
// host reports them. Each iteration starts a new host enumeration and closes
// it when done, so the sequence can be ranged over any number of times. A
// host error ends the sequence early.
func AssemblyRefs(imp corprof.AssemblyImport) iter.Seq[corprof.Token] {
	return func(yield func(corprof.Token) bool) {
		var e corprof.Enum
		defer func() {
			if e != 0 {
				imp.CloseEnum(e)
			}
		}()

		buf := make([]corprof.Token, enumBatch)
		for {
			n, err := imp.EnumAssemblyRefs(&e, buf)
			if err != nil || n <= 0 {
				return
			}
			for _, tok := range buf[:min(n, len(buf))] {
				if !yield(tok) {
					return
				}
			}
		}
	}
}

// FindAssemblyRef returns the first assembly reference of imp named name.
func (r *Resolver) FindAssemblyRef(imp corprof.AssemblyImport, name string) (AssemblyRef, bool) {
	if name == "" {
		return AssemblyRef{}, false
	}
	for tok := range AssemblyRefs(imp) {
		if ref := r.ResolveAssemblyRef(imp, tok); ref.Name == name {
			return ref, true
		}
	}
	return AssemblyRef{}, false
}

// ResolveAssemblyRefs resolves every assembly reference of imp once.
// References that cannot be resolved are left out.
func (r *Resolver) ResolveAssemblyRefs(imp corprof.AssemblyImport) []AssemblyRef {
	var refs []AssemblyRef
	for tok := range AssemblyRefs(imp) {
		if ref := r.ResolveAssemblyRef(imp, tok); ref.IsValid() {
			refs = append(refs, ref)
		}
	}
	return refs
}

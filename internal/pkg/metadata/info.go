// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"github.com/hashicorp/go-version"

	"go.opentelemetry.io/clrauto/corprof"
)

// AssemblyInfo identifies a loaded assembly. A zero Name means the assembly
// could not be resolved.
type AssemblyInfo struct {
	ID   corprof.AssemblyID
	Name string
}

// IsValid reports whether a was resolved.
func (a AssemblyInfo) IsValid() bool { return a.Name != "" }

// ModuleInfo identifies a loaded module and the assembly that owns it.
type ModuleInfo struct {
	ID       corprof.ModuleID
	Path     string
	Assembly AssemblyInfo
	Flags    corprof.ModuleFlags
}

// IsValid reports whether m was resolved.
func (m ModuleInfo) IsValid() bool { return m.Path != "" }

// TypeInfo identifies a declared or referenced type.
type TypeInfo struct {
	Token corprof.Token
	Name  string
	// Parent is the resolution scope of a type reference. It is nil for
	// every other kind of type.
	Parent corprof.Token
}

// IsValid reports whether t was resolved.
func (t TypeInfo) IsValid() bool { return t.Name != "" }

// FunctionInfo identifies a method definition or member reference and its
// owning type. A valid FunctionInfo may have an invalid Type when the
// declaring type could not be resolved.
type FunctionInfo struct {
	Token corprof.Token
	Name  string
	Type  TypeInfo
}

// IsValid reports whether f was resolved.
func (f FunctionInfo) IsValid() bool { return f.Name != "" }

// AssemblyRef is a resolved reference to an external assembly.
type AssemblyRef struct {
	Token   corprof.Token
	Name    string
	Version *version.Version
}

// IsValid reports whether r was resolved.
func (r AssemblyRef) IsValid() bool { return r.Name != "" }

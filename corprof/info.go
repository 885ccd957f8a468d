// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package corprof defines the host runtime surface the instrumentation
// engine consumes: opaque runtime handles, metadata tokens, and the read-only
// metadata query interfaces of a loaded module.
//
// Every name returning method follows the same two-phase protocol. Called
// with a nil buffer it reports the number of UTF-16 code units required to
// hold the name including its terminating NUL. Called with a non-nil buffer
// it copies at most len(buf) code units (NUL terminated when space allows)
// and again reports the full required length.
package corprof

import "errors"

// ModuleID identifies a loaded module within the host runtime.
type ModuleID uintptr

// AssemblyID identifies a loaded assembly within the host runtime.
type AssemblyID uintptr

// FunctionID identifies a function known to the host runtime.
type FunctionID uintptr

// Enum is a host enumeration cursor. The zero value starts a new
// enumeration.
type Enum uintptr

// ErrNotFound is returned by a surface when a handle or token does not refer
// to anything it knows about.
var ErrNotFound = errors.New("corprof: not found")

// ModuleFlags describe how a module was loaded.
type ModuleFlags uint32

const (
	ModuleFlagOnDisk         ModuleFlags = 0x1
	ModuleFlagNGen           ModuleFlags = 0x2
	ModuleFlagDynamic        ModuleFlags = 0x4
	ModuleFlagCollectible    ModuleFlags = 0x8
	ModuleFlagResource       ModuleFlags = 0x10
	ModuleFlagFlatLayout     ModuleFlags = 0x20
	ModuleFlagWindowsRuntime ModuleFlags = 0x40
)

// Has reports whether all bits of flag are set in f.
func (f ModuleFlags) Has(flag ModuleFlags) bool {
	return f&flag == flag
}

// EventMask selects the callbacks the host delivers to the profiler.
type EventMask uint32

const (
	MonitorModuleLoads    EventMask = 0x4
	MonitorJITCompilation EventMask = 0x20
	DisableInlining       EventMask = 0x2000
	DisableOptimizations  EventMask = 0x4000
)

// AssemblyMetadata is the version and culture of an assembly reference.
type AssemblyMetadata struct {
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Locale         string
}

// ProfilerInfo is the runtime-level introspection surface.
type ProfilerInfo interface {
	// SetEventMask selects the events the host delivers.
	SetEventMask(mask EventMask) error
	// GetAssemblyInfo writes the name of the assembly into name.
	GetAssemblyInfo(id AssemblyID, name []uint16) (nameLen int, err error)
	// GetModuleInfo writes the file path of the module into path and
	// returns its owning assembly and load flags.
	GetModuleInfo(id ModuleID, path []uint16) (pathLen int, assembly AssemblyID, flags ModuleFlags, err error)
	// GetFunctionInfo returns the module and method definition token of a
	// function.
	GetFunctionInfo(id FunctionID) (ModuleID, Token, error)
	// GetModuleMetadata returns the metadata import of a loaded module.
	GetModuleMetadata(id ModuleID) (ModuleImport, error)
}

// MetadataImport queries type and member declarations of one module.
type MetadataImport interface {
	// GetTypeDefProps returns the full name and base type of a TypeDef.
	GetTypeDefProps(td Token, name []uint16) (nameLen int, extends Token, err error)
	// GetTypeRefProps returns the full name and resolution scope of a
	// TypeRef.
	GetTypeRefProps(tr Token, name []uint16) (nameLen int, scope Token, err error)
	// GetMethodProps returns the name and owning TypeDef of a MethodDef.
	GetMethodProps(md Token, name []uint16) (nameLen int, class Token, err error)
	// GetMemberRefProps returns the name and parent of a MemberRef. The
	// parent is a TypeDef, TypeRef, TypeSpec, ModuleRef or MethodDef.
	GetMemberRefProps(mr Token, name []uint16) (nameLen int, parent Token, err error)
	// GetModuleRefProps returns the name of a ModuleRef.
	GetModuleRefProps(mr Token, name []uint16) (nameLen int, err error)
}

// AssemblyImport queries the assembly manifest of one module.
type AssemblyImport interface {
	// GetAssemblyRefProps returns the name and version of an AssemblyRef.
	GetAssemblyRefProps(ar Token, name []uint16) (nameLen int, md AssemblyMetadata, err error)
	// EnumAssemblyRefs fills refs with the next AssemblyRef tokens and
	// returns how many were written. Zero with a nil error ends the
	// enumeration.
	EnumAssemblyRefs(e *Enum, refs []Token) (int, error)
	// CloseEnum releases an enumeration cursor.
	CloseEnum(e Enum)
}

// ModuleImport is the full metadata surface of a module.
type ModuleImport interface {
	MetadataImport
	AssemblyImport
}

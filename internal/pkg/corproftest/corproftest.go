// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package corproftest provides an in-memory host surface for testing.
//
// All maps are read after construction only, so a populated Host and its
// Imports can be shared by concurrently running callbacks.
package corproftest

import (
	"sync/atomic"
	"unicode/utf16"

	"go.opentelemetry.io/clrauto/corprof"
)

// Host is an in-memory [corprof.ProfilerInfo].
type Host struct {
	Assemblies map[corprof.AssemblyID]string
	Modules    map[corprof.ModuleID]Module
	Functions  map[corprof.FunctionID]Function

	// EventMaskErr is returned by SetEventMask when set.
	EventMaskErr error

	mask atomic.Uint32
}

var _ corprof.ProfilerInfo = (*Host)(nil)

// Module is a loaded module of a Host.
type Module struct {
	Path     string
	Assembly corprof.AssemblyID
	Flags    corprof.ModuleFlags
	Import   *Import
	// MetadataErr is returned by GetModuleMetadata when set.
	MetadataErr error
}

// Function is a compiled function of a Host.
type Function struct {
	Module corprof.ModuleID
	Token  corprof.Token
}

// NewHost returns an empty Host.
func NewHost() *Host {
	return &Host{
		Assemblies: make(map[corprof.AssemblyID]string),
		Modules:    make(map[corprof.ModuleID]Module),
		Functions:  make(map[corprof.FunctionID]Function),
	}
}

// AddModule registers a module id owned by a new assembly with the same id
// and name assembly.
func (h *Host) AddModule(id corprof.ModuleID, path, assembly string, imp *Import) {
	h.Assemblies[corprof.AssemblyID(id)] = assembly
	h.Modules[id] = Module{
		Path:     path,
		Assembly: corprof.AssemblyID(id),
		Flags:    corprof.ModuleFlagOnDisk,
		Import:   imp,
	}
}

// EventMask returns the last mask set with SetEventMask.
func (h *Host) EventMask() corprof.EventMask {
	return corprof.EventMask(h.mask.Load())
}

func (h *Host) SetEventMask(mask corprof.EventMask) error {
	if h.EventMaskErr != nil {
		return h.EventMaskErr
	}
	h.mask.Store(uint32(mask))
	return nil
}

func (h *Host) GetAssemblyInfo(id corprof.AssemblyID, name []uint16) (int, error) {
	n, ok := h.Assemblies[id]
	if !ok {
		return 0, corprof.ErrNotFound
	}
	return Fill(n, name), nil
}

func (h *Host) GetModuleInfo(id corprof.ModuleID, path []uint16) (int, corprof.AssemblyID, corprof.ModuleFlags, error) {
	m, ok := h.Modules[id]
	if !ok {
		return 0, 0, 0, corprof.ErrNotFound
	}
	return Fill(m.Path, path), m.Assembly, m.Flags, nil
}

func (h *Host) GetFunctionInfo(id corprof.FunctionID) (corprof.ModuleID, corprof.Token, error) {
	f, ok := h.Functions[id]
	if !ok {
		return 0, corprof.TokenNil, corprof.ErrNotFound
	}
	return f.Module, f.Token, nil
}

func (h *Host) GetModuleMetadata(id corprof.ModuleID) (corprof.ModuleImport, error) {
	m, ok := h.Modules[id]
	if !ok {
		return nil, corprof.ErrNotFound
	}
	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	if m.Import == nil {
		return NewImport(), nil
	}
	return m.Import, nil
}

// Named is a metadata row with a name and an optional parent token.
type Named struct {
	Name   string
	Parent corprof.Token
}

// AssemblyRef is an assembly reference row of an Import.
type AssemblyRef struct {
	Token    corprof.Token
	Name     string
	Metadata corprof.AssemblyMetadata
}

// Import is an in-memory [corprof.ModuleImport].
type Import struct {
	TypeDefs     map[corprof.Token]Named
	TypeRefs     map[corprof.Token]Named
	Methods      map[corprof.Token]Named
	MemberRefs   map[corprof.Token]Named
	ModuleRefs   map[corprof.Token]Named
	AssemblyRefs []AssemblyRef

	// EnumErr is returned by EnumAssemblyRefs when set.
	EnumErr error

	queries atomic.Int64
	opened  atomic.Int64
	closed  atomic.Int64
}

var _ corprof.ModuleImport = (*Import)(nil)

// NewImport returns an empty Import.
func NewImport() *Import {
	return &Import{
		TypeDefs:   make(map[corprof.Token]Named),
		TypeRefs:   make(map[corprof.Token]Named),
		Methods:    make(map[corprof.Token]Named),
		MemberRefs: make(map[corprof.Token]Named),
		ModuleRefs: make(map[corprof.Token]Named),
	}
}

// AddAssemblyRef appends an assembly reference with the next row id and
// returns its token.
func (i *Import) AddAssemblyRef(name string, md corprof.AssemblyMetadata) corprof.Token {
	tok := corprof.NewToken(corprof.TokenKindAssemblyRef, uint32(len(i.AssemblyRefs)+1))
	i.AssemblyRefs = append(i.AssemblyRefs, AssemblyRef{Token: tok, Name: name, Metadata: md})
	return tok
}

// Queries returns the number of name queries served.
func (i *Import) Queries() int64 { return i.queries.Load() }

// OpenEnums returns the number of enumerations started but not closed.
func (i *Import) OpenEnums() int64 { return i.opened.Load() - i.closed.Load() }

func (i *Import) lookup(rows map[corprof.Token]Named, tok corprof.Token, name []uint16) (int, corprof.Token, error) {
	i.queries.Add(1)
	row, ok := rows[tok]
	if !ok {
		return 0, corprof.TokenNil, corprof.ErrNotFound
	}
	return Fill(row.Name, name), row.Parent, nil
}

func (i *Import) GetTypeDefProps(td corprof.Token, name []uint16) (int, corprof.Token, error) {
	return i.lookup(i.TypeDefs, td, name)
}

func (i *Import) GetTypeRefProps(tr corprof.Token, name []uint16) (int, corprof.Token, error) {
	return i.lookup(i.TypeRefs, tr, name)
}

func (i *Import) GetMethodProps(md corprof.Token, name []uint16) (int, corprof.Token, error) {
	return i.lookup(i.Methods, md, name)
}

func (i *Import) GetMemberRefProps(mr corprof.Token, name []uint16) (int, corprof.Token, error) {
	return i.lookup(i.MemberRefs, mr, name)
}

func (i *Import) GetModuleRefProps(mr corprof.Token, name []uint16) (int, error) {
	n, _, err := i.lookup(i.ModuleRefs, mr, name)
	return n, err
}

func (i *Import) GetAssemblyRefProps(ar corprof.Token, name []uint16) (int, corprof.AssemblyMetadata, error) {
	i.queries.Add(1)
	for _, ref := range i.AssemblyRefs {
		if ref.Token == ar {
			return Fill(ref.Name, name), ref.Metadata, nil
		}
	}
	return 0, corprof.AssemblyMetadata{}, corprof.ErrNotFound
}

// EnumAssemblyRefs stores the next unread position plus one in e.
func (i *Import) EnumAssemblyRefs(e *corprof.Enum, refs []corprof.Token) (int, error) {
	if i.EnumErr != nil {
		return 0, i.EnumErr
	}
	pos := 0
	if *e == 0 {
		i.opened.Add(1)
	} else {
		pos = int(*e) - 1
	}
	n := 0
	for pos < len(i.AssemblyRefs) && n < len(refs) {
		refs[n] = i.AssemblyRefs[pos].Token
		n++
		pos++
	}
	*e = corprof.Enum(pos + 1)
	return n, nil
}

func (i *Import) CloseEnum(corprof.Enum) {
	i.closed.Add(1)
}

// Fill implements the two-phase name protocol for name: it copies as much of
// the NUL terminated UTF-16 encoding of name into buf as fits and returns
// the full encoded length. An empty name reports zero.
func Fill(name string, buf []uint16) int {
	if name == "" {
		return 0
	}
	u := append(utf16.Encode([]rune(name)), 0)
	copy(buf, u)
	return len(u)
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/corproftest"
)

var (
	tdProgram    = corprof.NewToken(corprof.TokenKindTypeDef, 2)
	trCommand    = corprof.NewToken(corprof.TokenKindTypeRef, 1)
	trNested     = corprof.NewToken(corprof.TokenKindTypeRef, 2)
	tsGeneric    = corprof.NewToken(corprof.TokenKindTypeSpec, 1)
	mrNative     = corprof.NewToken(corprof.TokenKindModuleRef, 1)
	mdMain       = corprof.NewToken(corprof.TokenKindMethodDef, 1)
	mdOrphan     = corprof.NewToken(corprof.TokenKindMethodDef, 2)
	mdLoop       = corprof.NewToken(corprof.TokenKindMethodDef, 3)
	memExecute   = corprof.NewToken(corprof.TokenKindMemberRef, 1)
	memGeneric   = corprof.NewToken(corprof.TokenKindMemberRef, 2)
	memPInvoke   = corprof.NewToken(corprof.TokenKindMemberRef, 3)
	memVararg    = corprof.NewToken(corprof.TokenKindMemberRef, 4)
	memLoop      = corprof.NewToken(corprof.TokenKindMemberRef, 5)
	arSystemData = corprof.NewToken(corprof.TokenKindAssemblyRef, 1)
)

func testImport() *corproftest.Import {
	imp := corproftest.NewImport()
	imp.TypeDefs[tdProgram] = corproftest.Named{Name: "App.Program"}
	imp.TypeRefs[trCommand] = corproftest.Named{Name: "System.Data.SqlClient.SqlCommand", Parent: arSystemData}
	imp.TypeRefs[trNested] = corproftest.Named{Name: ""}
	imp.ModuleRefs[mrNative] = corproftest.Named{Name: "kernel32.dll"}
	imp.Methods[mdMain] = corproftest.Named{Name: "Main", Parent: tdProgram}
	imp.Methods[mdOrphan] = corproftest.Named{Name: "Orphan", Parent: corprof.NewToken(corprof.TokenKindTypeDef, 99)}
	imp.Methods[mdLoop] = corproftest.Named{Name: "Loop", Parent: mdLoop}
	imp.MemberRefs[memExecute] = corproftest.Named{Name: "ExecuteReader", Parent: trCommand}
	imp.MemberRefs[memGeneric] = corproftest.Named{Name: "Add", Parent: tsGeneric}
	imp.MemberRefs[memPInvoke] = corproftest.Named{Name: "GetTickCount", Parent: mrNative}
	imp.MemberRefs[memVararg] = corproftest.Named{Name: "Format", Parent: mdMain}
	imp.MemberRefs[memLoop] = corproftest.Named{Name: "Loop", Parent: memLoop}
	imp.AddAssemblyRef("System.Data", corprof.AssemblyMetadata{MajorVersion: 4, MinorVersion: 0})
	return imp
}

func TestResolveType(t *testing.T) {
	r := NewResolver(nil)
	imp := testImport()

	tests := []struct {
		name string
		tok  corprof.Token
		want TypeInfo
	}{
		{
			name: "TypeDef",
			tok:  tdProgram,
			want: TypeInfo{Token: tdProgram, Name: "App.Program"},
		},
		{
			name: "TypeRef records scope",
			tok:  trCommand,
			want: TypeInfo{Token: trCommand, Name: "System.Data.SqlClient.SqlCommand", Parent: arSystemData},
		},
		{
			name: "ModuleRef",
			tok:  mrNative,
			want: TypeInfo{Token: mrNative, Name: "kernel32.dll"},
		},
		{
			name: "MethodDef resolves owning type",
			tok:  mdMain,
			want: TypeInfo{Token: tdProgram, Name: "App.Program"},
		},
		{
			name: "MemberRef resolves owning type",
			tok:  memExecute,
			want: TypeInfo{Token: trCommand, Name: "System.Data.SqlClient.SqlCommand", Parent: arSystemData},
		},
		{
			name: "TypeSpec is not resolved",
			tok:  tsGeneric,
			want: TypeInfo{},
		},
		{
			name: "empty name is unresolved",
			tok:  trNested,
			want: TypeInfo{},
		},
		{
			name: "unknown token",
			tok:  corprof.NewToken(corprof.TokenKindTypeDef, 42),
			want: TypeInfo{},
		},
		{
			name: "nil token",
			tok:  corprof.TokenNil,
			want: TypeInfo{},
		},
		{
			name: "unsupported kind",
			tok:  corprof.NewToken(corprof.TokenKindFieldDef, 1),
			want: TypeInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveType(imp, tt.tok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Name != "", got.IsValid())
		})
	}
}

func TestResolveFunction(t *testing.T) {
	r := NewResolver(nil)
	imp := testImport()

	tests := []struct {
		name string
		tok  corprof.Token
		want FunctionInfo
	}{
		{
			name: "MethodDef",
			tok:  mdMain,
			want: FunctionInfo{Token: mdMain, Name: "Main", Type: TypeInfo{Token: tdProgram, Name: "App.Program"}},
		},
		{
			name: "MemberRef on TypeRef",
			tok:  memExecute,
			want: FunctionInfo{
				Token: memExecute,
				Name:  "ExecuteReader",
				Type:  TypeInfo{Token: trCommand, Name: "System.Data.SqlClient.SqlCommand", Parent: arSystemData},
			},
		},
		{
			name: "MemberRef on TypeSpec keeps name",
			tok:  memGeneric,
			want: FunctionInfo{Token: memGeneric, Name: "Add"},
		},
		{
			name: "MemberRef on ModuleRef",
			tok:  memPInvoke,
			want: FunctionInfo{Token: memPInvoke, Name: "GetTickCount", Type: TypeInfo{Token: mrNative, Name: "kernel32.dll"}},
		},
		{
			name: "MemberRef on MethodDef",
			tok:  memVararg,
			want: FunctionInfo{Token: memVararg, Name: "Format", Type: TypeInfo{Token: tdProgram, Name: "App.Program"}},
		},
		{
			name: "unresolvable parent",
			tok:  mdOrphan,
			want: FunctionInfo{Token: mdOrphan, Name: "Orphan"},
		},
		{
			name: "self referencing parent terminates",
			tok:  memLoop,
			want: FunctionInfo{Token: memLoop, Name: "Loop"},
		},
		{
			name: "self referencing method definition terminates",
			tok:  mdLoop,
			want: FunctionInfo{Token: mdLoop, Name: "Loop"},
		},
		{
			name: "TypeDef is not a function",
			tok:  tdProgram,
			want: FunctionInfo{},
		},
		{
			name: "unknown method",
			tok:  corprof.NewToken(corprof.TokenKindMethodDef, 77),
			want: FunctionInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveFunction(imp, tt.tok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDepthBound(t *testing.T) {
	r := NewResolver(nil)
	imp := testImport()

	fn := r.ResolveFunction(imp, mdLoop)
	assert.Equal(t, "Loop", fn.Name)
	assert.False(t, fn.Type.IsValid())
	// Functions are resolved at every other depth up to maxResolveDepth,
	// two name queries each.
	assert.Equal(t, int64(2*(maxResolveDepth/2+1)), imp.Queries())
}

func TestResolveIdempotent(t *testing.T) {
	r := NewResolver(nil)
	imp := testImport()

	for _, tok := range []corprof.Token{tdProgram, trCommand, mdMain, memExecute, memVararg, tsGeneric} {
		assert.Equal(t, r.ResolveType(imp, tok), r.ResolveType(imp, tok), "type %s", tok)
		assert.Equal(t, r.ResolveFunction(imp, tok), r.ResolveFunction(imp, tok), "function %s", tok)
	}
}

func TestResolveAssemblyAndModule(t *testing.T) {
	r := NewResolver(nil)
	host := corproftest.NewHost()
	host.AddModule(1, "/app/App.A.dll", "App.A", nil)
	host.Modules[2] = corproftest.Module{Path: "/app/Orphan.dll", Assembly: 99}
	host.Modules[3] = corproftest.Module{Path: "", Assembly: 1}

	t.Run("assembly", func(t *testing.T) {
		got := r.ResolveAssembly(host, 1)
		assert.Equal(t, AssemblyInfo{ID: 1, Name: "App.A"}, got)
		assert.True(t, got.IsValid())
	})

	t.Run("unknown assembly", func(t *testing.T) {
		got := r.ResolveAssembly(host, 42)
		assert.Equal(t, AssemblyInfo{}, got)
		assert.False(t, got.IsValid())
	})

	t.Run("module", func(t *testing.T) {
		got := r.ResolveModule(host, 1)
		assert.Equal(t, ModuleInfo{
			ID:       1,
			Path:     "/app/App.A.dll",
			Assembly: AssemblyInfo{ID: 1, Name: "App.A"},
			Flags:    corprof.ModuleFlagOnDisk,
		}, got)
		assert.True(t, got.IsValid())
	})

	t.Run("module with unknown assembly", func(t *testing.T) {
		got := r.ResolveModule(host, 2)
		assert.Equal(t, "/app/Orphan.dll", got.Path)
		assert.False(t, got.Assembly.IsValid())
	})

	t.Run("module without path", func(t *testing.T) {
		assert.Equal(t, ModuleInfo{}, r.ResolveModule(host, 3))
	})

	t.Run("unknown module", func(t *testing.T) {
		assert.False(t, r.ResolveModule(host, 42).IsValid())
	})
}

// scriptedInfo answers GetAssemblyInfo with a fixed length and fill.
type scriptedInfo struct {
	corprof.ProfilerInfo

	sizeLen int
	sizeErr error
	fillLen int
	fillErr error
	fill    []uint16
	bufLens []int
}

func (s *scriptedInfo) GetAssemblyInfo(_ corprof.AssemblyID, name []uint16) (int, error) {
	if name == nil {
		return s.sizeLen, s.sizeErr
	}
	s.bufLens = append(s.bufLens, len(name))
	copy(name, s.fill)
	return s.fillLen, s.fillErr
}

func TestQueryNameProtocol(t *testing.T) {
	r := NewResolver(nil)
	abc := []uint16{'a', 'b', 'c', 0}

	t.Run("size failure", func(t *testing.T) {
		s := &scriptedInfo{sizeErr: errors.New("E_FAIL")}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
		assert.Empty(t, s.bufLens, "no second phase")
	})

	t.Run("zero length", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 0}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
		assert.Empty(t, s.bufLens)
	})

	t.Run("fill failure", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 4, fillErr: errors.New("E_FAIL"), fill: abc}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
	})

	t.Run("terminator only", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 1, fillLen: 1, fill: []uint16{0}}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
	})

	t.Run("terminator trimmed", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 4, fillLen: 4, fill: abc}
		assert.Equal(t, AssemblyInfo{ID: 1, Name: "abc"}, r.ResolveAssembly(s, 1))
		assert.Equal(t, []int{4}, s.bufLens)
	})

	t.Run("longest name", func(t *testing.T) {
		name := make([]uint16, MaxNameLen)
		for i := range name[:MaxNameLen-1] {
			name[i] = 'x'
		}
		s := &scriptedInfo{sizeLen: MaxNameLen, fillLen: MaxNameLen, fill: name}
		got := r.ResolveAssembly(s, 1)
		assert.Equal(t, []int{MaxNameLen}, s.bufLens)
		assert.Equal(t, strings.Repeat("x", MaxNameLen-1), got.Name)
	})

	t.Run("too long is unresolved", func(t *testing.T) {
		long := make([]uint16, 5000)
		for i := range long {
			long[i] = 'x'
		}
		s := &scriptedInfo{sizeLen: 5001, fillLen: 5001, fill: long}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
		assert.Empty(t, s.bufLens, "nothing allocated")
	})

	t.Run("grows between queries", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 4, fillLen: MaxNameLen + 1, fill: abc}
		assert.Equal(t, AssemblyInfo{}, r.ResolveAssembly(s, 1))
	})

	t.Run("non ASCII", func(t *testing.T) {
		s := &scriptedInfo{sizeLen: 4, fillLen: 4, fill: []uint16{'Ä', 0xd83d, 0xde00, 0}}
		assert.Equal(t, "Ä😀", r.ResolveAssembly(s, 1).Name)
	})
}

func TestResolveAssemblyRef(t *testing.T) {
	r := NewResolver(nil)
	imp := testImport()

	ref := r.ResolveAssemblyRef(imp, arSystemData)
	require.True(t, ref.IsValid())
	assert.Equal(t, "System.Data", ref.Name)
	assert.Equal(t, arSystemData, ref.Token)
	require.NotNil(t, ref.Version)
	assert.Equal(t, []int{4, 0, 0, 0}, ref.Version.Segments())

	assert.False(t, r.ResolveAssemblyRef(imp, corprof.NewToken(corprof.TokenKindAssemblyRef, 9)).IsValid())
}

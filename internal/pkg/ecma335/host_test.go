// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

func TestHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "App.A.dll")
	require.NoError(t, os.WriteFile(path, buildPE(appAssembly(0).metadata()), 0o600))

	h := NewHost()
	id, err := h.Load(path)
	require.NoError(t, err)
	assert.Equal(t, corprof.ModuleID(1), id)

	_, err = h.Load(filepath.Join(t.TempDir(), "missing.dll"))
	assert.Error(t, err)

	r := metadata.NewResolver(nil)
	module := r.ResolveModule(h, id)
	assert.Equal(t, path, module.Path)
	assert.Equal(t, "App.A", module.Assembly.Name)
	assert.Equal(t, corprof.AssemblyID(id), module.Assembly.ID)
	assert.True(t, module.Flags.Has(corprof.ModuleFlagOnDisk))

	require.NoError(t, h.SetEventMask(corprof.MonitorModuleLoads))
	assert.Equal(t, corprof.MonitorModuleLoads, h.EventMask())

	fids := slices.Collect(h.Functions(id))
	require.Len(t, fids, 3)
	mid, tok, err := h.GetFunctionInfo(fids[1])
	require.NoError(t, err)
	assert.Equal(t, id, mid)
	assert.Equal(t, mdRun, tok)

	imp, err := h.GetModuleMetadata(id)
	require.NoError(t, err)
	fn := r.ResolveFunction(imp, tok)
	assert.Equal(t, "Run", fn.Name)
	assert.Equal(t, "App.A.Program", fn.Type.Name)
}

func TestHostUnknownIDs(t *testing.T) {
	h := NewHost()
	img := parseApp(t, 0)
	id := h.Add("/app/App.A.dll", img)

	got, ok := h.Image(id)
	require.True(t, ok)
	assert.Same(t, img, got)

	_, ok = h.Image(id + 1)
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(h.Functions(id+1)))

	_, err := h.GetAssemblyInfo(corprof.AssemblyID(id+1), nil)
	assert.ErrorIs(t, err, corprof.ErrNotFound)
	_, _, _, err = h.GetModuleInfo(0, nil)
	assert.ErrorIs(t, err, corprof.ErrNotFound)
	_, err = h.GetModuleMetadata(id + 1)
	assert.ErrorIs(t, err, corprof.ErrNotFound)

	for _, fid := range []corprof.FunctionID{
		FunctionID(id+1, mdRun),
		FunctionID(id, corprof.NewToken(corprof.TokenKindMethodDef, 4)),
		FunctionID(id, trObject),
		0,
	} {
		_, _, err := h.GetFunctionInfo(fid)
		assert.ErrorIs(t, err, corprof.ErrNotFound)
	}
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/instrumentation"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
)

func TestManagerOverImages(t *testing.T) {
	version, err := integration.ParseVersionConstraint(">= 4.0, < 5.0")
	require.NoError(t, err)

	catalog := []integration.Integration{
		{
			Name: "AdoNet",
			MethodReplacements: []integration.MethodReplacement{{
				Caller: integration.MethodReference{Type: "App.A.Program"},
				Target: integration.MethodReference{
					Assembly: "System.Data",
					Type:     "System.Data.SqlClient.SqlCommand",
					Method:   "ExecuteReader",
					Version:  version,
				},
				Wrapper: integration.MethodReference{Assembly: "OpenTelemetry.ClrProfiler.Managed", Type: "AdoNetIntegration", Method: "ExecuteReader"},
			}},
		},
		{
			Name: "Redis",
			MethodReplacements: []integration.MethodReplacement{{
				Target:  integration.MethodReference{Assembly: "StackExchange.Redis"},
				Wrapper: integration.MethodReference{Assembly: "OpenTelemetry.ClrProfiler.Managed"},
			}},
		},
	}

	m, err := instrumentation.NewManager(nil, catalog, instrumentation.Config{}, noop.NewMeterProvider(), "test")
	require.NoError(t, err)

	h := NewHost()
	id := h.Add("/app/App.A.dll", parseApp(t, 0))
	require.NoError(t, m.Initialize(h))
	assert.Equal(t, instrumentation.EventMask, h.EventMask())

	require.NoError(t, m.ModuleLoadFinished(id, nil))
	md, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "App.A", md.Assembly.Name)
	assert.Equal(t, []string{"AdoNet"}, integration.Names(md.Integrations))
	assert.Equal(t, arSystemData, md.AssemblyRefs["System.Data"].Token)

	directives := map[string]bool{}
	for fid := range h.Functions(id) {
		d, err := m.JITCompilationStarted(fid, true)
		require.NoError(t, err)
		if d != nil {
			directives[d.Caller.Name] = true
			assert.Equal(t, "App.A.Program", d.Caller.Type.Name)
		}
	}
	assert.Equal(t, map[string]bool{"Main": true, "Run": true}, directives)

	d, err := m.JITCompilationStarted(FunctionID(id, corprof.NewToken(corprof.TokenKindMethodDef, 9)), true)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, m.Shutdown())
}

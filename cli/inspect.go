// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/clrauto"
	"go.opentelemetry.io/clrauto/corprof"
	"go.opentelemetry.io/clrauto/internal/pkg/ecma335"
	"go.opentelemetry.io/clrauto/internal/pkg/integration"
	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

type inspectOptions struct {
	integrations string
	methods      bool
	metrics      bool
}

type report struct {
	Modules []moduleReport `yaml:"modules"`
	// AgentLoaded is set if one of the files is a wrapper assembly of the
	// catalog.
	AgentLoaded bool `yaml:"agent_loaded,omitempty"`
}

type moduleReport struct {
	Path         string            `yaml:"path"`
	ID           uint64            `yaml:"id,omitempty"`
	Assembly     string            `yaml:"assembly,omitempty"`
	Version      string            `yaml:"version,omitempty"`
	MVID         string            `yaml:"mvid,omitempty"`
	Error        string            `yaml:"error,omitempty"`
	References   []referenceReport `yaml:"references,omitempty"`
	Integrations []string          `yaml:"integrations,omitempty"`
	Methods      []methodReport    `yaml:"methods,omitempty"`
}

type referenceReport struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

type methodReport struct {
	Token        string                      `yaml:"token"`
	Type         string                      `yaml:"type,omitempty"`
	Method       string                      `yaml:"method"`
	Integrations []string                    `yaml:"integrations,omitempty"`
	Replacements []clrauto.MethodReplacement `yaml:"replacements,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var opts inspectOptions
	cmd := &cobra.Command{
		Use:   "inspect [flags] FILE...",
		Short: "Report the modules, references and directives of assemblies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.Context(), cmd.OutOrStdout(), a, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.integrations, "integrations", "", "Integration catalog file (YAML or JSON)")
	cmd.Flags().BoolVar(&opts.methods, "methods", false, "Report the directive of every method definition")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print the engine metrics after the report")
	return cmd
}

func inspect(ctx context.Context, w io.Writer, a *app, opts inspectOptions, paths []string) error {
	logger := a.logger
	if logger == nil {
		logger = newLogger(io.Discard, "")
	}

	profOpts := []clrauto.ProfilerOption{clrauto.WithEnv(), clrauto.WithLogger(logger)}
	if opts.integrations != "" {
		profOpts = append(profOpts, clrauto.WithIntegrationsFile(opts.integrations))
	}

	var reader *sdkmetric.ManualReader
	if opts.metrics {
		reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()
		profOpts = append(profOpts, clrauto.WithMeterProvider(mp))
	} else {
		profOpts = append(profOpts, clrauto.WithMeterProvider(noop.NewMeterProvider()))
	}

	p, err := clrauto.NewProfiler(ctx, profOpts...)
	if err != nil {
		return fmt.Errorf("failed to create profiler: %w", err)
	}

	host := ecma335.NewHost()
	if err := p.Initialize(host); err != nil {
		return fmt.Errorf("failed to initialize profiler: %w", err)
	}

	r := metadata.NewResolver(logger)
	var rep report
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, p.Shutdown())
		}

		id, err := host.Load(path)
		if err != nil {
			logger.Warn("failed to load assembly", "path", path, "error", err)
			rep.Modules = append(rep.Modules, moduleReport{Path: path, Error: err.Error()})
			continue
		}
		if err := p.ModuleLoadFinished(id, nil); err != nil {
			logger.Error("module load callback failed", "path", path, "error", err)
		}
		rep.Modules = append(rep.Modules, newModuleReport(p, host, r, id, opts.methods))
	}

	rep.AgentLoaded = p.AgentLoaded()
	if err := p.Shutdown(); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if reader != nil {
		return writeMetrics(ctx, w, reader)
	}
	return nil
}

func newModuleReport(p *clrauto.Profiler, h *ecma335.Host, r *metadata.Resolver, id corprof.ModuleID, methods bool) moduleReport {
	img, _ := h.Image(id)
	mr := moduleReport{
		ID:      uint64(id),
		MVID:    img.MVID,
		Version: formatVersion(img.Assembly),
	}

	md, ok := p.Lookup(id)
	if !ok {
		mr.Error = "module not cached"
		return mr
	}
	mr.Path = md.Module.Path
	mr.Assembly = md.Assembly.Name
	mr.Integrations = integration.Names(md.Integrations)

	for _, ref := range r.ResolveAssemblyRefs(img) {
		rr := referenceReport{Name: ref.Name}
		if ref.Version != nil {
			rr.Version = ref.Version.String()
		}
		mr.References = append(mr.References, rr)
	}

	if !methods {
		return mr
	}
	for tok := range img.MethodDefs() {
		fn := r.ResolveFunction(img, tok)
		m := methodReport{Token: tok.String(), Type: fn.Type.Name, Method: fn.Name}
		d, err := p.JITCompilationStarted(ecma335.FunctionID(id, tok), true)
		if err == nil && d != nil {
			m.Integrations = integration.Names(d.Integrations)
			m.Replacements = d.Replacements
		}
		mr.Methods = append(mr.Methods, m)
	}
	return mr
}

func formatVersion(md corprof.AssemblyMetadata) string {
	if md == (corprof.AssemblyMetadata{}) {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", md.MajorVersion, md.MinorVersion, md.BuildNumber, md.RevisionNumber)
}

func writeMetrics(ctx context.Context, w io.Writer, reader sdkmetric.Reader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	return errors.Join(exp.Export(ctx, &rm), exp.Shutdown(ctx))
}

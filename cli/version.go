// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/clrauto"
)

// buildInfo describes the clrauto binary.
type buildInfo struct {
	Release  string `yaml:"release"`
	Revision string `yaml:"revision"`
	Time     string `yaml:"time,omitempty"`
	Dirty    bool   `yaml:"dirty,omitempty"`
	Go       string `yaml:"go"`
	Platform string `yaml:"platform"`
	// Integrations lists the integrations enabled by the environment.
	Integrations []string `yaml:"integrations,omitempty"`
}

var vcsInfo = sync.OnceValue(func() buildInfo {
	info := buildInfo{Revision: "unknown"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.time":
			info.Time = s.Value
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
})

func newBuildInfo(p *clrauto.Profiler) buildInfo {
	info := vcsInfo()
	info.Release = clrauto.Version()
	info.Go = runtime.Version()
	info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	for _, i := range p.Integrations() {
		info.Integrations = append(info.Integrations, i.Name)
	}
	return info
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build information and the integrations enabled by the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := clrauto.NewProfiler(cmd.Context(), clrauto.WithEnv(), clrauto.WithLogger(a.logger))
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(newBuildInfo(p))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

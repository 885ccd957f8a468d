// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the clrauto command. It runs the instrumentation
// engine over managed assemblies on disk and reports what the engine would
// rewrite when the runtime loads them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/clrauto"
)

// envLogLevelKey is the key for the environment variable value containing
// the log level.
const envLogLevelKey = "OTEL_LOG_LEVEL"

const long = `Runs the CLR instrumentation engine over managed assemblies.

Each assembly is loaded as a module of a simulated runtime. The engine
resolves its identity and references, selects the integrations that apply
to it, and, with --methods, decides for every method definition whether
its calls are rewritten.

Environment variable configuration:

	- OTEL_LOG_LEVEL: log level (flag takes precedence)
	- OTEL_CLR_AUTO_INTEGRATIONS: path of an integration catalog file
	- OTEL_CLR_AUTO_DISABLED_INTEGRATIONS: comma separated integration names
	- OTEL_CLR_AUTO_SKIP_ASSEMBLIES: comma separated assembly names
`

type app struct {
	logLevel string
	logger   *slog.Logger
}

func newLogger(w io.Writer, lvlStr string) *slog.Logger {
	levelVar := new(slog.LevelVar) // Default value of info.
	opts := &slog.HandlerOptions{AddSource: true, Level: levelVar}
	h := slog.NewJSONHandler(w, opts)
	logger := slog.New(h)

	if lvlStr == "" {
		lvlStr = os.Getenv(envLogLevelKey)
	}

	if lvlStr == "" {
		return logger
	}

	level, err := clrauto.ParseLogLevel(lvlStr)
	if err != nil {
		logger.Error("failed to parse log level", "error", err, "log-level", lvlStr)
	} else {
		levelVar.Set(level.Level())
	}

	return logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "clrauto",
		Short:         "Inspect managed assemblies with the CLR instrumentation engine",
		Long:          long,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.logger = newLogger(cmd.ErrOrStderr(), a.logLevel)
			otel.SetLogger(logr.FromSlogHandler(a.logger.Handler()))
		},
	}
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", `Logging level ("debug", "info", "warn", "error")`)

	cmd.AddCommand(newInspectCmd(a), newVersionCmd(a))
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

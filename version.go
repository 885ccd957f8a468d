// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clrauto

// Version is the current release version of the CLR instrumentation engine
// in use.
func Version() string {
	return "v0.1.0"
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration defines the declarative catalog of instrumentation
// integrations and the filters that narrow it to what a module can use.
package integration

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/clrauto/internal/pkg/metadata"
)

// Integration is a named bundle of method replacement rules.
type Integration struct {
	Name string
	// SpanKind is the kind of span the integration produces. It is used to
	// enable the client or server half of an integration separately.
	SpanKind           trace.SpanKind
	MethodReplacements []MethodReplacement
}

// MethodReplacement redirects calls made by Caller to Target through
// Wrapper.
type MethodReplacement struct {
	Caller  MethodReference `yaml:"caller,omitempty"`
	Target  MethodReference `yaml:"target,omitempty"`
	Wrapper MethodReference `yaml:"wrapper,omitempty"`
}

// MethodReference names a method. Empty fields match anything.
type MethodReference struct {
	Assembly  string            `yaml:"assembly,omitempty"`
	Type      string            `yaml:"type,omitempty"`
	Method    string            `yaml:"method,omitempty"`
	Signature Signature         `yaml:"signature,omitempty"`
	Version   VersionConstraint `yaml:"version,omitempty"`
}

// MatchesCaller reports whether a function named method declared on typ
// satisfies the type and method constraints of m.
func (m MethodReference) MatchesCaller(typ, method string) bool {
	return (m.Type == "" || m.Type == typ) && (m.Method == "" || m.Method == method)
}

// matchesRef reports whether ref is the assembly m targets.
func (m MethodReference) matchesRef(ref metadata.AssemblyRef) bool {
	return m.Assembly != "" && m.Assembly == ref.Name && m.Version.Check(ref.Version)
}

// CallerReplacements returns the rules of i whose caller constraint matches
// fn. The caller assembly is not checked.
func (i Integration) CallerReplacements(fn metadata.FunctionInfo) []MethodReplacement {
	var out []MethodReplacement
	for _, mr := range i.MethodReplacements {
		if mr.Caller.MatchesCaller(fn.Type.Name, fn.Name) {
			out = append(out, mr)
		}
	}
	return out
}

type rawIntegration struct {
	Name               string              `yaml:"name"`
	SpanKind           string              `yaml:"span_kind,omitempty"`
	MethodReplacements []MethodReplacement `yaml:"method_replacements"`
}

// UnmarshalYAML decodes an integration catalog entry.
func (i *Integration) UnmarshalYAML(value *yaml.Node) error {
	var raw rawIntegration
	if err := value.Decode(&raw); err != nil {
		return err
	}
	kind, err := parseSpanKind(raw.SpanKind)
	if err != nil {
		return fmt.Errorf("integration %q: %w", raw.Name, err)
	}
	*i = Integration{
		Name:               raw.Name,
		SpanKind:           kind,
		MethodReplacements: raw.MethodReplacements,
	}
	return nil
}

// MarshalYAML encodes i in the catalog format.
func (i Integration) MarshalYAML() (interface{}, error) {
	raw := rawIntegration{
		Name:               i.Name,
		MethodReplacements: i.MethodReplacements,
	}
	if i.SpanKind != trace.SpanKindUnspecified {
		raw.SpanKind = i.SpanKind.String()
	}
	return raw, nil
}

func parseSpanKind(s string) (trace.SpanKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unspecified":
		return trace.SpanKindUnspecified, nil
	case "internal":
		return trace.SpanKindInternal, nil
	case "server":
		return trace.SpanKindServer, nil
	case "client":
		return trace.SpanKindClient, nil
	case "producer":
		return trace.SpanKindProducer, nil
	case "consumer":
		return trace.SpanKindConsumer, nil
	default:
		return trace.SpanKindUnspecified, fmt.Errorf("invalid span kind %q", s)
	}
}

// Signature is a method signature blob. In a catalog it is written as
// space separated hex bytes, e.g. "00 02 1C 1C".
type Signature []byte

// ParseSignature parses the hex byte notation of a signature.
func ParseSignature(s string) (Signature, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.Join(fields, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return Signature(b), nil
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// UnmarshalYAML decodes the hex byte notation.
func (s *Signature) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	sig, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

// MarshalYAML encodes the hex byte notation.
func (s Signature) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// VersionConstraint restricts the version of a target assembly, e.g.
// ">= 4.0, < 5.0". The zero value allows every version.
type VersionConstraint struct {
	raw         string
	constraints version.Constraints
}

// ParseVersionConstraint parses a comma separated version constraint.
func ParseVersionConstraint(s string) (VersionConstraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VersionConstraint{}, nil
	}
	c, err := version.NewConstraint(s)
	if err != nil {
		return VersionConstraint{}, err
	}
	return VersionConstraint{raw: s, constraints: c}, nil
}

// IsZero reports whether c allows every version.
func (c VersionConstraint) IsZero() bool { return c.raw == "" }

func (c VersionConstraint) String() string { return c.raw }

// Check reports whether v satisfies c. An unknown version only satisfies the
// zero constraint.
func (c VersionConstraint) Check(v *version.Version) bool {
	if c.IsZero() {
		return true
	}
	if v == nil {
		return false
	}
	return c.constraints.Check(v)
}

// UnmarshalYAML decodes a constraint string.
func (c *VersionConstraint) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	parsed, err := ParseVersionConstraint(str)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", str, err)
	}
	*c = parsed
	return nil
}

// MarshalYAML encodes the constraint string.
func (c VersionConstraint) MarshalYAML() (interface{}, error) {
	return c.raw, nil
}

// Names returns the names of integrations in order.
func Names(integrations []Integration) []string {
	names := make([]string, len(integrations))
	for i, in := range integrations {
		names[i] = in.Name
	}
	return names
}

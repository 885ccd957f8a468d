// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata resolves opaque runtime handles and metadata tokens into
// named identity records.
//
// Resolution never fails. Whenever the host surface reports an error or an
// empty name the resolver returns the zero record for that level and keeps
// going, so a FunctionInfo can carry a name while its owning type is unknown.
package metadata

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-version"

	"go.opentelemetry.io/clrauto/corprof"
)

// maxResolveDepth bounds the function -> parent type -> function chain of a
// malformed module.
const maxResolveDepth = 8

// Resolver turns runtime handles and metadata tokens into identity records.
// A Resolver holds no state besides its logger and is safe for concurrent
// use.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver returns a Resolver logging to logger. A nil logger discards.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{logger: logger}
}

// ResolveAssembly returns the identity of the assembly id.
func (r *Resolver) ResolveAssembly(info corprof.ProfilerInfo, id corprof.AssemblyID) AssemblyInfo {
	name := queryName(func(buf []uint16) (int, error) {
		return info.GetAssemblyInfo(id, buf)
	})
	if name == "" {
		return AssemblyInfo{}
	}
	return AssemblyInfo{ID: id, Name: name}
}

// ResolveModule returns the identity of the module id including its owning
// assembly.
func (r *Resolver) ResolveModule(info corprof.ProfilerInfo, id corprof.ModuleID) ModuleInfo {
	var (
		assembly corprof.AssemblyID
		flags    corprof.ModuleFlags
	)
	path := queryName(func(buf []uint16) (int, error) {
		n, a, f, err := info.GetModuleInfo(id, buf)
		assembly, flags = a, f
		return n, err
	})
	if path == "" {
		return ModuleInfo{}
	}
	return ModuleInfo{
		ID:       id,
		Path:     path,
		Assembly: r.ResolveAssembly(info, assembly),
		Flags:    flags,
	}
}

// ResolveType returns the type identified by tok. Method definitions and
// member references resolve to their owning type. Type specifications are
// not resolved.
func (r *Resolver) ResolveType(imp corprof.MetadataImport, tok corprof.Token) TypeInfo {
	return r.resolveType(imp, tok, 0)
}

// ResolveFunction returns the method definition or member reference tok
// with its owning type.
func (r *Resolver) ResolveFunction(imp corprof.MetadataImport, tok corprof.Token) FunctionInfo {
	return r.resolveFunction(imp, tok, 0)
}

func (r *Resolver) resolveType(imp corprof.MetadataImport, tok corprof.Token, depth int) TypeInfo {
	if depth > maxResolveDepth {
		r.logger.Debug("type resolution too deep", "token", tok, "depth", depth)
		return TypeInfo{}
	}

	var (
		name   string
		parent corprof.Token
	)
	switch t := classify(tok).(type) {
	case nilToken:
		return TypeInfo{}
	case typeDefToken:
		name = queryName(func(buf []uint16) (int, error) {
			n, _, err := imp.GetTypeDefProps(t.token(), buf)
			return n, err
		})
	case typeRefToken:
		name = queryName(func(buf []uint16) (int, error) {
			n, scope, err := imp.GetTypeRefProps(t.token(), buf)
			parent = scope
			return n, err
		})
	case typeSpecToken:
		// Generic instantiations and other composite types are not resolved.
		r.logger.Debug("type specification not resolved", "token", t.token())
		return TypeInfo{}
	case moduleRefToken:
		name = queryName(func(buf []uint16) (int, error) {
			return imp.GetModuleRefProps(t.token(), buf)
		})
	case memberRefToken, methodDefToken:
		return r.resolveFunction(imp, t.token(), depth+1).Type
	default:
		r.logger.Debug("unsupported token kind for type", "token", t.token())
		return TypeInfo{}
	}

	if name == "" {
		return TypeInfo{}
	}
	return TypeInfo{Token: tok, Name: name, Parent: parent}
}

func (r *Resolver) resolveFunction(imp corprof.MetadataImport, tok corprof.Token, depth int) FunctionInfo {
	if depth > maxResolveDepth {
		r.logger.Debug("function resolution too deep", "token", tok, "depth", depth)
		return FunctionInfo{}
	}

	var (
		name   string
		parent corprof.Token
	)
	switch t := classify(tok).(type) {
	case memberRefToken:
		name = queryName(func(buf []uint16) (int, error) {
			n, p, err := imp.GetMemberRefProps(t.token(), buf)
			parent = p
			return n, err
		})
	case methodDefToken:
		name = queryName(func(buf []uint16) (int, error) {
			n, p, err := imp.GetMethodProps(t.token(), buf)
			parent = p
			return n, err
		})
	default:
		r.logger.Debug("unsupported token kind for function", "token", t.token())
		return FunctionInfo{}
	}

	if name == "" {
		return FunctionInfo{}
	}

	// The parent can be a TypeDef, TypeRef, TypeSpec, ModuleRef or MethodDef.
	return FunctionInfo{
		Token: tok,
		Name:  name,
		Type:  r.resolveType(imp, parent, depth+1),
	}
}

// ResolveAssemblyRef returns the name and version of the assembly reference
// tok.
func (r *Resolver) ResolveAssemblyRef(imp corprof.AssemblyImport, tok corprof.Token) AssemblyRef {
	var md corprof.AssemblyMetadata
	name := queryName(func(buf []uint16) (int, error) {
		n, m, err := imp.GetAssemblyRefProps(tok, buf)
		md = m
		return n, err
	})
	if name == "" {
		return AssemblyRef{}
	}

	ref := AssemblyRef{Token: tok, Name: name}
	v, err := assemblyVersion(md)
	if err != nil {
		r.logger.Debug("invalid assembly reference version", "name", name, "error", err)
	} else {
		ref.Version = v
	}
	return ref
}

func assemblyVersion(md corprof.AssemblyMetadata) (*version.Version, error) {
	return version.NewVersion(fmt.Sprintf(
		"%d.%d.%d.%d",
		md.MajorVersion, md.MinorVersion, md.BuildNumber, md.RevisionNumber,
	))
}

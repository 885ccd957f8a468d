// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"unicode/utf16"

	"go.opentelemetry.io/clrauto/corprof"
)

// fill copies the NUL terminated UTF-16 encoding of name into buf, as much
// as fits, and returns the full encoded length. An empty name has length 0.
func fill(name string, buf []uint16) int {
	if name == "" {
		return 0
	}
	u := append(utf16.Encode([]rune(name)), 0)
	copy(buf, u)
	return len(u)
}

// row returns the element of rows addressed by tok if tok is of kind.
func row[T any](rows []T, tok corprof.Token, kind corprof.TokenKind) (T, error) {
	var zero T
	if tok.Kind() != kind || tok.RID() == 0 || int(tok.RID()) > len(rows) {
		return zero, corprof.ErrNotFound
	}
	return rows[tok.RID()-1], nil
}

func (img *Image) GetTypeDefProps(td corprof.Token, name []uint16) (int, corprof.Token, error) {
	r, err := row(img.typeDefs, td, corprof.TokenKindTypeDef)
	if err != nil {
		return 0, corprof.TokenNil, err
	}
	return fill(r.name, name), r.extends, nil
}

func (img *Image) GetTypeRefProps(tr corprof.Token, name []uint16) (int, corprof.Token, error) {
	r, err := row(img.typeRefs, tr, corprof.TokenKindTypeRef)
	if err != nil {
		return 0, corprof.TokenNil, err
	}
	return fill(r.name, name), r.scope, nil
}

func (img *Image) GetMethodProps(md corprof.Token, name []uint16) (int, corprof.Token, error) {
	r, err := row(img.methods, md, corprof.TokenKindMethodDef)
	if err != nil {
		return 0, corprof.TokenNil, err
	}
	return fill(r.name, name), r.owner, nil
}

func (img *Image) GetMemberRefProps(mr corprof.Token, name []uint16) (int, corprof.Token, error) {
	r, err := row(img.memberRefs, mr, corprof.TokenKindMemberRef)
	if err != nil {
		return 0, corprof.TokenNil, err
	}
	return fill(r.name, name), r.parent, nil
}

func (img *Image) GetModuleRefProps(mr corprof.Token, name []uint16) (int, error) {
	r, err := row(img.moduleRefs, mr, corprof.TokenKindModuleRef)
	if err != nil {
		return 0, err
	}
	return fill(r, name), nil
}

func (img *Image) GetAssemblyRefProps(ar corprof.Token, name []uint16) (int, corprof.AssemblyMetadata, error) {
	r, err := row(img.assemblyRefs, ar, corprof.TokenKindAssemblyRef)
	if err != nil {
		return 0, corprof.AssemblyMetadata{}, err
	}
	return fill(r.name, name), r.metadata, nil
}

// EnumAssemblyRefs keeps the next row id to return in e.
func (img *Image) EnumAssemblyRefs(e *corprof.Enum, refs []corprof.Token) (int, error) {
	next := uint32(*e)
	if next == 0 {
		next = 1
	}
	n := 0
	for n < len(refs) && int(next) <= len(img.assemblyRefs) {
		refs[n] = tableToken(tableAssemblyRef, next)
		n++
		next++
	}
	*e = corprof.Enum(next)
	return n, nil
}

// CloseEnum is a no-op: enumerations hold no resources.
func (img *Image) CloseEnum(corprof.Enum) {}

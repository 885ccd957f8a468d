// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import "go.opentelemetry.io/clrauto/corprof"

// tokenRef is a metadata token classified by the table it refers to. Only the
// kinds a type or function can be resolved from have their own variant.
type tokenRef interface {
	token() corprof.Token
}

type (
	nilToken       struct{}
	typeDefToken   corprof.Token
	typeRefToken   corprof.Token
	typeSpecToken  corprof.Token
	moduleRefToken corprof.Token
	memberRefToken corprof.Token
	methodDefToken corprof.Token
	otherToken     corprof.Token
)

func (nilToken) token() corprof.Token         { return corprof.TokenNil }
func (t typeDefToken) token() corprof.Token   { return corprof.Token(t) }
func (t typeRefToken) token() corprof.Token   { return corprof.Token(t) }
func (t typeSpecToken) token() corprof.Token  { return corprof.Token(t) }
func (t moduleRefToken) token() corprof.Token { return corprof.Token(t) }
func (t memberRefToken) token() corprof.Token { return corprof.Token(t) }
func (t methodDefToken) token() corprof.Token { return corprof.Token(t) }
func (t otherToken) token() corprof.Token     { return corprof.Token(t) }

func classify(tok corprof.Token) tokenRef {
	if tok.IsNil() {
		return nilToken{}
	}
	switch tok.Kind() {
	case corprof.TokenKindTypeDef:
		return typeDefToken(tok)
	case corprof.TokenKindTypeRef:
		return typeRefToken(tok)
	case corprof.TokenKindTypeSpec:
		return typeSpecToken(tok)
	case corprof.TokenKindModuleRef:
		return moduleRefToken(tok)
	case corprof.TokenKindMemberRef:
		return memberRefToken(tok)
	case corprof.TokenKindMethodDef:
		return methodDefToken(tok)
	default:
		return otherToken(tok)
	}
}

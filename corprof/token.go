// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package corprof

import "fmt"

// Token is a metadata token. The high byte identifies the metadata table
// (the TokenKind) and the low three bytes are the row identifier.
type Token uint32

// TokenNil is the nil token of every kind.
const TokenNil Token = 0

// TokenKind is the metadata table a Token refers to.
type TokenKind uint32

// Token kinds as defined by ECMA-335 II.22 table numbers shifted into the
// high byte of a token.
const (
	TokenKindModule          TokenKind = 0x00000000
	TokenKindTypeRef         TokenKind = 0x01000000
	TokenKindTypeDef         TokenKind = 0x02000000
	TokenKindFieldDef        TokenKind = 0x04000000
	TokenKindMethodDef       TokenKind = 0x06000000
	TokenKindParamDef        TokenKind = 0x08000000
	TokenKindInterfaceImpl   TokenKind = 0x09000000
	TokenKindMemberRef       TokenKind = 0x0a000000
	TokenKindCustomAttribute TokenKind = 0x0c000000
	TokenKindSignature       TokenKind = 0x11000000
	TokenKindModuleRef       TokenKind = 0x1a000000
	TokenKindTypeSpec        TokenKind = 0x1b000000
	TokenKindAssembly        TokenKind = 0x20000000
	TokenKindAssemblyRef     TokenKind = 0x23000000
	TokenKindMethodSpec      TokenKind = 0x2b000000
)

const (
	kindMask = 0xff000000
	ridMask  = 0x00ffffff
)

// NewToken returns the token of kind for row rid.
func NewToken(kind TokenKind, rid uint32) Token {
	return Token(uint32(kind) | (rid & ridMask))
}

// Kind returns the table kind of t.
func (t Token) Kind() TokenKind {
	return TokenKind(uint32(t) & kindMask)
}

// RID returns the row identifier of t.
func (t Token) RID() uint32 {
	return uint32(t) & ridMask
}

// IsNil reports whether t refers to no row.
func (t Token) IsNil() bool {
	return t.RID() == 0
}

func (t Token) String() string {
	return fmt.Sprintf("%s(0x%08x)", t.Kind(), uint32(t))
}

func (k TokenKind) String() string {
	switch k {
	case TokenKindModule:
		return "Module"
	case TokenKindTypeRef:
		return "TypeRef"
	case TokenKindTypeDef:
		return "TypeDef"
	case TokenKindFieldDef:
		return "FieldDef"
	case TokenKindMethodDef:
		return "MethodDef"
	case TokenKindParamDef:
		return "ParamDef"
	case TokenKindInterfaceImpl:
		return "InterfaceImpl"
	case TokenKindMemberRef:
		return "MemberRef"
	case TokenKindCustomAttribute:
		return "CustomAttribute"
	case TokenKindSignature:
		return "Signature"
	case TokenKindModuleRef:
		return "ModuleRef"
	case TokenKindTypeSpec:
		return "TypeSpec"
	case TokenKindAssembly:
		return "Assembly"
	case TokenKindAssemblyRef:
		return "AssemblyRef"
	case TokenKindMethodSpec:
		return "MethodSpec"
	default:
		return fmt.Sprintf("TokenKind(0x%02x)", uint32(k)>>24)
	}
}

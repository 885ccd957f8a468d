// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"go.opentelemetry.io/clrauto/corprof"
)

// Metadata table numbers, ECMA-335 II.22. A table number is also the kind
// byte of the tokens of its rows.
const (
	tableModule                 = 0x00
	tableTypeRef                = 0x01
	tableTypeDef                = 0x02
	tableFieldPtr               = 0x03
	tableField                  = 0x04
	tableMethodPtr              = 0x05
	tableMethodDef              = 0x06
	tableParamPtr               = 0x07
	tableParam                  = 0x08
	tableInterfaceImpl          = 0x09
	tableMemberRef              = 0x0a
	tableConstant               = 0x0b
	tableCustomAttribute        = 0x0c
	tableFieldMarshal           = 0x0d
	tableDeclSecurity           = 0x0e
	tableClassLayout            = 0x0f
	tableFieldLayout            = 0x10
	tableStandAloneSig          = 0x11
	tableEventMap               = 0x12
	tableEventPtr               = 0x13
	tableEvent                  = 0x14
	tablePropertyMap            = 0x15
	tablePropertyPtr            = 0x16
	tableProperty               = 0x17
	tableMethodSemantics        = 0x18
	tableMethodImpl             = 0x19
	tableModuleRef              = 0x1a
	tableTypeSpec               = 0x1b
	tableImplMap                = 0x1c
	tableFieldRVA               = 0x1d
	tableEncLog                 = 0x1e
	tableEncMap                 = 0x1f
	tableAssembly               = 0x20
	tableAssemblyProcessor      = 0x21
	tableAssemblyOS             = 0x22
	tableAssemblyRef            = 0x23
	tableAssemblyRefProcessor   = 0x24
	tableAssemblyRefOS          = 0x25
	tableFile                   = 0x26
	tableExportedType           = 0x27
	tableManifestResource       = 0x28
	tableNestedClass            = 0x29
	tableGenericParam           = 0x2a
	tableMethodSpec             = 0x2b
	tableGenericParamConstraint = 0x2c

	tableCount = 64
	// noTable marks an unused tag of a coded index.
	noTable = -1
)

// HeapSizes bits of the #~ stream header, ECMA-335 II.24.2.6.
const (
	heapStringLarge = 0x01
	heapGUIDLarge   = 0x02
	heapBlobLarge   = 0x04
	// heapExtraData is set by some compilers to add a 4-byte value after
	// the row counts.
	heapExtraData = 0x40
)

// codedIndex describes an ECMA-335 II.24.2.6 coded index: the low bits
// select one of tables, the rest is the row id.
type codedIndex struct {
	bits   uint
	tables []int
}

var (
	typeDefOrRef        = codedIndex{2, []int{tableTypeDef, tableTypeRef, tableTypeSpec}}
	hasConstant         = codedIndex{2, []int{tableField, tableParam, tableProperty}}
	hasCustomAttribute  = codedIndex{5, []int{tableMethodDef, tableField, tableTypeRef, tableTypeDef, tableParam, tableInterfaceImpl, tableMemberRef, tableModule, tableDeclSecurity, tableProperty, tableEvent, tableStandAloneSig, tableModuleRef, tableTypeSpec, tableAssembly, tableAssemblyRef, tableFile, tableExportedType, tableManifestResource, tableGenericParam, tableGenericParamConstraint, tableMethodSpec}}
	hasFieldMarshal     = codedIndex{1, []int{tableField, tableParam}}
	hasDeclSecurity     = codedIndex{2, []int{tableTypeDef, tableMethodDef, tableAssembly}}
	memberRefParent     = codedIndex{3, []int{tableTypeDef, tableTypeRef, tableModuleRef, tableMethodDef, tableTypeSpec}}
	hasSemantics        = codedIndex{1, []int{tableEvent, tableProperty}}
	methodDefOrRef      = codedIndex{1, []int{tableMethodDef, tableMemberRef}}
	memberForwarded     = codedIndex{1, []int{tableField, tableMethodDef}}
	implementation      = codedIndex{2, []int{tableFile, tableAssemblyRef, tableExportedType}}
	customAttributeType = codedIndex{3, []int{noTable, noTable, tableMethodDef, tableMemberRef, noTable}}
	resolutionScope     = codedIndex{2, []int{tableModule, tableModuleRef, tableAssemblyRef, tableTypeRef}}
	typeOrMethodDef     = codedIndex{1, []int{tableTypeDef, tableMethodDef}}
)

type columnKind uint8

const (
	columnConst columnKind = iota
	columnString
	columnGUID
	columnBlob
	columnTable
	columnCoded
)

// column is the type of one metadata table column.
type column struct {
	kind  columnKind
	size  int
	table int
	coded codedIndex
}

var (
	u2   = column{kind: columnConst, size: 2}
	u4   = column{kind: columnConst, size: 4}
	str  = column{kind: columnString}
	guid = column{kind: columnGUID}
	blob = column{kind: columnBlob}
)

func index(table int) column     { return column{kind: columnTable, table: table} }
func coded(ci codedIndex) column { return column{kind: columnCoded, coded: ci} }

// schemas holds the columns of every table, ECMA-335 II.22.
var schemas = [tableCount][]column{
	tableModule:                 {u2, str, guid, guid, guid},
	tableTypeRef:                {coded(resolutionScope), str, str},
	tableTypeDef:                {u4, str, str, coded(typeDefOrRef), index(tableField), index(tableMethodDef)},
	tableFieldPtr:               {index(tableField)},
	tableField:                  {u2, str, blob},
	tableMethodPtr:              {index(tableMethodDef)},
	tableMethodDef:              {u4, u2, u2, str, blob, index(tableParam)},
	tableParamPtr:               {index(tableParam)},
	tableParam:                  {u2, u2, str},
	tableInterfaceImpl:          {index(tableTypeDef), coded(typeDefOrRef)},
	tableMemberRef:              {coded(memberRefParent), str, blob},
	tableConstant:               {u2, coded(hasConstant), blob},
	tableCustomAttribute:        {coded(hasCustomAttribute), coded(customAttributeType), blob},
	tableFieldMarshal:           {coded(hasFieldMarshal), blob},
	tableDeclSecurity:           {u2, coded(hasDeclSecurity), blob},
	tableClassLayout:            {u2, u4, index(tableTypeDef)},
	tableFieldLayout:            {u4, index(tableField)},
	tableStandAloneSig:          {blob},
	tableEventMap:               {index(tableTypeDef), index(tableEvent)},
	tableEventPtr:               {index(tableEvent)},
	tableEvent:                  {u2, str, coded(typeDefOrRef)},
	tablePropertyMap:            {index(tableTypeDef), index(tableProperty)},
	tablePropertyPtr:            {index(tableProperty)},
	tableProperty:               {u2, str, blob},
	tableMethodSemantics:        {u2, index(tableMethodDef), coded(hasSemantics)},
	tableMethodImpl:             {index(tableTypeDef), coded(methodDefOrRef), coded(methodDefOrRef)},
	tableModuleRef:              {str},
	tableTypeSpec:               {blob},
	tableImplMap:                {u2, coded(memberForwarded), str, index(tableModuleRef)},
	tableFieldRVA:               {u4, index(tableField)},
	tableEncLog:                 {u4, u4},
	tableEncMap:                 {u4},
	tableAssembly:               {u4, u2, u2, u2, u2, u4, blob, str, str},
	tableAssemblyProcessor:      {u4},
	tableAssemblyOS:             {u4, u4, u4},
	tableAssemblyRef:            {u2, u2, u2, u2, u4, blob, str, str, blob},
	tableAssemblyRefProcessor:   {u4, index(tableAssemblyRef)},
	tableAssemblyRefOS:          {u4, u4, u4, index(tableAssemblyRef)},
	tableFile:                   {u4, str, blob},
	tableExportedType:           {u4, u4, str, str, coded(implementation)},
	tableManifestResource:       {u4, u4, str, coded(implementation)},
	tableNestedClass:            {index(tableTypeDef), index(tableTypeDef)},
	tableGenericParam:           {u2, u2, coded(typeOrMethodDef), str},
	tableMethodSpec:             {coded(methodDefOrRef), blob},
	tableGenericParamConstraint: {index(tableGenericParam), coded(typeDefOrRef)},
}

var errTruncated = errors.New("truncated metadata")

// tables is a parsed #~ stream.
type tables struct {
	heapSizes uint8
	rows      [tableCount]uint32
	offsets   [tableCount]int
	rowSizes  [tableCount]int
	data      []byte
	strings   []byte
}

// getHeapSize returns the size of a heap index.
func getHeapSize(isLarge bool) int {
	if isLarge {
		return 4
	}
	return 2
}

// codedSize returns the size of a coded index given the row counts.
func (t *tables) codedSize(ci codedIndex) int {
	maxRows := uint32(0)
	for _, table := range ci.tables {
		if table != noTable && t.rows[table] > maxRows {
			maxRows = t.rows[table]
		}
	}
	if maxRows >= uint32(1)<<(16-ci.bits) {
		return 4
	}
	return 2
}

func (t *tables) size(c column) int {
	switch c.kind {
	case columnConst:
		return c.size
	case columnString:
		return getHeapSize(t.heapSizes&heapStringLarge != 0)
	case columnGUID:
		return getHeapSize(t.heapSizes&heapGUIDLarge != 0)
	case columnBlob:
		return getHeapSize(t.heapSizes&heapBlobLarge != 0)
	case columnTable:
		return t.codedSize(codedIndex{0, []int{c.table}})
	case columnCoded:
		return t.codedSize(c.coded)
	}
	return 0
}

// parseTables parses the #~ stream b.
func parseTables(b, strings []byte) (*tables, error) {
	// Reserved, MajorVersion, MinorVersion, HeapSizes, Reserved, Valid, Sorted
	const headerSize = 24
	if len(b) < headerSize {
		return nil, errTruncated
	}
	t := &tables{heapSizes: b[6], strings: strings}
	valid := binary.LittleEndian.Uint64(b[8:])

	off := headerSize
	for i := 0; i < tableCount; i++ {
		if valid&(uint64(1)<<i) == 0 {
			continue
		}
		if i > tableGenericParamConstraint {
			return nil, fmt.Errorf("metadata table %#x not supported", i)
		}
		if len(b) < off+4 {
			return nil, errTruncated
		}
		t.rows[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	if t.heapSizes&heapExtraData != 0 {
		off += 4
	}
	if t.rows[tableModule] != 1 {
		return nil, fmt.Errorf("number of modules (%d) is unexpected", t.rows[tableModule])
	}

	for i := 0; i < tableCount; i++ {
		for _, c := range schemas[i] {
			t.rowSizes[i] += t.size(c)
		}
		t.offsets[i] = off
		off += t.rowSizes[i] * int(t.rows[i])
	}
	if off > len(b) {
		return nil, errTruncated
	}
	t.data = b
	return t, nil
}

// cell returns column col of row rid (1-based) of table.
func (t *tables) cell(table int, rid uint32, col int) uint32 {
	if rid == 0 || rid > t.rows[table] {
		return 0
	}
	off := t.offsets[table] + int(rid-1)*t.rowSizes[table]
	schema := schemas[table]
	for _, c := range schema[:col] {
		off += t.size(c)
	}
	switch t.size(schema[col]) {
	case 2:
		return uint32(binary.LittleEndian.Uint16(t.data[off:]))
	case 4:
		return binary.LittleEndian.Uint32(t.data[off:])
	}
	return 0
}

// heapString reads the NUL terminated entry at idx of the #Strings heap.
func (t *tables) heapString(idx uint32) string {
	if idx == 0 || int(idx) >= len(t.strings) {
		return ""
	}
	s := t.strings[idx:]
	if n := bytes.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	return string(s)
}

// stringCell reads the #Strings entry referenced by column col.
func (t *tables) stringCell(table int, rid uint32, col int) string {
	return t.heapString(t.cell(table, rid, col))
}

// token decodes the coded index column col as a metadata token. A null
// reference or an unused tag decodes to the nil token.
func (t *tables) token(table int, rid uint32, col int) corprof.Token {
	ci := schemas[table][col].coded
	v := t.cell(table, rid, col)
	tag := v & (uint32(1)<<ci.bits - 1)
	if int(tag) >= len(ci.tables) || ci.tables[tag] == noTable {
		return corprof.TokenNil
	}
	return tableToken(ci.tables[tag], v>>ci.bits)
}

func tableToken(table int, rid uint32) corprof.Token {
	if rid == 0 {
		return corprof.TokenNil
	}
	return corprof.NewToken(corprof.TokenKind(uint32(table)<<24), rid)
}

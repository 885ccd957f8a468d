// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/clrauto/corprof"
)

// builder writes metadata with the table layout of this package.
type builder struct {
	heapSizes uint8
	strings   []byte
	stringIdx map[string]uint32
	guids     []byte
	rows      [tableCount][][]uint32
}

func newBuilder() *builder {
	return &builder{
		strings:   []byte{0},
		stringIdx: map[string]uint32{"": 0},
	}
}

func (b *builder) str(s string) uint32 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := uint32(len(b.strings))
	b.strings = append(append(b.strings, s...), 0)
	b.stringIdx[s] = idx
	return idx
}

func (b *builder) guid(g [16]byte) uint32 {
	b.guids = append(b.guids, g[:]...)
	return uint32(len(b.guids) / 16)
}

// add appends a row to table and returns its token.
func (b *builder) add(table int, cells ...uint32) corprof.Token {
	if len(cells) != len(schemas[table]) {
		panic(fmt.Sprintf("table %#x has %d columns, got %d", table, len(schemas[table]), len(cells)))
	}
	b.rows[table] = append(b.rows[table], cells)
	return tableToken(table, uint32(len(b.rows[table])))
}

func codedValue(ci codedIndex, tok corprof.Token) uint32 {
	if tok.IsNil() {
		return 0
	}
	for tag, table := range ci.tables {
		if table == int(tok.Kind()>>24) {
			return tok.RID()<<ci.bits | uint32(tag)
		}
	}
	panic(fmt.Sprintf("%v not in coded index", tok))
}

func (b *builder) tablesStream() []byte {
	t := &tables{heapSizes: b.heapSizes}
	var valid uint64
	for i, rows := range b.rows {
		t.rows[i] = uint32(len(rows))
		if len(rows) > 0 {
			valid |= uint64(1) << i
		}
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, uint32(0))
	buf.Write([]byte{2, 0, b.heapSizes, 1})
	_ = binary.Write(&buf, le, valid)
	_ = binary.Write(&buf, le, uint64(0))
	for _, rows := range b.rows {
		if len(rows) > 0 {
			_ = binary.Write(&buf, le, uint32(len(rows)))
		}
	}
	if b.heapSizes&heapExtraData != 0 {
		_ = binary.Write(&buf, le, uint32(0))
	}
	for i, rows := range b.rows {
		for _, cells := range rows {
			for c, v := range cells {
				switch t.size(schemas[i][c]) {
				case 2:
					_ = binary.Write(&buf, le, uint16(v))
				case 4:
					_ = binary.Write(&buf, le, v)
				}
			}
		}
	}
	return buf.Bytes()
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

type stream struct {
	name string
	data []byte
}

// metadata returns the metadata root with its streams.
func (b *builder) metadata() []byte {
	streams := []stream{
		{"#~", pad4(b.tablesStream())},
		{"#Strings", pad4(append([]byte(nil), b.strings...))},
		{"#GUID", b.guids},
		{"#Blob", pad4([]byte{0})},
	}
	version := pad4([]byte("v4.0.30319\x00"))

	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(pad4([]byte(s.name+"\x00")))
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, metadataRoot{
		Signature:    metadataSignature,
		MajorVersion: 1,
		MinorVersion: 1,
		Length:       uint32(len(version)),
	})
	buf.Write(version)
	_ = binary.Write(&buf, le, uint16(0))
	_ = binary.Write(&buf, le, uint16(len(streams)))

	off := headerSize
	for _, s := range streams {
		_ = binary.Write(&buf, le, uint32(off))
		_ = binary.Write(&buf, le, uint32(len(s.data)))
		buf.Write(pad4([]byte(s.name + "\x00")))
		off += len(s.data)
	}
	for _, s := range streams {
		buf.Write(s.data)
	}
	return buf.Bytes()
}

const (
	textRVA    = 0x2000
	textOffset = 0x200
)

// buildPE wraps md in a PE32 image with a single section holding the CLI
// header followed by the metadata. A nil md builds an unmanaged image.
func buildPE(md []byte) []byte {
	le := binary.LittleEndian

	cliSize := binary.Size(cliHeader{})
	var body bytes.Buffer
	_ = binary.Write(&body, le, cliHeader{
		SizeOfHeader:        uint32(cliSize),
		MajorRuntimeVersion: 2,
		MinorRuntimeVersion: 5,
		MetaData:            pe.DataDirectory{VirtualAddress: uint32(textRVA + cliSize), Size: uint32(len(md))},
		Flags:               1,
	})
	body.Write(md)
	raw := body.Bytes()
	for len(raw)%textOffset != 0 {
		raw = append(raw, 0)
	}

	var buf bytes.Buffer
	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	oh := pe.OptionalHeader32{
		Magic:               0x10b,
		SectionAlignment:    textRVA,
		FileAlignment:       textOffset,
		SizeOfImage:         textRVA + uint32(len(raw)),
		SizeOfHeaders:       textOffset,
		NumberOfRvaAndSizes: 16,
	}
	if md != nil {
		oh.DataDirectory[cliHeaderDirectory] = pe.DataDirectory{VirtualAddress: textRVA, Size: uint32(cliSize)}
	}
	_ = binary.Write(&buf, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL,
	})
	_ = binary.Write(&buf, le, oh)
	_ = binary.Write(&buf, le, pe.SectionHeader32{
		Name:             [8]uint8{'.', 't', 'e', 'x', 't'},
		VirtualSize:      uint32(body.Len()),
		VirtualAddress:   textRVA,
		SizeOfRawData:    uint32(len(raw)),
		PointerToRawData: textOffset,
	})
	for buf.Len() < textOffset {
		buf.WriteByte(0)
	}
	buf.Write(raw)
	return buf.Bytes()
}

var (
	trSqlCommand  corprof.Token
	trObject      corprof.Token
	tdProgram     corprof.Token
	tdHelper      corprof.Token
	mdMain        corprof.Token
	mdRun         corprof.Token
	mdHelp        corprof.Token
	mrExecute     corprof.Token
	mrTickCount   corprof.Token
	modKernel32   corprof.Token
	arRuntime     corprof.Token
	arSystemData  corprof.Token
	testAssemblyV = corprof.AssemblyMetadata{MajorVersion: 1, MinorVersion: 2, BuildNumber: 3, RevisionNumber: 4}
)

// appAssembly builds the metadata of assembly App.A:
//
//	namespace App.A {
//	    class Program : System.Object { Main(); Run(); }
//	    class Helper { Help(); }
//	}
//
// referencing System.Runtime 8.0.0.0, System.Data 4.0.0.0 and kernel32.dll.
func appAssembly(heapSizes uint8) *builder {
	b := newBuilder()
	b.heapSizes = heapSizes

	b.add(tableModule, 0, b.str("App.A.dll"),
		b.guid([16]byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 1, 2, 3, 4, 5, 6, 7, 8}), 0, 0)

	arRuntime = b.add(tableAssemblyRef, 8, 0, 0, 0, 0, 0, b.str("System.Runtime"), 0, 0)
	arSystemData = b.add(tableAssemblyRef, 4, 0, 0, 0, 0, 0, b.str("System.Data"), 0, 0)
	modKernel32 = b.add(tableModuleRef, b.str("kernel32.dll"))

	trSqlCommand = b.add(tableTypeRef, codedValue(resolutionScope, arSystemData), b.str("SqlCommand"), b.str("System.Data.SqlClient"))
	trObject = b.add(tableTypeRef, codedValue(resolutionScope, arRuntime), b.str("Object"), b.str("System"))

	b.add(tableTypeDef, 0, b.str("<Module>"), 0, 0, 1, 1)
	tdProgram = b.add(tableTypeDef, 0x100001, b.str("Program"), b.str("App.A"), codedValue(typeDefOrRef, trObject), 1, 1)
	tdHelper = b.add(tableTypeDef, 0x100001, b.str("Helper"), b.str("App.A"), 0, 1, 3)

	mdMain = b.add(tableMethodDef, 0x2050, 0, 0x96, b.str("Main"), 0, 1)
	mdRun = b.add(tableMethodDef, 0x2060, 0, 0x86, b.str("Run"), 0, 1)
	mdHelp = b.add(tableMethodDef, 0x2070, 0, 0x86, b.str("Help"), 0, 1)

	mrExecute = b.add(tableMemberRef, codedValue(memberRefParent, trSqlCommand), b.str("ExecuteReader"), 0)
	mrTickCount = b.add(tableMemberRef, codedValue(memberRefParent, modKernel32), b.str("GetTickCount"), 0)

	b.add(tableCustomAttribute, codedValue(hasCustomAttribute, tableToken(tableAssembly, 1)), codedValue(customAttributeType, mrExecute), 0)
	b.add(tableAssembly, 0x8004, 1, 2, 3, 4, 0, 0, b.str("App.A"), 0)
	return b
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package ecma335 reads the metadata of managed PE images (ECMA-335
// Partition II) and serves it through the host introspection surface.
package ecma335

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/clrauto/corprof"
)

// metadataSignature is the ECMA-335 II.24.2.1 metadata root signature "BSJB".
const metadataSignature = 0x424A5342

// maxMetadataSize is the largest metadata blob read from an image.
const maxMetadataSize = 64 << 20

// cliHeaderDirectory is the data directory slot of the CLI header.
const cliHeaderDirectory = pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR

// ErrNotManaged is returned for PE images without a CLI header.
var ErrNotManaged = errors.New("not a managed image")

// cliHeader is the ECMA-335 II.25.3.3 CLI header.
type cliHeader struct {
	SizeOfHeader            uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                pe.DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               pe.DataDirectory
	StrongNameSignature     pe.DataDirectory
	CodeManagerTable        pe.DataDirectory
	VTableFixups            pe.DataDirectory
	ExportAddressTableJumps pe.DataDirectory
	ManagedNativeHeader     pe.DataDirectory
}

// metadataRoot is the fixed part of the ECMA-335 II.24.2.1 metadata root.
type metadataRoot struct {
	Signature    uint32
	MajorVersion uint16
	MinorVersion uint16
	Reserved     uint32
	Length       uint32
}

type typeRef struct {
	scope corprof.Token
	name  string
}

type typeDef struct {
	name    string
	extends corprof.Token
	methods uint32
}

type method struct {
	name  string
	owner corprof.Token
}

type memberRef struct {
	parent corprof.Token
	name   string
}

type assemblyRef struct {
	name     string
	metadata corprof.AssemblyMetadata
}

// Image is the metadata of a managed module. It implements
// [corprof.ModuleImport] and is safe for concurrent use.
type Image struct {
	// Name is the assembly name, or the module name without its extension
	// if the module has no assembly manifest.
	Name string
	// Module is the module name.
	Module string
	// MVID is the module version id.
	MVID     string
	Assembly corprof.AssemblyMetadata

	typeRefs     []typeRef
	typeDefs     []typeDef
	methods      []method
	memberRefs   []memberRef
	moduleRefs   []string
	assemblyRefs []assemblyRef
}

var _ corprof.ModuleImport = (*Image)(nil)

// Open reads the image at path.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Parse reads the image in r.
func Parse(r io.ReaderAt) (*Image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	}
	if len(dirs) <= cliHeaderDirectory || dirs[cliHeaderDirectory].VirtualAddress == 0 {
		return nil, ErrNotManaged
	}

	sr, err := rvaReader(f, dirs[cliHeaderDirectory])
	if err != nil {
		return nil, err
	}
	var cli cliHeader
	if err := binary.Read(sr, binary.LittleEndian, &cli); err != nil {
		return nil, fmt.Errorf("invalid CLI header: %w", err)
	}

	if cli.MetaData.Size > maxMetadataSize {
		return nil, fmt.Errorf("metadata too large: %d bytes", cli.MetaData.Size)
	}
	sr, err = rvaReader(f, cli.MetaData)
	if err != nil {
		return nil, err
	}
	md, err := io.ReadAll(sr)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if len(md) != int(cli.MetaData.Size) {
		return nil, fmt.Errorf("failed to read metadata: %w", io.ErrUnexpectedEOF)
	}
	return parseMetadata(md)
}

// rvaReader returns a reader of the data directory dd, converting its
// relative virtual address to a file offset through the section that
// contains it. The data must lie within the raw data of the section.
func rvaReader(f *pe.File, dd pe.DataDirectory) (*io.SectionReader, error) {
	start := uint64(dd.VirtualAddress)
	end := start + uint64(dd.Size)
	for _, s := range f.Sections {
		base := uint64(s.VirtualAddress)
		if start >= base && end <= base+uint64(s.Size) {
			return io.NewSectionReader(s, int64(start-base), int64(dd.Size)), nil
		}
	}
	return nil, fmt.Errorf("unable to find section for data at %#x-%#x", start, end)
}

func parseMetadata(md []byte) (*Image, error) {
	var root metadataRoot
	if err := binary.Read(bytes.NewReader(md), binary.LittleEndian, &root); err != nil {
		return nil, fmt.Errorf("invalid metadata root: %w", err)
	}
	if root.Signature != metadataSignature {
		return nil, fmt.Errorf("invalid metadata signature %#x", root.Signature)
	}

	// Version string, padded to 4 bytes, then Flags.
	off := binary.Size(root) + int((root.Length+3)&^3) + 2
	if len(md) < off+2 {
		return nil, errTruncated
	}
	numStreams := int(binary.LittleEndian.Uint16(md[off:]))
	off += 2

	streams := make(map[string][]byte, numStreams)
	for i := 0; i < numStreams; i++ {
		// ECMA-335 II.24.2.2 stream header: Offset, Size, Name.
		if len(md) < off+8 {
			return nil, errTruncated
		}
		start := int(binary.LittleEndian.Uint32(md[off:]))
		size := int(binary.LittleEndian.Uint32(md[off+4:]))
		off += 8

		n := bytes.IndexByte(md[off:min(off+32, len(md))], 0)
		if n < 0 {
			return nil, errors.New("invalid stream name")
		}
		name := string(md[off : off+n])
		off += (n + 4) &^ 3

		if start < 0 || size < 0 || start+size > len(md) {
			return nil, fmt.Errorf("stream %s out of bounds", name)
		}
		streams[name] = md[start : start+size]
	}

	if _, ok := streams["#-"]; ok {
		return nil, errors.New("uncompressed metadata tables not supported")
	}
	tablesStream, ok := streams["#~"]
	if !ok {
		return nil, errors.New("missing #~ stream")
	}
	t, err := parseTables(tablesStream, streams["#Strings"])
	if err != nil {
		return nil, err
	}
	return newImage(t, streams["#GUID"]), nil
}

// Column numbers of the decoded tables.
const (
	moduleName = 1
	moduleMVID = 2

	typeRefScope     = 0
	typeRefName      = 1
	typeRefNamespace = 2

	typeDefName       = 1
	typeDefNamespace  = 2
	typeDefExtends    = 3
	typeDefMethodList = 5

	methodDefName = 3

	memberRefClass = 0
	memberRefName  = 1

	moduleRefName = 0

	assemblyMajor = 1
	assemblyName  = 7

	assemblyRefMajor  = 0
	assemblyRefName   = 6
	assemblyRefLocale = 7
)

func newImage(t *tables, guids []byte) *Image {
	img := &Image{
		Module: t.stringCell(tableModule, 1, moduleName),
		MVID:   formatGUID(guids, t.cell(tableModule, 1, moduleMVID)),
	}

	if t.rows[tableAssembly] > 0 {
		img.Name = t.stringCell(tableAssembly, 1, assemblyName)
		img.Assembly = corprof.AssemblyMetadata{
			MajorVersion:   uint16(t.cell(tableAssembly, 1, assemblyMajor)),
			MinorVersion:   uint16(t.cell(tableAssembly, 1, assemblyMajor+1)),
			BuildNumber:    uint16(t.cell(tableAssembly, 1, assemblyMajor+2)),
			RevisionNumber: uint16(t.cell(tableAssembly, 1, assemblyMajor+3)),
			Locale:         t.stringCell(tableAssembly, 1, assemblyName+1),
		}
	} else {
		img.Name = strings.TrimSuffix(img.Module, filepath.Ext(img.Module))
	}

	for rid := uint32(1); rid <= t.rows[tableTypeRef]; rid++ {
		img.typeRefs = append(img.typeRefs, typeRef{
			scope: t.token(tableTypeRef, rid, typeRefScope),
			name:  qualify(t.stringCell(tableTypeRef, rid, typeRefNamespace), t.stringCell(tableTypeRef, rid, typeRefName)),
		})
	}

	for rid := uint32(1); rid <= t.rows[tableTypeDef]; rid++ {
		img.typeDefs = append(img.typeDefs, typeDef{
			name:    qualify(t.stringCell(tableTypeDef, rid, typeDefNamespace), t.stringCell(tableTypeDef, rid, typeDefName)),
			extends: t.token(tableTypeDef, rid, typeDefExtends),
			methods: t.cell(tableTypeDef, rid, typeDefMethodList),
		})
	}

	for rid := uint32(1); rid <= t.rows[tableMethodDef]; rid++ {
		img.methods = append(img.methods, method{
			name:  t.stringCell(tableMethodDef, rid, methodDefName),
			owner: methodOwner(img.typeDefs, t.rows[tableMethodDef], rid),
		})
	}

	for rid := uint32(1); rid <= t.rows[tableMemberRef]; rid++ {
		img.memberRefs = append(img.memberRefs, memberRef{
			parent: t.token(tableMemberRef, rid, memberRefClass),
			name:   t.stringCell(tableMemberRef, rid, memberRefName),
		})
	}

	for rid := uint32(1); rid <= t.rows[tableModuleRef]; rid++ {
		img.moduleRefs = append(img.moduleRefs, t.stringCell(tableModuleRef, rid, moduleRefName))
	}

	for rid := uint32(1); rid <= t.rows[tableAssemblyRef]; rid++ {
		img.assemblyRefs = append(img.assemblyRefs, assemblyRef{
			name: t.stringCell(tableAssemblyRef, rid, assemblyRefName),
			metadata: corprof.AssemblyMetadata{
				MajorVersion:   uint16(t.cell(tableAssemblyRef, rid, assemblyRefMajor)),
				MinorVersion:   uint16(t.cell(tableAssemblyRef, rid, assemblyRefMajor+1)),
				BuildNumber:    uint16(t.cell(tableAssemblyRef, rid, assemblyRefMajor+2)),
				RevisionNumber: uint16(t.cell(tableAssemblyRef, rid, assemblyRefMajor+3)),
				Locale:         t.stringCell(tableAssemblyRef, rid, assemblyRefLocale),
			},
		})
	}
	return img
}

// methodOwner returns the type definition whose method list contains the
// method definition rid. A type owns the methods from its MethodList up to
// the MethodList of the next type.
func methodOwner(typeDefs []typeDef, methods, rid uint32) corprof.Token {
	for i, td := range typeDefs {
		end := methods + 1
		if i+1 < len(typeDefs) {
			end = typeDefs[i+1].methods
		}
		if td.methods != 0 && td.methods <= rid && rid < end {
			return tableToken(tableTypeDef, uint32(i+1))
		}
	}
	return corprof.TokenNil
}

func qualify(namespace, name string) string {
	if namespace == "" || name == "" {
		return name
	}
	return namespace + "." + name
}

// formatGUID formats entry idx (1-based) of the #GUID heap.
func formatGUID(heap []byte, idx uint32) string {
	if idx == 0 || int(idx)*16 > len(heap) {
		return ""
	}
	g := heap[(idx-1)*16 : idx*16]
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(g[:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8:10],
		g[10:])
}

// MethodDefs returns the tokens of all method definitions of img.
func (img *Image) MethodDefs() iter.Seq[corprof.Token] {
	return func(yield func(corprof.Token) bool) {
		for i := range img.methods {
			if !yield(tableToken(tableMethodDef, uint32(i+1))) {
				return
			}
		}
	}
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"iter"
	"sync"

	"go.opentelemetry.io/clrauto/corprof"
)

// Host is a [corprof.ProfilerInfo] over a set of images loaded from files.
// Each image is its own module and assembly, identified by its load
// ordinal starting at 1.
type Host struct {
	mu      sync.RWMutex
	modules []hostModule
	mask    corprof.EventMask
}

type hostModule struct {
	path  string
	image *Image
}

var _ corprof.ProfilerInfo = (*Host)(nil)

// NewHost returns a Host with no modules.
func NewHost() *Host {
	return &Host{}
}

// Load opens the image at path and adds it to h.
func (h *Host) Load(path string) (corprof.ModuleID, error) {
	img, err := Open(path)
	if err != nil {
		return 0, err
	}
	return h.Add(path, img), nil
}

// Add adds img, loaded from path, to h.
func (h *Host) Add(path string, img *Image) corprof.ModuleID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.modules = append(h.modules, hostModule{path: path, image: img})
	return corprof.ModuleID(len(h.modules))
}

// Image returns the image of module id.
func (h *Host) Image(id corprof.ModuleID) (*Image, bool) {
	m, ok := h.module(uintptr(id))
	return m.image, ok
}

// EventMask returns the mask last set with SetEventMask.
func (h *Host) EventMask() corprof.EventMask {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mask
}

// FunctionID returns the function id of the method definition tok of
// module id.
func FunctionID(id corprof.ModuleID, tok corprof.Token) corprof.FunctionID {
	return corprof.FunctionID(uint64(id)<<32 | uint64(tok))
}

// Functions returns the function ids of every method definition of module
// id.
func (h *Host) Functions(id corprof.ModuleID) iter.Seq[corprof.FunctionID] {
	return func(yield func(corprof.FunctionID) bool) {
		img, ok := h.Image(id)
		if !ok {
			return
		}
		for tok := range img.MethodDefs() {
			if !yield(FunctionID(id, tok)) {
				return
			}
		}
	}
}

func (h *Host) module(id uintptr) (hostModule, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if id == 0 || id > uintptr(len(h.modules)) {
		return hostModule{}, false
	}
	return h.modules[id-1], true
}

func (h *Host) SetEventMask(mask corprof.EventMask) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mask = mask
	return nil
}

func (h *Host) GetAssemblyInfo(id corprof.AssemblyID, name []uint16) (int, error) {
	m, ok := h.module(uintptr(id))
	if !ok {
		return 0, corprof.ErrNotFound
	}
	return fill(m.image.Name, name), nil
}

func (h *Host) GetModuleInfo(id corprof.ModuleID, path []uint16) (int, corprof.AssemblyID, corprof.ModuleFlags, error) {
	m, ok := h.module(uintptr(id))
	if !ok {
		return 0, 0, 0, corprof.ErrNotFound
	}
	return fill(m.path, path), corprof.AssemblyID(id), corprof.ModuleFlagOnDisk | corprof.ModuleFlagFlatLayout, nil
}

func (h *Host) GetFunctionInfo(id corprof.FunctionID) (corprof.ModuleID, corprof.Token, error) {
	mid := corprof.ModuleID(uint64(id) >> 32)
	tok := corprof.Token(uint32(id))
	m, ok := h.module(uintptr(mid))
	if !ok {
		return 0, corprof.TokenNil, corprof.ErrNotFound
	}
	if _, err := row(m.image.methods, tok, corprof.TokenKindMethodDef); err != nil {
		return 0, corprof.TokenNil, err
	}
	return mid, tok, nil
}

func (h *Host) GetModuleMetadata(id corprof.ModuleID) (corprof.ModuleImport, error) {
	m, ok := h.module(uintptr(id))
	if !ok {
		return nil, corprof.ErrNotFound
	}
	return m.image, nil
}

// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

import (
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// Builder accumulates module sections. Imports must be added before any
// module-defined function so returned function indexes stay stable.
type Builder struct {
	types    [][]byte
	imports  [][]byte
	funcs    []uint32
	tables   [][]byte
	memories [][]byte
	globals  [][]byte
	exports  [][]byte
	start    *uint32
	elems    [][]byte
	codes    [][]byte
	data     [][]byte
	customs  [][]byte

	importedFuncs   uint32
	importedGlobals uint32
	numGlobals      uint32
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// Type adds a function type and returns its index.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	enc := []byte{0x60}
	enc = append(enc, U32(uint32(len(params)))...)
	for _, p := range params {
		enc = append(enc, byte(p))
	}
	enc = append(enc, U32(uint32(len(results)))...)
	for _, r := range results {
		enc = append(enc, byte(r))
	}
	b.types = append(b.types, enc)
	return uint32(len(b.types) - 1)
}

// ImportFunc imports a host function and returns its function index.
func (b *Builder) ImportFunc(module, name string, typeIdx uint32) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	enc := append(Name(module), Name(name)...)
	enc = append(enc, byte(wasm.ExternFunc))
	enc = append(enc, U32(typeIdx)...)
	b.imports = append(b.imports, enc)
	b.importedFuncs++
	return b.importedFuncs - 1
}

// ImportTable imports a funcref table.
func (b *Builder) ImportTable(module, name string, min uint32) {
	enc := append(Name(module), Name(name)...)
	enc = append(enc, byte(wasm.ExternTable), byte(wasm.FuncRef), 0x00)
	enc = append(enc, U32(min)...)
	b.imports = append(b.imports, enc)
}

// Func adds a function. body holds its instructions without the final end.
func (b *Builder) Func(typeIdx uint32, locals []wasm.ValType, body ...[]byte) uint32 {
	b.funcs = append(b.funcs, typeIdx)
	var enc []byte
	enc = append(enc, U32(uint32(len(locals)))...)
	for _, l := range locals {
		enc = append(enc, 0x01, byte(l))
	}
	for _, part := range body {
		enc = append(enc, part...)
	}
	enc = append(enc, 0x0B)
	b.codes = append(b.codes, append(U32(uint32(len(enc))), enc...))
	return b.importedFuncs + uint32(len(b.funcs)-1)
}

// Export exports an entity.
func (b *Builder) Export(name string, kind wasm.ExternalKind, idx uint32) {
	enc := append(Name(name), byte(kind))
	b.exports = append(b.exports, append(enc, U32(idx)...))
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) { b.Export(name, wasm.ExternFunc, idx) }

// Memory declares memory 0. max is ignored unless hasMax is set.
func (b *Builder) Memory(min, max uint32, hasMax bool) {
	b.memories = append(b.memories, limits(min, max, hasMax))
}

// Table declares a funcref table with min slots.
func (b *Builder) Table(min uint32) uint32 {
	b.tables = append(b.tables, append([]byte{byte(wasm.FuncRef)}, limits(min, 0, false)...))
	return uint32(len(b.tables) - 1)
}

// Elem adds an active element segment for table 0 at offset.
func (b *Builder) Elem(offset int32, funcs ...uint32) {
	enc := []byte{0x00}
	enc = append(enc, I32Const(offset)...)
	enc = append(enc, 0x0B)
	enc = append(enc, U32(uint32(len(funcs)))...)
	for _, f := range funcs {
		enc = append(enc, U32(f)...)
	}
	b.elems = append(b.elems, enc)
}

// Global adds an integer global initialized to init and returns its index.
func (b *Builder) Global(t wasm.ValType, mutable bool, init int64) uint32 {
	enc := []byte{byte(t), 0x00}
	if mutable {
		enc[1] = 0x01
	}
	if t == wasm.I64 {
		enc = append(enc, I64Const(init)...)
	} else {
		enc = append(enc, I32Const(int32(init))...)
	}
	enc = append(enc, 0x0B)
	b.globals = append(b.globals, enc)
	b.numGlobals++
	return b.importedGlobals + b.numGlobals - 1
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, init []byte) {
	enc := []byte{0x00}
	enc = append(enc, I32Const(offset)...)
	enc = append(enc, 0x0B)
	enc = append(enc, U32(uint32(len(init)))...)
	b.data = append(b.data, append(enc, init...))
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) { b.start = &idx }

// Custom adds a custom section.
func (b *Builder) Custom(name string, payload []byte) {
	b.customs = append(b.customs, append(Name(name), payload...))
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	out = vecSection(out, 1, b.types)
	out = vecSection(out, 2, b.imports)
	if len(b.funcs) > 0 {
		var items [][]byte
		for _, t := range b.funcs {
			items = append(items, U32(t))
		}
		out = vecSection(out, 3, items)
	}
	out = vecSection(out, 4, b.tables)
	out = vecSection(out, 5, b.memories)
	out = vecSection(out, 6, b.globals)
	out = vecSection(out, 7, b.exports)
	if b.start != nil {
		out = section(out, 8, U32(*b.start))
	}
	out = vecSection(out, 9, b.elems)
	out = vecSection(out, 10, b.codes)
	out = vecSection(out, 11, b.data)
	for _, c := range b.customs {
		out = section(out, 0, c)
	}
	return out
}

func vecSection(out []byte, id byte, items [][]byte) []byte {
	if len(items) == 0 {
		return out
	}
	payload := U32(uint32(len(items)))
	for _, it := range items {
		payload = append(payload, it...)
	}
	return section(out, id, payload)
}

func section(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, U32(uint32(len(payload)))...)
	return append(out, payload...)
}

func limits(min, max uint32, hasMax bool) []byte {
	if !hasMax {
		return append([]byte{0x00}, U32(min)...)
	}
	enc := append([]byte{0x01}, U32(min)...)
	return append(enc, U32(max)...)
}

// Name encodes a length-prefixed UTF-8 name.
func Name(s string) []byte { return append(U32(uint32(len(s))), s...) }

// U32 encodes v as unsigned LEB128.
func U32(v uint32) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

// S64 encodes v as signed LEB128.
func S64(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}

// S32 encodes v as signed LEB128.
func S32(v int32) []byte { return S64(int64(v)) }

// Package wasm decodes WebAssembly binary modules into an immutable, validated
// form that the detector and the benchmark engine both consume. The decoder
// never executes anything.
package wasm

import "fmt"

// PageSize is the size of one linear-memory page.
const PageSize = 65536

// MaxPages is the largest page count a 32-bit memory can declare.
const MaxPages = 65536

// ValType is a value type byte.
type ValType byte

const (
	I32       ValType = 0x7F
	I64       ValType = 0x7E
	F32       ValType = 0x7D
	F64       ValType = 0x7C
	V128      ValType = 0x7B
	FuncRef   ValType = 0x70
	ExternRef ValType = 0x6F
)

func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

func validValType(b byte) bool {
	switch ValType(b) {
	case I32, I64, F32, F64, V128, FuncRef, ExternRef:
		return true
	}
	return false
}

// ExternalKind tags imports and exports.
type ExternalKind byte

const (
	ExternFunc   ExternalKind = 0
	ExternTable  ExternalKind = 1
	ExternMemory ExternalKind = 2
	ExternGlobal ExternalKind = 3
)

func (k ExternalKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return fmt.Sprintf("extern(%d)", byte(k))
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Limits bound a memory (in pages) or a table (in elements).
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// TableType describes a table.
type TableType struct {
	Elem   ValType
	Limits Limits
}

// GlobalType describes a global.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Import is one entry of the import section. Only the field matching Kind is set.
type Import struct {
	Module string
	Name   string
	Kind   ExternalKind
	Func   uint32
	Table  TableType
	Memory Limits
	Global GlobalType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// Global is a module-defined global with its constant initializer.
type Global struct {
	Type GlobalType
	Init []Instruction
}

// Function is a module-defined function.
type Function struct {
	Index     uint32
	TypeIndex uint32
	Locals    []ValType
	Body      []Instruction
	Offset    int
}

// SegmentMode is the mode of an element or data segment.
type SegmentMode byte

const (
	SegmentActive SegmentMode = iota
	SegmentPassive
	SegmentDeclarative
)

// NullFunc marks a null reference inside an element segment.
const NullFunc int64 = -1

// ElementSegment initializes table slots with function references.
type ElementSegment struct {
	Mode   SegmentMode
	Table  uint32
	Offset []Instruction
	Funcs  []int64
}

// DataSegment initializes linear memory.
type DataSegment struct {
	Mode       SegmentMode
	Memory     uint32
	Offset     []Instruction
	Init       []byte
	FileOffset int
}

// CustomSection records a custom section's name and payload size.
type CustomSection struct {
	Name string
	Size int
}

// Module is a decoded and validated WebAssembly module. In every index space
// imported entities come first, then module-defined ones.
type Module struct {
	Types     []FuncType
	Imports   []Import
	Functions []Function
	Tables    []TableType
	Memories  []Limits
	Globals   []Global
	Exports   []Export
	Start     *uint32
	Elements  []ElementSegment
	Data      []DataSegment
	DataCount *uint32
	Customs   []CustomSection

	importedFuncs    []uint32
	importedTables   []TableType
	importedMemories []Limits
	importedGlobals  []GlobalType
}

// NumFuncs is the size of the function index space.
func (m *Module) NumFuncs() int { return len(m.importedFuncs) + len(m.Functions) }

// NumImportedFuncs is the number of imported functions.
func (m *Module) NumImportedFuncs() int { return len(m.importedFuncs) }

// NumGlobals is the size of the global index space.
func (m *Module) NumGlobals() int { return len(m.importedGlobals) + len(m.Globals) }

// NumTables is the size of the table index space.
func (m *Module) NumTables() int { return len(m.importedTables) + len(m.Tables) }

// NumMemories is the size of the memory index space.
func (m *Module) NumMemories() int { return len(m.importedMemories) + len(m.Memories) }

// FuncType returns the signature of function idx.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	var ti uint32
	switch {
	case int(idx) < len(m.importedFuncs):
		ti = m.importedFuncs[idx]
	case int(idx) < m.NumFuncs():
		ti = m.Functions[int(idx)-len(m.importedFuncs)].TypeIndex
	default:
		return FuncType{}, false
	}
	if int(ti) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[ti], true
}

// FuncImport returns the import backing function idx, if it is imported.
func (m *Module) FuncImport(idx uint32) (Import, bool) {
	if int(idx) >= len(m.importedFuncs) {
		return Import{}, false
	}
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != ExternFunc {
			continue
		}
		if n == idx {
			return imp, true
		}
		n++
	}
	return Import{}, false
}

// Func returns the module-defined function with absolute index idx.
func (m *Module) Func(idx uint32) (*Function, bool) {
	i := int(idx) - len(m.importedFuncs)
	if i < 0 || i >= len(m.Functions) {
		return nil, false
	}
	return &m.Functions[i], true
}

// GlobalType returns the type of global idx.
func (m *Module) GlobalType(idx uint32) (GlobalType, bool) {
	switch {
	case int(idx) < len(m.importedGlobals):
		return m.importedGlobals[idx], true
	case int(idx) < m.NumGlobals():
		return m.Globals[int(idx)-len(m.importedGlobals)].Type, true
	}
	return GlobalType{}, false
}

// Memory returns the limits of memory 0 and whether it is imported.
func (m *Module) Memory() (lim Limits, imported bool, ok bool) {
	if len(m.importedMemories) > 0 {
		return m.importedMemories[0], true, true
	}
	if len(m.Memories) > 0 {
		return m.Memories[0], false, true
	}
	return Limits{}, false, false
}

// Table returns the type of table idx and whether it is imported.
func (m *Module) Table(idx uint32) (tt TableType, imported bool, ok bool) {
	switch {
	case int(idx) < len(m.importedTables):
		return m.importedTables[idx], true, true
	case int(idx) < m.NumTables():
		return m.Tables[int(idx)-len(m.importedTables)], false, true
	}
	return TableType{}, false, false
}

// ExportName returns the first export name for (kind, idx), or "".
func (m *Module) ExportName(kind ExternalKind, idx uint32) string {
	for _, e := range m.Exports {
		if e.Kind == kind && e.Index == idx {
			return e.Name
		}
	}
	return ""
}

// IsExported reports whether (kind, idx) is exported.
func (m *Module) IsExported(kind ExternalKind, idx uint32) bool {
	return m.ExportName(kind, idx) != ""
}

// FuncName is a display name for function idx: export name, import name, or func[idx].
func (m *Module) FuncName(idx uint32) string {
	if name := m.ExportName(ExternFunc, idx); name != "" {
		return name
	}
	if imp, ok := m.FuncImport(idx); ok {
		return imp.Module + "." + imp.Name
	}
	return fmt.Sprintf("func[%d]", idx)
}

package wasm

import "fmt"

// validate checks every cross-reference between sections. Operand types are
// not checked; the interpreter traps on stack underflow instead.
func validate(m *Module) error {
	for i, ti := range m.importedFuncs {
		if int(ti) >= len(m.Types) {
			return fmt.Errorf("imported function %d uses unknown type %d", i, ti)
		}
	}
	if m.NumMemories() > 1 {
		return fmt.Errorf("at most one memory is allowed, got %d", m.NumMemories())
	}
	for _, l := range append(append([]Limits{}, m.importedMemories...), m.Memories...) {
		if l.Min > MaxPages || (l.HasMax && l.Max > MaxPages) {
			return fmt.Errorf("memory limits exceed %d pages", MaxPages)
		}
	}
	for i, g := range m.Globals {
		if err := m.checkConstExpr(g.Init, uint32(len(m.importedGlobals))); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	for _, e := range m.Exports {
		var n int
		switch e.Kind {
		case ExternFunc:
			n = m.NumFuncs()
		case ExternTable:
			n = m.NumTables()
		case ExternMemory:
			n = m.NumMemories()
		case ExternGlobal:
			n = m.NumGlobals()
		}
		if int(e.Index) >= n {
			return fmt.Errorf("export %q references unknown %s %d", e.Name, e.Kind, e.Index)
		}
	}
	if m.Start != nil {
		ft, ok := m.FuncType(*m.Start)
		if !ok {
			return fmt.Errorf("start function %d does not exist", *m.Start)
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return fmt.Errorf("start function %d must take and return nothing", *m.Start)
		}
	}
	for i, seg := range m.Elements {
		if seg.Mode == SegmentActive {
			if int(seg.Table) >= m.NumTables() {
				return fmt.Errorf("element segment %d targets unknown table %d", i, seg.Table)
			}
			if err := m.checkConstExpr(seg.Offset, uint32(m.NumGlobals())); err != nil {
				return fmt.Errorf("element segment %d: %w", i, err)
			}
		}
		for _, f := range seg.Funcs {
			if f != NullFunc && f >= int64(m.NumFuncs()) {
				return fmt.Errorf("element segment %d references unknown function %d", i, f)
			}
		}
	}
	for i, seg := range m.Data {
		if seg.Mode != SegmentActive {
			continue
		}
		if int(seg.Memory) >= m.NumMemories() {
			return fmt.Errorf("data segment %d targets unknown memory %d", i, seg.Memory)
		}
		if err := m.checkConstExpr(seg.Offset, uint32(m.NumGlobals())); err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
	}
	for i := range m.Functions {
		if err := m.validateFunc(&m.Functions[i]); err != nil {
			return fmt.Errorf("function %d: %w", m.Functions[i].Index, err)
		}
	}
	return nil
}

// checkConstExpr checks the references of a constant expression. Only the
// first visibleGlobals globals may be read from it.
func (m *Module) checkConstExpr(expr []Instruction, visibleGlobals uint32) error {
	for _, in := range expr {
		switch in.Op {
		case OpGlobalGet:
			if in.Index >= visibleGlobals {
				return fmt.Errorf("constant expression reads unknown global %d", in.Index)
			}
		case OpRefFunc:
			if int(in.Index) >= m.NumFuncs() {
				return fmt.Errorf("constant expression references unknown function %d", in.Index)
			}
		}
	}
	return nil
}

func (m *Module) validateFunc(fn *Function) error {
	if int(fn.TypeIndex) >= len(m.Types) {
		return fmt.Errorf("unknown type %d", fn.TypeIndex)
	}
	numLocals := len(m.Types[fn.TypeIndex].Params) + len(fn.Locals)
	numData := len(m.Data)
	if m.DataCount != nil {
		numData = int(*m.DataCount)
	}
	hasMemory := m.NumMemories() > 0

	for _, in := range fn.Body {
		bad := func(what string, idx uint32) error {
			return fmt.Errorf("%s references unknown %s %d at offset %d", in.Op, what, idx, in.Offset)
		}
		switch {
		case in.Op.IsLoad() || in.Op.IsStore() || in.Op == OpMemorySize || in.Op == OpMemoryGrow ||
			in.Op == OpMemoryCopy || in.Op == OpMemoryFill:
			if !hasMemory {
				return fmt.Errorf("%s without a memory at offset %d", in.Op, in.Offset)
			}
		}
		switch in.Op {
		case OpCall, OpRefFunc:
			if int(in.Index) >= m.NumFuncs() {
				return bad("function", in.Index)
			}
		case OpCallIndirect:
			if int(in.Index) >= len(m.Types) {
				return bad("type", in.Index)
			}
			if int(in.Index2) >= m.NumTables() {
				return bad("table", in.Index2)
			}
		case OpLocalGet, OpLocalSet, OpLocalTee:
			if int(in.Index) >= numLocals {
				return bad("local", in.Index)
			}
		case OpGlobalGet:
			if int(in.Index) >= m.NumGlobals() {
				return bad("global", in.Index)
			}
		case OpGlobalSet:
			gt, ok := m.GlobalType(in.Index)
			if !ok {
				return bad("global", in.Index)
			}
			if !gt.Mutable {
				return fmt.Errorf("global.set of immutable global %d at offset %d", in.Index, in.Offset)
			}
		case OpTableGet, OpTableSet, OpTableGrow, OpTableSize, OpTableFill:
			if int(in.Index) >= m.NumTables() {
				return bad("table", in.Index)
			}
		case OpTableCopy:
			if int(in.Index) >= m.NumTables() {
				return bad("table", in.Index)
			}
			if int(in.Index2) >= m.NumTables() {
				return bad("table", in.Index2)
			}
		case OpTableInit:
			if int(in.Index) >= len(m.Elements) {
				return bad("element segment", in.Index)
			}
			if int(in.Index2) >= m.NumTables() {
				return bad("table", in.Index2)
			}
		case OpElemDrop:
			if int(in.Index) >= len(m.Elements) {
				return bad("element segment", in.Index)
			}
		case OpMemoryInit, OpDataDrop:
			if m.DataCount == nil {
				return fmt.Errorf("%s requires a data count section at offset %d", in.Op, in.Offset)
			}
			if int(in.Index) >= numData {
				return bad("data segment", in.Index)
			}
			if in.Op == OpMemoryInit && !hasMemory {
				return fmt.Errorf("%s without a memory at offset %d", in.Op, in.Offset)
			}
		case OpBlock, OpLoop, OpIf:
			if in.Block.Kind == BlockIndex && int(in.Block.Index) >= len(m.Types) {
				return bad("type", in.Block.Index)
			}
		}
	}
	return nil
}

package wasm

import (
	"encoding/binary"
	"fmt"
)

// BlockKind distinguishes the three block type encodings.
type BlockKind byte

const (
	BlockEmpty BlockKind = iota
	BlockValue
	BlockIndex
)

// BlockType is the signature of a block, loop or if.
type BlockType struct {
	Kind  BlockKind
	Value ValType
	Index uint32
}

// Instruction is one decoded instruction. Immediates are packed into a few
// generic fields; which ones are meaningful depends on Op.
//
//	Index:  label depth, function, local, global, type, table, data or elem index; memarg align
//	Index2: table of call_indirect, second operand of table.copy/table.init
//	Labels: br_table targets (the default target is Index)
//	Imm:    constant bits or memarg offset
type Instruction struct {
	Op     Opcode
	Offset int
	Block  BlockType
	Index  uint32
	Index2 uint32
	Labels []uint32
	Imm    uint64
}

// decodeBody decodes a function body up to and including its final end.
// Block nesting and branch depths are checked here because they only need the
// body itself.
func decodeBody(r *reader) ([]Instruction, error) {
	var out []Instruction
	// control holds the opcode of each open block; the function body is the
	// implicit outermost one.
	control := []Opcode{OpBlock}
	for {
		if r.eof() {
			return nil, fmt.Errorf("function body missing end")
		}
		in, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		switch in.Op {
		case OpBlock, OpLoop, OpIf:
			control = append(control, in.Op)
		case OpElse:
			if control[len(control)-1] != OpIf {
				return nil, fmt.Errorf("else outside if at offset %d", in.Offset)
			}
			control[len(control)-1] = OpElse
		case OpEnd:
			control = control[:len(control)-1]
			if len(control) == 0 {
				return out, nil
			}
		case OpBr, OpBrIf:
			if int(in.Index) >= len(control) {
				return nil, fmt.Errorf("branch depth %d out of range at offset %d", in.Index, in.Offset)
			}
		case OpBrTable:
			if int(in.Index) >= len(control) {
				return nil, fmt.Errorf("branch depth %d out of range at offset %d", in.Index, in.Offset)
			}
			for _, l := range in.Labels {
				if int(l) >= len(control) {
					return nil, fmt.Errorf("branch depth %d out of range at offset %d", l, in.Offset)
				}
			}
		}
	}
}

// constExpr decodes a constant initializer expression (without its end).
func constExpr(r *reader) ([]Instruction, error) {
	var out []Instruction
	for {
		in, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		switch in.Op {
		case OpEnd:
			if len(out) != 1 {
				return nil, fmt.Errorf("constant expression must contain exactly one instruction")
			}
			return out, nil
		case OpI32Const, OpI64Const, OpF32Const, OpF64Const, OpGlobalGet, OpRefNull, OpRefFunc:
			out = append(out, in)
		default:
			return nil, fmt.Errorf("instruction %s not allowed in constant expression at offset %d", in.Op, in.Offset)
		}
	}
}

func decodeInstruction(r *reader) (Instruction, error) {
	in := Instruction{Offset: r.offset()}
	b, err := r.byte()
	if err != nil {
		return in, err
	}
	in.Op = Opcode(b)
	switch {
	case b == 0x00 || b == 0x01 || b == 0x05 || b == 0x0B || b == 0x0F || b == 0x1A || b == 0x1B:
	case b >= 0x45 && b <= 0xC4:
	case b == 0xD1:
	case b == 0x02 || b == 0x03 || b == 0x04:
		in.Block, err = blockType(r)
	case b == 0x0C || b == 0x0D || b == 0x10 || (b >= 0x20 && b <= 0x26) || b == 0xD2:
		in.Index, err = r.u32()
	case b == 0x0E:
		var n int
		if n, err = r.count(1); err != nil {
			return in, err
		}
		in.Labels = make([]uint32, n)
		for i := range in.Labels {
			if in.Labels[i], err = r.u32(); err != nil {
				return in, err
			}
		}
		in.Index, err = r.u32()
	case b == 0x11:
		if in.Index, err = r.u32(); err != nil {
			return in, err
		}
		in.Index2, err = r.u32()
	case b == 0x1C:
		var n int
		if n, err = r.count(1); err != nil {
			return in, err
		}
		if n != 1 {
			return in, fmt.Errorf("typed select must declare one type")
		}
		_, err = r.valType()
	case b >= 0x28 && b <= 0x3E:
		if in.Index, err = r.u32(); err != nil {
			return in, err
		}
		var off uint32
		off, err = r.u32()
		in.Imm = uint64(off)
	case b == 0x3F || b == 0x40:
		err = zeroByte(r)
	case b == 0x41:
		var v int64
		v, err = r.sleb(32)
		in.Imm = uint64(uint32(int32(v)))
	case b == 0x42:
		var v int64
		v, err = r.sleb(64)
		in.Imm = uint64(v)
	case b == 0x43:
		var raw []byte
		if raw, err = r.bytes(4); err == nil {
			in.Imm = uint64(binary.LittleEndian.Uint32(raw))
		}
	case b == 0x44:
		var raw []byte
		if raw, err = r.bytes(8); err == nil {
			in.Imm = binary.LittleEndian.Uint64(raw)
		}
	case b == 0xD0:
		var t byte
		if t, err = r.byte(); err == nil && ValType(t) != FuncRef && ValType(t) != ExternRef {
			err = fmt.Errorf("invalid reference type 0x%02x", t)
		}
	case b == prefixMisc:
		return miscInstruction(r, in)
	case b == prefixSIMD:
		return in, fmt.Errorf("SIMD instructions are not supported (offset %d)", in.Offset)
	default:
		return in, fmt.Errorf("unknown opcode 0x%02x at offset %d", b, in.Offset)
	}
	return in, err
}

func miscInstruction(r *reader, in Instruction) (Instruction, error) {
	sub, err := r.u32()
	if err != nil {
		return in, err
	}
	if sub > 0x11 {
		return in, fmt.Errorf("unknown opcode 0xfc %d at offset %d", sub, in.Offset)
	}
	in.Op = Opcode(uint16(prefixMisc)<<8 | uint16(sub))
	switch {
	case sub <= truncSatLastSub:
	case in.Op == OpMemoryInit:
		if in.Index, err = r.u32(); err != nil {
			return in, err
		}
		err = zeroByte(r)
	case in.Op == OpDataDrop, in.Op == OpElemDrop:
		in.Index, err = r.u32()
	case in.Op == OpMemoryCopy:
		if err = zeroByte(r); err == nil {
			err = zeroByte(r)
		}
	case in.Op == OpMemoryFill:
		err = zeroByte(r)
	case in.Op == OpTableInit, in.Op == OpTableCopy:
		if in.Index, err = r.u32(); err != nil {
			return in, err
		}
		in.Index2, err = r.u32()
	default:
		in.Index, err = r.u32()
	}
	return in, err
}

func zeroByte(r *reader) error {
	b, err := r.byte()
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("expected zero byte, got 0x%02x at offset %d", b, r.offset()-1)
	}
	return nil
}

func blockType(r *reader) (BlockType, error) {
	b, err := r.peek()
	if err != nil {
		return BlockType{}, err
	}
	if b == 0x40 {
		r.pos++
		return BlockType{Kind: BlockEmpty}, nil
	}
	if validValType(b) {
		r.pos++
		return BlockType{Kind: BlockValue, Value: ValType(b)}, nil
	}
	idx, err := r.sleb(33)
	if err != nil {
		return BlockType{}, err
	}
	if idx < 0 {
		return BlockType{}, fmt.Errorf("invalid block type %d", idx)
	}
	return BlockType{Kind: BlockIndex, Index: uint32(idx)}, nil
}

// BlockArity returns the parameter and result counts of a block type.
func (m *Module) BlockArity(bt BlockType) (params, results int) {
	switch bt.Kind {
	case BlockValue:
		return 0, 1
	case BlockIndex:
		if int(bt.Index) < len(m.Types) {
			t := m.Types[bt.Index]
			return len(t.Params), len(t.Results)
		}
	}
	return 0, 0
}

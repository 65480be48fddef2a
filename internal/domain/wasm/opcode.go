package wasm

import "fmt"

// Opcode is an instruction opcode. Prefixed instructions are encoded as
// prefix<<8 | subopcode (0xFC08 is memory.init).
type Opcode uint16

const (
	OpUnreachable  Opcode = 0x00
	OpNop          Opcode = 0x01
	OpBlock        Opcode = 0x02
	OpLoop         Opcode = 0x03
	OpIf           Opcode = 0x04
	OpElse         Opcode = 0x05
	OpEnd          Opcode = 0x0B
	OpBr           Opcode = 0x0C
	OpBrIf         Opcode = 0x0D
	OpBrTable      Opcode = 0x0E
	OpReturn       Opcode = 0x0F
	OpCall         Opcode = 0x10
	OpCallIndirect Opcode = 0x11

	OpDrop        Opcode = 0x1A
	OpSelect      Opcode = 0x1B
	OpSelectTyped Opcode = 0x1C

	OpLocalGet  Opcode = 0x20
	OpLocalSet  Opcode = 0x21
	OpLocalTee  Opcode = 0x22
	OpGlobalGet Opcode = 0x23
	OpGlobalSet Opcode = 0x24
	OpTableGet  Opcode = 0x25
	OpTableSet  Opcode = 0x26

	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpF32Load    Opcode = 0x2A
	OpF64Load    Opcode = 0x2B
	OpI32Load8S  Opcode = 0x2C
	OpI32Load8U  Opcode = 0x2D
	OpI32Load16S Opcode = 0x2E
	OpI32Load16U Opcode = 0x2F
	OpI64Load8S  Opcode = 0x30
	OpI64Load8U  Opcode = 0x31
	OpI64Load16S Opcode = 0x32
	OpI64Load16U Opcode = 0x33
	OpI64Load32S Opcode = 0x34
	OpI64Load32U Opcode = 0x35
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpF32Store   Opcode = 0x38
	OpF64Store   Opcode = 0x39
	OpI32Store8  Opcode = 0x3A
	OpI32Store16 Opcode = 0x3B
	OpI64Store8  Opcode = 0x3C
	OpI64Store16 Opcode = 0x3D
	OpI64Store32 Opcode = 0x3E
	OpMemorySize Opcode = 0x3F
	OpMemoryGrow Opcode = 0x40

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42
	OpF32Const Opcode = 0x43
	OpF64Const Opcode = 0x44

	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4A
	OpI32GtU Opcode = 0x4B
	OpI32LeS Opcode = 0x4C
	OpI32LeU Opcode = 0x4D
	OpI32GeS Opcode = 0x4E
	OpI32GeU Opcode = 0x4F
	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5A

	OpI32Clz    Opcode = 0x67
	OpI32Ctz    Opcode = 0x68
	OpI32Popcnt Opcode = 0x69
	OpI32Add    Opcode = 0x6A
	OpI32Sub    Opcode = 0x6B
	OpI32Mul    Opcode = 0x6C
	OpI32DivS   Opcode = 0x6D
	OpI32DivU   Opcode = 0x6E
	OpI32RemS   Opcode = 0x6F
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
	OpI32Rotl   Opcode = 0x77
	OpI32Rotr   Opcode = 0x78
	OpI64Clz    Opcode = 0x79
	OpI64Ctz    Opcode = 0x7A
	OpI64Popcnt Opcode = 0x7B
	OpI64Add    Opcode = 0x7C
	OpI64Sub    Opcode = 0x7D
	OpI64Mul    Opcode = 0x7E
	OpI64DivS   Opcode = 0x7F
	OpI64DivU   Opcode = 0x80
	OpI64RemS   Opcode = 0x81
	OpI64RemU   Opcode = 0x82
	OpI64And    Opcode = 0x83
	OpI64Or     Opcode = 0x84
	OpI64Xor    Opcode = 0x85
	OpI64Shl    Opcode = 0x86
	OpI64ShrS   Opcode = 0x87
	OpI64ShrU   Opcode = 0x88
	OpI64Rotl   Opcode = 0x89
	OpI64Rotr   Opcode = 0x8A

	OpI32WrapI64     Opcode = 0xA7
	OpI64ExtendI32S  Opcode = 0xAC
	OpI64ExtendI32U  Opcode = 0xAD
	OpI32Extend8S    Opcode = 0xC0
	OpI32Extend16S   Opcode = 0xC1
	OpI64Extend8S    Opcode = 0xC2
	OpI64Extend16S   Opcode = 0xC3
	OpI64Extend32S   Opcode = 0xC4
	OpRefNull        Opcode = 0xD0
	OpRefIsNull      Opcode = 0xD1
	OpRefFunc        Opcode = 0xD2
	OpMemoryInit     Opcode = 0xFC08
	OpDataDrop       Opcode = 0xFC09
	OpMemoryCopy     Opcode = 0xFC0A
	OpMemoryFill     Opcode = 0xFC0B
	OpTableInit      Opcode = 0xFC0C
	OpElemDrop       Opcode = 0xFC0D
	OpTableCopy      Opcode = 0xFC0E
	OpTableGrow      Opcode = 0xFC0F
	OpTableSize      Opcode = 0xFC10
	OpTableFill      Opcode = 0xFC11
	prefixMisc       byte   = 0xFC
	prefixSIMD       byte   = 0xFD
	truncSatLastSub         = 0x07
)

var opNames = map[Opcode]string{
	OpUnreachable: "unreachable", OpNop: "nop", OpBlock: "block", OpLoop: "loop",
	OpIf: "if", OpElse: "else", OpEnd: "end", OpBr: "br", OpBrIf: "br_if",
	OpBrTable: "br_table", OpReturn: "return", OpCall: "call",
	OpCallIndirect: "call_indirect", OpDrop: "drop", OpSelect: "select",
	OpSelectTyped: "select", OpLocalGet: "local.get", OpLocalSet: "local.set",
	OpLocalTee: "local.tee", OpGlobalGet: "global.get", OpGlobalSet: "global.set",
	OpTableGet: "table.get", OpTableSet: "table.set", OpMemorySize: "memory.size",
	OpMemoryGrow: "memory.grow", OpI32Const: "i32.const", OpI64Const: "i64.const",
	OpF32Const: "f32.const", OpF64Const: "f64.const", OpRefNull: "ref.null",
	OpRefIsNull: "ref.is_null", OpRefFunc: "ref.func", OpMemoryInit: "memory.init",
	OpDataDrop: "data.drop", OpMemoryCopy: "memory.copy", OpMemoryFill: "memory.fill",
	OpTableInit: "table.init", OpElemDrop: "elem.drop", OpTableCopy: "table.copy",
	OpTableGrow: "table.grow", OpTableSize: "table.size", OpTableFill: "table.fill",
}

func (op Opcode) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	if op > 0xFF {
		return fmt.Sprintf("0x%02x 0x%02x", byte(op>>8), byte(op))
	}
	return fmt.Sprintf("0x%02x", uint16(op))
}

// IsFloat reports whether op computes on floating-point values. Constants,
// loads and stores only move bits and are excluded.
func (op Opcode) IsFloat() bool {
	switch {
	case op >= 0x5B && op <= 0x66:
		return true
	case op >= 0x8B && op <= 0xA6:
		return true
	case op >= 0xA8 && op <= 0xBF:
		return op != OpI64ExtendI32S && op != OpI64ExtendI32U
	case op >= 0xFC00 && op <= 0xFC07:
		return true
	}
	return false
}

// IsLoad reports whether op reads linear memory.
func (op Opcode) IsLoad() bool { return op >= OpI32Load && op <= OpI64Load32U }

// IsStore reports whether op writes linear memory.
func (op Opcode) IsStore() bool { return op >= OpI32Store && op <= OpI64Store32 }

// IsBlockStart reports whether op opens a structured control block.
func (op Opcode) IsBlockStart() bool { return op == OpBlock || op == OpLoop || op == OpIf }

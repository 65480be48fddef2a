package benchmark

import (
	"math"
	"math/bits"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// numeric executes an integer comparison, arithmetic or conversion. i32
// values live in the low 32 bits with the high bits cleared.
func numeric(f *frame, op wasm.Opcode) {
	switch {
	case op == wasm.OpI32Eqz:
		f.push(boolValue(uint32(f.pop()) == 0))
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU:
		b, a := uint32(f.pop()), uint32(f.pop())
		f.push(boolValue(compare32(op, a, b)))
	case op == wasm.OpI64Eqz:
		f.push(boolValue(f.pop() == 0))
	case op >= wasm.OpI64Eq && op <= wasm.OpI64GeU:
		b, a := f.pop(), f.pop()
		f.push(boolValue(compare64(op, a, b)))
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt:
		a := uint32(f.pop())
		var r int
		switch op {
		case wasm.OpI32Clz:
			r = bits.LeadingZeros32(a)
		case wasm.OpI32Ctz:
			r = bits.TrailingZeros32(a)
		default:
			r = bits.OnesCount32(a)
		}
		f.push(uint64(r))
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		b, a := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(binary32(op, a, b)))
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt:
		a := f.pop()
		var r int
		switch op {
		case wasm.OpI64Clz:
			r = bits.LeadingZeros64(a)
		case wasm.OpI64Ctz:
			r = bits.TrailingZeros64(a)
		default:
			r = bits.OnesCount64(a)
		}
		f.push(uint64(r))
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		b, a := f.pop(), f.pop()
		f.push(binary64(op, a, b))
	case op == wasm.OpI32WrapI64:
		f.push(uint64(uint32(f.pop())))
	case op == wasm.OpI64ExtendI32S:
		f.push(uint64(int64(int32(uint32(f.pop())))))
	case op == wasm.OpI64ExtendI32U:
		f.push(uint64(uint32(f.pop())))
	case op == wasm.OpI32Extend8S:
		f.push(uint64(uint32(int32(int8(f.pop())))))
	case op == wasm.OpI32Extend16S:
		f.push(uint64(uint32(int32(int16(f.pop())))))
	case op == wasm.OpI64Extend8S:
		f.push(uint64(int64(int8(f.pop()))))
	case op == wasm.OpI64Extend16S:
		f.push(uint64(int64(int16(f.pop()))))
	case op == wasm.OpI64Extend32S:
		f.push(uint64(int64(int32(f.pop()))))
	default:
		trap("unsupported instruction %s", op)
	}
}

func compare32(op wasm.Opcode, a, b uint32) bool {
	switch op {
	case wasm.OpI32Eq:
		return a == b
	case wasm.OpI32Ne:
		return a != b
	case wasm.OpI32LtS:
		return int32(a) < int32(b)
	case wasm.OpI32LtU:
		return a < b
	case wasm.OpI32GtS:
		return int32(a) > int32(b)
	case wasm.OpI32GtU:
		return a > b
	case wasm.OpI32LeS:
		return int32(a) <= int32(b)
	case wasm.OpI32LeU:
		return a <= b
	case wasm.OpI32GeS:
		return int32(a) >= int32(b)
	default:
		return a >= b
	}
}

func compare64(op wasm.Opcode, a, b uint64) bool {
	switch op {
	case wasm.OpI64Eq:
		return a == b
	case wasm.OpI64Ne:
		return a != b
	case wasm.OpI64LtS:
		return int64(a) < int64(b)
	case wasm.OpI64LtU:
		return a < b
	case wasm.OpI64GtS:
		return int64(a) > int64(b)
	case wasm.OpI64GtU:
		return a > b
	case wasm.OpI64LeS:
		return int64(a) <= int64(b)
	case wasm.OpI64LeU:
		return a <= b
	case wasm.OpI64GeS:
		return int64(a) >= int64(b)
	default:
		return a >= b
	}
}

func binary32(op wasm.Opcode, a, b uint32) uint32 {
	switch op {
	case wasm.OpI32Add:
		return a + b
	case wasm.OpI32Sub:
		return a - b
	case wasm.OpI32Mul:
		return a * b
	case wasm.OpI32DivS:
		if b == 0 {
			trap("integer divide by zero")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			trap("integer overflow")
		}
		return uint32(int32(a) / int32(b))
	case wasm.OpI32DivU:
		if b == 0 {
			trap("integer divide by zero")
		}
		return a / b
	case wasm.OpI32RemS:
		if b == 0 {
			trap("integer divide by zero")
		}
		if int32(b) == -1 {
			return 0
		}
		return uint32(int32(a) % int32(b))
	case wasm.OpI32RemU:
		if b == 0 {
			trap("integer divide by zero")
		}
		return a % b
	case wasm.OpI32And:
		return a & b
	case wasm.OpI32Or:
		return a | b
	case wasm.OpI32Xor:
		return a ^ b
	case wasm.OpI32Shl:
		return a << (b & 31)
	case wasm.OpI32ShrS:
		return uint32(int32(a) >> (b & 31))
	case wasm.OpI32ShrU:
		return a >> (b & 31)
	case wasm.OpI32Rotl:
		return bits.RotateLeft32(a, int(b&31))
	default:
		return bits.RotateLeft32(a, -int(b&31))
	}
}

func binary64(op wasm.Opcode, a, b uint64) uint64 {
	switch op {
	case wasm.OpI64Add:
		return a + b
	case wasm.OpI64Sub:
		return a - b
	case wasm.OpI64Mul:
		return a * b
	case wasm.OpI64DivS:
		if b == 0 {
			trap("integer divide by zero")
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			trap("integer overflow")
		}
		return uint64(int64(a) / int64(b))
	case wasm.OpI64DivU:
		if b == 0 {
			trap("integer divide by zero")
		}
		return a / b
	case wasm.OpI64RemS:
		if b == 0 {
			trap("integer divide by zero")
		}
		if int64(b) == -1 {
			return 0
		}
		return uint64(int64(a) % int64(b))
	case wasm.OpI64RemU:
		if b == 0 {
			trap("integer divide by zero")
		}
		return a % b
	case wasm.OpI64And:
		return a & b
	case wasm.OpI64Or:
		return a | b
	case wasm.OpI64Xor:
		return a ^ b
	case wasm.OpI64Shl:
		return a << (b & 63)
	case wasm.OpI64ShrS:
		return uint64(int64(a) >> (b & 63))
	case wasm.OpI64ShrU:
		return a >> (b & 63)
	case wasm.OpI64Rotl:
		return bits.RotateLeft64(a, int(b&63))
	default:
		return bits.RotateLeft64(a, -int(b&63))
	}
}

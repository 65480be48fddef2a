package wasmtest

// Instruction encoders. Each returns the bytes of one instruction.

func I32Const(v int32) []byte { return append([]byte{0x41}, S32(v)...) }
func I64Const(v int64) []byte { return append([]byte{0x42}, S64(v)...) }
func Call(idx uint32) []byte { return append([]byte{0x10}, U32(idx)...) }

func CallIndirect(typeIdx, table uint32) []byte {
	return append(append([]byte{0x11}, U32(typeIdx)...), U32(table)...)
}

func LocalGet(idx uint32) []byte { return append([]byte{0x20}, U32(idx)...) }
func LocalSet(idx uint32) []byte { return append([]byte{0x21}, U32(idx)...) }
func LocalTee(idx uint32) []byte { return append([]byte{0x22}, U32(idx)...) }
func GlobalGet(idx uint32) []byte { return append([]byte{0x23}, U32(idx)...) }
func GlobalSet(idx uint32) []byte { return append([]byte{0x24}, U32(idx)...) }
func Br(depth uint32) []byte { return append([]byte{0x0C}, U32(depth)...) }
func BrIf(depth uint32) []byte { return append([]byte{0x0D}, U32(depth)...) }

func BrTable(def uint32, labels ...uint32) []byte {
	out := append([]byte{0x0E}, U32(uint32(len(labels)))...)
	for _, l := range labels {
		out = append(out, U32(l)...)
	}
	return append(out, U32(def)...)
}

func I32Load(offset uint32) []byte { return append([]byte{0x28, 0x02}, U32(offset)...) }
func I32Store(offset uint32) []byte { return append([]byte{0x36, 0x02}, U32(offset)...) }
func I64Store(offset uint32) []byte { return append([]byte{0x37, 0x03}, U32(offset)...) }

// Block, Loop and If open a block with an empty signature; IfI32 yields an i32.
func Block() []byte { return []byte{0x02, 0x40} }
func Loop() []byte { return []byte{0x03, 0x40} }
func If() []byte { return []byte{0x04, 0x40} }
func IfI32() []byte { return []byte{0x04, 0x7F} }

func Else() []byte { return []byte{0x05} }
func End() []byte { return []byte{0x0B} }
func Return() []byte { return []byte{0x0F} }
func Drop() []byte { return []byte{0x1A} }
func Nop() []byte { return []byte{0x01} }
func Unreachable() []byte { return []byte{0x00} }
func MemorySize() []byte { return []byte{0x3F, 0x00} }
func MemoryGrow() []byte { return []byte{0x40, 0x00} }
func MemoryFill() []byte { return []byte{0xFC, 0x0B, 0x00} }
func MemoryCopy() []byte { return []byte{0xFC, 0x0A, 0x00, 0x00} }

func I32Eqz() []byte { return []byte{0x45} }
func I32LtS() []byte { return []byte{0x48} }
func I32Add() []byte { return []byte{0x6A} }
func I32Sub() []byte { return []byte{0x6B} }
func I32Mul() []byte { return []byte{0x6C} }
func I32DivS() []byte { return []byte{0x6D} }
func I64Add() []byte { return []byte{0x7C} }

func F64Const(bits uint64) []byte {
	out := []byte{0x44}
	for i := 0; i < 8; i++ {
		out = append(out, byte(bits>>(8*i)))
	}
	return out
}

func F64Add() []byte { return []byte{0xA0} }

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

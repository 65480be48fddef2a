package benchmark

import (
	"encoding/binary"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

type label struct {
	arity  int
	height int
	cont   int
	loop   bool
}

// frame is the value and label stack of one function activation.
type frame struct {
	stack  []uint64
	labels []label
}

func (f *frame) push(v uint64) { f.stack = append(f.stack, v) }

func (f *frame) pop() uint64 {
	n := len(f.stack)
	if n == 0 {
		trap("value stack underflow")
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *frame) popN(n int) []uint64 {
	if len(f.stack) < n {
		trap("value stack underflow")
	}
	vals := append([]uint64(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

func (f *frame) enter(arity, params, cont int, loop bool) {
	h := len(f.stack) - params
	if h < 0 {
		trap("value stack underflow")
	}
	f.labels = append(f.labels, label{arity: arity, height: h, cont: cont, loop: loop})
}

// branch unwinds to the label depth levels out and returns where to continue.
// done reports a branch to the function label, which returns.
func (f *frame) branch(depth uint32) (pc int, done bool) {
	idx := len(f.labels) - 1 - int(depth)
	if idx <= 0 {
		return 0, true
	}
	l := f.labels[idx]
	vals := f.popN(l.arity)
	if l.height < len(f.stack) {
		f.stack = f.stack[:l.height]
	}
	f.stack = append(f.stack, vals...)
	if l.loop {
		f.labels = f.labels[:idx+1]
	} else {
		f.labels = f.labels[:idx]
	}
	return l.cont, false
}

func (f *frame) results() []uint64 { return f.popN(f.labels[0].arity) }

func (vm *machine) execute(inst *instance, c *compiled, locals []uint64, depth int) []uint64 {
	body := c.fn.Body
	f := &frame{labels: []label{{arity: len(c.typ.Results), cont: len(body)}}}

	for pc := 0; pc < len(body); {
		in := &body[pc]
		vm.charge(1)
		if in.Op.IsFloat() {
			trap("unsupported instruction %s", in.Op)
		}

		switch in.Op {
		case wasm.OpUnreachable:
			trap("unreachable executed")
		case wasm.OpNop:
		case wasm.OpBlock:
			p, r := vm.mod.BlockArity(in.Block)
			f.enter(r, p, c.end[pc]+1, false)
		case wasm.OpLoop:
			p, _ := vm.mod.BlockArity(in.Block)
			f.enter(p, p, pc+1, true)
		case wasm.OpIf:
			cond := f.pop()
			p, r := vm.mod.BlockArity(in.Block)
			switch {
			case cond != 0:
				f.enter(r, p, c.end[pc]+1, false)
			case c.elseAt[pc] >= 0:
				f.enter(r, p, c.end[pc]+1, false)
				pc = c.elseAt[pc] + 1
				continue
			default:
				pc = c.end[pc] + 1
				continue
			}
		case wasm.OpElse:
			// The then-branch finished; skip the else-branch.
			f.labels = f.labels[:len(f.labels)-1]
			pc = c.end[pc] + 1
			continue
		case wasm.OpEnd:
			if len(f.labels) == 1 {
				return f.results()
			}
			f.labels = f.labels[:len(f.labels)-1]
		case wasm.OpBr:
			next, done := f.branch(in.Index)
			if done {
				return f.results()
			}
			pc = next
			continue
		case wasm.OpBrIf:
			if f.pop() != 0 {
				next, done := f.branch(in.Index)
				if done {
					return f.results()
				}
				pc = next
				continue
			}
		case wasm.OpBrTable:
			i := uint32(f.pop())
			target := in.Index
			if int(i) < len(in.Labels) {
				target = in.Labels[i]
			}
			next, done := f.branch(target)
			if done {
				return f.results()
			}
			pc = next
			continue
		case wasm.OpReturn:
			return f.results()
		case wasm.OpCall:
			ft, _ := vm.mod.FuncType(in.Index)
			args := f.popN(len(ft.Params))
			f.stack = append(f.stack, vm.call(inst, in.Index, args, depth+1)...)
		case wasm.OpCallIndirect:
			f.stack = append(f.stack, vm.callIndirect(inst, f, in, depth)...)

		case wasm.OpDrop:
			f.pop()
		case wasm.OpSelect, wasm.OpSelectTyped:
			cond := f.pop()
			b, a := f.pop(), f.pop()
			if cond != 0 {
				f.push(a)
			} else {
				f.push(b)
			}

		case wasm.OpLocalGet:
			f.push(locals[in.Index])
		case wasm.OpLocalSet:
			locals[in.Index] = f.pop()
		case wasm.OpLocalTee:
			v := f.pop()
			locals[in.Index] = v
			f.push(v)
		case wasm.OpGlobalGet:
			f.push(inst.globals[in.Index])
		case wasm.OpGlobalSet:
			inst.globals[in.Index] = f.pop()

		case wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const:
			f.push(in.Imm)
		case wasm.OpRefNull:
			f.push(0)
		case wasm.OpRefIsNull:
			f.push(boolValue(f.pop() == 0))
		case wasm.OpRefFunc:
			f.push(uint64(in.Index) + 1)

		case wasm.OpMemorySize:
			f.push(uint64(len(inst.mem) / wasm.PageSize))
		case wasm.OpMemoryGrow:
			f.push(vm.grow(inst, uint32(f.pop())))
		case wasm.OpMemoryFill:
			n, val, dst := uint32(f.pop()), byte(f.pop()), uint32(f.pop())
			region := memRange(inst, dst, n)
			vm.charge(int64(n / 32))
			for i := range region {
				region[i] = val
			}
		case wasm.OpMemoryCopy:
			n, src, dst := uint32(f.pop()), uint32(f.pop()), uint32(f.pop())
			from, to := memRange(inst, src, n), memRange(inst, dst, n)
			vm.charge(int64(n / 32))
			copy(to, from)
		case wasm.OpMemoryInit:
			n, src, dst := uint32(f.pop()), uint32(f.pop()), uint32(f.pop())
			var data []byte
			if !inst.dropped[in.Index] {
				data = vm.mod.Data[in.Index].Init
			}
			if uint64(src)+uint64(n) > uint64(len(data)) {
				trap("out of bounds memory access")
			}
			to := memRange(inst, dst, n)
			vm.charge(int64(n / 32))
			copy(to, data[src:])
		case wasm.OpDataDrop:
			inst.dropped[in.Index] = true

		default:
			switch {
			case in.Op.IsLoad():
				f.push(load(inst, f, in))
			case in.Op.IsStore():
				store(inst, f, in)
			case in.Op >= wasm.OpI32Eqz && in.Op <= wasm.OpI64Extend32S:
				numeric(f, in.Op)
			default:
				trap("unsupported instruction %s", in.Op)
			}
		}
		pc++
	}
	return f.results()
}

func (vm *machine) callIndirect(inst *instance, f *frame, in *wasm.Instruction, depth int) []uint64 {
	slot := uint32(f.pop())
	table := inst.tables[in.Index2]
	if int(slot) >= len(table) {
		trap("undefined table element %d", slot)
	}
	target := table[slot]
	if target == wasm.NullFunc {
		trap("uninitialized table element %d", slot)
	}
	want := vm.mod.Types[in.Index]
	got, _ := vm.mod.FuncType(uint32(target))
	if !sameSignature(want, got) {
		trap("indirect call signature mismatch")
	}
	args := f.popN(len(want.Params))
	return vm.call(inst, uint32(target), args, depth+1)
}

// grow extends memory by delta pages and returns the old size in pages, or
// -1 as an i32 when the module's own maximum forbids it.
func (vm *machine) grow(inst *instance, delta uint32) uint64 {
	old := uint32(len(inst.mem) / wasm.PageSize)
	pages := uint64(old) + uint64(delta)
	if pages > uint64(inst.maxPages) {
		return uint64(^uint32(0))
	}
	size := int64(pages) * wasm.PageSize
	if size > vm.budget.MaxMemoryBytes {
		panic(haltSignal{limit: LimitMemory})
	}
	inst.mem = append(inst.mem, make([]byte, int(delta)*wasm.PageSize)...)
	vm.noteMemory(len(inst.mem))
	return uint64(old)
}

func memRange(inst *instance, addr, n uint32) []byte {
	end := uint64(addr) + uint64(n)
	if end > uint64(len(inst.mem)) {
		trap("out of bounds memory access")
	}
	return inst.mem[addr:end]
}

var accessSize = map[wasm.Opcode]uint32{
	wasm.OpI32Load: 4, wasm.OpI64Load: 8, wasm.OpF32Load: 4, wasm.OpF64Load: 8,
	wasm.OpI32Load8S: 1, wasm.OpI32Load8U: 1, wasm.OpI32Load16S: 2, wasm.OpI32Load16U: 2,
	wasm.OpI64Load8S: 1, wasm.OpI64Load8U: 1, wasm.OpI64Load16S: 2, wasm.OpI64Load16U: 2,
	wasm.OpI64Load32S: 4, wasm.OpI64Load32U: 4,
	wasm.OpI32Store: 4, wasm.OpI64Store: 8, wasm.OpF32Store: 4, wasm.OpF64Store: 8,
	wasm.OpI32Store8: 1, wasm.OpI32Store16: 2, wasm.OpI64Store8: 1, wasm.OpI64Store16: 2,
	wasm.OpI64Store32: 4,
}

func effective(inst *instance, base uint64, in *wasm.Instruction) []byte {
	size := accessSize[in.Op]
	ea := uint64(uint32(base)) + in.Imm
	if ea+uint64(size) > uint64(len(inst.mem)) {
		trap("out of bounds memory access")
	}
	return inst.mem[ea : ea+uint64(size)]
}

func load(inst *instance, f *frame, in *wasm.Instruction) uint64 {
	b := effective(inst, f.pop(), in)
	switch in.Op {
	case wasm.OpI32Load, wasm.OpF32Load, wasm.OpI64Load32U:
		return uint64(binary.LittleEndian.Uint32(b))
	case wasm.OpI64Load, wasm.OpF64Load:
		return binary.LittleEndian.Uint64(b)
	case wasm.OpI32Load8S:
		return uint64(uint32(int32(int8(b[0]))))
	case wasm.OpI32Load8U, wasm.OpI64Load8U:
		return uint64(b[0])
	case wasm.OpI32Load16S:
		return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(b)))))
	case wasm.OpI32Load16U, wasm.OpI64Load16U:
		return uint64(binary.LittleEndian.Uint16(b))
	case wasm.OpI64Load8S:
		return uint64(int64(int8(b[0])))
	case wasm.OpI64Load16S:
		return uint64(int64(int16(binary.LittleEndian.Uint16(b))))
	case wasm.OpI64Load32S:
		return uint64(int64(int32(binary.LittleEndian.Uint32(b))))
	}
	return 0
}

func store(inst *instance, f *frame, in *wasm.Instruction) {
	v := f.pop()
	b := effective(inst, f.pop(), in)
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

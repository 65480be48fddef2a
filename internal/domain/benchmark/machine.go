package benchmark

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// checkInterval is how many instructions run between context and wall-clock checks.
const checkInterval = 4096

// maxTableSlots caps the slots a single table may allocate.
const maxTableSlots = 1 << 20

// Signals unwind the interpreter through panic and are recovered per entrypoint.
type (
	trapSignal  struct{ reason string }
	haltSignal  struct{ limit string }
	abortSignal struct{ err error }
)

func trap(format string, args ...any) {
	panic(trapSignal{reason: fmt.Sprintf(format, args...)})
}

// compiled holds the control-flow side tables of one function.
type compiled struct {
	fn  *wasm.Function
	typ wasm.FuncType
	// end maps block, loop, if and else positions to their matching end.
	end []int
	// elseAt maps an if position to its else, or -1.
	elseAt []int
}

func compile(m *wasm.Module, fn *wasm.Function) *compiled {
	c := &compiled{
		fn:     fn,
		typ:    m.Types[fn.TypeIndex],
		end:    make([]int, len(fn.Body)),
		elseAt: make([]int, len(fn.Body)),
	}
	var open []int
	for pc, in := range fn.Body {
		c.elseAt[pc] = -1
		switch in.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			open = append(open, pc)
		case wasm.OpElse:
			c.elseAt[open[len(open)-1]] = pc
		case wasm.OpEnd:
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			c.end[start] = pc
			if e := c.elseAt[start]; e >= 0 {
				c.end[e] = pc
			}
		}
	}
	return c
}

// instance is the mutable state of one instantiation.
type instance struct {
	mem      []byte
	maxPages uint32
	globals  []uint64
	// tables hold absolute function indexes; wasm.NullFunc marks an empty slot.
	tables  [][]int64
	dropped []bool
}

// machine executes one artifact under one budget. It is single-goroutine.
type machine struct {
	ctx    context.Context
	mod    *wasm.Module
	budget Budget
	funcs  []*compiled

	started   time.Time
	steps     int64
	nextCheck int64

	peakMem     int64
	maxDepth    int
	hostCalls   int64
	entrypoints int
	traps       []Trap
}

func newMachine(ctx context.Context, m *wasm.Module, budget Budget) *machine {
	vm := &machine{
		ctx:       ctx,
		mod:       m,
		budget:    budget,
		funcs:     make([]*compiled, len(m.Functions)),
		started:   time.Now(),
		nextCheck: checkInterval,
	}
	for i := range m.Functions {
		vm.funcs[i] = compile(m, &m.Functions[i])
	}
	return vm
}

// charge accounts n instructions against the budget.
func (vm *machine) charge(n int64) {
	vm.steps += n
	if vm.steps > vm.budget.MaxInstructions {
		panic(haltSignal{limit: LimitInstructions})
	}
	if vm.steps >= vm.nextCheck {
		vm.nextCheck = vm.steps + checkInterval
		if err := vm.ctx.Err(); err != nil {
			panic(abortSignal{err: err})
		}
		if time.Since(vm.started) > vm.budget.MaxWallTime {
			panic(haltSignal{limit: LimitWallTime})
		}
	}
}

func (vm *machine) noteMemory(n int) {
	if int64(n) > vm.peakMem {
		vm.peakMem = int64(n)
	}
}

// run instantiates a fresh instance and calls one entrypoint in it. Traps are
// recorded and swallowed; a budget halt is returned as the exceeded limit.
func (vm *machine) run(e entrypoint) (limit string, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch sig := r.(type) {
		case trapSignal:
			vm.traps = append(vm.traps, Trap{Entrypoint: e.name, Reason: sig.reason})
		case haltSignal:
			limit = sig.limit
		case abortSignal:
			err = sig.err
		default:
			err = fmt.Errorf("interpreter fault in %s: %v", e.name, r)
		}
	}()

	vm.entrypoints++
	inst := vm.instantiate()
	ft, _ := vm.mod.FuncType(e.index)
	vm.call(inst, e.index, make([]uint64, len(ft.Params)), 1)
	return "", nil
}

func (vm *machine) instantiate() *instance {
	m := vm.mod
	inst := &instance{
		globals: make([]uint64, m.NumGlobals()),
		dropped: make([]bool, len(m.Data)),
	}
	imported := m.NumGlobals() - len(m.Globals)
	for i, g := range m.Globals {
		inst.globals[imported+i] = constValue(inst, g.Init)
	}

	if lim, _, ok := m.Memory(); ok {
		size := int64(lim.Min) * wasm.PageSize
		if size > vm.budget.MaxMemoryBytes {
			panic(haltSignal{limit: LimitMemory})
		}
		inst.mem = make([]byte, size)
		inst.maxPages = wasm.MaxPages
		if lim.HasMax {
			inst.maxPages = lim.Max
		}
		vm.noteMemory(len(inst.mem))
	}

	for i := 0; i < m.NumTables(); i++ {
		tt, _, _ := m.Table(uint32(i))
		if tt.Limits.Min > maxTableSlots {
			trap("table %d declares %d slots", i, tt.Limits.Min)
		}
		slots := make([]int64, tt.Limits.Min)
		for j := range slots {
			slots[j] = wasm.NullFunc
		}
		inst.tables = append(inst.tables, slots)
	}

	for i, seg := range m.Elements {
		if seg.Mode != wasm.SegmentActive {
			continue
		}
		table := inst.tables[seg.Table]
		off := uint64(uint32(constValue(inst, seg.Offset)))
		if off+uint64(len(seg.Funcs)) > uint64(len(table)) {
			trap("element segment %d out of bounds", i)
		}
		copy(table[off:], seg.Funcs)
	}
	for i, seg := range m.Data {
		if seg.Mode != wasm.SegmentActive {
			continue
		}
		off := uint64(uint32(constValue(inst, seg.Offset)))
		if off+uint64(len(seg.Init)) > uint64(len(inst.mem)) {
			trap("data segment %d out of bounds", i)
		}
		copy(inst.mem[off:], seg.Init)
		inst.dropped[i] = true
	}

	if m.Start != nil {
		vm.call(inst, *m.Start, nil, 1)
	}
	return inst
}

func constValue(inst *instance, expr []wasm.Instruction) uint64 {
	if len(expr) == 0 {
		return 0
	}
	in := expr[0]
	switch in.Op {
	case wasm.OpGlobalGet:
		return inst.globals[in.Index]
	case wasm.OpRefFunc:
		return uint64(in.Index) + 1
	case wasm.OpRefNull:
		return 0
	default:
		return in.Imm
	}
}

// call invokes function idx at the given call depth. Imported functions are
// host stubs that cost HostCallCost and return zeroes.
func (vm *machine) call(inst *instance, idx uint32, args []uint64, depth int) []uint64 {
	if depth > vm.budget.MaxCallDepth {
		trap("call stack exhausted at depth %d", depth)
	}
	if depth > vm.maxDepth {
		vm.maxDepth = depth
	}
	imported := vm.mod.NumImportedFuncs()
	if int(idx) < imported {
		vm.hostCalls++
		vm.charge(vm.budget.HostCallCost)
		ft, _ := vm.mod.FuncType(idx)
		return make([]uint64, len(ft.Results))
	}
	c := vm.funcs[int(idx)-imported]
	locals := make([]uint64, len(c.typ.Params)+len(c.fn.Locals))
	copy(locals, args)
	return vm.execute(inst, c, locals, depth)
}

func sameSignature(a, b wasm.FuncType) bool {
	return slices.Equal(a.Params, b.Params) && slices.Equal(a.Results, b.Results)
}

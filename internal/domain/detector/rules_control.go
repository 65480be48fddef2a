package detector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

func init() {
	register(ruleDef{
		id:          "unbounded-loop",
		category:    "control-flow",
		severity:    scans.SeverityMedium,
		weight:      15,
		description: "loop that always branches back to itself and has no exit",
		eval:        evalUnboundedLoop,
	})
	register(ruleDef{
		id:          "recursive-call",
		category:    "control-flow",
		severity:    scans.SeverityLow,
		weight:      5,
		description: "cycle in the direct call graph",
		eval:        evalRecursiveCall,
	})
	register(ruleDef{
		id:          "indirect-call-exposed-table",
		category:    "control-flow",
		severity:    scans.SeverityMedium,
		weight:      10,
		description: "call_indirect through a table the host can modify",
		eval:        evalExposedTable,
	})
}

func evalUnboundedLoop(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	var out []scans.Finding
	for i := range v.Module.Functions {
		fn := &v.Module.Functions[i]
		name := v.Module.FuncName(fn.Index)
		ordinal := 0
		for pc, in := range fn.Body {
			if in.Op != wasm.OpLoop {
				continue
			}
			ordinal++
			unbounded, err := loopIsUnbounded(fn.Body, pc, m)
			if err != nil {
				return nil, err
			}
			if unbounded {
				out = append(out, scans.Finding{
					Location:   scans.Location{Function: name, Offset: in.Offset, Symbol: name},
					Message:    fmt.Sprintf("loop #%d branches back unconditionally and has no exit", ordinal),
					Confidence: 0.9,
				})
			}
		}
	}
	return out, nil
}

// loopIsUnbounded inspects the loop opened at body[start]. depth counts blocks
// opened inside the loop, so a label equal to depth targets the loop itself
// and a larger one leaves it.
func loopIsUnbounded(body []wasm.Instruction, start int, m *Meter) (bool, error) {
	var nested []wasm.Opcode
	insideIf := func() bool {
		for _, op := range nested {
			if op == wasm.OpIf {
				return true
			}
		}
		return false
	}
	uncondBack, exits := false, false

	for pc := start + 1; pc < len(body); pc++ {
		if err := m.Step(1); err != nil {
			return false, err
		}
		in := body[pc]
		depth := uint32(len(nested))
		switch in.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			nested = append(nested, in.Op)
		case wasm.OpEnd:
			if len(nested) == 0 {
				return uncondBack && !exits, nil
			}
			nested = nested[:len(nested)-1]
		case wasm.OpReturn:
			exits = true
		case wasm.OpBr:
			switch {
			case in.Index > depth:
				exits = true
			case in.Index == depth && !insideIf():
				uncondBack = true
			}
		case wasm.OpBrIf:
			// A conditional back edge falls through to the loop end.
			if in.Index >= depth {
				exits = true
			}
		case wasm.OpBrTable:
			allBack := in.Index == depth
			if in.Index > depth {
				exits = true
			}
			for _, l := range in.Labels {
				if l > depth {
					exits = true
				}
				if l != depth {
					allBack = false
				}
			}
			if allBack && !insideIf() {
				uncondBack = true
			}
		}
	}
	return false, nil
}

func evalRecursiveCall(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	mod := v.Module
	n := mod.NumFuncs()
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []uint32
	var sccs [][]uint32
	next := 0

	var strongConnect func(f uint32) error
	strongConnect = func(f uint32) error {
		index[f], low[f] = next, next
		next++
		stack = append(stack, f)
		onStack[f] = true
		for _, c := range v.Callees(f) {
			if err := m.Step(1); err != nil {
				return err
			}
			if index[c] < 0 {
				if err := strongConnect(c); err != nil {
					return err
				}
				low[f] = min(low[f], low[c])
			} else if onStack[c] {
				low[f] = min(low[f], index[c])
			}
		}
		if low[f] != index[f] {
			return nil
		}
		var scc []uint32
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			scc = append(scc, top)
			if top == f {
				break
			}
		}
		sccs = append(sccs, scc)
		return nil
	}

	for i := range mod.Functions {
		f := mod.Functions[i].Index
		if index[f] < 0 {
			if err := strongConnect(f); err != nil {
				return nil, err
			}
		}
	}

	var out []scans.Finding
	for _, scc := range sccs {
		if len(scc) == 1 && !calls(v, scc[0], scc[0]) {
			continue
		}
		lowest := scc[0]
		for _, f := range scc {
			lowest = min(lowest, f)
		}
		names := make([]string, 0, len(scc))
		for _, f := range slices.Sorted(slices.Values(scc)) {
			names = append(names, mod.FuncName(f))
		}
		if len(names) > 8 {
			names = append(names[:8], "...")
		}
		fn, _ := mod.Func(lowest)
		name := mod.FuncName(lowest)
		out = append(out, scans.Finding{
			Location:   scans.Location{Function: name, Offset: fn.Offset, Symbol: name},
			Message:    "call cycle through " + strings.Join(names, " -> "),
			Confidence: 1,
		})
	}
	return out, nil
}

func calls(v *View, from, to uint32) bool {
	for _, c := range v.Callees(from) {
		if c == to {
			return true
		}
	}
	return false
}

func evalExposedTable(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	mod := v.Module
	var out []scans.Finding
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		first := -1
		count := 0
		how := ""
		for _, in := range fn.Body {
			if err := m.Step(1); err != nil {
				return nil, err
			}
			if in.Op != wasm.OpCallIndirect {
				continue
			}
			_, imported, _ := mod.Table(in.Index2)
			exported := mod.IsExported(wasm.ExternTable, in.Index2)
			if !imported && !exported {
				continue
			}
			count++
			if first < 0 {
				first = in.Offset
				how = "exported"
				if imported {
					how = "imported"
				}
			}
		}
		if count == 0 {
			continue
		}
		name := mod.FuncName(fn.Index)
		out = append(out, scans.Finding{
			Location:   scans.Location{Function: name, Offset: first, Symbol: name},
			Message:    fmt.Sprintf("call_indirect dispatches through an %s table", how),
			Confidence: 0.8,
		})
	}
	return out, nil
}

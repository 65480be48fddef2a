package detector

import (
	"fmt"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

func init() {
	register(ruleDef{
		id:          "unbounded-memory-growth",
		category:    "memory",
		severity:    scans.SeverityMedium,
		weight:      15,
		description: "memory.grow on a memory without a declared maximum",
		eval:        evalUnboundedGrowth,
	})
	register(ruleDef{
		id:          "floating-point",
		category:    "determinism",
		severity:    scans.SeverityHigh,
		weight:      25,
		description: "floating-point arithmetic",
		eval:        evalFloatingPoint,
	})
	register(ruleDef{
		id:          "start-function",
		category:    "lifecycle",
		severity:    scans.SeverityMedium,
		weight:      10,
		description: "module runs code at instantiation",
		eval:        evalStartFunction,
	})
	register(ruleDef{
		id:          "mutable-global-export",
		category:    "state",
		severity:    scans.SeverityMedium,
		weight:      10,
		description: "exported mutable global",
		eval:        evalMutableGlobalExport,
	})
	register(ruleDef{
		id:          "large-data-segment",
		category:    "size",
		severity:    scans.SeverityLow,
		weight:      5,
		description: "data segment larger than max_bytes",
		intParams:   map[string]int{"max_bytes": 16384},
		eval:        evalLargeDataSegment,
	})
	register(ruleDef{
		id:          "oversized-function",
		category:    "size",
		severity:    scans.SeverityLow,
		weight:      5,
		description: "function longer than max_instructions",
		intParams:   map[string]int{"max_instructions": 10000},
		eval:        evalOversizedFunction,
	})
	register(ruleDef{
		id:          "panic-path",
		category:    "reliability",
		severity:    scans.SeverityInfo,
		weight:      0,
		description: "function with at least min_traps unreachable instructions",
		intParams:   map[string]int{"min_traps": 3},
		eval:        evalPanicPath,
	})
}

// scanFunctions reports, for every module-defined function, the first offset
// and count of instructions matching pred.
func scanFunctions(v *View, m *Meter, pred func(wasm.Opcode) bool, emit func(fn *wasm.Function, first, count int)) error {
	for i := range v.Module.Functions {
		fn := &v.Module.Functions[i]
		if err := m.Step(len(fn.Body)); err != nil {
			return err
		}
		first, count := -1, 0
		for _, in := range fn.Body {
			if pred(in.Op) {
				if first < 0 {
					first = in.Offset
				}
				count++
			}
		}
		if count > 0 {
			emit(fn, first, count)
		}
	}
	return nil
}

func funcFinding(v *View, fn *wasm.Function, offset int, msg string, confidence float64) scans.Finding {
	name := v.Module.FuncName(fn.Index)
	return scans.Finding{
		Location:   scans.Location{Function: name, Offset: offset, Symbol: name},
		Message:    msg,
		Confidence: confidence,
	}
}

func evalUnboundedGrowth(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	lim, _, ok := v.Module.Memory()
	if !ok || lim.HasMax {
		return nil, nil
	}
	var out []scans.Finding
	err := scanFunctions(v, m, func(op wasm.Opcode) bool { return op == wasm.OpMemoryGrow },
		func(fn *wasm.Function, first, _ int) {
			out = append(out, funcFinding(v, fn, first, "memory.grow on a memory without a declared maximum", 0.8))
		})
	return out, err
}

func evalFloatingPoint(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	var out []scans.Finding
	err := scanFunctions(v, m, wasm.Opcode.IsFloat, func(fn *wasm.Function, first, _ int) {
		out = append(out, funcFinding(v, fn, first, "function uses floating-point arithmetic", 1))
	})
	return out, err
}

func evalStartFunction(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	if v.Module.Start == nil {
		return nil, nil
	}
	if err := m.Step(1); err != nil {
		return nil, err
	}
	idx := *v.Module.Start
	name := v.Module.FuncName(idx)
	offset := 0
	if fn, ok := v.Module.Func(idx); ok {
		offset = fn.Offset
	}
	return []scans.Finding{{
		Location:   scans.Location{Function: name, Offset: offset, Symbol: name},
		Message:    "module declares a start function",
		Confidence: 1,
	}}, nil
}

func evalMutableGlobalExport(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	var out []scans.Finding
	for _, e := range v.Module.Exports {
		if err := m.Step(1); err != nil {
			return nil, err
		}
		if e.Kind != wasm.ExternGlobal {
			continue
		}
		if gt, ok := v.Module.GlobalType(e.Index); ok && gt.Mutable {
			out = append(out, scans.Finding{
				Location:   scans.Location{Symbol: e.Name},
				Message:    "exported global is mutable",
				Confidence: 1,
			})
		}
	}
	return out, nil
}

func evalLargeDataSegment(v *View, r checklist.Rule, m *Meter) ([]scans.Finding, error) {
	limit := intParam(r, "max_bytes")
	var out []scans.Finding
	for i, seg := range v.Module.Data {
		if err := m.Step(1); err != nil {
			return nil, err
		}
		if len(seg.Init) <= limit {
			continue
		}
		out = append(out, scans.Finding{
			Location:   scans.Location{Offset: seg.FileOffset, Symbol: fmt.Sprintf("data[%d]", i)},
			Message:    fmt.Sprintf("data segment is %d bytes, limit %d", len(seg.Init), limit),
			Confidence: 1,
		})
	}
	return out, nil
}

func evalOversizedFunction(v *View, r checklist.Rule, m *Meter) ([]scans.Finding, error) {
	limit := intParam(r, "max_instructions")
	var out []scans.Finding
	for i := range v.Module.Functions {
		fn := &v.Module.Functions[i]
		if err := m.Step(1); err != nil {
			return nil, err
		}
		if len(fn.Body) <= limit {
			continue
		}
		out = append(out, funcFinding(v, fn, fn.Offset,
			fmt.Sprintf("function has %d instructions, limit %d", len(fn.Body), limit), 1))
	}
	return out, nil
}

func evalPanicPath(v *View, r checklist.Rule, m *Meter) ([]scans.Finding, error) {
	threshold := intParam(r, "min_traps")
	if threshold < 1 {
		threshold = 1
	}
	var out []scans.Finding
	err := scanFunctions(v, m, func(op wasm.Opcode) bool { return op == wasm.OpUnreachable },
		func(fn *wasm.Function, first, count int) {
			if count >= threshold {
				out = append(out, funcFinding(v, fn, first, fmt.Sprintf("function contains %d unreachable traps", count), 0.5))
			}
		})
	return out, err
}

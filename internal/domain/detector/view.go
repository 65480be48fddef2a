package detector

import (
	"sort"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// ExportedFunc is a function reachable from outside the module.
type ExportedFunc struct {
	Name  string
	Index uint32
}

// View is the read-only analysis form of a module shared by all rules.
type View struct {
	Module *wasm.Module

	calls      [][]uint32
	indirect   []bool
	tableFuncs []uint32
	exported   []ExportedFunc
}

// NewView precomputes the direct call graph and the export list.
func NewView(m *wasm.Module) *View {
	v := &View{
		Module:   m,
		calls:    make([][]uint32, m.NumFuncs()),
		indirect: make([]bool, m.NumFuncs()),
	}
	for i := range m.Functions {
		fn := &m.Functions[i]
		seen := map[uint32]bool{}
		for _, in := range fn.Body {
			switch in.Op {
			case wasm.OpCall:
				if !seen[in.Index] {
					seen[in.Index] = true
					v.calls[fn.Index] = append(v.calls[fn.Index], in.Index)
				}
			case wasm.OpCallIndirect:
				v.indirect[fn.Index] = true
			}
		}
		sort.Slice(v.calls[fn.Index], func(a, b int) bool { return v.calls[fn.Index][a] < v.calls[fn.Index][b] })
	}

	inTable := map[uint32]bool{}
	for _, seg := range m.Elements {
		for _, f := range seg.Funcs {
			if f != wasm.NullFunc && !inTable[uint32(f)] {
				inTable[uint32(f)] = true
				v.tableFuncs = append(v.tableFuncs, uint32(f))
			}
		}
	}
	sort.Slice(v.tableFuncs, func(a, b int) bool { return v.tableFuncs[a] < v.tableFuncs[b] })

	for _, e := range m.Exports {
		if e.Kind == wasm.ExternFunc {
			v.exported = append(v.exported, ExportedFunc{Name: e.Name, Index: e.Index})
		}
	}
	sort.Slice(v.exported, func(a, b int) bool { return v.exported[a].Name < v.exported[b].Name })
	return v
}

// Callees returns the direct callees of function idx in ascending order.
func (v *View) Callees(idx uint32) []uint32 { return v.calls[idx] }

// Exported returns exported functions sorted by name.
func (v *View) Exported() []ExportedFunc { return v.exported }

// Reachable returns every function reachable from root, root included.
// call_indirect is resolved conservatively to every function placed in a table.
func (v *View) Reachable(root uint32, m *Meter) (map[uint32]bool, error) {
	seen := map[uint32]bool{root: true}
	queue := []uint32{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := v.calls[cur]
		if v.indirect[cur] {
			next = append(append([]uint32(nil), next...), v.tableFuncs...)
		}
		if err := m.Step(1 + len(next)); err != nil {
			return nil, err
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen, nil
}

package wasm

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxLocalsPerFunction caps declared locals so a tiny artifact cannot request
// gigabytes of locals.
const MaxLocalsPerFunction = 50000

const (
	sectionCustom    = 0
	sectionType      = 1
	sectionImport    = 2
	sectionFunction  = 3
	sectionTable     = 4
	sectionMemory    = 5
	sectionGlobal    = 6
	sectionExport    = 7
	sectionStart     = 8
	sectionElement   = 9
	sectionCode      = 10
	sectionData      = 11
	sectionDataCount = 12
)

// sectionRank orders non-custom sections; datacount sits between element and code.
var sectionRank = map[byte]int{
	sectionType: 1, sectionImport: 2, sectionFunction: 3, sectionTable: 4,
	sectionMemory: 5, sectionGlobal: 6, sectionExport: 7, sectionStart: 8,
	sectionElement: 9, sectionDataCount: 10, sectionCode: 11, sectionData: 12,
}

var magic = []byte{0x00, 0x61, 0x73, 0x6D}

// ErrMalformed is wrapped by every decode and validation failure.
var ErrMalformed = errors.New("malformed wasm module")

// DecodeError carries the artifact offset of a decode failure.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v at offset %d: %v", ErrMalformed, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrMalformed, e.Err} }

// Decode parses and validates a binary module.
func Decode(bin []byte) (*Module, error) {
	d := &decoder{r: reader{buf: bin}, m: &Module{}}
	if err := d.decode(); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, &DecodeError{Offset: d.r.offset(), Err: err}
	}
	if err := validate(d.m); err != nil {
		return nil, &DecodeError{Offset: 0, Err: err}
	}
	return d.m, nil
}

type decoder struct {
	r        reader
	m        *Module
	funcDecl []uint32
}

func (d *decoder) decode() error {
	hdr, err := d.r.bytes(8)
	if err != nil {
		return fmt.Errorf("missing module header")
	}
	if !bytes.Equal(hdr[:4], magic) {
		return fmt.Errorf("bad magic number")
	}
	if !bytes.Equal(hdr[4:], []byte{0x01, 0x00, 0x00, 0x00}) {
		return fmt.Errorf("unsupported binary version")
	}

	lastRank := 0
	sawCode := false
	for !d.r.eof() {
		id, err := d.r.byte()
		if err != nil {
			return err
		}
		size, err := d.r.u32()
		if err != nil {
			return err
		}
		start := d.r.offset()
		payload, err := d.r.bytes(int(size))
		if err != nil {
			return fmt.Errorf("section %d overruns input", id)
		}
		if id != sectionCustom {
			rank, ok := sectionRank[id]
			if !ok {
				return &DecodeError{Offset: start, Err: fmt.Errorf("unknown section id %d", id)}
			}
			if rank <= lastRank {
				return &DecodeError{Offset: start, Err: fmt.Errorf("section %d out of order", id)}
			}
			lastRank = rank
		}
		sr := &reader{buf: payload, base: start}
		if err := d.section(id, sr); err != nil {
			return &DecodeError{Offset: sr.offset(), Err: err}
		}
		if !sr.eof() && id != sectionCustom {
			return &DecodeError{Offset: sr.offset(), Err: fmt.Errorf("section %d size mismatch", id)}
		}
		if id == sectionCode {
			sawCode = true
		}
	}
	if !sawCode && len(d.funcDecl) > 0 {
		return fmt.Errorf("function section declares %d bodies but code section is missing", len(d.funcDecl))
	}
	return nil
}

func (d *decoder) section(id byte, r *reader) error {
	switch id {
	case sectionCustom:
		name, err := r.name()
		if err != nil {
			return err
		}
		d.m.Customs = append(d.m.Customs, CustomSection{Name: name, Size: r.remaining()})
		return nil
	case sectionType:
		return d.typeSection(r)
	case sectionImport:
		return d.importSection(r)
	case sectionFunction:
		n, err := r.count(1)
		if err != nil {
			return err
		}
		d.funcDecl = make([]uint32, n)
		for i := range d.funcDecl {
			if d.funcDecl[i], err = r.u32(); err != nil {
				return err
			}
		}
		return nil
	case sectionTable:
		n, err := r.count(3)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			tt, err := tableType(r)
			if err != nil {
				return err
			}
			d.m.Tables = append(d.m.Tables, tt)
		}
		return nil
	case sectionMemory:
		n, err := r.count(2)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			l, err := r.limits()
			if err != nil {
				return err
			}
			d.m.Memories = append(d.m.Memories, l)
		}
		return nil
	case sectionGlobal:
		n, err := r.count(3)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			gt, err := globalType(r)
			if err != nil {
				return err
			}
			init, err := constExpr(r)
			if err != nil {
				return err
			}
			d.m.Globals = append(d.m.Globals, Global{Type: gt, Init: init})
		}
		return nil
	case sectionExport:
		return d.exportSection(r)
	case sectionStart:
		idx, err := r.u32()
		if err != nil {
			return err
		}
		d.m.Start = &idx
		return nil
	case sectionElement:
		return d.elementSection(r)
	case sectionDataCount:
		n, err := r.u32()
		if err != nil {
			return err
		}
		d.m.DataCount = &n
		return nil
	case sectionCode:
		return d.codeSection(r)
	case sectionData:
		return d.dataSection(r)
	}
	return fmt.Errorf("unknown section id %d", id)
}

func (d *decoder) typeSection(r *reader) error {
	n, err := r.count(3)
	if err != nil {
		return err
	}
	d.m.Types = make([]FuncType, 0, n)
	for i := 0; i < n; i++ {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("invalid function type form 0x%02x", form)
		}
		var ft FuncType
		np, err := r.count(1)
		if err != nil {
			return err
		}
		for j := 0; j < np; j++ {
			vt, err := r.valType()
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, vt)
		}
		nr, err := r.count(1)
		if err != nil {
			return err
		}
		for j := 0; j < nr; j++ {
			vt, err := r.valType()
			if err != nil {
				return err
			}
			ft.Results = append(ft.Results, vt)
		}
		d.m.Types = append(d.m.Types, ft)
	}
	return nil
}

func (d *decoder) importSection(r *reader) error {
	n, err := r.count(4)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		var imp Import
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		imp.Kind = ExternalKind(kind)
		switch imp.Kind {
		case ExternFunc:
			if imp.Func, err = r.u32(); err != nil {
				return err
			}
			d.m.importedFuncs = append(d.m.importedFuncs, imp.Func)
		case ExternTable:
			if imp.Table, err = tableType(r); err != nil {
				return err
			}
			d.m.importedTables = append(d.m.importedTables, imp.Table)
		case ExternMemory:
			if imp.Memory, err = r.limits(); err != nil {
				return err
			}
			d.m.importedMemories = append(d.m.importedMemories, imp.Memory)
		case ExternGlobal:
			if imp.Global, err = globalType(r); err != nil {
				return err
			}
			d.m.importedGlobals = append(d.m.importedGlobals, imp.Global)
		default:
			return fmt.Errorf("invalid import kind 0x%02x", kind)
		}
		d.m.Imports = append(d.m.Imports, imp)
	}
	return nil
}

func (d *decoder) exportSection(r *reader) error {
	n, err := r.count(3)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		var e Export
		if e.Name, err = r.name(); err != nil {
			return err
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true
		kind, err := r.byte()
		if err != nil {
			return err
		}
		if kind > byte(ExternGlobal) {
			return fmt.Errorf("invalid export kind 0x%02x", kind)
		}
		e.Kind = ExternalKind(kind)
		if e.Index, err = r.u32(); err != nil {
			return err
		}
		d.m.Exports = append(d.m.Exports, e)
	}
	return nil
}

func (d *decoder) elementSection(r *reader) error {
	n, err := r.count(2)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags %d", flags)
		}
		var seg ElementSegment
		switch {
		case flags&0x01 == 0:
			seg.Mode = SegmentActive
		case flags&0x02 == 0:
			seg.Mode = SegmentPassive
		default:
			seg.Mode = SegmentDeclarative
		}
		if seg.Mode == SegmentActive {
			if flags&0x02 != 0 {
				if seg.Table, err = r.u32(); err != nil {
					return err
				}
			}
			if seg.Offset, err = constExpr(r); err != nil {
				return err
			}
		}
		usesExprs := flags&0x04 != 0
		if flags&0x03 != 0 {
			// elemkind (0x00) or reftype byte
			b, err := r.byte()
			if err != nil {
				return err
			}
			if !usesExprs && b != 0x00 {
				return fmt.Errorf("invalid element kind 0x%02x", b)
			}
			if usesExprs && ValType(b) != FuncRef && ValType(b) != ExternRef {
				return fmt.Errorf("invalid element reference type 0x%02x", b)
			}
		}
		cnt, err := r.count(1)
		if err != nil {
			return err
		}
		seg.Funcs = make([]int64, 0, cnt)
		for j := 0; j < cnt; j++ {
			if !usesExprs {
				idx, err := r.u32()
				if err != nil {
					return err
				}
				seg.Funcs = append(seg.Funcs, int64(idx))
				continue
			}
			expr, err := constExpr(r)
			if err != nil {
				return err
			}
			ref := NullFunc
			if len(expr) > 0 && expr[0].Op == OpRefFunc {
				ref = int64(expr[0].Index)
			} else if len(expr) == 0 || expr[0].Op != OpRefNull {
				return fmt.Errorf("element expression must be ref.func or ref.null")
			}
			seg.Funcs = append(seg.Funcs, ref)
		}
		d.m.Elements = append(d.m.Elements, seg)
	}
	return nil
}

func (d *decoder) codeSection(r *reader) error {
	n, err := r.count(2)
	if err != nil {
		return err
	}
	if n != len(d.funcDecl) {
		return fmt.Errorf("code section has %d bodies, function section declares %d", n, len(d.funcDecl))
	}
	imported := uint32(len(d.m.importedFuncs))
	d.m.Functions = make([]Function, 0, n)
	for i := 0; i < n; i++ {
		size, err := r.u32()
		if err != nil {
			return err
		}
		start := r.offset()
		body, err := r.bytes(int(size))
		if err != nil {
			return fmt.Errorf("function body %d overruns section", i)
		}
		br := &reader{buf: body, base: start}
		fn := Function{Index: imported + uint32(i), TypeIndex: d.funcDecl[i], Offset: start}
		groups, err := br.count(2)
		if err != nil {
			return err
		}
		total := 0
		for g := 0; g < groups; g++ {
			cnt, err := br.u32()
			if err != nil {
				return err
			}
			total += int(cnt)
			if cnt > MaxLocalsPerFunction || total > MaxLocalsPerFunction {
				return fmt.Errorf("function %d declares too many locals", fn.Index)
			}
			vt, err := br.valType()
			if err != nil {
				return err
			}
			for k := uint32(0); k < cnt; k++ {
				fn.Locals = append(fn.Locals, vt)
			}
		}
		if fn.Body, err = decodeBody(br); err != nil {
			return fmt.Errorf("function %d: %w", fn.Index, err)
		}
		if !br.eof() {
			return fmt.Errorf("function %d has trailing bytes after end", fn.Index)
		}
		d.m.Functions = append(d.m.Functions, fn)
	}
	return nil
}

func (d *decoder) dataSection(r *reader) error {
	n, err := r.count(2)
	if err != nil {
		return err
	}
	if d.m.DataCount != nil && int(*d.m.DataCount) != n {
		return fmt.Errorf("data count %d does not match %d segments", *d.m.DataCount, n)
	}
	for i := 0; i < n; i++ {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
			seg.Mode = SegmentActive
		case 1:
			seg.Mode = SegmentPassive
		case 2:
			seg.Mode = SegmentActive
			if seg.Memory, err = r.u32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid data segment flags %d", flags)
		}
		if seg.Mode == SegmentActive {
			if seg.Offset, err = constExpr(r); err != nil {
				return err
			}
		}
		size, err := r.count(1)
		if err != nil {
			return err
		}
		seg.FileOffset = r.offset()
		if seg.Init, err = r.bytes(size); err != nil {
			return err
		}
		d.m.Data = append(d.m.Data, seg)
	}
	return nil
}

func tableType(r *reader) (TableType, error) {
	b, err := r.byte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(b) != FuncRef && ValType(b) != ExternRef {
		return TableType{}, fmt.Errorf("invalid table element type 0x%02x", b)
	}
	l, err := r.limits()
	if err != nil {
		return TableType{}, err
	}
	return TableType{Elem: ValType(b), Limits: l}, nil
}

func globalType(r *reader) (GlobalType, error) {
	vt, err := r.valType()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{Type: vt, Mutable: mut == 1}, nil
}

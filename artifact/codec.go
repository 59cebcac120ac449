package artifact

import (
	"bytes"
	"io"
	"sort"

	"github.com/willf/bitset"

	"github.com/ankaa-labs/chainwasm/wasm"
	"github.com/ankaa-labs/chainwasm/wasm/leb128"
)

// Serialized artifacts are a trusted format: they are only ever produced by
// Compile and stored by the node, so deserialization favors speed over
// defensiveness and keeps function code as views into the input buffer.
var artifactMagic = [4]byte{'c', 'w', 's', 'a'}

const artifactVersion = 1

// WriteTo serializes the artifact.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	aw := &artifactWriter{w: w}

	aw.write(artifactMagic[:])
	aw.u32(artifactVersion)

	aw.u32(uint32(len(a.Imports)))
	for _, imp := range a.Imports {
		aw.str(imp.Module)
		aw.str(imp.Name)
		aw.funcType(imp.Type)
	}

	aw.u32(uint32(len(a.Functions)))
	for i := range a.Functions {
		f := &a.Functions[i]
		aw.funcType(f.Type)
		aw.u32(uint32(len(f.Locals)))
		for _, l := range f.Locals {
			aw.u32(l.Count)
			aw.byte(byte(l.Type))
		}
		aw.u32(f.NumLocals)
		aw.u32(f.MaxStack)

		code := f.CodeBytes
		if f.Code != nil {
			var buf bytes.Buffer
			if err := EncodeCode(&buf, f.Code); err != nil {
				return aw.n, err
			}
			code = buf.Bytes()
		}
		aw.u32(uint32(len(code)))
		aw.write(code)
	}

	if a.Table == nil {
		aw.byte(0)
	} else {
		aw.byte(1)
		aw.u32(a.Table.Size())
		occupied := uint32(a.Table.occupied.Count())
		aw.u32(occupied)
		for i, funcidx := range a.Table.funcs {
			if a.Table.occupied.Test(uint(i)) {
				aw.u32(uint32(i))
				aw.u32(funcidx)
			}
		}
	}

	if a.Memory == nil {
		aw.byte(0)
	} else {
		aw.byte(1)
		aw.limits(*a.Memory)
	}

	aw.u32(uint32(len(a.Globals)))
	for _, g := range a.Globals {
		aw.byte(byte(g.Type))
		if g.Mutable {
			aw.byte(1)
		} else {
			aw.byte(0)
		}
		aw.u64(g.Init)
	}

	aw.u32(uint32(len(a.Exports)))
	for _, name := range sortedExportNames(a.Exports) {
		aw.str(name)
		aw.u32(a.Exports[name])
	}

	aw.u32(uint32(len(a.Data)))
	for _, seg := range a.Data {
		aw.u32(seg.Offset)
		aw.u32(uint32(len(seg.Init)))
		aw.write(seg.Init)
	}

	return aw.n, aw.err
}

// ReadArtifact deserializes an artifact, borrowing buf: function code and
// data segment contents are views, so buf must outlive the artifact.
func ReadArtifact(buf []byte) (*Artifact, error) {
	r := wasm.NewReader(buf)

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, artifactMagic[:]) {
		return nil, errorf("bad artifact magic")
	}
	version, err := r.U32()
	if err != nil {
		return nil, err
	}
	if version != artifactVersion {
		return nil, errorf("unsupported artifact version %d", version)
	}

	a := &Artifact{Exports: map[string]uint32{}}

	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var imp Import
		if imp.Module, err = readString(r); err != nil {
			return nil, err
		}
		if imp.Name, err = readString(r); err != nil {
			return nil, err
		}
		if imp.Type, err = readFuncType(r); err != nil {
			return nil, err
		}
		a.Imports = append(a.Imports, imp)
	}

	if n, err = r.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		f, err := readFunction(r)
		if err != nil {
			return nil, err
		}
		a.Functions = append(a.Functions, f)
	}

	if a.Table, err = readTable(r); err != nil {
		return nil, err
	}

	hasMemory, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasMemory != 0 {
		limits, err := readLimits(r)
		if err != nil {
			return nil, err
		}
		a.Memory = &limits
	}

	if n, err = r.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		g, err := readGlobal(r)
		if err != nil {
			return nil, err
		}
		a.Globals = append(a.Globals, g)
	}

	if n, err = r.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		a.Exports[name] = idx
	}

	if n, err = r.U32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var seg DataSegment
		if seg.Offset, err = r.U32(); err != nil {
			return nil, err
		}
		size, err := r.U32()
		if err != nil {
			return nil, err
		}
		if seg.Init, err = r.ReadBytes(size); err != nil {
			return nil, err
		}
		a.Data = append(a.Data, seg)
	}

	if r.Len() != 0 {
		return nil, errorf("%d trailing bytes after artifact contents", r.Len())
	}
	return a, nil
}

func readFunction(r *wasm.Reader) (Function, error) {
	var f Function
	var err error
	if f.Type, err = readFuncType(r); err != nil {
		return Function{}, err
	}
	n, err := r.U32()
	if err != nil {
		return Function{}, err
	}
	for i := uint32(0); i < n; i++ {
		count, err := r.U32()
		if err != nil {
			return Function{}, err
		}
		t, err := r.ReadByte()
		if err != nil {
			return Function{}, err
		}
		f.Locals = append(f.Locals, wasm.Local{Count: count, Type: wasm.ValueType(t)})
	}
	if f.NumLocals, err = r.U32(); err != nil {
		return Function{}, err
	}
	if f.MaxStack, err = r.U32(); err != nil {
		return Function{}, err
	}
	size, err := r.U32()
	if err != nil {
		return Function{}, err
	}
	if f.CodeBytes, err = r.ReadBytes(size); err != nil {
		return Function{}, err
	}
	return f, nil
}

func readTable(r *wasm.Reader) (*Table, error) {
	hasTable, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasTable == 0 {
		return nil, nil
	}
	size, err := r.U32()
	if err != nil {
		return nil, err
	}
	t := &Table{funcs: make([]uint32, size), occupied: bitset.BitSet{}}
	occupied, err := r.U32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < occupied; i++ {
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		funcidx, err := r.U32()
		if err != nil {
			return nil, err
		}
		if idx >= size {
			return nil, errorf("table entry %d exceeds table size %d", idx, size)
		}
		t.set(idx, funcidx)
	}
	return t, nil
}

func readGlobal(r *wasm.Reader) (Global, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Global{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return Global{}, err
	}
	init, err := r.U64()
	if err != nil {
		return Global{}, err
	}
	return Global{Type: wasm.ValueType(t), Mutable: mut != 0, Init: init}, nil
}

func readString(r *wasm.Reader) (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readFuncType(r *wasm.Reader) (wasm.FuncType, error) {
	var ty wasm.FuncType
	n, err := r.U32()
	if err != nil {
		return wasm.FuncType{}, err
	}
	for i := uint32(0); i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return wasm.FuncType{}, err
		}
		ty.Params = append(ty.Params, wasm.ValueType(b))
	}
	if n, err = r.U32(); err != nil {
		return wasm.FuncType{}, err
	}
	for i := uint32(0); i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return wasm.FuncType{}, err
		}
		ty.Results = append(ty.Results, wasm.ValueType(b))
	}
	return ty, nil
}

func readLimits(r *wasm.Reader) (wasm.Limits, error) {
	var l wasm.Limits
	var err error
	if l.Min, err = r.U32(); err != nil {
		return wasm.Limits{}, err
	}
	hasMax, err := r.ReadByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	if hasMax != 0 {
		l.HasMax = true
		if l.Max, err = r.U32(); err != nil {
			return wasm.Limits{}, err
		}
	}
	return l, nil
}

// EncodeCode writes a flat instruction stream in the artifact code format:
// opcode byte, then resolved targets for branch instructions or the scalar
// immediate for instructions that carry one.
func EncodeCode(w io.Writer, code []Instr) error {
	aw := &artifactWriter{w: w}
	for i := range code {
		in := &code[i]
		aw.byte(byte(in.Opcode))
		switch in.Opcode {
		case wasm.OpIf, wasm.OpBr, wasm.OpBrIf:
			aw.target(in.Target)
		case wasm.OpBrTable:
			aw.u32(uint32(len(in.Table)))
			for _, t := range in.Table {
				aw.target(t)
			}
			aw.target(in.Target)
		default:
			if hasImm(in.Opcode) {
				aw.u64(in.Imm)
			}
		}
	}
	return aw.err
}

// DecodeCode parses a flat instruction stream produced by EncodeCode.
func DecodeCode(buf []byte) ([]Instr, error) {
	r := wasm.NewReader(buf)
	code := make([]Instr, 0, len(buf)/2)
	for r.Len() > 0 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		in := Instr{Opcode: wasm.Opcode(b)}
		switch in.Opcode {
		case wasm.OpIf, wasm.OpBr, wasm.OpBrIf:
			if in.Target, err = readTarget(r); err != nil {
				return nil, err
			}
		case wasm.OpBrTable:
			n, err := r.U32()
			if err != nil {
				return nil, err
			}
			in.Table = make([]BranchTarget, n)
			for i := range in.Table {
				if in.Table[i], err = readTarget(r); err != nil {
					return nil, err
				}
			}
			if in.Target, err = readTarget(r); err != nil {
				return nil, err
			}
		default:
			if hasImm(in.Opcode) {
				if in.Imm, err = r.U64(); err != nil {
					return nil, err
				}
			}
		}
		code = append(code, in)
	}
	return code, nil
}

func readTarget(r *wasm.Reader) (BranchTarget, error) {
	var t BranchTarget
	var err error
	if t.PC, err = r.U32(); err != nil {
		return BranchTarget{}, err
	}
	if t.StackHeight, err = r.U32(); err != nil {
		return BranchTarget{}, err
	}
	if t.Arity, err = r.U32(); err != nil {
		return BranchTarget{}, err
	}
	return t, nil
}

// hasImm reports whether a flat instruction carries a scalar immediate.
func hasImm(op wasm.Opcode) bool {
	switch op {
	case wasm.OpCall, wasm.OpCallIndirect,
		wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee,
		wasm.OpGlobalGet, wasm.OpGlobalSet,
		wasm.OpI32Const, wasm.OpI64Const, wasm.OpChargeEnergy,
		wasm.OpI32Load, wasm.OpI64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U,
		wasm.OpI32Store, wasm.OpI64Store, wasm.OpI32Store8, wasm.OpI32Store16,
		wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return true
	}
	return false
}

func sortedExportNames(exports map[string]uint32) []string {
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type artifactWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (aw *artifactWriter) write(p []byte) {
	if aw.err != nil {
		return
	}
	n, err := aw.w.Write(p)
	aw.n += int64(n)
	aw.err = err
}

func (aw *artifactWriter) byte(b byte) { aw.write([]byte{b}) }

func (aw *artifactWriter) u32(v uint32) {
	if aw.err != nil {
		return
	}
	n, err := leb128.WriteVarUint32(aw.w, v)
	aw.n += int64(n)
	aw.err = err
}

func (aw *artifactWriter) u64(v uint64) {
	if aw.err != nil {
		return
	}
	n, err := leb128.WriteVarUint64(aw.w, v)
	aw.n += int64(n)
	aw.err = err
}

func (aw *artifactWriter) str(s string) {
	aw.u32(uint32(len(s)))
	aw.write([]byte(s))
}

func (aw *artifactWriter) funcType(ty wasm.FuncType) {
	aw.u32(uint32(len(ty.Params)))
	for _, t := range ty.Params {
		aw.byte(byte(t))
	}
	aw.u32(uint32(len(ty.Results)))
	for _, t := range ty.Results {
		aw.byte(byte(t))
	}
}

func (aw *artifactWriter) limits(l wasm.Limits) {
	aw.u32(l.Min)
	if l.HasMax {
		aw.byte(1)
		aw.u32(l.Max)
	} else {
		aw.byte(0)
	}
}

func (aw *artifactWriter) target(t BranchTarget) {
	aw.u32(t.PC)
	aw.u32(t.StackHeight)
	aw.u32(t.Arity)
}

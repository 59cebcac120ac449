package artifact

import (
	"github.com/willf/bitset"

	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

// PageSize is the linear memory page size in bytes.
const PageSize = 65536

// Compile lowers a validated module into an artifact. Globals, the table,
// and data segments are evaluated to their instance values; every function
// body is flattened with branch labels resolved to jump targets.
func Compile(vm *validate.ValidModule) (*Artifact, error) {
	m := vm.Module
	if len(m.Function.TypeIndices) != len(m.Code.Impls) {
		return nil, errorf("function and code sections have inconsistent lengths: %d declarations, %d bodies",
			len(m.Function.TypeIndices), len(m.Code.Impls))
	}

	a := &Artifact{Exports: map[string]uint32{}}

	for _, imp := range vm.Imports {
		fi := imp.Desc.(wasm.FuncImport)
		a.Imports = append(a.Imports, Import{
			Module: imp.Module,
			Name:   imp.Name,
			Type:   m.Type.Types[fi.TypeIndex],
		})
	}

	for _, g := range m.Global.Globals {
		a.Globals = append(a.Globals, Global{
			Type:    g.Type.Type,
			Mutable: g.Type.Mutable,
			Init:    g.Init[0].Imm,
		})
	}

	if m.Memory.Type != nil {
		limits := m.Memory.Type.Limits
		a.Memory = &limits
	}

	if m.Table.Type != nil {
		size := m.Table.Type.Limits.Min
		a.Table = &Table{funcs: make([]uint32, size), occupied: bitset.BitSet{}}
		for i, seg := range m.Element.Elements {
			off := uint32(seg.Offset[0].I32())
			if uint64(off)+uint64(len(seg.Indices)) > uint64(size) {
				return nil, errorf("element segment %d does not fit the table: offset %d, %d entries, table size %d",
					i, off, len(seg.Indices), size)
			}
			for j, funcidx := range seg.Indices {
				a.Table.set(off+uint32(j), funcidx)
			}
		}
	}

	for i, seg := range m.Data.Segments {
		off := uint32(seg.Offset[0].I32())
		if uint64(off)+uint64(len(seg.Init)) > uint64(a.Memory.Min)*PageSize {
			return nil, errorf("data segment %d does not fit the initial memory: offset %d, %d bytes, %d pages",
				i, off, len(seg.Init), a.Memory.Min)
		}
		a.Data = append(a.Data, DataSegment{Offset: off, Init: seg.Init})
	}

	for _, e := range m.Export.Exports {
		if fe, ok := e.Desc.(wasm.FuncExport); ok {
			a.Exports[e.Name] = fe.Index
		}
	}

	for i := range m.Code.Impls {
		body := &m.Code.Impls[i]
		sig := m.Type.Types[m.Function.TypeIndices[i]]

		code, err := flatten(vm, sig, body.Body)
		if err != nil {
			return nil, err
		}
		a.Functions = append(a.Functions, Function{
			Type:      sig,
			Locals:    body.Locals,
			NumLocals: uint32(body.NumLocals()),
			MaxStack:  uint32(vm.Metrics[i].MaxStackDepth),
			Code:      code,
		})
	}

	return a, nil
}

// frame is one open structured construct during flattening. Branches to a
// loop jump backward to its recorded header; branches to anything else are
// patched with the end PC when the frame closes.
type frame struct {
	loop    bool
	pc      uint32
	arity   uint32
	results uint32
	height  uint32
	dead    bool
	patches []patch
}

// patch addresses an unresolved jump: the instruction index, and which of
// its targets needs the PC (-1 for Target, otherwise an entry of Table).
type patch struct {
	instr int
	table int
}

type funcCompiler struct {
	vm     *validate.ValidModule
	code   []Instr
	frames []frame
	height uint32
}

// flatten compiles a function body's instruction tree to flat code. The
// outer frame's end is one past the last instruction; the executor treats
// reaching it as a return.
func flatten(vm *validate.ValidModule, sig wasm.FuncType, body []wasm.Instruction) ([]Instr, error) {
	c := &funcCompiler{vm: vm}
	c.pushFrame(frame{arity: uint32(len(sig.Results)), results: uint32(len(sig.Results))})
	if err := c.seq(body); err != nil {
		return nil, err
	}
	c.endFrame()
	return c.code, nil
}

func (c *funcCompiler) pushFrame(f frame) {
	f.height = c.height
	f.dead = c.top() != nil && c.top().dead
	c.frames = append(c.frames, f)
}

func (c *funcCompiler) top() *frame {
	if len(c.frames) == 0 {
		return nil
	}
	return &c.frames[len(c.frames)-1]
}

// endFrame closes the top frame: forward jumps to its end resolve to the
// current PC, and the frame's results become the operand height.
func (c *funcCompiler) endFrame() {
	f := c.top()
	for _, p := range f.patches {
		in := &c.code[p.instr]
		if p.table < 0 {
			in.Target.PC = uint32(len(c.code))
		} else {
			in.Table[p.table].PC = uint32(len(c.code))
		}
	}
	c.height = f.height + f.results
	c.frames = c.frames[:len(c.frames)-1]
}

func (c *funcCompiler) emit(in Instr) int {
	c.code = append(c.code, in)
	return len(c.code) - 1
}

func (c *funcCompiler) adjust(d int) {
	if !c.top().dead {
		c.height = uint32(int(c.height) + d)
	}
}

// branch resolves a label depth into the given target slot: backward jumps
// to loop headers resolve immediately, forward jumps record a patch. The
// stack height and carried arity are known either way.
func (c *funcCompiler) branch(depth uint32, instr, table int) {
	f := &c.frames[len(c.frames)-1-int(depth)]
	t := BranchTarget{StackHeight: f.height}
	if f.loop {
		t.PC = f.pc
	} else {
		t.Arity = f.arity
		f.patches = append(f.patches, patch{instr: instr, table: table})
	}
	if table < 0 {
		c.code[instr].Target = t
	} else {
		c.code[instr].Table[table] = t
	}
}

func (c *funcCompiler) seq(instrs []wasm.Instruction) error {
	for i := range instrs {
		if err := c.instr(&instrs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *funcCompiler) instr(in *wasm.Instruction) error {
	switch in.Opcode {
	case wasm.OpBlock:
		results := uint32(len(in.Block.Results()))
		c.pushFrame(frame{arity: results, results: results})
		if err := c.seq(in.Nested); err != nil {
			return err
		}
		c.endFrame()

	case wasm.OpLoop:
		results := uint32(len(in.Block.Results()))
		c.pushFrame(frame{loop: true, pc: uint32(len(c.code)), results: results})
		if err := c.seq(in.Nested); err != nil {
			return err
		}
		c.endFrame()

	case wasm.OpIf:
		return c.ifElse(in)

	case wasm.OpBr:
		idx := c.emit(Instr{Opcode: wasm.OpBr})
		c.branch(in.Labelidx(), idx, -1)
		c.top().dead = true

	case wasm.OpBrIf:
		c.adjust(-1)
		idx := c.emit(Instr{Opcode: wasm.OpBrIf})
		c.branch(in.Labelidx(), idx, -1)

	case wasm.OpBrTable:
		c.adjust(-1)
		idx := c.emit(Instr{Opcode: wasm.OpBrTable, Table: make([]BranchTarget, len(in.Labels))})
		for j, label := range in.Labels {
			c.branch(label, idx, j)
		}
		c.branch(in.Labelidx(), idx, -1)
		c.top().dead = true

	case wasm.OpReturn, wasm.OpUnreachable:
		c.emit(Instr{Opcode: in.Opcode})
		c.top().dead = true

	case wasm.OpCall:
		sig, _ := c.vm.FunctionType(in.Index())
		c.emit(Instr{Opcode: wasm.OpCall, Imm: in.Imm})
		c.adjust(len(sig.Results) - len(sig.Params))

	case wasm.OpCallIndirect:
		sig := c.vm.Module.Type.Types[in.Index()]
		c.emit(Instr{Opcode: wasm.OpCallIndirect, Imm: in.Imm})
		c.adjust(len(sig.Results) - len(sig.Params) - 1)

	default:
		c.emit(Instr{Opcode: in.Opcode, Imm: in.Imm})
		c.adjust(stackDelta(in.Opcode))
	}
	return nil
}

func (c *funcCompiler) ifElse(in *wasm.Instruction) error {
	c.adjust(-1)
	ifIdx := c.emit(Instr{Opcode: wasm.OpIf})
	results := uint32(len(in.Block.Results()))
	c.pushFrame(frame{arity: results, results: results})

	if err := c.seq(in.Nested); err != nil {
		return err
	}

	// Nested frames may have grown the slice; re-resolve after the walk.
	f := c.top()
	if len(in.Else) > 0 {
		// Jump over the else-branch when the then-branch falls through.
		brIdx := c.emit(Instr{Opcode: wasm.OpBr, Target: BranchTarget{StackHeight: f.height, Arity: f.arity}})
		f.patches = append(f.patches, patch{instr: brIdx, table: -1})

		c.code[ifIdx].Target = BranchTarget{PC: uint32(len(c.code)), StackHeight: f.height}
		f.dead = false
		c.height = f.height
		if err := c.seq(in.Else); err != nil {
			return err
		}
	} else {
		c.code[ifIdx].Target = BranchTarget{StackHeight: f.height}
		f.patches = append(f.patches, patch{instr: ifIdx, table: -1})
	}

	c.endFrame()
	return nil
}

// stackDelta is the net operand effect of a flat instruction with no type or
// call dependence.
func stackDelta(op wasm.Opcode) int {
	switch op {
	case wasm.OpI32Const, wasm.OpI64Const, wasm.OpLocalGet, wasm.OpGlobalGet, wasm.OpMemorySize:
		return 1

	case wasm.OpDrop, wasm.OpLocalSet, wasm.OpGlobalSet,
		wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI32GtS,
		wasm.OpI32GtU, wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU,
		wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU, wasm.OpI64GtS,
		wasm.OpI64GtU, wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU,
		wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr,
		wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr:
		return -1

	case wasm.OpSelect,
		wasm.OpI32Store, wasm.OpI64Store, wasm.OpI32Store8, wasm.OpI32Store16,
		wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return -2

	default:
		return 0
	}
}

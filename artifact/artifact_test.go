package artifact_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ankaa-labs/chainwasm/artifact"
	"github.com/ankaa-labs/chainwasm/metering"
	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

var i32 = wasm.ValueTypeI32

func validated(t *testing.T, m *wasm.Module) *validate.ValidModule {
	t.Helper()
	vm, err := validate.ValidateModule(validate.AllowAll{}, m)
	require.NoError(t, err)
	return vm
}

func singleFunc(sig wasm.FuncType, body []wasm.Instruction) *wasm.Module {
	return &wasm.Module{
		Type:     wasm.TypeSection{Types: []wasm.FuncType{sig}},
		Function: wasm.FunctionSection{TypeIndices: []uint32{0}},
		Code:     wasm.CodeSection{Impls: []wasm.Code{{Body: body}}},
	}
}

func TestCompileStraightLine(t *testing.T) {
	vm := validated(t, singleFunc(wasm.FuncType{Results: []wasm.ValueType{i32}}, []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: 42},
	}))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)
	require.Len(t, a.Functions, 1)
	require.Equal(t, []artifact.Instr{
		{Opcode: wasm.OpI32Const, Imm: 42},
	}, a.Functions[0].Code)
	require.Equal(t, uint32(1), a.Functions[0].MaxStack)
}

func TestCompileBlockBranch(t *testing.T) {
	vm := validated(t, singleFunc(wasm.FuncType{}, []wasm.Instruction{
		{Opcode: wasm.OpBlock, Block: wasm.BlockTypeEmpty, Nested: []wasm.Instruction{
			{Opcode: wasm.OpBr, Imm: 0},
			{Opcode: wasm.OpNop},
		}},
		{Opcode: wasm.OpNop},
	}))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)
	code := a.Functions[0].Code

	// Flat layout: br, nop (dead), nop. The br resolves past the block's
	// contents.
	require.Len(t, code, 3)
	require.Equal(t, wasm.OpBr, code[0].Opcode)
	require.Equal(t, artifact.BranchTarget{PC: 2, StackHeight: 0, Arity: 0}, code[0].Target)
}

func TestCompileLoopBranch(t *testing.T) {
	vm := validated(t, singleFunc(wasm.FuncType{Params: []wasm.ValueType{i32}}, []wasm.Instruction{
		{Opcode: wasm.OpNop},
		{Opcode: wasm.OpLoop, Block: wasm.BlockTypeEmpty, Nested: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: 0},
			{Opcode: wasm.OpBrIf, Imm: 0},
		}},
	}))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)
	code := a.Functions[0].Code

	// nop, local.get, br_if; the conditional branch jumps back to the loop
	// header.
	require.Len(t, code, 3)
	require.Equal(t, wasm.OpBrIf, code[2].Opcode)
	require.Equal(t, artifact.BranchTarget{PC: 1, StackHeight: 0, Arity: 0}, code[2].Target)
}

func TestCompileIfElse(t *testing.T) {
	vm := validated(t, singleFunc(wasm.FuncType{Results: []wasm.ValueType{i32}}, []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: 1},
		{
			Opcode: wasm.OpIf,
			Block:  wasm.BlockTypeI32,
			Nested: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 10}},
			Else:   []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 20}},
		},
	}))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)
	code := a.Functions[0].Code

	// const, if, const 10, br (join), const 20
	require.Len(t, code, 5)
	require.Equal(t, wasm.OpIf, code[1].Opcode)
	// False edge jumps to the else arm.
	require.Equal(t, artifact.BranchTarget{PC: 4, StackHeight: 0, Arity: 0}, code[1].Target)
	require.Equal(t, wasm.OpBr, code[3].Opcode)
	// The join carries the if's result.
	require.Equal(t, artifact.BranchTarget{PC: 5, StackHeight: 0, Arity: 1}, code[3].Target)
}

func TestCompileBrTable(t *testing.T) {
	vm := validated(t, singleFunc(wasm.FuncType{Params: []wasm.ValueType{i32}}, []wasm.Instruction{
		{Opcode: wasm.OpBlock, Block: wasm.BlockTypeEmpty, Nested: []wasm.Instruction{
			{Opcode: wasm.OpBlock, Block: wasm.BlockTypeEmpty, Nested: []wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: 0},
				{Opcode: wasm.OpBrTable, Imm: 1, Labels: []uint32{0}},
			}},
			{Opcode: wasm.OpNop},
		}},
	}))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)
	code := a.Functions[0].Code

	// local.get, br_table, nop
	require.Len(t, code, 3)
	bt := code[1]
	require.Equal(t, wasm.OpBrTable, bt.Opcode)
	require.Len(t, bt.Table, 1)
	// Label 0 is the inner block: its end precedes the nop.
	require.Equal(t, uint32(2), bt.Table[0].PC)
	// The default label is the outer block: past the nop.
	require.Equal(t, uint32(3), bt.Target.PC)
}

func TestCompileTableInit(t *testing.T) {
	m := singleFunc(wasm.FuncType{}, nil)
	m.Table.Type = &wasm.TableType{Limits: wasm.Limits{Min: 4}}
	m.Element.Elements = []wasm.ElementSegment{
		{Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 1}}, Indices: []uint32{0, 0}},
	}

	a, err := artifact.Compile(validated(t, m))
	require.NoError(t, err)
	require.Equal(t, uint32(4), a.Table.Size())

	_, ok := a.Table.Lookup(0)
	require.False(t, ok)
	idx, ok := a.Table.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)
	_, ok = a.Table.Lookup(2)
	require.True(t, ok)
	_, ok = a.Table.Lookup(3)
	require.False(t, ok)
	_, ok = a.Table.Lookup(100)
	require.False(t, ok)
}

func TestCompileElementOutOfRange(t *testing.T) {
	m := singleFunc(wasm.FuncType{}, nil)
	m.Table.Type = &wasm.TableType{Limits: wasm.Limits{Min: 1}}
	m.Element.Elements = []wasm.ElementSegment{
		{Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 1}}, Indices: []uint32{0}},
	}

	_, err := artifact.Compile(validated(t, m))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not fit the table")
}

func TestCompileDataOutOfRange(t *testing.T) {
	m := singleFunc(wasm.FuncType{}, nil)
	m.Memory.Type = &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}
	m.Data.Segments = []wasm.DataSegment{
		{Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: artifact.PageSize - 1}}, Init: []byte{1, 2}},
	}

	_, err := artifact.Compile(validated(t, m))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not fit the initial memory")
}

func TestExportedFunction(t *testing.T) {
	m := singleFunc(wasm.FuncType{Results: []wasm.ValueType{i32}}, []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: 42},
	})
	m.Export.Exports = []wasm.Export{{Name: "answer", Desc: wasm.FuncExport{Index: 0}}}

	a, err := artifact.Compile(validated(t, m))
	require.NoError(t, err)

	idx, ty, ok := a.ExportedFunction("answer")
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)
	require.Equal(t, []wasm.ValueType{i32}, ty.Results)

	_, _, ok = a.ExportedFunction("missing")
	require.False(t, ok)
}

func TestArtifactRoundTrip(t *testing.T) {
	hostType := wasm.FuncType{Params: []wasm.ValueType{wasm.ValueTypeI64}}
	m := &wasm.Module{
		Type: wasm.TypeSection{Types: []wasm.FuncType{{Results: []wasm.ValueType{i32}}, hostType}},
		Import: wasm.ImportSection{Imports: []wasm.Import{
			{Module: "env", Name: "log", Desc: wasm.FuncImport{TypeIndex: 1}},
		}},
		Function: wasm.FunctionSection{TypeIndices: []uint32{0}},
		Global: wasm.GlobalSection{Globals: []wasm.Global{
			{Type: wasm.GlobalType{Type: i32, Mutable: true}, Init: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 7}}},
		}},
		Export: wasm.ExportSection{Exports: []wasm.Export{
			{Name: "answer", Desc: wasm.FuncExport{Index: 1}},
		}},
		Memory: wasm.MemorySection{Type: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: 4, HasMax: true}}},
		Data: wasm.DataSection{Segments: []wasm.DataSegment{
			{Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: 8}}, Init: []byte{1, 2, 3}},
		}},
		Code: wasm.CodeSection{Impls: []wasm.Code{{
			Locals: []wasm.Local{{Count: 2, Type: i32}},
			Body: []wasm.Instruction{
				{Opcode: wasm.OpBlock, Block: wasm.BlockTypeEmpty, Nested: []wasm.Instruction{
					{Opcode: wasm.OpI32Const, Imm: 0},
					{Opcode: wasm.OpBrIf, Imm: 0},
				}},
				{Opcode: wasm.OpI32Const, Imm: 42},
			},
		}}},
	}
	vm := metering.Inject(validated(t, m))

	a, err := artifact.Compile(vm)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = a.WriteTo(&buf)
	require.NoError(t, err)

	back, err := artifact.ReadArtifact(buf.Bytes())
	require.NoError(t, err)

	require.Equal(t, a.Imports, back.Imports)
	require.Equal(t, a.Globals, back.Globals)
	require.Equal(t, a.Memory, back.Memory)
	require.Equal(t, a.Exports, back.Exports)
	require.Equal(t, a.Data, back.Data)
	require.Equal(t, a.Table, back.Table)

	require.Len(t, back.Functions, 1)
	require.Equal(t, a.Functions[0].Type, back.Functions[0].Type)
	require.Equal(t, a.Functions[0].Locals, back.Functions[0].Locals)
	require.Equal(t, a.Functions[0].NumLocals, back.Functions[0].NumLocals)
	require.Equal(t, a.Functions[0].MaxStack, back.Functions[0].MaxStack)

	// Deserialized code is a view; decoding it yields the compiled stream.
	require.Nil(t, back.Functions[0].Code)
	decoded, err := back.Functions[0].Instructions()
	require.NoError(t, err)
	require.Equal(t, a.Functions[0].Code, decoded)
}

func TestReadArtifactBadMagic(t *testing.T) {
	_, err := artifact.ReadArtifact([]byte{'x', 'w', 's', 'a', 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad artifact magic")
}

func TestReadArtifactTruncated(t *testing.T) {
	a := &artifact.Artifact{Exports: map[string]uint32{}}
	var buf bytes.Buffer
	_, err := a.WriteTo(&buf)
	require.NoError(t, err)

	_, err = artifact.ReadArtifact(buf.Bytes()[:buf.Len()-1])
	require.Error(t, err)
}

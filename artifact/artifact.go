// Package artifact lowers a validated module into a directly callable form:
// structured control flow is flattened into a linear instruction stream with
// every branch label resolved to a concrete jump target, the function table
// is laid out, and globals, memory, and table initialization are evaluated to
// their instance values.
//
// An artifact produced by Compile owns its instruction streams. An artifact
// produced by ReadArtifact instead borrows the serialized buffer: function
// code is kept as byte-slice views and decoded on demand, so the caller must
// keep the buffer alive for as long as the artifact is in use.
package artifact

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/ankaa-labs/chainwasm/wasm"
)

// Error reports a failure to compile or deserialize an artifact.
type Error string

func (e Error) Error() string { return "artifact: " + string(e) }

func errorf(format string, args ...interface{}) Error {
	return Error(fmt.Sprintf(format, args...))
}

// BranchTarget is a resolved branch destination in a flat code stream.
type BranchTarget struct {
	// PC indexes the instruction the branch transfers to.
	PC uint32
	// StackHeight is the operand height the stack unwinds to before the
	// carried results are pushed back.
	StackHeight uint32
	// Arity is the number of results the branch carries: 0 or 1.
	Arity uint32
}

// Instr is one flattened instruction. Block, loop, else, and end never
// appear: structured control flow is compiled into conditional and
// unconditional jumps. For if, Target is where execution resumes when the
// condition is false. For br_table, Target is the default and Table holds the
// indexed destinations.
type Instr struct {
	Opcode wasm.Opcode
	Imm    uint64
	Target BranchTarget
	Table  []BranchTarget
}

// Import is a host function the instance requires, resolved by the executor
// at call time.
type Import struct {
	Module string
	Name   string
	Type   wasm.FuncType
}

// Global is an instantiated global: its declared type and initial value as a
// 64-bit pattern.
type Global struct {
	Type    wasm.ValueType
	Mutable bool
	Init    uint64
}

// Table is the instantiated function table. Entries not covered by an
// element segment are unoccupied and trap on call_indirect.
type Table struct {
	funcs    []uint32
	occupied bitset.BitSet
}

// Size reports the table's element count.
func (t *Table) Size() uint32 { return uint32(len(t.funcs)) }

// Lookup resolves a table element to a function index; ok is false for
// out-of-range or unoccupied entries.
func (t *Table) Lookup(i uint32) (funcidx uint32, ok bool) {
	if int(i) >= len(t.funcs) || !t.occupied.Test(uint(i)) {
		return 0, false
	}
	return t.funcs[i], true
}

func (t *Table) set(i, funcidx uint32) {
	t.funcs[i] = funcidx
	t.occupied.Set(uint(i))
}

// Function is one compiled local function. Exactly one of Code and CodeBytes
// is set: Code after Compile, CodeBytes after ReadArtifact. Instructions
// resolves either form.
type Function struct {
	Type wasm.FuncType

	// Locals are the declared locals in run-length form; NumLocals is their
	// expanded count, params excluded.
	Locals    []wasm.Local
	NumLocals uint32

	// MaxStack is the operand stack ceiling, for sizing activation frames.
	MaxStack uint32

	Code      []Instr
	CodeBytes []byte
}

// Instructions returns the function's flat code, decoding CodeBytes when the
// artifact was deserialized in borrowing mode.
func (f *Function) Instructions() ([]Instr, error) {
	if f.Code != nil {
		return f.Code, nil
	}
	return DecodeCode(f.CodeBytes)
}

// Artifact is the compiled, directly executable output of the pipeline.
type Artifact struct {
	// Imports occupy the front of the function index space, in declaration
	// order.
	Imports []Import

	// Functions are the local functions; function index i+len(Imports).
	Functions []Function

	// Table is nil when the module declares none.
	Table *Table

	// Memory is nil when the module declares none.
	Memory *wasm.Limits

	Globals []Global

	// Exports maps exported function names to function indices.
	Exports map[string]uint32

	// Data segments with their evaluated start offsets, applied to memory at
	// instantiation.
	Data []DataSegment
}

// DataSegment is an evaluated data segment: contents to copy at Offset.
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// NumFunctions reports the size of the function index space.
func (a *Artifact) NumFunctions() uint32 {
	return uint32(len(a.Imports) + len(a.Functions))
}

// FunctionType resolves a function index to its signature.
func (a *Artifact) FunctionType(idx uint32) (wasm.FuncType, bool) {
	if int(idx) < len(a.Imports) {
		return a.Imports[idx].Type, true
	}
	local := int(idx) - len(a.Imports)
	if local >= len(a.Functions) {
		return wasm.FuncType{}, false
	}
	return a.Functions[local].Type, true
}

// ExportedFunction resolves an export name to a function index and type, so
// the executor can check arguments before building a frame.
func (a *Artifact) ExportedFunction(name string) (idx uint32, ty wasm.FuncType, ok bool) {
	idx, ok = a.Exports[name]
	if !ok {
		return 0, wasm.FuncType{}, false
	}
	ty, _ = a.FunctionType(idx)
	return idx, ty, true
}

// Package metering rewrites function bodies so that execution cost is
// charged before it is incurred: a charge_energy instruction is inserted at
// the start of every basic block, carrying the statically derived cost of the
// straight-line run it heads.
//
// The rewrite is a pure transform. The input module is shared structurally
// but never mutated; only the code section is rebuilt. Control-flow shape is
// unchanged, so branch targets and nesting survive injection untouched.
package metering

import (
	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

// Inject returns a new validated module in which every function body charges
// for each basic block before executing it. Only validated modules may be
// metered: injection assumes every label and index already resolves. The
// result stays valid because charge_energy has no operand-stack effect, so
// the input's imports and frame metrics are shared as-is.
func Inject(vm *validate.ValidModule) *validate.ValidModule {
	m := *vm.Module
	impls := make([]wasm.Code, len(m.Code.Impls))
	for i, c := range m.Code.Impls {
		c.Body = injectSeq(c.Body)
		impls[i] = c
	}
	m.Code = wasm.CodeSection{Impls: impls}
	return &validate.ValidModule{Module: &m, Imports: vm.Imports, Metrics: vm.Metrics}
}

func charge(cost uint64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpChargeEnergy, Imm: cost}
}

// injectSeq splits a sequence into basic blocks and prepends each block's
// charge. A run ends at a structured instruction, whose body is its own set
// of blocks and whose end is a join point, and at any instruction that leaves
// the block: br, br_if, br_table, return, unreachable. The charge covers the
// whole run, terminator included.
func injectSeq(instrs []wasm.Instruction) []wasm.Instruction {
	var out []wasm.Instruction
	var pending []wasm.Instruction
	var cost uint64

	flush := func() {
		if len(pending) == 0 {
			return
		}
		out = append(out, charge(cost))
		out = append(out, pending...)
		pending, cost = nil, 0
	}

	for i := range instrs {
		in := instrs[i]
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop:
			in.Nested = injectSeq(in.Nested)
			cost++
			pending = append(pending, in)
			flush()

		case wasm.OpIf:
			in.Nested = injectSeq(in.Nested)
			in.Else = injectSeq(in.Else)
			cost++
			pending = append(pending, in)
			flush()

		case wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable:
			cost++
			pending = append(pending, in)
			flush()

		default:
			cost++
			pending = append(pending, in)
		}
	}
	flush()
	return out
}

package dump

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/ankaa-labs/chainwasm/metering"
	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

// rows:
// - function
//     - export name, in/out, nlocals, max stack, max nesting, # labels,
//       # instructions, metering charge count and total cost

func dumpStats(w io.Writer, vm *validate.ValidModule) error {
	type row struct {
		Function         string `csv:"function"`
		Funcidx          int    `csv:"funcidx"`
		In               int    `csv:"in"`
		Out              int    `csv:"out"`
		LocalCount       int    `csv:"local count"`
		MaxStack         int    `csv:"max stack"`
		MaxNesting       int    `csv:"max nesting"`
		LabelCount       int    `csv:"label count"`
		InstructionCount int    `csv:"instruction count"`
		ChargeCount      int    `csv:"charge count"`
		MeteredCost      uint64 `csv:"metered cost"`
	}

	exportNames := map[uint32]string{}
	for _, e := range vm.Module.Export.Exports {
		if fe, ok := e.Desc.(wasm.FuncExport); ok {
			exportNames[fe.Index] = e.Name
		}
	}

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)

	metered := metering.Inject(vm)
	for i := range vm.Module.Code.Impls {
		body := &vm.Module.Code.Impls[i]
		idx := uint32(len(vm.Imports) + i)
		sig, _ := vm.FunctionType(idx)

		charges, cost := chargeStats(metered.Module.Code.Impls[i].Body)
		r := row{
			Function:         exportNames[idx],
			Funcidx:          int(idx),
			In:               len(sig.Params),
			Out:              len(sig.Results),
			LocalCount:       int(body.NumLocals()),
			MaxStack:         vm.Metrics[i].MaxStackDepth,
			MaxNesting:       vm.Metrics[i].MaxNesting,
			LabelCount:       vm.Metrics[i].LabelCount,
			InstructionCount: countInstructions(body.Body),
			ChargeCount:      charges,
			MeteredCost:      cost,
		}
		if err := encoder.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func countInstructions(instrs []wasm.Instruction) int {
	n := 0
	for i := range instrs {
		n++
		n += countInstructions(instrs[i].Nested)
		n += countInstructions(instrs[i].Else)
	}
	return n
}

func chargeStats(instrs []wasm.Instruction) (charges int, cost uint64) {
	for i := range instrs {
		in := &instrs[i]
		if in.Opcode == wasm.OpChargeEnergy {
			charges++
			cost += in.Cost()
		}
		c, t := chargeStats(in.Nested)
		charges, cost = charges+c, cost+t
		c, t = chargeStats(in.Else)
		charges, cost = charges+c, cost+t
	}
	return charges, cost
}

package wasm

import (
	"fmt"
	"io"

	"github.com/ankaa-labs/chainwasm/wasm/leb128"
)

// EncodeExpr writes an end-terminated instruction sequence in the wire
// encoding. It is the inverse of the body decoder for every wire opcode;
// internal instructions such as charge_energy have no wire form and fail.
func EncodeExpr(w io.Writer, instrs []Instruction) error {
	for i := range instrs {
		if err := encodeInstruction(w, &instrs[i]); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(OpEnd)})
	return err
}

func encodeInstruction(w io.Writer, in *Instruction) error {
	if in.Opcode == OpChargeEnergy {
		return fmt.Errorf("wasm: %s has no wire encoding", in.Opcode)
	}
	if _, err := w.Write([]byte{byte(in.Opcode)}); err != nil {
		return err
	}

	switch in.Opcode {
	case OpBlock, OpLoop:
		if _, err := w.Write([]byte{byte(in.Block)}); err != nil {
			return err
		}
		return EncodeExpr(w, in.Nested)

	case OpIf:
		if _, err := w.Write([]byte{byte(in.Block)}); err != nil {
			return err
		}
		for i := range in.Nested {
			if err := encodeInstruction(w, &in.Nested[i]); err != nil {
				return err
			}
		}
		if len(in.Else) > 0 {
			if _, err := w.Write([]byte{byte(OpElse)}); err != nil {
				return err
			}
			for i := range in.Else {
				if err := encodeInstruction(w, &in.Else[i]); err != nil {
					return err
				}
			}
		}
		_, err := w.Write([]byte{byte(OpEnd)})
		return err

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet:
		_, err := leb128.WriteVarUint32(w, in.Index())
		return err

	case OpBrTable:
		if _, err := leb128.WriteVarUint32(w, uint32(len(in.Labels))); err != nil {
			return err
		}
		for _, l := range in.Labels {
			if _, err := leb128.WriteVarUint32(w, l); err != nil {
				return err
			}
		}
		_, err := leb128.WriteVarUint32(w, uint32(in.Imm))
		return err

	case OpCallIndirect:
		if _, err := leb128.WriteVarUint32(w, in.Index()); err != nil {
			return err
		}
		_, err := w.Write([]byte{0x00})
		return err

	case OpI32Load, OpI64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		align, offset := in.Memarg()
		if _, err := leb128.WriteVarUint32(w, align); err != nil {
			return err
		}
		_, err := leb128.WriteVarUint32(w, offset)
		return err

	case OpMemorySize, OpMemoryGrow:
		_, err := w.Write([]byte{0x00})
		return err

	case OpI32Const:
		_, err := leb128.WriteVarint32(w, in.I32())
		return err

	case OpI64Const:
		_, err := leb128.WriteVarint64(w, in.I64())
		return err
	}
	return nil
}

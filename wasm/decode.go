package wasm

// MaxNestingDepth caps block nesting during instruction decoding. The cap is
// enforced explicitly rather than relying on the Go stack: pathologically
// nested input must produce an error, not a stack overflow. It matches the
// executor's activation-frame bound.
const MaxNestingDepth = 1024

// decodeExpr decodes an end-terminated instruction sequence.
func decodeExpr(r *Reader, depth int) ([]Instruction, error) {
	if depth > MaxNestingDepth {
		return nil, r.errorf("block nesting exceeds %d levels", MaxNestingDepth)
	}
	var instrs []Instruction
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if Opcode(b) == OpEnd {
			return instrs, nil
		}
		in, err := decodeInstruction(b, r, depth)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, in)
	}
}

// decodeInstruction decodes the instruction whose opcode byte b has already
// been consumed, reading any immediates and, for structured instructions,
// whole nested sequences.
func decodeInstruction(b byte, r *Reader, depth int) (Instruction, error) {
	op := Opcode(b)
	switch op {
	case OpUnreachable, OpNop, OpReturn, OpDrop, OpSelect,
		OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
		OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
		OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
		OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
		OpI32WrapI64, OpI64ExtendI32S, OpI64ExtendI32U:
		return Instruction{Opcode: op}, nil

	case OpBlock, OpLoop:
		bt, err := decodeBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		body, err := decodeExpr(r, depth+1)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Block: bt, Nested: body}, nil

	case OpIf:
		return decodeIf(r, depth)

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet:
		idx, err := r.U32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: uint64(idx)}, nil

	case OpBrTable:
		labels, err := decodeVec(r, (*Reader).U32)
		if err != nil {
			return Instruction{}, err
		}
		def, err := r.U32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: uint64(def), Labels: labels}, nil

	case OpCallIndirect:
		idx, err := r.U32()
		if err != nil {
			return Instruction{}, err
		}
		// The table index is a fixed zero byte in wasm-core-1.
		if err := r.Expect(0x00); err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: uint64(idx)}, nil

	case OpI32Load, OpI64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		align, err := r.U32()
		if err != nil {
			return Instruction{}, err
		}
		offset, err := r.U32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: makeMemarg(align, offset)}, nil

	case OpMemorySize, OpMemoryGrow:
		if err := r.Expect(0x00); err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op}, nil

	case OpI32Const:
		n, err := r.I32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: uint64(uint32(n))}, nil

	case OpI64Const:
		n, err := r.I64()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Opcode: op, Imm: uint64(n)}, nil

	default:
		return Instruction{}, r.errorf("unsupported instruction %#02x", b)
	}
}

// decodeIf decodes the then-branch inline until either the end marker (no
// else-branch) or the else marker followed by an end-terminated else-branch.
func decodeIf(r *Reader, depth int) (Instruction, error) {
	if depth+1 > MaxNestingDepth {
		return Instruction{}, r.errorf("block nesting exceeds %d levels", MaxNestingDepth)
	}
	bt, err := decodeBlockType(r)
	if err != nil {
		return Instruction{}, err
	}
	var thenBranch []Instruction
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Instruction{}, err
		}
		switch Opcode(b) {
		case OpEnd:
			return Instruction{Opcode: OpIf, Block: bt, Nested: thenBranch}, nil
		case OpElse:
			elseBranch, err := decodeExpr(r, depth+1)
			if err != nil {
				return Instruction{}, err
			}
			return Instruction{Opcode: OpIf, Block: bt, Nested: thenBranch, Else: elseBranch}, nil
		default:
			in, err := decodeInstruction(b, r, depth+1)
			if err != nil {
				return Instruction{}, err
			}
			thenBranch = append(thenBranch, in)
		}
	}
}

package wasm

// BlockType is the result arity annotation on a structured instruction. The
// supported subset has no type-index block types: empty, i32, or i64.
type BlockType byte

const (
	BlockTypeEmpty BlockType = 0x40
	BlockTypeI32   BlockType = BlockType(ValueTypeI32)
	BlockTypeI64   BlockType = BlockType(ValueTypeI64)
)

// Results returns the result types produced by a block of this type.
func (bt BlockType) Results() []ValueType {
	switch bt {
	case BlockTypeI32:
		return []ValueType{ValueTypeI32}
	case BlockTypeI64:
		return []ValueType{ValueTypeI64}
	default:
		return nil
	}
}

func decodeBlockType(r *Reader) (BlockType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch bt := BlockType(b); bt {
	case BlockTypeEmpty, BlockTypeI32, BlockTypeI64:
		return bt, nil
	default:
		return 0, r.errorf("unsupported block type %#02x", b)
	}
}

// Instruction is one decoded instruction. The struct is a tagged variant:
// which fields are meaningful depends on Opcode. Block and Loop own their
// body in Nested; If owns the then-branch in Nested and the else-branch in
// Else (empty when the else marker was absent). The tree is bounded by the
// decoder's nesting cap and is never cyclic.
type Instruction struct {
	Opcode Opcode

	// Imm holds the single scalar immediate: an index for variable, call and
	// branch instructions, the bit pattern of the constant for i32.const and
	// i64.const, the default label for br_table, the packed memarg for
	// memory instructions, and the charge amount for charge_energy.
	Imm uint64

	Block  BlockType
	Nested []Instruction
	Else   []Instruction

	// Labels holds the non-default br_table targets.
	Labels []uint32
}

// Index returns the immediate as a local, global, function, or type index.
func (in *Instruction) Index() uint32 { return uint32(in.Imm) }

// Labelidx returns the immediate as a branch label depth.
func (in *Instruction) Labelidx() uint32 { return uint32(in.Imm) }

// I32 returns the immediate of an i32.const.
func (in *Instruction) I32() int32 { return int32(in.Imm) }

// I64 returns the immediate of an i64.const.
func (in *Instruction) I64() int64 { return int64(in.Imm) }

// Memarg unpacks the alignment and offset of a memory instruction.
func (in *Instruction) Memarg() (align, offset uint32) {
	return uint32(in.Imm >> 32), uint32(in.Imm)
}

// Cost returns the charge amount of a charge_energy instruction.
func (in *Instruction) Cost() uint64 { return in.Imm }

func makeMemarg(align, offset uint32) uint64 {
	return uint64(align)<<32 | uint64(offset)
}

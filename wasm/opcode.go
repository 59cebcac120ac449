package wasm

// Opcode is a 1-byte instruction tag. Only the deterministic integer subset
// of wasm-core-1 is defined here; every other byte, including the whole
// floating-point and SIMD space, fails at decode.
type Opcode byte

const (
	OpUnreachable  Opcode = 0x00
	OpNop          Opcode = 0x01
	OpBlock        Opcode = 0x02
	OpLoop         Opcode = 0x03
	OpIf           Opcode = 0x04
	OpElse         Opcode = 0x05
	OpEnd          Opcode = 0x0b
	OpBr           Opcode = 0x0c
	OpBrIf         Opcode = 0x0d
	OpBrTable      Opcode = 0x0e
	OpReturn       Opcode = 0x0f
	OpCall         Opcode = 0x10
	OpCallIndirect Opcode = 0x11

	OpDrop   Opcode = 0x1a
	OpSelect Opcode = 0x1b

	OpLocalGet  Opcode = 0x20
	OpLocalSet  Opcode = 0x21
	OpLocalTee  Opcode = 0x22
	OpGlobalGet Opcode = 0x23
	OpGlobalSet Opcode = 0x24

	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpI32Load8S  Opcode = 0x2c
	OpI32Load8U  Opcode = 0x2d
	OpI32Load16S Opcode = 0x2e
	OpI32Load16U Opcode = 0x2f
	OpI64Load8S  Opcode = 0x30
	OpI64Load8U  Opcode = 0x31
	OpI64Load16S Opcode = 0x32
	OpI64Load16U Opcode = 0x33
	OpI64Load32S Opcode = 0x34
	OpI64Load32U Opcode = 0x35
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpI32Store8  Opcode = 0x3a
	OpI32Store16 Opcode = 0x3b
	OpI64Store8  Opcode = 0x3c
	OpI64Store16 Opcode = 0x3d
	OpI64Store32 Opcode = 0x3e
	OpMemorySize Opcode = 0x3f
	OpMemoryGrow Opcode = 0x40

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42

	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4a
	OpI32GtU Opcode = 0x4b
	OpI32LeS Opcode = 0x4c
	OpI32LeU Opcode = 0x4d
	OpI32GeS Opcode = 0x4e
	OpI32GeU Opcode = 0x4f

	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5a

	OpI32Clz    Opcode = 0x67
	OpI32Ctz    Opcode = 0x68
	OpI32Popcnt Opcode = 0x69
	OpI32Add    Opcode = 0x6a
	OpI32Sub    Opcode = 0x6b
	OpI32Mul    Opcode = 0x6c
	OpI32DivS   Opcode = 0x6d
	OpI32DivU   Opcode = 0x6e
	OpI32RemS   Opcode = 0x6f
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
	OpI32Rotl   Opcode = 0x77
	OpI32Rotr   Opcode = 0x78

	OpI64Clz    Opcode = 0x79
	OpI64Ctz    Opcode = 0x7a
	OpI64Popcnt Opcode = 0x7b
	OpI64Add    Opcode = 0x7c
	OpI64Sub    Opcode = 0x7d
	OpI64Mul    Opcode = 0x7e
	OpI64DivS   Opcode = 0x7f
	OpI64DivU   Opcode = 0x80
	OpI64RemS   Opcode = 0x81
	OpI64RemU   Opcode = 0x82
	OpI64And    Opcode = 0x83
	OpI64Or     Opcode = 0x84
	OpI64Xor    Opcode = 0x85
	OpI64Shl    Opcode = 0x86
	OpI64ShrS   Opcode = 0x87
	OpI64ShrU   Opcode = 0x88
	OpI64Rotl   Opcode = 0x89
	OpI64Rotr   Opcode = 0x8a

	OpI32WrapI64    Opcode = 0xa7
	OpI64ExtendI32S Opcode = 0xac
	OpI64ExtendI32U Opcode = 0xad

	// OpChargeEnergy is the internal cost-accounting instruction inserted by
	// the metering injector. It has no wire encoding: seeing this byte in
	// input is a decode error like any other unassigned opcode.
	OpChargeEnergy Opcode = 0xff
)

var opcodeNames = map[Opcode]string{
	OpUnreachable:   "unreachable",
	OpNop:           "nop",
	OpBlock:         "block",
	OpLoop:          "loop",
	OpIf:            "if",
	OpElse:          "else",
	OpEnd:           "end",
	OpBr:            "br",
	OpBrIf:          "br_if",
	OpBrTable:       "br_table",
	OpReturn:        "return",
	OpCall:          "call",
	OpCallIndirect:  "call_indirect",
	OpDrop:          "drop",
	OpSelect:        "select",
	OpLocalGet:      "local.get",
	OpLocalSet:      "local.set",
	OpLocalTee:      "local.tee",
	OpGlobalGet:     "global.get",
	OpGlobalSet:     "global.set",
	OpI32Load:       "i32.load",
	OpI64Load:       "i64.load",
	OpI32Load8S:     "i32.load8_s",
	OpI32Load8U:     "i32.load8_u",
	OpI32Load16S:    "i32.load16_s",
	OpI32Load16U:    "i32.load16_u",
	OpI64Load8S:     "i64.load8_s",
	OpI64Load8U:     "i64.load8_u",
	OpI64Load16S:    "i64.load16_s",
	OpI64Load16U:    "i64.load16_u",
	OpI64Load32S:    "i64.load32_s",
	OpI64Load32U:    "i64.load32_u",
	OpI32Store:      "i32.store",
	OpI64Store:      "i64.store",
	OpI32Store8:     "i32.store8",
	OpI32Store16:    "i32.store16",
	OpI64Store8:     "i64.store8",
	OpI64Store16:    "i64.store16",
	OpI64Store32:    "i64.store32",
	OpMemorySize:    "memory.size",
	OpMemoryGrow:    "memory.grow",
	OpI32Const:      "i32.const",
	OpI64Const:      "i64.const",
	OpI32Eqz:        "i32.eqz",
	OpI32Eq:         "i32.eq",
	OpI32Ne:         "i32.ne",
	OpI32LtS:        "i32.lt_s",
	OpI32LtU:        "i32.lt_u",
	OpI32GtS:        "i32.gt_s",
	OpI32GtU:        "i32.gt_u",
	OpI32LeS:        "i32.le_s",
	OpI32LeU:        "i32.le_u",
	OpI32GeS:        "i32.ge_s",
	OpI32GeU:        "i32.ge_u",
	OpI64Eqz:        "i64.eqz",
	OpI64Eq:         "i64.eq",
	OpI64Ne:         "i64.ne",
	OpI64LtS:        "i64.lt_s",
	OpI64LtU:        "i64.lt_u",
	OpI64GtS:        "i64.gt_s",
	OpI64GtU:        "i64.gt_u",
	OpI64LeS:        "i64.le_s",
	OpI64LeU:        "i64.le_u",
	OpI64GeS:        "i64.ge_s",
	OpI64GeU:        "i64.ge_u",
	OpI32Clz:        "i32.clz",
	OpI32Ctz:        "i32.ctz",
	OpI32Popcnt:     "i32.popcnt",
	OpI32Add:        "i32.add",
	OpI32Sub:        "i32.sub",
	OpI32Mul:        "i32.mul",
	OpI32DivS:       "i32.div_s",
	OpI32DivU:       "i32.div_u",
	OpI32RemS:       "i32.rem_s",
	OpI32RemU:       "i32.rem_u",
	OpI32And:        "i32.and",
	OpI32Or:         "i32.or",
	OpI32Xor:        "i32.xor",
	OpI32Shl:        "i32.shl",
	OpI32ShrS:       "i32.shr_s",
	OpI32ShrU:       "i32.shr_u",
	OpI32Rotl:       "i32.rotl",
	OpI32Rotr:       "i32.rotr",
	OpI64Clz:        "i64.clz",
	OpI64Ctz:        "i64.ctz",
	OpI64Popcnt:     "i64.popcnt",
	OpI64Add:        "i64.add",
	OpI64Sub:        "i64.sub",
	OpI64Mul:        "i64.mul",
	OpI64DivS:       "i64.div_s",
	OpI64DivU:       "i64.div_u",
	OpI64RemS:       "i64.rem_s",
	OpI64RemU:       "i64.rem_u",
	OpI64And:        "i64.and",
	OpI64Or:         "i64.or",
	OpI64Xor:        "i64.xor",
	OpI64Shl:        "i64.shl",
	OpI64ShrS:       "i64.shr_s",
	OpI64ShrU:       "i64.shr_u",
	OpI64Rotl:       "i64.rotl",
	OpI64Rotr:       "i64.rotr",
	OpI32WrapI64:    "i32.wrap_i64",
	OpI64ExtendI32S: "i64.extend_i32_s",
	OpI64ExtendI32U: "i64.extend_i32_u",
	OpChargeEnergy:  "charge_energy",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "unknown"
}

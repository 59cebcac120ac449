package validate

import (
	"github.com/ankaa-labs/chainwasm/wasm"
)

// typeAny is the polymorphic operand produced by unreachable code. It
// compares equal to every concrete value type.
const typeAny wasm.ValueType = 0

type ctrlFrame struct {
	// labelTypes are the operand types a branch to this frame must supply:
	// the block results for blocks and ifs, nothing for loops.
	labelTypes []wasm.ValueType
	// endTypes are the operand types the frame leaves on the stack when its
	// end is reached normally.
	endTypes []wasm.ValueType

	base        int
	unreachable bool
}

// codeChecker verifies the stack discipline of a single function body and
// accumulates its frame metrics along the way.
type codeChecker struct {
	v       *validator
	locals  []wasm.ValueType
	results []wasm.ValueType

	stack []wasm.ValueType
	ctrl  []ctrlFrame

	maxStack int
	labels   int
}

// maxFunctionLocals bounds the expanded local count of one function. Local
// declarations are run-length encoded, so a few bytes can declare billions of
// locals; the cap is enforced before any expansion.
const maxFunctionLocals = 1 << 15

func (v *validator) checkBody(sig wasm.FuncType, body *wasm.Code) (FuncMetrics, error) {
	if n := body.NumLocals(); n > maxFunctionLocals {
		return FuncMetrics{}, errorf("%d locals exceed the per-function limit %d", n, maxFunctionLocals)
	}
	locals := make([]wasm.ValueType, 0, uint64(len(sig.Params))+body.NumLocals())
	locals = append(locals, sig.Params...)
	for _, l := range body.Locals {
		for n := uint32(0); n < l.Count; n++ {
			locals = append(locals, l.Type)
		}
	}

	c := &codeChecker{v: v, locals: locals, results: sig.Results}
	c.pushFrame(sig.Results, sig.Results)
	maxNesting, err := c.seq(body.Body, 1)
	if err != nil {
		return FuncMetrics{}, err
	}
	if err := c.endFrame(); err != nil {
		return FuncMetrics{}, err
	}
	return FuncMetrics{MaxStackDepth: c.maxStack, MaxNesting: maxNesting, LabelCount: c.labels}, nil
}

func (c *codeChecker) pushFrame(labelTypes, endTypes []wasm.ValueType) {
	c.ctrl = append(c.ctrl, ctrlFrame{
		labelTypes: labelTypes,
		endTypes:   endTypes,
		base:       len(c.stack),
	})
	c.labels++
}

func (c *codeChecker) frame() *ctrlFrame { return &c.ctrl[len(c.ctrl)-1] }

// endFrame checks the frame's exit types, pops the frame, and pushes its
// results for the enclosing frame to consume.
func (c *codeChecker) endFrame() error {
	f := *c.frame()
	if err := c.popExpectAll(f.endTypes); err != nil {
		return err
	}
	if len(c.stack) != f.base {
		return errorf("%d operands left on stack at end of block", len(c.stack)-f.base)
	}
	c.ctrl = c.ctrl[:len(c.ctrl)-1]
	c.pushAll(f.endTypes)
	return nil
}

func (c *codeChecker) push(t wasm.ValueType) {
	c.stack = append(c.stack, t)
	if len(c.stack) > c.maxStack {
		c.maxStack = len(c.stack)
	}
}

func (c *codeChecker) pushAll(types []wasm.ValueType) {
	for _, t := range types {
		c.push(t)
	}
}

func (c *codeChecker) pop() (wasm.ValueType, error) {
	f := c.frame()
	if len(c.stack) == f.base {
		if f.unreachable {
			return typeAny, nil
		}
		return 0, errorf("operand stack underflow")
	}
	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return t, nil
}

func (c *codeChecker) popExpect(want wasm.ValueType) error {
	got, err := c.pop()
	if err != nil {
		return err
	}
	if got != typeAny && want != typeAny && got != want {
		return errorf("type mismatch: expected %s, got %s", want, got)
	}
	return nil
}

func (c *codeChecker) popExpectAll(types []wasm.ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := c.popExpect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

// setUnreachable marks the current frame dead and discards its operands, so
// that subsequent pops succeed polymorphically until the frame ends.
func (c *codeChecker) setUnreachable() {
	f := c.frame()
	c.stack = c.stack[:f.base]
	f.unreachable = true
}

func (c *codeChecker) labelTypes(depth uint32) ([]wasm.ValueType, error) {
	if int(depth) >= len(c.ctrl) {
		return nil, errorf("branch label %d exceeds nesting depth %d", depth, len(c.ctrl))
	}
	return c.ctrl[len(c.ctrl)-1-int(depth)].labelTypes, nil
}

// seq checks a nested instruction sequence at the given nesting depth and
// returns the maximum depth reached.
func (c *codeChecker) seq(instrs []wasm.Instruction, depth int) (int, error) {
	max := depth
	for i := range instrs {
		d, err := c.instr(&instrs[i], depth)
		if err != nil {
			return 0, err
		}
		if d > max {
			max = d
		}
	}
	return max, nil
}

func (c *codeChecker) block(in *wasm.Instruction, depth int) (int, error) {
	results := in.Block.Results()
	labelTypes := results
	if in.Opcode == wasm.OpLoop {
		labelTypes = nil
	}
	c.pushFrame(labelTypes, results)
	max, err := c.seq(in.Nested, depth+1)
	if err != nil {
		return 0, err
	}
	return max, c.endFrame()
}

func (c *codeChecker) ifElse(in *wasm.Instruction, depth int) (int, error) {
	if err := c.popExpect(wasm.ValueTypeI32); err != nil {
		return 0, err
	}
	results := in.Block.Results()
	if len(results) != 0 && len(in.Else) == 0 {
		return 0, errorf("if with result type %s requires an else branch", results[0])
	}

	c.pushFrame(results, results)
	max, err := c.seq(in.Nested, depth+1)
	if err != nil {
		return 0, err
	}
	// The then-branch results are re-consumed as the starting point of the
	// else-branch check.
	if err := c.endFrame(); err != nil {
		return 0, err
	}
	if err := c.popExpectAll(results); err != nil {
		return 0, err
	}

	c.pushFrame(results, results)
	// Both arms share the if's single label.
	c.labels--
	elseMax, err := c.seq(in.Else, depth+1)
	if err != nil {
		return 0, err
	}
	if elseMax > max {
		max = elseMax
	}
	return max, c.endFrame()
}

func (c *codeChecker) binary(t wasm.ValueType) error {
	if err := c.popExpect(t); err != nil {
		return err
	}
	if err := c.popExpect(t); err != nil {
		return err
	}
	c.push(t)
	return nil
}

func (c *codeChecker) compare(t wasm.ValueType) error {
	if err := c.popExpect(t); err != nil {
		return err
	}
	if err := c.popExpect(t); err != nil {
		return err
	}
	c.push(wasm.ValueTypeI32)
	return nil
}

func (c *codeChecker) unary(t wasm.ValueType) error {
	if err := c.popExpect(t); err != nil {
		return err
	}
	c.push(t)
	return nil
}

func (c *codeChecker) load(in *wasm.Instruction, t wasm.ValueType, width uint32) error {
	if err := c.memarg(in, width); err != nil {
		return err
	}
	if err := c.popExpect(wasm.ValueTypeI32); err != nil {
		return err
	}
	c.push(t)
	return nil
}

func (c *codeChecker) store(in *wasm.Instruction, t wasm.ValueType, width uint32) error {
	if err := c.memarg(in, width); err != nil {
		return err
	}
	if err := c.popExpect(t); err != nil {
		return err
	}
	return c.popExpect(wasm.ValueTypeI32)
}

// memarg checks that a memory exists and that the declared alignment does not
// exceed the access width.
func (c *codeChecker) memarg(in *wasm.Instruction, width uint32) error {
	if c.v.module.Memory.Type == nil {
		return errorf("%s: module declares no memory", in.Opcode)
	}
	align, _ := in.Memarg()
	if uint32(1)<<align > width {
		return errorf("%s: alignment 2^%d exceeds access width %d", in.Opcode, align, width)
	}
	return nil
}

func (c *codeChecker) local(idx uint32) (wasm.ValueType, error) {
	if int(idx) >= len(c.locals) {
		return 0, errorf("unknown local index %d", idx)
	}
	return c.locals[idx], nil
}

func (c *codeChecker) global(idx uint32) (wasm.GlobalType, error) {
	globals := c.v.module.Global.Globals
	if int(idx) >= len(globals) {
		return wasm.GlobalType{}, errorf("unknown global index %d", idx)
	}
	return globals[idx].Type, nil
}

func (c *codeChecker) call(sig wasm.FuncType) error {
	if err := c.popExpectAll(sig.Params); err != nil {
		return err
	}
	c.pushAll(sig.Results)
	return nil
}

func (c *codeChecker) instr(in *wasm.Instruction, depth int) (int, error) {
	switch in.Opcode {
	case wasm.OpUnreachable:
		c.setUnreachable()

	case wasm.OpNop:

	case wasm.OpBlock, wasm.OpLoop:
		return c.block(in, depth)

	case wasm.OpIf:
		return c.ifElse(in, depth)

	case wasm.OpBr:
		lt, err := c.labelTypes(in.Labelidx())
		if err != nil {
			return 0, err
		}
		if err := c.popExpectAll(lt); err != nil {
			return 0, err
		}
		c.setUnreachable()

	case wasm.OpBrIf:
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		lt, err := c.labelTypes(in.Labelidx())
		if err != nil {
			return 0, err
		}
		if err := c.popExpectAll(lt); err != nil {
			return 0, err
		}
		c.pushAll(lt)

	case wasm.OpBrTable:
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		lt, err := c.labelTypes(in.Labelidx())
		if err != nil {
			return 0, err
		}
		for _, label := range in.Labels {
			alt, err := c.labelTypes(label)
			if err != nil {
				return 0, err
			}
			if len(alt) != len(lt) {
				return 0, errorf("br_table labels have inconsistent arities")
			}
			for i := range alt {
				if alt[i] != lt[i] {
					return 0, errorf("br_table labels have inconsistent types")
				}
			}
		}
		if err := c.popExpectAll(lt); err != nil {
			return 0, err
		}
		c.setUnreachable()

	case wasm.OpReturn:
		if err := c.popExpectAll(c.results); err != nil {
			return 0, err
		}
		c.setUnreachable()

	case wasm.OpCall:
		sig, ok := c.v.functionType(in.Index())
		if !ok {
			return 0, errorf("call: unknown function index %d", in.Index())
		}
		if err := c.call(sig); err != nil {
			return 0, err
		}

	case wasm.OpCallIndirect:
		if c.v.module.Table.Type == nil {
			return 0, errorf("call_indirect: module declares no table")
		}
		if in.Index() >= c.v.module.NumFuncTypes() {
			return 0, errorf("call_indirect: unknown type index %d", in.Index())
		}
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		if err := c.call(c.v.module.Type.Types[in.Index()]); err != nil {
			return 0, err
		}

	case wasm.OpDrop:
		if _, err := c.pop(); err != nil {
			return 0, err
		}

	case wasm.OpSelect:
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		t1, err := c.pop()
		if err != nil {
			return 0, err
		}
		t2, err := c.pop()
		if err != nil {
			return 0, err
		}
		if t1 != typeAny && t2 != typeAny && t1 != t2 {
			return 0, errorf("select operands have mismatched types %s and %s", t2, t1)
		}
		if t1 == typeAny {
			t1 = t2
		}
		c.push(t1)

	case wasm.OpLocalGet:
		t, err := c.local(in.Index())
		if err != nil {
			return 0, err
		}
		c.push(t)

	case wasm.OpLocalSet:
		t, err := c.local(in.Index())
		if err != nil {
			return 0, err
		}
		if err := c.popExpect(t); err != nil {
			return 0, err
		}

	case wasm.OpLocalTee:
		t, err := c.local(in.Index())
		if err != nil {
			return 0, err
		}
		if err := c.popExpect(t); err != nil {
			return 0, err
		}
		c.push(t)

	case wasm.OpGlobalGet:
		gt, err := c.global(in.Index())
		if err != nil {
			return 0, err
		}
		c.push(gt.Type)

	case wasm.OpGlobalSet:
		gt, err := c.global(in.Index())
		if err != nil {
			return 0, err
		}
		if !gt.Mutable {
			return 0, errorf("global.set: global %d is immutable", in.Index())
		}
		if err := c.popExpect(gt.Type); err != nil {
			return 0, err
		}

	case wasm.OpI32Load:
		return depth, c.load(in, wasm.ValueTypeI32, 4)
	case wasm.OpI64Load:
		return depth, c.load(in, wasm.ValueTypeI64, 8)
	case wasm.OpI32Load8S, wasm.OpI32Load8U:
		return depth, c.load(in, wasm.ValueTypeI32, 1)
	case wasm.OpI32Load16S, wasm.OpI32Load16U:
		return depth, c.load(in, wasm.ValueTypeI32, 2)
	case wasm.OpI64Load8S, wasm.OpI64Load8U:
		return depth, c.load(in, wasm.ValueTypeI64, 1)
	case wasm.OpI64Load16S, wasm.OpI64Load16U:
		return depth, c.load(in, wasm.ValueTypeI64, 2)
	case wasm.OpI64Load32S, wasm.OpI64Load32U:
		return depth, c.load(in, wasm.ValueTypeI64, 4)

	case wasm.OpI32Store:
		return depth, c.store(in, wasm.ValueTypeI32, 4)
	case wasm.OpI64Store:
		return depth, c.store(in, wasm.ValueTypeI64, 8)
	case wasm.OpI32Store8:
		return depth, c.store(in, wasm.ValueTypeI32, 1)
	case wasm.OpI32Store16:
		return depth, c.store(in, wasm.ValueTypeI32, 2)
	case wasm.OpI64Store8:
		return depth, c.store(in, wasm.ValueTypeI64, 1)
	case wasm.OpI64Store16:
		return depth, c.store(in, wasm.ValueTypeI64, 2)
	case wasm.OpI64Store32:
		return depth, c.store(in, wasm.ValueTypeI64, 4)

	case wasm.OpMemorySize:
		if c.v.module.Memory.Type == nil {
			return 0, errorf("memory.size: module declares no memory")
		}
		c.push(wasm.ValueTypeI32)

	case wasm.OpMemoryGrow:
		if c.v.module.Memory.Type == nil {
			return 0, errorf("memory.grow: module declares no memory")
		}
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		c.push(wasm.ValueTypeI32)

	case wasm.OpI32Const:
		c.push(wasm.ValueTypeI32)
	case wasm.OpI64Const:
		c.push(wasm.ValueTypeI64)

	case wasm.OpI32Eqz:
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		c.push(wasm.ValueTypeI32)
	case wasm.OpI64Eqz:
		if err := c.popExpect(wasm.ValueTypeI64); err != nil {
			return 0, err
		}
		c.push(wasm.ValueTypeI32)

	case wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI32GtS,
		wasm.OpI32GtU, wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU:
		return depth, c.compare(wasm.ValueTypeI32)
	case wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU, wasm.OpI64GtS,
		wasm.OpI64GtU, wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU:
		return depth, c.compare(wasm.ValueTypeI64)

	case wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt:
		return depth, c.unary(wasm.ValueTypeI32)
	case wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt:
		return depth, c.unary(wasm.ValueTypeI64)

	case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr:
		return depth, c.binary(wasm.ValueTypeI32)
	case wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr:
		return depth, c.binary(wasm.ValueTypeI64)

	case wasm.OpI32WrapI64:
		if err := c.popExpect(wasm.ValueTypeI64); err != nil {
			return 0, err
		}
		c.push(wasm.ValueTypeI32)
	case wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		if err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return 0, err
		}
		c.push(wasm.ValueTypeI64)

	default:
		return 0, errorf("unexpected instruction %s", in.Opcode)
	}
	return depth, nil
}

package wasm_test

import (
	"bytes"

	"github.com/ankaa-labs/chainwasm/wasm"
	"github.com/ankaa-labs/chainwasm/wasm/leb128"
)

// Helpers for assembling module binaries in tests.

func u32(v uint32) []byte {
	var buf bytes.Buffer
	leb128.WriteVarUint32(&buf, v)
	return buf.Bytes()
}

func cat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

func vec(items ...[]byte) []byte {
	out := u32(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func str(s string) []byte {
	return cat(u32(uint32(len(s))), []byte(s))
}

type builder struct {
	buf bytes.Buffer
}

func newBuilder() *builder {
	b := &builder{}
	b.buf.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	return b
}

func (b *builder) section(id byte, contents []byte) *builder {
	b.buf.WriteByte(id)
	b.buf.Write(u32(uint32(len(contents))))
	b.buf.Write(contents)
	return b
}

func (b *builder) custom(name string, contents []byte) *builder {
	return b.section(0, cat(str(name), contents))
}

func (b *builder) bytes() []byte {
	return b.buf.Bytes()
}

func funcType(params, results []byte) []byte {
	return cat([]byte{0x60}, vec(bytesOf(params)...), vec(bytesOf(results)...))
}

func bytesOf(types []byte) [][]byte {
	out := make([][]byte, len(types))
	for i, t := range types {
		out[i] = []byte{t}
	}
	return out
}

func expr(instrs ...wasm.Instruction) []byte {
	var buf bytes.Buffer
	if err := wasm.EncodeExpr(&buf, instrs); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func codeEntry(locals []byte, body []byte) []byte {
	contents := cat(locals, body)
	return cat(u32(uint32(len(contents))), contents)
}

// answerModule assembles a module exporting one function that returns 42:
// type () -> i32, func 0, export "answer".
func answerModule() []byte {
	return newBuilder().
		section(1, vec(funcType(nil, []byte{0x7f}))).
		section(3, vec(u32(0))).
		section(7, vec(cat(str("answer"), []byte{0x00}, u32(0)))).
		section(10, vec(codeEntry(vec(), expr(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: 42})))).
		bytes()
}

package load_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ankaa-labs/chainwasm/load"
	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

// initModule is a hand-assembled module exporting one function "init" of
// type () -> i32 whose body is `i32.const 42`.
var initModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // header
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f, // type: () -> i32
	0x03, 0x02, 0x01, 0x00, // function: [0]
	0x07, 0x08, 0x01, 0x04, 'i', 'n', 'i', 't', 0x00, 0x00, // export "init"
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b, // code: i32.const 42
}

func TestInstantiate(t *testing.T) {
	a, err := load.Instantiate(initModule, load.Options{})
	require.NoError(t, err)

	idx, ty, ok := a.ExportedFunction("init")
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, ty.Results)

	require.Len(t, a.Functions, 1)
	require.Equal(t, wasm.OpI32Const, a.Functions[0].Code[0].Opcode)
	require.Equal(t, uint64(42), a.Functions[0].Code[0].Imm)
}

func TestInstantiateWithMetering(t *testing.T) {
	a, err := load.InstantiateWithMetering(initModule, load.Options{})
	require.NoError(t, err)

	code := a.Functions[0].Code
	require.Len(t, code, 2)
	require.Equal(t, wasm.OpChargeEnergy, code[0].Opcode)
	require.Equal(t, uint64(1), code[0].Imm)
	require.Equal(t, wasm.OpI32Const, code[1].Opcode)
}

func TestInstantiatePolicy(t *testing.T) {
	policy := &validate.HostPolicy{
		RequiredExports: map[string]wasm.FuncType{
			"receive": {},
		},
	}

	_, err := load.Instantiate(initModule, load.Options{Policy: policy})
	require.Error(t, err)
	var verr validate.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestInstantiateBadMagic(t *testing.T) {
	corrupted := append([]byte(nil), initModule...)
	corrupted[3] = 0x00

	_, err := load.Instantiate(corrupted, load.Options{})
	require.ErrorIs(t, err, wasm.ErrInvalidMagic)
}

func TestInstantiateMalformed(t *testing.T) {
	truncated := initModule[:len(initModule)-3]

	_, err := load.Instantiate(truncated, load.Options{})
	require.Error(t, err)
	var perr *wasm.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestInstantiateMaxModuleSize(t *testing.T) {
	_, err := load.Instantiate(initModule, load.Options{MaxModuleSize: 8})
	require.ErrorIs(t, err, load.ErrModuleTooLarge)

	_, err = load.Instantiate(initModule, load.Options{MaxModuleSize: uint32(len(initModule))})
	require.NoError(t, err)
}

func TestReadArtifact(t *testing.T) {
	a, err := load.InstantiateWithMetering(initModule, load.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = a.WriteTo(&buf)
	require.NoError(t, err)

	back, err := load.ReadArtifact(buf.Bytes())
	require.NoError(t, err)

	idx, ty, ok := back.ExportedFunction("init")
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, ty.Results)

	decoded, err := back.Functions[0].Instructions()
	require.NoError(t, err)
	require.Equal(t, a.Functions[0].Code, decoded)
}

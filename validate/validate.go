// Package validate checks a decoded module against the type system and
// against a caller-supplied import/export policy, producing a ValidModule
// that downstream stages (metering injection, artifact compilation) can rely
// on: every index and branch label resolves in bounds and every instruction
// sequence is stack-consistent.
package validate

import (
	"fmt"

	"github.com/ankaa-labs/chainwasm/wasm"
)

// ValidationError reports a well-formed but invalid module: a type error, an
// out-of-bounds index, or a policy violation. It is distinct from
// wasm.ParseError by construction.
type ValidationError string

func (e ValidationError) Error() string { return "validate: " + string(e) }

func errorf(format string, args ...interface{}) ValidationError {
	return ValidationError(fmt.Sprintf(format, args...))
}

// ImportExportPolicy decides which host functions a module may import and
// which export surface it must present. Policies are supplied by the caller;
// the validator only enforces them.
type ImportExportPolicy interface {
	// ValidateImportFunction reports whether the named host function may be
	// imported with the given type.
	ValidateImportFunction(module, name string, ty wasm.FuncType) error

	// ValidateExports checks the full set of exported functions by name and
	// type, allowing policies both to reject exports and to require them.
	ValidateExports(funcs map[string]wasm.FuncType) error
}

// FuncMetrics is derived per locally defined function during code
// validation. The executor uses it to size activation frames without
// re-parsing the body.
type FuncMetrics struct {
	MaxStackDepth int
	MaxNesting    int
	LabelCount    int
}

// ValidModule is a validated module. The embedded module is shared, not
// copied, and must not be mutated.
type ValidModule struct {
	Module *wasm.Module

	// Imports are the module's function imports in declaration order; they
	// occupy the front of the function index space.
	Imports []wasm.Import

	// Metrics holds per-function frame metrics, indexed like the code
	// section.
	Metrics []FuncMetrics
}

// NumFunctions reports the size of the function index space, imports
// included.
func (vm *ValidModule) NumFunctions() uint32 {
	return uint32(len(vm.Imports) + len(vm.Module.Function.TypeIndices))
}

// FunctionType resolves a function index to its signature.
func (vm *ValidModule) FunctionType(idx uint32) (wasm.FuncType, bool) {
	if int(idx) < len(vm.Imports) {
		fi := vm.Imports[idx].Desc.(wasm.FuncImport)
		return vm.Module.Type.Types[fi.TypeIndex], true
	}
	local := int(idx) - len(vm.Imports)
	if local >= len(vm.Module.Function.TypeIndices) {
		return wasm.FuncType{}, false
	}
	return vm.Module.Type.Types[vm.Module.Function.TypeIndices[local]], true
}

// ValidateModule validates m against policy. On success the returned
// ValidModule shares m; on failure the error identifies the offending
// definition.
func ValidateModule(policy ImportExportPolicy, m *wasm.Module) (*ValidModule, error) {
	v := &validator{module: m, policy: policy}
	if err := v.run(); err != nil {
		return nil, err
	}
	return &ValidModule{Module: m, Imports: v.imports, Metrics: v.metrics}, nil
}

type validator struct {
	module *wasm.Module
	policy ImportExportPolicy

	imports []wasm.Import
	metrics []FuncMetrics
}

func (v *validator) run() error {
	if err := v.checkImports(); err != nil {
		return err
	}
	if err := v.functions(); err != nil {
		return err
	}
	if err := v.tables(); err != nil {
		return err
	}
	if err := v.memories(); err != nil {
		return err
	}
	if err := v.globals(); err != nil {
		return err
	}
	if err := v.exports(); err != nil {
		return err
	}
	if err := v.elements(); err != nil {
		return err
	}
	if err := v.data(); err != nil {
		return err
	}
	return v.code()
}

// checkImports checks that every import is a function import permitted by
// the policy. Table, memory, and global imports are not supported on chain:
// everything but host functions must be defined locally.
func (v *validator) checkImports() error {
	for _, imp := range v.module.Import.Imports {
		fi, ok := imp.Desc.(wasm.FuncImport)
		if !ok {
			return errorf("import %s.%s: only function imports are supported, got %s", imp.Module, imp.Name, imp.Desc.Kind())
		}
		if fi.TypeIndex >= v.module.NumFuncTypes() {
			return errorf("import %s.%s: unknown type index %d", imp.Module, imp.Name, fi.TypeIndex)
		}
		ty := v.module.Type.Types[fi.TypeIndex]
		if err := v.policy.ValidateImportFunction(imp.Module, imp.Name, ty); err != nil {
			return errorf("import %s.%s: %v", imp.Module, imp.Name, err)
		}
		v.imports = append(v.imports, imp)
	}
	return nil
}

func (v *validator) functions() error {
	types := v.module.Function.TypeIndices
	bodies := v.module.Code.Impls
	if len(types) != len(bodies) {
		return errorf("function and code sections have inconsistent lengths: %d declarations, %d bodies", len(types), len(bodies))
	}
	for i, idx := range types {
		if idx >= v.module.NumFuncTypes() {
			return errorf("function %d: unknown type index %d", i, idx)
		}
	}
	return nil
}

func (v *validator) limits(l wasm.Limits, what string) error {
	if l.HasMax && l.Min > l.Max {
		return errorf("%s: size minimum %d exceeds maximum %d", what, l.Min, l.Max)
	}
	return nil
}

func (v *validator) tables() error {
	if v.module.Table.Type == nil {
		return nil
	}
	return v.limits(v.module.Table.Type.Limits, "table")
}

// maxMemoryPages is the wasm-core-1 ceiling: 4GiB of 64KiB pages.
const maxMemoryPages = 65536

func (v *validator) memories() error {
	mt := v.module.Memory.Type
	if mt == nil {
		return nil
	}
	if err := v.limits(mt.Limits, "memory"); err != nil {
		return err
	}
	if mt.Limits.Min > maxMemoryPages || (mt.Limits.HasMax && mt.Limits.Max > maxMemoryPages) {
		return errorf("memory size must be at most %d pages", maxMemoryPages)
	}
	return nil
}

// globals requires constant initializers: a single i32.const or i64.const of
// the declared type. Initializers referring to other globals are not
// supported.
func (v *validator) globals() error {
	for i, g := range v.module.Global.Globals {
		if err := v.constExpr(g.Init, g.Type.Type); err != nil {
			return errorf("global %d: %v", i, err)
		}
	}
	return nil
}

func (v *validator) constExpr(init []wasm.Instruction, expected wasm.ValueType) error {
	if len(init) != 1 {
		return errorf("initializer must be a single constant instruction, got %d instructions", len(init))
	}
	var got wasm.ValueType
	switch init[0].Opcode {
	case wasm.OpI32Const:
		got = wasm.ValueTypeI32
	case wasm.OpI64Const:
		got = wasm.ValueTypeI64
	default:
		return errorf("constant expression required, got %s", init[0].Opcode)
	}
	if got != expected {
		return errorf("initializer type %s does not match declared type %s", got, expected)
	}
	return nil
}

func (v *validator) exports() error {
	seen := map[string]bool{}
	funcs := map[string]wasm.FuncType{}
	for _, e := range v.module.Export.Exports {
		if seen[e.Name] {
			return errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true

		switch d := e.Desc.(type) {
		case wasm.FuncExport:
			ty, ok := v.functionType(d.Index)
			if !ok {
				return errorf("export %q: unknown function index %d", e.Name, d.Index)
			}
			funcs[e.Name] = ty
		case wasm.TableExport:
			if v.module.Table.Type == nil {
				return errorf("export %q: no table to export", e.Name)
			}
		case wasm.MemoryExport:
			if v.module.Memory.Type == nil {
				return errorf("export %q: no memory to export", e.Name)
			}
		case wasm.GlobalExport:
			if int(d.Index) >= len(v.module.Global.Globals) {
				return errorf("export %q: unknown global index %d", e.Name, d.Index)
			}
		}
	}
	if err := v.policy.ValidateExports(funcs); err != nil {
		return errorf("exports: %v", err)
	}
	return nil
}

func (v *validator) elements() error {
	for i, seg := range v.module.Element.Elements {
		if v.module.Table.Type == nil {
			return errorf("element segment %d: module declares no table", i)
		}
		if err := v.constExpr(seg.Offset, wasm.ValueTypeI32); err != nil {
			return errorf("element segment %d: %v", i, err)
		}
		for _, fidx := range seg.Indices {
			if _, ok := v.functionType(fidx); !ok {
				return errorf("element segment %d: unknown function index %d", i, fidx)
			}
		}
	}
	return nil
}

func (v *validator) data() error {
	for i, seg := range v.module.Data.Segments {
		if v.module.Memory.Type == nil {
			return errorf("data segment %d: module declares no memory", i)
		}
		if err := v.constExpr(seg.Offset, wasm.ValueTypeI32); err != nil {
			return errorf("data segment %d: %v", i, err)
		}
	}
	return nil
}

func (v *validator) functionType(idx uint32) (wasm.FuncType, bool) {
	if int(idx) < len(v.imports) {
		fi := v.imports[idx].Desc.(wasm.FuncImport)
		return v.module.Type.Types[fi.TypeIndex], true
	}
	local := int(idx) - len(v.imports)
	if local >= len(v.module.Function.TypeIndices) {
		return wasm.FuncType{}, false
	}
	return v.module.Type.Types[v.module.Function.TypeIndices[local]], true
}

func (v *validator) code() error {
	v.metrics = make([]FuncMetrics, len(v.module.Code.Impls))
	for i := range v.module.Code.Impls {
		body := &v.module.Code.Impls[i]
		sig := v.module.Type.Types[v.module.Function.TypeIndices[i]]

		metrics, err := v.checkBody(sig, body)
		if err != nil {
			return errorf("function %d: %v", len(v.imports)+i, err)
		}
		v.metrics[i] = metrics
	}
	return nil
}

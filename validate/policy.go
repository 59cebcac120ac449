package validate

import (
	"github.com/ankaa-labs/chainwasm/wasm"
)

// HostFunc identifies a host function by import module and name.
type HostFunc struct {
	Module string
	Name   string
}

// HostPolicy is a table-driven ImportExportPolicy: a module may import only
// functions listed in Imports, at exactly the listed type, and must export a
// function of the given type for every name in RequiredExports.
type HostPolicy struct {
	Imports         map[HostFunc]wasm.FuncType
	RequiredExports map[string]wasm.FuncType
}

func (p *HostPolicy) ValidateImportFunction(module, name string, ty wasm.FuncType) error {
	want, ok := p.Imports[HostFunc{Module: module, Name: name}]
	if !ok {
		return errorf("unknown host function")
	}
	if !want.Equal(ty) {
		return errorf("host function has type %s, import declares %s", want, ty)
	}
	return nil
}

func (p *HostPolicy) ValidateExports(funcs map[string]wasm.FuncType) error {
	for name, want := range p.RequiredExports {
		got, ok := funcs[name]
		if !ok {
			return errorf("required export %q is missing", name)
		}
		if !want.Equal(got) {
			return errorf("export %q has type %s, expected %s", name, got, want)
		}
	}
	return nil
}

// AllowAll permits any function import and requires no exports. Offline
// tooling uses it to validate modules without knowing the host environment.
type AllowAll struct{}

func (AllowAll) ValidateImportFunction(module, name string, ty wasm.FuncType) error { return nil }

func (AllowAll) ValidateExports(funcs map[string]wasm.FuncType) error { return nil }

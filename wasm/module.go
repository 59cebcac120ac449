// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

// TypeSection declares the function signatures used in a module.
type TypeSection struct {
	Types []FuncType
}

// ImportSection declares the module's imports.
type ImportSection struct {
	Imports []Import
}

// FunctionSection maps each locally defined function to its type.
type FunctionSection struct {
	TypeIndices []uint32
}

// TableSection declares the module's table. At most one table is supported,
// so the section is either empty or a single table type.
type TableSection struct {
	Type *TableType
}

// MemorySection declares the module's linear memory. At most one memory is
// supported.
type MemorySection struct {
	Type *MemoryType
}

// GlobalSection declares the module's globals.
type GlobalSection struct {
	Globals []Global
}

// ExportSection declares the module's exports.
type ExportSection struct {
	Exports []Export
}

// ElementSection initializes the table.
type ElementSection struct {
	Elements []ElementSegment
}

// CodeSection holds the bodies of locally defined functions.
type CodeSection struct {
	Impls []Code
}

// DataSection initializes linear memory.
type DataSection struct {
	Segments []DataSegment
}

// Module is the fully decoded, typed form of a module. Every section is
// present and defaults to empty when absent from the skeleton, so no field
// is optional at this level. A Module borrows the buffer its skeleton was
// parsed from (data segment contents are views) and is never mutated.
type Module struct {
	Type     TypeSection
	Import   ImportSection
	Function FunctionSection
	Table    TableSection
	Memory   MemorySection
	Global   GlobalSection
	Export   ExportSection
	Element  ElementSection
	Code     CodeSection
	Data     DataSection
}

// ParseModule decodes every non-custom section of a skeleton. Start sections
// are rejected outright: start functions are not supported on chain.
func ParseModule(s *Skeleton) (*Module, error) {
	if s.Start != nil {
		r := newSectionReader(s.Start)
		return nil, r.errorf("start functions are not supported")
	}

	m := &Module{}

	if err := parseSection(s.Type, func(r *Reader) error {
		types, err := decodeVec(r, decodeFuncType)
		if err != nil {
			return err
		}
		m.Type.Types = types
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Import, func(r *Reader) error {
		imports, err := decodeVec(r, decodeImport)
		if err != nil {
			return err
		}
		m.Import.Imports = imports
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Function, func(r *Reader) error {
		indices, err := decodeVec(r, (*Reader).U32)
		if err != nil {
			return err
		}
		m.Function.TypeIndices = indices
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Table, func(r *Reader) error {
		tables, err := decodeVec(r, decodeTableType)
		if err != nil {
			return err
		}
		if len(tables) > 1 {
			return r.errorf("at most one table is supported, got %d", len(tables))
		}
		if len(tables) == 1 {
			m.Table.Type = &tables[0]
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Memory, func(r *Reader) error {
		memories, err := decodeVec(r, decodeMemoryType)
		if err != nil {
			return err
		}
		if len(memories) > 1 {
			return r.errorf("at most one memory is supported, got %d", len(memories))
		}
		if len(memories) == 1 {
			m.Memory.Type = &memories[0]
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Global, func(r *Reader) error {
		globals, err := decodeVec(r, decodeGlobal)
		if err != nil {
			return err
		}
		m.Global.Globals = globals
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Export, func(r *Reader) error {
		exports, err := decodeVec(r, decodeExport)
		if err != nil {
			return err
		}
		m.Export.Exports = exports
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Element, func(r *Reader) error {
		elements, err := decodeVec(r, decodeElementSegment)
		if err != nil {
			return err
		}
		m.Element.Elements = elements
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Code, func(r *Reader) error {
		impls, err := decodeVec(r, decodeCode)
		if err != nil {
			return err
		}
		m.Code.Impls = impls
		return nil
	}); err != nil {
		return nil, err
	}

	if err := parseSection(s.Data, func(r *Reader) error {
		segments, err := decodeVec(r, decodeDataSegment)
		if err != nil {
			return err
		}
		m.Data.Segments = segments
		return nil
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// parseSection runs decode over a section's payload, requiring that the
// payload is consumed exactly. Absent sections decode to their zero value.
func parseSection(sec *UnparsedSection, decode func(*Reader) error) error {
	if sec == nil {
		return nil
	}
	r := newSectionReader(sec)
	if err := decode(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return r.errorf("%d trailing bytes after section contents", r.Len())
	}
	return nil
}

// NumFuncTypes reports the size of the type index space.
func (m *Module) NumFuncTypes() uint32 { return uint32(len(m.Type.Types)) }

// ImportedFunctions returns the function imports in declaration order. Their
// indices precede locally defined functions in the function index space.
func (m *Module) ImportedFunctions() []Import {
	var funcs []Import
	for _, imp := range m.Import.Imports {
		if imp.Desc.Kind() == ExternalFunction {
			funcs = append(funcs, imp)
		}
	}
	return funcs
}

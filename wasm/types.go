// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wasm decodes the restricted subset of the WebAssembly binary format
// accepted on chain. The subset matches wasm-core-1 with every source of
// non-determinism removed: no floating-point or vector types, no multi-value
// results, at most one table and one memory, and no start functions.
//
// Decoding happens in two stages. ParseSkeleton locates section boundaries
// without touching section contents; ParseModule decodes each section of a
// skeleton into typed structures, including full instruction trees for
// function bodies. Both stages borrow the input buffer and never mutate it.
package wasm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SectionID is the 1-byte kind tag of a section.
type SectionID uint8

const (
	SectionIDCustom   SectionID = 0
	SectionIDType     SectionID = 1
	SectionIDImport   SectionID = 2
	SectionIDFunction SectionID = 3
	SectionIDTable    SectionID = 4
	SectionIDMemory   SectionID = 5
	SectionIDGlobal   SectionID = 6
	SectionIDExport   SectionID = 7
	SectionIDStart    SectionID = 8
	SectionIDElement  SectionID = 9
	SectionIDCode     SectionID = 10
	SectionIDData     SectionID = 11
)

func (s SectionID) String() string {
	n, ok := map[SectionID]string{
		SectionIDCustom:   "custom",
		SectionIDType:     "type",
		SectionIDImport:   "import",
		SectionIDFunction: "function",
		SectionIDTable:    "table",
		SectionIDMemory:   "memory",
		SectionIDGlobal:   "global",
		SectionIDExport:   "export",
		SectionIDStart:    "start",
		SectionIDElement:  "element",
		SectionIDCode:     "code",
		SectionIDData:     "data",
	}[s]
	if !ok {
		return "unknown"
	}
	return n
}

// ValueType is a numeric value type. The supported set is closed: i32 and
// i64 only. Floating-point and vector tags fail at decode, so such types can
// never reach validation or execution.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	default:
		return fmt.Sprintf("<unknown value type %#02x>", byte(t))
	}
}

func decodeValueType(r *Reader) (ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch vt := ValueType(b); vt {
	case ValueTypeI32, ValueTypeI64:
		return vt, nil
	default:
		return 0, r.errorf("unsupported value type %#02x", b)
	}
}

// FuncType is a function signature: parameter types plus at most one result.
// Multi-value results are rejected at decode.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

func (t FuncType) Equal(o FuncType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i, p := range t.Params {
		if o.Params[i] != p {
			return false
		}
	}
	for i, res := range t.Results {
		if o.Results[i] != res {
			return false
		}
	}
	return true
}

func (t FuncType) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("] -> [")
	for i, res := range t.Results {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(res.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

func decodeFuncType(r *Reader) (FuncType, error) {
	if err := r.Expect(0x60); err != nil {
		return FuncType{}, err
	}
	params, err := decodeVec(r, decodeValueType)
	if err != nil {
		return FuncType{}, err
	}
	results, err := decodeVec(r, decodeValueType)
	if err != nil {
		return FuncType{}, err
	}
	if len(results) > 1 {
		return FuncType{}, r.errorf("only a single result value is supported, got %d", len(results))
	}
	return FuncType{Params: params, Results: results}, nil
}

// Limits bound the size of a table or memory.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

func decodeLimits(r *Reader) (Limits, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	switch b {
	case 0x00:
		min, err := r.U32()
		if err != nil {
			return Limits{}, err
		}
		return Limits{Min: min}, nil
	case 0x01:
		min, err := r.U32()
		if err != nil {
			return Limits{}, err
		}
		max, err := r.U32()
		if err != nil {
			return Limits{}, err
		}
		return Limits{Min: min, Max: max, HasMax: true}, nil
	default:
		return Limits{}, r.errorf("incorrect limits tag %#02x", b)
	}
}

// TableType describes the single permitted table. The only element type in
// the supported subset is funcref, so just the limits are recorded.
type TableType struct {
	Limits Limits
}

func decodeTableType(r *Reader) (TableType, error) {
	if err := r.Expect(0x70); err != nil {
		return TableType{}, err
	}
	limits, err := decodeLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{Limits: limits}, nil
}

// MemoryType describes the single permitted linear memory.
type MemoryType struct {
	Limits Limits
}

func decodeMemoryType(r *Reader) (MemoryType, error) {
	limits, err := decodeLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

// GlobalType pairs a value type with mutability.
type GlobalType struct {
	Type    ValueType
	Mutable bool
}

func decodeGlobalType(r *Reader) (GlobalType, error) {
	ty, err := decodeValueType(r)
	if err != nil {
		return GlobalType{}, err
	}
	b, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	switch b {
	case 0x00:
		return GlobalType{Type: ty}, nil
	case 0x01:
		return GlobalType{Type: ty, Mutable: true}, nil
	default:
		return GlobalType{}, r.errorf("unsupported mutability flag %#02x", b)
	}
}

// External classifies an import or export.
type External byte

const (
	ExternalFunction External = 0
	ExternalTable    External = 1
	ExternalMemory   External = 2
	ExternalGlobal   External = 3
)

func (e External) String() string {
	switch e {
	case ExternalFunction:
		return "function"
	case ExternalTable:
		return "table"
	case ExternalMemory:
		return "memory"
	case ExternalGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ImportDesc is implemented by the per-kind import descriptors.
type ImportDesc interface {
	Kind() External
	isImportDesc()
}

type FuncImport struct{ TypeIndex uint32 }

func (FuncImport) isImportDesc()  {}
func (FuncImport) Kind() External { return ExternalFunction }

type TableImport struct{ Type TableType }

func (TableImport) isImportDesc()  {}
func (TableImport) Kind() External { return ExternalTable }

type MemoryImport struct{ Type MemoryType }

func (MemoryImport) isImportDesc()  {}
func (MemoryImport) Kind() External { return ExternalMemory }

type GlobalImport struct{ Type GlobalType }

func (GlobalImport) isImportDesc()  {}
func (GlobalImport) Kind() External { return ExternalGlobal }

// Import is one import statement.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

func decodeImport(r *Reader) (Import, error) {
	mod, err := decodeName(r)
	if err != nil {
		return Import{}, err
	}
	name, err := decodeName(r)
	if err != nil {
		return Import{}, err
	}
	desc, err := decodeImportDesc(r)
	if err != nil {
		return Import{}, err
	}
	return Import{Module: mod, Name: name, Desc: desc}, nil
}

func decodeImportDesc(r *Reader) (ImportDesc, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		return FuncImport{TypeIndex: idx}, nil
	case 0x01:
		ty, err := decodeTableType(r)
		if err != nil {
			return nil, err
		}
		return TableImport{Type: ty}, nil
	case 0x02:
		ty, err := decodeMemoryType(r)
		if err != nil {
			return nil, err
		}
		return MemoryImport{Type: ty}, nil
	case 0x03:
		ty, err := decodeGlobalType(r)
		if err != nil {
			return nil, err
		}
		return GlobalImport{Type: ty}, nil
	default:
		return nil, r.errorf("unexpected import description tag %#02x", b)
	}
}

// ExportDesc is implemented by the per-kind export descriptors. Table and
// memory exports carry no index: only index 0 is representable and anything
// else fails at decode.
type ExportDesc interface {
	Kind() External
	isExportDesc()
}

type FuncExport struct{ Index uint32 }

func (FuncExport) isExportDesc() {}
func (FuncExport) Kind() External { return ExternalFunction }

type TableExport struct{}

func (TableExport) isExportDesc() {}
func (TableExport) Kind() External { return ExternalTable }

type MemoryExport struct{}

func (MemoryExport) isExportDesc() {}
func (MemoryExport) Kind() External { return ExternalMemory }

type GlobalExport struct{ Index uint32 }

func (GlobalExport) isExportDesc() {}
func (GlobalExport) Kind() External { return ExternalGlobal }

// Export is one export statement.
type Export struct {
	Name string
	Desc ExportDesc
}

func decodeExport(r *Reader) (Export, error) {
	name, err := decodeName(r)
	if err != nil {
		return Export{}, err
	}
	desc, err := decodeExportDesc(r)
	if err != nil {
		return Export{}, err
	}
	return Export{Name: name, Desc: desc}, nil
}

func decodeExportDesc(r *Reader) (ExportDesc, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		return FuncExport{Index: idx}, nil
	case 0x01:
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		if idx != 0 {
			return nil, r.errorf("only table index 0 is supported, got %d", idx)
		}
		return TableExport{}, nil
	case 0x02:
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		if idx != 0 {
			return nil, r.errorf("only memory index 0 is supported, got %d", idx)
		}
		return MemoryExport{}, nil
	case 0x03:
		idx, err := r.U32()
		if err != nil {
			return nil, err
		}
		return GlobalExport{Index: idx}, nil
	default:
		return nil, r.errorf("unsupported export tag %#02x", b)
	}
}

// Global is one global declaration with its constant initializer.
type Global struct {
	Type GlobalType
	Init []Instruction
}

func decodeGlobal(r *Reader) (Global, error) {
	ty, err := decodeGlobalType(r)
	if err != nil {
		return Global{}, err
	}
	init, err := decodeExpr(r, 0)
	if err != nil {
		return Global{}, err
	}
	return Global{Type: ty, Init: init}, nil
}

// ElementSegment initializes a contiguous run of table entries. The table
// index must be 0 on the wire.
type ElementSegment struct {
	Offset  []Instruction
	Indices []uint32
}

func decodeElementSegment(r *Reader) (ElementSegment, error) {
	idx, err := r.U32()
	if err != nil {
		return ElementSegment{}, err
	}
	if idx != 0 {
		return ElementSegment{}, r.errorf("only table index 0 is supported, got %d", idx)
	}
	offset, err := decodeExpr(r, 0)
	if err != nil {
		return ElementSegment{}, err
	}
	indices, err := decodeVec(r, (*Reader).U32)
	if err != nil {
		return ElementSegment{}, err
	}
	return ElementSegment{Offset: offset, Indices: indices}, nil
}

// DataSegment initializes a run of linear memory. The memory index must be 0
// on the wire. Init is a view into the input buffer.
type DataSegment struct {
	Offset []Instruction
	Init   []byte
}

func decodeDataSegment(r *Reader) (DataSegment, error) {
	idx, err := r.U32()
	if err != nil {
		return DataSegment{}, err
	}
	if idx != 0 {
		return DataSegment{}, r.errorf("only memory index 0 is supported, got %d", idx)
	}
	offset, err := decodeExpr(r, 0)
	if err != nil {
		return DataSegment{}, err
	}
	init, err := r.ByteRange()
	if err != nil {
		return DataSegment{}, err
	}
	return DataSegment{Offset: offset, Init: init}, nil
}

// Local is a run-length-encoded local declaration.
type Local struct {
	Count uint32
	Type  ValueType
}

func decodeLocal(r *Reader) (Local, error) {
	count, err := r.U32()
	if err != nil {
		return Local{}, err
	}
	ty, err := decodeValueType(r)
	if err != nil {
		return Local{}, err
	}
	return Local{Count: count, Type: ty}, nil
}

// Code is one function body: local declarations plus the body expression.
type Code struct {
	Locals []Local
	Body   []Instruction
}

// NumLocals reports the expanded number of declared locals, excluding
// parameters.
func (c *Code) NumLocals() uint64 {
	var n uint64
	for _, l := range c.Locals {
		n += uint64(l.Count)
	}
	return n
}

func decodeCode(r *Reader) (Code, error) {
	size, err := r.U32()
	if err != nil {
		return Code{}, err
	}
	start := r.Pos()
	locals, err := decodeVec(r, decodeLocal)
	if err != nil {
		return Code{}, err
	}
	body, err := decodeExpr(r, 0)
	if err != nil {
		return Code{}, err
	}
	if consumed := r.Pos() - start; uint64(consumed) != uint64(size) {
		return Code{}, r.errorf("declared body size %d does not match actual size %d", size, consumed)
	}
	return Code{Locals: locals, Body: body}, nil
}

func decodeName(r *Reader) (string, error) {
	raw, err := r.ByteRange()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", r.errorf("name is not valid UTF-8")
	}
	return string(raw), nil
}

// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"io"
	"unicode/utf8"

	"github.com/ankaa-labs/chainwasm/wasm/leb128"
)

// Magic and Version are the fixed 4-byte module header constants,
// little-endian views of `\0asm` and 1.
const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 0x1
)

// UnparsedSection is a section carved out of a module with no further
// processing: the kind tag plus a view into the input buffer. It can be
// written back by emitting the tag and the length-prefixed bytes, which makes
// stripping and re-serialization possible without a full decode.
type UnparsedSection struct {
	ID    SectionID
	Bytes []byte

	// raw is the section's original encoding, kind tag and length prefix
	// included. Serialization emits it verbatim so that legal non-minimal
	// length varints survive a round trip. Nil for sections not produced by
	// ParseSkeleton; those serialize with a minimal length.
	raw []byte
}

// Skeleton is the shallow decomposition of a module: every non-custom section
// at most once, plus custom sections in the order they appeared. Sections
// preserves file order across all kinds so that serialization reproduces the
// input byte for byte.
type Skeleton struct {
	Type     *UnparsedSection
	Import   *UnparsedSection
	Function *UnparsedSection
	Table    *UnparsedSection
	Memory   *UnparsedSection
	Global   *UnparsedSection
	Export   *UnparsedSection
	Start    *UnparsedSection
	Element  *UnparsedSection
	Code     *UnparsedSection
	Data     *UnparsedSection
	Custom   []*UnparsedSection

	Sections []*UnparsedSection
}

// ParseSkeleton scans input as a module in the binary format, locating
// section boundaries without decoding section contents. It fails unless the
// magic and version headers match, every declared section length fits the
// remaining input, non-custom sections appear in strictly increasing kind
// order without duplicates, and the input is consumed exactly.
func ParseSkeleton(input []byte) (*Skeleton, error) {
	r := NewReader(input)

	magic, err := readHeaderWord(r)
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := readHeaderWord(r)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, ErrUnsupportedVersion
	}

	s := &Skeleton{}
	lastID := SectionIDCustom
	for r.Len() > 0 {
		sec, err := readSection(r)
		if err != nil {
			return nil, err
		}
		if sec.ID != SectionIDCustom {
			if sec.ID <= lastID {
				return nil, r.errorf("%s section out of place: sections must occur at most once and in increasing kind order", sec.ID)
			}
			lastID = sec.ID
		}
		switch sec.ID {
		case SectionIDCustom:
			s.Custom = append(s.Custom, sec)
		case SectionIDType:
			s.Type = sec
		case SectionIDImport:
			s.Import = sec
		case SectionIDFunction:
			s.Function = sec
		case SectionIDTable:
			s.Table = sec
		case SectionIDMemory:
			s.Memory = sec
		case SectionIDGlobal:
			s.Global = sec
		case SectionIDExport:
			s.Export = sec
		case SectionIDStart:
			s.Start = sec
		case SectionIDElement:
			s.Element = sec
		case SectionIDCode:
			s.Code = sec
		case SectionIDData:
			s.Data = sec
		}
		s.Sections = append(s.Sections, sec)
	}
	return s, nil
}

func readHeaderWord(r *Reader) (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func readSection(r *Reader) (*UnparsedSection, error) {
	start := r.pos
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	id := SectionID(b)
	if id > SectionIDData {
		return nil, r.errorf("unknown section id %d", b)
	}
	bytes, err := r.ByteRange()
	if err != nil {
		return nil, err
	}
	return &UnparsedSection{ID: id, Bytes: bytes, raw: r.buf[start:r.pos]}, nil
}

// WriteTo serializes the skeleton: header, then each section in file order.
// Sections that came from ParseSkeleton are emitted verbatim, so for an
// unmodified skeleton the output equals the input exactly, whatever length
// encoding the input used.
func (s *Skeleton) WriteTo(w io.Writer) (int64, error) {
	cw := countingWriter{w: w}
	if err := writeHeaderWord(&cw, Magic); err != nil {
		return cw.n, err
	}
	if err := writeHeaderWord(&cw, Version); err != nil {
		return cw.n, err
	}
	for _, sec := range s.Sections {
		if sec.raw != nil {
			if _, err := cw.Write(sec.raw); err != nil {
				return cw.n, err
			}
			continue
		}
		if _, err := cw.Write([]byte{byte(sec.ID)}); err != nil {
			return cw.n, err
		}
		if _, err := leb128.WriteVarUint32(&cw, uint32(len(sec.Bytes))); err != nil {
			return cw.n, err
		}
		if _, err := cw.Write(sec.Bytes); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// Strip removes all custom sections, leaving the semantic sections untouched.
func (s *Skeleton) Strip() {
	s.Custom = nil
	kept := s.Sections[:0]
	for _, sec := range s.Sections {
		if sec.ID != SectionIDCustom {
			kept = append(kept, sec)
		}
	}
	s.Sections = kept
}

// CustomSection is a decoded custom section: a name and an uninterpreted
// contents view.
type CustomSection struct {
	Name     string
	Contents []byte
}

// ParseCustom decodes the name of a custom section and returns the remaining
// bytes as its contents.
func ParseCustom(sec *UnparsedSection) (CustomSection, error) {
	r := newSectionReader(sec)
	raw, err := r.ByteRange()
	if err != nil {
		return CustomSection{}, err
	}
	if !utf8.Valid(raw) {
		return CustomSection{}, r.errorf("custom section name is not valid UTF-8")
	}
	return CustomSection{Name: string(raw), Contents: sec.Bytes[r.Pos():]}, nil
}

func writeHeaderWord(w io.Writer, v uint32) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

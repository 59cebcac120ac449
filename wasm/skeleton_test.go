// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ankaa-labs/chainwasm/wasm"
)

func TestSkeletonRoundTrip(t *testing.T) {
	source := newBuilder().
		custom("before", []byte{1, 2, 3}).
		section(1, vec(funcType(nil, nil))).
		custom("between", nil).
		section(3, vec(u32(0))).
		section(10, vec(codeEntry(vec(), expr()))).
		custom("after", []byte{0xff}).
		bytes()

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)
	require.Len(t, s.Custom, 3)
	require.Len(t, s.Sections, 6)
	require.NotNil(t, s.Type)
	require.NotNil(t, s.Function)
	require.NotNil(t, s.Code)

	var buf bytes.Buffer
	n, err := s.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(source)), n)
	require.Equal(t, source, buf.Bytes())
}

func TestSkeletonRoundTripNonMinimalLength(t *testing.T) {
	// The type section's length is a legal but non-minimal 5-byte varint.
	// Serialization must reproduce it verbatim, not re-encode it minimally.
	content := vec(funcType(nil, nil))
	source := newBuilder().bytes()
	source = append(source, 0x01, byte(0x80|len(content)), 0x80, 0x80, 0x80, 0x00)
	source = append(source, content...)

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)
	require.NotNil(t, s.Type)

	var buf bytes.Buffer
	n, err := s.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(source)), n)
	require.Equal(t, source, buf.Bytes())
}

func TestSkeletonStrip(t *testing.T) {
	source := newBuilder().
		custom("name", []byte{1}).
		section(1, vec(funcType(nil, nil))).
		custom("trailer", nil).
		bytes()

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)
	s.Strip()
	require.Empty(t, s.Custom)

	var buf bytes.Buffer
	_, err = s.WriteTo(&buf)
	require.NoError(t, err)

	stripped, err := wasm.ParseSkeleton(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, stripped.Custom)
	require.NotNil(t, stripped.Type)
}

func TestSkeletonBadMagic(t *testing.T) {
	_, err := wasm.ParseSkeleton([]byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, wasm.ErrInvalidMagic)
}

func TestSkeletonBadVersion(t *testing.T) {
	_, err := wasm.ParseSkeleton([]byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, wasm.ErrUnsupportedVersion)
}

func TestSkeletonTruncatedHeader(t *testing.T) {
	_, err := wasm.ParseSkeleton([]byte{0x00, 0x61, 0x73, 0x6d, 0x01})
	require.Error(t, err)
	var perr *wasm.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestSkeletonSectionOrder(t *testing.T) {
	// A code section preceding a function section is rejected even though
	// both are individually well-formed.
	source := newBuilder().
		section(10, vec(codeEntry(vec(), expr()))).
		section(3, vec(u32(0))).
		bytes()

	_, err := wasm.ParseSkeleton(source)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of place")
}

func TestSkeletonDuplicateSection(t *testing.T) {
	source := newBuilder().
		section(1, vec(funcType(nil, nil))).
		section(1, vec(funcType(nil, nil))).
		bytes()

	_, err := wasm.ParseSkeleton(source)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of place")
}

func TestSkeletonCustomSectionsAnywhere(t *testing.T) {
	source := newBuilder().
		section(1, vec(funcType(nil, nil))).
		custom("mid", nil).
		section(3, vec(u32(0))).
		bytes()

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)
	require.Len(t, s.Custom, 1)
}

func TestSkeletonSectionLengthOverrun(t *testing.T) {
	source := newBuilder().bytes()
	// Section id 1 declaring more content than remains.
	source = append(source, 0x01, 0x20, 0x00)

	_, err := wasm.ParseSkeleton(source)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds remaining input")
}

func TestSkeletonUnknownSectionID(t *testing.T) {
	source := newBuilder().bytes()
	source = append(source, 12, 0x00)

	_, err := wasm.ParseSkeleton(source)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown section id")
}

func TestParseCustom(t *testing.T) {
	source := newBuilder().custom("name", []byte{0xde, 0xad}).bytes()

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)
	require.Len(t, s.Custom, 1)

	c, err := wasm.ParseCustom(s.Custom[0])
	require.NoError(t, err)
	require.Equal(t, "name", c.Name)
	require.Equal(t, []byte{0xde, 0xad}, c.Contents)
}

func TestParseCustomBadName(t *testing.T) {
	source := newBuilder().custom("\xff\xfe", nil).bytes()

	s, err := wasm.ParseSkeleton(source)
	require.NoError(t, err)

	_, err = wasm.ParseCustom(s.Custom[0])
	require.Error(t, err)
	require.Contains(t, err.Error(), "UTF-8")
}

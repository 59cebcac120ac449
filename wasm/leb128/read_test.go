// Copyright 2018 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import (
	"bytes"
	"fmt"
	"io"
	"testing"
)

var casesUint = []struct {
	v uint32
	b []byte
}{
	{0, []byte{0x00}},
	{1, []byte{0x01}},
	{127, []byte{0x7f}},
	{128, []byte{0x80, 0x01}},
	{624485, []byte{0xe5, 0x8e, 0x26}},
	{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
}

var casesInt = []struct {
	v int64
	b []byte
}{
	{0, []byte{0x00}},
	{1, []byte{0x01}},
	{-1, []byte{0x7f}},
	{63, []byte{0x3f}},
	{64, []byte{0xc0, 0x00}},
	{-64, []byte{0x40}},
	{-65, []byte{0xbf, 0x7f}},
	{-624485, []byte{0x9b, 0xf1, 0x59}},
	{-9223372036854775808, []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}},
	{9223372036854775807, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}},
}

func TestReadVarUint32(t *testing.T) {
	for _, c := range casesUint {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			v, err := ReadVarUint32(bytes.NewReader(c.b))
			if err != nil {
				t.Fatal(err)
			}
			if v != c.v {
				t.Fatalf("got %v, want %v", v, c.v)
			}
		})
	}
}

func TestReadVarint64(t *testing.T) {
	for _, c := range casesInt {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			v, err := ReadVarint64(bytes.NewReader(c.b))
			if err != nil {
				t.Fatal(err)
			}
			if v != c.v {
				t.Fatalf("got %v, want %v", v, c.v)
			}
		})
	}
}

func TestReadVarUint32Overflow(t *testing.T) {
	cases := [][]byte{
		// Too many continuation bytes.
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x01},
		// Fifth byte carries bits beyond 32.
		{0xff, 0xff, 0xff, 0xff, 0x1f},
	}
	for _, b := range cases {
		if _, err := ReadVarUint32(bytes.NewReader(b)); err != ErrOverflow {
			t.Fatalf("%x: got %v, want ErrOverflow", b, err)
		}
	}
}

func TestReadVarint32Overflow(t *testing.T) {
	cases := [][]byte{
		// 2^31 does not fit in a signed 32-bit value.
		{0x80, 0x80, 0x80, 0x80, 0x08},
		// Bad sign extension in the final byte.
		{0xff, 0xff, 0xff, 0xff, 0x4f},
		// Extension bits set without the sign bit.
		{0x80, 0x80, 0x80, 0x80, 0x70},
	}
	for _, b := range cases {
		if _, err := ReadVarint32(bytes.NewReader(b)); err != ErrOverflow {
			t.Fatalf("%x: got %v, want ErrOverflow", b, err)
		}
	}
}

func TestReadVarint32Boundary(t *testing.T) {
	cases := []struct {
		v int32
		b []byte
	}{
		{-2147483648, []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
	}
	for _, c := range cases {
		v, err := ReadVarint32(bytes.NewReader(c.b))
		if err != nil {
			t.Fatalf("%x: %v", c.b, err)
		}
		if v != c.v {
			t.Fatalf("%x: got %v, want %v", c.b, v, c.v)
		}
	}
}

func TestReadVarint64Overflow(t *testing.T) {
	cases := [][]byte{
		// 2^63 does not fit in a signed 64-bit value.
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01},
		// The tenth byte carries a single value bit; anything else must be
		// its sign extension.
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x02},
	}
	for _, b := range cases {
		if _, err := ReadVarint64(bytes.NewReader(b)); err != ErrOverflow {
			t.Fatalf("%x: got %v, want ErrOverflow", b, err)
		}
	}
}

func TestReadTruncated(t *testing.T) {
	if _, err := ReadVarUint32(bytes.NewReader([]byte{0x80})); err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
	if _, err := ReadVarint64(bytes.NewReader(nil)); err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
}

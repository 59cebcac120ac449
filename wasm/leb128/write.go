// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import "io"

// WriteVarUint32 writes an unsigned 32-bit varint to w and returns the number
// of bytes written.
func WriteVarUint32(w io.Writer, v uint32) (int, error) {
	return WriteVarUint64(w, uint64(v))
}

// WriteVarUint64 writes an unsigned 64-bit varint to w and returns the number
// of bytes written.
func WriteVarUint64(w io.Writer, v uint64) (int, error) {
	buf := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			break
		}
	}
	return w.Write(buf)
}

// WriteVarint32 writes a signed 32-bit varint to w and returns the number of
// bytes written.
func WriteVarint32(w io.Writer, v int32) (int, error) {
	return WriteVarint64(w, int64(v))
}

// WriteVarint64 writes a signed 64-bit varint to w and returns the number of
// bytes written.
func WriteVarint64(w io.Writer, v int64) (int, error) {
	buf := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		buf = append(buf, b)
		if done {
			break
		}
	}
	return w.Write(buf)
}

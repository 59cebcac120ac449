// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leb128 provides encoders and decoders for the variable-length
// integer format used throughout the WebAssembly binary encoding.
//
// Readers are strict: a u32 may occupy at most 5 bytes and a u64 at most 10,
// and bits beyond the target width must be zero (or proper sign extension for
// the signed forms). Anything else is an encoding error, never a silent
// truncation.
package leb128

import (
	"errors"
	"io"
)

var (
	// ErrOverflow is returned when a varint does not fit the target width or
	// uses more than the maximum number of bytes for that width.
	ErrOverflow = errors.New("leb128: integer representation too long")
)

// ReadVarUint32 reads an unsigned 32-bit varint from r.
func ReadVarUint32(r io.ByteReader) (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), err
}

// ReadVarUint64 reads an unsigned 64-bit varint from r.
func ReadVarUint64(r io.ByteReader) (uint64, error) {
	return readUnsigned(r, 64)
}

// ReadVarint32 reads a signed 32-bit varint from r.
func ReadVarint32(r io.ByteReader) (int32, error) {
	v, err := readSigned(r, 32)
	return int32(v), err
}

// ReadVarint64 reads a signed 64-bit varint from r.
func ReadVarint64(r io.ByteReader) (int64, error) {
	return readSigned(r, 64)
}

func readUnsigned(r io.ByteReader, width uint) (uint64, error) {
	maxBytes := (width + 6) / 7

	var result uint64
	var shift uint
	for i := uint(0); i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, eof(err)
		}

		payload := uint64(b & 0x7f)
		if shift+7 > width {
			// The final byte may only carry the bits that fit.
			if payload>>(width-shift) != 0 {
				return 0, ErrOverflow
			}
		}
		result |= payload << shift

		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrOverflow
}

func readSigned(r io.ByteReader, width uint) (int64, error) {
	maxBytes := (width + 6) / 7

	var result int64
	var shift uint
	for i := uint(0); i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, eof(err)
		}

		payload := int64(b & 0x7f)
		if shift+7 > width {
			// The final byte must sign-extend the value: every payload bit at
			// or above the value's sign position agrees, all zero or all one.
			sign := width - shift - 1
			high := byte(payload) >> sign
			if high != 0 && high != 0x7f>>sign {
				return 0, ErrOverflow
			}
		}
		result |= payload << shift
		shift += 7

		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, ErrOverflow
}

// eof normalizes io.EOF to io.ErrUnexpectedEOF: running out of bytes in the
// middle of a varint is always a malformed input, not a clean end.
func eof(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

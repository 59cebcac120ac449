package wasm

import (
	"io"

	"github.com/ankaa-labs/chainwasm/wasm/leb128"
)

// Reader is a position-tracked cursor over a borrowed byte range. Reads never
// copy: byte-range reads return sub-slices of the underlying buffer. A failed
// read aborts the surrounding parse, so the position after a failure is
// meaningless by contract.
type Reader struct {
	buf     []byte
	pos     int
	context string
}

// NewReader returns a cursor over buf. The buffer is borrowed, not copied,
// and must not be mutated while the cursor or anything parsed from it is in
// use.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func newSectionReader(s *UnparsedSection) *Reader {
	return &Reader{buf: s.Bytes, context: s.ID.String() + " section"}
}

// Pos reports the current byte offset.
func (r *Reader) Pos() uint32 { return uint32(r.pos) }

// Len reports the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.errorf("unexpected end of input")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes as a view into the underlying buffer.
func (r *Reader) ReadBytes(n uint32) ([]byte, error) {
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return nil, r.errorf("declared length %d exceeds remaining input %d", n, r.Len())
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// Expect reads one byte and fails unless it equals want.
func (r *Reader) Expect(want byte) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return r.errorf("unexpected byte %#02x, expected %#02x", b, want)
	}
	return nil
}

// U32 reads a LEB128-encoded u32, capped at 5 bytes.
func (r *Reader) U32() (uint32, error) {
	v, err := leb128.ReadVarUint32(r)
	return v, r.wrap(err)
}

// U64 reads a LEB128-encoded u64, capped at 10 bytes.
func (r *Reader) U64() (uint64, error) {
	v, err := leb128.ReadVarUint64(r)
	return v, r.wrap(err)
}

// I32 reads a signed LEB128-encoded i32, capped at 5 bytes.
func (r *Reader) I32() (int32, error) {
	v, err := leb128.ReadVarint32(r)
	return v, r.wrap(err)
}

// I64 reads a signed LEB128-encoded i64, capped at 10 bytes.
func (r *Reader) I64() (int64, error) {
	v, err := leb128.ReadVarint64(r)
	return v, r.wrap(err)
}

// ByteRange reads a length-prefixed byte range without copying.
func (r *Reader) ByteRange() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

func (r *Reader) wrap(err error) error {
	switch err {
	case nil:
		return nil
	case leb128.ErrOverflow:
		return r.errorf("malformed varint")
	case io.ErrUnexpectedEOF:
		return r.errorf("unexpected end of input")
	default:
		return err
	}
}

// Cap on up-front allocation for length-prefixed vectors. Declared lengths
// are attacker-controlled, so slices start no larger than this and grow as
// elements actually decode.
const maxInitialCap = 1024

func initialCap(count uint32) int {
	if count > maxInitialCap {
		return maxInitialCap
	}
	return int(count)
}

// decodeVec decodes a length-prefixed sequence using elem for each element.
func decodeVec[T any](r *Reader, elem func(*Reader) (T, error)) ([]T, error) {
	count, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, initialCap(count))
	for i := uint32(0); i < count; i++ {
		v, err := elem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

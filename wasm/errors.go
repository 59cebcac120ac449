package wasm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic is returned when the first four bytes of a module are
	// not the WebAssembly magic constant.
	ErrInvalidMagic = errors.New("wasm: magic header not detected")

	// ErrUnsupportedVersion is returned when the version field of a module is
	// not the supported binary version.
	ErrUnsupportedVersion = errors.New("wasm: unsupported binary version")
)

// ParseError is a structural error: the input is not a well-formed module in
// the supported subset of the binary format. It is kept distinct from
// validation errors so that callers can tell malformed input apart from
// well-formed but policy-violating input.
type ParseError struct {
	// Offset is the byte offset at which the error was detected, relative to
	// the start of the parsed range (the whole input for the skeleton, the
	// section payload for section contents).
	Offset uint32

	// Context names the enclosing structure, typically a section.
	Context string

	Msg string
}

func (e *ParseError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("wasm: %s: %s (offset %#x)", e.Context, e.Msg, e.Offset)
	}
	return fmt.Sprintf("wasm: %s (offset %#x)", e.Msg, e.Offset)
}

func (r *Reader) errorf(format string, args ...interface{}) error {
	return &ParseError{Offset: r.Pos(), Context: r.context, Msg: fmt.Sprintf(format, args...)}
}

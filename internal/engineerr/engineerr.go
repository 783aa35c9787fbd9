// Package engineerr implements the error taxonomy of spec §7: a closed set
// of sentinel errors plus the two structured error kinds (ParseError,
// InvariantViolation) that carry payload beyond a simple sentinel.
package engineerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Recovery policy for each is documented in spec §7;
// callers compare with errors.Is.
var (
	ErrFormatMismatch     = errors.New("format mismatch")
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrBackendOutOfMemory = errors.New("backend out of memory")
	ErrDeviceLost         = errors.New("device lost")
	ErrCancelled          = errors.New("render cancelled")
	ErrPoolExhausted      = errors.New("tile pool exhausted")
)

// ParseError reports a preset-DSL parse failure at a byte offset, along
// with what the parser expected there. Preset errors never mutate engine
// state (spec §4.7): the caller's existing Collection is left untouched.
type ParseError struct {
	Offset   int
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("preset: parse error at offset %d: expected %s", e.Offset, e.Expected)
}

// InvariantViolation marks a programmer error (format mismatch, out of
// bounds reaching a layer that should never have let it through) that spec
// §7 says panics in debug builds and is converted to a returned error in
// release builds without corrupting engine state. The `gfrelease` build
// tag selects which behaviour Raise uses.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Detail
}

// Raise reports an invariant violation according to the build's debug/
// release mode (see raise_debug.go / raise_release.go).
func Raise(detail string) error {
	return raise(detail)
}

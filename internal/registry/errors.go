package registry

import (
	"errors"
	"fmt"
)

// Whole-input failures. The caller treats any of them as "no usable
// registry in this attachment".
var (
	ErrTooShort       = errors.New("registry too short")
	ErrHeaderNotFound = errors.New("registry header not found")
	ErrMalformed      = errors.New("malformed registry")
)

// RowError describes a single data row that was skipped.
type RowError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: failed to parse %s='%s': %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

package driftguard

import (
	"errors"
	"fmt"
)

// SchemaDriftError reports a payload that does not conform to the agent output
// schema. It is the only error kind Validate returns; JSON syntax errors are
// reported through it as well. Callers must treat it as fatal to the operation
// that produced the payload.
type SchemaDriftError struct {
	// Pointer is the JSON pointer of the first offending location ("" for the root).
	Pointer string
	// Detail is a human-readable description of the violation.
	Detail string
	// Cause is the underlying parser or schema error.
	Cause error
}

func (e *SchemaDriftError) Error() string {
	if e.Pointer == "" {
		return fmt.Sprintf("schema drift: %s", e.Detail)
	}
	return fmt.Sprintf("schema drift at %s: %s", e.Pointer, e.Detail)
}

func (e *SchemaDriftError) Unwrap() error {
	return e.Cause
}

// IsDrift reports whether err is, or wraps, a *SchemaDriftError.
func IsDrift(err error) bool {
	var de *SchemaDriftError
	return errors.As(err, &de)
}

func drift(pointer string, cause error, format string, args ...any) *SchemaDriftError {
	return &SchemaDriftError{
		Pointer: pointer,
		Detail:  fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

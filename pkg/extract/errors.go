package extract

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload matches every extraction failure.
var ErrMalformedPayload = errors.New("malformed payload")

// Failure kinds. A *MalformedPayloadError matches exactly one of these via errors.Is.
var (
	ErrEmptyPayload     = errors.New("empty payload")
	ErrEncoding         = errors.New("invalid UTF-8 encoding")
	ErrSyntax           = errors.New("invalid JSON syntax")
	ErrUnsupportedShape = errors.New("unsupported JSON shape")
	ErrNoRecords        = errors.New("no records extracted")
)

// MalformedPayloadError describes why a payload could not be turned into records.
type MalformedPayloadError struct {
	Kind   error  // one of the Err* kinds above
	Detail string // human-readable cause, e.g. the parser diagnostic
	Cause  error  // underlying decoder error, if any
}

func (e *MalformedPayloadError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the kind, the umbrella ErrMalformedPayload and the cause.
func (e *MalformedPayloadError) Unwrap() []error {
	errs := []error{e.Kind, ErrMalformedPayload}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func malformed(kind error, cause error, format string, args ...any) *MalformedPayloadError {
	return &MalformedPayloadError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		Cause:  cause,
	}
}

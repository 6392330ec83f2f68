package source

import (
	"errors"
	"fmt"

	"github.com/bjaus/docsync/internal/schema"
)

const (
	CodeUnreachable = "E_SOURCE_UNREACHABLE"
	CodeDecode      = "E_SOURCE_DECODE"
)

// Error reports a failed read from the source store. Extraction stops at the
// first Error; retrying is left to the caller.
type Error struct {
	Code       string
	Kind       schema.Kind
	Collection string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("source %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("source %s: %s from %q: %v", e.Code, e.Kind, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnreachable reports whether err is a connectivity failure.
func IsUnreachable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeUnreachable
}

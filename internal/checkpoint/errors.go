package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeCorrupt             = "E_CORRUPT"
	CodeWriteFailed         = "E_WRITE_FAILED"
)

// ErrRegression is returned when an update would move a cursor backwards.
var ErrRegression = errors.New("checkpoint: cursor moved backwards")

// Error wraps checkpoint store failures with retryability hints.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("checkpoint %s: %v", e.Code, e.Err)
	}
	return "checkpoint " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err means no checkpoint has been written yet.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeObjectNotFound
}

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// classifyMinioError converts minio-go errors to *Error.
func classifyMinioError(err error) *Error {
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		return wrapError(CodeBucketNotFound, false, err)
	case "NoSuchKey":
		return wrapError(CodeObjectNotFound, false, err)
	case "AccessDenied":
		return wrapError(CodePermissionDenied, false, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return wrapError(CodeAuthInvalid, false, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such key"), strings.Contains(msg, "does not exist"):
		return wrapError(CodeObjectNotFound, false, err)
	case strings.Contains(msg, "access denied"):
		return wrapError(CodePermissionDenied, false, err)
	}
	return wrapError(CodeEndpointUnreachable, true, err)
}

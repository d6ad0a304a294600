// Package apperr defines the error taxonomy shared by every component and
// a single gin-facing writer that translates taxonomy errors to HTTP
// status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind identifies a taxonomy bucket, independent of the concrete error type
// wrapping it.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindStorageUnavailable
	KindMediaError
	KindSpeechError
	KindNotesError
	KindTranscriptionFailed
	KindInternal
)

func (k Kind) httpStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the taxonomy-tagged error type every component returns.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func InvalidInput(err error, format string, args ...any) error {
	return newf(KindInvalidInput, err, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return newf(KindUnauthorized, nil, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newf(KindForbidden, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(KindConflict, nil, format, args...)
}

func StorageUnavailable(err error, format string, args ...any) error {
	return newf(KindStorageUnavailable, err, format, args...)
}

func MediaError(err error, format string, args ...any) error {
	return newf(KindMediaError, err, format, args...)
}

func SpeechError(err error, format string, args ...any) error {
	return newf(KindSpeechError, err, format, args...)
}

func NotesError(err error, format string, args ...any) error {
	return newf(KindNotesError, err, format, args...)
}

func TranscriptionFailed(err error, format string, args ...any) error {
	return newf(KindTranscriptionFailed, err, format, args...)
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// unretriableError mirrors the wrap-to-mark-terminal pattern used for
// speech/notes/media failures that a retry loop must not retry.
type unretriableError struct{ error }

// Unretriable marks err as terminal: callers of a retry loop should stop
// retrying once they see this wrapper.
func Unretriable(err error) error {
	if err == nil {
		return nil
	}
	return unretriableError{err}
}

func (e unretriableError) Unwrap() error { return e.error }

// IsUnretriable reports whether err was wrapped with Unretriable.
func IsUnretriable(err error) bool {
	var u unretriableError
	return errors.As(err, &u)
}

// WriteHTTP writes the standard {"error": "...", "error_detail": "..."}
// envelope and sets the status code derived from the error's Kind. Errors
// that are not *Error are reported as 500 with no detail leaked.
func WriteHTTP(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		detail := ""
		if e.Err != nil {
			detail = e.Err.Error()
		}
		c.JSON(e.Kind.httpStatus(), gin.H{"error": e.Msg, "error_detail": detail})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "error_detail": ""})
}

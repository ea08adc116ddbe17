package fits

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Parse failures.
var (
	ErrMalformedCard = errors.New("fits: malformed header card")
	ErrMissingEnd    = errors.New("fits: END card not found")
	ErrUnexpectedEOF = errors.New("fits: unexpected end of data")
)

// Validation failures.
var (
	ErrDimensionsMismatch  = errors.New("fits: pixel buffer does not match dimensions")
	ErrMissingDimensions   = errors.New("fits: NAXIS1/NAXIS2 missing or not integer")
	ErrUnsupportedEncoding = errors.New("fits: unsupported sample encoding")
	ErrSampleOutOfRange    = errors.New("fits: sample out of range for encoding")
)

// I/O failures.
var (
	ErrNotFound         = errors.New("fits: file not found")
	ErrPermissionDenied = errors.New("fits: permission denied")
	ErrIO               = errors.New("fits: i/o error")
)

// ParseError reports a failure while reading FITS bytes. Err is one of
// ErrMalformedCard, ErrMissingEnd or ErrUnexpectedEOF.
type ParseError struct {
	Err    error
	Offset int64
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
	}
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports input that cannot be encoded.
type ValidationError struct {
	Err    error
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Field)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IOError wraps a host file-system failure. Err is ErrNotFound,
// ErrPermissionDenied or ErrIO; Code holds the OS errno for the latter when
// one is available.
type IOError struct {
	Err   error
	Op    string
	Path  string
	Code  int
	Cause error
}

func (e *IOError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s: %v (errno %d)", e.Op, e.Path, e.Cause, e.Code)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// KeyError pairs a user header keyword with the reason it was not written.
type KeyError struct {
	Keyword string
	Err     error
}

func (k KeyError) Error() string {
	return fmt.Sprintf("%s: %v", k.Keyword, k.Err)
}

// WriteReport is the outcome of best-effort header writing: how many user
// keys made it into the file and which ones were skipped.
type WriteReport struct {
	Written int
	Skipped []KeyError
}

func (r *WriteReport) merge(other WriteReport) {
	r.Written += other.Written
	r.Skipped = append(r.Skipped, other.Skipped...)
}

func parseErr(sentinel error, offset int64, format string, args ...interface{}) *ParseError {
	return &ParseError{Err: sentinel, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

func validationErr(sentinel error, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Err: sentinel, Field: field, Detail: fmt.Sprintf(format, args...)}
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	out := &IOError{Err: ErrIO, Op: op, Path: path, Cause: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		out.Err = ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		out.Err = ErrPermissionDenied
	default:
		var errno syscall.Errno
		if errors.As(err, &errno) {
			out.Code = int(errno)
		}
	}
	return out
}

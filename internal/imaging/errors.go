package imaging

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a compression task failed.
type ErrorCode string

const (
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	CodeDecodeFailure     ErrorCode = "DECODE_FAILURE"
	CodeEncodeFailure     ErrorCode = "ENCODE_FAILURE"
)

var (
	// ErrUnsupportedFormat indicates the container format is rejected before decoding.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode indicates the source bytes could not be turned into a bitmap.
	ErrDecode = errors.New("image decode failed")
	// ErrEncode indicates the canvas could not be encoded to the target format.
	ErrEncode = errors.New("image encode failed")
)

// Error carries a failure classification together with its cause.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnsupportedFormat:
		return e.Code == CodeUnsupportedFormat
	case ErrDecode:
		return e.Code == CodeDecodeFailure
	case ErrEncode:
		return e.Code == CodeEncodeFailure
	}
	return false
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

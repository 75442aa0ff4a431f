package convert

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass represents whether a failed conversion is worth retrying.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, timeout, server error).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the input itself cannot be converted.
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var fatalPatterns = []string{
	"invalid data found",
	"moov atom not found",
	"does not contain any stream",
	"output file is empty",
	"could not find codec",
	"unsupported",
	"file is too big",
	"no such file",
	"permission denied",
}

var retryablePatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
}

// ClassifyError sorts fetch, transcode and delivery errors into retryable vs
// fatal. Unknown errors are reported as such and treated as retryable by
// callers.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	if errors.Is(err, ErrUnsupportedKind) {
		return ErrorClassFatal
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassUnknown
}

// IsRetryable reports whether the user should be told to try again.
func IsRetryable(err error) bool { return ClassifyError(err) != ErrorClassFatal }

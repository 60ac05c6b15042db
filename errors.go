package pagestore

import "fmt"

// ErrorCode enumerates the closed set of failure kinds a caller can see.
// Kinds that are purely internal signalling (the "retry needed" and "CAS
// conflict" cases) never reach an ErrorCode; they are absorbed by the
// engine before it returns to the caller.
type ErrorCode int

const (
	// InsufficientSpace means a codec write did not fit in the target buffer.
	InsufficientSpace ErrorCode = iota + 1

	// OffsetOutOfBounds means a tuple or patch write computed a length
	// that does not fit in the destination array.
	OffsetOutOfBounds

	// NotUint32 means a value passed to a uint32 codec is outside [0, 2^32).
	NotUint32

	// InvalidEncoding means a decoder read a byte pattern its format
	// forbids (e.g. the reserved bitset32 tag, a malformed tuple).
	InvalidEncoding

	// RetryExhausted means a transaction attempt used up its retry
	// budget on stale-page refetches and CAS conflicts without committing.
	RetryExhausted

	// BackendError wraps a transport/auth/unknown-status failure
	// reported by the PageStoreBackend implementation.
	BackendError

	// InvalidKey means an encryption transform was given a key its
	// cipher cannot use (wrong length, wrong algorithm).
	InvalidKey

	// DecryptionFailed means authenticated decryption failed: wrong key,
	// corrupted ciphertext, or tampering.
	DecryptionFailed

	// CorruptIndex means decoding a backend-returned index page failed.
	// This is fatal; the store must be reopened or rebuilt.
	CorruptIndex
)

func (c ErrorCode) String() string {
	switch c {
	case InsufficientSpace:
		return "InsufficientSpace"
	case OffsetOutOfBounds:
		return "OffsetOutOfBounds"
	case NotUint32:
		return "NotUint32"
	case InvalidEncoding:
		return "InvalidEncoding"
	case RetryExhausted:
		return "RetryExhausted"
	case BackendError:
		return "BackendError"
	case InvalidKey:
		return "InvalidKey"
	case DecryptionFailed:
		return "DecryptionFailed"
	case CorruptIndex:
		return "CorruptIndex"
	default:
		return "Unknown"
	}
}

// Error is the single concrete error type this package returns. Callers
// distinguish kinds with the Code field or with errors.Is against the
// package-level sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pagestore: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("pagestore: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, pagestore.ErrRetryExhausted) and friends to
// match any *Error with the same Code, not just a specific instance.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinel values for errors.Is comparisons. Only the Code is compared
// (see Error.Is), so these carry no message of their own.
var (
	ErrRetryExhausted = &Error{Code: RetryExhausted}
	ErrCorruptIndex   = &Error{Code: CorruptIndex}
	ErrInvalidKey     = &Error{Code: InvalidKey}
	ErrDecryptFailed  = &Error{Code: DecryptionFailed}
	ErrBackend        = &Error{Code: BackendError}
)

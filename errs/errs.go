// Package errs defines the error taxonomy shared across synccore's
// components. Protocol errors returned by the RPC layer are classified
// once, here, and every caller dispatches on Kind rather than on error
// strings.
package errs

import (
	"errors"
	"fmt"
)

// InvalidArgumentError signals a caller bug: an empty account, a
// non-Evernote account, a linked notebook without a guid, or a nil
// required dependency. It is always a programmer error, never retried.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.Message }

func InvalidArgument(format string, args ...any) error {
	return &InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

// CanceledError wraps context.Canceled with the synchronization-cycle
// framing the spec calls OperationCanceled.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	if e.Cause != nil {
		return "operation canceled: " + e.Cause.Error()
	}
	return "operation canceled"
}

func (e *CanceledError) Unwrap() error { return e.Cause }

func Canceled(cause error) error { return &CanceledError{Cause: cause} }

// RuntimeError covers everything unclassified, including local-store
// failures and logic-impossible states such as a locally-modified note
// whose notebook cannot be found.
type RuntimeError struct {
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

func Runtime(cause error, format string, args ...any) error {
	return &RuntimeError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ProtocolKind classifies an error the RPC layer returned for a single
// entity operation (create/update/fetch).
type ProtocolKind int

const (
	KindUnknown ProtocolKind = iota
	KindBadDataFormat
	KindDataConflict
	KindDataRequired
	KindLimitReached
	KindPermissionDenied
	KindQuotaReached
	KindEnmlValidation
	KindNotFound
	KindRateLimitReached
	KindAuthExpired
)

func (k ProtocolKind) String() string {
	switch k {
	case KindBadDataFormat:
		return "bad_data_format"
	case KindDataConflict:
		return "data_conflict"
	case KindDataRequired:
		return "data_required"
	case KindLimitReached:
		return "limit_reached"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaReached:
		return "quota_reached"
	case KindEnmlValidation:
		return "enml_validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimitReached:
		return "rate_limit_reached"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// ProtocolError is the typed error the RPC client returns for any
// create/update/fetch call that the server rejected or throttled.
type ProtocolError struct {
	Kind ProtocolKind
	// RetryAfterSeconds is populated only for KindRateLimitReached.
	RetryAfterSeconds int
	Message           string
}

func (e *ProtocolError) Error() string {
	if e.Kind == KindRateLimitReached {
		return fmt.Sprintf("rate limit reached, retry after %ds", e.RetryAfterSeconds)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

// IsFatal reports whether this protocol error must stop the whole sync
// cycle rather than just being recorded against one entity.
func (e *ProtocolError) IsFatal() bool {
	return e.Kind == KindRateLimitReached || e.Kind == KindAuthExpired
}

// AsProtocolError unwraps err looking for a *ProtocolError.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// EntityFailure pairs a failed entity's local id with the error that
// the attempt to upload or download it produced. Status accumulators
// collect these; they never fail the enclosing stage.
type EntityFailure struct {
	LocalID string
	Guid    string
	Err     error
}

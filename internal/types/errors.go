package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for fatal extraction outcomes. Match with errors.Is.
var (
	ErrAccessDenied   = errors.New("access denied")
	ErrUnreachable    = errors.New("source unreachable")
	ErrRetryExhausted = errors.New("retries exhausted")
	ErrCancelled      = errors.New("extraction cancelled")
)

// Retryable causes. These never escape the extraction loop on their own;
// the last one observed is carried by a RetryExhausted failure.
var (
	ErrNotReady          = errors.New("document not ready")
	ErrSelectorNotFound  = errors.New("no candidate selector matched")
	ErrEmptyResult       = errors.New("no complete rows extracted")
	ErrNavigationTimeout = errors.New("navigation timed out")
)

// ErrEmptySinkInput is returned by every storage backend given zero records.
var ErrEmptySinkInput = errors.New("refusing to store an empty record set")

// FailureKind classifies a fatal extraction outcome.
type FailureKind int

const (
	AccessDenied FailureKind = iota + 1
	Unreachable
	RetryExhausted
	Cancelled
)

func (k FailureKind) String() string {
	switch k {
	case AccessDenied:
		return "access_denied"
	case Unreachable:
		return "unreachable"
	case RetryExhausted:
		return "retry_exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case AccessDenied:
		return ErrAccessDenied
	case Unreachable:
		return ErrUnreachable
	case RetryExhausted:
		return ErrRetryExhausted
	case Cancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// ExtractionError is the terminal failure of one extraction run.
type ExtractionError struct {
	Kind       FailureKind
	State      string // state the run was in when it failed
	Attempts   int
	URL        string
	StatusCode int
	Err        error // underlying or last retryable cause
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %s: %s in state %s", e.URL, e.Kind, e.State)
	if e.Kind == RetryExhausted {
		msg = fmt.Sprintf("extract %s: gave up after %d attempts", e.URL, e.Attempts)
	}
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel for the failure kind.
func (e *ExtractionError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Skippable reports whether a failure is one an enclosing job may downgrade
// to a warning: the source blocked us, could not be reached, or never produced
// data. Cancellation and sink failures are never skippable.
func Skippable(err error) bool {
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Kind {
	case AccessDenied, Unreachable, RetryExhausted:
		return true
	default:
		return false
	}
}

// NavigationError wraps errors that occur while loading the report page.
// Unreachable means the host could not be contacted at all. Timeout and
// Transient (the server answered but could not serve the page) are worth
// another navigation.
type NavigationError struct {
	URL         string
	StatusCode  int
	Err         error
	Unreachable bool
	Timeout     bool
	Transient   bool
}

// Retryable reports whether navigating again may succeed.
func (e *NavigationError) Retryable() bool {
	return !e.Unreachable && (e.Timeout || e.Transient)
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

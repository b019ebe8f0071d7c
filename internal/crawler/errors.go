package crawler

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a fetch produced no payload.
type FailureKind int

// Fetch failure kinds.
const (
	FailureRobotsDisallowed FailureKind = iota + 1
	FailureTimeout
	FailureTransport
	FailureHTTPStatus
)

func (k FailureKind) String() string {
	switch k {
	case FailureRobotsDisallowed:
		return "robots_disallowed"
	case FailureTimeout:
		return "timeout"
	case FailureTransport:
		return "transport_error"
	case FailureHTTPStatus:
		return "http_status"
	default:
		return "unknown"
	}
}

// Sentinels matched by FetchError through errors.Is.
var (
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrTimeout          = errors.New("request timed out")
	ErrTransport        = errors.New("transport error")
	ErrHTTPStatus       = errors.New("unexpected http status")
)

// ErrNameExtraction reports a page whose program name could not be read.
var ErrNameExtraction = errors.New("program name extraction failed")

// ErrPartialExtraction wraps recoverable faults scoped to one field, item or term.
var ErrPartialExtraction = errors.New("partial extraction fault")

// ErrRunNotFound is returned by run ledgers for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// FetchError is the failure outcome of a fetch.
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FailureRobotsDisallowed:
		return fmt.Sprintf("fetch %s: %v", e.URL, ErrRobotsDisallowed)
	case FailureHTTPStatus:
		return fmt.Sprintf("fetch %s: http error %d", e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the failure kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrRobotsDisallowed:
		return e.Kind == FailureRobotsDisallowed
	case ErrTimeout:
		return e.Kind == FailureTimeout
	case ErrTransport:
		return e.Kind == FailureTransport
	case ErrHTTPStatus:
		return e.Kind == FailureHTTPStatus
	default:
		return false
	}
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == FailureHTTPStatus {
		return fe.StatusCode
	}
	return 0
}

// KindOf returns the failure kind carried by err, or 0 when err is not a FetchError.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

package session

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of an outbound request.
type Kind int

const (
	KindTimeout        Kind = iota + 1 // request exceeded its timeout
	KindNetwork                        // connection-level failure
	KindHTTP                           // non-2xx other than an auth failure
	KindAuth                           // 401 or an explicit token-expired signal
	KindSessionExpired                 // refresh impossible or failed
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network failure"
	case KindHTTP:
		return "http error"
	case KindAuth:
		return "auth error"
	case KindSessionExpired:
		return "session expired"
	default:
		return "unknown"
	}
}

// Sentinel errors for matching with errors.Is.
var (
	ErrTimeout        = errors.New("request timed out")
	ErrNetwork        = errors.New("network failure")
	ErrHTTP           = errors.New("http error")
	ErrAuth           = errors.New("access token rejected")
	ErrSessionExpired = errors.New("session expired")
)

// Error is the error returned for every failed outbound request.
type Error struct {
	Kind     Kind
	Method   string
	Endpoint string
	Status   int    // zero unless the server responded
	Body     any    // decoded JSON body, or the raw text
	Message  string // server-provided message, if any
	Err      error  // underlying cause
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindNetwork:
		return ErrNetwork
	case KindHTTP:
		return ErrHTTP
	case KindAuth:
		return ErrAuth
	case KindSessionExpired:
		return ErrSessionExpired
	default:
		return nil
	}
}

// KindOf returns the Kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StoreError indicates a token persistence failure.
type StoreError struct {
	Operation string // "load", "save", "clear"
	Backend   string
	Cause     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s tokens (%s): %v", e.Operation, e.Backend, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

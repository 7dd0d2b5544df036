package marketdata

import (
	"errors"
	"fmt"
)

// Kind classifies gateway and analysis failures for callers.
type Kind int

const (
	// KindUnknown is the zero value; never constructed directly.
	KindUnknown Kind = iota
	// KindQuotaExhausted: a call-budget limiter refused the call.
	// Recoverable by waiting for window rollover.
	KindQuotaExhausted
	// KindUpstreamUnavailable: timeout, malformed response, or non-2xx from
	// a data or reasoning source. Caller-level retry with backoff applies.
	KindUpstreamUnavailable
	// KindInvalidInput: malformed ticker or unsupported range. Not retryable.
	KindInvalidInput
	// KindConfigurationMissing: no credential for a capability. Fatal until
	// an operator supplies one.
	KindConfigurationMissing
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindInvalidInput:
		return "invalid_input"
	case KindConfigurationMissing:
		return "configuration_missing"
	}
	return "unknown"
}

// Error carries the failure taxonomy plus the operation and symbol it hit.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s += " on " + e.Op
	}
	if e.Symbol != "" {
		s += " for " + e.Symbol
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += fmt.Sprintf(" (%v)", e.Err)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// ErrQuota builds a quota-exhausted error for op/symbol.
func ErrQuota(op, symbol string) *Error {
	return &Error{Kind: KindQuotaExhausted, Op: op, Symbol: symbol, Msg: "daily call budget exhausted"}
}

// ErrUpstream wraps an upstream failure.
func ErrUpstream(op, symbol string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Op: op, Symbol: symbol, Err: err}
}

// ErrInput flags a request the caller must fix.
func ErrInput(op, symbol, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Symbol: symbol, Msg: msg}
}

// ErrConfig flags a missing credential or capability configuration.
func ErrConfig(msg string) *Error {
	return &Error{Kind: KindConfigurationMissing, Msg: msg}
}

// KindOf extracts the taxonomy kind from any error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k anywhere in its chain.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

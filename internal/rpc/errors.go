package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failed RPC call. The kind is assigned at the call
// site from the HTTP status or JSON-RPC error code, never inferred from
// message text.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindBusiness    ErrorKind = "business"
)

// Error is the structured error returned by the RPC layer.
type Error struct {
	Kind     ErrorKind
	Provider string
	Method   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s via %s: %s: %v", e.Method, e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt (same or different provider)
// can succeed. Business failures are final.
func (e *Error) Retryable() bool {
	return e.Kind != KindBusiness
}

// NewError wraps err with a kind and call context.
func NewError(kind ErrorKind, provider, method string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Method: method, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindNetwork
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	return KindNetwork
}

// IsRetryable reports whether the error chain permits another attempt.
func IsRetryable(err error) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Retryable()
	}
	return true
}

// ClassifyTransport maps a transport-level failure to an error kind.
func ClassifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindNetwork
	default:
		return KindBusiness
	}
}

// ClassifyRPCCode maps a JSON-RPC error code to an error kind. Solana nodes
// return -32429 behind some gateways when throttled; negative server codes
// are treated as node-side (retryable) failures, everything else as a
// request the node understood and rejected.
func ClassifyRPCCode(code int, message string) ErrorKind {
	switch {
	case code == -32429:
		return KindRateLimited
	case looksRateLimited(message):
		// Some providers wrap throttling in a 200 response with a plain
		// message. Kept narrow: only the canonical 429 phrasing matches.
		return KindRateLimited
	case code <= -32000 && code >= -32099:
		return KindNetwork
	default:
		return KindBusiness
	}
}

func looksRateLimited(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "too many requests") || strings.Contains(m, "rate limit")
}

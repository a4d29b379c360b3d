package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{500, KindNetwork},
		{502, KindNetwork},
		{400, KindBusiness},
		{404, KindBusiness},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassifyRPCCode(t *testing.T) {
	tests := []struct {
		code    int
		message string
		want    ErrorKind
	}{
		{-32429, "", KindRateLimited},
		{-32005, "node is behind", KindNetwork},
		{-32000, "server error", KindNetwork},
		{-32602, "invalid params", KindBusiness},
		{-32601, "method not found", KindBusiness},
		// Throttling wrapped in a 200 response with a plain message.
		{-32600, "Too many requests for this endpoint", KindRateLimited},
		{-32600, "rate limit exceeded", KindRateLimited},
	}
	for _, tt := range tests {
		if got := ClassifyRPCCode(tt.code, tt.message); got != tt.want {
			t.Errorf("ClassifyRPCCode(%d, %q) = %s, want %s", tt.code, tt.message, got, tt.want)
		}
	}
}

func TestClassifyTransport(t *testing.T) {
	if got := ClassifyTransport(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("deadline exceeded classified as %s, want %s", got, KindTimeout)
	}
	if got := ClassifyTransport(errors.New("connection refused")); got != KindNetwork {
		t.Errorf("generic failure classified as %s, want %s", got, KindNetwork)
	}
}

func TestRetryable(t *testing.T) {
	for _, kind := range []ErrorKind{KindRateLimited, KindNetwork, KindTimeout} {
		err := NewError(kind, "p1", "getSlot", errors.New("boom"))
		if !err.Retryable() {
			t.Errorf("%s should be retryable", kind)
		}
	}
	if NewError(KindBusiness, "p1", "getSlot", errors.New("boom")).Retryable() {
		t.Error("business errors must not be retryable")
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := NewError(KindRateLimited, "p1", "getSlot", errors.New("429"))
	wrapped := fmt.Errorf("call failed: %w", inner)

	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, KindRateLimited)
	}
	if got := KindOf(errors.New("bare")); got != KindNetwork {
		t.Errorf("KindOf(bare) = %s, want %s", got, KindNetwork)
	}
	if IsRetryable(fmt.Errorf("x: %w", NewError(KindBusiness, "p1", "m", errors.New("no")))) {
		t.Error("wrapped business error must not be retryable")
	}
}

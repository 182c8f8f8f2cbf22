package domain

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "network with status and cause",
			err:  NewNetworkError("GET /a", 502, errors.New("bad gateway")),
			want: "GET /a: network (HTTP 502): bad gateway",
		},
		{
			name: "transport failure without status",
			err:  NewNetworkError("GET /a", 0, errors.New("connection reset")),
			want: "GET /a: network: connection reset",
		},
		{
			name: "rate limited",
			err:  NewRateLimitedError("GET /a", 429, time.Second),
			want: "GET /a: rate_limited (HTTP 429)",
		},
		{
			name: "no op",
			err:  NewParseError("", errors.New("unexpected EOF")),
			want: "parse: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	e := NewFileSystemError("write", underlying)

	if !errors.Is(e, underlying) {
		t.Error("Error should unwrap to the underlying error")
	}

	wrapped := fmt.Errorf("outer: %w", e)
	if kind, ok := KindOf(wrapped); !ok || kind != KindFileSystem {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (filesystem, true)", kind, ok)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassFatal},
		{"transport failure", NewNetworkError("get", 0, errors.New("reset")), ClassTransient},
		{"server error", NewNetworkError("get", 500, nil), ClassTransient},
		{"not found", NewNetworkError("get", 404, nil), ClassFatal},
		{"forbidden", NewNetworkError("get", 403, nil), ClassFatal},
		{"too many requests", NewRateLimitedError("get", 429, time.Second), ClassTransient},
		{"service unavailable", NewRateLimitedError("get", 503, time.Second), ClassTransient},
		{"parse", NewParseError("decode", errors.New("bad json")), ClassFatal},
		{"invalid input", NewInvalidInputError("validate", errors.New("bad id")), ClassFatal},
		{"checksum", NewChecksumMismatchError("a.bin", "md5", "aa", "bb"), ClassFatal},
		{"filesystem permission", NewFileSystemError("open", syscall.EACCES), ClassFatal},
		{"disk full", NewFileSystemError("write", fmt.Errorf("write: %w", syscall.ENOSPC)), ClassTransient},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ClassTransient},
		{"cancelled", context.Canceled, ClassFatal},
		{"wrapped cancellation sentinel", fmt.Errorf("x: %w", ErrCancelled), ClassFatal},
		{"unknown", errors.New("boom"), ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantDuration time.Duration
		wantOk       bool
	}{
		{
			name:         "rate limited",
			err:          NewRateLimitedError("get", 429, 5*time.Minute),
			wantDuration: 5 * time.Minute,
			wantOk:       true,
		},
		{
			name:         "wrapped rate limited",
			err:          fmt.Errorf("wrapped: %w", NewRateLimitedError("get", 503, 30*time.Second)),
			wantDuration: 30 * time.Second,
			wantOk:       true,
		},
		{
			name:   "network error has no hint",
			err:    NewNetworkError("get", 500, nil),
			wantOk: false,
		},
		{
			name:   "nil error",
			err:    nil,
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			duration, ok := RetryAfterOf(tt.err)
			if duration != tt.wantDuration || ok != tt.wantOk {
				t.Errorf("RetryAfterOf() = (%v, %v), want (%v, %v)",
					duration, ok, tt.wantDuration, tt.wantOk)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("verify: %w", NewChecksumMismatchError("a", "md5", "1", "2"))
	if !IsKind(err, KindChecksumMismatch) {
		t.Error("IsKind should find checksum mismatch through wrapping")
	}
	if IsKind(err, KindNetwork) {
		t.Error("IsKind should not match a different kind")
	}
	if IsKind(errors.New("plain"), KindNetwork) {
		t.Error("IsKind should be false for untyped errors")
	}
}

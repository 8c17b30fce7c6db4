package httpclient

import (
	"errors"
	"testing"
	"time"
)

func TestFailedAfterRetriesErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *FailedAfterRetriesError
		expected string
	}{
		{
			name: "with_retry_after",
			err: &FailedAfterRetriesError{
				StatusCode: 429,
				Message:    "rate limit exceeded",
				RetryAfter: 30 * time.Second,
				Err:        errors.New("underlying"),
			},
			expected: "httpclient: HTTP 429: rate limit exceeded (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err: &FailedAfterRetriesError{
				StatusCode: 500,
				Message:    "internal server error",
				Err:        errors.New("underlying"),
			},
			expected: "httpclient: HTTP 500: internal server error",
		},
		{
			name: "millisecond_retry_after",
			err: &FailedAfterRetriesError{
				StatusCode: 429,
				Message:    "rate limit exceeded",
				RetryAfter: 1500 * time.Millisecond,
			},
			expected: "httpclient: HTTP 429: rate limit exceeded (retry after 1.5s)",
		},
		{
			name: "zero_status_code",
			err: &FailedAfterRetriesError{
				StatusCode: 0,
				Message:    "unknown error",
				RetryAfter: 5 * time.Second,
			},
			expected: "httpclient: HTTP 0: unknown error (retry after 5s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFailedAfterRetriesErrorUnwrap(t *testing.T) {
	root := errors.New("underlying error")
	err := &FailedAfterRetriesError{StatusCode: 429, Err: root}
	if got := err.Unwrap(); got != root {
		t.Errorf("Unwrap() = %v, want %v", got, root)
	}

	nilErr := &FailedAfterRetriesError{StatusCode: 500}
	if got := nilErr.Unwrap(); got != nil {
		t.Errorf("Unwrap() = %v, want nil", got)
	}
}

func TestFailedAfterRetriesErrorRetryable(t *testing.T) {
	err := &FailedAfterRetriesError{StatusCode: 503}
	if !err.Retryable() {
		t.Error("Retryable() should be true")
	}
}

func TestFailedAfterRetriesErrorChain(t *testing.T) {
	root := errors.New("root cause")
	wrapped := &FailedAfterRetriesError{StatusCode: 429, Attempts: 5, Err: root}

	if !errors.Is(wrapped, root) {
		t.Error("errors.Is should reach the root error")
	}

	var asErr *FailedAfterRetriesError
	if !errors.As(wrapped, &asErr) {
		t.Fatal("errors.As should match *FailedAfterRetriesError")
	}
	if asErr.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", asErr.Attempts)
	}
}

func TestFailedAfterRetriesErrorImplementsError(t *testing.T) {
	var err error = &FailedAfterRetriesError{StatusCode: 429, Message: "rate limited"}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

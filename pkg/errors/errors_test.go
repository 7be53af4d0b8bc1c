package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeNetwork,
				Operation: "get_block_count",
				Message:   "rpc failed",
				Cause:     errors.New("underlying error"),
			},
			expected: "network operation 'get_block_count' failed: rpc failed (caused by: underlying error)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeValidation,
				Operation: "split_headers",
				Message:   "invalid input",
			},
			expected: "validation operation 'split_headers' failed: invalid input",
		},
		{
			name: "context is rendered in key order",
			err: &ServiceError{
				Type:      ErrorTypeProof,
				Operation: "validate_header_chain",
				Message:   "broken chain",
				Context:   map[string]any{"z": 1, "a": "x"},
			},
			expected: "proof operation 'validate_header_chain' failed: broken chain [a=x z=1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Wrap(sentinel, ErrorTypeProof, "validate", "failed")

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the wrapped sentinel")
	}

	noCause := New(ErrorTypeNetwork, "test", "test")
	if noCause.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", noCause.Unwrap())
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeDatabase, "test", "test").
		WithContext("tx_hash", "abcd").
		WithContext("height", 42)

	if len(err.Context) != 2 {
		t.Fatalf("Expected 2 context items, got %d", len(err.Context))
	}
	if err.Context["tx_hash"] != "abcd" {
		t.Errorf("Expected tx_hash = 'abcd', got %v", err.Context["tx_hash"])
	}
	if err.Context["height"] != 42 {
		t.Errorf("Expected height = 42, got %v", err.Context["height"])
	}
}

func TestNew_Retryability(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeKafka, true},
		{ErrorTypeConfirmation, true},
		{ErrorTypeValidation, false},
		{ErrorTypeProof, false},
		{ErrorTypeBitcoin, false},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "msg")
			if err.Retryable != tt.retryable {
				t.Errorf("New(%s).Retryable = %v, want %v", tt.errorType, err.Retryable, tt.retryable)
			}
			if err.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrorTypeNetwork, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	t.Run("proof errors are never retryable", func(t *testing.T) {
		err := Wrap(errors.New("connection timeout"), ErrorTypeProof, "op", "msg")
		if err.Retryable {
			t.Error("proof error should not be retryable")
		}
	})

	t.Run("transient cause", func(t *testing.T) {
		err := Wrap(errors.New("dial tcp: connection refused"), ErrorTypeBitcoin, "op", "msg")
		if !err.Retryable {
			t.Error("connection refused should be retryable")
		}
	})

	t.Run("inherits from inner service error", func(t *testing.T) {
		inner := New(ErrorTypeConfirmation, "assemble", "not deep enough")
		err := Wrap(inner, ErrorTypeInternal, "outer", "msg")
		if !err.Retryable {
			t.Error("wrapper should inherit retryable flag")
		}
		if !IsType(err, ErrorTypeInternal) {
			t.Error("outermost type should win for IsType")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		err := Wrap(fmt.Errorf("call: %w", context.Canceled), ErrorTypeBitcoin, "op", "msg")
		if err.Retryable {
			t.Error("cancelled calls must not be retried")
		}
	})
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("invalid header")) {
		t.Error("plain error without transient marker should not be retryable")
	}
	if !IsRetryable(errors.New("read: connection reset by peer")) {
		t.Error("connection reset should be retryable")
	}
	if !IsRetryable(fmt.Errorf("outer: %w", New(ErrorTypeNetwork, "op", "msg"))) {
		t.Error("wrapped network ServiceError should be retryable")
	}
}

func TestGetContext(t *testing.T) {
	err := New(ErrorTypeProof, "op", "msg").WithContext("header_index", 3)
	ctx := GetContext(fmt.Errorf("wrapped: %w", err))
	if ctx["header_index"] != 3 {
		t.Errorf("GetContext() = %v, want header_index=3", ctx)
	}

	if GetContext(errors.New("plain")) != nil {
		t.Error("GetContext() should be nil for plain errors")
	}
}

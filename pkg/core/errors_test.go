package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	pre := NewPreconditionError("missing database", nil).WithCode(ErrCodeMissingResource)
	if !IsPrecondition(pre) {
		t.Error("IsPrecondition() = false")
	}
	if IsTransport(pre) || IsTimeout(pre) {
		t.Error("precondition error misclassified")
	}

	tr := NewTransportError("provider call failed", fmt.Errorf("connection reset"))
	if !IsTransport(tr) {
		t.Error("IsTransport() = false")
	}

	to := NewTimeoutError("query deadline exceeded", nil)
	if !IsTimeout(to) {
		t.Error("IsTimeout() = false")
	}
	if to.Code != ErrCodeTimeout {
		t.Errorf("timeout code = %q", to.Code)
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := fmt.Errorf("dial tcp: connection refused")
	err := NewTransportError("pool creation failed", inner).
		WithResource("rg/srv/pool-a").
		WithOperation("create")

	if !errors.Is(errors.Unwrap(err), inner) {
		t.Error("Unwrap() lost the original error")
	}

	msg := err.Error()
	for _, want := range []string{"transport", "pool-a", "create", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatal("errors.As failed")
	}
}

func TestBestEffort(t *testing.T) {
	err := NewTransportError("address resolution failed", nil).AsBestEffort()
	if !IsBestEffort(err) {
		t.Error("IsBestEffort() = false")
	}
	if IsFatal(err) {
		t.Error("best-effort error reported fatal")
	}
	if !IsFatal(NewTransportError("provider down", nil)) {
		t.Error("transport error not fatal")
	}
	if IsFatal(nil) {
		t.Error("nil reported fatal")
	}
}

package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := Preconditionf(CodeEmptyCart, "cannot commit an empty cart")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("precondition error does not match its kind")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("precondition error matches the wrong kind")
	}
	if CodeOf(err) != CodeEmptyCart {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeEmptyCart)
	}

	// Matching survives wrapping.
	wrapped := fmt.Errorf("commit: %w", err)
	if !errors.Is(wrapped, ErrPrecondition) || CodeOf(wrapped) != CodeEmptyCart {
		t.Fatalf("kind or code lost through wrapping")
	}
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable(cause)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("unavailable error does not match its kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
}

func TestFromCodeRebuildsKind(t *testing.T) {
	cases := []struct {
		code string
		kind error
	}{
		{CodeInvalidQuantity, ErrValidation},
		{CodeInvalidAllocation, ErrValidation},
		{CodeStockConflict, ErrConflict},
		{CodeNotFound, ErrNotFound},
		{CodeBackendUnavailable, ErrBackendUnavailable},
		{CodeCashSessionClosed, ErrPrecondition},
		{CodeCreditLimitExceeded, ErrPrecondition},
	}
	for _, tc := range cases {
		err := FromCode(tc.code, "remote rejection")
		if !errors.Is(err, tc.kind) {
			t.Fatalf("FromCode(%s) kind mismatch: %v", tc.code, err)
		}
		if CodeOf(err) != tc.code {
			t.Fatalf("FromCode(%s) lost the code", tc.code)
		}
		if MessageOf(err) != "remote rejection" {
			t.Fatalf("FromCode(%s) lost the message", tc.code)
		}
	}
}

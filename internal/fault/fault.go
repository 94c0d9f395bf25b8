// Package fault defines the error taxonomy shared by the terminal core.
// Every failure surfaced by the engine carries a kind (how the caller may
// react), a stable machine code, and a human-readable message.
package fault

import (
	"errors"
	"fmt"
)

// Kind sentinels, matched with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrPrecondition       = errors.New("precondition failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
)

// Machine reason codes. Stable strings: the UI keys inline messages off them.
const (
	CodeInvalidQuantity     = "invalid_quantity"
	CodeInvalidDiscount     = "invalid_discount"
	CodeInvalidAmount       = "invalid_amount"
	CodeInvalidInput        = "invalid_input"
	CodeEmptyCart           = "empty_cart"
	CodeCashSessionClosed   = "cash_session_closed"
	CodeSessionAlreadyOpen  = "session_already_open"
	CodeInvalidAllocation   = "invalid_allocation"
	CodeInsufficientStock   = "insufficient_stock"
	CodeCreditLimitExceeded = "credit_limit_exceeded"
	CodeWalkInAccount       = "walk_in_account_not_allowed"
	CodeCashBelowTotal      = "cash_below_total"
	CodeReasonRequired      = "reason_required"
	CodeSaleNotCancellable  = "sale_not_cancellable"
	CodeStockConflict       = "stock_conflict"
	CodeDuplicateSale       = "duplicate_sale"
	CodeNotFound            = "not_found"
	CodeBackendUnavailable  = "backend_unavailable"
)

type Error struct {
	kind    error
	Code    string
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

func (e *Error) Is(target error) bool { return target == e.kind }

func Validationf(code string, format string, args ...any) error {
	return &Error{kind: ErrValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Preconditionf(code string, format string, args ...any) error {
	return &Error{kind: ErrPrecondition, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(code string, format string, args ...any) error {
	return &Error{kind: ErrConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(code string, format string, args ...any) error {
	return &Error{kind: ErrNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transport or timeout error from the remote system.
// Callers may retry with backoff.
func Unavailable(err error) error {
	return &Error{
		kind:    ErrBackendUnavailable,
		Code:    CodeBackendUnavailable,
		Message: "backend unavailable",
		wrapped: err,
	}
}

// CodeOf extracts the machine code from an error, or "" if it carries none.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// MessageOf extracts the human-readable message, falling back to Error().
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// FromCode rebuilds a typed error from a wire code and message. Used by the
// HTTP backend client so remote rejections keep their kind across the wire.
func FromCode(code string, message string) error {
	if message == "" {
		message = code
	}
	e := &Error{Code: code, Message: message}
	switch code {
	case CodeInvalidQuantity, CodeInvalidDiscount, CodeInvalidAmount, CodeInvalidInput, CodeInvalidAllocation, CodeReasonRequired:
		e.kind = ErrValidation
	case CodeStockConflict, CodeDuplicateSale:
		e.kind = ErrConflict
	case CodeNotFound:
		e.kind = ErrNotFound
	case CodeBackendUnavailable:
		e.kind = ErrBackendUnavailable
	default:
		e.kind = ErrPrecondition
	}
	return e
}

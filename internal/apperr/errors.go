package apperr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindExternal    Kind = "external_service"
	KindUnavailable Kind = "service_unavailable"
	KindInternal    Kind = "internal"
)

// Code is a stable machine-readable reason.
type Code string

const (
	CodeInvalidAllocationInput  Code = "INVALID_ALLOCATION_INPUT"
	CodeEmptyCart               Code = "EMPTY_CART"
	CodeInsufficientBalance     Code = "INSUFFICIENT_BALANCE"
	CodeOverpaymentRejected     Code = "OVERPAYMENT_REJECTED"
	CodeSecondaryMethodRequired Code = "SECONDARY_METHOD_REQUIRED"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodePaymentRequired         Code = "PAYMENT_REQUIRED"
	CodeInvalidRequest          Code = "INVALID_REQUEST"
	CodeOrderNotFound           Code = "ORDER_NOT_FOUND"
	CodeCartNotFound            Code = "CART_NOT_FOUND"
	CodeAddressNotFound         Code = "ADDRESS_NOT_FOUND"
	CodeGatewayFailure          Code = "GATEWAY_FAILURE"
	CodeLedgerFailure           Code = "LEDGER_FAILURE"
	CodeTaxFailure              Code = "TAX_FAILURE"
	CodeDatastoreUnavailable    Code = "DATASTORE_UNAVAILABLE"
	CodeRequestInProgress       Code = "REQUEST_IN_PROGRESS"
	CodeIdempotencyKeyReused    Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal                Code = "INTERNAL"
)

// Error is the application error carried across package boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error without an underlying cause.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, code Code, format string, args ...interface{}) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and code to err, keeping a stack trace on the cause.
func Wrap(kind Kind, code Code, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: msg, Err: pkgerrors.WithStack(err)}
}

func Validation(code Code, msg string) *Error { return New(KindValidation, code, msg) }
func NotFound(code Code, msg string) *Error   { return New(KindNotFound, code, msg) }
func Conflict(code Code, msg string) *Error   { return New(KindConflict, code, msg) }

func External(code Code, err error, msg string) *Error {
	return Wrap(KindExternal, code, err, msg)
}

func Unavailable(err error, msg string) *Error {
	return Wrap(KindUnavailable, CodeDatastoreUnavailable, err, msg)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the status code surfaced to API callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package apperr defines the error taxonomy shared by the POS services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindIntegrity
	KindInsufficientStock
	KindForbidden
	KindNotFound
	KindInvalidTransition
	KindPaymentMethodUnknown
	KindConcurrentSettlement
)

var kindNames = map[Kind]string{
	KindInternal:             "internal_error",
	KindValidation:           "validation_error",
	KindConflict:             "conflict_error",
	KindIntegrity:            "integrity_error",
	KindInsufficientStock:    "insufficient_stock",
	KindForbidden:            "forbidden",
	KindNotFound:             "not_found",
	KindInvalidTransition:    "invalid_transition",
	KindPaymentMethodUnknown: "payment_method_unknown",
	KindConcurrentSettlement: "concurrent_settlement",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HTTPStatus maps a kind onto the response code used by the API
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindPaymentMethodUnknown:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInsufficientStock, KindInvalidTransition, KindConcurrentSettlement:
		return http.StatusConflict
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single concrete error type returned by services
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

// WithDetail attaches a key to the error details and returns the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrIntegrity            = &Error{Kind: KindIntegrity}
	ErrInsufficientStock    = &Error{Kind: KindInsufficientStock}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrPaymentMethodUnknown = &Error{Kind: KindPaymentMethodUnknown}
	ErrConcurrentSettlement = &Error{Kind: KindConcurrentSettlement}
)

func newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...interface{}) *Error {
	return newf(KindValidation, op, format, args...)
}

func Conflict(op, format string, args ...interface{}) *Error {
	return newf(KindConflict, op, format, args...)
}

// Integrity carries the name of the violated rule in Details["rule"]
func Integrity(op, rule, format string, args ...interface{}) *Error {
	return newf(KindIntegrity, op, format, args...).WithDetail("rule", rule)
}

func Forbidden(op, reason string) *Error {
	return newf(KindForbidden, op, "%s", reason).WithDetail("reason", reason)
}

func NotFound(op, format string, args ...interface{}) *Error {
	return newf(KindNotFound, op, format, args...)
}

func InvalidTransition(op, entity, from, to string) *Error {
	return newf(KindInvalidTransition, op, "%s cannot move from %s to %s", entity, from, to).
		WithDetail("from", from).
		WithDetail("to", to)
}

func InsufficientStock(op string, productID, requested, available int64) *Error {
	return newf(KindInsufficientStock, op, "insufficient stock for product %d: requested %d, available %d",
		productID, requested, available).
		WithDetail("product_id", productID).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

func PaymentMethodUnknown(op string, id int64) *Error {
	return newf(KindPaymentMethodUnknown, op, "payment method %d is unknown or inactive", id).
		WithDetail("payment_method_id", id)
}

func ConcurrentSettlement(op string, tableNumber int) *Error {
	return newf(KindConcurrentSettlement, op, "table %d was settled by another request", tableNumber).
		WithDetail("table_number", tableNumber)
}

// Internal wraps an infrastructure failure
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindInsufficientStock     Kind = "INSUFFICIENT_STOCK"
	KindIllegalTransition     Kind = "ILLEGAL_TRANSITION"
	KindAuthorizationMismatch Kind = "AUTHORIZATION_MISMATCH"
	KindAlreadyClaimed        Kind = "ALREADY_CLAIMED"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindInternal              Kind = "INTERNAL_ERROR"
)

// ErrVersionConflict is returned by stores when a guarded update loses against a
// concurrent writer. Services retry on it; it only escapes once retries are exhausted.
var ErrVersionConflict = errors.New("version conflict")

// AppError carries a Kind, a human message and structured details for the caller.
type AppError struct {
	Kind       Kind              `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any *AppError of the same Kind, so errors.Is(err, apperr.ErrAlreadyClaimed) works.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// WithDetail adds a single detail entry.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap attaches an underlying cause.
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// Kind-only sentinels for errors.Is comparisons.
var (
	ErrValidation            = &AppError{Kind: KindValidation}
	ErrInsufficientStock     = &AppError{Kind: KindInsufficientStock}
	ErrIllegalTransition     = &AppError{Kind: KindIllegalTransition}
	ErrAuthorizationMismatch = &AppError{Kind: KindAuthorizationMismatch}
	ErrAlreadyClaimed        = &AppError{Kind: KindAlreadyClaimed}
	ErrNotFound              = &AppError{Kind: KindNotFound}
	ErrConflict              = &AppError{Kind: KindConflict}
)

func newErr(kind Kind, status int, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg, HTTPStatus: status}
}

// Validation reports malformed input on a specific field.
func Validation(field, msg string) *AppError {
	return newErr(KindValidation, http.StatusBadRequest, msg).WithDetail("field", field)
}

// InsufficientStock reports a shortfall; available is what the caller could have had.
func InsufficientStock(productID string, requested, available int) *AppError {
	return newErr(KindInsufficientStock, http.StatusConflict, "insufficient stock").
		WithDetail("productId", productID).
		WithDetail("requested", strconv.Itoa(requested)).
		WithDetail("available", strconv.Itoa(available))
}

func IllegalTransition(current, attempted string) *AppError {
	return newErr(KindIllegalTransition, http.StatusConflict,
		fmt.Sprintf("cannot move from %s to %s", current, attempted)).
		WithDetail("currentStatus", current).
		WithDetail("attemptedStatus", attempted)
}

// AuthorizationMismatch never carries the expected value.
func AuthorizationMismatch(msg string) *AppError {
	return newErr(KindAuthorizationMismatch, http.StatusForbidden, msg)
}

func AlreadyClaimed(orderID, role string) *AppError {
	return newErr(KindAlreadyClaimed, http.StatusConflict, "order already assigned").
		WithDetail("orderId", orderID).
		WithDetail("role", role)
}

func NotFound(resource, id string) *AppError {
	return newErr(KindNotFound, http.StatusNotFound, resource+" not found").WithDetail("id", id)
}

func Conflict(msg string) *AppError {
	return newErr(KindConflict, http.StatusConflict, msg)
}

func Internal(err error) *AppError {
	return newErr(KindInternal, http.StatusInternalServerError, "an internal error occurred").Wrap(err)
}

// As extracts the *AppError from a chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	if errors.Is(err, ErrVersionConflict) {
		return KindConflict
	}
	return KindInternal
}

// FromError normalizes any error into an *AppError suitable for rendering.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		if ae.HTTPStatus == 0 {
			ae.HTTPStatus = http.StatusInternalServerError
		}
		return ae
	}
	if errors.Is(err, ErrVersionConflict) {
		return Conflict("concurrent update, retry").Wrap(err)
	}
	return Internal(err)
}

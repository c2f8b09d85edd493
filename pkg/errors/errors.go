package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the coarse error category every core operation reports.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeConflict     Code = "CONFLICT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeState        Code = "STATE"
	CodePermission   Code = "PERMISSION"
	CodeTransient    Code = "TRANSIENT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimit    Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Reason refines a Code with the domain condition that triggered it.
type Reason string

const (
	ReasonOutOfStock         Reason = "OUT_OF_STOCK"
	ReasonProductUnavailable Reason = "PRODUCT_UNAVAILABLE"
	ReasonSellerConflict     Reason = "SELLER_CONFLICT"
	ReasonInsufficientStock  Reason = "INSUFFICIENT_STOCK"
	ReasonAlreadyAssigned    Reason = "ALREADY_ASSIGNED"
	ReasonAlreadyRated       Reason = "ALREADY_RATED"
	ReasonInvalidTransition  Reason = "INVALID_TRANSITION"
	ReasonNoLongerPending    Reason = "NO_LONGER_PENDING"
)

var reasonCodes = map[Reason]Code{
	ReasonOutOfStock:         CodeConflict,
	ReasonProductUnavailable: CodeConflict,
	ReasonSellerConflict:     CodeConflict,
	ReasonInsufficientStock:  CodeConflict,
	ReasonAlreadyAssigned:    CodeConflict,
	ReasonAlreadyRated:       CodeConflict,
	ReasonInvalidTransition:  CodeState,
	ReasonNoLongerPending:    CodeState,
}

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeState: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodePermission: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "access denied",
		DetailsAllowed: false,
	},
	CodeTransient: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "temporarily unavailable, retry shortly",
		DetailsAllowed: false,
	},
	CodeUnauthorized: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "authentication required",
		DetailsAllowed: false,
	},
	CodeRateLimit: {
		HTTPStatus:     http.StatusTooManyRequests,
		Retryable:      true,
		PublicMessage:  "rate limit exceeded",
		DetailsAllowed: false,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// CodeForReason returns the category a reason belongs to.
func CodeForReason(reason Reason) Code {
	if code, ok := reasonCodes[reason]; ok {
		return code
	}
	return CodeInternal
}

type Error struct {
	code    Code
	reason  Reason
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// NewReason builds an error whose code is derived from the reason.
func NewReason(reason Reason, message string) *Error {
	return &Error{code: CodeForReason(reason), reason: reason, message: message}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Reason() Reason {
	if e == nil {
		return ""
	}
	return e.reason
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) WithReason(reason Reason) *Error {
	if e == nil {
		return nil
	}
	e.reason = reason
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.reason != "" {
		return fmt.Sprintf("%s/%s: %s", e.code, e.reason, e.message)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsReason reports whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	typed := As(err)
	return typed != nil && typed.reason == reason
}

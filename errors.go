package ucp

import (
	"errors"
	"net/http"
	"time"

	"github.com/sumup/ucp/ap2"
)

// ErrorType mirrors the UCP error.type field.
type ErrorType string

const (
	InvalidRequest     ErrorType = "invalid_request"     // Missing or malformed field.
	RequestConflict    ErrorType = "request_conflict"    // Request is valid but the session state forbids it.
	ProcessingError    ErrorType = "processing_error"    // Downstream commerce backend or network failure.
	RateLimitExceeded  ErrorType = "rate_limit_exceeded" // Too many requests.
	ServiceUnavailable ErrorType = "service_unavailable" // Temporary outage or maintenance.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	InvalidSignature     ErrorCode = "invalid_signature"     // Signature is missing or does not match the payload.
	SignatureRequired    ErrorCode = "signature_required"    // Signed requests are required but headers were missing.
	StaleTimestamp       ErrorCode = "stale_timestamp"       // Timestamp skew exceeded the allowed window.
	MissingAuthorization ErrorCode = "missing_authorization" // API key header missing.
	InvalidAuthorization ErrorCode = "invalid_authorization" // API key header malformed or API key invalid.

	NotFound               ErrorCode = "not_found"                // Checkout session does not exist.
	IllegalStateTransition ErrorCode = "illegal_state_transition" // Session status does not allow the operation.
	StateLocked            ErrorCode = "state_locked"             // Mandates were verified; checkout state is frozen.
	MandatesRequired       ErrorCode = "mandates_required"        // AP2 session completed without both mandates.
	ShippingAddressNeeded  ErrorCode = "shipping_address_required"
	OrderPlacementFailed   ErrorCode = "order_placement_failed" // Backend rejected the order; session requires escalation.
	BackendFailure         ErrorCode = "backend_error"          // Commerce backend returned an error.
)

// Error represents a structured UCP error payload.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   *string   `json:"param,omitempty"`
	// Details carries the commerce backend's error body when the gateway is
	// configured to expose it.
	Details map[string]any `json:"details,omitempty"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode is the HTTP status the payload is written with.
func (e *Error) StatusCode() int {
	if e == nil || e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

// ErrorOption customizes an [Error] built by the New*Error helpers.
type ErrorOption func(*Error)

// WithOffendingParam sets the JSON path for the field that triggered the error.
func WithOffendingParam(jsonPath string) ErrorOption {
	return func(er *Error) {
		er.Param = &jsonPath
	}
}

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) ErrorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) ErrorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// WithDetails attaches backend error details.
func WithDetails(details map[string]any) ErrorOption {
	return func(er *Error) {
		if len(details) > 0 {
			er.Details = details
		}
	}
}

// NewRateLimitExceededError builds a Too Many Requests UCP error payload.
func NewRateLimitExceededError(message string, opts ...ErrorOption) *Error {
	return newError(RateLimitExceeded, ErrorCode(RateLimitExceeded), message, append([]ErrorOption{WithStatusCode(http.StatusTooManyRequests)}, opts...)...)
}

// NewServiceUnavailableError builds a Service Unavailable UCP error payload.
func NewServiceUnavailableError(message string, opts ...ErrorOption) *Error {
	return newError(ServiceUnavailable, ErrorCode(ServiceUnavailable), message, append([]ErrorOption{WithStatusCode(http.StatusServiceUnavailable)}, opts...)...)
}

// NewInvalidRequestError builds a Bad Request UCP error payload.
func NewInvalidRequestError(message string, opts ...ErrorOption) *Error {
	return newError(InvalidRequest, ErrorCode(InvalidRequest), message, append([]ErrorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewProcessingError builds an Internal Server Error UCP error payload.
func NewProcessingError(message string, opts ...ErrorOption) *Error {
	return newError(ProcessingError, ErrorCode(ProcessingError), message, append([]ErrorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewNotFoundError reports an unknown checkout session.
func NewNotFoundError(message string, opts ...ErrorOption) *Error {
	return newError(InvalidRequest, NotFound, message, append([]ErrorOption{WithStatusCode(http.StatusNotFound)}, opts...)...)
}

// NewConflictError reports an operation the session's current state forbids.
func NewConflictError(code ErrorCode, message string, opts ...ErrorOption) *Error {
	return newError(RequestConflict, code, message, append([]ErrorOption{WithStatusCode(http.StatusConflict)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...ErrorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

// NewMandateError converts an AP2 verification failure into a payload whose
// code is the failure reason. Replays and missing nonces are conflicts,
// configuration problems are server errors and every other failure is a bad
// request.
func NewMandateError(err error) *Error {
	reason := ap2.ReasonOf(err)
	var opts []ErrorOption
	var verr *ap2.VerificationError
	if errors.As(err, &verr) {
		opts = append(opts, WithOffendingParam(string(verr.Mandate)))
	}
	switch reason {
	case ap2.ReasonAlreadyVerified, ap2.ReasonNonceMissing:
		return NewConflictError(ErrorCode(reason), err.Error(), opts...)
	case ap2.ReasonConfiguration, ap2.ReasonSigningConfig:
		return NewHTTPError(http.StatusInternalServerError, ProcessingError, ErrorCode(reason), "AP2 is not configured", opts...)
	default:
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, ErrorCode(reason), err.Error(), opts...)
	}
}

// newError builds a typed error payload matching the UCP schema.
func newError(typ ErrorType, code ErrorCode, message string, opts ...ErrorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}

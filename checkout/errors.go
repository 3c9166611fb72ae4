package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sumup/ucp"
	"github.com/sumup/ucp/ap2"
	"github.com/sumup/ucp/commerce"
	"github.com/sumup/ucp/session"
)

// backendError marks a failure returned by a commerce backend call.
type backendError struct {
	op  string
	err error
}

func (e *backendError) Error() string { return fmt.Sprintf("checkout: %s: %v", e.op, e.err) }

func (e *backendError) Unwrap() error { return e.err }

func wrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &backendError{op: op, err: err}
}

// toHTTPError translates errors from the session, ap2 and commerce packages
// into UCP error payloads. Errors it does not recognise are returned as is
// and end up as a generic 500.
func (s *Service) toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *ucp.Error
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var verr *ap2.VerificationError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ucp.NewNotFoundError("checkout session not found")
	case errors.Is(err, session.ErrStateLocked):
		return ucp.NewConflictError(ucp.StateLocked, "checkout state is locked after mandate verification")
	case errors.Is(err, session.ErrIllegalTransition):
		return ucp.NewConflictError(ucp.IllegalStateTransition, err.Error())
	case errors.As(err, &verr), ap2.ReasonOf(err) != ap2.ReasonUnknown:
		return ucp.NewMandateError(err)
	}

	var be *backendError
	if errors.As(err, &be) {
		return s.backendHTTPError(be, ucp.BackendFailure)
	}
	return err
}

func (s *Service) backendHTTPError(be *backendError, code ucp.ErrorCode) *ucp.Error {
	status := commerce.StatusOf(be.err)
	typ := ucp.ProcessingError
	switch {
	case errors.Is(be.err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case status == http.StatusServiceUnavailable:
		typ = ucp.ServiceUnavailable
	case status < http.StatusInternalServerError:
		typ = ucp.InvalidRequest
	}

	message, opts := s.backendDetails(be)
	return ucp.NewHTTPError(status, typ, code, message, opts...)
}

// placementError reports a failed order placement as a gateway error
// whatever status the backend returned, since the session is already
// escalated.
func (s *Service) placementError(err error) *ucp.Error {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	var be *backendError
	if !errors.As(err, &be) {
		return ucp.NewHTTPError(status, ucp.ProcessingError, ucp.OrderPlacementFailed, "order placement failed")
	}
	message, opts := s.backendDetails(be)
	return ucp.NewHTTPError(status, ucp.ProcessingError, ucp.OrderPlacementFailed, message, opts...)
}

func (s *Service) backendDetails(be *backendError) (string, []ucp.ErrorOption) {
	message := "commerce backend request failed"
	var opts []ucp.ErrorOption
	var cerr *commerce.Error
	if errors.As(be.err, &cerr) && cerr.Message != "" {
		message = cerr.Message
		if s.exposeBackendErrors {
			if details := cerr.Details(); details != nil {
				opts = append(opts, ucp.WithDetails(details))
			}
		}
	}
	return message, opts
}

package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumup/ucp"
	"github.com/sumup/ucp/ap2"
	"github.com/sumup/ucp/commerce"
	"github.com/sumup/ucp/session"
)

// CompleteSession verifies AP2 mandates when the session requires them and
// places the order.
//
// A completed session is returned as is, so repeating a successful call is
// safe. Mandates are consumed by the first successful verification: a retry
// from requires_escalation must not present them again.
func (s *Service) CompleteSession(ctx context.Context, id string, req ucp.CheckoutSessionCompleteRequest) (_ *ucp.CheckoutSession, err error) {
	ctx, done := s.track(ctx, "checkout.CompleteSession", id)
	defer func() { done(err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { unlock() }()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.toHTTPError(err)
	}

	switch st := rec.Status(); st {
	case session.StatusCompleted:
		return s.toSession(rec, ucp.NewInfoMessage(ucp.MessageCodeOrderPlaced, "Order placed successfully.")), nil
	case session.StatusCanceled, session.StatusCompleteInProgress:
		return nil, ucp.NewConflictError(ucp.IllegalStateTransition, fmt.Sprintf("checkout session is %s", st))
	case session.StatusIncomplete:
		return nil, ucp.NewConflictError(ucp.IllegalStateTransition,
			"checkout session is not ready for completion: buyer email, shipping address and shipping method are required")
	}

	if rec.AP2Activated {
		if err := s.verifyMandates(ctx, rec, req); err != nil {
			return nil, s.toHTTPError(err)
		}
	}

	if s.paymentMethod == "" {
		return s.escalate(ctx, rec, ucp.NewWarningMessage(ucp.MessageCodePaymentRequired,
			"Payment requires buyer handoff. Follow continue_url to complete in merchant checkout."))
	}
	address, err := storedAddress(rec)
	if err != nil || rec.BuyerEmail() == "" {
		return s.escalate(ctx, rec, ucp.NewWarningMessage(ucp.MessageCodeMissingCheckoutData,
			"Missing buyer email or shipping address. Continue in merchant checkout."))
	}

	if err := rec.Advance(session.StatusCompleteInProgress); err != nil {
		return nil, s.toHTTPError(err)
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	unlock()

	orderID, placeErr := s.placeOrder(ctx, rec, toBackendAddress(address, rec.BuyerEmail()))

	// The order outcome must be recorded even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	unlock, rec, err = s.reload(ctx, id)
	if err != nil {
		s.outcomeNotRecorded(ctx, id, orderID, placeErr, err)
		return nil, fmt.Errorf("checkout: reload session after order placement: %w", err)
	}
	if placeErr != nil {
		s.countOrder(ctx, "failed")
		s.logger.WarnContext(ctx, "order placement failed",
			slog.String("session_id", id),
			slog.Any("error", placeErr),
		)
		if err := rec.Advance(session.StatusRequiresEscalation); err != nil {
			return nil, s.toHTTPError(err)
		}
		rec.Touch(s.clock().UTC())
		if err := s.store.Put(ctx, rec); err != nil {
			s.outcomeNotRecorded(ctx, id, "", placeErr, err)
			return nil, fmt.Errorf("checkout: store session: %w", err)
		}
		return nil, s.placementError(placeErr)
	}

	if err := rec.MarkCompleted(orderID); err != nil {
		return nil, s.toHTTPError(err)
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		s.outcomeNotRecorded(ctx, id, orderID, nil, err)
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	s.countOrder(ctx, "placed")
	s.notify(ctx, id, orderID)
	return s.toSession(rec, ucp.NewInfoMessage(ucp.MessageCodeOrderPlaced, "Order placed successfully.")), nil
}

// reloadAttempts and reloadBackoff bound how hard CompleteSession tries to
// get the session back after placing an order.
var (
	reloadAttempts = 3
	reloadBackoff  = 100 * time.Millisecond
)

// reload reacquires the session lock and reads the record, retrying with a
// linear backoff. On success the caller owns the returned unlock.
func (s *Service) reload(ctx context.Context, id string) (func(), *session.Record, error) {
	var err error
	for attempt := range reloadAttempts {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * reloadBackoff)
		}
		lockCtx, cancel := s.backendContext(ctx)
		unlock, lockErr := s.lock(lockCtx, id)
		cancel()
		if lockErr != nil {
			err = lockErr
			continue
		}
		rec, getErr := s.store.Get(ctx, id)
		if getErr == nil {
			return unlock, rec, nil
		}
		unlock()
		err = getErr
		s.logger.WarnContext(ctx, "session reload after order placement failed",
			slog.String("session_id", id),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return func() {}, nil, err
}

// outcomeNotRecorded reports a session left in complete_in_progress with
// everything an operator needs to reconcile it against the backend.
func (s *Service) outcomeNotRecorded(ctx context.Context, id, orderID string, placeErr, err error) {
	attrs := []slog.Attr{
		slog.String("session_id", id),
		slog.String("status", string(session.StatusCompleteInProgress)),
		slog.Any("error", err),
	}
	if orderID != "" {
		attrs = append(attrs, slog.String("order_id", orderID))
	}
	if placeErr != nil {
		attrs = append(attrs, slog.Any("placement_error", placeErr))
	}
	attrs = append(attrs, ucp.RequestContextFromContext(ctx).LogAttrs()...)
	s.logger.LogAttrs(ctx, slog.LevelError, "order outcome not recorded, session needs reconciliation", attrs...)
}

// verifyMandates checks both mandates against the current checkout state
// and stamps the record on success. It persists the record so a later
// failure cannot undo the consumption.
func (s *Service) verifyMandates(ctx context.Context, rec *session.Record, req ucp.CheckoutSessionCompleteRequest) error {
	if rec.MandatesVerified() {
		if req.CheckoutMandate != nil || req.PaymentMandate != nil {
			return ap2.ErrAlreadyVerified
		}
		return nil
	}
	switch {
	case req.CheckoutMandate == nil:
		return ucp.NewInvalidRequestError("checkout_mandate and payment_mandate are required to complete this session",
			ucp.WithOffendingParam(string(ap2.CheckoutMandate)), withCode(ucp.MandatesRequired))
	case req.PaymentMandate == nil:
		return ucp.NewInvalidRequestError("checkout_mandate and payment_mandate are required to complete this session",
			ucp.WithOffendingParam(string(ap2.PaymentMandate)), withCode(ucp.MandatesRequired))
	}
	if rec.Nonce() == "" {
		return ap2.ErrNonceMissing
	}
	if s.verifier == nil {
		return fmt.Errorf("%w: no verification keys", ap2.ErrConfiguration)
	}

	s.audit(ctx, eventVerificationAttempt, rec.ID)
	if err := s.checkMandates(rec, req); err != nil {
		s.countVerification(ctx, "failed")
		s.audit(ctx, eventVerificationFailed, rec.ID, slog.String("reason", string(ap2.ReasonOf(err))))
		return err
	}

	if err := rec.MarkMandatesVerified(s.clock().UTC()); err != nil {
		return err
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("checkout: store session: %w", err)
	}
	s.countVerification(ctx, "success")
	s.audit(ctx, eventVerificationSuccess, rec.ID)
	return nil
}

func (s *Service) checkMandates(rec *session.Record, req ucp.CheckoutSessionCompleteRequest) error {
	checkoutToken, ok := req.CheckoutMandate.Token()
	if !ok {
		return &ap2.VerificationError{Mandate: ap2.CheckoutMandate, Err: ap2.ErrMalformedMandate}
	}
	paymentToken, ok := req.PaymentMandate.Token()
	if !ok {
		return &ap2.VerificationError{Mandate: ap2.PaymentMandate, Err: ap2.ErrMalformedMandate}
	}
	expectedHash, err := rec.Snapshot().Hash()
	if err != nil {
		return fmt.Errorf("checkout: hash checkout state: %w", err)
	}
	if _, err := s.verifier.VerifyCheckoutMandate(checkoutToken, expectedHash, rec.ID, rec.Nonce()); err != nil {
		return &ap2.VerificationError{Mandate: ap2.CheckoutMandate, Err: err}
	}
	if _, err := s.verifier.VerifyPaymentMandate(paymentToken); err != nil {
		return &ap2.VerificationError{Mandate: ap2.PaymentMandate, Err: err}
	}
	return nil
}

// escalate hands the session to the buyer through continue_url.
func (s *Service) escalate(ctx context.Context, rec *session.Record, msg ucp.Message) (*ucp.CheckoutSession, error) {
	if rec.Status() != session.StatusRequiresEscalation {
		if err := rec.Advance(session.StatusRequiresEscalation); err != nil {
			return nil, s.toHTTPError(err)
		}
		rec.Touch(s.clock().UTC())
		if err := s.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("checkout: store session: %w", err)
		}
	}
	return s.toSession(rec, msg), nil
}

func (s *Service) placeOrder(ctx context.Context, rec *session.Record, billing commerce.Address) (string, error) {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	orderID, err := s.backend.PlaceOrder(callCtx, rec.CartID, s.paymentMethod, rec.BuyerEmail(), billing)
	if err != nil {
		return "", wrapBackend("place order", err)
	}
	return orderID, nil
}

func (s *Service) notify(ctx context.Context, sessionID, orderID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderCreated(ctx, sessionID, orderID); err != nil {
		s.logger.WarnContext(ctx, "order notification failed",
			slog.String("session_id", sessionID),
			slog.String("order_id", orderID),
			slog.Any("error", err),
		)
	}
}

func withCode(code ucp.ErrorCode) ucp.ErrorOption {
	return func(e *ucp.Error) {
		e.Code = code
	}
}

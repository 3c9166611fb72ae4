package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumup/ucp"
	"github.com/sumup/ucp/ap2"
	"github.com/sumup/ucp/commerce"
	"github.com/sumup/ucp/session"
)

var (
	_ ucp.CheckoutProvider = (*Service)(nil)
	_ ucp.ProductSearcher  = (*Service)(nil)
	_ ucp.HealthChecker    = (*Service)(nil)
	_ ucp.SessionViewer    = (*Service)(nil)
)

// Service runs the checkout session workflow against a commerce backend.
type Service struct {
	backend commerce.Backend
	store   session.Store
	locks   session.Locker

	ap2      *ap2.Config
	signer   *ap2.Signer
	verifier *ap2.Verifier

	clock               func() time.Time
	nonceSource         io.Reader
	newID               func() string
	logger              *slog.Logger
	tracer              trace.Tracer
	meter               metric.Meter
	metrics             instruments
	paymentMethod       string
	backendTimeout      time.Duration
	baseURL             string
	exposeDebug         bool
	exposeBackendErrors bool
	notifier            OrderNotifier
}

// New builds a Service. cfg may be nil, which disables AP2. When AP2 is
// enabled the merchant signer and the mandate verifier are derived from cfg.
func New(backend commerce.Backend, cfg *ap2.Config, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("checkout: backend is required")
	}
	if cfg == nil {
		var err error
		if cfg, err = ap2.NewConfig(ap2.Settings{}); err != nil {
			return nil, err
		}
	}
	s := &Service{
		backend:        backend,
		store:          session.NewMemoryStore(),
		locks:          session.NewLocks(),
		ap2:            cfg,
		clock:          time.Now,
		nonceSource:    defaultNonceSource,
		newID:          uuid.NewString,
		logger:         slog.Default(),
		tracer:         otel.Tracer(instrumentationName),
		meter:          otel.Meter(instrumentationName),
		backendTimeout: DefaultBackendTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}

	metrics, err := newInstruments(s.meter)
	if err != nil {
		return nil, fmt.Errorf("checkout: create instruments: %w", err)
	}
	s.metrics = metrics

	if cfg.Enabled() {
		if s.signer, err = ap2.NewSignerFromConfig(cfg, ap2.WithSignerClock(s.clock)); err != nil {
			return nil, err
		}
		if s.verifier, err = ap2.NewVerifier(cfg, ap2.WithVerifierClock(s.clock)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateSession creates a backend cart holding the requested items and a
// session in incomplete.
func (s *Service) CreateSession(ctx context.Context, req ucp.CheckoutSessionCreateRequest) (_ *ucp.CheckoutSession, err error) {
	ctx, done := s.track(ctx, "checkout.CreateSession", "")
	defer func() { done(err) }()

	activate, err := s.wantsAP2(req.AP2)
	if err != nil {
		return nil, err
	}

	cartID, err := s.createCart(ctx, req.LineItems)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	totals, err := s.totals(ctx, cartID)
	if err != nil {
		return nil, s.toHTTPError(err)
	}

	items := make([]session.Item, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		items = append(items, session.Item{SKU: li.SKU, Quantity: li.Quantity})
	}
	rec := session.NewRecord(s.newID(), cartID, items, s.clock().UTC())
	rec.AP2Activated = activate
	if req.Buyer != nil && req.Buyer.Email != "" {
		if err := rec.SetBuyerEmail(req.Buyer.Email); err != nil {
			return nil, s.toHTTPError(err)
		}
	}
	if err := rec.SetTotals(totals); err != nil {
		return nil, s.toHTTPError(err)
	}
	if rec.AP2Activated {
		if err := s.attest(rec); err != nil {
			return nil, s.toHTTPError(err)
		}
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	return s.toSession(rec, ucp.NewInfoMessage(ucp.MessageCodeCreated, "Checkout session created.")), nil
}

func (s *Service) createCart(ctx context.Context, lines []ucp.LineItem) (string, error) {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	cartID, err := s.backend.CreateCart(callCtx)
	if err != nil {
		return "", wrapBackend("create cart", err)
	}
	for _, li := range lines {
		if err := s.backend.AddItem(callCtx, cartID, li.SKU, li.Quantity); err != nil {
			return "", wrapBackend("add item "+li.SKU, err)
		}
	}
	return cartID, nil
}

// GetSession returns the session with totals refreshed from the backend.
// Sessions that are terminal, placing an order or already verified are
// returned as stored. When the refreshed totals change the checkout state of
// an AP2 session, the state is signed again.
func (s *Service) GetSession(ctx context.Context, id string) (_ *ucp.CheckoutSession, err error) {
	ctx, done := s.track(ctx, "checkout.GetSession", id)
	defer func() { done(err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	if rec.Status().Terminal() || rec.Status() == session.StatusCompleteInProgress || rec.MandatesVerified() {
		return s.toSession(rec), nil
	}

	totals, err := s.totals(ctx, rec.CartID)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	if bytes.Equal(totals, rec.Totals()) {
		return s.toSession(rec), nil
	}
	if err := rec.SetTotals(totals); err != nil {
		return nil, s.toHTTPError(err)
	}
	hash, err := rec.Snapshot().Hash()
	if err != nil {
		return nil, fmt.Errorf("checkout: hash checkout state: %w", err)
	}
	// Totals that differ only in encoding leave the attested hash valid.
	if rec.AP2Activated && hash != rec.StateHash() {
		if err := s.attest(rec); err != nil {
			return nil, s.toHTTPError(err)
		}
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	return s.toSession(rec), nil
}

// ViewSession returns the stored session without contacting the backend.
func (s *Service) ViewSession(ctx context.Context, id string) (*ucp.CheckoutSession, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	return s.toSession(rec), nil
}

// UpdateSession applies buyer and shipping changes, then recomputes
// readiness. A new shipping address without a shipping method clears the
// previously selected method.
func (s *Service) UpdateSession(ctx context.Context, id string, req ucp.CheckoutSessionUpdateRequest) (_ *ucp.CheckoutSession, err error) {
	ctx, done := s.track(ctx, "checkout.UpdateSession", id)
	defer func() { done(err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	switch st := rec.Status(); {
	case st.Terminal(), st == session.StatusCompleteInProgress:
		return nil, ucp.NewConflictError(ucp.IllegalStateTransition, fmt.Sprintf("checkout session is %s", st))
	case rec.MandatesVerified():
		return nil, s.toHTTPError(session.ErrStateLocked)
	}
	activate, err := s.wantsAP2(req.AP2)
	if err != nil {
		return nil, err
	}
	if activate {
		rec.AP2Activated = true
	}

	var messages []ucp.Message
	if req.Buyer != nil && req.Buyer.Email != "" {
		if err := rec.SetBuyerEmail(req.Buyer.Email); err != nil {
			return nil, s.toHTTPError(err)
		}
		messages = append(messages, ucp.NewInfoMessage(ucp.MessageCodeBuyerUpdated, "Buyer email updated."))
	}

	refreshTotals := true
	if req.ShippingAddress != nil {
		address := toBackendAddress(*req.ShippingAddress, rec.BuyerEmail())
		if err := s.applyShippingAddress(ctx, rec, *req.ShippingAddress, address); err != nil {
			return nil, s.toHTTPError(err)
		}
		messages = append(messages, ucp.NewInfoMessage(ucp.MessageCodeShippingMethods,
			"Shipping methods estimated. Select one via shipping_method."))

		if req.ShippingMethod != nil {
			if err := s.applyShippingMethod(ctx, rec, address, *req.ShippingMethod); err != nil {
				return nil, s.toHTTPError(err)
			}
			refreshTotals = false
			messages = append(messages, ucp.NewInfoMessage(ucp.MessageCodeShippingSelected, "Shipping method selected."))
		} else if err := rec.SetShippingMethod(nil); err != nil {
			return nil, s.toHTTPError(err)
		}
	}
	if refreshTotals {
		totals, err := s.totals(ctx, rec.CartID)
		if err != nil {
			return nil, s.toHTTPError(err)
		}
		if err := rec.SetTotals(totals); err != nil {
			return nil, s.toHTTPError(err)
		}
	}

	next := session.StatusIncomplete
	if rec.Ready() {
		next = session.StatusReadyForComplete
	}
	if err := rec.Advance(next); err != nil {
		return nil, s.toHTTPError(err)
	}
	if rec.AP2Activated {
		if err := s.attest(rec); err != nil {
			return nil, s.toHTTPError(err)
		}
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	return s.toSession(rec, messages...), nil
}

func (s *Service) applyShippingAddress(ctx context.Context, rec *session.Record, in ucp.Address, address commerce.Address) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("checkout: encode shipping address: %w", err)
	}
	if err := rec.SetShippingAddress(raw); err != nil {
		return err
	}
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	methods, err := s.backend.EstimateShipping(callCtx, rec.CartID, address)
	if err != nil {
		return wrapBackend("estimate shipping", err)
	}
	rec.ShippingMethods = methods
	return nil
}

func (s *Service) applyShippingMethod(ctx context.Context, rec *session.Record, address commerce.Address, method ucp.ShippingMethod) error {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	totals, err := s.backend.SetShippingInformation(callCtx, rec.CartID, address, commerce.ShippingMethod{
		CarrierCode: method.CarrierCode,
		MethodCode:  method.MethodCode,
	})
	if err != nil {
		return wrapBackend("set shipping information", err)
	}
	if totals == nil {
		if totals, err = s.backend.GetTotals(callCtx, rec.CartID); err != nil {
			return wrapBackend("get totals", err)
		}
	}
	raw, err := json.Marshal(method)
	if err != nil {
		return fmt.Errorf("checkout: encode shipping method: %w", err)
	}
	if err := rec.SetShippingMethod(raw); err != nil {
		return err
	}
	return rec.SetTotals(totals)
}

// CancelSession moves the session to canceled. The backend cart is left
// untouched.
func (s *Service) CancelSession(ctx context.Context, id string) (_ *ucp.CheckoutSession, err error) {
	ctx, done := s.track(ctx, "checkout.CancelSession", id)
	defer func() { done(err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.toHTTPError(err)
	}
	if err := rec.Advance(session.StatusCanceled); err != nil {
		return nil, s.toHTTPError(err)
	}
	rec.Touch(s.clock().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkout: store session: %w", err)
	}
	return s.toSession(rec, ucp.NewInfoMessage(ucp.MessageCodeCanceled, "Session canceled.")), nil
}

// SearchProducts proxies catalog search to the backend.
func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]ucp.Product, error) {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	products, err := s.backend.SearchProducts(callCtx, query, limit)
	if err != nil {
		return nil, s.toHTTPError(wrapBackend("search products", err))
	}
	out := make([]ucp.Product, 0, len(products))
	for _, p := range products {
		out = append(out, ucp.Product{SKU: p.SKU, Name: p.Name})
	}
	return out, nil
}

// Ping checks that the backend is reachable.
func (s *Service) Ping(ctx context.Context) error {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	return s.backend.Ping(callCtx)
}

func (s *Service) totals(ctx context.Context, cartID string) (json.RawMessage, error) {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()
	totals, err := s.backend.GetTotals(callCtx, cartID)
	if err != nil {
		return nil, wrapBackend("get totals", err)
	}
	return totals, nil
}

func (s *Service) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.backendTimeout)
}

// wantsAP2 reports whether a session should carry AP2 attestation. An
// enabled gateway attests every session; asking for AP2 on a gateway
// without it is a client error.
func (s *Service) wantsAP2(req *ucp.AP2Request) (bool, error) {
	if s.ap2.Enabled() {
		return true, nil
	}
	if req != nil && req.Activated != nil && *req.Activated {
		return false, ucp.NewInvalidRequestError("AP2 is not enabled on this gateway", ucp.WithOffendingParam("ap2.activated"))
	}
	return false, nil
}

func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checkout: lock session %s: %w", id, err)
	}
	return unlock, nil
}

// attest signs the current checkout state of rec, generating the nonce on
// first use.
func (s *Service) attest(rec *session.Record) error {
	if s.signer == nil {
		return fmt.Errorf("%w: no merchant signing key", ap2.ErrSigningConfig)
	}
	nonce, err := rec.EnsureNonce(func() (string, error) { return ap2.NewNonce(s.nonceSource) })
	if err != nil {
		return err
	}
	hash, err := rec.Snapshot().Hash()
	if err != nil {
		return fmt.Errorf("checkout: hash checkout state: %w", err)
	}
	signature, err := s.signer.IssueCheckoutMandate(hash, rec.ID, nonce)
	if err != nil {
		return err
	}
	return rec.Attest(hash, signature)
}

package ucp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// CheckoutProvider is implemented by business logic that owns checkout sessions.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutSessionCreateRequest) (*CheckoutSession, error)
	UpdateSession(ctx context.Context, id string, req CheckoutSessionUpdateRequest) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*CheckoutSession, error)
	CompleteSession(ctx context.Context, id string, req CheckoutSessionCompleteRequest) (*CheckoutSession, error)
	CancelSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// ProductSearcher is implemented by providers that can suggest SKUs.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]Product, error)
}

// HealthChecker is implemented by providers that can probe their commerce
// backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SessionViewer returns the stored session without contacting the commerce
// backend. The continue page prefers it over GetSession.
type SessionViewer interface {
	ViewSession(ctx context.Context, id string) (*CheckoutSession, error)
}

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
)

// CheckoutHandler wires UCP checkout routes to a [CheckoutProvider].
type CheckoutHandler struct {
	service CheckoutProvider
	mux     *http.ServeMux
	cfg     config
}

// NewCheckoutHandler builds a [CheckoutHandler] backed by net/http's ServeMux.
func NewCheckoutHandler(service CheckoutProvider, opts ...Option) *CheckoutHandler {
	if service == nil {
		panic("checkout: service is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.requireSignedRequests && cfg.signatureVerifier == nil {
		panic("checkout: signature verifier required when signed requests are enforced")
	}
	h := &CheckoutHandler{
		service: service,
		mux:     http.NewServeMux(),
		cfg:     cfg,
	}
	h.registerRoutes(protectedMiddleware(cfg)...)
	return h
}

// protectedMiddleware orders the chain so that requests are authenticated
// before they consume rate limit tokens or have signatures checked. The last
// element of the slice is the outermost wrapper.
func protectedMiddleware(cfg config) []Middleware {
	var middleware []Middleware
	middleware = append(middleware, cfg.middleware...)
	if mw := newSignatureMiddleware(signatureMiddlewareConfig{
		Verifier:      cfg.signatureVerifier,
		RequireSigned: cfg.requireSignedRequests,
		MaxClockSkew:  cfg.maxClockSkew,
		Clock:         cfg.clock,
	}); mw != nil {
		middleware = append(middleware, mw)
	}
	if mw := newRateLimitMiddleware(cfg.rateLimit, cfg.clock); mw != nil {
		middleware = append(middleware, mw)
	}
	if mw := newAuthenticationMiddleware(cfg.authenticator, cfg.apiKeyHeader); mw != nil {
		middleware = append(middleware, mw)
	}
	return middleware
}

// ServeHTTP satisfies http.Handler.
func (h *CheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, withRequestContext(w, r))
}

func (h *CheckoutHandler) registerRoutes(protected ...Middleware) {
	h.mux.HandleFunc("POST /checkout-sessions", applyMiddleware(h.handleCreate, protected...))
	h.mux.HandleFunc("GET /checkout-sessions/{id}", applyMiddleware(h.handleGet, protected...))
	h.mux.HandleFunc("PUT /checkout-sessions/{id}", applyMiddleware(h.handleUpdate, protected...))
	h.mux.HandleFunc("POST /checkout-sessions/{id}/complete", applyMiddleware(h.handleComplete, protected...))
	h.mux.HandleFunc("POST /checkout-sessions/{id}/cancel", applyMiddleware(h.handleCancel, protected...))

	h.mux.HandleFunc("GET /health", h.handleHealth)
	if checker, ok := h.service.(HealthChecker); ok {
		h.mux.HandleFunc("GET /health/backend", applyMiddleware(h.backendHealth(checker), protected...))
	}
	if searcher, ok := h.service.(ProductSearcher); ok {
		h.mux.HandleFunc("GET /products/search", applyMiddleware(h.productSearch(searcher), protected...))
	}
	if h.cfg.profile != nil {
		h.mux.HandleFunc("GET /.well-known/ucp", h.handleProfile)
	}
	if h.cfg.checkoutURL != "" {
		h.mux.HandleFunc("GET /continue/{id}", h.handleContinue)
	}
}

func (h *CheckoutHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CheckoutSessionCreateRequest
	if httpErr := decodeJSON(r.Body, &req); httpErr != nil {
		writeJSONError(w, httpErr)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	session, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *CheckoutHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *CheckoutHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	var req CheckoutSessionUpdateRequest
	if httpErr := decodeJSON(r.Body, &req); httpErr != nil {
		writeJSONError(w, httpErr)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	session, err := h.service.UpdateSession(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *CheckoutHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	var req CheckoutSessionCompleteRequest
	if httpErr := decodeJSON(r.Body, &req); httpErr != nil {
		writeJSONError(w, httpErr)
		return
	}
	session, err := h.service.CompleteSession(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *CheckoutHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("checkout_session_id is required"))
		return
	}
	session, err := h.service.CancelSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *CheckoutHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *CheckoutHandler) backendHealth(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Ping(r.Context()); err != nil {
			var httpErr *Error
			if errors.As(err, &httpErr) {
				writeJSONError(w, httpErr)
				return
			}
			h.cfg.logger.WarnContext(r.Context(), "backend health check failed", slog.Any("error", err))
			writeJSONError(w, NewServiceUnavailableError("commerce backend is unreachable"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (h *CheckoutHandler) productSearch(searcher ProductSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("query"))
		if query == "" {
			writeJSON(w, http.StatusOK, ProductSearchResponse{Items: []Product{}})
			return
		}
		items, err := searcher.SearchProducts(r.Context(), query, searchLimit(r.URL.Query().Get("limit")))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if items == nil {
			items = []Product{}
		}
		writeJSON(w, http.StatusOK, ProductSearchResponse{Items: items})
	}
}

// searchLimit clamps the limit query parameter to [1, 20], defaulting to 5
// when absent or not a number.
func searchLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultSearchLimit
	}
	return min(max(n, 1), maxSearchLimit)
}

func (h *CheckoutHandler) handleProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.profile)
}

func (h *CheckoutHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *Error
	if !errors.As(err, &httpErr) {
		attrs := append([]slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		}, RequestContextFromContext(r.Context()).LogAttrs()...)
		h.cfg.logger.LogAttrs(r.Context(), slog.LevelError, "checkout provider failed", attrs...)
	}
	writeServiceError(w, err)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		writeJSONError(w, httpErr)
		return
	}
	writeJSONError(w, NewInvalidRequestError(err.Error()))
}

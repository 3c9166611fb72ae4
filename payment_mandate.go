package ucp

import (
	"context"
	"net/http"
)

// PaymentMandateProvider issues payment mandates. Payment processors
// implement it on top of their authorization flow and an ap2 signer.
type PaymentMandateProvider interface {
	IssuePaymentMandate(ctx context.Context, req PaymentMandateRequest) (*PaymentMandateResponse, error)
}

// PaymentMandateHandler exposes payment mandate issuance over net/http.
type PaymentMandateHandler struct {
	service PaymentMandateProvider
	mux     *http.ServeMux
	cfg     config
}

// NewPaymentMandateHandler wires POST /ap2/payment-mandates to the provided
// [PaymentMandateProvider].
func NewPaymentMandateHandler(service PaymentMandateProvider, opts ...Option) *PaymentMandateHandler {
	if service == nil {
		panic("paymentmandate: service is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.requireSignedRequests && cfg.signatureVerifier == nil {
		panic("paymentmandate: signature verifier required when signed requests are enforced")
	}
	h := &PaymentMandateHandler{
		service: service,
		mux:     http.NewServeMux(),
		cfg:     cfg,
	}
	h.mux.HandleFunc("POST /ap2/payment-mandates", applyMiddleware(h.handleIssue, protectedMiddleware(cfg)...))
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *PaymentMandateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, withRequestContext(w, r))
}

func (h *PaymentMandateHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req PaymentMandateRequest
	if httpErr := decodeJSON(r.Body, &req); httpErr != nil {
		writeJSONError(w, httpErr)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	resp, err := h.service.IssuePaymentMandate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

package ucp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCheckoutHandlerRoutes(t *testing.T) {
	t.Parallel()

	session := &CheckoutSession{
		ID:          "cs_123",
		Status:      CheckoutSessionStatusIncomplete,
		ContinueURL: "https://gateway.example/continue/cs_123",
		LineItems:   []LineItem{{SKU: "mug", Quantity: 1}},
		Totals:      json.RawMessage(`{"grand_total":15}`),
		Messages:    []Message{NewInfoMessage(MessageCodeCreated, "Checkout session created.")},
	}

	completed := &CheckoutSession{
		ID:        session.ID,
		Status:    CheckoutSessionStatusCompleted,
		LineItems: session.LineItems,
		Messages:  []Message{NewInfoMessage(MessageCodeOrderPlaced, "Order placed.")},
		Order:     &Order{ID: "000000042", CheckoutSessionID: "cs_123"},
	}

	tests := map[string]struct {
		method     string
		path       string
		body       any
		setupStub  func(*stubService)
		wantStatus int
	}{
		"create session": {
			method: http.MethodPost,
			path:   "/checkout-sessions",
			body: CheckoutSessionCreateRequest{
				LineItems: []LineItem{{SKU: "mug", Quantity: 1}},
			},
			setupStub: func(s *stubService) {
				s.create = func(ctx context.Context, req CheckoutSessionCreateRequest) (*CheckoutSession, error) {
					if len(req.LineItems) != 1 {
						t.Fatalf("expected 1 item")
					}
					return session, nil
				}
			},
			wantStatus: http.StatusCreated,
		},
		"get session": {
			method: http.MethodGet,
			path:   "/checkout-sessions/cs_123",
			setupStub: func(s *stubService) {
				s.get = func(ctx context.Context, id string) (*CheckoutSession, error) {
					if id != "cs_123" {
						t.Fatalf("unexpected id %s", id)
					}
					return session, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		"update session": {
			method: http.MethodPut,
			path:   "/checkout-sessions/cs_123",
			body: CheckoutSessionUpdateRequest{
				Buyer: &Buyer{Email: "ada@example.com"},
			},
			setupStub: func(s *stubService) {
				s.update = func(ctx context.Context, id string, req CheckoutSessionUpdateRequest) (*CheckoutSession, error) {
					if id != "cs_123" {
						t.Fatalf("unexpected id %s", id)
					}
					if req.Buyer == nil || req.Buyer.Email != "ada@example.com" {
						t.Fatalf("unexpected buyer %+v", req.Buyer)
					}
					return session, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		"complete session": {
			method: http.MethodPost,
			path:   "/checkout-sessions/cs_123/complete",
			body: CheckoutSessionCompleteRequest{
				CheckoutMandate: NewMandate("a.b.c"),
				PaymentMandate:  NewMandate("d.e.f"),
			},
			setupStub: func(s *stubService) {
				s.complete = func(ctx context.Context, id string, req CheckoutSessionCompleteRequest) (*CheckoutSession, error) {
					if token, ok := req.CheckoutMandate.Token(); !ok || token != "a.b.c" {
						t.Fatalf("unexpected checkout mandate %q", token)
					}
					return completed, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		"complete session without mandates": {
			method: http.MethodPost,
			path:   "/checkout-sessions/cs_123/complete",
			body:   map[string]any{},
			setupStub: func(s *stubService) {
				s.complete = func(ctx context.Context, id string, req CheckoutSessionCompleteRequest) (*CheckoutSession, error) {
					if req.CheckoutMandate != nil || req.PaymentMandate != nil {
						t.Fatalf("expected no mandates")
					}
					return completed, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		"cancel session": {
			method: http.MethodPost,
			path:   "/checkout-sessions/cs_123/cancel",
			setupStub: func(s *stubService) {
				s.cancel = func(ctx context.Context, id string) (*CheckoutSession, error) {
					return session, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		"health": {
			method:     http.MethodGet,
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stub := &stubService{}
			if tt.setupStub != nil {
				tt.setupStub(stub)
			}
			handler := NewCheckoutHandler(stub)
			var bodyReader *bytes.Reader
			if tt.body != nil {
				payload, err := json.Marshal(tt.body)
				if err != nil {
					t.Fatalf("marshal body: %v", err)
				}
				bodyReader = bytes.NewReader(payload)
			} else {
				bodyReader = bytes.NewReader(nil)
			}
			req := httptest.NewRequest(tt.method, tt.path, bodyReader)
			if tt.body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d got %d, body=%s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("API-Version"); got != APIVersion {
				t.Fatalf("missing API-Version header")
			}
			if rec.Header().Get("Request-Id") == "" {
				t.Fatalf("missing Request-Id header")
			}
		})
	}
}

func TestCheckoutHandlerErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{
			create: func(ctx context.Context, req CheckoutSessionCreateRequest) (*CheckoutSession, error) {
				return &CheckoutSession{}, nil
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/checkout-sessions", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		req := httptest.NewRequest(http.MethodPost, "/checkout-sessions", strings.NewReader(`{"line_items":[{"sku":"mug","quantity":1}],"coupon":"x"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"param":"$.coupon"`) {
			t.Fatalf("expected coupon param, got %s", rec.Body.String())
		}
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Fatalf("expected no-store got %q", got)
		}
	})

	t.Run("validation error names the field", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		req := httptest.NewRequest(http.MethodPost, "/checkout-sessions", strings.NewReader(`{"line_items":[{"sku":"mug","quantity":0}]}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		var payload Error
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if payload.Param == nil || *payload.Param != "line_items[0].quantity" {
			t.Fatalf("unexpected param %v", payload.Param)
		}
	})

	t.Run("shipping method without address", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		req := httptest.NewRequest(http.MethodPut, "/checkout-sessions/cs_123", strings.NewReader(`{"shipping_method":{"carrier_code":"flatrate","method_code":"flatrate"}}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		if want, got := string(ShippingAddressNeeded), getErrorCode(rec.Body.Bytes()); want != got {
			t.Fatalf("expected code %s got %s", want, got)
		}
	})

	t.Run("mandate of wrong type", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		req := httptest.NewRequest(http.MethodPost, "/checkout-sessions/cs_123/complete", strings.NewReader(`{"checkout_mandate":42}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
	})

	t.Run("service error surfaces", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{
			get: func(ctx context.Context, id string) (*CheckoutSession, error) {
				return nil, NewNotFoundError("checkout session not found")
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/checkout-sessions/unknown", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 got %d", rec.Code)
		}
		if want, got := string(NotFound), getErrorCode(rec.Body.Bytes()); want != got {
			t.Fatalf("expected code %s got %s", want, got)
		}
	})

	t.Run("unexpected error is hidden", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{
			cancel: func(ctx context.Context, id string) (*CheckoutSession, error) {
				return nil, errors.New("redis: connection refused")
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/checkout-sessions/cs_123/cancel", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500 got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "redis") {
			t.Fatalf("internal error leaked: %s", rec.Body.String())
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		req := httptest.NewRequest(http.MethodGet, "/checkout-sessions", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 got %d", rec.Code)
		}
	})

	t.Run("optional routes absent", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&stubService{})
		for _, path := range []string{"/products/search?query=mug", "/health/backend", "/.well-known/ucp", "/continue/cs_123"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("%s: expected 404 got %d", path, rec.Code)
			}
		}
	})
}

func TestProductSearch(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query     string
		wantLimit int
		wantCall  bool
	}{
		"default limit":        {query: "?query=mug", wantLimit: 5, wantCall: true},
		"clamped high":         {query: "?query=mug&limit=500", wantLimit: 20, wantCall: true},
		"clamped low":          {query: "?query=mug&limit=0", wantLimit: 1, wantCall: true},
		"non-numeric limit":    {query: "?query=mug&limit=lots", wantLimit: 5, wantCall: true},
		"blank query is empty": {query: "?query=%20%20", wantCall: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			called := false
			stub := &searchStub{search: func(ctx context.Context, query string, limit int) ([]Product, error) {
				called = true
				if query != "mug" {
					t.Fatalf("unexpected query %q", query)
				}
				if limit != tt.wantLimit {
					t.Fatalf("expected limit %d got %d", tt.wantLimit, limit)
				}
				return []Product{{SKU: "mug", Name: "Stoneware Mug"}}, nil
			}}
			handler := NewCheckoutHandler(stub)
			req := httptest.NewRequest(http.MethodGet, "/products/search"+tt.query, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200 got %d", rec.Code)
			}
			if called != tt.wantCall {
				t.Fatalf("expected call=%v got %v", tt.wantCall, called)
			}
			var resp ProductSearchResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Items == nil {
				t.Fatalf("items must be an array")
			}
		})
	}
}

func TestBackendHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&searchStub{})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/backend", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		handler := NewCheckoutHandler(&searchStub{ping: func(context.Context) error {
			return errors.New("dial tcp: connection refused")
		}})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/backend", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 got %d", rec.Code)
		}
	})
}

func TestDiscoveryProfile(t *testing.T) {
	t.Parallel()

	profile := NewProfile("https://gateway.example/", "Demo Merchant", true, []string{"sd-jwt"})
	handler := NewCheckoutHandler(&stubService{}, WithDiscoveryProfile(profile),
		WithAuthenticator(StaticAPIKey("secret")))

	req := httptest.NewRequest(http.MethodGet, "/.well-known/ucp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["protocol"] != "UCP" || got["version"] != APIVersion {
		t.Fatalf("unexpected header fields %v", got)
	}
	services := got["services"].(map[string]any)
	if services[RESTEndpointService] != "https://gateway.example" {
		t.Fatalf("unexpected services %v", services)
	}
	caps := got["capabilities"].([]any)
	endpoints := caps[0].(map[string]any)["endpoints"].(map[string]any)
	if endpoints["complete"] != "https://gateway.example/checkout-sessions/{id}/complete" {
		t.Fatalf("unexpected endpoints %v", endpoints)
	}
	ext := got["extensions"].(map[string]any)["ap2"].(map[string]any)
	if ext["supported"] != true || len(ext["supported_vp_formats"].([]any)) != 1 {
		t.Fatalf("unexpected ap2 extension %v", ext)
	}
}

func TestNewProfileWithoutAP2(t *testing.T) {
	t.Parallel()

	profile := NewProfile("https://gateway.example", "Demo", false, []string{"sd-jwt"})
	if profile.Extensions.AP2.Supported {
		t.Fatalf("expected ap2 unsupported")
	}
	if profile.Extensions.AP2.SupportedVPFormats == nil || len(profile.Extensions.AP2.SupportedVPFormats) != 0 {
		t.Fatalf("expected empty formats, got %v", profile.Extensions.AP2.SupportedVPFormats)
	}
}

func TestContinuePage(t *testing.T) {
	t.Parallel()

	viewed := false
	stub := &viewerStub{view: func(ctx context.Context, id string) (*CheckoutSession, error) {
		viewed = true
		return &CheckoutSession{
			ID:        id,
			Status:    CheckoutSessionStatusIncomplete,
			LineItems: []LineItem{{SKU: `<script>alert(1)</script>`, Quantity: 2}},
			Debug:     &Debug{CartID: "masked123", UpdatedAt: time.Now()},
		}, nil
	}}
	handler := NewCheckoutHandler(stub, WithCheckoutURL("https://shop.example/checkout"))

	req := httptest.NewRequest(http.MethodGet, "/continue/cs_123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !viewed {
		t.Fatalf("expected ViewSession to be used")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %s", ct)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<script>") {
		t.Fatalf("sku not escaped: %s", body)
	}
	for _, want := range []string{"cs_123", "masked123", `href="https://shop.example/checkout"`, "&times; 2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q: %s", want, body)
		}
	}
}

func TestContinuePageUnknownSession(t *testing.T) {
	t.Parallel()

	handler := NewCheckoutHandler(&stubService{
		get: func(ctx context.Context, id string) (*CheckoutSession, error) {
			return nil, NewNotFoundError("checkout session not found")
		},
	}, WithCheckoutURL("https://shop.example/checkout"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/continue/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

type stubService struct {
	create   func(context.Context, CheckoutSessionCreateRequest) (*CheckoutSession, error)
	update   func(context.Context, string, CheckoutSessionUpdateRequest) (*CheckoutSession, error)
	get      func(context.Context, string) (*CheckoutSession, error)
	complete func(context.Context, string, CheckoutSessionCompleteRequest) (*CheckoutSession, error)
	cancel   func(context.Context, string) (*CheckoutSession, error)
}

func (s *stubService) CreateSession(ctx context.Context, req CheckoutSessionCreateRequest) (*CheckoutSession, error) {
	if s.create != nil {
		return s.create(ctx, req)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "create not implemented")
}

func (s *stubService) UpdateSession(ctx context.Context, id string, req CheckoutSessionUpdateRequest) (*CheckoutSession, error) {
	if s.update != nil {
		return s.update(ctx, id, req)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "update not implemented")
}

func (s *stubService) GetSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "get not implemented")
}

func (s *stubService) CompleteSession(ctx context.Context, id string, req CheckoutSessionCompleteRequest) (*CheckoutSession, error) {
	if s.complete != nil {
		return s.complete(ctx, id, req)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "complete not implemented")
}

func (s *stubService) CancelSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s.cancel != nil {
		return s.cancel(ctx, id)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "cancel not implemented")
}

type searchStub struct {
	stubService
	search func(context.Context, string, int) ([]Product, error)
	ping   func(context.Context) error
}

func (s *searchStub) SearchProducts(ctx context.Context, query string, limit int) ([]Product, error) {
	if s.search != nil {
		return s.search(ctx, query, limit)
	}
	return nil, nil
}

func (s *searchStub) Ping(ctx context.Context) error {
	if s.ping != nil {
		return s.ping(ctx)
	}
	return nil
}

type viewerStub struct {
	stubService
	view func(context.Context, string) (*CheckoutSession, error)
}

func (s *viewerStub) ViewSession(ctx context.Context, id string) (*CheckoutSession, error) {
	return s.view(ctx, id)
}

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

func TestPaymentMandateHandler(t *testing.T) {
	t.Parallel()

	reqPayload := samplePaymentMandateRequest()
	service := &paymentMandateStubService{
		issue: func(ctx context.Context, req PaymentMandateRequest) (*PaymentMandateResponse, error) {
			if req.Allowance.MerchantID != "acme" {
				t.Fatalf("unexpected merchant id %s", req.Allowance.MerchantID)
			}
			if req.Allowance.CheckoutSessionID != "cs_123" {
				t.Fatalf("unexpected session id %s", req.Allowance.CheckoutSessionID)
			}
			if RequestContextFromContext(ctx) == nil {
				t.Fatalf("expected request context")
			}
			now := time.Now().UTC()
			return &PaymentMandateResponse{
				ID:        "pm_123",
				Mandate:   "header.payload.sig",
				Created:   now,
				ExpiresAt: now.Add(5 * time.Minute),
				Metadata:  map[string]string{"source": "test"},
			}, nil
		},
	}
	handler := NewPaymentMandateHandler(service)

	body, err := json.Marshal(reqPayload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ap2/payment-mandates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("API-Version"); got != APIVersion {
		t.Fatalf("expected API-Version header %s got %s", APIVersion, got)
	}
	var resp PaymentMandateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "pm_123" || resp.Mandate != "header.payload.sig" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaymentMandateHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate     func(*PaymentMandateRequest)
		rawBody    string
		service    func(context.Context, PaymentMandateRequest) (*PaymentMandateResponse, error)
		wantStatus int
		wantParam  string
	}{
		"invalid json": {
			rawBody:    "{",
			wantStatus: http.StatusBadRequest,
		},
		"unsupported payment method": {
			mutate: func(r *PaymentMandateRequest) {
				r.PaymentMethod.Type = "crypto"
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "payment_method.type",
		},
		"missing token": {
			mutate: func(r *PaymentMandateRequest) {
				r.PaymentMethod.Token = ""
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "payment_method.token",
		},
		"invalid last4": {
			mutate: func(r *PaymentMandateRequest) {
				last4 := "42a"
				r.PaymentMethod.DisplayLast4 = &last4
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "payment_method.display_last4",
		},
		"uppercase currency": {
			mutate: func(r *PaymentMandateRequest) {
				r.Allowance.Currency = "EUR"
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "allowance.currency",
		},
		"zero amount": {
			mutate: func(r *PaymentMandateRequest) {
				r.Allowance.MaxAmount = 0
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "allowance.max_amount",
		},
		"missing checkout session": {
			mutate: func(r *PaymentMandateRequest) {
				r.Allowance.CheckoutSessionID = ""
			},
			wantStatus: http.StatusBadRequest,
			wantParam:  "allowance.checkout_session_id",
		},
		"provider error": {
			service: func(ctx context.Context, req PaymentMandateRequest) (*PaymentMandateResponse, error) {
				return nil, NewHTTPError(http.StatusPaymentRequired, ProcessingError, ErrorCode("card_declined"), "card declined")
			},
			wantStatus: http.StatusPaymentRequired,
		},
		"unexpected provider error": {
			service: func(ctx context.Context, req PaymentMandateRequest) (*PaymentMandateResponse, error) {
				return nil, errors.New("hsm offline")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			service := successService()
			if tt.service != nil {
				service.issue = tt.service
			}
			handler := NewPaymentMandateHandler(service)

			var body []byte
			if tt.rawBody != "" {
				body = []byte(tt.rawBody)
			} else {
				payload := samplePaymentMandateRequest()
				if tt.mutate != nil {
					tt.mutate(&payload)
				}
				var err error
				body, err = json.Marshal(payload)
				if err != nil {
					t.Fatalf("marshal request: %v", err)
				}
			}
			req := httptest.NewRequest(http.MethodPost, "/ap2/payment-mandates", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d got %d body=%s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "hsm") {
				t.Fatalf("internal error leaked: %s", rec.Body.String())
			}
			if tt.wantParam == "" {
				return
			}
			var payload Error
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if payload.Param == nil || *payload.Param != tt.wantParam {
				t.Fatalf("expected param %s got %v (%s)", tt.wantParam, payload.Param, payload.Message)
			}
		})
	}
}

type paymentMandateStubService struct {
	issue func(context.Context, PaymentMandateRequest) (*PaymentMandateResponse, error)
}

func (s *paymentMandateStubService) IssuePaymentMandate(ctx context.Context, req PaymentMandateRequest) (*PaymentMandateResponse, error) {
	if s.issue == nil {
		return nil, errors.New("not implemented")
	}
	return s.issue(ctx, req)
}

func samplePaymentMandateRequest() PaymentMandateRequest {
	brand := "Visa"
	last4 := "4242"
	return PaymentMandateRequest{
		PaymentMethod: PaymentMethod{
			Type:         PaymentMethodTypeCard,
			Token:        "tok_visa_4242",
			DisplayBrand: &brand,
			DisplayLast4: &last4,
		},
		Allowance: Allowance{
			Reason:            AllowanceReasonOneTime,
			MaxAmount:         2500,
			Currency:          "eur",
			CheckoutSessionID: "cs_123",
			MerchantID:        "acme",
			ExpiresAt:         time.Now().Add(time.Hour).UTC(),
		},
		RiskSignals: []RiskSignal{{
			Type:   RiskSignalTypeCardTesting,
			Action: RiskSignalActionAuthorized,
			Score:  3,
		}},
		Metadata: map[string]string{"source": "agent"},
	}
}

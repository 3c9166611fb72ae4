package ucp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookEventType enumerates the supported checkout webhook events.
type WebhookEventType string

const (
	WebhookEventTypeOrderCreated WebhookEventType = "order_created"
)

// EventDataType labels the payload for a webhook event.
type EventDataType string

const (
	EventDataTypeOrder EventDataType = "order"
)

// DefaultWebhookSignatureHeader carries the HMAC of the webhook body.
const DefaultWebhookSignatureHeader = "UCP-Signature"

// EventData is implemented by webhook payloads.
type EventData interface {
	eventType() WebhookEventType
}

// OrderCreate emits order data after a checkout session completes.
type OrderCreate struct {
	Type              EventDataType `json:"type"`
	CheckoutSessionID string        `json:"checkout_session_id"`
	OrderID           string        `json:"order_id"`
	CreatedAt         time.Time     `json:"created_at"`
}

func (OrderCreate) eventType() WebhookEventType { return WebhookEventTypeOrderCreated }

type webhookEvent struct {
	Type WebhookEventType `json:"type"`
	Data any              `json:"data"`
}

// WebhookOptions configures a [WebhookSender].
type WebhookOptions struct {
	// Endpoint receives POSTed events.
	Endpoint string
	// HeaderName carries the signature. Defaults to [DefaultWebhookSignatureHeader].
	HeaderName string
	// SecretKey signs the body with HMAC-SHA256.
	SecretKey []byte
	// Client defaults to a client with a 10 second timeout.
	Client *http.Client
}

// WebhookSender posts signed events to a platform endpoint.
type WebhookSender struct {
	endpoint string
	header   string
	secret   []byte
	client   *http.Client
	clock    func() time.Time
}

// NewWebhookSender validates opts.
func NewWebhookSender(opts WebhookOptions) (*WebhookSender, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("webhook: endpoint is required")
	}
	if len(opts.SecretKey) == 0 {
		return nil, errors.New("webhook: secret key is required")
	}
	s := &WebhookSender{
		endpoint: opts.Endpoint,
		header:   opts.HeaderName,
		secret:   opts.SecretKey,
		client:   opts.Client,
		clock:    time.Now,
	}
	if s.header == "" {
		s.header = DefaultWebhookSignatureHeader
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}
	return s, nil
}

// NotifyOrderCreated sends an order_created event for a completed session.
func (s *WebhookSender) NotifyOrderCreated(ctx context.Context, sessionID, orderID string) error {
	return s.SendWebhook(ctx, OrderCreate{
		Type:              EventDataTypeOrder,
		CheckoutSessionID: sessionID,
		OrderID:           orderID,
		CreatedAt:         s.clock().UTC(),
	})
}

// SendWebhook posts data to the configured endpoint.
func (s *WebhookSender) SendWebhook(ctx context.Context, data EventData) error {
	body, err := json.Marshal(webhookEvent{
		Type: data.eventType(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", APIVersion)
	req.Header.Set(s.header, signWebhookPayload(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook: endpoint %s returned %s: %s", s.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func signWebhookPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Package magento implements [commerce.Backend] over the Magento 2 REST API
// using guest carts.
package magento

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sumup/ucp/commerce"
)

const (
	DefaultStoreCode = "default"
	DefaultTimeout   = 20 * time.Second
)

// Client talks to one Magento store view with an admin bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

var _ commerce.Backend = (*Client)(nil)

type options struct {
	storeCode  string
	httpClient *http.Client
	timeout    time.Duration
	breaker    gobreaker.Settings
}

// Option customizes a [Client].
type Option func(*options)

// WithStoreCode selects the store view. Defaults to "default".
func WithStoreCode(code string) Option {
	return func(o *options) {
		if code != "" {
			o.storeCode = code
		}
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTimeout bounds each call. Defaults to [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreakerSettings overrides the circuit breaker configuration. Name and
// IsSuccessful are always set by the client.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(o *options) {
		o.breaker = st
	}
}

// New returns a client for the Magento instance at baseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("magento: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("magento: base url: %w", err)
	}
	o := options{
		storeCode:  DefaultStoreCode,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		breaker: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}
	o.breaker.Name = "magento"
	o.breaker.IsSuccessful = isSuccessful
	o.breaker.IsExcluded = func(err error) bool { return errors.Is(err, context.Canceled) }

	return &Client{
		baseURL:    base + "/rest/" + url.PathEscape(o.storeCode) + "/V1",
		token:      token,
		httpClient: o.httpClient,
		timeout:    o.timeout,
		breaker:    gobreaker.NewCircuitBreaker[[]byte](o.breaker),
	}, nil
}

// Client errors mean the request was wrong, not that Magento is down.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var backendErr *commerce.Error
	return errors.As(err, &backendErr) && backendErr.Status < http.StatusInternalServerError
}

// CreateCart creates a guest cart and returns its masked id.
func (c *Client) CreateCart(ctx context.Context) (string, error) {
	var cartID string
	if err := c.call(ctx, http.MethodPost, "/guest-carts", nil, &cartID); err != nil {
		return "", err
	}
	if cartID == "" {
		return "", errors.New("magento: empty cart id")
	}
	return cartID, nil
}

func (c *Client) AddItem(ctx context.Context, cartID, sku string, qty int) error {
	payload := map[string]any{
		"cartItem": map[string]any{
			"quote_id": cartID,
			"sku":      sku,
			"qty":      qty,
		},
	}
	return c.call(ctx, http.MethodPost, cartPath(cartID, "items"), payload, nil)
}

func (c *Client) GetTotals(ctx context.Context, cartID string) (json.RawMessage, error) {
	var totals json.RawMessage
	if err := c.call(ctx, http.MethodGet, cartPath(cartID, "totals"), nil, &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func (c *Client) EstimateShipping(ctx context.Context, cartID string, address commerce.Address) (json.RawMessage, error) {
	var methods json.RawMessage
	payload := map[string]any{"address": wireAddress(address)}
	if err := c.call(ctx, http.MethodPost, cartPath(cartID, "estimate-shipping-methods"), payload, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

func (c *Client) SetShippingInformation(ctx context.Context, cartID string, address commerce.Address, method commerce.ShippingMethod) (json.RawMessage, error) {
	payload := map[string]any{
		"addressInformation": map[string]any{
			"shipping_address":      wireAddress(address),
			"shipping_method_code":  method.MethodCode,
			"shipping_carrier_code": method.CarrierCode,
		},
	}
	var resp struct {
		Totals json.RawMessage `json:"totals"`
	}
	if err := c.call(ctx, http.MethodPost, cartPath(cartID, "shipping-information"), payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Totals) == 0 || string(resp.Totals) == "null" {
		return nil, nil
	}
	return resp.Totals, nil
}

// PlaceOrder submits payment information, which converts the cart into an
// order. Magento answers with the order id as a bare JSON number or string.
func (c *Client) PlaceOrder(ctx context.Context, cartID, paymentMethod, email string, billing commerce.Address) (string, error) {
	payload := map[string]any{
		"email":           email,
		"paymentMethod":   map[string]any{"method": paymentMethod},
		"billing_address": wireAddress(billing),
	}
	var orderID json.RawMessage
	if err := c.call(ctx, http.MethodPost, cartPath(cartID, "payment-information"), payload, &orderID); err != nil {
		return "", err
	}
	id := strings.Trim(strings.TrimSpace(string(orderID)), `"`)
	if id == "" || id == "null" {
		return "", errors.New("magento: empty order id")
	}
	return id, nil
}

// SearchProducts matches name or SKU with a LIKE filter.
func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]commerce.Product, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("searchCriteria[pageSize]", strconv.Itoa(limit))
	params.Set("searchCriteria[currentPage]", "1")
	for i, field := range []string{"name", "sku"} {
		prefix := fmt.Sprintf("searchCriteria[filter_groups][%d][filters][0]", i)
		params.Set(prefix+"[field]", field)
		params.Set(prefix+"[condition_type]", "like")
		params.Set(prefix+"[value]", "%"+q+"%")
	}

	var resp struct {
		Items []commerce.Product `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/products?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]commerce.Product, 0, len(resp.Items))
	for _, p := range resp.Items {
		if p.SKU == "" || p.Name == "" {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ping lists store views to check connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/store/storeViews", nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, payload, dst any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", commerce.ErrUnavailable, err)
	}
	if err != nil {
		return err
	}
	if dst == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("magento: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("magento: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("magento: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("magento: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("magento: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newBackendError(resp.StatusCode, data)
	}
	return data, nil
}

func newBackendError(status int, body []byte) *commerce.Error {
	e := &commerce.Error{Status: status, Message: http.StatusText(status)}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			e.Message = payload.Message
		}
		e.Body = json.RawMessage(body)
	}
	return e
}

func cartPath(cartID, rest string) string {
	return "/guest-carts/" + url.PathEscape(cartID) + "/" + rest
}

type address struct {
	commerce.Address
	SameAsBilling     int `json:"same_as_billing"`
	SaveInAddressBook int `json:"save_in_address_book"`
}

func wireAddress(a commerce.Address) address {
	return address{Address: a, SameAsBilling: 1}
}

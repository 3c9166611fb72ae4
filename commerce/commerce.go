// Package commerce defines the order-placement backend the checkout
// orchestrator drives: carts, totals, shipping and orders.
package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Backend is the external commerce system. Every call is a network round
// trip the orchestrator awaits before advancing session state. Totals and
// shipping estimates are passed through as opaque JSON.
type Backend interface {
	CreateCart(ctx context.Context) (string, error)
	AddItem(ctx context.Context, cartID, sku string, qty int) error
	GetTotals(ctx context.Context, cartID string) (json.RawMessage, error)
	EstimateShipping(ctx context.Context, cartID string, address Address) (json.RawMessage, error)
	// SetShippingInformation stores address and method on the cart. The
	// returned totals may be nil when the backend does not report them.
	SetShippingInformation(ctx context.Context, cartID string, address Address, method ShippingMethod) (json.RawMessage, error)
	PlaceOrder(ctx context.Context, cartID, paymentMethod, email string, billing Address) (string, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]Product, error)
	Ping(ctx context.Context) error
}

// Address is a postal address in the backend's shape.
type Address struct {
	Firstname  string   `json:"firstname"`
	Lastname   string   `json:"lastname"`
	Street     []string `json:"street"`
	City       string   `json:"city"`
	Region     string   `json:"region,omitempty"`
	RegionCode string   `json:"region_code,omitempty"`
	RegionID   int      `json:"region_id,omitempty"`
	Postcode   string   `json:"postcode"`
	CountryID  string   `json:"country_id"`
	Telephone  string   `json:"telephone"`
	Email      string   `json:"email,omitempty"`
}

// ShippingMethod selects one of the estimated methods.
type ShippingMethod struct {
	CarrierCode string `json:"carrier_code"`
	MethodCode  string `json:"method_code"`
}

// Product is a catalog search hit.
type Product struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

// ErrUnavailable is returned when the backend is not accepting calls, for
// example while a circuit breaker is open.
var ErrUnavailable = errors.New("commerce: backend unavailable")

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Message string
	Body    json.RawMessage
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("commerce: backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("commerce: backend returned %d", e.Status)
}

// Details returns the response body as an object without the "trace"
// field, or nil when the body is not a JSON object.
func (e *Error) Details() map[string]any {
	var body map[string]any
	if len(e.Body) == 0 || json.Unmarshal(e.Body, &body) != nil {
		return nil
	}
	delete(body, "trace")
	return body
}

// StatusOf returns the backend status carried by err, or 502 when err is not
// an [*Error].
func StatusOf(err error) int {
	var backendErr *Error
	if errors.As(err, &backendErr) && backendErr.Status > 0 {
		return backendErr.Status
	}
	if errors.Is(err, ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

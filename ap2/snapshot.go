package ap2

import (
	"encoding/json"
	"fmt"
)

// LineItem is the cart line shape that participates in the state hash.
type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Snapshot is the subset of a checkout session whose integrity the checkout
// mandate attests to. It is rebuilt from the session on demand and never
// stored on its own.
type Snapshot struct {
	SessionID       string
	Nonce           string
	BuyerEmail      string
	LineItems       []LineItem
	ShippingAddress json.RawMessage
	ShippingMethod  json.RawMessage
	Totals          json.RawMessage
}

// Value builds the hashed document:
//
//	{session_id, nonce, id, buyer: {email} | null, line_items,
//	 shipping_address | null, shipping_method | null, totals | null}
func (s Snapshot) Value() (Value, error) {
	items := make([]Value, 0, len(s.LineItems))
	for _, li := range s.LineItems {
		items = append(items, Object(map[string]Value{
			"sku":      String(li.SKU),
			"quantity": Number(float64(li.Quantity)),
		}))
	}

	nonce := Null()
	if s.Nonce != "" {
		nonce = String(s.Nonce)
	}
	buyer := Null()
	if s.BuyerEmail != "" {
		buyer = Object(map[string]Value{"email": String(s.BuyerEmail)})
	}
	address, err := optionalRaw("shipping_address", s.ShippingAddress)
	if err != nil {
		return Value{}, err
	}
	method, err := optionalRaw("shipping_method", s.ShippingMethod)
	if err != nil {
		return Value{}, err
	}
	totals, err := optionalRaw("totals", s.Totals)
	if err != nil {
		return Value{}, err
	}

	return Object(map[string]Value{
		"session_id":       String(s.SessionID),
		"nonce":            nonce,
		"id":               String(s.SessionID),
		"buyer":            buyer,
		"line_items":       List(items...),
		"shipping_address": address,
		"shipping_method":  method,
		"totals":           totals,
	}), nil
}

// Hash computes the checkout state hash of s.
func (s Snapshot) Hash() (string, error) {
	v, err := s.Value()
	if err != nil {
		return "", err
	}
	return HashState(v)
}

func optionalRaw(field string, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return Null(), nil
	}
	v, err := ParseJSON(raw)
	if err != nil {
		return Value{}, fmt.Errorf("ap2: snapshot %s: %w", field, err)
	}
	return v, nil
}

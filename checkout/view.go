package checkout

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sumup/ucp"
	"github.com/sumup/ucp/commerce"
	"github.com/sumup/ucp/session"
)

// toSession renders rec as a UCP checkout session.
func (s *Service) toSession(rec *session.Record, messages ...ucp.Message) *ucp.CheckoutSession {
	status := rec.Status()
	out := &ucp.CheckoutSession{
		ID:              rec.ID,
		Status:          ucp.CheckoutSessionStatus(status),
		LineItems:       make([]ucp.LineItem, 0, len(rec.Items())),
		Totals:          rec.Totals(),
		ShippingMethods: rec.ShippingMethods,
		Messages:        messages,
	}
	if out.Messages == nil {
		out.Messages = []ucp.Message{}
	}
	if !status.Terminal() && s.baseURL != "" {
		out.ContinueURL = s.baseURL + "/continue/" + url.PathEscape(rec.ID)
	}
	if email := rec.BuyerEmail(); email != "" {
		out.Buyer = &ucp.Buyer{Email: email}
	}
	for _, it := range rec.Items() {
		out.LineItems = append(out.LineItems, ucp.LineItem{SKU: it.SKU, Quantity: it.Quantity})
	}
	if rec.AP2Activated {
		formats := s.ap2.SupportedVPFormats()
		if formats == nil {
			formats = []string{}
		}
		out.AP2 = &ucp.AP2Session{
			Activated:          true,
			CheckoutSignature:  rec.Signature(),
			SupportedVPFormats: formats,
		}
	}
	if id := rec.OrderID(); id != "" {
		out.Order = &ucp.Order{ID: id, CheckoutSessionID: rec.ID}
	}
	if s.exposeDebug {
		out.Debug = &ucp.Debug{CartID: rec.CartID, UpdatedAt: rec.UpdatedAt}
	}
	return out
}

func toBackendAddress(a ucp.Address, email string) commerce.Address {
	out := commerce.Address{
		Firstname:  a.Firstname,
		Lastname:   a.Lastname,
		Street:     a.Street,
		City:       a.City,
		Region:     a.Region,
		RegionCode: a.RegionCode,
		Postcode:   a.Postcode,
		CountryID:  a.CountryID,
		Telephone:  a.Telephone,
		Email:      email,
	}
	if a.RegionID != nil {
		out.RegionID = *a.RegionID
	}
	return out
}

// storedAddress decodes the shipping address kept on rec.
func storedAddress(rec *session.Record) (ucp.Address, error) {
	var a ucp.Address
	raw := rec.ShippingAddress()
	if len(raw) == 0 {
		return a, fmt.Errorf("checkout: session %s has no shipping address", rec.ID)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("checkout: decode stored shipping address: %w", err)
	}
	return a, nil
}

package ucp

import "net/http"

// Validate ensures CheckoutSessionCreateRequest satisfies required schema constraints.
func (r CheckoutSessionCreateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	return nil
}

// Validate ensures CheckoutSessionUpdateRequest maintains schema constraints.
// A shipping method needs the shipping address it applies to in the same
// request.
func (r CheckoutSessionUpdateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	if r.ShippingMethod != nil && r.ShippingAddress == nil {
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, ShippingAddressNeeded,
			"shipping_address is required when setting shipping_method", WithOffendingParam("shipping_address"))
	}
	return nil
}

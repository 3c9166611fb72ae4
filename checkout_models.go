package ucp

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/oapi-codegen/runtime"
)

// CheckoutSessionStatus defines model for CheckoutSession.Status.
type CheckoutSessionStatus string

// Defines values for CheckoutSessionStatus.
const (
	CheckoutSessionStatusIncomplete         CheckoutSessionStatus = "incomplete"
	CheckoutSessionStatusReadyForComplete   CheckoutSessionStatus = "ready_for_complete"
	CheckoutSessionStatusCompleteInProgress CheckoutSessionStatus = "complete_in_progress"
	CheckoutSessionStatusCompleted          CheckoutSessionStatus = "completed"
	CheckoutSessionStatusRequiresEscalation CheckoutSessionStatus = "requires_escalation"
	CheckoutSessionStatusCanceled           CheckoutSessionStatus = "canceled"
)

// MessageSeverity defines model for Message.Severity.
type MessageSeverity string

// Defines values for MessageSeverity.
const (
	MessageSeverityInfo    MessageSeverity = "info"
	MessageSeverityWarning MessageSeverity = "warning"
	MessageSeverityError   MessageSeverity = "error"
)

// Message codes emitted by the checkout flow.
const (
	MessageCodeCreated                 = "created"
	MessageCodeBuyerUpdated            = "buyer_updated"
	MessageCodeShippingMethods         = "shipping_methods_available"
	MessageCodeShippingSelected        = "shipping_selected"
	MessageCodeOrderPlaced             = "order_placed"
	MessageCodeCanceled                = "canceled"
	MessageCodePaymentRequired         = "payment_required"
	MessageCodeMissingCheckoutData     = "missing_checkout_data"
	MessageCodeOrderPlacementFailed    = "order_placement_failed"
	MessageCodeMandatesAlreadyVerified = "mandates_already_verified"
)

// LineItem defines model for LineItem.
type LineItem struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// Buyer defines model for Buyer.
type Buyer struct {
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Address defines model for Address. Field names follow the commerce
// backend's address shape.
type Address struct {
	Firstname  string   `json:"firstname" validate:"required"`
	Lastname   string   `json:"lastname" validate:"required"`
	Street     []string `json:"street" validate:"required,min=1,dive,required"`
	City       string   `json:"city" validate:"required"`
	Region     string   `json:"region,omitempty"`
	RegionCode string   `json:"region_code,omitempty"`
	RegionID   *int     `json:"region_id,omitempty" validate:"omitempty,gt=0"`
	Postcode   string   `json:"postcode" validate:"required"`
	CountryID  string   `json:"country_id" validate:"required,len=2"`
	Telephone  string   `json:"telephone" validate:"required,min=5"`
}

// ShippingMethod defines model for ShippingMethod.
type ShippingMethod struct {
	CarrierCode string `json:"carrier_code" validate:"required"`
	MethodCode  string `json:"method_code" validate:"required"`
}

// AP2Request defines model for the ap2 block of create and update requests.
type AP2Request struct {
	Activated *bool `json:"activated,omitempty"`
}

// AP2Session defines model for CheckoutSession.AP2.
type AP2Session struct {
	Activated bool `json:"activated"`
	// CheckoutSignature is the merchant's detached signature over the current
	// checkout state hash.
	CheckoutSignature  string   `json:"checkout_signature,omitempty"`
	SupportedVPFormats []string `json:"supported_vp_formats"`
}

// Order defines model for Order.
type Order struct {
	ID                string `json:"id"`
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
}

// Debug defines model for CheckoutSession.Debug. Only present when the
// gateway exposes debug data.
type Debug struct {
	CartID    string    `json:"cart_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckoutSession defines model for CheckoutSession. Totals and
// ShippingMethods are passed through from the commerce backend.
type CheckoutSession struct {
	ID              string                `json:"id"`
	Status          CheckoutSessionStatus `json:"status"`
	ContinueURL     string                `json:"continue_url,omitempty"`
	Buyer           *Buyer                `json:"buyer,omitempty"`
	LineItems       []LineItem            `json:"line_items"`
	Totals          json.RawMessage       `json:"totals,omitempty"`
	ShippingMethods json.RawMessage       `json:"shipping_methods,omitempty"`
	Messages        []Message             `json:"messages"`
	AP2             *AP2Session           `json:"ap2,omitempty"`
	Order           *Order                `json:"order,omitempty"`
	Debug           *Debug                `json:"_debug,omitempty"`
}

// CheckoutSessionCreateRequest defines model for CheckoutSessionCreateRequest.
type CheckoutSessionCreateRequest struct {
	LineItems []LineItem  `json:"line_items" validate:"required,min=1,dive"`
	Buyer     *Buyer      `json:"buyer,omitempty" validate:"omitempty"`
	AP2       *AP2Request `json:"ap2,omitempty"`
}

// CheckoutSessionUpdateRequest defines model for CheckoutSessionUpdateRequest.
type CheckoutSessionUpdateRequest struct {
	Buyer           *Buyer          `json:"buyer,omitempty" validate:"omitempty"`
	ShippingAddress *Address        `json:"shipping_address,omitempty" validate:"omitempty"`
	ShippingMethod  *ShippingMethod `json:"shipping_method,omitempty" validate:"omitempty"`
	AP2             *AP2Request     `json:"ap2,omitempty"`
}

// CheckoutSessionCompleteRequest defines model for CheckoutSessionCompleteRequest.
// Mandates are required only for sessions with AP2 active.
type CheckoutSessionCompleteRequest struct {
	CheckoutMandate *Mandate `json:"checkout_mandate,omitempty"`
	PaymentMandate  *Mandate `json:"payment_mandate,omitempty"`
}

// Mandate is a checkout or payment mandate as submitted. The wire accepts a
// compact token string or an object; only the token form can be verified.
type Mandate struct {
	raw json.RawMessage
}

// NewMandate wraps a compact mandate token.
func NewMandate(token string) *Mandate {
	b, _ := json.Marshal(token)
	return &Mandate{raw: b}
}

// Token returns the compact token and whether the mandate was submitted as a
// string.
func (m *Mandate) Token() (string, bool) {
	if m == nil || len(m.raw) == 0 || m.raw[0] != '"' {
		return "", false
	}
	var token string
	if err := json.Unmarshal(m.raw, &token); err != nil {
		return "", false
	}
	return token, true
}

// MarshalJSON emits the mandate as submitted.
func (m Mandate) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	return m.raw, nil
}

// UnmarshalJSON accepts a JSON string or object.
func (m *Mandate) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || (trimmed[0] != '"' && trimmed[0] != '{') {
		return errors.New("mandate must be a string or an object")
	}
	if !json.Valid(trimmed) {
		return errors.New("mandate is not valid JSON")
	}
	m.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// Product defines model for a product search hit.
type Product struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

// ProductSearchResponse defines model for GET /products/search.
type ProductSearchResponse struct {
	Items []Product `json:"items"`
}

// Message defines model for CheckoutSession.messages.Item.
type Message struct {
	union json.RawMessage
}

// MessageInfo defines model for MessageInfo.
type MessageInfo struct {
	Severity MessageSeverity `json:"severity"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
}

// MessageWarning defines model for MessageWarning.
type MessageWarning struct {
	Severity MessageSeverity `json:"severity"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
}

// MessageError defines model for MessageError.
type MessageError struct {
	Severity MessageSeverity `json:"severity"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	// Param RFC 9535 JSONPath
	Param *string `json:"param,omitempty"`
}

// NewInfoMessage builds an info message.
func NewInfoMessage(code, text string) Message {
	var m Message
	_ = m.FromMessageInfo(MessageInfo{Severity: MessageSeverityInfo, Code: code, Message: text})
	return m
}

// NewWarningMessage builds a warning message.
func NewWarningMessage(code, text string) Message {
	var m Message
	_ = m.FromMessageWarning(MessageWarning{Severity: MessageSeverityWarning, Code: code, Message: text})
	return m
}

// NewErrorMessage builds an error message.
func NewErrorMessage(code, text string) Message {
	var m Message
	_ = m.FromMessageError(MessageError{Severity: MessageSeverityError, Code: code, Message: text})
	return m
}

// Discriminator returns the severity the union is tagged with.
func (t Message) Discriminator() (MessageSeverity, error) {
	var discriminator struct {
		Severity MessageSeverity `json:"severity"`
	}
	err := json.Unmarshal(t.union, &discriminator)
	return discriminator.Severity, err
}

// AsMessageInfo returns the union data inside the Message as a MessageInfo
func (t Message) AsMessageInfo() (MessageInfo, error) {
	var body MessageInfo
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageInfo overwrites any union data inside the Message as the provided MessageInfo
func (t *Message) FromMessageInfo(v MessageInfo) error {
	v.Severity = MessageSeverityInfo
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeMessageInfo performs a merge with any union data inside the Message, using the provided MessageInfo
func (t *Message) MergeMessageInfo(v MessageInfo) error {
	v.Severity = MessageSeverityInfo
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsMessageWarning returns the union data inside the Message as a MessageWarning
func (t Message) AsMessageWarning() (MessageWarning, error) {
	var body MessageWarning
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageWarning overwrites any union data inside the Message as the provided MessageWarning
func (t *Message) FromMessageWarning(v MessageWarning) error {
	v.Severity = MessageSeverityWarning
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeMessageWarning performs a merge with any union data inside the Message, using the provided MessageWarning
func (t *Message) MergeMessageWarning(v MessageWarning) error {
	v.Severity = MessageSeverityWarning
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsMessageError returns the union data inside the Message as a MessageError
func (t Message) AsMessageError() (MessageError, error) {
	var body MessageError
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageError overwrites any union data inside the Message as the provided MessageError
func (t *Message) FromMessageError(v MessageError) error {
	v.Severity = MessageSeverityError
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeMessageError performs a merge with any union data inside the Message, using the provided MessageError
func (t *Message) MergeMessageError(v MessageError) error {
	v.Severity = MessageSeverityError
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// MarshalJSON serializes the underlying union for Message.
func (t Message) MarshalJSON() ([]byte, error) {
	b, err := t.union.MarshalJSON()
	return b, err
}

// UnmarshalJSON loads union data for Message.
func (t *Message) UnmarshalJSON(b []byte) error {
	err := t.union.UnmarshalJSON(b)
	return err
}

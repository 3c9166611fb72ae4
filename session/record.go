package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sumup/ucp/ap2"
)

// Item is a line item as requested at creation.
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Record is the stored state of one checkout session. Status and the fields
// feeding the checkout state hash are private: status moves only through
// [Record.Advance] and the hashed fields freeze once mandates are verified.
type Record struct {
	ID           string
	CartID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AP2Activated bool
	// ShippingMethods is the last shipping estimate returned by the backend.
	ShippingMethods json.RawMessage

	status          Status
	items           []Item
	buyerEmail      string
	shippingAddress json.RawMessage
	shippingMethod  json.RawMessage
	totals          json.RawMessage
	nonce           string
	stateHash       string
	signature       string
	verifiedAt      *time.Time
	orderID         string
}

// NewRecord starts a session in [StatusIncomplete].
func NewRecord(id, cartID string, items []Item, now time.Time) *Record {
	return &Record{
		ID:        id,
		CartID:    cartID,
		CreatedAt: now,
		UpdatedAt: now,
		status:    StatusIncomplete,
		items:     slices.Clone(items),
	}
}

func (r *Record) Status() Status                   { return r.status }
func (r *Record) Items() []Item                    { return slices.Clone(r.items) }
func (r *Record) BuyerEmail() string               { return r.buyerEmail }
func (r *Record) ShippingAddress() json.RawMessage { return cloneRaw(r.shippingAddress) }
func (r *Record) ShippingMethod() json.RawMessage  { return cloneRaw(r.shippingMethod) }
func (r *Record) Totals() json.RawMessage          { return cloneRaw(r.totals) }
func (r *Record) Nonce() string                    { return r.nonce }
func (r *Record) StateHash() string                { return r.stateHash }
func (r *Record) Signature() string                { return r.signature }
func (r *Record) OrderID() string                  { return r.orderID }

// MandateVerifiedAt is the time mandates were verified, or nil.
func (r *Record) MandateVerifiedAt() *time.Time {
	if r.verifiedAt == nil {
		return nil
	}
	t := *r.verifiedAt
	return &t
}

// MandatesVerified reports whether mandates were consumed for this session.
func (r *Record) MandatesVerified() bool { return r.verifiedAt != nil }

// Touch records a modification time.
func (r *Record) Touch(now time.Time) { r.UpdatedAt = now }

// Ready reports whether the data required for completion is present.
func (r *Record) Ready() bool {
	return r.buyerEmail != "" && len(r.shippingAddress) > 0 && len(r.shippingMethod) > 0
}

// Advance moves the session to status to.
func (r *Record) Advance(to Status) error {
	if err := CheckTransition(r.status, to); err != nil {
		return err
	}
	if to == StatusReadyForComplete && !r.Ready() {
		return &TransitionError{
			From:   r.status,
			To:     to,
			Reason: "buyer email, shipping address and shipping method are required",
		}
	}
	r.status = to
	return nil
}

// MarkCompleted advances to [StatusCompleted] and records the order.
func (r *Record) MarkCompleted(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return &TransitionError{From: r.status, To: StatusCompleted, Reason: "order id is required"}
	}
	if err := r.Advance(StatusCompleted); err != nil {
		return err
	}
	r.orderID = orderID
	return nil
}

func (r *Record) checkMutable() error {
	if r.status.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrIllegalTransition, r.status)
	}
	if r.verifiedAt != nil {
		return ErrStateLocked
	}
	return nil
}

func (r *Record) SetBuyerEmail(email string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.buyerEmail = email
	return nil
}

func (r *Record) SetShippingAddress(address json.RawMessage) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.shippingAddress = cloneRaw(address)
	return nil
}

func (r *Record) SetShippingMethod(method json.RawMessage) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.shippingMethod = cloneRaw(method)
	return nil
}

func (r *Record) SetTotals(totals json.RawMessage) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.totals = cloneRaw(totals)
	return nil
}

// EnsureNonce returns the session nonce, generating it on first use. The
// nonce never changes once set.
func (r *Record) EnsureNonce(generate func() (string, error)) (string, error) {
	if r.nonce != "" {
		return r.nonce, nil
	}
	nonce, err := generate()
	if err != nil {
		return "", fmt.Errorf("session: generate nonce: %w", err)
	}
	if nonce == "" {
		return "", fmt.Errorf("session: generated nonce is empty")
	}
	r.nonce = nonce
	return nonce, nil
}

// Attest stores a state hash together with the signature over it.
func (r *Record) Attest(hash, signature string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if hash == "" || signature == "" {
		return fmt.Errorf("session: hash and signature are set together")
	}
	r.stateHash = hash
	r.signature = signature
	return nil
}

// MarkMandatesVerified stamps the verification time. It succeeds once per
// session; later calls fail with [ap2.ErrAlreadyVerified].
func (r *Record) MarkMandatesVerified(at time.Time) error {
	if r.verifiedAt != nil {
		return ap2.ErrAlreadyVerified
	}
	if r.status.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrIllegalTransition, r.status)
	}
	r.verifiedAt = &at
	return nil
}

// Snapshot returns the checkout state covered by the state hash.
func (r *Record) Snapshot() ap2.Snapshot {
	items := make([]ap2.LineItem, 0, len(r.items))
	for _, it := range r.items {
		items = append(items, ap2.LineItem{SKU: it.SKU, Quantity: it.Quantity})
	}
	return ap2.Snapshot{
		SessionID:       r.ID,
		Nonce:           r.nonce,
		BuyerEmail:      r.buyerEmail,
		LineItems:       items,
		ShippingAddress: cloneRaw(r.shippingAddress),
		ShippingMethod:  cloneRaw(r.shippingMethod),
		Totals:          cloneRaw(r.totals),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ShippingMethods = cloneRaw(r.ShippingMethods)
	c.items = slices.Clone(r.items)
	c.shippingAddress = cloneRaw(r.shippingAddress)
	c.shippingMethod = cloneRaw(r.shippingMethod)
	c.totals = cloneRaw(r.totals)
	c.verifiedAt = r.MandateVerifiedAt()
	return &c
}

type recordJSON struct {
	ID                string          `json:"id"`
	CartID            string          `json:"cart_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Status            Status          `json:"status"`
	Items             []Item          `json:"items,omitempty"`
	BuyerEmail        string          `json:"buyer_email,omitempty"`
	ShippingAddress   json.RawMessage `json:"shipping_address,omitempty"`
	ShippingMethod    json.RawMessage `json:"shipping_method,omitempty"`
	ShippingMethods   json.RawMessage `json:"shipping_methods,omitempty"`
	Totals            json.RawMessage `json:"totals,omitempty"`
	AP2Activated      bool            `json:"ap2_activated,omitempty"`
	Nonce             string          `json:"checkout_nonce,omitempty"`
	StateHash         string          `json:"checkout_state_hash,omitempty"`
	Signature         string          `json:"checkout_signature,omitempty"`
	MandateVerifiedAt *time.Time      `json:"mandate_verified_at,omitempty"`
	OrderID           string          `json:"order_id,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:                r.ID,
		CartID:            r.CartID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		Status:            r.status,
		Items:             r.items,
		BuyerEmail:        r.buyerEmail,
		ShippingAddress:   r.shippingAddress,
		ShippingMethod:    r.shippingMethod,
		ShippingMethods:   r.ShippingMethods,
		Totals:            r.totals,
		AP2Activated:      r.AP2Activated,
		Nonce:             r.nonce,
		StateHash:         r.stateHash,
		Signature:         r.signature,
		MandateVerifiedAt: r.verifiedAt,
		OrderID:           r.orderID,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("session: unknown status %q", raw.Status)
	}
	if (raw.StateHash == "") != (raw.Signature == "") {
		return fmt.Errorf("session: state hash and signature must be stored together")
	}
	*r = Record{
		ID:              raw.ID,
		CartID:          raw.CartID,
		CreatedAt:       raw.CreatedAt,
		UpdatedAt:       raw.UpdatedAt,
		AP2Activated:    raw.AP2Activated,
		ShippingMethods: raw.ShippingMethods,
		status:          raw.Status,
		items:           raw.Items,
		buyerEmail:      raw.BuyerEmail,
		shippingAddress: raw.ShippingAddress,
		shippingMethod:  raw.ShippingMethod,
		totals:          raw.Totals,
		nonce:           raw.Nonce,
		stateHash:       raw.StateHash,
		signature:       raw.Signature,
		verifiedAt:      raw.MandateVerifiedAt,
		orderID:         raw.OrderID,
	}
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}

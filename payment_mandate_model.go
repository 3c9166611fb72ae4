package ucp

import "time"

// PaymentMandateRequest asks a payment processor to authorize a payment
// method for one checkout session and return a signed payment mandate.
type PaymentMandateRequest struct {
	// Payment credential reference held by the processor.
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required"`
	// Use cases that the mandate can be applied to.
	Allowance Allowance `json:"allowance" validate:"required"`
	// List of risk signals.
	RiskSignals []RiskSignal `json:"risk_signals,omitempty" validate:"omitempty,dive"`
	// Arbitrary key/value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PaymentMandateResponse carries the signed payment mandate the platform
// forwards to the merchant at completion.
type PaymentMandateResponse struct {
	// Unique mandate identifier pm_….
	ID string `json:"id"`
	// Compact signed mandate token.
	Mandate string `json:"mandate"`
	// Time formatted as an RFC 3339 string.
	Created time.Time `json:"created"`
	// Time formatted as an RFC 3339 string.
	ExpiresAt time.Time `json:"expires_at"`
	// Arbitrary key/value pairs for correlation (e.g., source, merchant_id, idempotency_key).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PaymentMethod references a stored credential.
type PaymentMethod struct {
	// The type of payment method used.
	Type PaymentMethodType `json:"type" validate:"required,oneof=card wallet"`
	// Processor vault token for the credential.
	Token string `json:"token" validate:"required"`
	// Brand to display.
	//
	// Example: "Visa", "amex", "discover"
	DisplayBrand *string `json:"display_brand,omitempty"`
	// Last 4 digits of the card for customer display.
	DisplayLast4 *string `json:"display_last4,omitempty" validate:"omitempty,len=4,numeric"`
}

// Allowance scopes mandate use.
type Allowance struct {
	// Current possible values: "one_time".
	Reason AllowanceReason `json:"reason" validate:"required,eq=one_time"`
	// Max amount the payment method can be charged for, in minor units.
	MaxAmount int64 `json:"max_amount" validate:"required,gt=0"`
	// Currency.
	Currency string `json:"currency" validate:"required,currency"`
	// Reference to the UCP checkout session id.
	CheckoutSessionID string `json:"checkout_session_id" validate:"required"`
	// Merchant identifying descriptor.
	MerchantID string `json:"merchant_id" validate:"required"`
	// Time formatted as an RFC 3339 string.
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// RiskSignal provides processors with fraud intelligence references.
type RiskSignal struct {
	// The type of risk signal.
	Type RiskSignalType `json:"type" validate:"required,oneof=card_testing"`
	// Action taken.
	Action RiskSignalAction `json:"action" validate:"required,oneof=manual_review authorized blocked"`
	// Details of the risk signal.
	Score int `json:"score" validate:"gte=0"`
}

type PaymentMethodType string

const (
	PaymentMethodTypeCard   PaymentMethodType = "card"
	PaymentMethodTypeWallet PaymentMethodType = "wallet"
)

type AllowanceReason string

const (
	AllowanceReasonOneTime AllowanceReason = "one_time"
)

type RiskSignalType string

const (
	RiskSignalTypeCardTesting RiskSignalType = "card_testing"
)

type RiskSignalAction string

const (
	RiskSignalActionManualReview RiskSignalAction = "manual_review"
	RiskSignalActionAuthorized   RiskSignalAction = "authorized"
	RiskSignalActionBlocked      RiskSignalAction = "blocked"
)

// Validate runs go-playground/validator rules over the request.
func (r PaymentMandateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return normalizeValidationError(err)
	}
	return nil
}

package ap2

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports missing or unusable key material or algorithms.
	ErrConfiguration = errors.New("ap2: invalid configuration")
	// ErrSigningConfig reports a signer without a usable private key or algorithm.
	ErrSigningConfig = errors.New("ap2: signing is not configured")

	ErrMalformedMandate     = errors.New("ap2: malformed mandate")
	ErrUnsupportedAlgorithm = errors.New("ap2: unsupported mandate algorithm")
	ErrSignatureInvalid     = errors.New("ap2: mandate signature is invalid")
	ErrExpired              = errors.New("ap2: mandate has expired")
	ErrNotYetValid          = errors.New("ap2: mandate is not yet valid")
	ErrIssuedInFuture       = errors.New("ap2: mandate was issued in the future")
	ErrIssuerMismatch       = errors.New("ap2: mandate issuer mismatch")
	ErrAudienceMismatch     = errors.New("ap2: mandate audience mismatch")
	ErrHashMismatch         = errors.New("ap2: checkout hash does not match current checkout state")
	ErrSessionMismatch      = errors.New("ap2: mandate session_id mismatch")
	ErrNonceMismatch        = errors.New("ap2: mandate nonce mismatch")

	// ErrAlreadyVerified is returned when mandates were already consumed for a
	// session. A second verification never succeeds.
	ErrAlreadyVerified = errors.New("ap2: mandates already verified for this session")
	// ErrNonceMissing is returned when a session has no checkout nonce to bind to.
	ErrNonceMissing = errors.New("ap2: checkout nonce is missing for this session")
)

// Reason is the machine-readable code for a verification failure.
type Reason string

const (
	ReasonConfiguration        Reason = "configuration_error"
	ReasonSigningConfig        Reason = "signing_config_error"
	ReasonMalformedMandate     Reason = "malformed_mandate"
	ReasonUnsupportedAlgorithm Reason = "unsupported_algorithm"
	ReasonSignatureInvalid     Reason = "signature_invalid"
	ReasonExpired              Reason = "expired"
	ReasonNotYetValid          Reason = "not_yet_valid"
	ReasonIssuedInFuture       Reason = "issued_in_future"
	ReasonIssuerMismatch       Reason = "issuer_mismatch"
	ReasonAudienceMismatch     Reason = "audience_mismatch"
	ReasonHashMismatch         Reason = "hash_mismatch"
	ReasonSessionMismatch      Reason = "session_mismatch"
	ReasonNonceMismatch        Reason = "nonce_mismatch"
	ReasonAlreadyVerified      Reason = "already_verified"
	ReasonNonceMissing         Reason = "nonce_missing"
	ReasonUnknown              Reason = "mandate_verification_failed"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrConfiguration, ReasonConfiguration},
	{ErrSigningConfig, ReasonSigningConfig},
	{ErrMalformedMandate, ReasonMalformedMandate},
	{ErrUnsupportedAlgorithm, ReasonUnsupportedAlgorithm},
	{ErrSignatureInvalid, ReasonSignatureInvalid},
	{ErrExpired, ReasonExpired},
	{ErrNotYetValid, ReasonNotYetValid},
	{ErrIssuedInFuture, ReasonIssuedInFuture},
	{ErrIssuerMismatch, ReasonIssuerMismatch},
	{ErrAudienceMismatch, ReasonAudienceMismatch},
	{ErrHashMismatch, ReasonHashMismatch},
	{ErrSessionMismatch, ReasonSessionMismatch},
	{ErrNonceMismatch, ReasonNonceMismatch},
	{ErrAlreadyVerified, ReasonAlreadyVerified},
	{ErrNonceMissing, ReasonNonceMissing},
}

// ReasonOf maps err onto its [Reason]. Errors outside the taxonomy map to
// [ReasonUnknown].
func ReasonOf(err error) Reason {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnknown
}

// MandateKind names which of the two mandates an error refers to.
type MandateKind string

const (
	CheckoutMandate MandateKind = "checkout_mandate"
	PaymentMandate  MandateKind = "payment_mandate"
)

// VerificationError attributes a verification failure to one mandate.
type VerificationError struct {
	Mandate MandateKind
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Mandate, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Reason returns the failure code of the wrapped error.
func (e *VerificationError) Reason() Reason { return ReasonOf(e.Err) }

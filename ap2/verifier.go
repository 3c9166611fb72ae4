package ap2

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks checkout and payment mandates against a [Config]. The
// result depends only on the mandate, the expected values, the config and
// the injected clock.
type Verifier struct {
	cfg   *Config
	clock func() time.Time
}

// VerifierOption customizes a [Verifier].
type VerifierOption func(*Verifier)

// WithVerifierClock replaces time.Now.
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.clock = fn
		}
	}
}

// NewVerifier binds a verifier to cfg.
func NewVerifier(cfg *Config, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}
	v := &Verifier{cfg: cfg, clock: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(v)
	}
	return v, nil
}

// VerifyCheckoutMandate checks, in order: encoding, algorithm allow-list,
// signature against the platform key, temporal claims, issuer and audience,
// then binding to expectedHash, sessionID and nonce.
func (v *Verifier) VerifyCheckoutMandate(token, expectedHash, sessionID, nonce string) (*CheckoutClaims, error) {
	m, err := v.verifySigned(token, v.cfg.PlatformKey())
	if err != nil {
		return nil, err
	}
	var claims CheckoutClaims
	if err := m.Claims(&claims); err != nil {
		return nil, err
	}
	if err := v.validateRegistered(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if claims.CheckoutHash != expectedHash {
		return nil, ErrHashMismatch
	}
	if claims.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	if claims.Nonce != nonce {
		return nil, ErrNonceMismatch
	}
	return &claims, nil
}

// VerifyPaymentMandate checks encoding, algorithm, signature against the
// payment key, temporal claims, issuer and audience. It carries no binding
// to checkout state.
func (v *Verifier) VerifyPaymentMandate(token string) (*PaymentClaims, error) {
	m, err := v.verifySigned(token, v.cfg.PaymentKey())
	if err != nil {
		return nil, err
	}
	var claims PaymentClaims
	if err := m.Claims(&claims); err != nil {
		return nil, err
	}
	if err := v.validateRegistered(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (v *Verifier) verifySigned(token string, key VerificationKey) (*Mandate, error) {
	m, err := DecodeMandate(token)
	if err != nil {
		return nil, err
	}
	if !key.configured() {
		return nil, fmt.Errorf("%w: no verification key", ErrConfiguration)
	}
	alg := strings.ToUpper(m.Header.Alg)
	if !key.Allows(alg) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, m.Header.Alg)
	}
	method, err := Algorithm(alg).method()
	if err != nil {
		return nil, err
	}
	sig := m.Signature
	if Algorithm(alg) == ES256 && len(sig) != es256SignatureSize {
		if sig, err = rawES256Signature(sig); err != nil {
			return nil, ErrSignatureInvalid
		}
	}
	if err := method.Verify(m.SigningInput, sig, key.key); err != nil {
		if errors.Is(err, jwt.ErrInvalidKeyType) {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, ErrSignatureInvalid
	}
	return m, nil
}

const es256SignatureSize = 64

// rawES256Signature converts an ASN.1 DER ECDSA signature, as produced by
// OpenSSL-backed signers, into the fixed-width r||s form JWS uses.
func rawES256Signature(der []byte) ([]byte, error) {
	var rs struct {
		R, S *big.Int
	}
	rest, err := asn1.Unmarshal(der, &rs)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("ap2: trailing bytes after ECDSA signature")
	}
	if rs.R == nil || rs.S == nil || rs.R.Sign() <= 0 || rs.S.Sign() <= 0 {
		return nil, errors.New("ap2: ECDSA signature components must be positive")
	}
	half := es256SignatureSize / 2
	if rs.R.BitLen() > half*8 || rs.S.BitLen() > half*8 {
		return nil, errors.New("ap2: ECDSA signature component too large")
	}
	out := make([]byte, es256SignatureSize)
	rs.R.FillBytes(out[:half])
	rs.S.FillBytes(out[half:])
	return out, nil
}

// validateRegistered applies the skew symmetrically: a mandate stays valid
// until exp+skew and becomes valid at nbf-skew and iat-skew.
func (v *Verifier) validateRegistered(c jwt.RegisteredClaims) error {
	now := v.clock().Unix()
	skew := int64(v.cfg.ClockSkew() / time.Second)
	if c.ExpiresAt != nil && now > c.ExpiresAt.Unix()+skew {
		return ErrExpired
	}
	if c.NotBefore != nil && now+skew < c.NotBefore.Unix() {
		return ErrNotYetValid
	}
	if c.IssuedAt != nil && now+skew < c.IssuedAt.Unix() {
		return ErrIssuedInFuture
	}
	if iss := v.cfg.Issuer(); iss != "" && c.Issuer != iss {
		return ErrIssuerMismatch
	}
	if aud := v.cfg.Audience(); aud != "" && !slices.Contains(c.Audience, aud) {
		return ErrAudienceMismatch
	}
	return nil
}

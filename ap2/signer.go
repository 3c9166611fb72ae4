package ap2

import (
	"crypto"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CheckoutClaims is the payload of a checkout mandate.
type CheckoutClaims struct {
	CheckoutHash string `json:"checkout_hash"`
	SessionID    string `json:"session_id"`
	Nonce        string `json:"nonce"`
	jwt.RegisteredClaims
}

// PaymentClaims is the payload of a payment mandate. Only the registered
// time claims are required; the rest describe what the processor
// authorized.
type PaymentClaims struct {
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
	Amount            *int64 `json:"amount,omitempty"`
	Currency          string `json:"currency,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues mandates with one private key. The same type serves the
// merchant's checkout signature, a platform's checkout mandate and a
// processor's payment mandate.
type Signer struct {
	alg      Algorithm
	method   jwt.SigningMethod
	key      crypto.Signer
	maxAge   time.Duration
	issuer   string
	audience []string
	clock    func() time.Time
}

// SignerOption customizes a [Signer].
type SignerOption func(*Signer)

// WithSignerClock replaces time.Now.
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithMaxAge sets exp relative to iat. Defaults to [DefaultMandateMaxAge].
func WithMaxAge(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithIssuer stamps iss on issued mandates.
func WithIssuer(iss string) SignerOption {
	return func(s *Signer) {
		s.issuer = iss
	}
}

// WithAudience stamps aud on issued mandates.
func WithAudience(aud ...string) SignerOption {
	return func(s *Signer) {
		s.audience = slices.Clone(aud)
	}
}

// NewSigner returns a signer for alg. Failures wrap [ErrSigningConfig].
func NewSigner(alg Algorithm, key crypto.Signer, opts ...SignerOption) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key is required", ErrSigningConfig)
	}
	method, err := alg.method()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningConfig, err)
	}
	if !keyMatchesAlgorithm(alg, key) {
		return nil, fmt.Errorf("%w: key type %T cannot sign %s", ErrSigningConfig, key, alg)
	}
	s := &Signer{
		alg:    alg,
		method: method,
		key:    key,
		maxAge: DefaultMandateMaxAge,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// NewSignerFromConfig builds the merchant signer described by cfg.
func NewSignerFromConfig(cfg *Config, opts ...SignerOption) (*Signer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: protocol is disabled", ErrSigningConfig)
	}
	return NewSigner(cfg.SigningAlgorithm(), cfg.SigningKey(), append([]SignerOption{WithMaxAge(cfg.MandateMaxAge())}, opts...)...)
}

// Algorithm returns the signing algorithm.
func (s *Signer) Algorithm() Algorithm { return s.alg }

// IssueCheckoutMandate signs {checkout_hash, session_id, nonce, iat, exp}.
func (s *Signer) IssueCheckoutMandate(hash, sessionID, nonce string) (string, error) {
	claims := CheckoutClaims{
		CheckoutHash:     hash,
		SessionID:        sessionID,
		Nonce:            nonce,
		RegisteredClaims: s.registered(),
	}
	return s.Sign(claims)
}

// IssuePaymentMandate signs claims, filling iat, exp, iss and aud when the
// caller left them empty.
func (s *Signer) IssuePaymentMandate(claims PaymentClaims) (string, error) {
	reg := s.registered()
	if claims.IssuedAt == nil {
		claims.IssuedAt = reg.IssuedAt
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(claims.IssuedAt.Add(s.maxAge))
	}
	if claims.Issuer == "" {
		claims.Issuer = reg.Issuer
	}
	if len(claims.Audience) == 0 {
		claims.Audience = reg.Audience
	}
	return s.Sign(claims)
}

// Sign encodes claims as a mandate payload and signs it.
func (s *Signer) Sign(claims any) (string, error) {
	signingInput, err := EncodeSigningInput(Header{Alg: string(s.alg), Typ: HeaderType}, claims)
	if err != nil {
		return "", err
	}
	sig, err := s.method.Sign(signingInput, s.key)
	if err != nil {
		return "", fmt.Errorf("ap2: sign mandate: %w", err)
	}
	return AppendSignature(signingInput, sig), nil
}

func (s *Signer) registered() jwt.RegisteredClaims {
	iat := s.clock().Truncate(time.Second)
	reg := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(s.maxAge)),
	}
	if len(s.audience) > 0 {
		reg.Audience = jwt.ClaimStrings(slices.Clone(s.audience))
	}
	return reg
}

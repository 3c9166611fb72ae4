package ap2

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is a mandate signing algorithm.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	ES256 Algorithm = "ES256"
)

const (
	DefaultAlgorithm     = RS256
	DefaultClockSkew     = 60 * time.Second
	DefaultMandateMaxAge = 600 * time.Second
	DefaultVPFormat      = "sd-jwt"
)

// ParseAlgorithm accepts RS256 or ES256 in any letter case.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToUpper(strings.TrimSpace(s))); alg {
	case RS256, ES256:
		return alg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func (a Algorithm) method() (jwt.SigningMethod, error) {
	switch a {
	case RS256:
		return jwt.SigningMethodRS256, nil
	case ES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// ParsePrivateKey loads a PEM private key suitable for alg.
func ParsePrivateKey(alg Algorithm, pemData []byte) (crypto.Signer, error) {
	switch alg {
	case RS256:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
		if err != nil {
			return nil, err
		}
		return key, nil
	case ES256:
		key, err := jwt.ParseECPrivateKeyFromPEM(pemData)
		if err != nil {
			return nil, err
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("ES256 requires a P-256 key, got %s", key.Curve.Params().Name)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
}

// ParsePublicKey loads a PEM public key suitable for alg.
func ParsePublicKey(alg Algorithm, pemData []byte) (crypto.PublicKey, error) {
	switch alg {
	case RS256:
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
		if err != nil {
			return nil, err
		}
		return key, nil
	case ES256:
		key, err := jwt.ParseECPublicKeyFromPEM(pemData)
		if err != nil {
			return nil, err
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("ES256 requires a P-256 key, got %s", key.Curve.Params().Name)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
}

func keyMatchesAlgorithm(alg Algorithm, key any) bool {
	switch alg {
	case RS256:
		switch key.(type) {
		case *rsa.PublicKey, *rsa.PrivateKey:
			return true
		}
	case ES256:
		switch k := key.(type) {
		case *ecdsa.PublicKey:
			return k.Curve == elliptic.P256()
		case *ecdsa.PrivateKey:
			return k.Curve == elliptic.P256()
		}
	}
	return false
}

// Settings is the raw, string-typed configuration surface. [NewConfig]
// validates it into a [Config].
type Settings struct {
	Enabled bool

	SigningAlg           string
	SigningPrivateKeyPEM string
	SigningPublicKeyPEM  string

	PlatformPublicKeyPEM string
	PlatformAlg          string
	PaymentPublicKeyPEM  string
	PaymentAlg           string

	Issuer   string
	Audience string

	ClockSkew          time.Duration
	MandateMaxAge      time.Duration
	SupportedVPFormats []string
}

// VerificationKey is a verifier role: one public key and the algorithms it
// may be used with.
type VerificationKey struct {
	key        crypto.PublicKey
	algorithms []Algorithm
}

// NewVerificationKey pairs key with its allow-list. Every algorithm must be
// usable with the key type.
func NewVerificationKey(key crypto.PublicKey, algorithms ...Algorithm) (VerificationKey, error) {
	if key == nil {
		return VerificationKey{}, fmt.Errorf("%w: verification key is required", ErrConfiguration)
	}
	if len(algorithms) == 0 {
		return VerificationKey{}, fmt.Errorf("%w: at least one algorithm is required", ErrConfiguration)
	}
	for _, alg := range algorithms {
		if !keyMatchesAlgorithm(alg, key) {
			return VerificationKey{}, fmt.Errorf("%w: key type %T cannot verify %s", ErrConfiguration, key, alg)
		}
	}
	return VerificationKey{key: key, algorithms: slices.Clone(algorithms)}, nil
}

// Allows reports whether alg is on the allow-list.
func (k VerificationKey) Allows(alg string) bool {
	return slices.Contains(k.algorithms, Algorithm(alg))
}

// Algorithms returns a copy of the allow-list.
func (k VerificationKey) Algorithms() []Algorithm { return slices.Clone(k.algorithms) }

func (k VerificationKey) configured() bool { return k.key != nil }

// Config is the validated, immutable protocol configuration. Build it once
// at startup with [NewConfig] and share it by pointer.
type Config struct {
	enabled bool

	signingAlg Algorithm
	signingKey crypto.Signer

	platform VerificationKey
	payment  VerificationKey

	issuer   string
	audience string

	clockSkew time.Duration
	maxAge    time.Duration
	vpFormats []string
}

// NewConfig validates s. When the protocol is enabled every key must be
// present and parse for its algorithm; failures wrap [ErrConfiguration].
func NewConfig(s Settings) (*Config, error) {
	cfg := &Config{
		enabled:   s.Enabled,
		issuer:    strings.TrimSpace(s.Issuer),
		audience:  strings.TrimSpace(s.Audience),
		clockSkew: s.ClockSkew,
		maxAge:    s.MandateMaxAge,
	}
	if cfg.clockSkew == 0 {
		cfg.clockSkew = DefaultClockSkew
	}
	if cfg.maxAge == 0 {
		cfg.maxAge = DefaultMandateMaxAge
	}
	if cfg.clockSkew < 0 {
		return nil, fmt.Errorf("%w: clock skew must not be negative", ErrConfiguration)
	}
	if cfg.maxAge < 0 {
		return nil, fmt.Errorf("%w: mandate max age must not be negative", ErrConfiguration)
	}
	for _, f := range s.SupportedVPFormats {
		if f = strings.TrimSpace(f); f != "" {
			cfg.vpFormats = append(cfg.vpFormats, f)
		}
	}
	if len(cfg.vpFormats) == 0 {
		cfg.vpFormats = []string{DefaultVPFormat}
	}
	if !s.Enabled {
		return cfg, nil
	}

	signingAlg := DefaultAlgorithm
	if strings.TrimSpace(s.SigningAlg) != "" {
		alg, err := ParseAlgorithm(s.SigningAlg)
		if err != nil {
			return nil, fmt.Errorf("%w: signing algorithm: %v", ErrConfiguration, err)
		}
		signingAlg = alg
	}
	cfg.signingAlg = signingAlg

	if strings.TrimSpace(s.SigningPrivateKeyPEM) == "" {
		return nil, fmt.Errorf("%w: signing private key is required", ErrConfiguration)
	}
	signingKey, err := ParsePrivateKey(signingAlg, []byte(s.SigningPrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: signing private key: %v", ErrConfiguration, err)
	}
	cfg.signingKey = signingKey
	if strings.TrimSpace(s.SigningPublicKeyPEM) != "" {
		pub, err := ParsePublicKey(signingAlg, []byte(s.SigningPublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("%w: signing public key: %v", ErrConfiguration, err)
		}
		if !publicKeyEqual(signingKey.Public(), pub) {
			return nil, fmt.Errorf("%w: signing public key does not match the private key", ErrConfiguration)
		}
	}

	cfg.platform, err = verificationRole("platform", s.PlatformPublicKeyPEM, s.PlatformAlg, signingAlg)
	if err != nil {
		return nil, err
	}
	cfg.payment, err = verificationRole("payment", s.PaymentPublicKeyPEM, s.PaymentAlg, signingAlg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func verificationRole(role, pemData, algs string, fallback Algorithm) (VerificationKey, error) {
	if strings.TrimSpace(pemData) == "" {
		return VerificationKey{}, fmt.Errorf("%w: %s public key is required", ErrConfiguration, role)
	}
	allowed := []Algorithm{fallback}
	if strings.TrimSpace(algs) != "" {
		allowed = allowed[:0]
		for _, raw := range strings.Split(algs, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			alg, err := ParseAlgorithm(raw)
			if err != nil {
				return VerificationKey{}, fmt.Errorf("%w: %s algorithm: %v", ErrConfiguration, role, err)
			}
			allowed = append(allowed, alg)
		}
	}
	if len(allowed) == 0 {
		return VerificationKey{}, fmt.Errorf("%w: %s algorithm list is empty", ErrConfiguration, role)
	}
	key, err := ParsePublicKey(allowed[0], []byte(pemData))
	if err != nil {
		return VerificationKey{}, fmt.Errorf("%w: %s public key: %v", ErrConfiguration, role, err)
	}
	return NewVerificationKey(key, allowed...)
}

func publicKeyEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}

// Enabled reports whether the protocol is active.
func (c *Config) Enabled() bool { return c != nil && c.enabled }

// SigningAlgorithm is the algorithm checkout mandates are issued with.
func (c *Config) SigningAlgorithm() Algorithm { return c.signingAlg }

// SigningKey is the platform private key.
func (c *Config) SigningKey() crypto.Signer { return c.signingKey }

// PlatformKey verifies checkout mandates.
func (c *Config) PlatformKey() VerificationKey { return c.platform }

// PaymentKey verifies payment mandates.
func (c *Config) PaymentKey() VerificationKey { return c.payment }

// Issuer is the expected iss claim, empty when unchecked.
func (c *Config) Issuer() string { return c.issuer }

// Audience is the expected aud member, empty when unchecked.
func (c *Config) Audience() string { return c.audience }

// ClockSkew is the symmetric tolerance applied to temporal claims.
func (c *Config) ClockSkew() time.Duration { return c.clockSkew }

// MandateMaxAge is the lifetime of issued checkout mandates.
func (c *Config) MandateMaxAge() time.Duration { return c.maxAge }

// SupportedVPFormats lists the verifiable presentation formats advertised to
// platforms.
func (c *Config) SupportedVPFormats() []string { return slices.Clone(c.vpFormats) }

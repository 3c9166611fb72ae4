package ap2

import (
	"crypto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKeysMu sync.Mutex
	testKeys   = map[string]crypto.Signer{}
)

// testKey returns a cached key per name so RSA generation happens once per
// package run.
func testKey(t *testing.T, alg Algorithm, name string) crypto.Signer {
	t.Helper()

	testKeysMu.Lock()
	defer testKeysMu.Unlock()
	id := string(alg) + "/" + name
	if k, ok := testKeys[id]; ok {
		return k
	}
	k, err := GenerateKey(alg, nil)
	require.NoError(t, err)
	testKeys[id] = k
	return k
}

func publicPEM(t *testing.T, key crypto.Signer) string {
	t.Helper()
	out, err := EncodePublicKeyPEM(key.Public())
	require.NoError(t, err)
	return string(out)
}

func privatePEM(t *testing.T, key crypto.Signer) string {
	t.Helper()
	out, err := EncodePrivateKeyPEM(key)
	require.NoError(t, err)
	return string(out)
}

type fixture struct {
	cfg      *Config
	merchant *Signer
	platform *Signer
	payment  *Signer
	now      time.Time
}

func newFixture(t *testing.T, alg Algorithm, mutate func(*Settings)) fixture {
	t.Helper()

	merchantKey := testKey(t, alg, "merchant")
	platformKey := testKey(t, alg, "platform")
	paymentKey := testKey(t, alg, "payment")
	settings := Settings{
		Enabled:              true,
		SigningAlg:           string(alg),
		SigningPrivateKeyPEM: privatePEM(t, merchantKey),
		SigningPublicKeyPEM:  publicPEM(t, merchantKey),
		PlatformPublicKeyPEM: publicPEM(t, platformKey),
		PaymentPublicKeyPEM:  publicPEM(t, paymentKey),
	}
	if mutate != nil {
		mutate(&settings)
	}
	cfg, err := NewConfig(settings)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	merchant, err := NewSignerFromConfig(cfg, WithSignerClock(clock))
	require.NoError(t, err)
	platform, err := NewSigner(alg, platformKey, WithSignerClock(clock))
	require.NoError(t, err)
	payment, err := NewSigner(alg, paymentKey, WithSignerClock(clock))
	require.NoError(t, err)

	return fixture{cfg: cfg, merchant: merchant, platform: platform, payment: payment, now: now}
}

func (f fixture) verifierAt(t *testing.T, at time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(f.cfg, WithVerifierClock(func() time.Time { return at }))
	require.NoError(t, err)
	return v
}

package ap2

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSigningInput(t *testing.T) {
	t.Parallel()

	input, err := EncodeSigningInput(Header{Alg: "RS256", Typ: HeaderType}, map[string]any{
		"session_id": "cs_1",
		"iat":        1700000000,
	})
	require.NoError(t, err)

	parts := strings.Split(input, ".")
	require.Len(t, parts, 2)
	assert.NotContains(t, input, "=")

	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Equal(t, `{"alg":"RS256","typ":"JWT"}`, string(header))

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Equal(t, `{"iat":1700000000,"session_id":"cs_1"}`, string(payload))
}

func TestDecodeMandate(t *testing.T) {
	t.Parallel()

	header := EncodeSegment([]byte(`{"alg":"ES256","typ":"JWT"}`))
	payload := EncodeSegment([]byte(`{"nonce":"abc","exp":1}`))
	sig := EncodeSegment([]byte{0xfb, 0xff, 0x01})

	m, err := DecodeMandate(header + "." + payload + "." + sig)
	require.NoError(t, err)
	assert.Equal(t, "ES256", m.Header.Alg)
	assert.Equal(t, header+"."+payload, m.SigningInput)
	assert.Equal(t, []byte{0xfb, 0xff, 0x01}, m.Signature)
	assert.JSONEq(t, `{"nonce":"abc","exp":1}`, string(m.Payload))
}

func TestDecodeMandateKeepsOriginalSegments(t *testing.T) {
	t.Parallel()

	// Non-canonical JSON must survive untouched in the signing input.
	header := EncodeSegment([]byte(`{ "typ": "JWT", "alg": "RS256" }`))
	payload := EncodeSegment([]byte(`{"b":1,  "a":2}`))
	m, err := DecodeMandate(header + "." + payload + ".c2ln")
	require.NoError(t, err)
	assert.Equal(t, header+"."+payload, m.SigningInput)
}

func TestDecodeMandateErrors(t *testing.T) {
	t.Parallel()

	valid := EncodeSegment([]byte(`{"alg":"RS256","typ":"JWT"}`))
	tests := map[string]string{
		"empty":            "",
		"two segments":     valid + "." + valid,
		"four segments":    valid + "." + valid + "." + valid + "." + valid,
		"bad header b64":   "!!!." + valid + ".c2ln",
		"header not json":  EncodeSegment([]byte("nope")) + "." + valid + ".c2ln",
		"payload not json": valid + "." + EncodeSegment([]byte("[")) + ".c2ln",
		"payload array":    valid + "." + EncodeSegment([]byte("[1]")) + ".c2ln",
		"bad signature":    valid + "." + valid + ".***",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeMandate(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMandate), "got %v", err)
			assert.Equal(t, ReasonMalformedMandate, ReasonOf(err))
		})
	}
}

func TestDecodeSegmentRepads(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"a", "ab", "abc", "abcd", "\xff\xfe"} {
		enc := EncodeSegment([]byte(raw))
		assert.NotContains(t, enc, "=")
		got, err := DecodeSegment(enc)
		require.NoError(t, err)
		assert.Equal(t, raw, string(got))

		padded, err := DecodeSegment(base64.URLEncoding.EncodeToString([]byte(raw)))
		require.NoError(t, err)
		assert.Equal(t, raw, string(padded))
	}
}

func TestNewNonce(t *testing.T) {
	t.Parallel()

	fixed := strings.NewReader(strings.Repeat("\x00", NonceSize))
	nonce, err := NewNonce(fixed)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAAAA", nonce)

	a, err := NewNonce(nil)
	require.NoError(t, err)
	b, err := NewNonce(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 22)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")

	_, err = NewNonce(strings.NewReader("short"))
	require.Error(t, err)
}

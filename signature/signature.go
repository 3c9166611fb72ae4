// Package signature authenticates gateway requests with a shared-secret HMAC.
//
// The signed payload binds the timestamp, the HTTP method, the request path
// and the canonical JSON body:
//
//	RFC3339Nano(ts) "." METHOD "." path "." canonicalJSON(body)
//
// A signature captured for one route therefore cannot be replayed against
// another, e.g. an update body against the complete endpoint.
package signature

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Header names carrying the signature and its timestamp.
const (
	HeaderSignature = "Signature"
	HeaderTimestamp = "Timestamp"
)

var (
	// ErrNoKey is returned by signers and verifiers built without a secret.
	ErrNoKey = errors.New("signature: no signing key configured")
	// ErrMalformed reports a Signature header that is not base64url.
	ErrMalformed = errors.New("signature: malformed signature")
	// ErrMismatch reports a well-formed signature no configured key produced.
	ErrMismatch = errors.New("signature: signature does not match")
)

// Material is what the middleware extracted from a request for verification.
type Material struct {
	Signature     string
	Timestamp     time.Time
	Method        string
	Path          string
	CanonicalBody []byte
	Headers       http.Header
}

// Verifier validates signed requests.
type Verifier interface {
	Verify(ctx context.Context, material Material) error
}

// VerifierFunc adapts a function to [Verifier].
type VerifierFunc func(ctx context.Context, material Material) error

func (f VerifierFunc) Verify(ctx context.Context, material Material) error {
	return f(ctx, material)
}

// HMACVerifier checks HMAC-SHA256 signatures. PreviousKeys are accepted as
// well so a secret can be rotated without rejecting in-flight clients.
type HMACVerifier struct {
	Key          []byte
	PreviousKeys [][]byte
}

func (v HMACVerifier) Verify(_ context.Context, m Material) error {
	if len(v.Key) == 0 {
		return ErrNoKey
	}
	got, err := base64.RawURLEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload := BuildSigningPayload(m.Timestamp, m.Method, m.Path, m.CanonicalBody)
	for _, key := range append([][]byte{v.Key}, v.PreviousKeys...) {
		if len(key) > 0 && hmac.Equal(got, mac(key, payload)) {
			return nil
		}
	}
	return ErrMismatch
}

// HMACSigner is the client half of [HMACVerifier].
type HMACSigner struct {
	Key []byte
}

// Sign returns the Signature header value for a request.
func (s HMACSigner) Sign(ts time.Time, method, path string, body []byte) (string, error) {
	if len(s.Key) == 0 {
		return "", ErrNoKey
	}
	canonical, err := CanonicalizeJSONBody(body)
	if err != nil {
		return "", fmt.Errorf("signature: canonicalize body: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac(s.Key, BuildSigningPayload(ts, method, path, canonical))), nil
}

// SignRequest signs r in place. The body is buffered and stays readable.
func (s HMACSigner) SignRequest(r *http.Request, ts time.Time) error {
	raw, err := ReadAndBufferBody(r)
	if err != nil {
		return fmt.Errorf("signature: read body: %w", err)
	}
	sig, err := s.Sign(ts, r.Method, r.URL.Path, raw)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderTimestamp, ts.UTC().Format(time.RFC3339Nano))
	r.Header.Set(HeaderSignature, sig)
	return nil
}

func mac(key, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(payload)
	return h.Sum(nil)
}

// BuildSigningPayload assembles the bytes that get MACed.
func BuildSigningPayload(ts time.Time, method, path string, canonicalBody []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(ts.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('.')
	buf.WriteString(strings.ToUpper(method))
	buf.WriteByte('.')
	buf.WriteString(path)
	buf.WriteByte('.')
	buf.Write(canonicalBody)
	return buf.Bytes()
}

// ReadAndBufferBody drains r.Body and replaces it with an in-memory copy.
func ReadAndBufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		r.Body = http.NoBody
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// CanonicalizeJSONBody renders a body in canonical JSON. An empty body
// canonicalizes to null so GET requests can be signed too.
func CanonicalizeJSONBody(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents in body")
	}
	return canonicaljson.Marshal(payload)
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("signature: empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}

// WithinSkew reports whether ts lies within maxSkew of now in either
// direction. A non-positive maxSkew disables the check.
func WithinSkew(now, ts time.Time, maxSkew time.Duration) bool {
	if maxSkew <= 0 {
		return true
	}
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= maxSkew
}

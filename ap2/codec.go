package ap2

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header is the protected header of a mandate.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// HeaderType is the only typ value mandates are issued with.
const HeaderType = "JWT"

// Mandate is a decoded header.payload.signature triple. SigningInput holds
// the first two segments exactly as received, which is what signatures are
// checked against.
type Mandate struct {
	Header       Header
	Payload      json.RawMessage
	Signature    []byte
	SigningInput string
}

// EncodeSegment applies base64url encoding without padding.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment reverses [EncodeSegment]. Padded input is tolerated.
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if rem := len(seg) % 4; rem != 0 {
		seg += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.DecodeString(seg)
}

// EncodeSigningInput renders base64url(header) "." base64url(payload). Both
// segments carry the canonical JSON form of their document.
func EncodeSigningInput(h Header, payload any) (string, error) {
	hv, err := ValueOf(h)
	if err != nil {
		return "", err
	}
	hs, err := Canonicalize(hv)
	if err != nil {
		return "", fmt.Errorf("ap2: encode header: %w", err)
	}
	pv, err := ValueOf(payload)
	if err != nil {
		return "", err
	}
	ps, err := Canonicalize(pv)
	if err != nil {
		return "", fmt.Errorf("ap2: encode payload: %w", err)
	}
	return EncodeSegment([]byte(hs)) + "." + EncodeSegment([]byte(ps)), nil
}

// AppendSignature completes a signing input into a mandate.
func AppendSignature(signingInput string, sig []byte) string {
	return signingInput + "." + EncodeSegment(sig)
}

// DecodeMandate splits and decodes a mandate without checking its signature.
func DecodeMandate(token string) (*Mandate, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedMandate, len(parts))
	}
	rawHeader, err := DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedMandate, err)
	}
	var h Header
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedMandate, err)
	}
	rawPayload, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedMandate, err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(rawPayload, &probe); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedMandate, err)
	}
	sig, err := DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedMandate, err)
	}
	return &Mandate{
		Header:       h,
		Payload:      rawPayload,
		Signature:    sig,
		SigningInput: parts[0] + "." + parts[1],
	}, nil
}

// Claims decodes the payload into dst.
func (m *Mandate) Claims(dst any) error {
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: claims: %v", ErrMalformedMandate, err)
	}
	return nil
}

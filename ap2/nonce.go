package ap2

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// NonceSize is the number of random bytes behind every checkout nonce.
const NonceSize = 16

// NewNonce draws [NonceSize] bytes from r and returns them base64url-encoded
// without padding. A nil reader uses crypto/rand.
func NewNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("ap2: read nonce entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

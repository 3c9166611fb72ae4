package ucp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sumup/ucp/signature"
)

type signatureMiddlewareConfig struct {
	Verifier      signature.Verifier
	RequireSigned bool
	MaxClockSkew  time.Duration
	Clock         func() time.Time
}

// newSignatureMiddleware checks the Signature and Timestamp headers. Unsigned
// requests pass through unless RequireSigned is set; a request that carries
// either header must carry both and verify.
func newSignatureMiddleware(cfg signatureMiddlewareConfig) Middleware {
	if cfg.Verifier == nil {
		return nil
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sig := strings.TrimSpace(r.Header.Get(signature.HeaderSignature))
			stamp := strings.TrimSpace(r.Header.Get(signature.HeaderTimestamp))
			if sig == "" && stamp == "" && !cfg.RequireSigned {
				next(w, r)
				return
			}
			if httpErr := verifySignedRequest(r, sig, stamp, cfg); httpErr != nil {
				writeJSONError(w, httpErr)
				return
			}
			next(w, r)
		}
	}
}

func verifySignedRequest(r *http.Request, sig, stamp string, cfg signatureMiddlewareConfig) *Error {
	switch {
	case sig == "" && stamp == "":
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, SignatureRequired,
			"Signature and Timestamp headers are required")
	case sig == "" || stamp == "":
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, InvalidSignature,
			"Signature and Timestamp headers must both be provided")
	}
	ts, err := signature.ParseTimestamp(stamp)
	if err != nil {
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, InvalidSignature, "Timestamp must be RFC3339")
	}
	if !signature.WithinSkew(cfg.Clock(), ts, cfg.MaxClockSkew) {
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, StaleTimestamp,
			fmt.Sprintf("timestamp skew exceeds %s", cfg.MaxClockSkew))
	}
	raw, err := signature.ReadAndBufferBody(r)
	if err != nil {
		return NewInvalidRequestError("unable to read request body")
	}
	body, err := signature.CanonicalizeJSONBody(raw)
	if err != nil {
		return NewInvalidRequestError("request body must be valid JSON")
	}
	err = cfg.Verifier.Verify(r.Context(), signature.Material{
		Signature:     sig,
		Timestamp:     ts.UTC(),
		Method:        r.Method,
		Path:          r.URL.Path,
		CanonicalBody: body,
		Headers:       r.Header.Clone(),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signature.ErrMalformed):
		return NewHTTPError(http.StatusBadRequest, InvalidRequest, InvalidSignature, "Signature must be base64url")
	default:
		return NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidSignature, "signature verification failed")
	}
}

package ucp

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates API keys before the request reaches the provider.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) error
}

// AuthenticatorFunc lifts bare functions into [Authenticator].
type AuthenticatorFunc func(ctx context.Context, apiKey string) error

// Authenticate validates the API key using the wrapped function.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, apiKey string) error {
	return f(ctx, apiKey)
}

// ErrInvalidAPIKey is returned by [StaticAPIKey] for a non-matching key.
var ErrInvalidAPIKey = errors.New("ucp: invalid API key")

// StaticAPIKey accepts exactly one shared secret, compared in constant time.
func StaticAPIKey(key string) Authenticator {
	expected := []byte(key)
	return AuthenticatorFunc(func(_ context.Context, apiKey string) error {
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(apiKey), expected) != 1 {
			return ErrInvalidAPIKey
		}
		return nil
	})
}

// apiKeyFromRequest extracts the API key according to header. The
// Authorization header must use the Bearer scheme; any other header carries
// the key verbatim.
func apiKeyFromRequest(r *http.Request, header string) (string, *Error) {
	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, MissingAuthorization, header+" header is required")
	}
	if header != "Authorization" {
		return value, nil
	}
	schema, apiKey, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(schema, "Bearer") {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "Authorization header must be in the format 'Bearer <api_key>'")
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey == "" {
		return "", NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "API key is required")
	}
	return apiKey, nil
}

func newAuthenticationMiddleware(auth Authenticator, header string) Middleware {
	if auth == nil {
		return nil
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			apiKey, httpErr := apiKeyFromRequest(r, header)
			if httpErr != nil {
				writeJSONError(w, httpErr)
				return
			}
			if err := auth.Authenticate(r.Context(), apiKey); err != nil {
				if errors.As(err, &httpErr) {
					writeJSONError(w, httpErr)
					return
				}
				writeJSONError(w, NewHTTPError(http.StatusUnauthorized, InvalidRequest, InvalidAuthorization, "invalid API key"))
				return
			}
			next(w, r)
		}
	}
}

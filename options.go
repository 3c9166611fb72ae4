package ucp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sumup/ucp/signature"
)

type config struct {
	signatureVerifier     signature.Verifier
	maxClockSkew          time.Duration
	requireSignedRequests bool
	middleware            []Middleware
	authenticator         Authenticator
	apiKeyHeader          string
	rateLimit             *rateLimitConfig
	profile               *Profile
	checkoutURL           string
	logger                *slog.Logger
	clock                 func() time.Time
}

func defaultConfig() config {
	return config{
		maxClockSkew: 5 * time.Minute,
		apiKeyHeader: "Authorization",
		logger:       slog.Default(),
		clock:        time.Now,
	}
}

type Middleware func(http.HandlerFunc) http.HandlerFunc

func applyMiddleware(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Option customizes the handler behavior.
type Option func(*config)

// WithSignatureVerifier enables canonical JSON signature enforcement.
func WithSignatureVerifier(verifier signature.Verifier) Option {
	return func(cfg *config) {
		cfg.signatureVerifier = verifier
	}
}

// WithMaxClockSkew sets the tolerated absolute difference between the
// Timestamp header and the server clock when verifying signed requests.
func WithMaxClockSkew(skew time.Duration) Option {
	if skew <= 0 {
		panic("ucp: max clock skew must be positive")
	}
	return func(cfg *config) {
		cfg.maxClockSkew = skew
	}
}

// WithRequireSignedRequests enforces that every request carries Signature and
// Timestamp headers when a verifier is configured.
func WithRequireSignedRequests() Option {
	return func(cfg *config) {
		cfg.requireSignedRequests = true
	}
}

// WithMiddleware appends custom middleware in the order provided.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m == nil {
				continue
			}
			cfg.middleware = append(cfg.middleware, m)
		}
	}
}

// WithAuthenticator enables API key validation on protected routes.
func WithAuthenticator(auth Authenticator) Option {
	return func(cfg *config) {
		cfg.authenticator = auth
	}
}

// WithAPIKeyHeader reads the API key from header instead of a Bearer
// Authorization header. The header value is taken verbatim.
func WithAPIKeyHeader(header string) Option {
	return func(cfg *config) {
		if header != "" {
			cfg.apiKeyHeader = http.CanonicalHeaderKey(header)
		}
	}
}

// WithRateLimit allows each client rps requests per second with the given
// burst on protected routes. Clients are keyed by remote address.
func WithRateLimit(rps float64, burst int) Option {
	if rps <= 0 || burst <= 0 {
		panic("ucp: rate limit and burst must be positive")
	}
	return func(cfg *config) {
		cfg.rateLimit = &rateLimitConfig{rps: rps, burst: burst}
	}
}

// WithDiscoveryProfile serves p at GET /.well-known/ucp.
func WithDiscoveryProfile(p Profile) Option {
	return func(cfg *config) {
		cfg.profile = &p
	}
}

// WithCheckoutURL enables GET /continue/{id}, a browser handoff page linking
// to the merchant's own checkout at url.
func WithCheckoutURL(url string) Option {
	return func(cfg *config) {
		cfg.checkoutURL = url
	}
}

// WithLogger sets the logger used for unexpected provider errors.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// withClock provides deterministic time in tests.
func withClock(fn func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = fn
	}
}

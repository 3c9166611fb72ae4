package checkout

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sumup/ucp/session"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBackendTimeout bounds each commerce backend call.
const DefaultBackendTimeout = 20 * time.Second

// OrderNotifier is told about orders after they are placed. [ucp.WebhookSender]
// satisfies it.
type OrderNotifier interface {
	NotifyOrderCreated(ctx context.Context, sessionID, orderID string) error
}

// Option customizes a [Service].
type Option func(*Service)

// WithClock replaces time.Now for session timestamps, mandate issuance and
// verification.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithNonceSource sets the randomness used for checkout nonces. Defaults to
// crypto/rand.
func WithNonceSource(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.nonceSource = r
		}
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the logger for audit events and backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider sets the provider spans are started from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider counters are created from. Defaults to
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meter = mp.Meter(instrumentationName)
		}
	}
}

// WithPaymentMethod sets the backend payment method code used to place
// orders. Without one, completion hands the buyer off through continue_url.
func WithPaymentMethod(code string) Option {
	return func(s *Service) {
		s.paymentMethod = strings.TrimSpace(code)
	}
}

// WithBackendTimeout bounds each backend call. Defaults to
// [DefaultBackendTimeout].
func WithBackendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.backendTimeout = d
		}
	}
}

// WithBaseURL sets the public gateway URL continue_url is built from.
func WithBaseURL(url string) Option {
	return func(s *Service) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithDebug adds the backend cart id and update time to responses.
func WithDebug(enabled bool) Option {
	return func(s *Service) {
		s.exposeDebug = enabled
	}
}

// WithBackendErrorDetails copies the backend's error body into error
// responses.
func WithBackendErrorDetails(enabled bool) Option {
	return func(s *Service) {
		s.exposeBackendErrors = enabled
	}
}

// WithOrderNotifier registers n to hear about placed orders. Notification
// failures are logged and do not fail the completion.
func WithOrderNotifier(n OrderNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithStore replaces the in-memory session store.
func WithStore(store session.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker replaces the in-process per-session lock. Gateways sharing a
// store across replicas must share a locker too, e.g. [session.RedisLocker].
func WithLocker(locker session.Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locks = locker
		}
	}
}

var defaultNonceSource io.Reader = rand.Reader

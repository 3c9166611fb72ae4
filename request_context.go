package ucp

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestContext is the per-request metadata handlers place on the context
// before calling a provider.
type RequestContext struct {
	// RequestID correlates logs across the gateway. Taken from Request-Id or
	// X-Request-Id, generated otherwise, and echoed in the response.
	RequestID string
	// Agent is the UCP-Agent header: the calling platform's profile, e.g.
	// `profile="https://agent.example/.well-known/ucp"`.
	Agent string
	// UserAgent of the HTTP client.
	UserAgent string
	// ClientIP is the remote host without port. Behind a proxy it is only
	// meaningful when a real-IP middleware ran first.
	ClientIP string
	// IdempotencyKey as sent by the client.
	IdempotencyKey string
	// AcceptLanguage preferred for messages, e.g. en-US.
	AcceptLanguage string
	// APIVersion the client asked for.
	APIVersion string
	// Signed reports whether the request carried a Signature header.
	Signed bool
}

// LogAttrs returns the fields safe to attach to audit and error logs.
func (rc *RequestContext) LogAttrs() []slog.Attr {
	if rc == nil {
		return nil
	}
	attrs := []slog.Attr{slog.String("request_id", rc.RequestID)}
	if rc.Agent != "" {
		attrs = append(attrs, slog.String("ucp_agent", rc.Agent))
	}
	if rc.IdempotencyKey != "" {
		attrs = append(attrs, slog.String("idempotency_key", rc.IdempotencyKey))
	}
	return attrs
}

func requestContextFromRequest(r *http.Request) *RequestContext {
	header := func(name string) string { return strings.TrimSpace(r.Header.Get(name)) }
	requestID := header("Request-Id")
	if requestID == "" {
		requestID = header("X-Request-Id")
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &RequestContext{
		RequestID:      requestID,
		Agent:          header("UCP-Agent"),
		UserAgent:      header("User-Agent"),
		ClientIP:       clientIP(r.RemoteAddr),
		IdempotencyKey: header("Idempotency-Key"),
		AcceptLanguage: header("Accept-Language"),
		APIVersion:     header("API-Version"),
		Signed:         header("Signature") != "",
	}
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

type requestContextKey struct{}

// ContextWithRequestContext attaches rc to ctx. Providers called outside the
// HTTP handlers (tests, batch jobs) can use it to carry the same metadata.
func ContextWithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFromContext returns the metadata stored by the handler, or nil.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

func withRequestContext(w http.ResponseWriter, r *http.Request) *http.Request {
	rc := requestContextFromRequest(r)
	w.Header().Set("Request-Id", rc.RequestID)
	return r.WithContext(ContextWithRequestContext(r.Context(), rc))
}

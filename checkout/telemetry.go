package checkout

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumup/ucp"
)

const instrumentationName = "github.com/sumup/ucp/checkout"

// Audit events. They carry the session id, request correlation and outcome,
// never buyer data or mandate contents.
const (
	eventVerificationAttempt = "ap2_mandate_verification_attempt"
	eventVerificationSuccess = "ap2_mandate_verification_success"
	eventVerificationFailed  = "ap2_mandate_verification_failed"
)

type instruments struct {
	verifications metric.Int64Counter
	orders        metric.Int64Counter
}

func newInstruments(m metric.Meter) (instruments, error) {
	verifications, err := m.Int64Counter("ucp.ap2.mandate_verifications",
		metric.WithDescription("AP2 mandate verification outcomes"))
	if err != nil {
		return instruments{}, err
	}
	orders, err := m.Int64Counter("ucp.checkout.orders",
		metric.WithDescription("Order placement outcomes"))
	if err != nil {
		return instruments{}, err
	}
	return instruments{verifications: verifications, orders: orders}, nil
}

// track starts a span for one session operation. The returned func ends it
// and records err on the span.
func (s *Service) track(ctx context.Context, name, sessionID string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("ucp.session_id", sessionID)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (s *Service) audit(ctx context.Context, event, sessionID string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", event),
		slog.String("session_id", sessionID),
	}
	base = append(base, ucp.RequestContextFromContext(ctx).LogAttrs()...)
	s.logger.LogAttrs(ctx, slog.LevelInfo, event, append(base, attrs...)...)
}

func (s *Service) countVerification(ctx context.Context, outcome string) {
	s.metrics.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Service) countOrder(ctx context.Context, outcome string) {
	s.metrics.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sumup/ucp"
	"github.com/sumup/ucp/ap2"
	"github.com/sumup/ucp/checkout"
	"github.com/sumup/ucp/commerce"
	"github.com/sumup/ucp/commerce/magento"
	"github.com/sumup/ucp/commerce/memory"
	"github.com/sumup/ucp/internal/config"
	"github.com/sumup/ucp/session"
	"github.com/sumup/ucp/signature"
)

const maxRequestBody = 1 << 20

type gateway struct {
	router      http.Handler
	backendName string
	ap2Enabled  bool
	closers     []func() error
}

// newGateway wires the backend, session store, orchestrator and HTTP
// surface described by cfg.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	gw := &gateway{}

	ap2Config, err := ap2.NewConfig(cfg.AP2Settings())
	if err != nil {
		return nil, fmt.Errorf("ap2 config: %w", err)
	}
	gw.ap2Enabled = ap2Config.Enabled()

	backend, name, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	gw.backendName = name

	opts := []checkout.Option{
		checkout.WithLogger(logger),
		checkout.WithPaymentMethod(cfg.PaymentMethodCode),
		checkout.WithBackendTimeout(cfg.Magento.Timeout),
		checkout.WithBaseURL(cfg.BaseURL),
		checkout.WithDebug(cfg.ExposeDebug),
		checkout.WithBackendErrorDetails(cfg.ExposeBackendErrors),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		gw.closers = append(gw.closers, client.Close)
		locker := session.NewRedisLocker(client, session.WithReleaseErrorHandler(func(id string, err error) {
			logger.Warn("session lock release failed", slog.String("session_id", id), slog.Any("error", err))
		}))
		opts = append(opts,
			checkout.WithStore(session.NewRedisStore(client)),
			checkout.WithLocker(locker),
		)
	}
	if cfg.Webhook.URL != "" {
		sender, err := ucp.NewWebhookSender(ucp.WebhookOptions{
			Endpoint:  cfg.Webhook.URL,
			SecretKey: []byte(cfg.Webhook.Secret),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, checkout.WithOrderNotifier(sender))
	}

	svc, err := checkout.New(backend, ap2Config, opts...)
	if err != nil {
		return nil, err
	}

	handlerOpts := []ucp.Option{
		ucp.WithLogger(logger),
		ucp.WithDiscoveryProfile(ucp.NewProfile(cfg.BaseURL, cfg.MerchantName, ap2Config.Enabled(), ap2Config.SupportedVPFormats())),
	}
	if cfg.Magento.CheckoutURL != "" {
		handlerOpts = append(handlerOpts, ucp.WithCheckoutURL(cfg.Magento.CheckoutURL))
	}
	if cfg.APIKey != "" {
		handlerOpts = append(handlerOpts, ucp.WithAuthenticator(ucp.StaticAPIKey(cfg.APIKey)))
		if cfg.APIKeyHeader != "" {
			handlerOpts = append(handlerOpts, ucp.WithAPIKeyHeader(cfg.APIKeyHeader))
		}
	} else {
		logger.Warn("API_KEY is not set; checkout routes are unauthenticated")
	}
	if cfg.RateLimit.RPS > 0 {
		handlerOpts = append(handlerOpts, ucp.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.RequestSigningSecret != "" {
		handlerOpts = append(handlerOpts,
			ucp.WithSignatureVerifier(signature.HMACVerifier{Key: []byte(cfg.RequestSigningSecret)}),
			ucp.WithRequireSignedRequests(),
		)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return http.MaxBytesHandler(next, maxRequestBody) })
	r.Mount("/", ucp.NewCheckoutHandler(svc, handlerOpts...))
	gw.router = r
	return gw, nil
}

func newBackend(cfg *config.Config) (commerce.Backend, string, error) {
	if cfg.Magento.BaseURL == "" {
		return memory.New("usd", memory.DefaultCatalog()), "memory", nil
	}
	client, err := magento.New(cfg.Magento.BaseURL, cfg.Magento.AdminToken,
		magento.WithStoreCode(cfg.Magento.StoreCode),
		magento.WithTimeout(cfg.Magento.Timeout),
	)
	if err != nil {
		return nil, "", fmt.Errorf("magento client: %w", err)
	}
	return client, "magento", nil
}

// Close releases external connections.
func (g *gateway) Close() {
	for _, c := range g.closers {
		_ = c()
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			// Hand chi's id to the ucp handlers so logs and the echoed
			// Request-Id header agree.
			if id := middleware.GetReqID(r.Context()); id != "" && r.Header.Get("Request-Id") == "" {
				r.Header.Set("X-Request-Id", id)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

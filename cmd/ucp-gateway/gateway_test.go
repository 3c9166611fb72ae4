package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumup/ucp/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		BaseURL:      "https://gateway.example.com",
		MerchantName: "Test Merchant",
		APIKey:       "secret",
		APIKeyHeader: "X-API-Key",
		Magento:      config.Magento{Timeout: time.Second, CheckoutURL: "https://shop.example.com/checkout"},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := newGateway(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	assert.Equal(t, "memory", gw.backendName)

	srv := httptest.NewServer(gw.router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, apiKey, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestGatewayRoutes(t *testing.T) {
	srv := newTestGateway(t, testConfig())

	resp, _ := do(t, http.MethodGet, srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, profile := do(t, http.MethodGet, srv.URL+"/.well-known/ucp", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UCP", profile["protocol"])
	assert.Equal(t, map[string]any{"name": "Test Merchant"}, profile["merchant"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/checkout-sessions", "", `{"line_items":[{"sku":"mug","quantity":1}]}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, created := do(t, http.MethodPost, srv.URL+"/checkout-sessions", "secret", `{"line_items":[{"sku":"mug","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "incomplete", created["status"])
	assert.Contains(t, resp.Header.Get("Request-Id"), "/", "chi request id is echoed")
	assert.Equal(t, "https://gateway.example.com/continue/"+created["id"].(string), created["continue_url"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/continue/"+created["id"].(string), "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestGatewayRejectsOversizedBody(t *testing.T) {
	srv := newTestGateway(t, testConfig())

	body := `{"line_items":[{"sku":"` + strings.Repeat("x", maxRequestBody) + `","quantity":1}]}`
	resp, _ := do(t, http.MethodPost, srv.URL+"/checkout-sessions", "secret", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	srv := newTestGateway(t, cfg)

	resp, created := do(t, http.MethodPost, srv.URL+"/checkout-sessions", "secret", `{"line_items":[{"sku":"beans","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, mr.Exists("ucp:session:"+created["id"].(string)))

	resp, got := do(t, http.MethodGet, srv.URL+"/checkout-sessions/"+created["id"].(string), "secret", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created["id"], got["id"])
	assert.False(t, mr.Exists("ucp:lock:"+created["id"].(string)), "lock released")

	// Another replica holding the session lock blocks this one.
	lockKey := "ucp:lock:" + created["id"].(string)
	require.NoError(t, mr.Set(lockKey, "other-replica"))
	done := make(chan int, 1)
	go func() {
		resp, _ := do(t, http.MethodGet, srv.URL+"/checkout-sessions/"+created["id"].(string), "secret", "")
		done <- resp.StatusCode
	}()
	select {
	case code := <-done:
		t.Fatalf("request finished with %d while another replica held the lock", code)
	case <-time.After(100 * time.Millisecond):
	}
	mr.Del(lockKey)
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("request still blocked after the lock was released")
	}
}

func TestGatewayRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	_, err := newGateway(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "redis ping")
}

func TestGatewayRejectsBrokenAP2Config(t *testing.T) {
	cfg := testConfig()
	cfg.AP2.Enabled = true

	_, err := newGateway(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "ap2 config")
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("DEBUG").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("").Enabled(ctx, slog.LevelInfo))
}

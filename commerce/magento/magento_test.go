package magento

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumup/ucp/commerce"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request), opts ...Option) (*Client, func() []recorded) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", "admin-token", append([]Option{WithStoreCode("en")}, opts...)...)
	require.NoError(t, err)
	return c, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(calls)
	}
}

func TestCartFlow(t *testing.T) {
	t.Parallel()

	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/en/V1/guest-carts":
			_, _ = io.WriteString(w, `"masked123"`)
		case "/rest/en/V1/guest-carts/masked123/items":
			_, _ = io.WriteString(w, `{"item_id":1}`)
		case "/rest/en/V1/guest-carts/masked123/totals":
			_, _ = io.WriteString(w, `{"grand_total":15}`)
		case "/rest/en/V1/guest-carts/masked123/estimate-shipping-methods":
			_, _ = io.WriteString(w, `[{"carrier_code":"flatrate","method_code":"flatrate","amount":5}]`)
		case "/rest/en/V1/guest-carts/masked123/shipping-information":
			_, _ = io.WriteString(w, `{"payment_methods":[],"totals":{"grand_total":20}}`)
		case "/rest/en/V1/guest-carts/masked123/payment-information":
			_, _ = io.WriteString(w, `"000000042"`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()
	addr := commerce.Address{
		Firstname: "Ada",
		Lastname:  "Lovelace",
		Street:    []string{"1 Main St"},
		City:      "Detroit",
		Postcode:  "48201",
		CountryID: "US",
		Telephone: "5551234",
	}

	cartID, err := c.CreateCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, "masked123", cartID)

	require.NoError(t, c.AddItem(ctx, cartID, "mug", 2))

	totals, err := c.GetTotals(ctx, cartID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grand_total":15}`, string(totals))

	methods, err := c.EstimateShipping(ctx, cartID, addr)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"carrier_code":"flatrate","method_code":"flatrate","amount":5}]`, string(methods))

	totals, err = c.SetShippingInformation(ctx, cartID, addr, commerce.ShippingMethod{CarrierCode: "flatrate", MethodCode: "flatrate"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"grand_total":20}`, string(totals))

	orderID, err := c.PlaceOrder(ctx, cartID, "checkmo", "ada@example.com", addr)
	require.NoError(t, err)
	assert.Equal(t, "000000042", orderID)

	got := calls()
	require.Len(t, got, 6)
	for _, call := range got {
		assert.Equal(t, "Bearer admin-token", call.auth)
	}

	assert.Equal(t, map[string]any{"quote_id": "masked123", "sku": "mug", "qty": float64(2)}, got[1].body["cartItem"])

	estimate := got[3].body["address"].(map[string]any)
	assert.Equal(t, "Detroit", estimate["city"])
	assert.Equal(t, float64(1), estimate["same_as_billing"])

	info := got[4].body["addressInformation"].(map[string]any)
	assert.Equal(t, "flatrate", info["shipping_carrier_code"])
	assert.Equal(t, "flatrate", info["shipping_method_code"])

	assert.Equal(t, "ada@example.com", got[5].body["email"])
	assert.Equal(t, map[string]any{"method": "checkmo"}, got[5].body["paymentMethod"])
}

func TestPlaceOrderNumericID(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `17`)
	})
	id, err := c.PlaceOrder(context.Background(), "cart", "checkmo", "a@example.com", commerce.Address{})
	require.NoError(t, err)
	assert.Equal(t, "17", id)
}

func TestShippingInformationWithoutTotals(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"payment_methods":[]}`)
	})
	totals, err := c.SetShippingInformation(context.Background(), "cart", commerce.Address{}, commerce.ShippingMethod{})
	require.NoError(t, err)
	assert.Nil(t, totals)
}

func TestBackendError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"The product that was requested doesn't exist.","trace":"#0 ..."}`)
	})
	err := c.AddItem(context.Background(), "cart", "nope", 1)
	require.Error(t, err)

	var backendErr *commerce.Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, http.StatusBadRequest, backendErr.Status)
	assert.Equal(t, "The product that was requested doesn't exist.", backendErr.Message)
	assert.Equal(t, map[string]any{"message": "The product that was requested doesn't exist."}, backendErr.Details())
	assert.Equal(t, http.StatusBadRequest, commerce.StatusOf(err))
}

func TestSearchProducts(t *testing.T) {
	t.Parallel()

	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":[{"sku":"mug","name":"Mug"},{"sku":"","name":"broken"},{"sku":"mug-xl","name":"Big Mug"},{"sku":"mug-xs","name":"Tiny Mug"}]}`)
	})

	products, err := c.SearchProducts(context.Background(), "  mug ", 2)
	require.NoError(t, err)
	assert.Equal(t, []commerce.Product{{SKU: "mug", Name: "Mug"}, {SKU: "mug-xl", Name: "Big Mug"}}, products)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/rest/en/V1/products", got[0].path)
	assert.Contains(t, got[0].query, "searchCriteria%5BpageSize%5D=2")
	assert.Contains(t, got[0].query, "%25mug%25")

	products, err = c.SearchProducts(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Len(t, calls(), 1)
}

func TestPing(t *testing.T) {
	t.Parallel()

	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "/rest/en/V1/store/storeViews", calls()[0].path)
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithBreakerSettings(gobreaker.Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}))

	ctx := context.Background()
	for range 2 {
		err := c.Ping(ctx)
		assert.Equal(t, http.StatusBadGateway, commerce.StatusOf(err))
	}
	err := c.Ping(ctx)
	require.ErrorIs(t, err, commerce.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, commerce.StatusOf(err))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithBreakerSettings(gobreaker.Settings{
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
	}))

	for range 3 {
		err := c.Ping(context.Background())
		assert.Equal(t, http.StatusNotFound, commerce.StatusOf(err))
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(20*time.Millisecond))
	defer close(release)

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(" ", "token")
	assert.Error(t, err)
}

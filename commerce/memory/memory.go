// Package memory is an in-process [commerce.Backend] with a fixed catalog,
// flat-rate shipping and sequential order ids. It backs the demo gateway and
// orchestrator tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sumup/ucp/commerce"
)

// Product is a catalog entry. Prices are in minor units.
type Product struct {
	SKU     string
	Name    string
	Price   int
	TaxRate float64
}

// DefaultCatalog is a small demo assortment.
func DefaultCatalog() []Product {
	return []Product{
		{SKU: "latte", Name: "Oat Milk Latte", Price: 650, TaxRate: 0.07},
		{SKU: "beans", Name: "Espresso Beans (1kg)", Price: 2400, TaxRate: 0.00},
		{SKU: "mug", Name: "Stoneware Mug", Price: 1500, TaxRate: 0.07},
	}
}

const (
	FlatRateCarrier = "flatrate"
	FlatRateMethod  = "flatrate"
	flatRateAmount  = 500
)

type line struct {
	product Product
	qty     int
}

type cart struct {
	lines    []line
	address  *commerce.Address
	shipping *commerce.ShippingMethod
	orderID  string
}

// Backend keeps carts in memory.
type Backend struct {
	mu       sync.Mutex
	currency string
	catalog  map[string]Product
	order    []string
	carts    map[string]*cart
	cartID   uint64
	orderID  uint64

	// PlaceOrderHook, when set, runs before an order is created and can fail
	// it.
	PlaceOrderHook func(ctx context.Context, cartID string) error
}

var _ commerce.Backend = (*Backend)(nil)

// New returns a backend selling catalog in currency.
func New(currency string, catalog []Product) *Backend {
	index := make(map[string]Product, len(catalog))
	order := make([]string, 0, len(catalog))
	for _, p := range catalog {
		index[p.SKU] = p
		order = append(order, p.SKU)
	}
	return &Backend{
		currency: strings.ToUpper(currency),
		catalog:  index,
		order:    order,
		carts:    make(map[string]*cart),
	}
}

func (b *Backend) CreateCart(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("cart_%06d", atomic.AddUint64(&b.cartID, 1))
	b.carts[id] = &cart{}
	return id, nil
}

func (b *Backend) AddItem(_ context.Context, cartID, sku string, qty int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.cart(cartID)
	if err != nil {
		return err
	}
	product, ok := b.catalog[sku]
	if !ok {
		return notFound(fmt.Sprintf("The product %q that was requested doesn't exist.", sku))
	}
	if qty <= 0 {
		return &commerce.Error{Status: http.StatusBadRequest, Message: "The requested qty is not available"}
	}
	for i := range c.lines {
		if c.lines[i].product.SKU == sku {
			c.lines[i].qty += qty
			return nil
		}
	}
	c.lines = append(c.lines, line{product: product, qty: qty})
	return nil
}

func (b *Backend) GetTotals(_ context.Context, cartID string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.cart(cartID)
	if err != nil {
		return nil, err
	}
	return b.totals(c)
}

func (b *Backend) EstimateShipping(_ context.Context, cartID string, address commerce.Address) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.cart(cartID); err != nil {
		return nil, err
	}
	if address.CountryID == "" {
		return json.RawMessage(`[]`), nil
	}
	return json.Marshal([]map[string]any{{
		"carrier_code":  FlatRateCarrier,
		"method_code":   FlatRateMethod,
		"carrier_title": "Flat Rate",
		"method_title":  "Fixed",
		"amount":        minor(flatRateAmount),
		"available":     true,
	}})
}

func (b *Backend) SetShippingInformation(_ context.Context, cartID string, address commerce.Address, method commerce.ShippingMethod) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.cart(cartID)
	if err != nil {
		return nil, err
	}
	if method.CarrierCode != FlatRateCarrier || method.MethodCode != FlatRateMethod {
		return nil, &commerce.Error{Status: http.StatusBadRequest, Message: "Carrier with such method not found: " + method.CarrierCode + ", " + method.MethodCode}
	}
	c.address = &address
	c.shipping = &method
	return b.totals(c)
}

func (b *Backend) PlaceOrder(ctx context.Context, cartID, paymentMethod, email string, _ commerce.Address) (string, error) {
	if hook := b.PlaceOrderHook; hook != nil {
		if err := hook(ctx, cartID); err != nil {
			return "", err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.cart(cartID)
	if err != nil {
		return "", err
	}
	switch {
	case c.orderID != "":
		return "", notFound("No such entity with cartId = " + cartID)
	case len(c.lines) == 0:
		return "", &commerce.Error{Status: http.StatusBadRequest, Message: "The cart is empty"}
	case c.shipping == nil:
		return "", &commerce.Error{Status: http.StatusBadRequest, Message: "The shipping method is missing. Select the shipping method and try again."}
	case paymentMethod == "" || email == "":
		return "", &commerce.Error{Status: http.StatusBadRequest, Message: "Enter a valid payment method and try again."}
	}
	c.orderID = fmt.Sprintf("%09d", atomic.AddUint64(&b.orderID, 1))
	return c.orderID, nil
}

func (b *Backend) SearchProducts(_ context.Context, query string, limit int) ([]commerce.Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []commerce.Product
	for _, sku := range b.order {
		p := b.catalog[sku]
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.SKU), q) {
			continue
		}
		out = append(out, commerce.Product{SKU: p.SKU, Name: p.Name})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) cart(id string) (*cart, error) {
	c, ok := b.carts[id]
	if !ok {
		return nil, notFound("No such entity with cartId = " + id)
	}
	return c, nil
}

type totalsItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
	RowTotal  float64 `json:"row_total"`
	TaxAmount float64 `json:"tax_amount"`
}

type totals struct {
	GrandTotal     float64      `json:"grand_total"`
	Subtotal       float64      `json:"subtotal"`
	TaxAmount      float64      `json:"tax_amount"`
	ShippingAmount float64      `json:"shipping_amount"`
	CurrencyCode   string       `json:"quote_currency_code"`
	ItemsQty       int          `json:"items_qty"`
	Items          []totalsItem `json:"items"`
}

func (b *Backend) totals(c *cart) (json.RawMessage, error) {
	out := totals{CurrencyCode: b.currency, Items: []totalsItem{}}
	var subtotal, tax, shipping int
	for _, l := range c.lines {
		base := l.product.Price * l.qty
		lineTax := int(math.Round(l.product.TaxRate * float64(base)))
		subtotal += base
		tax += lineTax
		out.ItemsQty += l.qty
		out.Items = append(out.Items, totalsItem{
			SKU:       l.product.SKU,
			Name:      l.product.Name,
			Qty:       l.qty,
			Price:     minor(l.product.Price),
			RowTotal:  minor(base),
			TaxAmount: minor(lineTax),
		})
	}
	if c.shipping != nil {
		shipping = flatRateAmount
	}
	out.Subtotal = minor(subtotal)
	out.TaxAmount = minor(tax)
	out.ShippingAmount = minor(shipping)
	out.GrandTotal = minor(subtotal + tax + shipping)
	return json.Marshal(out)
}

func minor(cents int) float64 {
	return float64(cents) / 100
}

func notFound(msg string) *commerce.Error {
	return &commerce.Error{Status: http.StatusNotFound, Message: msg}
}

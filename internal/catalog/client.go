// Package catalog implements a typed client for the remote product catalog
// (a Shopify-style Admin REST API). It exposes exactly the operations the
// provisioner and the cleanup worker need: read, list, create, re-price, and
// delete product variants.
//
// Every call runs under a per-call deadline and an outbound token bucket so a
// slow or rate-limited catalog cannot stall the caller or trip the remote
// limiter. Failures are mapped to a small error surface:
//   - ErrNotFound for 404 responses
//   - ErrTimeout when the per-call deadline elapses
//   - *APIError for any other non-2xx response
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Sentinel errors returned by client operations.
var (
	// ErrNotFound indicates the remote resource does not exist (HTTP 404).
	ErrNotFound = errors.New("catalog resource not found")

	// ErrTimeout indicates the per-call deadline elapsed before the catalog
	// responded. Distinct from other failures so callers can offer a retry.
	ErrTimeout = errors.New("catalog request timed out")
)

// DefaultAPIVersion is the Admin REST API version used in resource paths.
const DefaultAPIVersion = "2024-01"

// APIError carries a non-2xx, non-404 catalog response.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api error: status %d: %s", e.StatusCode, e.Body)
}

// IsAlreadyExists reports whether err is the catalog rejecting a variant
// creation because the option combination already exists on the product
// (HTTP 422 with an "already exists" detail).
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(apiErr.Body), "already exists")
}

// Variant is the catalog's representation of one product variant. Prices are
// decimal strings on the wire; option1..3 carry width, height, and material.
type Variant struct {
	ID                  int64           `json:"id"`
	ProductID           int64           `json:"product_id"`
	Title               string          `json:"title,omitempty"`
	Price               decimal.Decimal `json:"price"`
	SKU                 string          `json:"sku,omitempty"`
	Option1             string          `json:"option1"`
	Option2             string          `json:"option2"`
	Option3             string          `json:"option3"`
	Grams               int             `json:"grams,omitempty"`
	InventoryPolicy     string          `json:"inventory_policy,omitempty"`
	InventoryManagement string          `json:"inventory_management,omitempty"`
}

// NewVariant is the payload for creating a variant on a product.
type NewVariant struct {
	Price               decimal.Decimal `json:"price"`
	SKU                 string          `json:"sku,omitempty"`
	Option1             string          `json:"option1"`
	Option2             string          `json:"option2"`
	Option3             string          `json:"option3"`
	Grams               int             `json:"grams,omitempty"`
	InventoryPolicy     string          `json:"inventory_policy,omitempty"`
	InventoryManagement string          `json:"inventory_management,omitempty"`
}

// Client talks to one shop's catalog API. Construct with NewClient; the zero
// value is not usable.
type Client struct {
	// BaseURL is the scheme+host of the shop, e.g. "https://demo.myshopify.com".
	BaseURL string
	// Token authenticates requests (X-Shopify-Access-Token header).
	Token string
	// APIVersion selects the Admin REST path segment.
	APIVersion string
	// HTTPClient performs the requests.
	HTTPClient *http.Client
	// Timeout is the per-call deadline applied to every operation.
	Timeout time.Duration
	// Limiter throttles outbound calls to respect the catalog's rate limits.
	Limiter *rate.Limiter
}

// NewClient returns a Client for shopDomain authenticated by token, with a
// 10s per-call deadline and a 2 rps / burst 4 outbound bucket (the Shopify
// Admin REST standard allowance).
func NewClient(shopDomain, token string) *Client {
	return &Client{
		BaseURL:    "https://" + shopDomain,
		Token:      token,
		APIVersion: DefaultAPIVersion,
		HTTPClient: &http.Client{},
		Timeout:    10 * time.Second,
		Limiter:    rate.NewLimiter(2, 4),
	}
}

// GetVariant fetches one variant by ID.
func (c *Client) GetVariant(ctx context.Context, variantID int64) (*Variant, error) {
	var out struct {
		Variant Variant `json:"variant"`
	}
	path := fmt.Sprintf("/admin/api/%s/variants/%d.json", c.version(), variantID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Variant, nil
}

// ListVariants returns all variants of productID.
func (c *Client) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	var out struct {
		Variants []Variant `json:"variants"`
	}
	path := fmt.Sprintf("/admin/api/%s/products/%d/variants.json", c.version(), productID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Variants, nil
}

// CreateVariant adds a variant to productID. The returned variant's price may
// not yet reflect the requested value; callers that need a settled price must
// poll GetVariant.
func (c *Client) CreateVariant(ctx context.Context, productID int64, v NewVariant) (*Variant, error) {
	body := map[string]NewVariant{"variant": v}
	var out struct {
		Variant Variant `json:"variant"`
	}
	path := fmt.Sprintf("/admin/api/%s/products/%d/variants.json", c.version(), productID)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Variant, nil
}

// UpdateVariantPrice sets the price of variantID and returns the updated
// variant.
func (c *Client) UpdateVariantPrice(ctx context.Context, variantID int64, price decimal.Decimal) (*Variant, error) {
	body := map[string]any{
		"variant": map[string]any{
			"id":    variantID,
			"price": price.StringFixed(2),
		},
	}
	var out struct {
		Variant Variant `json:"variant"`
	}
	path := fmt.Sprintf("/admin/api/%s/variants/%d.json", c.version(), variantID)
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Variant, nil
}

// DeleteVariant removes variantID from productID. A 404 from the catalog is
// treated as success: the resource is already gone.
func (c *Client) DeleteVariant(ctx context.Context, productID, variantID int64) error {
	path := fmt.Sprintf("/admin/api/%s/products/%d/variants/%d.json", c.version(), productID, variantID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) version() string {
	if c.APIVersion != "" {
		return c.APIVersion
	}
	return DefaultAPIVersion
}

// do performs one authenticated JSON round trip under the per-call deadline
// and the outbound token bucket, decoding a 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return mapCtxErr(err)
		}
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("X-Shopify-Access-Token", c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return mapCtxErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// Cap the retained body; it is only used for error context.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mapCtxErr converts deadline expiry into ErrTimeout and passes other
// transport errors through.
func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return err
}

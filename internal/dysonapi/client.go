// Package dysonapi implements product.Catalog on top of the Dyson store REST
// API.
package dysonapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/dyson-admin/internal/domain/product"
)

var _ product.Catalog = (*Client)(nil)

// maxErrorBody bounds how much of an error response is kept in StatusError.
const maxErrorBody = 512

// StatusError is returned for any non-2xx response that has no more specific
// mapping.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1.
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token string
	// Timeout bounds every request. Zero means no client-side timeout.
	Timeout time.Duration
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
	// TracerProvider instruments outgoing requests. Nil uses the global one.
	TracerProvider trace.TracerProvider
}

// Client talks to the remote catalog API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New creates a Client for the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}

	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	return &Client{
		base:  base,
		token: cfg.Token,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(rt, opts...),
		},
	}, nil
}

// ListCategories returns every category.
func (c *Client) ListCategories(ctx context.Context) ([]product.Category, error) {
	body, err := c.do(ctx, http.MethodGet, "/category", nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories, err := decodeCategories(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	return categories, nil
}

// ListProducts returns one page of products.
func (c *Client) ListProducts(ctx context.Context, params product.ListParams) (*product.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(params.Page))
	q.Set("limit", strconv.Itoa(params.Limit))
	q.Set("sort", params.Sort.Wire())
	if params.Category != nil {
		q.Set("category", *params.Category)
	}
	q.Set("name", params.Name)

	body, err := c.do(ctx, http.MethodGet, "/product", q, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	page, err := decodePage(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return page, nil
}

// DeleteProduct removes a product by identifier.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/product/"+url.PathEscape(id), nil, nil); err != nil {
		return errors.Wrapf(err, "delete product %q", id)
	}
	return nil
}

// CreateProduct creates a product and returns the stored record.
func (c *Client) CreateProduct(ctx context.Context, in product.Input) (*product.Product, error) {
	body, err := c.do(ctx, http.MethodPost, "/product", nil, encodeInput(in))
	if err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return decodeSingle(body)
}

// UpdateProduct replaces the editable fields of a product.
func (c *Client) UpdateProduct(ctx context.Context, id string, in product.Input) (*product.Product, error) {
	body, err := c.do(ctx, http.MethodPut, "/product/"+url.PathEscape(id), nil, encodeInput(in))
	if err != nil {
		return nil, errors.Wrapf(err, "update product %q", id)
	}
	return decodeSingle(body)
}

// Ping checks that the API answers. It is used as a readiness check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/category", nil, nil)
	return err
}

func decodeSingle(body []byte) (*product.Product, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		// Some deployments answer 204 on writes.
		return nil, nil
	}
	p, err := DecodeProduct(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound && method != http.MethodGet:
		return nil, product.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, errors.Wrap(product.ErrInvalidInput, errorMessage(data))
	default:
		return nil, &StatusError{
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Message: errorMessage(data),
		}
	}
}

// Package clients holds typed HTTP clients for the librarium API.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// Option configures the shared transport.
type Option func(*api)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *api) {
		a.http = c
	}
}

type api struct {
	baseURL string
	http    *http.Client
}

func newAPI(baseURL string, opts ...Option) *api {
	a := &api{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *api) do(ctx context.Context, method, path string, query url.Values, in, out any) (int, error) {
	target := a.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Detail == "" {
			e.Detail = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Client bundles the per-area clients over one transport.
type Client struct {
	Catalog     *CatalogClient
	Membership  *MembershipClient
	Circulation *CirculationClient
	api         *api
}

func New(baseURL string, opts ...Option) *Client {
	a := newAPI(baseURL, opts...)
	return &Client{
		Catalog:     &CatalogClient{api: a},
		Membership:  &MembershipClient{api: a},
		Circulation: &CirculationClient{api: a},
		api:         a,
	}
}

// Health calls GET / and returns its message.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	_, err := c.api.do(ctx, http.MethodGet, "/", nil, nil, &out)
	return out.Message, err
}

// Status calls GET /test.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	_, err := c.api.do(ctx, http.MethodGet, "/test", nil, nil, &out)
	return out, err
}

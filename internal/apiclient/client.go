// Package apiclient is the token-bearing HTTP capability the sync core talks to the
// REST API through.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/observability"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// API is the HTTP capability consumed by the fetchers and the follow coordinator.
// Paths may be relative to the base URL or absolute (page cursors).
type API interface {
	GetRaw(ctx context.Context, path string) ([]byte, error)
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements API on top of resty.
type Client struct {
	rest    *resty.Client
	baseURL string
	log     *observability.ComponentLogger
}

var _ API = (*Client)(nil)

// New builds a Client. An empty token sends anonymous requests.
func New(opts Options) *Client {
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	rc.SetBaseURL(base).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		rc.SetTimeout(opts.Timeout)
	}
	if opts.Token != "" {
		rc.SetAuthToken(opts.Token)
	}
	return &Client{
		rest:    rc,
		baseURL: base,
		log:     observability.NewComponentLogger("apiclient"),
	}
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveURL returns path as an absolute URL.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.rest.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		req.SetHeader("X-Correlation-ID", id)
	}
	return req
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	url := c.ResolveURL(path)
	span, ctx := observability.StartClientSpan(ctx, method, url)
	defer span.End()

	req := c.request(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		terr := &models.TransportError{Op: method, URL: url, Cause: err}
		span.SetError(terr)
		c.log.Warn(ctx, strings.ToLower(method), terr, map[string]interface{}{"url": url})
		return nil, terr
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		terr := &models.TransportError{Op: method, URL: url, Status: status, Cause: statusCause(resp)}
		span.SetError(terr)
		c.log.Warn(ctx, strings.ToLower(method), terr, map[string]interface{}{"url": url, "status": status})
		return nil, terr
	}
	return resp.Body(), nil
}

// statusCause extracts the API's error message from a non-2xx body when there is one.
func statusCause(resp *resty.Response) error {
	var body models.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		return errors.New(body.Error)
	}
	return errors.New(http.StatusText(resp.StatusCode()))
}

// GetRaw fetches path and returns the undecoded 2xx body.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Get fetches path and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	body, err := c.GetRaw(ctx, path)
	if err != nil {
		return err
	}
	return decode(http.MethodGet, c.ResolveURL(path), body, out)
}

// Post sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	raw, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(http.MethodPost, c.ResolveURL(path), raw, out)
}

// Delete issues a DELETE and ignores any response body.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func decode(method, url string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &models.TransportError{Op: method, URL: url, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

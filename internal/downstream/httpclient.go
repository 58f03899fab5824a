package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/metrics"
	"github.com/baechuer/activity-sync/internal/middleware"
)

// TokenSource supplies the bearer token per request. An error means "send
// anonymously"; the server decides what that is worth.
type TokenSource interface {
	Token() (string, error)
}

// ClientConfig holds configuration for the HTTP client wrapper
type ClientConfig struct {
	BaseURL string
	// ReadTimeout is used for GET requests
	ReadTimeout time.Duration
	// WriteTimeout is used for POST, PUT, PATCH, DELETE requests
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Client is the single HTTP path to the activities API. It:
// 1. Injects X-Request-ID and the bearer token
// 2. Enforces timeouts based on HTTP method (read vs write)
// 3. Maps failures onto the domain error kinds
// 4. Logs and records metrics per route
type Client struct {
	baseClient *http.Client
	config     ClientConfig
	tokens     TokenSource
}

func NewClient(config ClientConfig, tokens TokenSource) *Client {
	return &Client{
		baseClient: &http.Client{
			// No global timeout - we set per-request timeouts
			Timeout:   0,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		config: config,
		tokens: tokens,
	}
}

// call describes one request; route is the templated path used for metrics.
type call struct {
	op     string
	method string
	route  string
	path   string
	query  url.Values
	body   any
	file   *filePart
}

// filePart is sent as a single-part multipart/form-data body instead of JSON.
type filePart struct {
	field    string
	filename string
	data     []byte
}

// do executes c and decodes a JSON response into out (if non-nil and the
// body is non-empty).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	timeout := c.config.ReadTimeout
	if isWriteMethod(cl.method) {
		timeout = c.config.WriteTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.config.BaseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case cl.file != nil:
		buf, ct, err := encodeFile(cl.file)
		if err != nil {
			return fmt.Errorf("%s: encode form: %w", cl.op, err)
		}
		body, contentType = buf, ct
	case cl.body != nil:
		raw, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", cl.op, err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		req.Header.Set(middleware.HeaderXRequestID, reqID)
	}
	if c.tokens != nil {
		if tok, err := c.tokens.Token(); err == nil && tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	log := logger.Ctx(ctx).With().
		Str("op", cl.op).
		Str("method", cl.method).
		Str("url", u).
		Logger()

	start := time.Now()
	resp, err := c.baseClient.Do(req)
	duration := time.Since(start)
	metrics.DownstreamRequestDuration.WithLabelValues(cl.method, cl.route).Observe(duration.Seconds())

	if err != nil {
		log.Warn().Err(err).Dur("duration", duration).Msg("downstream_request_failed")
		metrics.DownstreamRequestsTotal.WithLabelValues(cl.method, cl.route, "unreachable").Inc()
		return mapTransportError(cl.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.DownstreamRequestsTotal.WithLabelValues(cl.method, cl.route, "unreachable").Inc()
		return mapTransportError(cl.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		mapped := mapStatus(cl.op, cl.method, resp, raw)
		log.Warn().
			Int("status", resp.StatusCode).
			Dur("duration", duration).
			Err(mapped).
			Msg("downstream_request_rejected")
		metrics.DownstreamRequestsTotal.WithLabelValues(cl.method, cl.route, string(mapped.Kind)).Inc()
		return mapped
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("downstream_request_completed")
	metrics.DownstreamRequestsTotal.WithLabelValues(cl.method, cl.route, "ok").Inc()

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", cl.op, err)
	}
	return nil
}

func encodeFile(f *filePart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(f.field, f.filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// isWriteMethod returns true for HTTP methods that modify state
func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

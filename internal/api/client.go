// Package api is the REST client for the backend services: Graphiti
// (knowledge graph), Xerro (agent, tasks, documents) and the llama.cpp
// admin service. All calls are rate limited and traced.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
	tracerName     = "github.com/nextlevelbuilder/graphiti-browser/internal/api"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Service labels logs and spans ("graphiti", "xerro", "llama").
	Service           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables limiting
	Burst             int
	HTTPClient        *http.Client
}

// Client is the shared JSON-over-HTTP transport of the service clients.
type Client struct {
	baseURL string
	token   string
	service string
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		service: opts.Service,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		tracer:  otel.Tracer(tracerName),
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Error is a non-2xx response.
type Error struct {
	Method     string
	Path       string
	Status     int
	StatusText string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.StatusText)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Do sends in (JSON-encoded when non-nil) and decodes the response into
// out (skipped when out is nil or the body is empty).
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, span, err := c.send(ctx, method, path, query, in, "application/json")
	if err != nil {
		return err
	}
	defer span.End()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// send issues the request and checks the status. On success the caller
// owns the response body and must end the span.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, in any, accept string) (*http.Response, trace.Span, error) {
	ctx, span := c.tracer.Start(ctx, c.service+" "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("service.peer", c.service),
		),
	)
	fail := func(err error) (*http.Response, trace.Span, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(fmt.Errorf("%s %s: rate limit: %w", method, path, err))
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fail(fmt.Errorf("%s %s: encode request: %w", method, path, err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fail(fmt.Errorf("%s %s: create request: %w", method, path, err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(fmt.Errorf("%s %s: %w", method, path, err))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	slog.Debug("api: request", "service", c.service, "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(&Error{
			Method:     method,
			Path:       path,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Code:       protocol.CodeForStatus(resp.StatusCode),
			Message:    errorMessage(raw),
		})
	}
	return resp, span, nil
}

// errorMessage pulls a readable message out of an error body. FastAPI uses
// "detail", the Node services "error" or "message".
func errorMessage(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		var detail string
		switch {
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		case json.Unmarshal(body.Detail, &detail) == nil && detail != "":
			return detail
		case len(body.Detail) > 0:
			return string(body.Detail)
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

// Page is one page of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// All follows cursors until the last page or maxPages pages.
func All[T any](ctx context.Context, maxPages int, fetch func(ctx context.Context, cursor string) (Page[T], error)) ([]T, error) {
	var (
		out    []T
		cursor string
	)
	for i := 0; maxPages <= 0 || i < maxPages; i++ {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return out, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func seg(s string) string { return url.PathEscape(s) }

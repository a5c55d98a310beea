// Package httpclient is a small JSON-over-HTTP client for upstream services.
// Requests are rate limited client side, retried on transport failures, 429
// and 5xx, and traced as client spans.
package httpclient

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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-trade/internal/pkg/retry"
)

const instrumentationName = "github.com/archon-research/stl-trade/internal/pkg/httpclient"

// Config holds the configuration for the HTTP client.
type Config struct {
	// Name identifies the upstream in logs and span names.
	Name string

	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimit is requests per second; RateBurst the bucket size.
	RateLimit rate.Limit
	RateBurst int

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64

	// DecodeError extracts an API error from a response body. It may be nil.
	DecodeError func(statusCode int, body []byte) error

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns sensible defaults for the HTTP client.
func DefaultConfig() Config {
	return Config{
		Name:             "http",
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		RateLimit:        rate.Limit(10),
		RateBurst:        5,
		MaxResponseBytes: 1 << 20,
	}
}

// Request describes one call.
type Request struct {
	// Method defaults to GET.
	Method  string
	URL     string
	Headers map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
}

// StatusError is returned for non-2xx responses and for 2xx responses that
// carry an in-band API error.
type StatusError struct {
	StatusCode int
	// Err is the decoded API error, if any.
	Err  error
	Body string
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the request may succeed. An in-band
// error on a 2xx response counts as temporary.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 || e.StatusCode < 300
}

// errPermanent marks failures that happen before or after the exchange
// (encoding, malformed responses) and are never retried.
var errPermanent = errors.New("permanent")

// Client performs JSON requests against one upstream.
type Client struct {
	config      Config
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewClient creates a client; zero fields of cfg take DefaultConfig values.
func NewClient(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaults.RateBurst
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
		logger: cfg.Logger.With("upstream", cfg.Name),
	}
}

// IsRetryable reports whether err from Do came from a failure worth repeating.
func IsRetryable(err error) bool {
	if errors.Is(err, errPermanent) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Do sends req and decodes a JSON response into out.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"maxRetries", c.retryConfig.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}
	return retry.DoVoid(ctx, c.retryConfig, IsRetryable, onRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		return c.once(ctx, req, out)
	})
}

func (c *Client) once(ctx context.Context, r Request, out any) (err error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: parsing url: %w", errPermanent, err)
	}

	ctx, span := c.tracer.Start(ctx, c.config.Name+" "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.ServerAddress(target.Hostname()),
			semconv.URLPath(target.Path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("%w: encoding request body: %w", errPermanent, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	var apiErr error
	if c.config.DecodeError != nil {
		apiErr = c.config.DecodeError(resp.StatusCode, raw)
	}
	if resp.StatusCode >= 300 || apiErr != nil {
		return &StatusError{StatusCode: resp.StatusCode, Err: apiErr, Body: truncate(raw, 256)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", errPermanent, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Package quote fetches spot prices from the external quote service.
//
// The service answers GET {BaseURL}/v1/price?chainId=&base=&quote= with
// {"price": "<decimal>"}, the price of one base token in quote tokens.
// Requests are rate limited client-side and transient failures retried.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/pkg/httpclient"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.QuoteProvider
var _ outbound.QuoteProvider = (*Client)(nil)

// ClientConfig holds configuration for the quote client.
type ClientConfig struct {
	// BaseURL is the quote service root, e.g. https://quotes.internal.
	BaseURL string

	// APIKey is sent in APIKeyHeader when set.
	APIKey string

	// APIKeyHeader defaults to X-API-Key.
	APIKeyHeader string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// RateLimitPerSec caps outgoing requests per second.
	RateLimitPerSec float64

	// Logger is the structured logger for the client.
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		APIKeyHeader:    "X-API-Key",
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      time.Second,
		RateLimitPerSec: 20,
		Logger:          slog.Default(),
	}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client implements outbound.QuoteProvider over HTTP.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a quote client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	defaults := ClientConfigDefaults()
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = defaults.APIKeyHeader
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	logger := config.Logger.With("component", "quote-client")

	return &Client{
		config: config,
		http: httpclient.NewClient(httpclient.Config{
			Name:           "quote-service",
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			RateLimit:      rate.Limit(config.RateLimitPerSec),
			RateBurst:      max(1, int(config.RateLimitPerSec)),
			DecodeError:    parseError,
			Logger:         logger,
		}),
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "quote-service" }

// Price returns the price of one base token in quote tokens. Any failure, and
// any non-positive price, is reported as entity.ErrPriceUnavailable.
func (c *Client) Price(ctx context.Context, chainID int64, base, quote *entity.Token) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(chainID, 10))
	q.Set("base", base.Address.Hex())
	q.Set("quote", quote.Address.Hex())

	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers[c.config.APIKeyHeader] = c.config.APIKey
	}

	var resp priceResponse
	err := c.http.Do(ctx, httpclient.Request{
		URL:     c.config.BaseURL + "/v1/price?" + q.Encode(),
		Headers: headers,
	}, &resp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s/%s: %w", entity.ErrPriceUnavailable, base.Symbol, quote.Symbol, err)
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s: non-positive price %s", entity.ErrPriceUnavailable, base.Symbol, quote.Symbol, resp.Price)
	}
	return resp.Price, nil
}

func parseError(_ int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return nil
	}
	return errors.New(e.Error)
}

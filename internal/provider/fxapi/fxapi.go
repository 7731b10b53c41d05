// Package fxapi implements the commercial FX rate vendors. They all answer a
// single "latest rates against USD" request, so one client driven by a
// Vendor descriptor serves them all.
package fxapi

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "fxprovider/internal/fixedpoint"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/provider"
)

var ErrMissingAPIKey = errors.New("API key is required")

type Client struct {
    vendor  Vendor
    apiKey  string
    baseURL string
    http    *httpx.Client
    logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *httpx.Client) Option { return func(cl *Client) { cl.http = c } }

func WithBaseURL(u string) Option {
    return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(v Vendor, apiKey string, opts ...Option) *Client {
    c := &Client{vendor: v, apiKey: apiKey, baseURL: v.BaseURL}
    for _, o := range opts { o(c) }
    if c.http == nil { c.http = httpx.New(0) }
    c.logger = logging.Or(c.logger).With(slog.String("provider", v.Name))
    return c
}

func (c *Client) Name() string { return c.vendor.Name }

func (c *Client) Vendor() Vendor { return c.vendor }

// Fetch requests the latest rates and stamps them with timestamp.
func (c *Client) Fetch(ctx context.Context, timestamp int64, timeout time.Duration) (provider.Snapshot, error) {
    rates, err := c.Load(ctx, timeout)
    if err != nil { return nil, err }
    return rates.Snapshot(c.vendor.Name, timestamp), nil
}

// Load requests the latest table and converts it to USD per asset unit.
func (c *Client) Load(ctx context.Context, timeout time.Duration) (provider.Rates, error) {
    if c.apiKey == "" {
        return nil, provider.Upstream(c.vendor.Name, ErrMissingAPIKey)
    }
    if c.vendor.Timeout > 0 { timeout = c.vendor.Timeout }
    if timeout <= 0 { timeout = provider.DefaultTimeout }

    var resp response
    if err := c.http.GetJSON(ctx, c.vendor.endpoint(c.baseURL, c.apiKey), timeout, &resp); err != nil {
        return nil, provider.Upstream(c.vendor.Name, err)
    }
    table, err := c.vendor.table(&resp)
    if err != nil {
        return nil, provider.Upstream(c.vendor.Name, fmt.Errorf("failed to get data: %w", err))
    }

    raw := make(provider.Rates, len(table))
    for sym, v := range table {
        sym = strings.ToUpper(strings.TrimSpace(sym))
        if sym == "" { continue }
        raw[sym] = fixedpoint.Parse(v, fixedpoint.Decimals)
    }
    rates := provider.InvertUSD(raw)
    c.logger.Debug("loaded rates", "assets", len(rates))
    return rates, nil
}

// Snapshot loads the table stamped with a zero timestamp, for the background refresh.
func (c *Client) Snapshot(ctx context.Context) (provider.Snapshot, error) {
    rates, err := c.Load(ctx, c.vendor.Timeout)
    if err != nil { return nil, err }
    return rates.Snapshot(c.vendor.Name, 0), nil
}

package httpx

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "net"
    "net/http"
    "net/url"
    "sync/atomic"
    "time"

    "fxprovider/internal/logging"
    "fxprovider/internal/metrics"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -destination=httpxmock/mock_http_client.go -package=httpxmock . HTTPClient
type HTTPClient interface {
    Do(req *http.Request) (*http.Response, error)
}

// SlowRequest is the duration after which a request is logged as slow.
const SlowRequest = time.Second

// Client is a small wrapper around http.Client with sane defaults, optional
// gateway rewriting and request logging.
type Client struct {
    HTTP      HTTPClient
    UserAgent string
    Headers   map[string]string
    Logger    *slog.Logger
    Metrics   *metrics.Metrics

    gateway atomic.Pointer[Gateway]
}

func New(timeout time.Duration) *Client {
    transport := &http.Transport{
        Proxy:                 http.ProxyFromEnvironment,
        DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
        MaxIdleConns:          200,
        MaxIdleConnsPerHost:   50,
        MaxConnsPerHost:       50,
        ForceAttemptHTTP2:     true,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   3 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
    }
    return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "fx-price-provider/1.0"}
}

func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
    if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
        req.Header.Set("User-Agent", c.UserAgent)
    }
    for k, v := range c.Headers {
        if req.Header.Get(k) == "" {
            req.Header.Set(k, v)
        }
    }
    return c.HTTP.Do(req.WithContext(ctx))
}

// SetGateway routes subsequent requests through the given gateways. An empty
// list disables gateway routing.
func (c *Client) SetGateway(urls []string, validationKey string, useCurrentProvider bool) {
    c.gateway.Store(NewGateway(urls, validationKey, useCurrentProvider))
}

// Gateway returns the active gateway, or nil.
func (c *Client) Gateway() *Gateway { return c.gateway.Load() }

// GetJSON performs a GET request bounded by timeout and decodes the JSON body
// into out. Numbers are decoded as json.Number.
func (c *Client) GetJSON(ctx context.Context, rawURL string, timeout time.Duration, out any) error {
    u, err := url.Parse(rawURL)
    if err != nil {
        return fmt.Errorf("parse url: %w", err)
    }
    host := u.Host
    logger := logging.Or(c.Logger).With(slog.String("host", host))

    target, header := rawURL, http.Header(nil)
    gatewayBase := "no"
    if gw := c.gateway.Load(); gw != nil {
        var base string
        target, header, base = gw.Rewrite(rawURL)
        if base != "" {
            gatewayBase = base
        }
    }

    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
    if err != nil {
        return fmt.Errorf("creating request: %w", err)
    }
    req.Header.Set("Accept", "application/json")
    for k, vs := range header {
        for _, v := range vs {
            req.Header.Add(k, v)
        }
    }

    start := time.Now()
    resp, err := c.Do(ctx, req)
    elapsed := time.Since(start)
    c.Metrics.ObserveUpstream(host, elapsed, err)
    if err != nil {
        // url.Error carries the full URL, which may include an API key
        var ue *url.Error
        if errors.As(err, &ue) {
            err = ue.Err
        }
        logger.Error("request failed", "error", err, "gateway", gatewayBase)
        return fmt.Errorf("GET %s: %w", host, err)
    }
    defer resp.Body.Close()
    if elapsed > SlowRequest {
        logger.Debug("slow request", "took", elapsed, "gateway", gatewayBase)
    }

    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
        logger.Error("unexpected status", "status", resp.StatusCode, "gateway", gatewayBase)
        return fmt.Errorf("GET %s -> %d: %s", host, resp.StatusCode, string(b))
    }

    dec := json.NewDecoder(resp.Body)
    dec.UseNumber()
    if err := dec.Decode(out); err != nil {
        return fmt.Errorf("decode: %w", err)
    }
    return nil
}

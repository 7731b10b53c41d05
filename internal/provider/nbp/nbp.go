// Package nbp loads the National Bank of Poland average rates (tables A and
// B) and the gold price. NBP quotes everything in PLN, so the tables are
// rebased onto USD.
package nbp

import (
    "context"
    "errors"
    "log/slog"
    "strings"
    "time"

    "golang.org/x/sync/errgroup"

    "fxprovider/internal/fixedpoint"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/provider"
)

const (
    Name     = "nbp"
    Pivot    = "PLN"
    Gold     = "XAU"
    Interval = time.Hour
    Timeout  = time.Minute

    DefaultBaseURL = "https://api.nbp.pl/api"
)

// gramsPerTroyOunce converts the per-gram gold price.
var gramsPerTroyOunce = fixedpoint.ParseString("31.1034768", fixedpoint.Decimals)

var errNoData = errors.New("failed to get data from nbp")

type Client struct {
    baseURL string
    http    *httpx.Client
    logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *httpx.Client) Option { return func(cl *Client) { cl.http = c } }

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(opts ...Option) *Client {
    c := &Client{baseURL: DefaultBaseURL}
    for _, o := range opts { o(c) }
    if c.http == nil { c.http = httpx.New(0) }
    c.logger = logging.Or(c.logger).With(slog.String("provider", Name))
    return c
}

type table struct {
    Table string `json:"table"`
    Rates []struct {
        Code string `json:"code"`
        Mid  any    `json:"mid"`
    } `json:"rates"`
}

type goldPrice struct {
    Date string `json:"data"`
    Cena any    `json:"cena"`
}

// Load returns USD prices of every currency in tables A and B, gold per troy
// ounce as XAU, and PLN.
func (c *Client) Load(ctx context.Context) (provider.Rates, error) {
    var (
        tableA, tableB []table
        gold           []goldPrice
    )
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return c.http.GetJSON(gctx, c.baseURL+"/exchangerates/tables/A/?format=json", Timeout, &tableA) })
    g.Go(func() error { return c.http.GetJSON(gctx, c.baseURL+"/exchangerates/tables/B/?format=json", Timeout, &tableB) })
    g.Go(func() error { return c.http.GetJSON(gctx, c.baseURL+"/cenyzlota?format=json", Timeout, &gold) })
    if err := g.Wait(); err != nil {
        return nil, provider.Upstream(Name, err)
    }
    if len(tableA) == 0 || len(tableB) == 0 || len(gold) == 0 {
        return nil, provider.Upstream(Name, errNoData)
    }

    raw := make(provider.Rates)
    for _, t := range []table{tableA[0], tableB[0]} {
        for _, r := range t.Rates {
            code := strings.ToUpper(strings.TrimSpace(r.Code))
            if code == "" { continue }
            raw[code] = fixedpoint.Parse(r.Mid, fixedpoint.Decimals)
        }
    }
    raw[Gold] = fixedpoint.Mul(fixedpoint.Parse(gold[0].Cena, fixedpoint.Decimals), gramsPerTroyOunce)

    rates, err := provider.Rebase(raw, Pivot, provider.InPivot)
    if err != nil { return nil, err }
    c.logger.Debug("loaded rates", "assets", len(rates), "gold_date", gold[0].Date)
    return rates, nil
}

// Snapshot is the background load function.
func (c *Client) Snapshot(ctx context.Context) (provider.Snapshot, error) {
    rates, err := c.Load(ctx)
    if err != nil { return nil, err }
    return rates.Snapshot(Name, 0), nil
}

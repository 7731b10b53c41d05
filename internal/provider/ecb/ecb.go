// Package ecb loads the daily reference rates of the European Central Bank.
// Rates are published as units of currency per 1 EUR and rebased onto USD.
package ecb

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "math/big"
    "strconv"
    "strings"
    "time"

    "fxprovider/internal/fixedpoint"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/provider"
)

const (
    Name     = "ecb"
    Pivot    = "EUR"
    Interval = time.Hour
    Timeout  = time.Minute
    // Lookback bounds the query so weekends and holidays still yield an observation.
    Lookback = 14 * 24 * time.Hour

    DefaultBaseURL = "https://data-api.ecb.europa.eu/service/data/EXR/D..EUR.SP00.A"
)

var errNoData = errors.New("failed to get data from ecb")

type Client struct {
    baseURL string
    http    *httpx.Client
    logger  *slog.Logger
    now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *httpx.Client) Option { return func(cl *Client) { cl.http = c } }

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(opts ...Option) *Client {
    c := &Client{baseURL: DefaultBaseURL, now: time.Now}
    for _, o := range opts { o(c) }
    if c.http == nil { c.http = httpx.New(0) }
    c.logger = logging.Or(c.logger).With(slog.String("provider", Name))
    return c
}

// URL returns the SDMX query for the latest observation of every currency.
func (c *Client) URL() string {
    start := c.now().UTC().Add(-Lookback).Format(time.DateOnly)
    return c.baseURL + "?format=jsondata&detail=dataonly&lastNObservations=1&includeHistory=false&startPeriod=" + start
}

// sdmxData is the subset of the SDMX-JSON data message we read.
type sdmxData struct {
    DataSets []struct {
        Series map[string]struct {
            Observations map[string][]any `json:"observations"`
        } `json:"series"`
    } `json:"dataSets"`
    Structure struct {
        Dimensions struct {
            Series []struct {
                ID     string `json:"id"`
                Values []struct {
                    ID string `json:"id"`
                } `json:"values"`
            } `json:"series"`
        } `json:"dimensions"`
    } `json:"structure"`
}

// Load returns USD prices of every published currency plus EUR.
func (c *Client) Load(ctx context.Context) (provider.Rates, error) {
    var data sdmxData
    if err := c.http.GetJSON(ctx, c.URL(), Timeout, &data); err != nil {
        return nil, provider.Upstream(Name, err)
    }
    raw, err := parse(&data)
    if err != nil { return nil, provider.Upstream(Name, err) }
    rates, err := provider.Rebase(raw, Pivot, provider.PerPivot)
    if err != nil { return nil, err }
    c.logger.Debug("loaded rates", "assets", len(rates))
    return rates, nil
}

// Snapshot is the background load function.
func (c *Client) Snapshot(ctx context.Context) (provider.Snapshot, error) {
    rates, err := c.Load(ctx)
    if err != nil { return nil, err }
    return rates.Snapshot(Name, 0), nil
}

func parse(data *sdmxData) (provider.Rates, error) {
    dims := data.Structure.Dimensions.Series
    pos := -1
    for i, d := range dims {
        if d.ID == "CURRENCY" {
            pos = i
            break
        }
    }
    if pos < 0 || len(data.DataSets) == 0 || data.DataSets[0].Series == nil {
        return nil, errNoData
    }
    series := data.DataSets[0].Series

    // series are keyed by dimension value indexes: 0:<currency>:0:0:0
    key := make([]string, len(dims))
    for i := range key { key[i] = "0" }

    out := make(provider.Rates, len(dims[pos].Values))
    for i, cur := range dims[pos].Values {
        key[pos] = strconv.Itoa(i)
        s, ok := series[strings.Join(key, ":")]
        if !ok {
            out[cur.ID] = fixedpoint.Zero()
            continue
        }
        out[cur.ID] = latest(s.Observations)
    }
    if len(out) == 0 {
        return nil, fmt.Errorf("%w: no currencies", errNoData)
    }
    return out, nil
}

// latest returns the value of the observation with the highest index.
func latest(obs map[string][]any) *big.Int {
    best := -1
    var val any
    for k, v := range obs {
        i, err := strconv.Atoi(k)
        if err != nil || i <= best || len(v) == 0 { continue }
        best, val = i, v[0]
    }
    return fixedpoint.Parse(val, fixedpoint.Decimals)
}

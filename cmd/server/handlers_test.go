package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "log/slog"
    "math/big"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus"

    "fxprovider/internal/aggregate"
    "fxprovider/internal/provider"
)

type call struct {
    assets []string
    base   string
    ts, tf int64
    count  int
    opts   *aggregate.Options
}

type fakeDriver struct {
    calls  []call
    err    error
    // prices by asset for the last bucket
    prices map[string][]provider.Price
}

func (f *fakeDriver) GetTradesData(ctx context.Context, assets []string, base string, ts, tf int64, count int, opts *aggregate.Options) (aggregate.Matrix, error) {
    f.calls = append(f.calls, call{assets, base, ts, tf, count, opts})
    if f.err != nil { return nil, f.err }
    m := make(aggregate.Matrix, count)
    for b := range m {
        m[b] = make([][]provider.Price, len(assets))
        for a := range m[b] { m[b][a] = []provider.Price{} }
    }
    for a, asset := range assets {
        m[count-1][a] = append(m[count-1][a], f.prices[asset]...)
    }
    return m, nil
}

func newTestServer(d *fakeDriver) http.Handler {
    s := &server{
        driver:         d,
        logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
        requestTimeout: time.Second,
        now:            func() time.Time { return time.Unix(1_700_000_000, 0) },
    }
    return s.routes(prometheus.NewRegistry())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
    t.Helper()
    var r io.Reader
    if body != "" { r = strings.NewReader(body) }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, httptest.NewRequest(method, target, r))
    return rr
}

func TestGetPrices_ParsesQuery(t *testing.T) {
    d := &fakeDriver{prices: map[string][]provider.Price{
        "EUR": {{Price: big.NewInt(108_000_000_000_000), Source: "ecb", Timestamp: 1_700_000_120}},
    }}
    rr := do(t, newTestServer(d), http.MethodGet,
        "/api/prices?assets=eur,XAU&timestamp=1700000000&timeframe=60&count=3&sources=NBP,ecb&timeout_ms=500", "")
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }

    if len(d.calls) != 1 { t.Fatalf("want 1 driver call, got %d", len(d.calls)) }
    c := d.calls[0]
    if c.base != "USD" || c.ts != 1_700_000_000 || c.tf != 60 || c.count != 3 {
        t.Fatalf("unexpected call: %+v", c)
    }
    if len(c.assets) != 2 || c.assets[0] != "EUR" || c.assets[1] != "XAU" {
        t.Fatalf("unexpected assets: %v", c.assets)
    }
    if _, ok := c.opts.Sources["nbp"]; !ok || len(c.opts.Sources) != 2 {
        t.Fatalf("unexpected sources: %v", c.opts.Sources)
    }
    if c.opts.Timeout != 500*time.Millisecond { t.Fatalf("unexpected timeout: %v", c.opts.Timeout) }

    var resp struct {
        Prices [][][]struct {
            Price  json.Number `json:"price"`
            Source string      `json:"source"`
            Ts     int64       `json:"ts"`
        } `json:"prices"`
    }
    dec := json.NewDecoder(rr.Body)
    dec.UseNumber()
    if err := dec.Decode(&resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Prices) != 3 || len(resp.Prices[2][0]) != 1 {
        t.Fatalf("unexpected matrix: %+v", resp.Prices)
    }
    if got := resp.Prices[2][0][0]; got.Price != "108000000000000" || got.Source != "ecb" {
        t.Fatalf("unexpected price: %+v", got)
    }
}

func TestGetPrices_Defaults(t *testing.T) {
    d := &fakeDriver{}
    rr := do(t, newTestServer(d), http.MethodGet, "/api/prices?assets=EUR", "")
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    c := d.calls[0]
    if c.ts != 1_700_000_000 || c.tf != 60 || c.count != 1 || c.opts.Sources != nil {
        t.Fatalf("unexpected defaults: %+v", c)
    }
}

func TestGetPrices_BadRequests(t *testing.T) {
    for _, target := range []string{
        "/api/prices",
        "/api/prices?assets=EUR&timestamp=yesterday",
        "/api/prices?assets=EUR&count=x",
        "/api/prices?assets=EUR&timeframe=1m",
    } {
        d := &fakeDriver{}
        rr := do(t, newTestServer(d), http.MethodGet, target, "")
        if rr.Code != http.StatusBadRequest { t.Fatalf("%s: status=%d", target, rr.Code) }
        if len(d.calls) != 0 { t.Fatalf("%s: driver should not be called", target) }
        var e errorResponse
        if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Error == "" {
            t.Fatalf("%s: want JSON error body, got %s", target, rr.Body.String())
        }
    }
}

func TestGetPrices_DriverErrors(t *testing.T) {
    cases := []struct {
        err  error
        want int
    }{
        {fmt.Errorf("%w: only USD", provider.ErrInvalidArgument), http.StatusBadRequest},
        {fmt.Errorf("boom"), http.StatusBadGateway},
    }
    for _, tc := range cases {
        rr := do(t, newTestServer(&fakeDriver{err: tc.err}), http.MethodGet, "/api/prices?assets=EUR&base=eur", "")
        if rr.Code != tc.want { t.Fatalf("%v: want %d, got %d", tc.err, tc.want, rr.Code) }
    }
}

func TestPostPrices_WithCredentials(t *testing.T) {
    d := &fakeDriver{}
    body := `{"assets":["eur"],"base":"usd","timestamp":1700000060,"timeframe":300,"count":2,
        "sources":{"apilayer":{"apiKey":"k"}},"timeout_ms":1000}`
    rr := do(t, newTestServer(d), http.MethodPost, "/api/prices", body)
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    c := d.calls[0]
    if c.assets[0] != "EUR" || c.base != "USD" || c.tf != 300 || c.count != 2 || c.ts != 1_700_000_060 {
        t.Fatalf("unexpected call: %+v", c)
    }
    if c.opts.Sources["apilayer"].APIKey != "k" { t.Fatalf("credentials lost: %+v", c.opts.Sources) }

    rr = do(t, newTestServer(d), http.MethodPost, "/api/prices", `{"assets":["EUR"],"unknown":1}`)
    if rr.Code != http.StatusBadRequest { t.Fatalf("unknown field: status=%d", rr.Code) }
}

func TestLatest_MedianAcrossSources(t *testing.T) {
    d := &fakeDriver{prices: map[string][]provider.Price{
        "EUR": {
            {Price: big.NewInt(107_000_000_000_000), Source: "nbp", Timestamp: 1_700_000_000},
            {Price: big.NewInt(108_000_000_000_000), Source: "ecb", Timestamp: 1_700_000_000},
            {Price: big.NewInt(110_000_000_000_000), Source: "apilayer", Timestamp: 1_700_000_000},
        },
        "XAU": {{Price: big.NewInt(0), Source: "nbp"}},
    }}
    rr := do(t, newTestServer(d), http.MethodGet, "/api/latest?assets=EUR,XAU", "")
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }

    var resp latestResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Latest) != 1 { t.Fatalf("want 1 row, got %d: %+v", len(resp.Latest), resp.Latest) }
    got := resp.Latest[0]
    if got.Asset != "EUR" || got.Price != "1.08" || len(got.Sources) != 3 {
        t.Fatalf("unexpected: %+v", got)
    }
    if d.calls[0].tf != 60 || d.calls[0].count != 1 { t.Fatalf("unexpected call: %+v", d.calls[0]) }
}

func TestHealthzAndMetrics(t *testing.T) {
    h := newTestServer(&fakeDriver{})
    if rr := do(t, h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
        t.Fatalf("healthz status=%d", rr.Code)
    }
    if rr := do(t, h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK {
        t.Fatalf("metrics status=%d", rr.Code)
    }
    if rr := do(t, h, http.MethodDelete, "/api/prices", ""); rr.Code != http.StatusMethodNotAllowed {
        t.Fatalf("delete status=%d", rr.Code)
    }
}

func TestGzip(t *testing.T) {
    h := newTestServer(&fakeDriver{})
    req := httptest.NewRequest(http.MethodGet, "/api/prices?assets=EUR", nil)
    req.Header.Set("Accept-Encoding", "gzip")
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    if rr.Header().Get("Content-Encoding") != "gzip" { t.Fatalf("response not compressed") }

    zr, err := gzip.NewReader(rr.Body)
    if err != nil { t.Fatalf("gzip reader: %v", err) }
    defer zr.Close()
    var resp pricesResponse
    if err := json.NewDecoder(zr).Decode(&resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Assets) != 1 || resp.Assets[0] != "EUR" { t.Fatalf("assets: %v", resp.Assets) }
    if len(resp.Prices) != 1 || len(resp.Prices[0]) != 1 { t.Fatalf("prices layout: %v", resp.Prices) }
}

package nbp_test

import (
    "net/http"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
    "go.uber.org/mock/gomock"

    "fxprovider/internal/fixedpoint"
    "fxprovider/internal/httpx"
    "fxprovider/internal/httpx/httpxmock"
    "fxprovider/internal/provider"
    "fxprovider/internal/provider/nbp"
)

const (
    tableA = `[{"table":"A","no":"087/A/NBP/2024","effectiveDate":"2024-05-06","rates":[
        {"currency":"dolar amerykański","code":"USD","mid":4.0},
        {"currency":"euro","code":"EUR","mid":4.5}]}]`
    tableB = `[{"table":"B","no":"018/B/NBP/2024","effectiveDate":"2024-05-01","rates":[
        {"currency":"afgani (Afganistan)","code":"AFN","mid":0.05}]}]`
    gold = `[{"data":"2024-05-06","cena":300}]`
)

func newClient(t *testing.T, bodies map[string]string) (*nbp.Client, *atomic.Int32) {
    t.Helper()
    ctrl := gomock.NewController(t)
    m := httpxmock.NewMockHTTPClient(ctrl)
    var calls atomic.Int32
    m.EXPECT().
        Do(gomock.Any()).
        DoAndReturn(func(req *http.Request) (*http.Response, error) {
            calls.Add(1)
            require.True(t, strings.HasPrefix(req.URL.String(), nbp.DefaultBaseURL))
            for suffix, body := range bodies {
                if strings.HasPrefix(req.URL.Path, "/api"+suffix) {
                    return httpxmock.JSONResponse(http.StatusOK, body), nil
                }
            }
            return httpxmock.JSONResponse(http.StatusNotFound, `404 NotFound`), nil
        }).
        AnyTimes()
    hc := httpx.New(time.Second)
    hc.HTTP = m
    return nbp.New(nbp.WithHTTPClient(hc)), &calls
}

func TestSnapshot_RebasesOntoUSD(t *testing.T) {
    c, calls := newClient(t, map[string]string{
        "/exchangerates/tables/A": tableA,
        "/exchangerates/tables/B": tableB,
        "/cenyzlota":              gold,
    })

    snap, err := c.Snapshot(t.Context())
    require.NoError(t, err)
    require.EqualValues(t, 3, calls.Load())

    require.NotContains(t, snap, provider.USD)
    require.Equal(t, "1.125", fixedpoint.Format(snap["EUR"].Price, fixedpoint.Decimals))
    require.Equal(t, "0.0125", fixedpoint.Format(snap["AFN"].Price, fixedpoint.Decimals))
    // 300 PLN/g * 31.1034768 g/ozt / 4 PLN/USD
    require.Equal(t, "2332.76076", fixedpoint.Format(snap[nbp.Gold].Price, fixedpoint.Decimals))
    require.Equal(t, "4", fixedpoint.Format(snap[nbp.Pivot].Price, fixedpoint.Decimals))
    require.Equal(t, nbp.Name, snap["EUR"].Source)
}

func TestLoad_EmptyTable(t *testing.T) {
    c, _ := newClient(t, map[string]string{
        "/exchangerates/tables/A": tableA,
        "/exchangerates/tables/B": `[]`,
        "/cenyzlota":              gold,
    })

    _, err := c.Load(t.Context())
    require.ErrorIs(t, err, provider.ErrUpstreamData)
}

func TestLoad_RequestFails(t *testing.T) {
    c, _ := newClient(t, map[string]string{
        "/exchangerates/tables/A": tableA,
        "/exchangerates/tables/B": tableB,
    })

    _, err := c.Load(t.Context())
    require.ErrorIs(t, err, provider.ErrUpstreamData)
    require.ErrorContains(t, err, "404")
}

func TestLoad_MissingUSD(t *testing.T) {
    c, _ := newClient(t, map[string]string{
        "/exchangerates/tables/A": `[{"table":"A","rates":[{"code":"EUR","mid":4.5}]}]`,
        "/exchangerates/tables/B": tableB,
        "/cenyzlota":              gold,
    })

    _, err := c.Load(t.Context())
    require.ErrorIs(t, err, provider.ErrUpstreamData)
    require.ErrorContains(t, err, "USD rate not found")
}

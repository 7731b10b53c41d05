package fxapi

import (
    "errors"
    "fmt"
    "net/url"
    "strings"
    "time"
)

// response is the union of the envelopes used by the supported vendors.
type response struct {
    Success         *bool          `json:"success"`
    Result          string         `json:"result"`
    Quotes          map[string]any `json:"quotes"`
    ExchangeRates   map[string]any `json:"exchange_rates"`
    ConversionRates map[string]any `json:"conversion_rates"`
    Rates           map[string]any `json:"rates"`
}

// Vendor describes one commercial rates API. Every vendor quotes units of
// asset per 1 USD.
type Vendor struct {
    Name    string
    BaseURL string
    // Timeout overrides the caller's timeout when set.
    Timeout time.Duration
    // Interval > 0 makes the vendor a background source refreshed on that interval.
    Interval time.Duration

    endpoint func(base, key string) string
    table    func(r *response) (map[string]any, error)
}

func (v Vendor) Background() bool { return v.Interval > 0 }

var errUnsuccessful = errors.New("unsuccessful response")

func requireSuccess(r *response) error {
    if r.Success == nil || !*r.Success { return errUnsuccessful }
    return nil
}

func missing(field string) error { return fmt.Errorf("response has no %s", field) }

var APILayer = Vendor{
    Name:    "apilayer",
    BaseURL: "https://apilayer.net/api",
    endpoint: func(base, key string) string {
        return base + "/live?access_key=" + url.QueryEscape(key) + "&source=USD&format=1"
    },
    table: func(r *response) (map[string]any, error) {
        if err := requireSuccess(r); err != nil { return nil, err }
        if r.Quotes == nil { return nil, missing("quotes") }
        // quotes are keyed by pair: USDEUR
        out := make(map[string]any, len(r.Quotes))
        for pair, v := range r.Quotes {
            out[strings.TrimPrefix(pair, "USD")] = v
        }
        return out, nil
    },
}

var AbstractAPI = Vendor{
    Name:    "abstractapi",
    BaseURL: "https://exchange-rates.abstractapi.com/v1",
    endpoint: func(base, key string) string {
        return base + "/live/?api_key=" + url.QueryEscape(key) + "&base=USD"
    },
    table: func(r *response) (map[string]any, error) {
        if r.ExchangeRates == nil { return nil, missing("exchange_rates") }
        return r.ExchangeRates, nil
    },
}

var ExchangeRate = Vendor{
    Name:     "exchangerate",
    BaseURL:  "https://v6.exchangerate-api.com/v6",
    Timeout:  10 * time.Second,
    Interval: 5 * time.Minute,
    endpoint: func(base, key string) string {
        return base + "/" + url.PathEscape(key) + "/latest/USD"
    },
    table: func(r *response) (map[string]any, error) {
        if r.Result != "success" { return nil, errUnsuccessful }
        if r.ConversionRates == nil { return nil, missing("conversion_rates") }
        return r.ConversionRates, nil
    },
}

var ForexRateAPI = Vendor{
    Name:    "forexrateapi",
    BaseURL: "https://api.forexrateapi.com/v1",
    endpoint: func(base, key string) string {
        return base + "/latest?api_key=" + url.QueryEscape(key) + "&base=USD"
    },
    table: ratesTable,
}

var FXRatesAPI = Vendor{
    Name:    "fxratesapi",
    BaseURL: "https://api.fxratesapi.com",
    endpoint: func(base, key string) string {
        return base + "/latest?api_key=" + url.QueryEscape(key)
    },
    table: ratesTable,
}

func ratesTable(r *response) (map[string]any, error) {
    if err := requireSuccess(r); err != nil { return nil, err }
    if r.Rates == nil { return nil, missing("rates") }
    return r.Rates, nil
}

// Vendors lists every supported vendor.
var Vendors = []Vendor{APILayer, AbstractAPI, ExchangeRate, ForexRateAPI, FXRatesAPI}

package provider

import (
    "fmt"
    "math/big"

    "fxprovider/internal/fixedpoint"
)

// Quotation describes how a pivoted table quotes its rates.
type Quotation int

const (
    // PerPivot tables quote units of the asset per one unit of the pivot (ECB: 1.08 USD per EUR).
    PerPivot Quotation = iota
    // InPivot tables quote the asset's price in pivot units (NBP: 4.0 PLN per USD).
    InPivot
)

const USD = "USD"

// Rates is a raw table of fixed-point rates keyed by asset symbol.
type Rates map[string]*big.Int

// Snapshot stamps every rate with source and timestamp.
func (r Rates) Snapshot(source string, ts int64) Snapshot {
    out := make(Snapshot, len(r))
    for sym, v := range r {
        p := fixedpoint.Zero()
        if v != nil { p.Set(v) }
        out[sym] = Price{Price: p, Source: source, Timestamp: ts}
    }
    return out
}

// InvertUSD converts a table quoted as units of asset per 1 USD into USD per
// unit of asset. The USD entry itself is dropped.
func InvertUSD(r Rates) Rates {
    out := make(Rates, len(r))
    for sym, v := range r {
        if sym == USD { continue }
        out[sym] = fixedpoint.Cross(v, fixedpoint.Scale)
    }
    return out
}

// Rebase moves a table pivoted on a non-USD currency onto USD: the USD row is
// removed and used as the pivot for every other row, and an entry for the
// pivot currency itself is added as Cross(Scale, usd).
func Rebase(r Rates, pivot string, q Quotation) (Rates, error) {
    usd, ok := r[USD]
    if !ok || fixedpoint.IsZero(usd) {
        return nil, fmt.Errorf("%w: USD rate not found in %s table", ErrUpstreamData, pivot)
    }
    out := make(Rates, len(r))
    for sym, v := range r {
        if sym == USD { continue }
        switch q {
        case InPivot:
            out[sym] = fixedpoint.Cross(usd, v)
        default:
            out[sym] = fixedpoint.Cross(v, usd)
        }
    }
    out[pivot] = fixedpoint.Cross(fixedpoint.Scale, usd)
    return out, nil
}

package aggregate

import (
    "math/big"
    "sort"

    "fxprovider/internal/fixedpoint"
)

// Latest is the consolidated price of one asset in the newest bucket.
type Latest struct {
    Asset     string   `json:"asset"`
    Price     string   `json:"price"`
    Raw       *big.Int `json:"raw"`
    Sources   []string `json:"sources"`
    Timestamp int64    `json:"ts"`
}

// LatestByAsset collapses the last bucket of m into one row per asset: the
// median of the non-zero prices, with the sources that reported them. Assets
// nobody priced are left out. Rows are sorted by asset.
func LatestByAsset(assets []string, m Matrix) []Latest {
    out := make([]Latest, 0, len(assets))
    if len(m) == 0 { return out }
    last := m[len(m)-1]

    for i, asset := range assets {
        if i >= len(last) { break }
        var (
            vals    []*big.Int
            sources []string
            ts      int64
        )
        for _, p := range last[i] {
            if fixedpoint.IsZero(p.Price) { continue }
            vals = append(vals, p.Price)
            sources = append(sources, p.Source)
            if p.Timestamp > ts { ts = p.Timestamp }
        }
        if len(vals) == 0 { continue }
        med := median(vals)
        sort.Strings(sources)
        out = append(out, Latest{
            Asset:     asset,
            Price:     fixedpoint.Format(med, fixedpoint.Decimals),
            Raw:       med,
            Sources:   sources,
            Timestamp: ts,
        })
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
    return out
}

// median of vals; an even count averages the middle pair, truncating.
func median(vals []*big.Int) *big.Int {
    s := make([]*big.Int, len(vals))
    copy(s, vals)
    sort.Slice(s, func(i, j int) bool { return s[i].Cmp(s[j]) < 0 })
    mid := len(s) / 2
    if len(s)%2 == 1 { return new(big.Int).Set(s[mid]) }
    sum := new(big.Int).Add(s[mid-1], s[mid])
    return sum.Quo(sum, big.NewInt(2))
}

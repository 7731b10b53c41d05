package provider

import (
    "context"
    "errors"
    "fmt"
    "math/big"
    "time"
)

var (
    // ErrInvalidArgument marks caller mistakes: bad timestamp, timeframe or base asset.
    ErrInvalidArgument = errors.New("invalid argument")
    // ErrUpstreamData marks a failed or malformed upstream response.
    ErrUpstreamData = errors.New("upstream data error")
)

// DefaultTimeout bounds a single provider fetch when the caller passes none.
const DefaultTimeout = 3000 * time.Millisecond

// Price is the normalized shape returned by all providers: USD per one unit of
// the asset, as a fixed-point integer. Zero means unavailable.
type Price struct {
    Price     *big.Int `json:"price"`
    Source    string   `json:"source"`
    Timestamp int64    `json:"ts"`
}

// Clone returns a deep copy with the timestamp replaced.
func (p Price) Clone(ts int64) Price {
    v := new(big.Int)
    if p.Price != nil { v.Set(p.Price) }
    return Price{Price: v, Source: p.Source, Timestamp: ts}
}

// Snapshot maps asset symbols (EUR, XAU, ...) to prices from a single provider.
type Snapshot map[string]Price

// Clone returns an independent copy with every timestamp set to ts.
func (s Snapshot) Clone(ts int64) Snapshot {
    if s == nil { return nil }
    out := make(Snapshot, len(s))
    for sym, p := range s { out[sym] = p.Clone(ts) }
    return out
}

type Provider interface {
    Name() string
    Fetch(ctx context.Context, timestamp int64, timeout time.Duration) (Snapshot, error)
}

// GetTradesData validates the request and asks p for its current snapshot.
func GetTradesData(ctx context.Context, p Provider, timestamp int64, timeout time.Duration) (Snapshot, error) {
    if timestamp <= 0 {
        return nil, fmt.Errorf("%w: timestamp must be positive, got %d", ErrInvalidArgument, timestamp)
    }
    if timeout <= 0 { timeout = DefaultTimeout }
    return p.Fetch(ctx, timestamp, timeout)
}

// Upstream wraps err as an ErrUpstreamData for the named source.
func Upstream(source string, err error) error {
    if err == nil { return nil }
    if errors.Is(err, ErrUpstreamData) { return err }
    return fmt.Errorf("%w: %s: %w", ErrUpstreamData, source, err)
}

// NormalizeTimestamp truncates t to the start of its timeframe bucket.
func NormalizeTimestamp(t, timeframe int64) int64 {
    if timeframe <= 0 { return t }
    q := t / timeframe
    if t%timeframe != 0 && t < 0 { q-- }
    return q * timeframe
}

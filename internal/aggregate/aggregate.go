package aggregate

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "sync"
    "time"

    "github.com/google/uuid"

    "fxprovider/internal/logging"
    "fxprovider/internal/metrics"
    "fxprovider/internal/provider"
    "fxprovider/internal/provider/registry"
)

const (
    // MaxTimeframe is the longest supported timeframe in seconds.
    MaxTimeframe   = 3600
    DefaultRetries = 3
)

// DefaultSources need no API key.
var DefaultSources = []string{"nbp", "ecb"}

// Resolver turns a source selection into providers.
type Resolver interface {
    Resolve(sources map[string]registry.Credentials) []provider.Provider
}

// Matrix holds prices by bucket, then by asset, then by provider:
// m[bucket][asset] lists the prices reported for that asset.
type Matrix [][][]provider.Price

type Options struct {
    // Sources selects providers by key; nil means the driver's defaults.
    Sources map[string]registry.Credentials
    // Timeout bounds every provider fetch; zero means provider.DefaultTimeout.
    Timeout time.Duration
}

type Driver struct {
    resolver Resolver
    defaults []string
    retries  int
    timeout  time.Duration
    logger   *slog.Logger
    metrics  *metrics.Metrics
}

type Option func(*Driver)

// WithDefaultSources replaces DefaultSources.
func WithDefaultSources(keys []string) Option {
    return func(d *Driver) {
        if len(keys) > 0 { d.defaults = keys }
    }
}

func WithRetries(n int) Option {
    return func(d *Driver) {
        if n > 0 { d.retries = n }
    }
}

// WithTimeout sets the fetch timeout used when a call passes none.
func WithTimeout(t time.Duration) Option { return func(d *Driver) { d.timeout = t } }

func WithLogger(l *slog.Logger) Option { return func(d *Driver) { d.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Driver) { d.metrics = m } }

func New(r Resolver, opts ...Option) *Driver {
    d := &Driver{resolver: r, defaults: DefaultSources, retries: DefaultRetries}
    for _, o := range opts { o(d) }
    d.logger = logging.Or(d.logger).With(slog.String("component", "aggregate"))
    return d
}

// Validate checks the arguments of GetTradesData.
func Validate(baseAsset string, timestamp, timeframe int64, count int) error {
    switch {
    case baseAsset != provider.USD:
        return fmt.Errorf("%w: only USD base asset is supported, got %q", provider.ErrInvalidArgument, baseAsset)
    case timeframe <= 0 || timeframe%60 != 0:
        return fmt.Errorf("%w: timeframe should be whole minutes, got %d", provider.ErrInvalidArgument, timeframe)
    case timeframe > MaxTimeframe:
        return fmt.Errorf("%w: timeframe should be less than or equal to 60 minutes, got %d", provider.ErrInvalidArgument, timeframe)
    case count <= 0:
        return fmt.Errorf("%w: count must be positive, got %d", provider.ErrInvalidArgument, count)
    case timestamp <= 0:
        return fmt.Errorf("%w: timestamp must be positive, got %d", provider.ErrInvalidArgument, timestamp)
    }
    return nil
}

// GetTradesData fetches current prices of assets from every selected source.
// The providers only know current rates, so just the last of count buckets,
// at timestamp + timeframe*(count-1), is filled. Within a bucket prices are
// in provider resolution order.
func (d *Driver) GetTradesData(ctx context.Context, assets []string, baseAsset string, timestamp, timeframe int64, count int, opts *Options) (Matrix, error) {
    if len(assets) == 0 { return Matrix{}, nil }
    if err := Validate(baseAsset, timestamp, timeframe, count); err != nil { return nil, err }

    var o Options
    if opts != nil { o = *opts }
    if o.Sources == nil { o.Sources = registry.Defaults(d.defaults) }
    if o.Timeout <= 0 { o.Timeout = d.timeout }

    logger := d.logger.With(slog.String("request_id", uuid.NewString()))
    providers := d.resolver.Resolve(o.Sources)
    ts := timestamp + timeframe*int64(count-1)

    results := make([]provider.Snapshot, len(providers))
    var wg sync.WaitGroup
    for i, p := range providers {
        wg.Add(1)
        go func(i int, p provider.Provider) {
            defer wg.Done()
            results[i] = d.fetch(ctx, logger, p, ts, o.Timeout)
        }(i, p)
    }
    wg.Wait()

    m := make(Matrix, count)
    for b := range m {
        m[b] = make([][]provider.Price, len(assets))
        for a := range m[b] { m[b][a] = []provider.Price{} }
    }
    last := m[count-1]
    for a, asset := range assets {
        for _, snap := range results {
            if p, ok := snap[asset]; ok {
                last[a] = append(last[a], p)
            }
        }
    }
    logger.Debug("aggregated", "providers", len(providers), "assets", len(assets), "ts", ts)
    return m, nil
}

// fetch tries p up to d.retries times. An empty result ends the attempts;
// failures are reported once, together.
func (d *Driver) fetch(ctx context.Context, logger *slog.Logger, p provider.Provider, ts int64, timeout time.Duration) provider.Snapshot {
    var errs []error
    for attempt := 0; attempt < d.retries; attempt++ {
        if ctx.Err() != nil {
            errs = append(errs, ctx.Err())
            break
        }
        snap, err := provider.GetTradesData(ctx, p, ts, timeout)
        if err != nil {
            d.metrics.FetchAttempt(p.Name(), "error")
            errs = append(errs, err)
            continue
        }
        if len(snap) == 0 {
            d.metrics.FetchAttempt(p.Name(), "empty")
            logger.Debug("no data", "provider", p.Name())
            return nil
        }
        d.metrics.FetchAttempt(p.Name(), "ok")
        return snap
    }
    if len(errs) > 0 {
        logger.Warn("failed to get data", "provider", p.Name(), "attempts", len(errs), "error", errors.Join(errs...))
    }
    return nil
}

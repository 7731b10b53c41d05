// Package registry maps source keys ("nbp", "apilayer", ...) to provider
// factories and builds the providers an aggregation call asks for.
package registry

import (
    "context"
    "log/slog"
    "sort"
    "strings"
    "sync"
    "time"

    "fxprovider/internal/config"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/provider"
    "fxprovider/internal/provider/ecb"
    "fxprovider/internal/provider/fxapi"
    "fxprovider/internal/provider/nbp"
    "fxprovider/internal/provider/ratelimit"
    "fxprovider/internal/provider/refresh"
)

// Credentials are passed to a source factory. Sources without an API key
// ignore them.
type Credentials struct {
    APIKey string `json:"apiKey,omitempty"`
    Secret string `json:"secret,omitempty"`
}

// Factory builds a provider for one source.
type Factory func(creds Credentials) provider.Provider

// Deps are shared by every provider the registry builds.
type Deps struct {
    HTTP *httpx.Client
    // Scheduler runs background sources. Without one they load on every fetch.
    Scheduler *refresh.Scheduler
    Logger    *slog.Logger
    // Sources holds configured credentials, limits and overrides by key.
    Sources map[string]config.Source
}

type Registry struct {
    deps   Deps
    logger *slog.Logger

    mu        sync.Mutex
    factories map[string]Factory
    limiters  map[string]ratelimit.Limiter
}

func New(deps Deps) *Registry {
    if deps.HTTP == nil { deps.HTTP = httpx.New(0) }
    r := &Registry{
        deps:      deps,
        logger:    logging.Or(deps.Logger).With(slog.String("component", "registry")),
        factories: make(map[string]Factory),
        limiters:  make(map[string]ratelimit.Limiter),
    }
    r.Register(nbp.Name, r.nbp)
    r.Register(ecb.Name, r.ecb)
    for _, v := range fxapi.Vendors {
        r.Register(v.Name, r.vendor(v))
    }
    return r
}

// Register adds or replaces the factory for key.
func (r *Registry) Register(key string, f Factory) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.factories[strings.ToLower(key)] = f
}

// Keys returns the registered source keys in order.
func (r *Registry) Keys() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    keys := make([]string, 0, len(r.factories))
    for k := range r.factories { keys = append(keys, k) }
    sort.Strings(keys)
    return keys
}

// Resolve builds one provider per known key, ordered by key. Unknown keys are
// logged and skipped. Empty credentials fall back to the configured ones.
func (r *Registry) Resolve(sources map[string]Credentials) []provider.Provider {
    keys := make([]string, 0, len(sources))
    for k := range sources { keys = append(keys, k) }
    sort.Strings(keys)

    out := make([]provider.Provider, 0, len(keys))
    for _, k := range keys {
        key := strings.ToLower(strings.TrimSpace(k))
        r.mu.Lock()
        f, ok := r.factories[key]
        r.mu.Unlock()
        if !ok {
            r.logger.Warn("unknown source", "source", k)
            continue
        }
        creds := sources[k]
        if creds.APIKey == "" && creds.Secret == "" {
            cfg := r.deps.Sources[key]
            creds = Credentials{APIKey: cfg.APIKey, Secret: cfg.Secret}
        }
        out = append(out, f(creds))
    }
    return out
}

// Defaults builds a source map for keys with empty credentials.
func Defaults(keys []string) map[string]Credentials {
    out := make(map[string]Credentials, len(keys))
    for _, k := range keys { out[k] = Credentials{} }
    return out
}

// limiter returns the limiter shared by every provider of key, or nil.
func (r *Registry) limiter(key string) ratelimit.Limiter {
    r.mu.Lock()
    defer r.mu.Unlock()
    if l, ok := r.limiters[key]; ok { return l }
    cfg := r.deps.Sources[key]
    l := ratelimit.FromSettings(ratelimit.Settings{
        MaxRequestsPerMinute: cfg.MaxRequestsPerMinute,
        MinInterval:          time.Duration(cfg.MinRequestIntervalSec) * time.Second,
        Burst:                cfg.Burst,
    })
    r.limiters[key] = l
    return l
}

func (r *Registry) interval(key string, def time.Duration) time.Duration {
    if s := r.deps.Sources[key].RefreshIntervalSec; s > 0 {
        return time.Duration(s) * time.Second
    }
    return def
}

func (r *Registry) baseURL(key string) string { return r.deps.Sources[key].BaseURL }

// background serves load through the scheduler's cache, or loads on every
// fetch when there is no scheduler.
func (r *Registry) background(key string, interval time.Duration, load refresh.LoadFunc) provider.Provider {
    if l := r.limiter(key); l != nil {
        inner := load
        load = func(ctx context.Context) (provider.Snapshot, error) {
            if err := l.Wait(ctx); err != nil { return nil, provider.Upstream(key, err) }
            return inner(ctx)
        }
    }
    if r.deps.Scheduler == nil {
        return &direct{name: key, load: load}
    }
    return r.deps.Scheduler.Provider(key, interval, load)
}

func (r *Registry) nbp(Credentials) provider.Provider {
    opts := []nbp.Option{nbp.WithHTTPClient(r.deps.HTTP), nbp.WithLogger(r.deps.Logger)}
    if u := r.baseURL(nbp.Name); u != "" { opts = append(opts, nbp.WithBaseURL(u)) }
    c := nbp.New(opts...)
    return r.background(nbp.Name, r.interval(nbp.Name, nbp.Interval), c.Snapshot)
}

func (r *Registry) ecb(Credentials) provider.Provider {
    opts := []ecb.Option{ecb.WithHTTPClient(r.deps.HTTP), ecb.WithLogger(r.deps.Logger)}
    if u := r.baseURL(ecb.Name); u != "" { opts = append(opts, ecb.WithBaseURL(u)) }
    c := ecb.New(opts...)
    return r.background(ecb.Name, r.interval(ecb.Name, ecb.Interval), c.Snapshot)
}

func (r *Registry) vendor(v fxapi.Vendor) Factory {
    return func(creds Credentials) provider.Provider {
        opts := []fxapi.Option{fxapi.WithHTTPClient(r.deps.HTTP), fxapi.WithLogger(r.deps.Logger)}
        if u := r.baseURL(v.Name); u != "" { opts = append(opts, fxapi.WithBaseURL(u)) }
        c := fxapi.New(v, creds.APIKey, opts...)
        // the shared background refresh runs on the configured key only; a
        // caller's own key is used for that caller's requests
        if v.Background() && creds.APIKey != "" && creds.APIKey == r.deps.Sources[v.Name].APIKey {
            return r.background(v.Name, r.interval(v.Name, v.Interval), c.Snapshot)
        }
        return ratelimit.Wrap(c, r.limiter(v.Name))
    }
}

// direct loads a fresh snapshot on every fetch.
type direct struct {
    name string
    load refresh.LoadFunc
}

func (d *direct) Name() string { return d.name }

func (d *direct) Fetch(ctx context.Context, timestamp int64, timeout time.Duration) (provider.Snapshot, error) {
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    snap, err := d.load(ctx)
    if err != nil { return nil, err }
    return snap.Clone(timestamp), nil
}

package refresh

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"

    "fxprovider/internal/logging"
    "fxprovider/internal/metrics"
    "fxprovider/internal/provider"
    "fxprovider/internal/provider/cache"
)

// LoadFunc fetches a fresh snapshot from upstream.
type LoadFunc func(ctx context.Context) (provider.Snapshot, error)

type Config struct {
    // SyncDelay is added after each bucket boundary so upstream has time to publish.
    SyncDelay time.Duration
    // RetryDelay replaces the next delay after a failed load.
    RetryDelay time.Duration
}

var DefaultConfig = Config{SyncDelay: 5 * time.Second, RetryDelay: time.Minute}

const (
    outcomeUpdated = "updated"
    outcomeSkipped = "skipped"
    outcomeFailed  = "failed"
)

var errClosed = errors.New("refresh scheduler closed")

type task struct {
    name     string
    interval time.Duration
    load     LoadFunc
}

// bucket returns the normalized timestamp of now for the task's interval.
func (t *task) bucket(now time.Time) int64 {
    return provider.NormalizeTimestamp(now.Unix(), int64(t.interval/time.Second))
}

// Scheduler keeps cache entries of background providers fresh. Every
// registered name gets one loop that reloads the snapshot once per interval
// bucket. Loads of the same name are coalesced, whether they come from the
// loop or from a cache miss.
type Scheduler struct {
    store   *cache.Store
    cfg     Config
    logger  *slog.Logger
    metrics *metrics.Metrics
    now     func() time.Time

    group singleflight.Group

    mu     sync.Mutex
    tasks  map[string]*task
    closed bool

    ctx    context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(store *cache.Store, cfg Config, opts ...Option) *Scheduler {
    if store == nil { store = cache.New() }
    if cfg.RetryDelay <= 0 { cfg.RetryDelay = DefaultConfig.RetryDelay }
    if cfg.SyncDelay < 0 { cfg.SyncDelay = 0 }
    ctx, cancel := context.WithCancel(context.Background())
    s := &Scheduler{
        store:  store,
        cfg:    cfg,
        now:    time.Now,
        tasks:  make(map[string]*task),
        ctx:    ctx,
        cancel: cancel,
    }
    for _, o := range opts { o(s) }
    s.logger = logging.Or(s.logger).With(slog.String("component", "refresh"))
    return s
}

func (s *Scheduler) Store() *cache.Store { return s.store }

// Register starts the background loop for name. It returns false when name
// is already registered (the first load function stays in place), when the
// interval is shorter than a second or when the scheduler is closed.
func (s *Scheduler) Register(name string, interval time.Duration, load LoadFunc) bool {
    if name == "" || load == nil || interval < time.Second {
        s.logger.Warn("refusing registration", "provider", name, "interval", interval)
        return false
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed { return false }
    if _, ok := s.tasks[name]; ok { return false }
    t := &task{name: name, interval: interval, load: load}
    s.tasks[name] = t
    s.wg.Add(1)
    go s.loop(t)
    s.logger.Info("registered", "provider", name, "interval", interval)
    return true
}

// Close stops every loop and waits for them. A load in progress finishes first.
func (s *Scheduler) Close() {
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        return
    }
    s.closed = true
    s.mu.Unlock()
    s.cancel()
    s.wg.Wait()
}

func (s *Scheduler) task(name string) *task {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.tasks[name]
}

func (s *Scheduler) loop(t *task) {
    defer s.wg.Done()
    logger := s.logger.With(slog.String("provider", t.name))
    for {
        delay, err := s.cycle(t)
        if err != nil {
            logger.Warn("refresh failed", "error", err, "retry_in", delay)
        } else {
            logger.Debug("next refresh", "in", delay)
        }
        timer := time.NewTimer(delay)
        select {
        case <-s.ctx.Done():
            timer.Stop()
            return
        case <-timer.C:
        }
    }
}

// Refresh runs one refresh cycle for name and returns the delay until the
// next one.
func (s *Scheduler) Refresh(name string) (time.Duration, error) {
    t := s.task(name)
    if t == nil {
        return 0, fmt.Errorf("%w: %s is not registered", provider.ErrInvalidArgument, name)
    }
    return s.cycle(t)
}

func (s *Scheduler) cycle(t *task) (time.Duration, error) {
    now := s.now()
    normalized := t.bucket(now)
    v, err, _ := s.group.Do(t.name, s.loadFn(t, normalized))
    if err != nil {
        s.metrics.RefreshCycle(t.name, outcomeFailed)
        return s.cfg.RetryDelay, err
    }
    s.metrics.RefreshCycle(t.name, v.(string))
    next := time.Unix(normalized, 0).Add(t.interval + s.cfg.SyncDelay).Sub(now)
    if next < 0 { next = 0 }
    return next, nil
}

// loadFn loads and stores a snapshot for the bucket unless the cache already
// holds it. The load is detached from the caller's cancellation so an
// abandoned wait never leaves a half-done refresh.
func (s *Scheduler) loadFn(t *task, normalized int64) func() (any, error) {
    return func() (any, error) {
        if ts, ok := s.store.Timestamp(t.name); ok && ts >= normalized {
            return outcomeSkipped, nil
        }
        snap, err := t.load(context.WithoutCancel(s.ctx))
        if err != nil { return nil, err }
        if err := s.store.Set(t.name, snap, normalized); err != nil { return nil, err }
        s.metrics.SetCachedAssets(t.name, len(snap))
        s.logger.Info("cache updated", "provider", t.name, "assets", len(snap), "bucket", normalized)
        return outcomeUpdated, nil
    }
}

// Provider is the cache-backed provider template: it serves the cached
// snapshot and falls back to one coalesced load on a miss.
type Provider struct {
    name string
    s    *Scheduler
}

// Provider registers load under name and returns the provider serving its cache.
func (s *Scheduler) Provider(name string, interval time.Duration, load LoadFunc) *Provider {
    s.Register(name, interval, load)
    return &Provider{name: name, s: s}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Fetch(ctx context.Context, timestamp int64, timeout time.Duration) (provider.Snapshot, error) {
    t := p.s.task(p.name)
    if snap, ok := p.s.store.TryGet(p.name, timestamp); ok {
        p.warnIfStale(t)
        return snap, nil
    }

    if t == nil { return nil, provider.Upstream(p.name, errClosed) }
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    ch := p.s.group.DoChan(p.name, p.s.loadFn(t, t.bucket(p.s.now())))
    select {
    case <-ctx.Done():
        return nil, provider.Upstream(p.name, ctx.Err())
    case r := <-ch:
        if r.Err != nil { return nil, provider.Upstream(p.name, r.Err) }
    }
    snap, ok := p.s.store.TryGet(p.name, timestamp)
    if !ok { return nil, provider.Upstream(p.name, errors.New("no snapshot after load")) }
    return snap, nil
}

// warnIfStale logs when the cached snapshot is more than one interval behind
// the current bucket, which means refreshes keep failing. The snapshot is
// still served.
func (p *Provider) warnIfStale(t *task) {
    if t == nil { return }
    ts, ok := p.s.store.Timestamp(p.name)
    if !ok { return }
    current := t.bucket(p.s.now())
    if current-ts > int64(t.interval/time.Second) {
        p.s.logger.Warn("serving stale snapshot", "provider", p.name, "cached_bucket", ts, "current_bucket", current)
    }
}

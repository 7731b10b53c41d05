package ratelimit

import (
    "context"
    "sync"
    "time"

    "fxprovider/internal/provider"
)

// Limiter gates upstream calls. Wait blocks until a call may proceed or the
// context is canceled.
type Limiter interface {
    Wait(ctx context.Context) error
}

// MinInterval enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
    Interval time.Duration
    mu       sync.Mutex
    next     time.Time
}

func NewMinInterval(d time.Duration) *MinInterval { return &MinInterval{Interval: d} }

func (m *MinInterval) Wait(ctx context.Context) error {
    if m.Interval <= 0 { return nil }
    // reserve a slot so concurrent callers queue up behind each other
    m.mu.Lock()
    now := time.Now()
    slot := m.next
    if slot.Before(now) { slot = now }
    m.next = slot.Add(m.Interval)
    m.mu.Unlock()

    wait := time.Until(slot)
    if wait <= 0 { return nil }
    t := time.NewTimer(wait)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

// Chain waits on every limiter in order.
type Chain []Limiter

func (c Chain) Wait(ctx context.Context) error {
    for _, l := range c {
        if l == nil { continue }
        if err := l.Wait(ctx); err != nil { return err }
    }
    return nil
}

// Provider wraps a provider and gates its fetches with L.
type Provider struct {
    P provider.Provider
    L Limiter
}

func (p *Provider) Name() string { return p.P.Name() }

func (p *Provider) Fetch(ctx context.Context, timestamp int64, timeout time.Duration) (provider.Snapshot, error) {
    if p.L != nil {
        if err := p.L.Wait(ctx); err != nil { return nil, provider.Upstream(p.P.Name(), err) }
    }
    return p.P.Fetch(ctx, timestamp, timeout)
}

// Wrap returns p gated by l, or p itself when l is nil.
func Wrap(p provider.Provider, l Limiter) provider.Provider {
    if l == nil { return p }
    return &Provider{P: p, L: l}
}

// Settings describes the limits configured for one source.
type Settings struct {
    MaxRequestsPerMinute int
    MinInterval          time.Duration
    Burst                int
}

// FromSettings builds the limiter for s, or nil when s sets no limit.
func FromSettings(s Settings) Limiter {
    var c Chain
    if s.MaxRequestsPerMinute > 0 {
        c = append(c, NewTokenBucket(s.MaxRequestsPerMinute, s.Burst))
    }
    if s.MinInterval > 0 {
        c = append(c, NewMinInterval(s.MinInterval))
    }
    switch len(c) {
    case 0:
        return nil
    case 1:
        return c[0]
    }
    return c
}

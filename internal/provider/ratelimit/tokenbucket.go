package ratelimit

import (
    "context"
    "sync"
    "time"
)

// TokenBucket allows Burst calls at once and then refills at a steady rate.
// Vendors publish their quotas per minute, so the rate is expressed that way.
type TokenBucket struct {
    perSecond float64
    burst     float64
    now       func() time.Time

    mu     sync.Mutex
    tokens float64
    last   time.Time
}

func NewTokenBucket(perMinute int, burst int) *TokenBucket {
    if perMinute <= 0 { perMinute = 1 }
    if burst <= 0 { burst = 1 }
    tb := &TokenBucket{perSecond: float64(perMinute) / 60, burst: float64(burst), now: time.Now}
    tb.tokens = tb.burst // start full
    tb.last = tb.now()
    return tb
}

// refill must be called with mu held.
func (tb *TokenBucket) refill() {
    now := tb.now()
    if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
        tb.tokens = min(tb.burst, tb.tokens+elapsed*tb.perSecond)
        tb.last = now
    }
}

// take consumes a token, or reports how long until one is available.
func (tb *TokenBucket) take() (time.Duration, bool) {
    tb.mu.Lock()
    defer tb.mu.Unlock()
    tb.refill()
    if tb.tokens >= 1 {
        tb.tokens--
        return 0, true
    }
    wait := time.Duration((1 - tb.tokens) / tb.perSecond * float64(time.Second))
    return max(wait, time.Millisecond), false
}

// Allow consumes a token if one is available without blocking.
func (tb *TokenBucket) Allow() bool {
    _, ok := tb.take()
    return ok
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
    for {
        wait, ok := tb.take()
        if ok { return nil }
        timer := time.NewTimer(wait)
        select {
        case <-ctx.Done():
            timer.Stop()
            return ctx.Err()
        case <-timer.C:
        }
    }
}

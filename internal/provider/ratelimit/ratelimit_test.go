package ratelimit

import (
    "context"
    "math/big"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "fxprovider/internal/provider"
)

type countingProvider struct{ calls int }

func (c *countingProvider) Name() string { return "stub" }

func (c *countingProvider) Fetch(ctx context.Context, ts int64, timeout time.Duration) (provider.Snapshot, error) {
    c.calls++
    return provider.Snapshot{"EUR": {Price: big.NewInt(1), Source: "stub", Timestamp: ts}}, nil
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
    now := time.Unix(1_700_000_000, 0)
    tb := NewTokenBucket(60, 2)
    tb.now = func() time.Time { return now }
    tb.last = now

    require.True(t, tb.Allow())
    require.True(t, tb.Allow())
    require.False(t, tb.Allow())

    wait, ok := tb.take()
    require.False(t, ok)
    require.Equal(t, time.Second, wait)

    now = now.Add(time.Second)
    require.True(t, tb.Allow())
    require.False(t, tb.Allow())

    // refill never exceeds the burst
    now = now.Add(time.Hour)
    require.True(t, tb.Allow())
    require.True(t, tb.Allow())
    require.False(t, tb.Allow())
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
    tb := NewTokenBucket(1, 1)
    require.NoError(t, tb.Wait(t.Context()))

    ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
    defer cancel()
    require.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestMinInterval_SpacesCalls(t *testing.T) {
    m := NewMinInterval(30 * time.Millisecond)
    start := time.Now()
    for i := 0; i < 3; i++ {
        require.NoError(t, m.Wait(t.Context()))
    }
    require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestMinInterval_Canceled(t *testing.T) {
    m := NewMinInterval(time.Hour)
    require.NoError(t, m.Wait(t.Context()))

    ctx, cancel := context.WithCancel(t.Context())
    cancel()
    require.ErrorIs(t, m.Wait(ctx), context.Canceled)
}

func TestProvider_GatesFetch(t *testing.T) {
    inner := &countingProvider{}
    p := Wrap(inner, NewMinInterval(time.Hour))
    require.Equal(t, "stub", p.Name())

    _, err := p.Fetch(t.Context(), 10, time.Second)
    require.NoError(t, err)

    ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
    defer cancel()
    _, err = p.Fetch(ctx, 10, time.Second)
    require.ErrorIs(t, err, provider.ErrUpstreamData)
    require.Equal(t, 1, inner.calls)
}

func TestFromSettings(t *testing.T) {
    require.Nil(t, FromSettings(Settings{}))
    require.IsType(t, &TokenBucket{}, FromSettings(Settings{MaxRequestsPerMinute: 10}))
    require.IsType(t, &MinInterval{}, FromSettings(Settings{MinInterval: time.Second}))
    require.IsType(t, Chain{}, FromSettings(Settings{MaxRequestsPerMinute: 10, MinInterval: time.Second}))

    inner := &countingProvider{}
    require.Same(t, provider.Provider(inner), Wrap(inner, nil))
}

package cache_test

import (
    "math/big"
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "fxprovider/internal/provider"
    "fxprovider/internal/provider/cache"
)

func snapshot() provider.Snapshot {
    return provider.Snapshot{
        "EUR": {Price: big.NewInt(108), Source: "ecb"},
        "GBP": {Price: big.NewInt(127), Source: "ecb"},
    }
}

func TestSet_InvalidArguments(t *testing.T) {
    s := cache.New()
    require.ErrorIs(t, s.Set("", snapshot(), 0), provider.ErrInvalidArgument)
    require.ErrorIs(t, s.Set("ecb", nil, 0), provider.ErrInvalidArgument)
    require.ErrorIs(t, s.Set("ecb", snapshot(), -60), provider.ErrInvalidArgument)
    _, ok := s.TryGet("ecb", 1)
    require.False(t, ok)
}

func TestTryGet_Missing(t *testing.T) {
    s := cache.New()
    snap, ok := s.TryGet("nbp", 100)
    require.False(t, ok)
    require.Nil(t, snap)
    _, ok = s.Timestamp("nbp")
    require.False(t, ok)
}

func TestTryGet_ClonesWithRequestTimestamp(t *testing.T) {
    s := cache.New()
    require.NoError(t, s.Set("ecb", snapshot(), 3600))

    got, ok := s.TryGet("ecb", 4000)
    require.True(t, ok)
    require.Len(t, got, 2)
    for sym, p := range got {
        require.Equal(t, int64(4000), p.Timestamp, sym)
        require.Equal(t, "ecb", p.Source)
    }
    require.Equal(t, int64(108), got["EUR"].Price.Int64())

    // mutate the copy in every way a caller could
    got["EUR"].Price.SetInt64(1)
    delete(got, "GBP")
    got["XAU"] = provider.Price{Price: big.NewInt(5)}

    again, ok := s.TryGet("ecb", 5000)
    require.True(t, ok)
    require.Len(t, again, 2)
    require.Equal(t, int64(108), again["EUR"].Price.Int64())
    require.Equal(t, int64(5000), again["GBP"].Timestamp)

    ts, ok := s.Timestamp("ecb")
    require.True(t, ok)
    require.Equal(t, int64(3600), ts)
}

func TestSet_OwnsItsCopy(t *testing.T) {
    s := cache.New()
    in := snapshot()
    require.NoError(t, s.Set("ecb", in, 0))
    in["EUR"].Price.SetInt64(0)
    in["CHF"] = provider.Price{Price: big.NewInt(1)}

    got, _ := s.TryGet("ecb", 1)
    require.Len(t, got, 2)
    require.Equal(t, int64(108), got["EUR"].Price.Int64())
}

func TestSet_ReplacesWholesale(t *testing.T) {
    s := cache.New()
    require.NoError(t, s.Set("nbp", snapshot(), 60))
    require.NoError(t, s.Set("nbp", provider.Snapshot{"PLN": {Price: big.NewInt(4)}}, 120))

    got, _ := s.TryGet("nbp", 1)
    require.Len(t, got, 1)
    require.Contains(t, got, "PLN")
    require.Equal(t, 1, s.Len("nbp"))

    s.Clear("nbp")
    _, ok := s.TryGet("nbp", 1)
    require.False(t, ok)
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
    s := cache.New()
    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(2)
        go func(i int) {
            defer wg.Done()
            for j := 0; j < 100; j++ {
                _ = s.Set("ecb", provider.Snapshot{"EUR": {Price: big.NewInt(int64(j))}, "GBP": {Price: big.NewInt(int64(j))}}, int64(j))
            }
        }(i)
        go func() {
            defer wg.Done()
            for j := 0; j < 100; j++ {
                if snap, ok := s.TryGet("ecb", 1); ok {
                    // both rows always come from the same write
                    assert.Equal(t, snap["EUR"].Price.Int64(), snap["GBP"].Price.Int64())
                }
            }
        }()
    }
    wg.Wait()
}

package httpx_test

import (
    "testing"

    "github.com/stretchr/testify/require"

    "fxprovider/internal/httpx"
)

func TestNewGateway_Empty(t *testing.T) {
    require.Nil(t, httpx.NewGateway(nil, "k", true))

    var g *httpx.Gateway
    require.Equal(t, "", g.Pick("https://api.example.com/x"))
}

func TestGateway_SingleAlwaysUsed(t *testing.T) {
    g := httpx.NewGateway([]string{"https://gw1"}, "k", false)
    for i := 0; i < 3; i++ {
        require.Equal(t, "https://gw1", g.Pick("https://a.example.com/x"))
        require.Equal(t, "https://gw1", g.Pick("https://b.example.com/y"))
    }
}

func TestGateway_RoundRobinPerHost(t *testing.T) {
    g := httpx.NewGateway([]string{"https://gw1", "https://gw2", "https://gw3"}, "k", false)

    require.Equal(t, "https://gw1", g.Pick("https://a.example.com/1"))
    require.Equal(t, "https://gw2", g.Pick("https://a.example.com/2"))
    require.Equal(t, "https://gw3", g.Pick("https://a.example.com/3"))
    require.Equal(t, "https://gw1", g.Pick("https://a.example.com/4"))
}

func TestGateway_NewHostGetsLeastRecentlyUsed(t *testing.T) {
    g := httpx.NewGateway([]string{"https://gw1", "https://gw2", "https://gw3"}, "k", false)

    require.Equal(t, "https://gw1", g.Pick("https://a.example.com/"))
    require.Equal(t, "https://gw2", g.Pick("https://a.example.com/"))
    // gw3 was never used
    require.Equal(t, "https://gw3", g.Pick("https://b.example.com/"))
    // gw1 is now the stalest one
    require.Equal(t, "https://gw1", g.Pick("https://c.example.com/"))
}

func TestGateway_UseCurrentProviderAddsDirectSlot(t *testing.T) {
    g := httpx.NewGateway([]string{"https://gw1"}, "k", true)

    require.Equal(t, "", g.Pick("https://a.example.com/"))
    require.Equal(t, "https://gw1", g.Pick("https://a.example.com/"))

    target, header, base := g.Rewrite("https://a.example.com/x?y=1")
    require.Equal(t, "https://a.example.com/x?y=1", target)
    require.Nil(t, header)
    require.Equal(t, "", base)
}

func TestGateway_Rewrite(t *testing.T) {
    g := httpx.NewGateway([]string{"https://gw1/"}, "secret", false)

    target, header, base := g.Rewrite("https://a.example.com/x?y=1&z=2")
    require.Equal(t, "https://gw1/gateway?url=https%3A%2F%2Fa.example.com%2Fx%3Fy%3D1%26z%3D2", target)
    require.Equal(t, "secret", header.Get(httpx.ValidationHeader))
    require.Equal(t, "https://gw1", base)
}

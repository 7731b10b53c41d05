package httpx

import (
    "net/http"
    "net/url"
    "strings"
    "sync"
)

// ValidationHeader carries the gateway validation key.
const ValidationHeader = "X-Gateway-Validation"

// Gateway rewrites upstream URLs to go through one of several forwarding
// gateways. Each upstream host rotates over the gateways round robin; a host
// seen for the first time gets the least recently used gateway. An empty base
// URL stands for a direct request.
type Gateway struct {
    mu            sync.Mutex
    urls          []string
    validationKey string
    hosts         map[string]int // host -> last gateway index
    lastUsed      []uint64
    seq           uint64
}

// NewGateway returns nil when urls is empty.
func NewGateway(urls []string, validationKey string, useCurrentProvider bool) *Gateway {
    if len(urls) == 0 {
        return nil
    }
    list := make([]string, 0, len(urls)+1)
    if useCurrentProvider {
        list = append(list, "")
    }
    for _, u := range urls {
        list = append(list, strings.TrimRight(strings.TrimSpace(u), "/"))
    }
    return &Gateway{
        urls:          list,
        validationKey: validationKey,
        hosts:         make(map[string]int),
        lastUsed:      make([]uint64, len(list)),
    }
}

// Pick returns the gateway base URL for rawURL, or "" for a direct request.
func (g *Gateway) Pick(rawURL string) string {
    if g == nil || len(g.urls) == 0 {
        return ""
    }
    if len(g.urls) == 1 {
        return g.urls[0]
    }
    host := rawURL
    if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
        host = u.Host
    }

    g.mu.Lock()
    defer g.mu.Unlock()
    idx, seen := g.hosts[host]
    if seen {
        idx = (idx + 1) % len(g.urls)
    } else {
        idx = g.leastRecentlyUsed()
    }
    g.hosts[host] = idx
    g.seq++
    g.lastUsed[idx] = g.seq
    return g.urls[idx]
}

func (g *Gateway) leastRecentlyUsed() int {
    best := 0
    for i, v := range g.lastUsed {
        if v < g.lastUsed[best] {
            best = i
        }
    }
    return best
}

// Rewrite returns the URL to request, the extra headers and the chosen gateway base.
func (g *Gateway) Rewrite(rawURL string) (string, http.Header, string) {
    base := g.Pick(rawURL)
    if base == "" {
        return rawURL, nil, ""
    }
    h := http.Header{}
    h.Set(ValidationHeader, g.validationKey)
    return base + "/gateway?url=" + url.QueryEscape(rawURL), h, base
}

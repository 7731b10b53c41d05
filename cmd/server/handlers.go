package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "fxprovider/internal/aggregate"
    "fxprovider/internal/provider"
    "fxprovider/internal/provider/registry"
)

const maxAssets = 1000

// tradesGetter is the part of aggregate.Driver the handlers use.
type tradesGetter interface {
    GetTradesData(ctx context.Context, assets []string, baseAsset string, timestamp, timeframe int64, count int, opts *aggregate.Options) (aggregate.Matrix, error)
}

type server struct {
    driver         tradesGetter
    logger         *slog.Logger
    requestTimeout time.Duration
    now            func() time.Time
}

type pricesRequest struct {
    Assets    []string                        `json:"assets"`
    Base      string                          `json:"base"`
    Timestamp int64                           `json:"timestamp"`
    Timeframe int64                           `json:"timeframe"`
    Count     int                             `json:"count"`
    Sources   map[string]registry.Credentials `json:"sources"`
    TimeoutMs int                             `json:"timeout_ms"`
}

type pricesResponse struct {
    Assets    []string         `json:"assets"`
    Timestamp int64            `json:"timestamp"`
    Timeframe int64            `json:"timeframe"`
    Prices    aggregate.Matrix `json:"prices"`
}

type latestResponse struct {
    Latest []aggregate.Latest `json:"latest"`
}

type errorResponse struct {
    Error string `json:"error"`
}

func (s *server) routes(gatherer prometheus.Gatherer) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte(`{"status":"ok"}`))
    })
    mux.HandleFunc("/api/prices", func(w http.ResponseWriter, r *http.Request) {
        switch r.Method {
        case http.MethodGet:
            s.handleGetPrices(w, r)
        case http.MethodPost:
            s.handlePostPrices(w, r)
        default:
            writeError(w, http.StatusMethodNotAllowed, "method not allowed")
        }
    })
    mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            writeError(w, http.StatusMethodNotAllowed, "method not allowed")
            return
        }
        s.handleLatest(w, r)
    })
    // the gzip middleware already compresses
    mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{DisableCompression: true}))
    return withJSONHeaders(withGzip(recoverPanic(s.logger, limitBody(mux))))
}

// parseQuery reads a prices request from query parameters. Missing values
// default to: base USD, timestamp now, timeframe 60, count 1.
func (s *server) parseQuery(r *http.Request) (pricesRequest, error) {
    q := r.URL.Query()
    req := pricesRequest{
        Assets:    splitCSV(strings.ToUpper(q.Get("assets"))),
        Base:      strings.ToUpper(strings.TrimSpace(q.Get("base"))),
        Timestamp: s.now().Unix(),
        Timeframe: 60,
        Count:     1,
    }
    var err error
    if v := q.Get("timestamp"); v != "" {
        if req.Timestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
            return req, fmt.Errorf("invalid timestamp %q", v)
        }
    }
    if v := q.Get("timeframe"); v != "" {
        if req.Timeframe, err = strconv.ParseInt(v, 10, 64); err != nil {
            return req, fmt.Errorf("invalid timeframe %q", v)
        }
    }
    if v := q.Get("count"); v != "" {
        if req.Count, err = strconv.Atoi(v); err != nil {
            return req, fmt.Errorf("invalid count %q", v)
        }
    }
    if v := q.Get("timeout_ms"); v != "" {
        if req.TimeoutMs, err = strconv.Atoi(v); err != nil {
            return req, fmt.Errorf("invalid timeout_ms %q", v)
        }
    }
    if v := q.Get("sources"); v != "" {
        req.Sources = registry.Defaults(splitCSV(strings.ToLower(v)))
    }
    return req, nil
}

func (s *server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
    req, err := s.parseQuery(r)
    if err != nil {
        writeError(w, http.StatusBadRequest, err.Error())
        return
    }
    s.writePrices(w, r.Context(), req)
}

func (s *server) handlePostPrices(w http.ResponseWriter, r *http.Request) {
    req := pricesRequest{Timestamp: s.now().Unix(), Timeframe: 60, Count: 1}
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&req); err != nil {
        writeError(w, http.StatusBadRequest, "invalid JSON body")
        return
    }
    req.Base = strings.ToUpper(strings.TrimSpace(req.Base))
    for i, a := range req.Assets { req.Assets[i] = strings.ToUpper(strings.TrimSpace(a)) }
    s.writePrices(w, r.Context(), req)
}

func (s *server) writePrices(w http.ResponseWriter, rctx context.Context, req pricesRequest) {
    if len(req.Assets) == 0 {
        writeError(w, http.StatusBadRequest, "missing assets")
        return
    }
    if len(req.Assets) > maxAssets {
        writeError(w, http.StatusBadRequest, fmt.Sprintf("too many assets (max %d)", maxAssets))
        return
    }
    if req.Base == "" { req.Base = provider.USD }

    ctx, cancel := context.WithTimeout(rctx, s.requestTimeout)
    defer cancel()
    opts := &aggregate.Options{Sources: req.Sources, Timeout: time.Duration(req.TimeoutMs) * time.Millisecond}
    m, err := s.driver.GetTradesData(ctx, req.Assets, req.Base, req.Timestamp, req.Timeframe, req.Count, opts)
    if err != nil {
        s.writeDriverError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, pricesResponse{
        Assets:    req.Assets,
        Timestamp: req.Timestamp,
        Timeframe: req.Timeframe,
        Prices:    m,
    })
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
    req, err := s.parseQuery(r)
    if err != nil {
        writeError(w, http.StatusBadRequest, err.Error())
        return
    }
    if len(req.Assets) == 0 {
        writeError(w, http.StatusBadRequest, "missing assets")
        return
    }
    ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
    defer cancel()
    opts := &aggregate.Options{Sources: req.Sources, Timeout: time.Duration(req.TimeoutMs) * time.Millisecond}
    m, err := s.driver.GetTradesData(ctx, req.Assets, provider.USD, req.Timestamp, 60, 1, opts)
    if err != nil {
        s.writeDriverError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, latestResponse{Latest: aggregate.LatestByAsset(req.Assets, m)})
}

func (s *server) writeDriverError(w http.ResponseWriter, err error) {
    if errors.Is(err, provider.ErrInvalidArgument) {
        writeError(w, http.StatusBadRequest, err.Error())
        return
    }
    s.logger.Error("aggregation failed", "error", err)
    writeError(w, http.StatusBadGateway, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
    writeJSON(w, status, errorResponse{Error: msg})
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(logger *slog.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                logger.Error("panic", "path", r.URL.Path, "recovered", rec)
                writeError(w, http.StatusInternalServerError, "internal server error")
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

package main

import (
    "context"
    "encoding/json"
    "errors"
    "flag"
    "fmt"
    "io"
    "log/slog"
    "os"
    "strings"
    "time"

    "fxprovider/internal/aggregate"
    "fxprovider/internal/config"
    "fxprovider/internal/fixedpoint"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/provider/registry"
)

type options struct {
    assets     []string
    sources    []string
    timestamp  int64
    timeframe  int64
    count      int
    timeout    time.Duration
    configPath string
    gateways   []string
    gatewayKey string
}

type row struct {
    Bucket int    `json:"bucket"`
    Asset  string `json:"asset"`
    Source string `json:"source"`
    Price  string `json:"price"`
    Ts     int64  `json:"ts"`
}

func main() {
    opts, err := parseFlags(os.Args[1:], time.Now())
    if err != nil {
        if errors.Is(err, flag.ErrHelp) { os.Exit(0) }
        fmt.Fprintln(os.Stderr, err)
        os.Exit(2)
    }
    if err := run(context.Background(), opts, os.Stdout); err != nil {
        slog.Error("fetch failed", "error", err)
        os.Exit(1)
    }
}

func parseFlags(args []string, now time.Time) (options, error) {
    var o options
    var assetsCSV, sourcesCSV, gatewaysCSV string
    var timeoutMs int
    fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
    fs.StringVar(&assetsCSV, "assets", getenv("ASSETS", "EUR,PLN,XAU"), "comma-separated asset symbols")
    fs.StringVar(&sourcesCSV, "sources", getenv("SOURCES", ""), "comma-separated source keys (default: config)")
    fs.Int64Var(&o.timestamp, "timestamp", now.Unix(), "unix timestamp in seconds")
    fs.Int64Var(&o.timeframe, "timeframe", 60, "timeframe in seconds (whole minutes, up to 3600)")
    fs.IntVar(&o.count, "count", 1, "number of buckets")
    fs.IntVar(&timeoutMs, "timeout-ms", 0, "per provider timeout in milliseconds (default: config)")
    fs.StringVar(&o.configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
    fs.StringVar(&gatewaysCSV, "gateways", getenv("GATEWAY_URLS", ""), "comma-separated gateway base URLs")
    fs.StringVar(&o.gatewayKey, "gateway-key", getenv("GATEWAY_VALIDATION_KEY", ""), "gateway validation key")
    if err := fs.Parse(args); err != nil { return o, err }

    o.assets = splitCSV(strings.ToUpper(assetsCSV))
    o.sources = splitCSV(strings.ToLower(sourcesCSV))
    o.gateways = splitCSV(gatewaysCSV)
    o.timeout = time.Duration(timeoutMs) * time.Millisecond
    if len(o.assets) == 0 { return o, errors.New("no assets provided") }
    return o, nil
}

func run(ctx context.Context, o options, out io.Writer) error {
    cfg, err := config.Load(o.configPath)
    if err != nil { return fmt.Errorf("config: %w", err) }
    logger := logging.New(cfg.Log)

    httpClient := httpx.New(0)
    httpClient.Logger = logger
    gateways, key := cfg.Gateway.URLs, cfg.Gateway.ValidationKey
    if len(o.gateways) > 0 { gateways, key = o.gateways, o.gatewayKey }
    httpClient.SetGateway(gateways, key, cfg.Gateway.UseCurrentProvider)

    // no scheduler: a one-shot run loads every source directly
    sources := registry.New(registry.Deps{HTTP: httpClient, Logger: logger, Sources: cfg.Sources.ByKey()})
    driver := aggregate.New(sources,
        aggregate.WithDefaultSources(cfg.Sources.Default),
        aggregate.WithRetries(cfg.Fetch.Retries),
        aggregate.WithTimeout(cfg.Fetch.Timeout()),
        aggregate.WithLogger(logger),
    )

    var call aggregate.Options
    if len(o.sources) > 0 { call.Sources = registry.Defaults(o.sources) }
    call.Timeout = o.timeout

    m, err := driver.GetTradesData(ctx, o.assets, "USD", o.timestamp, o.timeframe, o.count, &call)
    if err != nil { return err }

    rows := flatten(o.assets, m)
    if len(rows) == 0 { return errors.New("no prices received") }
    logger.Info("fetched", "rows", len(rows))

    enc := json.NewEncoder(out)
    enc.SetIndent("", "  ")
    return enc.Encode(struct {
        Prices []row              `json:"prices"`
        Latest []aggregate.Latest `json:"latest"`
    }{rows, aggregate.LatestByAsset(o.assets, m)})
}

// flatten lists every non-empty matrix cell with decimal prices.
func flatten(assets []string, m aggregate.Matrix) []row {
    var rows []row
    for b, bucket := range m {
        for a, cell := range bucket {
            for _, p := range cell {
                rows = append(rows, row{
                    Bucket: b,
                    Asset:  assets[a],
                    Source: p.Source,
                    Price:  fixedpoint.Format(p.Price, fixedpoint.Decimals),
                    Ts:     p.Timestamp,
                })
            }
        }
    }
    return rows
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

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

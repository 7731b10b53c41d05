package main

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"

    "fxprovider/internal/aggregate"
    "fxprovider/internal/config"
    "fxprovider/internal/httpx"
    "fxprovider/internal/logging"
    "fxprovider/internal/metrics"
    "fxprovider/internal/provider/cache"
    "fxprovider/internal/provider/refresh"
    "fxprovider/internal/provider/registry"
)

func main() {
    // Config
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        slog.Error("config", "error", err)
        os.Exit(1)
    }
    logger := logging.New(cfg.Log)

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    m := metrics.New(reg)

    // every upstream call carries its own deadline
    httpClient := httpx.New(0)
    httpClient.Logger = logger
    httpClient.Metrics = m
    if len(cfg.Gateway.URLs) > 0 {
        httpClient.SetGateway(cfg.Gateway.URLs, cfg.Gateway.ValidationKey, cfg.Gateway.UseCurrentProvider)
        logger.Info("gateway routing enabled", "gateways", len(cfg.Gateway.URLs), "direct", cfg.Gateway.UseCurrentProvider)
    }

    scheduler := refresh.New(cache.New(), refresh.Config{
        SyncDelay:  cfg.Refresh.SyncDelay(),
        RetryDelay: cfg.Refresh.RetryDelay(),
    }, refresh.WithLogger(logger), refresh.WithMetrics(m))
    defer scheduler.Close()

    sources := registry.New(registry.Deps{
        HTTP:      httpClient,
        Scheduler: scheduler,
        Logger:    logger,
        Sources:   cfg.Sources.ByKey(),
    })
    // start the background refresh of the default sources right away
    sources.Resolve(registry.Defaults(cfg.Sources.Default))

    driver := aggregate.New(sources,
        aggregate.WithDefaultSources(cfg.Sources.Default),
        aggregate.WithRetries(cfg.Fetch.Retries),
        aggregate.WithTimeout(cfg.Fetch.Timeout()),
        aggregate.WithLogger(logger),
        aggregate.WithMetrics(m),
    )

    s := &server{
        driver:         driver,
        logger:         logger,
        requestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
        now:            time.Now,
    }
    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           s.routes(reg),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      s.requestTimeout + 5*time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        logger.Info("server listening", "port", cfg.Server.Port, "sources", cfg.Sources.Default)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("server", "error", err)
            os.Exit(1)
        }
    }()

    // graceful shutdown
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    logger.Info("server stopped")
}

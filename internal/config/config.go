package config

import (
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/ilyakaznacheev/cleanenv"
    "github.com/joho/godotenv"
)

type Server struct {
    Port              string `json:"port" env:"PORT" env-default:"8080"`
    RequestTimeoutSec int    `json:"request_timeout_sec" env:"REQUEST_TIMEOUT_SEC" env-default:"15" validate:"gte=1"`
}

type Log struct {
    Level  string `json:"level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
    Format string `json:"format" env:"LOG_FORMAT" env-default:"text" validate:"oneof=text json logfmt"`
    Prefix string `json:"prefix" env:"LOG_PREFIX"`
}

// Fetch controls a single aggregation call.
type Fetch struct {
    TimeoutMs int `json:"timeout_ms" env:"FETCH_TIMEOUT_MS" env-default:"3000" validate:"gte=1"`
    Retries   int `json:"retries" env:"FETCH_RETRIES" env-default:"3" validate:"gte=1,lte=10"`
}

// Refresh controls the background refresh of cache-backed sources.
type Refresh struct {
    SyncDelaySec  int `json:"sync_delay_sec" env:"REFRESH_SYNC_DELAY_SEC" env-default:"5" validate:"gte=0"`
    RetryDelaySec int `json:"retry_delay_sec" env:"REFRESH_RETRY_DELAY_SEC" env-default:"60" validate:"gte=1"`
}

type Gateway struct {
    URLs               []string `json:"urls" env:"GATEWAY_URLS" validate:"dive,url"`
    ValidationKey      string   `json:"validation_key" env:"GATEWAY_VALIDATION_KEY"`
    UseCurrentProvider bool     `json:"use_current_provider" env:"GATEWAY_USE_CURRENT_PROVIDER"`
}

// Source holds credentials and limits of one upstream data source.
type Source struct {
    APIKey  string `json:"api_key" env:"API_KEY"`
    Secret  string `json:"secret" env:"SECRET"`
    BaseURL string `json:"base_url" env:"BASE_URL" validate:"omitempty,url"`
    // RefreshIntervalSec overrides the polling interval of cache-backed sources.
    RefreshIntervalSec    int `json:"refresh_interval_sec" env:"REFRESH_INTERVAL_SEC" validate:"gte=0"`
    MaxRequestsPerMinute  int `json:"max_requests_per_minute" env:"MAX_RPM" validate:"gte=0"`
    MinRequestIntervalSec int `json:"min_request_interval_sec" env:"MIN_INTERVAL_SEC" validate:"gte=0"`
    Burst                 int `json:"burst" env:"BURST" validate:"gte=0"`
}

type Sources struct {
    // Default lists the source keys used when a request names none.
    Default      []string `json:"default" env:"SOURCES" env-default:"nbp,ecb" validate:"min=1,dive,oneof=nbp ecb apilayer abstractapi exchangerate forexrateapi fxratesapi"`
    NBP          Source   `json:"nbp" env-prefix:"NBP_"`
    ECB          Source   `json:"ecb" env-prefix:"ECB_"`
    APILayer     Source   `json:"apilayer" env-prefix:"APILAYER_"`
    AbstractAPI  Source   `json:"abstractapi" env-prefix:"ABSTRACTAPI_"`
    ExchangeRate Source   `json:"exchangerate" env-prefix:"EXCHANGERATE_"`
    ForexRateAPI Source   `json:"forexrateapi" env-prefix:"FOREXRATEAPI_"`
    FXRatesAPI   Source   `json:"fxratesapi" env-prefix:"FXRATESAPI_"`
}

// ByKey indexes the per-source settings by registry key.
func (s Sources) ByKey() map[string]Source {
    return map[string]Source{
        "nbp":          s.NBP,
        "ecb":          s.ECB,
        "apilayer":     s.APILayer,
        "abstractapi":  s.AbstractAPI,
        "exchangerate": s.ExchangeRate,
        "forexrateapi": s.ForexRateAPI,
        "fxratesapi":   s.FXRatesAPI,
    }
}

type Config struct {
    Server  Server  `json:"server"`
    Log     Log     `json:"log"`
    Fetch   Fetch   `json:"fetch"`
    Refresh Refresh `json:"refresh"`
    Gateway Gateway `json:"gateway"`
    Sources Sources `json:"sources"`
}

func (f Fetch) Timeout() time.Duration { return time.Duration(f.TimeoutMs) * time.Millisecond }

func (r Refresh) SyncDelay() time.Duration { return time.Duration(r.SyncDelaySec) * time.Second }

func (r Refresh) RetryDelay() time.Duration { return time.Duration(r.RetryDelaySec) * time.Second }

// Load reads JSON config from path. If path is empty it falls back to
// ./config.json, and a missing file just means defaults. Environment
// variables (and a .env file, when present) override file values.
func Load(path string) (Config, error) {
    var cfg Config
    _ = godotenv.Load() // optional

    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        if _, err := os.Stat(path); err != nil {
            if !errors.Is(err, os.ErrNotExist) {
                return cfg, fmt.Errorf("read config: %w", err)
            }
            path = ""
        }
    }

    if path != "" {
        if err := cleanenv.ReadConfig(path, &cfg); err != nil {
            return cfg, fmt.Errorf("parse config: %w", err)
        }
    } else if err := cleanenv.ReadEnv(&cfg); err != nil {
        return cfg, fmt.Errorf("read env: %w", err)
    }

    normalize(&cfg)
    if err := Validate(cfg); err != nil {
        return cfg, err
    }
    return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(cfg Config) error {
    if err := validate.Struct(cfg); err != nil {
        return fmt.Errorf("invalid config: %w", err)
    }
    return nil
}

func normalize(cfg *Config) {
    cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
    cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
    cfg.Sources.Default = splitCSV(strings.ToLower(strings.Join(cfg.Sources.Default, ",")))
    cfg.Gateway.URLs = splitCSV(strings.Join(cfg.Gateway.URLs, ","))
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

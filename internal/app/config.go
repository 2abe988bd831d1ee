package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Catalog backends.
const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (DYSON_ADMIN_ prefix), flags, or YAML config files.
// A .env file in the working directory is loaded first when present.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Admin server listen address"`
	Backend     string `default:"http" usage:"Catalog backend: http (remote catalog API) or postgres"`
	DatabaseURL string `usage:"PostgreSQL connection URL for the postgres backend (DYSON_ADMIN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	API         APIConfig
	Screen      ScreenConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Gzip        GzipConfig
	Graceful    GracefulConfig
}

// APIConfig points the http backend at the remote catalog API.
type APIConfig struct {
	BaseURL string        `usage:"Catalog API root URL" flag:"api-base-url"`
	Token   string        `usage:"Bearer token for the catalog API" flag:"api-token"`
	Timeout time.Duration `default:"10s" usage:"Per-request timeout of the catalog API client" flag:"api-timeout"`
}

// ScreenConfig controls the product table behaviour.
type ScreenConfig struct {
	ResetPageOnFilter bool          `default:"false" usage:"Go back to page 1 when search, category or sort changes" flag:"reset-page-on-filter"`
	RenderWait        time.Duration `default:"2s" usage:"How long a page render waits for in-flight queries" flag:"render-wait"`
	FetchTimeout      time.Duration `default:"15s" usage:"Timeout of a single catalog read" flag:"fetch-timeout"`
	LoadingRefresh    time.Duration `default:"1s" usage:"Auto-refresh interval of a page rendered while loading" flag:"loading-refresh"`
	ToastTTL          time.Duration `default:"10s" usage:"Notifications older than this are not shown" flag:"toast-ttl"`
	TimeZone          string        `default:"UTC" usage:"Time zone used to render dates" flag:"time-zone"`
}

// SessionConfig controls admin sessions.
type SessionConfig struct {
	IdleTTL      time.Duration `default:"30m" usage:"Close sessions idle for this long" flag:"session-idle-ttl"`
	SecureCookie bool          `default:"false" usage:"Mark the session cookie Secure (HTTPS only)" flag:"session-secure"`
	MaxSessions  int           `default:"1000" usage:"Max open sessions; the least recently used is closed beyond it" flag:"session-max"`
}

// RateLimitConfig controls the sliding window rate limiters: per session on
// state-changing requests and per client address on page loads.
type RateLimitConfig struct {
	Max     int           `default:"60" usage:"Max mutations per session and window"`
	PageMax int           `default:"300" usage:"Max page loads per client address and window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GzipConfig controls response compression.
type GzipConfig struct {
	Enabled bool `default:"true" usage:"Compress responses" flag:"gzip"`
	Level   int  `default:"-1" usage:"gzip compression level (-1 default, 1 fastest, 9 best)" flag:"gzip-level"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from .env, environment variables and YAML
// config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DYSON_ADMIN",
		Files:     []string{"config.yaml", "/etc/dyson-admin/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend is fully configured.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if c.API.BaseURL == "" {
			return errors.New("catalog API URL is required: set DYSON_ADMIN_API_BASE_URL")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set DYSON_ADMIN_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown backend %q: want %q or %q", c.Backend, BackendHTTP, BackendPostgres)
	}
	if _, err := time.LoadLocation(c.Screen.TimeZone); err != nil {
		return errors.Wrapf(err, "time zone %q", c.Screen.TimeZone)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DYSON_ADMIN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

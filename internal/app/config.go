package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CATALOG_ prefix), flags, or YAML config files.
type Config struct {
	Addr string `default:"0.0.0.0:8080" usage:"API server listen address"`

	DatabaseURL      string `usage:"PostgreSQL connection URL (CATALOG_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SearchEndpoint   string `usage:"Search index base URL" flag:"search-endpoint"`
	PlatformEndpoint string `usage:"Commerce backend base URL for price quotes" flag:"platform-endpoint"`
	CurrencyCode     string `default:"USD" usage:"Currency code sent with price quote requests" flag:"currency-code"`

	Redis     RedisConfig
	Products  ProductsConfig
	Tax       TaxConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// RateLimitConfig bounds per-client request rates on the API server.
type RateLimitConfig struct {
	RPS   float64 `default:"50" usage:"Sustained requests per second per client" flag:"ratelimit-rps"`
	Burst int     `default:"100" usage:"Request burst allowance per client" flag:"ratelimit-burst"`
}

// RedisConfig configures the product cache store.
type RedisConfig struct {
	Addr     string        `default:"127.0.0.1:6379" usage:"Redis address"`
	Username string        `usage:"Redis username"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"24h" usage:"Cached product TTL (0 = no expiry)"`
	PoolSize int           `default:"10" usage:"Redis connection pool size"`
}

// ProductsConfig controls the platform price sync behavior.
type ProductsConfig struct {
	AlwaysSyncPlatformPrices bool `default:"true" usage:"Override index prices with platform quotes" flag:"always-sync-platform-prices"`
	ClearPricesBeforeSync    bool `default:"true" usage:"Null out prices while a platform sync is pending" flag:"clear-prices-before-sync"`
	WaitForPlatformSync      bool `default:"true" usage:"Block resolution until the platform responded" flag:"wait-for-platform-sync"`
}

// TaxConfig selects the tax calculation mode and the ambient locale.
type TaxConfig struct {
	CalculateServerSide bool   `default:"false" usage:"Assume index prices are already tax-adjusted" flag:"tax-server-side"`
	Country             string `default:"US" usage:"Tax country code" flag:"tax-country"`
	Region              string `default:"" usage:"Tax region code" flag:"tax-region"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CATALOG",
		Files:     []string{"config.yaml", "/etc/catalog/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" && !cfg.Tax.CalculateServerSide {
		return nil, errors.New("database URL is required for client-side tax: set CATALOG_DATABASE_URL or DATABASE_URL")
	}
	if cfg.SearchEndpoint == "" {
		return nil, errors.New("search endpoint is required: set CATALOG_SEARCH_ENDPOINT")
	}
	if cfg.PlatformEndpoint == "" && cfg.Products.AlwaysSyncPlatformPrices {
		return nil, errors.New("platform endpoint is required when price sync is enabled: set CATALOG_PLATFORM_ENDPOINT")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps hosting-platform environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT to the application's
// CATALOG_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "127.0.0.1:6379" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

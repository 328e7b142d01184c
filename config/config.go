package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Warmup   WarmupConfig   `mapstructure:"warmup"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// GatewayConfig points at the IB gateway wrapper service.
type GatewayConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig carries the TTL classes and the invalid-bar policy. TTLs are
// deliberately configurable; the defaults follow the classes the service has
// always used (short for quotes, medium for bar sets and symbol lookups).
type CacheConfig struct {
	BarsTTL    time.Duration `mapstructure:"bars_ttl"`
	QuotesTTL  time.Duration `mapstructure:"quotes_ttl"`
	SymbolsTTL time.Duration `mapstructure:"symbols_ttl"`
	KeyPrefix  string        `mapstructure:"key_prefix"`

	// InvalidBarPolicy is "reject" or "coerce".
	InvalidBarPolicy string `mapstructure:"invalid_bar_policy"`
}

type FetchConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	FlightTimeout time.Duration `mapstructure:"flight_timeout"`
}

// WarmupConfig drives the daily watchlist refresh: each symbol is
// re-resolved against the gateway and its recent bars are pre-fetched so
// the first request of the day is a cache hit.
type WarmupConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Watchlist []string      `mapstructure:"watchlist"`
	Timeframe string        `mapstructure:"timeframe"`
	Lookback  time.Duration `mapstructure:"lookback"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	Environment string `mapstructure:"environment"` // "dev" or "prod"
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // "dev" or "prod"
}

// Load loads application configuration using Viper. It reads config.yaml
// from the given directory (or the working directory when empty) and
// overrides with environment variables, e.g. GATEWAY_REST_BASE_URL.
func Load(dir string) *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Defaults plus environment variables are a valid configuration;
		// only a malformed file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("failed to read config: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.rest.base_url", "http://localhost:8000")
	v.SetDefault("gateway.rest.timeout", "30s")
	v.SetDefault("gateway.ws.enabled", false)
	v.SetDefault("gateway.ws.timeout", "10s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", "1h")

	v.SetDefault("cache.bars_ttl", "30m")
	v.SetDefault("cache.quotes_ttl", "60s")
	v.SetDefault("cache.symbols_ttl", "30m")
	v.SetDefault("cache.key_prefix", "histcache")
	v.SetDefault("cache.invalid_bar_policy", "reject")

	v.SetDefault("fetch.retry_attempts", 5)
	v.SetDefault("fetch.retry_delay", "1s")
	v.SetDefault("fetch.retry_max_delay", "60s")
	v.SetDefault("fetch.flight_timeout", "2m")

	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.timeframe", "1h")
	v.SetDefault("warmup.lookback", "24h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
}

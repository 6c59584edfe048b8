// Package config defines the engine configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/optimizer"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by ARBENGINE_* environment variables.
type Config struct {
	Bot       BotConfig       `toml:"bot"`
	Watcher   WatcherConfig   `toml:"watcher"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Feed      FeedConfig      `toml:"feed"`
	Executor  ExecutorConfig  `toml:"executor"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BotConfig holds the trading parameters of the dispatch core.
type BotConfig struct {
	// Mint is the base token every route starts and ends in (base58).
	Mint                      string  `toml:"mint"`
	BaseAmount                uint64  `toml:"base_amount"`
	MinAmountIn               uint64  `toml:"min_amount_in"`
	MinimumProfit             uint64  `toml:"minimum_profit"`
	OptimizationMethod        string  `toml:"optimization_method"`
	MaxHops                   int     `toml:"max_hops"`
	PriceThreshold            float64 `toml:"price_threshold"`
	OptimizationAmountPercent uint64  `toml:"optimization_amount_percent"`
	RoutesBatchSize           int     `toml:"routes_batch_size"`
	EnabledSlippage           bool    `toml:"enabled_slippage"`
	SlippageBps               uint32  `toml:"slippage_bps"`
	MaxOpportunitiesPerCycle  int     `toml:"max_opportunities_per_cycle"`
	Workers                   int     `toml:"workers"`
}

// WatcherConfig caps tracked state and filters execution reports.
type WatcherConfig struct {
	MaxPools    int  `toml:"max_pools"`
	MaxRoutes   int  `toml:"max_routes"`
	OnlySucceed bool `toml:"only_succeed"`
	OnlyFailed  bool `toml:"only_failed"`
}

type OptimizerConfig struct {
	Tolerance     uint64 `toml:"tolerance"`
	MaxIterations int    `toml:"max_iterations"`
}

// FeedConfig selects where venue updates come from: "stream" reads a Redis
// stream, "websocket" dials WSURL.
type FeedConfig struct {
	Source       string   `toml:"source"`
	Stream       string   `toml:"stream"`
	StartID      string   `toml:"start_id"`
	WSURL        string   `toml:"ws_url"`
	WSSubscribe  string   `toml:"ws_subscribe"`
	BatchSize    int      `toml:"batch_size"`
	PollInterval duration `toml:"poll_interval"`
}

// ExecutorConfig controls hand-off to the external sender.
type ExecutorConfig struct {
	Stream         string   `toml:"stream"`
	Channel        string   `toml:"channel"`
	ResultsChannel string   `toml:"results_channel"`
	QueueSize      int      `toml:"queue_size"`
	DedupWindow    duration `toml:"dedup_window"`
	MaxPerSecond   int      `toml:"max_per_second"`
}

type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig schedules the storage jobs of full mode.
type PipelineConfig struct {
	CheckpointInterval   duration `toml:"checkpoint_interval"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	RestoreOnStart       bool     `toml:"restore_on_start"`
}

// duration decodes TOML strings such as "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

type NotifyConfig struct {
	WebhookURL    string   `toml:"webhook_url"`
	WebhookSecret string   `toml:"webhook_secret"` // signs webhook bodies when set
	Events        []string `toml:"events"`
}

// wrappedSOL is the default base mint.
const wrappedSOL = "So11111111111111111111111111111111111111112"

// Defaults returns a Config with every optional field filled in.
func Defaults() Config {
	return Config{
		Bot: BotConfig{
			Mint:                      wrappedSOL,
			BaseAmount:                10_000_000_000,
			MinAmountIn:               optimizer.DefaultMinAmountIn,
			MinimumProfit:             10_000,
			OptimizationMethod:        string(optimizer.MethodGoldenSection),
			MaxHops:                   3,
			PriceThreshold:            0.001,
			OptimizationAmountPercent: 100,
			RoutesBatchSize:           64,
			SlippageBps:               50,
			MaxOpportunitiesPerCycle:  8,
			Workers:                   4,
		},
		Watcher: WatcherConfig{
			MaxPools:  20_000,
			MaxRoutes: 200_000,
		},
		Optimizer: OptimizerConfig{
			Tolerance: optimizer.DefaultTolerance,
		},
		Feed: FeedConfig{
			Source:       "stream",
			Stream:       "arb:venue_updates",
			StartID:      "$",
			BatchSize:    500,
			PollInterval: duration{100 * time.Millisecond},
		},
		Executor: ExecutorConfig{
			Stream:         "arb:opportunities",
			Channel:        "opportunities",
			ResultsChannel: "execution_results",
			QueueSize:      256,
			DedupWindow:    duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbengine",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			CheckpointInterval:   duration{time.Minute},
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
			RestoreOnStart:       true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "execution_failed", "engine"},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// Modes accepted in Config.Mode.
const (
	ModeEngine  = "engine"
	ModeFull    = "full"
	ModeMonitor = "monitor"
)

var validModes = map[string]bool{ModeEngine: true, ModeFull: true, ModeMonitor: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// BaseMint parses Bot.Mint.
func (c *Config) BaseMint() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(strings.TrimSpace(c.Bot.Mint))
}

// Threshold returns Bot.PriceThreshold as an exact decimal.
func (c *Config) Threshold() decimal.Decimal {
	return decimal.NewFromFloat(c.Bot.PriceThreshold)
}

// Validate reports every invalid or missing value at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		add("unknown mode %q (valid: engine, full, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Bot
	if _, err := c.BaseMint(); err != nil {
		add("bot: mint %q is not a base58 public key", c.Bot.Mint)
	}
	if _, err := optimizer.ParseMethod(c.Bot.OptimizationMethod); err != nil {
		add("bot: optimization_method %q (valid: ternary, golden_section, brent_method)", c.Bot.OptimizationMethod)
	}
	if c.Bot.BaseAmount == 0 {
		add("bot: base_amount must be > 0")
	}
	if c.Bot.MaxHops < 2 {
		add("bot: max_hops must be >= 2, got %d", c.Bot.MaxHops)
	}
	if c.Bot.PriceThreshold < 0 {
		add("bot: price_threshold must be >= 0")
	}
	if c.Bot.OptimizationAmountPercent == 0 || c.Bot.OptimizationAmountPercent > 100 {
		add("bot: optimization_amount_percent must be 1-100, got %d", c.Bot.OptimizationAmountPercent)
	}
	if c.Bot.RoutesBatchSize <= 0 {
		add("bot: routes_batch_size must be > 0")
	}
	if c.Bot.EnabledSlippage && c.Bot.SlippageBps >= 10_000 {
		add("bot: slippage_bps must be < 10000, got %d", c.Bot.SlippageBps)
	}
	if c.Bot.Workers < 0 {
		add("bot: workers must be >= 0")
	}

	// Watcher
	if c.Watcher.MaxPools < 0 || c.Watcher.MaxRoutes < 0 {
		add("watcher: max_pools and max_routes must be >= 0")
	}
	if c.Watcher.OnlySucceed && c.Watcher.OnlyFailed {
		add("watcher: only_succeed and only_failed are mutually exclusive")
	}

	// Feed
	if c.Mode != ModeMonitor {
		switch c.Feed.Source {
		case "stream":
			if c.Feed.Stream == "" {
				add("feed: stream must not be empty")
			}
		case "websocket":
			if c.Feed.WSURL == "" {
				add("feed: ws_url is required for the websocket source")
			}
		default:
			add("feed: unknown source %q (valid: stream, websocket)", c.Feed.Source)
		}
		if c.Feed.PollInterval.Duration <= 0 {
			add("feed: poll_interval must be > 0")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Postgres and S3 back history and checkpoints.
	if c.Mode != ModeEngine {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Mode == ModeFull {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("s3: bucket and region must be set for full mode")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			add("pipeline: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Mode == ModeMonitor && !c.Server.Enabled {
		add("server: monitor mode needs the server enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

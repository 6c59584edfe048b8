package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "ARBENGINE_"

// Load decodes the TOML file at path over Defaults, loads a .env file when
// present and applies ARBENGINE_* overrides. An empty path skips the file.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// bot
	setStr(&cfg.Bot.Mint, "BOT_MINT")
	setUint64(&cfg.Bot.BaseAmount, "BOT_BASE_AMOUNT")
	setUint64(&cfg.Bot.MinAmountIn, "BOT_MIN_AMOUNT_IN")
	setUint64(&cfg.Bot.MinimumProfit, "BOT_MINIMUM_PROFIT")
	setStr(&cfg.Bot.OptimizationMethod, "BOT_OPTIMIZATION_METHOD")
	setInt(&cfg.Bot.MaxHops, "BOT_MAX_HOPS")
	setFloat64(&cfg.Bot.PriceThreshold, "BOT_PRICE_THRESHOLD")
	setUint64(&cfg.Bot.OptimizationAmountPercent, "BOT_OPTIMIZATION_AMOUNT_PERCENT")
	setInt(&cfg.Bot.RoutesBatchSize, "BOT_ROUTES_BATCH_SIZE")
	setBool(&cfg.Bot.EnabledSlippage, "BOT_ENABLED_SLIPPAGE")
	setUint32(&cfg.Bot.SlippageBps, "BOT_SLIPPAGE_BPS")
	setInt(&cfg.Bot.MaxOpportunitiesPerCycle, "BOT_MAX_OPPORTUNITIES_PER_CYCLE")
	setInt(&cfg.Bot.Workers, "BOT_WORKERS")

	// watcher
	setInt(&cfg.Watcher.MaxPools, "WATCHER_MAX_POOLS")
	setInt(&cfg.Watcher.MaxRoutes, "WATCHER_MAX_ROUTES")
	setBool(&cfg.Watcher.OnlySucceed, "WATCHER_ONLY_SUCCEED")
	setBool(&cfg.Watcher.OnlyFailed, "WATCHER_ONLY_FAILED")

	// optimizer
	setUint64(&cfg.Optimizer.Tolerance, "OPTIMIZER_TOLERANCE")
	setInt(&cfg.Optimizer.MaxIterations, "OPTIMIZER_MAX_ITERATIONS")

	// feed
	setStr(&cfg.Feed.Source, "FEED_SOURCE")
	setStr(&cfg.Feed.Stream, "FEED_STREAM")
	setStr(&cfg.Feed.StartID, "FEED_START_ID")
	setStr(&cfg.Feed.WSURL, "FEED_WS_URL")
	setInt(&cfg.Feed.BatchSize, "FEED_BATCH_SIZE")
	setDuration(&cfg.Feed.PollInterval, "FEED_POLL_INTERVAL")

	// executor
	setStr(&cfg.Executor.Stream, "EXECUTOR_STREAM")
	setStr(&cfg.Executor.Channel, "EXECUTOR_CHANNEL")
	setStr(&cfg.Executor.ResultsChannel, "EXECUTOR_RESULTS_CHANNEL")
	setInt(&cfg.Executor.MaxPerSecond, "EXECUTOR_MAX_PER_SECOND")
	setDuration(&cfg.Executor.DedupWindow, "EXECUTOR_DEDUP_WINDOW")

	// redis
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// postgres
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// s3
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// pipeline
	setDuration(&cfg.Pipeline.CheckpointInterval, "PIPELINE_CHECKPOINT_INTERVAL")
	setDuration(&cfg.Pipeline.ArchiveInterval, "PIPELINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "PIPELINE_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Pipeline.RestoreOnStart, "PIPELINE_RESTORE_ON_START")

	// server
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "SERVER_RATE_LIMIT_PER_MIN")

	// notify
	setStr(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Typed helpers. Each only touches dst when the variable is set and parses.

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

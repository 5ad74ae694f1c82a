// Package config handles environment-based configuration loading for every
// service role.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Network
	ListenAddress string
	GatewayPort   int
	CreatePort    int
	LookupPort    int
	StatsPort     int

	// Gateway backends (absolute base URLs; defaulted from the ports above
	// when unset)
	CreateBackendURL string
	LookupBackendURL string
	StatsBackendURL  string

	// Mapping store
	PrimaryDSN         string
	ReplicaDSNs        []string
	DBMaxConns         int
	DBMaxConnLifetime  time.Duration
	PartitionLookahead int

	// Replica health
	HealthProbeInterval time.Duration
	HealthProbeTimeout  time.Duration
	HealthMaxLagBytes   int64
	HealthStaleAge      time.Duration

	// Cache
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	CacheLocalEntries  int
	CacheColdTTL       time.Duration
	CacheWarmTTL       time.Duration
	CacheHotTTL        time.Duration
	CacheWarmThreshold int64
	CacheHotThreshold  int64

	// Code generation
	GeneratorKind     string // "random" or "snowflake"
	GeneratorMaxValue uint64
	GeneratorAttempts int

	// Create
	BaseURL       string // canonical base for short URLs; empty = per-request
	DefaultExpiry time.Duration

	// Cleanup
	CleanupEnabled         bool
	CleanupSchedule        string
	CleanupRetentionMonths int
	CleanupBatchSize       int
	CleanupBatchPause      time.Duration

	// Event bus
	KafkaBrokers    []string
	KafkaTopic      string
	ConsumerGroup   string
	ConsumerWorkers int
	ConsumerMaxPoll int
	BatcherSize     int
	BatcherInterval time.Duration

	// Stats
	StatsDSN           string
	AggregatorEnabled  bool
	AggregatorInterval time.Duration
	AggregatorTimeZone string

	// Geo enrichment
	GeoDBPath string // empty = synthetic locator
}

// Generator kinds.
const (
	GeneratorRandom    = "random"
	GeneratorSnowflake = "snowflake"
)

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid value at once.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("SNAPLINK_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.GatewayPort = envInt("SNAPLINK_GATEWAY_PORT", 8080, &errs)
	cfg.CreatePort = envInt("SNAPLINK_CREATE_PORT", 8081, &errs)
	cfg.LookupPort = envInt("SNAPLINK_LOOKUP_PORT", 8082, &errs)
	cfg.StatsPort = envInt("SNAPLINK_STATS_PORT", 8083, &errs)

	cfg.CreateBackendURL = envStr("SNAPLINK_CREATE_BACKEND_URL", "")
	cfg.LookupBackendURL = envStr("SNAPLINK_LOOKUP_BACKEND_URL", "")
	cfg.StatsBackendURL = envStr("SNAPLINK_STATS_BACKEND_URL", "")

	// --- Mapping store ---
	cfg.PrimaryDSN = envStr("SNAPLINK_DB_PRIMARY_DSN", "")
	cfg.ReplicaDSNs = envStringSlice("SNAPLINK_DB_REPLICA_DSNS", []string{}, &errs)
	cfg.DBMaxConns = envInt("SNAPLINK_DB_MAX_CONNS", 32, &errs)
	cfg.DBMaxConnLifetime = envDuration("SNAPLINK_DB_MAX_CONN_LIFETIME", 30*time.Minute, &errs)
	cfg.PartitionLookahead = envInt("SNAPLINK_DB_PARTITION_LOOKAHEAD", 12, &errs)

	// --- Replica health ---
	cfg.HealthProbeInterval = envDuration("SNAPLINK_HEALTH_PROBE_INTERVAL", 30*time.Second, &errs)
	cfg.HealthProbeTimeout = envDuration("SNAPLINK_HEALTH_PROBE_TIMEOUT", 5*time.Second, &errs)
	cfg.HealthMaxLagBytes = int64(envInt("SNAPLINK_HEALTH_MAX_LAG_BYTES", 10<<20, &errs))
	cfg.HealthStaleAge = envDuration("SNAPLINK_HEALTH_STALE_AGE", 2*time.Minute, &errs)

	// --- Cache ---
	cfg.RedisAddr = envStr("SNAPLINK_REDIS_ADDR", "")
	cfg.RedisPassword = envStr("SNAPLINK_REDIS_PASSWORD", "")
	cfg.RedisDB = envInt("SNAPLINK_REDIS_DB", 0, &errs)
	cfg.CacheLocalEntries = envInt("SNAPLINK_CACHE_LOCAL_ENTRIES", 100_000, &errs)
	cfg.CacheColdTTL = envDuration("SNAPLINK_CACHE_COLD_TTL", 10*time.Minute, &errs)
	cfg.CacheWarmTTL = envDuration("SNAPLINK_CACHE_WARM_TTL", 15*time.Minute, &errs)
	cfg.CacheHotTTL = envDuration("SNAPLINK_CACHE_HOT_TTL", 30*time.Minute, &errs)
	cfg.CacheWarmThreshold = int64(envInt("SNAPLINK_CACHE_WARM_THRESHOLD", 5, &errs))
	cfg.CacheHotThreshold = int64(envInt("SNAPLINK_CACHE_HOT_THRESHOLD", 10, &errs))

	// --- Code generation ---
	cfg.GeneratorKind = envStr("SNAPLINK_GENERATOR_KIND", GeneratorRandom)
	cfg.GeneratorMaxValue = envUint64("SNAPLINK_GENERATOR_MAX_VALUE", 0, &errs) // 0 = package default
	cfg.GeneratorAttempts = envInt("SNAPLINK_GENERATOR_ATTEMPTS", 100, &errs)

	// --- Create ---
	cfg.BaseURL = strings.TrimSpace(envStr("SNAPLINK_BASE_URL", ""))
	cfg.DefaultExpiry = envDuration("SNAPLINK_DEFAULT_EXPIRY", 365*24*time.Hour, &errs)

	// --- Cleanup ---
	cfg.CleanupEnabled = envBool("SNAPLINK_CLEANUP_ENABLED", true, &errs)
	cfg.CleanupSchedule = envStr("SNAPLINK_CLEANUP_SCHEDULE", "0 3 * * *")
	cfg.CleanupRetentionMonths = envInt("SNAPLINK_CLEANUP_RETENTION_MONTHS", 6, &errs)
	cfg.CleanupBatchSize = envInt("SNAPLINK_CLEANUP_BATCH_SIZE", 1000, &errs)
	cfg.CleanupBatchPause = envDuration("SNAPLINK_CLEANUP_BATCH_PAUSE", 100*time.Millisecond, &errs)

	// --- Event bus ---
	cfg.KafkaBrokers = envStringSlice("SNAPLINK_KAFKA_BROKERS", []string{}, &errs)
	cfg.KafkaTopic = envStr("SNAPLINK_KAFKA_TOPIC", "url-click-events")
	cfg.ConsumerGroup = envStr("SNAPLINK_CONSUMER_GROUP", "snaplink-stats")
	cfg.ConsumerWorkers = envInt("SNAPLINK_CONSUMER_WORKERS", 3, &errs)
	cfg.ConsumerMaxPoll = envInt("SNAPLINK_CONSUMER_MAX_POLL", 500, &errs)
	cfg.BatcherSize = envInt("SNAPLINK_BATCHER_SIZE", 100, &errs)
	cfg.BatcherInterval = envDuration("SNAPLINK_BATCHER_INTERVAL", 5*time.Second, &errs)

	// --- Stats ---
	cfg.StatsDSN = envStr("SNAPLINK_STATS_DSN", "")
	cfg.AggregatorEnabled = envBool("SNAPLINK_AGGREGATOR_ENABLED", true, &errs)
	cfg.AggregatorInterval = envDuration("SNAPLINK_AGGREGATOR_INTERVAL", 10*time.Minute, &errs)
	cfg.AggregatorTimeZone = envStr("SNAPLINK_AGGREGATOR_TIMEZONE", "UTC")

	// --- Geo ---
	cfg.GeoDBPath = envStr("SNAPLINK_GEO_DB_PATH", "")

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "SNAPLINK_LISTEN_ADDRESS must not be empty")
	}
	validatePort("SNAPLINK_GATEWAY_PORT", cfg.GatewayPort, &errs)
	validatePort("SNAPLINK_CREATE_PORT", cfg.CreatePort, &errs)
	validatePort("SNAPLINK_LOOKUP_PORT", cfg.LookupPort, &errs)
	validatePort("SNAPLINK_STATS_PORT", cfg.StatsPort, &errs)

	validatePositive("SNAPLINK_DB_MAX_CONNS", cfg.DBMaxConns, &errs)
	if cfg.PartitionLookahead < 0 {
		errs = append(errs, "SNAPLINK_DB_PARTITION_LOOKAHEAD must not be negative")
	}
	if cfg.HealthProbeInterval <= 0 {
		errs = append(errs, "SNAPLINK_HEALTH_PROBE_INTERVAL must be positive")
	}
	if cfg.HealthProbeTimeout <= 0 {
		errs = append(errs, "SNAPLINK_HEALTH_PROBE_TIMEOUT must be positive")
	}

	if cfg.CacheColdTTL <= 0 || cfg.CacheWarmTTL <= 0 || cfg.CacheHotTTL <= 0 {
		errs = append(errs, "cache TTLs must be positive")
	}
	if cfg.CacheWarmThreshold <= 0 || cfg.CacheHotThreshold <= cfg.CacheWarmThreshold {
		errs = append(errs, "SNAPLINK_CACHE_HOT_THRESHOLD must be greater than SNAPLINK_CACHE_WARM_THRESHOLD, both positive")
	}

	if cfg.GeneratorKind != GeneratorRandom && cfg.GeneratorKind != GeneratorSnowflake {
		errs = append(errs, fmt.Sprintf("SNAPLINK_GENERATOR_KIND: invalid value %q (allowed: %s, %s)",
			cfg.GeneratorKind, GeneratorRandom, GeneratorSnowflake))
	}
	validatePositive("SNAPLINK_GENERATOR_ATTEMPTS", cfg.GeneratorAttempts, &errs)

	if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("SNAPLINK_CLEANUP_SCHEDULE: invalid cron expression %q: %v", cfg.CleanupSchedule, err))
	}
	validatePositive("SNAPLINK_CLEANUP_RETENTION_MONTHS", cfg.CleanupRetentionMonths, &errs)
	validatePositive("SNAPLINK_CLEANUP_BATCH_SIZE", cfg.CleanupBatchSize, &errs)

	validatePositive("SNAPLINK_CONSUMER_WORKERS", cfg.ConsumerWorkers, &errs)
	validatePositive("SNAPLINK_CONSUMER_MAX_POLL", cfg.ConsumerMaxPoll, &errs)
	validatePositive("SNAPLINK_BATCHER_SIZE", cfg.BatcherSize, &errs)
	if cfg.BatcherInterval <= 0 {
		errs = append(errs, "SNAPLINK_BATCHER_INTERVAL must be positive")
	}

	if cfg.AggregatorInterval <= 0 {
		errs = append(errs, "SNAPLINK_AGGREGATOR_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(cfg.AggregatorTimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("SNAPLINK_AGGREGATOR_TIMEZONE: unknown time zone %q", cfg.AggregatorTimeZone))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// BackendURLs resolves the gateway's backend base URLs, defaulting to
// loopback addresses on the configured service ports.
func (c *EnvConfig) BackendURLs() (create, lookup, stats string) {
	create = c.CreateBackendURL
	if create == "" {
		create = fmt.Sprintf("http://127.0.0.1:%d", c.CreatePort)
	}
	lookup = c.LookupBackendURL
	if lookup == "" {
		lookup = fmt.Sprintf("http://127.0.0.1:%d", c.LookupPort)
	}
	stats = c.StatsBackendURL
	if stats == "" {
		stats = fmt.Sprintf("http://127.0.0.1:%d", c.StatsPort)
	}
	return create, lookup, stats
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envUint64(key string, defaultVal uint64, errs *[]string) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid unsigned integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		// Fall back to a comma-separated list for operator convenience.
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: invalid value %q (JSON array or comma-separated list)", key, v))
			return defaultVal
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

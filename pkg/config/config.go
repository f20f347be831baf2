package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the monitor's intervals and windows
const (
	DefaultMonitorInterval       = 30 * time.Second
	DefaultBacktestInterval      = 30 * time.Second
	DefaultRunnerMonitorInterval = 5 * time.Minute
	DefaultAggregationInterval   = time.Hour
	DefaultHeartbeatInterval     = 10 * time.Second
	DefaultLeaseTTL              = 15 // seconds
	DefaultDataDownloadTimeout   = 12 * time.Hour
	DefaultDataRefreshInterval   = 24 * time.Hour
	DefaultSampleRetention       = 7 * 24 * time.Hour
)

// Config holds the monitor's environment-driven configuration
type Config struct {
	// DatabaseURL selects the relational store. postgres:// URLs use the
	// pq driver; anything else is treated as a sqlite path.
	DatabaseURL string

	// EtcdEndpoints enables distributed mode when non-empty
	EtcdEndpoints []string

	// InstanceID is auto-generated as <hostname>-<nanos> when empty
	InstanceID string

	// RedisURL enables the redis pub/sub publisher when non-empty
	RedisURL string

	// MetricsAddr serves prometheus metrics when non-empty
	MetricsAddr string

	MonitorInterval       time.Duration
	BacktestInterval      time.Duration
	RunnerMonitorInterval time.Duration
	AggregationInterval   time.Duration
	HeartbeatInterval     time.Duration
	LeaseTTL              int64

	DataDownloadTimeout  time.Duration
	DataRefreshInterval  time.Duration
	SampleRetention      time.Duration
	RetryFailedDownloads bool

	// Object store for dataset archives
	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	LogLevel string
	LogJSON  bool
	DataDir  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:           getEnv("FLEETWATCH_DATABASE_URL", "fleetwatch.db"),
		InstanceID:            getEnv("FLEETWATCH_INSTANCE_ID", ""),
		RedisURL:              getEnv("FLEETWATCH_REDIS_URL", ""),
		MetricsAddr:           getEnv("FLEETWATCH_METRICS_ADDR", ""),
		ObjectStoreEndpoint:   getEnv("FLEETWATCH_S3_ENDPOINT", ""),
		ObjectStoreAccessKey:  getEnv("FLEETWATCH_S3_ACCESS_KEY", ""),
		ObjectStoreSecretKey:  getEnv("FLEETWATCH_S3_SECRET_KEY", ""),
		ObjectStoreBucket:     getEnv("FLEETWATCH_S3_BUCKET", "fleetwatch-data"),
		LogLevel:              getEnv("FLEETWATCH_LOG_LEVEL", "info"),
		DataDir:               getEnv("FLEETWATCH_DATA_DIR", os.TempDir()),
		MonitorInterval:       DefaultMonitorInterval,
		BacktestInterval:      DefaultBacktestInterval,
		RunnerMonitorInterval: DefaultRunnerMonitorInterval,
		AggregationInterval:   DefaultAggregationInterval,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		LeaseTTL:              DefaultLeaseTTL,
		DataDownloadTimeout:   DefaultDataDownloadTimeout,
		DataRefreshInterval:   DefaultDataRefreshInterval,
		SampleRetention:       DefaultSampleRetention,
	}

	if endpoints := getEnv("FLEETWATCH_ETCD_ENDPOINTS", ""); endpoints != "" {
		for _, ep := range strings.Split(endpoints, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				cfg.EtcdEndpoints = append(cfg.EtcdEndpoints, ep)
			}
		}
	}

	var err error
	if cfg.MonitorInterval, err = getDuration("FLEETWATCH_MONITOR_INTERVAL", cfg.MonitorInterval); err != nil {
		return nil, err
	}
	if cfg.BacktestInterval, err = getDuration("FLEETWATCH_BACKTEST_INTERVAL", cfg.BacktestInterval); err != nil {
		return nil, err
	}
	if cfg.RunnerMonitorInterval, err = getDuration("FLEETWATCH_RUNNER_MONITOR_INTERVAL", cfg.RunnerMonitorInterval); err != nil {
		return nil, err
	}
	if cfg.AggregationInterval, err = getDuration("FLEETWATCH_AGGREGATION_INTERVAL", cfg.AggregationInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getDuration("FLEETWATCH_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.DataDownloadTimeout, err = getDuration("FLEETWATCH_DATA_DOWNLOAD_TIMEOUT", cfg.DataDownloadTimeout); err != nil {
		return nil, err
	}
	if cfg.DataRefreshInterval, err = getDuration("FLEETWATCH_DATA_REFRESH_INTERVAL", cfg.DataRefreshInterval); err != nil {
		return nil, err
	}
	if cfg.SampleRetention, err = getDuration("FLEETWATCH_SAMPLE_RETENTION", cfg.SampleRetention); err != nil {
		return nil, err
	}
	if cfg.LeaseTTL, err = getInt64("FLEETWATCH_LEASE_TTL", cfg.LeaseTTL); err != nil {
		return nil, err
	}
	if cfg.RetryFailedDownloads, err = getBool("FLEETWATCH_RETRY_FAILED_DOWNLOADS", false); err != nil {
		return nil, err
	}
	if cfg.ObjectStoreUseSSL, err = getBool("FLEETWATCH_S3_USE_SSL", false); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = getBool("FLEETWATCH_LOG_JSON", true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Distributed reports whether a coordination store was configured
func (c *Config) Distributed() bool {
	return len(c.EtcdEndpoints) > 0
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

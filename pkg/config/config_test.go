package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 5*time.Minute, cfg.RunnerMonitorInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, int64(15), cfg.LeaseTTL)
	assert.Equal(t, 12*time.Hour, cfg.DataDownloadTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.SampleRetention)
	assert.False(t, cfg.RetryFailedDownloads)
	assert.False(t, cfg.Distributed())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLEETWATCH_MONITOR_INTERVAL", "10s")
	t.Setenv("FLEETWATCH_ETCD_ENDPOINTS", "etcd1:2379, etcd2:2379")
	t.Setenv("FLEETWATCH_LEASE_TTL", "30")
	t.Setenv("FLEETWATCH_RETRY_FAILED_DOWNLOADS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.MonitorInterval)
	assert.Equal(t, []string{"etcd1:2379", "etcd2:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, int64(30), cfg.LeaseTTL)
	assert.True(t, cfg.RetryFailedDownloads)
	assert.True(t, cfg.Distributed())
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("FLEETWATCH_MONITOR_INTERVAL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

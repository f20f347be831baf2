package runtime

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

func TestParseDockerConfig(t *testing.T) {
	cfg, err := ParseDockerConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Host)

	cfg, err = ParseDockerConfig(map[string]interface{}{
		"host":     "tcp://10.0.0.5:2376",
		"data_dir": "/srv/freqtrade-data",
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.5:2376", cfg.Host)
	assert.Equal(t, "/srv/freqtrade-data", cfg.DataDir)

	_, err = ParseDockerConfig(map[string]interface{}{"tls_verify": true})
	assert.Error(t, err)
}

func TestCalculateCPUPercent(t *testing.T) {
	base := func() *container.StatsResponse {
		var s container.StatsResponse
		s.PreCPUStats.CPUUsage.TotalUsage = 1_000_000
		s.PreCPUStats.SystemUsage = 10_000_000
		s.CPUStats.CPUUsage.TotalUsage = 2_000_000
		s.CPUStats.SystemUsage = 20_000_000
		return &s
	}

	// cgroups v1: CPU count from the per-cpu slice
	s := base()
	s.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3, 4}
	assert.InDelta(t, 40.0, calculateCPUPercent(s), 1e-9)

	// cgroups v2: falls back to OnlineCPUs
	s = base()
	s.CPUStats.OnlineCPUs = 2
	assert.InDelta(t, 20.0, calculateCPUPercent(s), 1e-9)

	// neither populated: assume one CPU
	s = base()
	assert.InDelta(t, 10.0, calculateCPUPercent(s), 1e-9)

	// no movement
	s = base()
	s.CPUStats.CPUUsage.TotalUsage = s.PreCPUStats.CPUUsage.TotalUsage
	assert.Zero(t, calculateCPUPercent(s))
}

func TestMapStats(t *testing.T) {
	var s container.StatsResponse
	s.MemoryStats.Usage = 512 << 20
	s.Networks = map[string]container.NetworkStats{
		"eth0": {RxBytes: 100, TxBytes: 50},
		"eth1": {RxBytes: 10, TxBytes: 5},
	}
	s.BlkioStats.IoServiceBytesRecursive = []container.BlkioStatEntry{
		{Op: "Read", Value: 1000},
		{Op: "write", Value: 2000},
		{Op: "Total", Value: 3000},
	}

	out := mapStats(&s)
	assert.Equal(t, int64(512<<20), out.MemoryBytes)
	assert.Equal(t, int64(110), out.NetworkRxBytes)
	assert.Equal(t, int64(55), out.NetworkTxBytes)
	assert.Equal(t, int64(1000), out.BlockReadBytes)
	assert.Equal(t, int64(2000), out.BlockWriteBytes)
}

func TestMapContainerState(t *testing.T) {
	tests := []struct {
		name       string
		state      container.State
		wantStatus types.BotStatus
		wantHealthy bool
	}{
		{"created", container.State{Status: "created"}, types.BotStatusCreating, false},
		{"running", container.State{Status: "running", Running: true}, types.BotStatusRunning, true},
		{"running unhealthy", container.State{Status: "running", Running: true, Health: &container.Health{Status: "unhealthy"}}, types.BotStatusUnhealthy, false},
		{"restarting", container.State{Status: "restarting"}, types.BotStatusUnhealthy, false},
		{"clean exit", container.State{Status: "exited", ExitCode: 0}, types.BotStatusStopped, false},
		{"crash", container.State{Status: "exited", ExitCode: 137}, types.BotStatusError, false},
		{"oom", container.State{Status: "exited", ExitCode: 137, OOMKilled: true}, types.BotStatusError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out BotState
			mapContainerState(&tt.state, &out)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantHealthy, out.Healthy)
			if tt.wantStatus == types.BotStatusError {
				assert.NotEmpty(t, out.ErrorMessage)
			}
		})
	}
}

func TestMockDefaults(t *testing.T) {
	m := &Mock{}
	ctx := t.Context()

	_, err := m.GetBotStatus(ctx, "bot-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteBacktest(ctx, "container-1"))
	assert.Equal(t, []string{"container-1"}, m.DeletedBacktests)
}

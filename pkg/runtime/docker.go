package runtime

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const (
	downloadImage = "freqtradeorg/freqtrade:stable"

	// resultCap bounds how much backtest result JSON we read out of a
	// container
	resultCap = 64 << 20

	botAPITimeout = 15 * time.Second
)

// DockerRuntime talks to one Docker daemon
type DockerRuntime struct {
	cli     *client.Client
	dataDir string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the Docker daemon described by cfg
func NewDockerRuntime(ctx context.Context, cfg DockerConfig) (*DockerRuntime, error) {
	opts := []client.Opt{
		client.WithHost(cfg.Host),
		client.WithAPIVersionNegotiation(),
	}
	if cfg.APIVersion != "" {
		opts = []client.Opt{client.WithHost(cfg.Host), client.WithVersion(cfg.APIVersion)}
	}
	if cfg.TLSVerify {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(cfg.CertPath, "ca.pem"),
			filepath.Join(cfg.CertPath, "cert.pem"),
			filepath.Join(cfg.CertPath, "key.pem"),
		))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return &DockerRuntime{cli: cli, dataDir: cfg.DataDir}, nil
}

func (d *DockerRuntime) Type() types.RunnerType { return types.RunnerTypeDocker }

func (d *DockerRuntime) Close() error { return d.cli.Close() }

// GetBotStatus inspects the bot's container and maps its state
func (d *DockerRuntime) GetBotStatus(ctx context.Context, botKey string) (*BotState, error) {
	inspect, err := d.cli.ContainerInspect(ctx, botKey)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, botKey)
		}
		return nil, fmt.Errorf("failed to inspect bot container: %w", err)
	}

	state := &BotState{BotKey: botKey}
	mapContainerState(inspect.State, state)

	if inspect.NetworkSettings != nil {
		state.IPAddress = containerIP(inspect.NetworkSettings)
		state.HostPort = hostPortFor(inspect.NetworkSettings, types.DefaultAPIPort)
	}

	if state.Status == types.BotStatusRunning || state.Status == types.BotStatusUnhealthy {
		stats, err := d.containerStats(ctx, botKey)
		if err != nil {
			// Stats are best effort; status is still valid without them
			log.WithComponent("docker-runtime").Debug().Err(err).Str("bot_key", botKey).Msg("stats unavailable")
		} else {
			state.Stats = stats
		}
	}

	return state, nil
}

// GetBotHTTPClient returns a client and base URL reaching the bot's API.
// A published host port is preferred; otherwise the container IP is dialed
// directly, which works when the monitor shares the docker network.
func (d *DockerRuntime) GetBotHTTPClient(ctx context.Context, botKey string) (*http.Client, string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, botKey)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, botKey)
		}
		return nil, "", fmt.Errorf("failed to inspect bot container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return nil, "", fmt.Errorf("bot %s has no network settings", botKey)
	}

	httpClient := &http.Client{Timeout: botAPITimeout}
	if port := hostPortFor(inspect.NetworkSettings, types.DefaultAPIPort); port > 0 {
		return httpClient, fmt.Sprintf("http://127.0.0.1:%d", port), nil
	}
	if ip := containerIP(inspect.NetworkSettings); ip != "" {
		return httpClient, fmt.Sprintf("http://%s:%d", ip, types.DefaultAPIPort), nil
	}
	return nil, "", fmt.Errorf("bot %s exposes no reachable address", botKey)
}

// GetBacktestStatus maps a backtest container's state: still running,
// exited zero, or exited non-zero
func (d *DockerRuntime) GetBacktestStatus(ctx context.Context, containerID string) (*BacktestState, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, containerID)
		}
		return nil, fmt.Errorf("failed to inspect backtest container: %w", err)
	}

	state := &BacktestState{Status: types.BacktestStatusRunning}
	if inspect.State == nil {
		return state, nil
	}

	switch {
	case inspect.State.Running:
		stats, err := d.containerStats(ctx, containerID)
		if err == nil {
			state.Stats = stats
		}
	case inspect.State.ExitCode == 0:
		state.Status = types.BacktestStatusCompleted
		state.CompletedAt = parseDockerTime(inspect.State.FinishedAt)
	default:
		state.Status = types.BacktestStatusFailed
		state.CompletedAt = parseDockerTime(inspect.State.FinishedAt)
		state.ErrorMessage = fmt.Sprintf("backtest exited with code %d", inspect.State.ExitCode)
		if inspect.State.OOMKilled {
			state.ErrorMessage = "backtest killed: out of memory"
		}
	}
	return state, nil
}

// GetBacktestResult reads the result JSON and captured logs out of a
// finished backtest container
func (d *DockerRuntime) GetBacktestResult(ctx context.Context, containerID string) (*BacktestArtifacts, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, containerID)
		}
		return nil, fmt.Errorf("failed to inspect backtest container: %w", err)
	}

	artifacts := &BacktestArtifacts{}
	if inspect.State != nil {
		artifacts.CompletedAt = parseDockerTime(inspect.State.FinishedAt)
		if inspect.State.ExitCode != 0 {
			artifacts.ErrorMessage = fmt.Sprintf("backtest exited with code %d", inspect.State.ExitCode)
		}
	}

	logs, err := d.containerLogs(ctx, containerID)
	if err != nil {
		log.WithComponent("docker-runtime").Warn().Err(err).Str("container_id", containerID).Msg("failed to read backtest logs")
	}
	artifacts.Logs = logs

	raw, err := d.readResultJSON(ctx, containerID)
	if err != nil {
		return artifacts, fmt.Errorf("failed to read backtest result: %w", err)
	}
	artifacts.RawResult = raw
	return artifacts, nil
}

// DeleteBacktest force-removes the backtest container and its volumes
func (d *DockerRuntime) DeleteBacktest(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove backtest container: %w", err)
	}
	return nil
}

// DownloadExchangeData runs freqtrade download-data on the daemon host,
// one short-lived container per pair so progress is observable
func (d *DockerRuntime) DownloadExchangeData(ctx context.Context, spec types.ExchangeDownload, destDir string, progress func(pairsDone int, currentPair string)) error {
	if err := d.ensureImage(ctx, downloadImage); err != nil {
		return err
	}

	for i, pair := range spec.Pairs {
		if progress != nil {
			progress(i, pair)
		}
		cmd := []string{
			"download-data",
			"--exchange", spec.Exchange,
			"--pairs", pair,
			"--timeframes",
		}
		cmd = append(cmd, spec.Timeframes...)
		cmd = append(cmd, "--datadir", "/freqtrade/user_data/data")

		if err := d.runOneShot(ctx, downloadImage, cmd, []string{destDir + ":/freqtrade/user_data/data"}); err != nil {
			return fmt.Errorf("download failed for %s %s: %w", spec.Exchange, pair, err)
		}
	}
	if progress != nil {
		progress(len(spec.Pairs), "")
	}
	return nil
}

func (d *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *DockerRuntime) runOneShot(ctx context.Context, img string, cmd, binds []string) error {
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  img,
			Cmd:    cmd,
			Labels: map[string]string{"fleetwatch.io/managed": "true", "fleetwatch.io/task": "data-download"},
			User:   "root",
		},
		&container.HostConfig{Binds: binds},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = d.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	waitCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("failed to wait for container: %w", err)
	case resp := <-waitCh:
		if resp.StatusCode != 0 {
			logs, _ := d.containerLogs(ctx, created.ID)
			return fmt.Errorf("container exited with code %d: %s", resp.StatusCode, tail(logs, 512))
		}
	}
	return nil
}

func (d *DockerRuntime) containerLogs(ctx context.Context, containerID string) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "2000",
	})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var out strings.Builder
	// Docker multiplexes stdout/stderr into one stream
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// readResultJSON copies the backtest results directory out of the container
// and returns the first non-meta JSON file found
func (d *DockerRuntime) readResultJSON(ctx context.Context, containerID string) ([]byte, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, "/freqtrade/user_data/backtest_results")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("no result file in container %s", containerID)
		}
		if err != nil {
			return nil, err
		}
		name := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(tr, resultCap))
		if err != nil {
			return nil, err
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("result file %s is not valid JSON", name)
		}
		return raw, nil
	}
}

func (d *DockerRuntime) containerStats(ctx context.Context, containerID string) (ResourceStats, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return ResourceStats{}, err
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return ResourceStats{}, err
	}
	return mapStats(&stats), nil
}

func mapStats(stats *container.StatsResponse) ResourceStats {
	out := ResourceStats{
		CPUPercent:  calculateCPUPercent(stats),
		MemoryBytes: int64(stats.MemoryStats.Usage),
	}
	for _, net := range stats.Networks {
		out.NetworkRxBytes += int64(net.RxBytes)
		out.NetworkTxBytes += int64(net.TxBytes)
	}
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			out.BlockReadBytes += int64(entry.Value)
		case "write":
			out.BlockWriteBytes += int64(entry.Value)
		}
	}
	return out
}

// calculateCPUPercent derives a CPU percentage from the stats deltas. The
// CPU count comes from PercpuUsage on cgroups v1 hosts; cgroups v2 leaves
// that slice empty and reports OnlineCPUs instead.
func calculateCPUPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	cpus := float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	if cpus == 0 {
		cpus = float64(stats.CPUStats.OnlineCPUs)
	}
	if cpus == 0 {
		cpus = 1
	}
	return (cpuDelta / systemDelta) * cpus * 100.0
}

func mapContainerState(state *container.State, out *BotState) {
	if state == nil {
		out.Status = types.BotStatusError
		out.ErrorMessage = "container has no state"
		return
	}

	switch state.Status {
	case "created":
		out.Status = types.BotStatusCreating
	case "running":
		now := time.Now()
		out.LastSeenAt = &now
		if state.Health != nil && state.Health.Status == "unhealthy" {
			out.Status = types.BotStatusUnhealthy
			out.ErrorMessage = "container health check failing"
			return
		}
		out.Status = types.BotStatusRunning
		out.Healthy = true
	case "restarting":
		out.Status = types.BotStatusUnhealthy
		out.ErrorMessage = "container restarting"
	case "paused", "exited", "dead", "removing":
		out.LastSeenAt = parseDockerTime(state.FinishedAt)
		if state.OOMKilled {
			out.Status = types.BotStatusError
			out.ErrorMessage = "container killed: out of memory"
			return
		}
		if state.ExitCode != 0 {
			out.Status = types.BotStatusError
			out.ErrorMessage = fmt.Sprintf("container exited with code %d", state.ExitCode)
			return
		}
		out.Status = types.BotStatusStopped
	default:
		out.Status = types.BotStatusError
		out.ErrorMessage = fmt.Sprintf("unknown container state %q", state.Status)
	}
}

func containerIP(settings *container.NetworkSettings) string {
	for _, endpoint := range settings.Networks {
		if endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress
		}
	}
	return ""
}

func hostPortFor(settings *container.NetworkSettings, containerPort int) int {
	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", containerPort))
	if err != nil {
		return 0
	}
	for _, binding := range settings.Ports[port] {
		var hostPort int
		if _, err := fmt.Sscanf(binding.HostPort, "%d", &hostPort); err == nil && hostPort > 0 {
			return hostPort
		}
	}
	return 0
}

func parseDockerTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package monitor

import (
	"context"
	"time"

	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const (
	// runnerBatchSize bounds downloads triggered in one pass
	runnerBatchSize = 5

	// noProgressGrace fails a downloading runner that has recorded no
	// progress at all since it started. The launching instance writes the
	// first progress row within seconds, so silence means the task died.
	noProgressGrace = 5 * time.Minute
)

// RunnerMonitor keeps each runner's shared dataset fresh: it triggers
// downloads for runners that need one, refreshes stale datasets, and fails
// downloads that stopped making progress
type RunnerMonitor struct {
	store      *store.Store
	assigner   coordinator.Assigner
	downloader *Downloader
	interval   time.Duration

	downloadTimeout time.Duration
	refreshInterval time.Duration
	retryFailed     bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRunnerMonitor creates the runner reconciler
func NewRunnerMonitor(s *store.Store, assigner coordinator.Assigner, downloader *Downloader, interval, downloadTimeout, refreshInterval time.Duration, retryFailed bool) *RunnerMonitor {
	return &RunnerMonitor{
		store:           s,
		assigner:        assigner,
		downloader:      downloader,
		interval:        interval,
		downloadTimeout: downloadTimeout,
		refreshInterval: refreshInterval,
		retryFailed:     retryFailed,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start launches the monitoring loop
func (m *RunnerMonitor) Start(ctx context.Context) error {
	go m.loop(ctx)
	return nil
}

// Stop halts the loop, then waits for in-flight download tasks
func (m *RunnerMonitor) Stop(ctx context.Context) error {
	close(m.stopCh)
	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.downloader.Wait()
	return nil
}

func (m *RunnerMonitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	changes := m.assigner.AssignmentChanges()

	m.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAll(ctx)
		case <-changes:
			m.checkAll(ctx)
		}
	}
}

func (m *RunnerMonitor) checkAll(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("runners"))
	metrics.ReconcileCycles.WithLabelValues("runners").Inc()

	logger := log.WithComponent("runner-monitor")

	runners, err := m.store.ListRunners(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list runners")
		metrics.ReconcileErrors.WithLabelValues("runners").Inc()
		return
	}

	started := 0
	for _, runner := range runners {
		if !m.assigner.Owns(runner.ID.String()) {
			continue
		}
		launched, err := m.checkRunner(ctx, runner)
		if err != nil {
			logger.Error().Err(err).Str("runner_id", runner.ID.String()).Msg("runner check failed")
			metrics.ReconcileErrors.WithLabelValues("runners").Inc()
			continue
		}
		if launched {
			started++
			if started >= runnerBatchSize {
				break
			}
		}
	}
}

// checkRunner decides one runner's download state: fail it if stuck, leave
// it alone if progressing, or claim and launch a new download if due.
// Reports whether a download was launched.
func (m *RunnerMonitor) checkRunner(ctx context.Context, runner *types.BotRunner) (bool, error) {
	if runner.DataDownloadConfig == nil {
		return false, nil
	}

	if runner.DataDownloadStatus == types.DownloadStatusDownloading {
		m.checkStuck(ctx, runner)
		return false, nil
	}

	if !m.needsDownload(runner) {
		return false, nil
	}

	// Claim through the store so only one instance launches the task
	won, err := m.store.BeginRunnerDownload(ctx, runner.ID, time.Now())
	if err != nil {
		return false, E(KindTransient, "claim download", err)
	}
	if !won {
		return false, nil
	}

	log.WithRunnerID(runner.ID.String()).Info().Msg("starting dataset download")
	m.downloader.Launch(ctx, runner)
	return true, nil
}

// needsDownload reports whether a non-downloading runner is due for a fresh
// dataset
func (m *RunnerMonitor) needsDownload(runner *types.BotRunner) bool {
	switch runner.DataDownloadStatus {
	case types.DownloadStatusFailed:
		// Failed downloads are not retried automatically: the same config
		// would likely fail the same way. The operator clears the failure,
		// or opts into automatic retries.
		return m.retryFailed
	case types.DownloadStatusIdle:
		return true
	}

	if !runner.DataIsReady {
		return true
	}
	return runner.DataLastUpdated == nil || time.Since(*runner.DataLastUpdated) > m.refreshInterval
}

// checkStuck fails a downloading runner that exceeded the hard timeout or
// never recorded progress
func (m *RunnerMonitor) checkStuck(ctx context.Context, runner *types.BotRunner) {
	if runner.DataDownloadStartedAt == nil {
		return
	}
	elapsed := time.Since(*runner.DataDownloadStartedAt)

	var reason string
	switch {
	case elapsed > m.downloadTimeout:
		reason = "download exceeded the time limit"
	case runner.DataDownloadProgress == nil && elapsed > noProgressGrace:
		reason = "download recorded no progress"
	default:
		return
	}

	log.WithRunnerID(runner.ID.String()).Warn().
		Dur("elapsed", elapsed).Str("reason", reason).Msg("failing stuck download")
	metrics.DownloadsStuck.Inc()
	metrics.DownloadsFailed.Inc()
	if err := m.store.FailRunnerDownload(ctx, runner.ID, reason); err != nil {
		log.WithRunnerID(runner.ID.String()).Error().Err(err).Msg("failed to persist stuck download")
	}
}

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// BacktestMonitor drives running backtest jobs to a terminal state. Only
// rows still marked running are inspected; the store's guarded updates make
// terminal states sticky even if two instances race.
type BacktestMonitor struct {
	store    *store.Store
	factory  RuntimeFactory
	assigner coordinator.Assigner
	alerts   alert.Manager
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBacktestMonitor creates the backtest reconciler
func NewBacktestMonitor(s *store.Store, factory RuntimeFactory, assigner coordinator.Assigner, alerts alert.Manager, interval time.Duration) *BacktestMonitor {
	return &BacktestMonitor{
		store:    s,
		factory:  factory,
		assigner: assigner,
		alerts:   alerts,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loop
func (m *BacktestMonitor) Start(ctx context.Context) error {
	go m.loop(ctx)
	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish
func (m *BacktestMonitor) Stop(ctx context.Context) error {
	close(m.stopCh)
	select {
	case <-m.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *BacktestMonitor) loop(ctx context.Context) {
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

func (m *BacktestMonitor) checkAll(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("backtests"))
	metrics.ReconcileCycles.WithLabelValues("backtests").Inc()

	logger := log.WithComponent("backtest-monitor")

	running, err := m.store.ListRunningBacktests(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list running backtests")
		metrics.ReconcileErrors.WithLabelValues("backtests").Inc()
		return
	}

	for _, bt := range running {
		if !m.assigner.Owns(bt.ID.String()) {
			continue
		}
		if err := m.checkBacktest(ctx, bt); err != nil {
			logger.Error().Err(err).Str("backtest_id", bt.ID.String()).Msg("backtest check failed")
			metrics.ReconcileErrors.WithLabelValues("backtests").Inc()
		}
	}
}

// checkBacktest inspects one running backtest and, when the container has
// finished, persists the terminal state before cleaning up
func (m *BacktestMonitor) checkBacktest(ctx context.Context, bt *types.Backtest) error {
	runner, err := m.store.GetRunner(ctx, bt.RunnerID)
	if err != nil {
		return E(KindTransient, "load runner", err)
	}
	if runner == nil {
		return E(KindSemantic, "load runner", errors.New("backtest references unknown runner"))
	}

	rt, err := m.factory.Create(ctx, runner.Type, runner.Config)
	if err != nil {
		return E(KindTransient, "connect runtime", err)
	}
	defer rt.Close()

	state, err := rt.GetBacktestStatus(ctx, bt.ContainerID)
	if errors.Is(err, runtime.ErrNotFound) {
		// The container vanished before we could collect results
		return m.fail(ctx, bt, "backtest container disappeared", "", time.Now())
	}
	if err != nil {
		return E(KindTransient, "inspect backtest", err)
	}

	if state.Status == types.BacktestStatusRunning {
		if runner.BillingEnabled {
			m.sampleUsage(ctx, bt, runner, state.Stats)
		}
		return nil
	}

	completedAt := time.Now()
	if state.CompletedAt != nil {
		completedAt = *state.CompletedAt
	}

	if state.Status == types.BacktestStatusFailed {
		logs := m.collectLogs(ctx, rt, bt)
		errMsg := state.ErrorMessage
		if errMsg == "" {
			errMsg = "backtest exited with an error"
		}
		if err := m.fail(ctx, bt, errMsg, logs, completedAt); err != nil {
			return err
		}
		m.cleanup(ctx, rt, bt)
		return nil
	}

	// Completed: collect artifacts before persisting so a fetch failure
	// leaves the row running for a retry next cycle
	artifacts, err := rt.GetBacktestResult(ctx, bt.ContainerID)
	if err != nil {
		return E(KindTransient, "collect result", err)
	}
	if artifacts.CompletedAt != nil {
		completedAt = *artifacts.CompletedAt
	}

	summary := extractSummary(artifacts.RawResult)
	if err := m.store.CompleteBacktest(ctx, bt.ID, artifacts.RawResult, summary, artifacts.Logs, completedAt); err != nil {
		return E(KindTransient, "persist result", err)
	}

	totalTrades, winRate, profitTotal := 0, 0.0, 0.0
	if summary != nil {
		totalTrades = summary.TotalTrades
		winRate = summary.WinRate
		profitTotal = summary.ProfitTotalAbs
	}
	m.alerts.HandleBacktestCompleted(ctx, bt, bt.OwnerID, true, "", totalTrades, winRate, profitTotal)

	log.WithComponent("backtest-monitor").Info().
		Str("backtest_id", bt.ID.String()).Int("total_trades", totalTrades).
		Msg("backtest completed")

	m.cleanup(ctx, rt, bt)
	return nil
}

func (m *BacktestMonitor) fail(ctx context.Context, bt *types.Backtest, errMsg, logs string, completedAt time.Time) error {
	if err := m.store.FailBacktest(ctx, bt.ID, errMsg, logs, completedAt); err != nil {
		return E(KindTransient, "persist failure", err)
	}
	m.alerts.HandleBacktestCompleted(ctx, bt, bt.OwnerID, false, errMsg, 0, 0, 0)
	return nil
}

// collectLogs is best effort on the failure path
func (m *BacktestMonitor) collectLogs(ctx context.Context, rt runtime.Runtime, bt *types.Backtest) string {
	artifacts, err := rt.GetBacktestResult(ctx, bt.ContainerID)
	if err != nil {
		return ""
	}
	return artifacts.Logs
}

// cleanup removes the container after the terminal state is durable. A
// failure here leaves an orphan for the next manual sweep, not a wrong row.
func (m *BacktestMonitor) cleanup(ctx context.Context, rt runtime.Runtime, bt *types.Backtest) {
	if err := rt.DeleteBacktest(ctx, bt.ContainerID); err != nil {
		log.WithComponent("backtest-monitor").Warn().Err(err).
			Str("backtest_id", bt.ID.String()).Msg("container cleanup failed")
	}
}

func (m *BacktestMonitor) sampleUsage(ctx context.Context, bt *types.Backtest, runner *types.BotRunner, stats runtime.ResourceStats) {
	sample := &types.UsageSample{
		ResourceType:    types.ResourceTypeBacktest,
		ResourceID:      bt.ID,
		OwnerID:         bt.OwnerID,
		RunnerID:        runner.ID,
		CPUPercent:      stats.CPUPercent,
		MemoryBytes:     stats.MemoryBytes,
		NetworkRxBytes:  stats.NetworkRxBytes,
		NetworkTxBytes:  stats.NetworkTxBytes,
		BlockReadBytes:  stats.BlockReadBytes,
		BlockWriteBytes: stats.BlockWriteBytes,
		SampledAt:       time.Now(),
	}
	if err := m.store.InsertUsageSample(ctx, sample); err != nil {
		log.WithComponent("backtest-monitor").Warn().Err(err).
			Str("backtest_id", bt.ID.String()).Msg("usage sample insert failed")
		return
	}
	metrics.UsageSamples.Inc()
}

// rawStrategyStats is the per-strategy block of a Freqtrade backtest result
type rawStrategyStats struct {
	TotalTrades        int     `json:"total_trades"`
	Wins               int     `json:"wins"`
	Losses             int     `json:"losses"`
	Draws              int     `json:"draws"`
	ProfitTotalAbs     float64 `json:"profit_total_abs"`
	ProfitTotal        float64 `json:"profit_total"`
	ProfitFactor       float64 `json:"profit_factor"`
	Expectancy         float64 `json:"expectancy"`
	MaxDrawdownAccount float64 `json:"max_drawdown_account"`
	MaxDrawdownAbs     float64 `json:"max_drawdown_abs"`
}

// extractSummary pulls the typed scalars out of a raw backtest result. The
// result nests stats under the strategy name; the first strategy wins. A
// result we cannot parse yields a nil summary, never an error: the raw
// payload is stored either way.
func extractSummary(raw json.RawMessage) *types.BacktestSummary {
	if len(raw) == 0 {
		return nil
	}

	var envelope struct {
		Strategy map[string]rawStrategyStats `json:"strategy"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Strategy) == 0 {
		return nil
	}

	for name, stats := range envelope.Strategy {
		winRate := 0.0
		if stats.TotalTrades > 0 {
			winRate = float64(stats.Wins) / float64(stats.TotalTrades)
		}
		return &types.BacktestSummary{
			StrategyName:   name,
			TotalTrades:    stats.TotalTrades,
			Wins:           stats.Wins,
			Losses:         stats.Losses,
			WinRate:        winRate,
			ProfitTotalAbs: stats.ProfitTotalAbs,
			ProfitTotalPct: stats.ProfitTotal * 100,
			ProfitFactor:   stats.ProfitFactor,
			Expectancy:     stats.Expectancy,
			MaxDrawdown:    stats.MaxDrawdownAccount,
			MaxDrawdownAbs: stats.MaxDrawdownAbs,
		}
	}
	return nil
}

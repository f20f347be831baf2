package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const backtestResult = `{
	"strategy": {
		"TrendFollower": {
			"total_trades": 20,
			"wins": 12,
			"losses": 8,
			"profit_total_abs": 45.5,
			"profit_total": 0.0455,
			"profit_factor": 1.8,
			"expectancy": 0.3,
			"max_drawdown_account": 0.12,
			"max_drawdown_abs": 9.1
		}
	}
}`

func seedBacktest(t *testing.T, s *store.Store, runnerID uuid.UUID) *types.Backtest {
	t.Helper()
	bt := &types.Backtest{
		ID:          uuid.New(),
		OwnerID:     "owner-1",
		StrategyID:  uuid.New(),
		RunnerID:    runnerID,
		Status:      types.BacktestStatusRunning,
		ContainerID: "bt-container",
	}
	require.NoError(t, s.CreateBacktest(context.Background(), bt))
	return bt
}

func TestBacktestCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bt := seedBacktest(t, s, runner.ID)

	finished := time.Now().Add(-time.Minute).Truncate(time.Second)
	rt := &runtime.Mock{
		GetBacktestStatusFunc: func(context.Context, string) (*runtime.BacktestState, error) {
			return &runtime.BacktestState{Status: types.BacktestStatusCompleted, CompletedAt: &finished}, nil
		},
		GetBacktestResultFunc: func(context.Context, string) (*runtime.BacktestArtifacts, error) {
			return &runtime.BacktestArtifacts{
				RawResult:   []byte(backtestResult),
				Logs:        "backtest done",
				CompletedAt: &finished,
			}, nil
		},
	}
	recorder := &alert.Recorder{}
	m := NewBacktestMonitor(s, &mockFactory{rt: rt}, coordinator.NewSingleInstance("test"), recorder, time.Minute)

	m.checkAll(ctx)

	got, err := s.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BacktestStatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "TrendFollower", got.Summary.StrategyName)
	assert.Equal(t, 20, got.Summary.TotalTrades)
	assert.InDelta(t, 0.6, got.Summary.WinRate, 1e-9)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, finished.Unix(), got.CompletedAt.Unix())
	assert.Equal(t, "backtest done", got.Logs)

	require.Len(t, recorder.Backtests, 1)
	assert.True(t, recorder.Backtests[0].Success)
	assert.Equal(t, 20, recorder.Backtests[0].TotalTrades)

	// Container removed only after the terminal state was written
	assert.Equal(t, []string{"bt-container"}, rt.DeletedBacktests)
}

func TestBacktestFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bt := seedBacktest(t, s, runner.ID)

	rt := &runtime.Mock{
		GetBacktestStatusFunc: func(context.Context, string) (*runtime.BacktestState, error) {
			return &runtime.BacktestState{Status: types.BacktestStatusFailed, ErrorMessage: "exit code 2"}, nil
		},
		GetBacktestResultFunc: func(context.Context, string) (*runtime.BacktestArtifacts, error) {
			return &runtime.BacktestArtifacts{Logs: "strategy import failed"}, nil
		},
	}
	recorder := &alert.Recorder{}
	m := NewBacktestMonitor(s, &mockFactory{rt: rt}, coordinator.NewSingleInstance("test"), recorder, time.Minute)

	m.checkAll(ctx)

	got, err := s.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BacktestStatusFailed, got.Status)
	assert.Equal(t, "exit code 2", got.ErrorMessage)
	assert.Equal(t, "strategy import failed", got.Logs)

	require.Len(t, recorder.Backtests, 1)
	assert.False(t, recorder.Backtests[0].Success)
	assert.Equal(t, []string{"bt-container"}, rt.DeletedBacktests)
}

func TestBacktestContainerDisappeared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bt := seedBacktest(t, s, runner.ID)

	recorder := &alert.Recorder{}
	m := NewBacktestMonitor(s, &mockFactory{rt: &runtime.Mock{}}, coordinator.NewSingleInstance("test"), recorder, time.Minute)

	m.checkAll(ctx)

	got, err := s.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BacktestStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "disappeared")
	require.Len(t, recorder.Backtests, 1)
	assert.False(t, recorder.Backtests[0].Success)
}

func TestBacktestStillRunningSamplesUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, true)
	bt := seedBacktest(t, s, runner.ID)

	rt := &runtime.Mock{
		GetBacktestStatusFunc: func(context.Context, string) (*runtime.BacktestState, error) {
			return &runtime.BacktestState{
				Status: types.BacktestStatusRunning,
				Stats:  runtime.ResourceStats{CPUPercent: 80},
			}, nil
		},
	}
	m := NewBacktestMonitor(s, &mockFactory{rt: rt}, coordinator.NewSingleInstance("test"), &alert.Recorder{}, time.Minute)

	m.checkAll(ctx)

	got, err := s.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BacktestStatusRunning, got.Status)

	n, err := s.CountUsageSamples(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBacktestResultFetchFailureLeavesRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bt := seedBacktest(t, s, runner.ID)

	rt := &runtime.Mock{
		GetBacktestStatusFunc: func(context.Context, string) (*runtime.BacktestState, error) {
			return &runtime.BacktestState{Status: types.BacktestStatusCompleted}, nil
		},
		GetBacktestResultFunc: func(context.Context, string) (*runtime.BacktestArtifacts, error) {
			return nil, assert.AnError
		},
	}
	m := NewBacktestMonitor(s, &mockFactory{rt: rt}, coordinator.NewSingleInstance("test"), &alert.Recorder{}, time.Minute)

	m.checkAll(ctx)

	// Still running: the next cycle retries the artifact fetch
	got, err := s.GetBacktest(ctx, bt.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BacktestStatusRunning, got.Status)
	assert.Empty(t, rt.DeletedBacktests)
}

func TestExtractSummary(t *testing.T) {
	summary := extractSummary(json.RawMessage(backtestResult))
	require.NotNil(t, summary)
	assert.Equal(t, "TrendFollower", summary.StrategyName)
	assert.Equal(t, 12, summary.Wins)
	assert.InDelta(t, 4.55, summary.ProfitTotalPct, 1e-9)
	assert.InDelta(t, 0.12, summary.MaxDrawdown, 1e-9)

	assert.Nil(t, extractSummary(nil))
	assert.Nil(t, extractSummary(json.RawMessage(`not json`)))
	assert.Nil(t, extractSummary(json.RawMessage(`{"strategy":{}}`)))
}

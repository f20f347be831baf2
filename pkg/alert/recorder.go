package alert

import (
	"context"
	"sync"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// Recorder is a Manager that captures calls for test assertions
type Recorder struct {
	mu sync.Mutex

	Opened    [][]TradeInfo
	Closed    [][]TradeInfo
	Backtests []BacktestAlert
}

// BacktestAlert is one recorded backtest notification
type BacktestAlert struct {
	BacktestID  string
	Success     bool
	Error       string
	TotalTrades int
	WinRate     float64
	ProfitTotal float64
}

var _ Manager = (*Recorder)(nil)

func (r *Recorder) HandleTradesOpened(_ context.Context, _ *types.Bot, _ string, trades []TradeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Opened = append(r.Opened, trades)
}

func (r *Recorder) HandleTradesClosed(_ context.Context, _ *types.Bot, _ string, trades []TradeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = append(r.Closed, trades)
}

func (r *Recorder) HandleBacktestCompleted(_ context.Context, backtest *types.Backtest, _ string, success bool, errMessage string, totalTrades int, winRate, profitTotal float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Backtests = append(r.Backtests, BacktestAlert{
		BacktestID:  backtest.ID.String(),
		Success:     success,
		Error:       errMessage,
		TotalTrades: totalTrades,
		WinRate:     winRate,
		ProfitTotal: profitTotal,
	})
}

// OpenedCount totals trades across recorded open alerts
func (r *Recorder) OpenedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, group := range r.Opened {
		n += len(group)
	}
	return n
}

// ClosedCount totals trades across recorded close alerts
func (r *Recorder) ClosedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, group := range r.Closed {
		n += len(group)
	}
	return n
}

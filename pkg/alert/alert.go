package alert

import (
	"context"
	"time"

	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// TradeInfo is the per-trade slice of an alert. Alerts are grouped: one
// call per bot per sync pass per event class, however many trades it
// carries.
type TradeInfo struct {
	TradeID    int
	Pair       string
	IsShort    bool
	OpenRate   float64
	CloseRate  *float64
	ProfitAbs  float64
	ProfitPct  float64
	ExitReason string
	OpenDate   time.Time
	CloseDate  *time.Time
}

// Manager receives grouped notifications about workload outcomes. The
// monitor is the only producer; delivery transports (mail, chat, webhooks)
// live behind implementations supplied by the embedding application.
type Manager interface {
	HandleTradesOpened(ctx context.Context, bot *types.Bot, ownerID string, trades []TradeInfo)
	HandleTradesClosed(ctx context.Context, bot *types.Bot, ownerID string, trades []TradeInfo)
	HandleBacktestCompleted(ctx context.Context, backtest *types.Backtest, ownerID string, success bool, errMessage string, totalTrades int, winRate, profitTotal float64)
}

// LogManager is the default Manager: it writes structured log lines. It
// doubles as the reference implementation for external transports.
type LogManager struct{}

var _ Manager = (*LogManager)(nil)

// NewLogManager creates the logging alert manager
func NewLogManager() *LogManager {
	return &LogManager{}
}

func (m *LogManager) HandleTradesOpened(_ context.Context, bot *types.Bot, ownerID string, trades []TradeInfo) {
	if len(trades) == 0 {
		return
	}
	log.WithBotID(bot.ID.String()).Info().
		Str("owner_id", ownerID).
		Int("count", len(trades)).
		Str("first_pair", trades[0].Pair).
		Msg("trades opened")
}

func (m *LogManager) HandleTradesClosed(_ context.Context, bot *types.Bot, ownerID string, trades []TradeInfo) {
	if len(trades) == 0 {
		return
	}
	var profit float64
	for _, t := range trades {
		profit += t.ProfitAbs
	}
	log.WithBotID(bot.ID.String()).Info().
		Str("owner_id", ownerID).
		Int("count", len(trades)).
		Float64("profit_abs", profit).
		Msg("trades closed")
}

func (m *LogManager) HandleBacktestCompleted(_ context.Context, backtest *types.Backtest, ownerID string, success bool, errMessage string, totalTrades int, winRate, profitTotal float64) {
	logger := log.WithComponent("alert")
	if !success {
		logger.Warn().
			Str("backtest_id", backtest.ID.String()).
			Str("owner_id", ownerID).
			Str("error", errMessage).
			Msg("backtest failed")
		return
	}
	logger.Info().
		Str("backtest_id", backtest.ID.String()).
		Str("owner_id", ownerID).
		Int("total_trades", totalTrades).
		Float64("win_rate", winRate).
		Float64("profit_total", profitTotal).
		Msg("backtest completed")
}

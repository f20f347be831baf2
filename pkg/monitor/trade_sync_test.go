package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/freqtrade"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

func syncOnce(t *testing.T, s *store.Store, bot *types.Bot, recorder *alert.Recorder, trades []freqtrade.Trade) {
	t.Helper()
	server := freqtradeServer(t, &freqtrade.Profit{}, trades)
	client := freqtrade.NewClient(server.Client(), server.URL, "ft", "secret")

	m := NewBotMonitor(s, nil, coordinator.NewSingleInstance("test"), recorder, nil, time.Minute)
	require.NoError(t, m.syncTrades(context.Background(), bot, client))
}

func apiTrade(id int, openAt time.Time, isOpen bool) freqtrade.Trade {
	ratio := 0.01
	return freqtrade.Trade{
		TradeID:       id,
		Pair:          "BTC/USDT",
		IsOpen:        isOpen,
		OpenTimestamp: openAt.UnixMilli(),
		OpenRate:      100,
		ProfitRatio:   &ratio,
		Timeframe:     5,
	}
}

func TestSyncTradesEmptyAPIIsANoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)
	require.NoError(t, s.UpdateTradeSyncState(ctx, bot.ID, 10, 10, time.Now()))

	syncOnce(t, s, bot, &alert.Recorder{}, nil)

	row, err := s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, row.LastSyncedTradeID)
	assert.Equal(t, 10, row.LastKnownMaxTradeID)
}

func TestSyncTradesAlreadySyncedSkipsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)

	openAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	recorder := &alert.Recorder{}
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{apiTrade(1, openAt, false)})
	require.Equal(t, 1, recorder.OpenedCount())

	// Same closed trade again: nothing to sync, no repeated alerts
	before, err := s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{apiTrade(1, openAt, false)})

	assert.Equal(t, 1, recorder.OpenedCount())
	assert.Equal(t, 1, recorder.ClosedCount())

	after, err := s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, before.LastTradeSyncAt.Unix(), after.LastTradeSyncAt.Unix())
}

func TestSyncTradesOpenToClosedTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)

	openAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	recorder := &alert.Recorder{}
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{apiTrade(7, openAt, true)})
	require.Equal(t, 1, recorder.OpenedCount())
	require.Equal(t, 0, recorder.ClosedCount())

	// A newer open trade keeps the pass non-empty while trade 7 closes
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{
		apiTrade(7, openAt, false),
		apiTrade(8, time.Now().Truncate(time.Second), true),
	})

	assert.Equal(t, 2, recorder.OpenedCount())
	assert.Equal(t, 1, recorder.ClosedCount())

	stored, err := s.ListTrades(ctx, bot.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSyncTradesResetDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)

	// Epoch 1: trades up to ID 100
	epoch1 := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	recorder := &alert.Recorder{}
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{
		apiTrade(99, epoch1, false),
		apiTrade(100, epoch1, false),
	})

	row, err := s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	require.Equal(t, 100, row.LastSyncedTradeID)
	require.Equal(t, 100, row.LastKnownMaxTradeID)

	// Epoch 2: the bot was wiped and IDs restarted from 1
	epoch2 := time.Now().Add(-time.Hour).Truncate(time.Second)
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{
		apiTrade(1, epoch2, false),
		apiTrade(2, epoch2, true),
	})

	// The watermark follows the new epoch; the high-water mark keeps the old
	// maximum so another wipe is still detectable
	row, err = s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, row.LastSyncedTradeID)
	assert.Equal(t, 100, row.LastKnownMaxTradeID)

	// Both epochs coexist under the composite key
	stored, err := s.ListTrades(ctx, bot.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestSyncTradesReplayedIDKeepsBothEpochs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)

	epoch1 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	epoch2 := time.Now().Add(-time.Hour).Truncate(time.Second)
	recorder := &alert.Recorder{}

	syncOnce(t, s, bot, recorder, []freqtrade.Trade{apiTrade(1, epoch1, false)})
	syncOnce(t, s, bot, recorder, []freqtrade.Trade{apiTrade(1, epoch2, true)})

	stored, err := s.ListTrades(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// Same upstream ID, different open dates, distinct rows
	assert.Equal(t, stored[0].FreqtradeTradeID, stored[1].FreqtradeTradeID)
	assert.NotEqual(t, stored[0].OpenDate.Unix(), stored[1].OpenDate.Unix())
}

func TestSyncTradesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)
	bot := seedBot(t, s, runner.ID)

	openAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	trades := make([]freqtrade.Trade, 0, freqtrade.TradePageSize+10)
	for i := 1; i <= freqtrade.TradePageSize+10; i++ {
		trades = append(trades, apiTrade(i, openAt.Add(time.Duration(i)*time.Second), false))
	}

	syncOnce(t, s, bot, &alert.Recorder{}, trades)

	stored, err := s.ListTrades(ctx, bot.ID)
	require.NoError(t, err)
	assert.Len(t, stored, freqtrade.TradePageSize+10)

	row, err := s.GetBotMetrics(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, freqtrade.TradePageSize+10, row.LastSyncedTradeID)
}

func TestFormatTimeframe(t *testing.T) {
	cases := map[int64]string{
		10080: "1w",
		1440:  "1d",
		240:   "4h",
		60:    "1h",
		30:    "30m",
		15:    "15m",
		5:     "5m",
		1:     "1m",
		0:     "",
	}
	for minutes, want := range cases {
		assert.Equal(t, want, freqtrade.FormatTimeframe(minutes), "minutes=%d", minutes)
	}
}

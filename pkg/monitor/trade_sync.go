package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/freqtrade"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const (
	// tradeSyncTimeout bounds one bot's sync so a slow API cannot starve the
	// rest of the batch
	tradeSyncTimeout = 30 * time.Second

	// tradeRelevanceWindow is how far back closed trades participate in
	// change detection. Older rows are immutable history.
	tradeRelevanceWindow = 7 * 24 * time.Hour
)

// tradeKey is the composite identity of a trade. Bots recreated from scratch
// reuse trade IDs, so the open date is part of the key.
type tradeKey struct {
	id       int
	openUnix int64
}

// syncTrades reconciles the bot's trade history against the local store.
// One pass: fetch everything the API has, diff against the relevant local
// subset, upsert the changed rows, emit events and grouped alerts, and
// advance the sync watermark.
func (m *BotMonitor) syncTrades(ctx context.Context, bot *types.Bot, client *freqtrade.Client) error {
	ctx, cancel := context.WithTimeout(ctx, tradeSyncTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TradeSyncDuration)

	logger := log.WithBotID(bot.ID.String())

	apiTrades, err := client.GetAllTrades(ctx)
	if err != nil {
		return E(KindTransient, "fetch trades", err)
	}
	// An empty API response is indistinguishable from a bot that hasn't
	// traded yet, so it never triggers reset handling or a watermark move
	if len(apiTrades) == 0 {
		return nil
	}

	lastSynced, lastKnownMax := 0, 0
	if row, err := m.store.GetBotMetrics(ctx, bot.ID); err != nil {
		return E(KindTransient, "load sync state", err)
	} else if row != nil {
		lastSynced = row.LastSyncedTradeID
		lastKnownMax = row.LastKnownMaxTradeID
	}

	apiMax := 0
	for _, t := range apiTrades {
		if t.TradeID > apiMax {
			apiMax = t.TradeID
		}
	}

	// A max below the high-water mark means the bot's trade database was
	// wiped and IDs restarted. Resync everything in the relevant window.
	if lastKnownMax > 0 && apiMax < lastKnownMax {
		logger.Warn().Int("api_max", apiMax).Int("last_known_max", lastKnownMax).
			Msg("trade ID reset detected, resyncing")
		lastSynced = 0
		metrics.TradeResets.Inc()
	}

	cutoff := time.Now().Add(-tradeRelevanceWindow)
	dbTrades, err := m.store.ListRelevantTrades(ctx, bot.ID, cutoff)
	if err != nil {
		return E(KindTransient, "load local trades", err)
	}

	existing := make(map[tradeKey]bool, len(dbTrades))
	existingOpen := make(map[tradeKey]bool)
	for _, t := range dbTrades {
		key := tradeKey{t.FreqtradeTradeID, t.OpenDate.Unix()}
		existing[key] = true
		if t.IsOpen {
			existingOpen[key] = true
		}
	}

	var toSync []*types.Trade
	var opened, closed []alert.TradeInfo

	for i := range apiTrades {
		t := &apiTrades[i]
		key := tradeKey{t.TradeID, t.OpenDate().Unix()}
		missing := !existing[key]

		rec, err := convertTrade(bot.ID, t)
		if err != nil {
			logger.Warn().Err(err).Int("trade_id", t.TradeID).Msg("skipping unconvertible trade")
			continue
		}

		// Sync what is past the watermark, still open (open trades mutate in
		// place), or absent locally (gaps and recreated bots)
		if t.TradeID > lastSynced || t.IsOpen || missing {
			toSync = append(toSync, rec)
		}

		if missing {
			opened = append(opened, tradeInfo(rec))
			if !t.IsOpen {
				// Opened and closed between passes: both alerts fire
				closed = append(closed, tradeInfo(rec))
			}
		} else if !t.IsOpen && existingOpen[key] {
			closed = append(closed, tradeInfo(rec))
		}
	}

	if len(toSync) == 0 {
		return nil
	}

	if err := m.store.UpsertTrades(ctx, toSync); err != nil {
		return E(KindTransient, "upsert trades", err)
	}
	metrics.TradesSynced.Add(float64(len(toSync)))

	m.publishTradeEvents(ctx, bot, toSync)

	if len(opened) > 0 {
		m.alerts.HandleTradesOpened(ctx, bot, bot.OwnerID, opened)
	}
	if len(closed) > 0 {
		m.alerts.HandleTradesClosed(ctx, bot, bot.OwnerID, closed)
	}

	// The watermark follows the API; the high-water mark only ever grows so
	// a second wipe after a reset is still detectable
	if apiMax > lastKnownMax {
		lastKnownMax = apiMax
	}
	if err := m.store.UpdateTradeSyncState(ctx, bot.ID, apiMax, lastKnownMax, time.Now()); err != nil {
		return E(KindTransient, "update sync state", err)
	}

	logger.Debug().Int("synced", len(toSync)).Int("opened", len(opened)).
		Int("closed", len(closed)).Msg("trades synced")
	return nil
}

// publishTradeEvents delivers one event per synced trade on the bot topic
// and the owner topic. Delivery is best effort.
func (m *BotMonitor) publishTradeEvents(ctx context.Context, bot *types.Bot, trades []*types.Trade) {
	if m.events == nil {
		return
	}
	for _, t := range trades {
		eventType := events.EventTradeClosed
		if t.IsOpen {
			eventType = events.EventTradeOpened
		}
		ev := tradeEvent(eventType, bot.ID, t)
		for _, topic := range []string{events.TradeTopic(bot.ID.String()), events.TradeOwnerTopic(bot.OwnerID)} {
			if err := m.events.Publish(ctx, topic, ev); err != nil {
				log.WithBotID(bot.ID.String()).Warn().Err(err).Str("topic", topic).
					Msg("trade event publish failed")
			}
		}
	}
}

// convertTrade maps an API trade onto the stored record, keeping the raw
// payload for fields the typed columns don't carry
func convertTrade(botID uuid.UUID, t *freqtrade.Trade) (*types.Trade, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	rec := &types.Trade{
		BotID:            botID,
		FreqtradeTradeID: t.TradeID,
		Pair:             t.Pair,
		IsOpen:           t.IsOpen,
		OpenDate:         t.OpenDate(),
		OpenRate:         t.OpenRate,
		CloseRate:        t.CloseRate,
		Amount:           t.Amount,
		StakeAmount:      t.StakeAmount,
		StrategyName:     t.Strategy,
		Timeframe:        freqtrade.FormatTimeframe(t.Timeframe),
		SellReason:       t.ExitReason,
		IsShort:          t.IsShort,
		RawData:          raw,
	}
	if t.CloseTimestamp != nil {
		closed := time.Unix(*t.CloseTimestamp/1000, 0)
		rec.CloseDate = &closed
	}
	if t.ProfitAbs != nil {
		rec.ProfitAbs = *t.ProfitAbs
	}
	if t.ProfitRatio != nil {
		rec.ProfitRatio = *t.ProfitRatio
	}
	return rec, nil
}

func tradeInfo(t *types.Trade) alert.TradeInfo {
	info := alert.TradeInfo{
		TradeID:   t.FreqtradeTradeID,
		Pair:      t.Pair,
		IsShort:   t.IsShort,
		OpenRate:  t.OpenRate,
		CloseRate: t.CloseRate,
		ProfitAbs: t.ProfitAbs,
		ProfitPct: t.ProfitRatio * 100,
		OpenDate:  t.OpenDate,
		CloseDate: t.CloseDate,
	}
	if t.SellReason != nil {
		info.ExitReason = *t.SellReason
	}
	return info
}

func tradeEvent(eventType events.EventType, botID uuid.UUID, t *types.Trade) events.TradeEvent {
	side := "long"
	if t.IsShort {
		side = "short"
	}
	status := "closed"
	if t.IsOpen {
		status = "open"
	}
	return events.TradeEvent{
		Type:      eventType,
		TradeID:   t.FreqtradeTradeID,
		BotID:     botID.String(),
		Pair:      t.Pair,
		Side:      side,
		Status:    status,
		ProfitPct: t.ProfitRatio * 100,
		Timestamp: time.Now(),
	}
}

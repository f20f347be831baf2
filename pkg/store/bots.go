package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const botColumns = `id, name, owner_id, mode, status, secure_config, runner_id, last_seen_at, error_message`

// CreateBot inserts a bot record. Bots are normally created by the
// provisioning collaborator; the monitor only needs this for tests and
// tooling.
func (s *Store) CreateBot(ctx context.Context, b *types.Bot) error {
	secureConfig, err := json.Marshal(b.SecureConfig)
	if err != nil {
		return fmt.Errorf("failed to encode secure config: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO bots (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.OwnerID, string(b.Mode), string(b.Status),
		string(secureConfig), b.RunnerID.String(), nullTimeArg(b.LastSeenAt), b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert bot: %w", err)
	}
	return nil
}

// GetBot loads one bot by ID, or nil when absent
func (s *Store) GetBot(ctx context.Context, id uuid.UUID) (*types.Bot, error) {
	row := s.queryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id.String())
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// ListActiveBots returns every bot that is not in a terminal lifecycle state.
// Stopped and errored bots stay in the set so recovery is observed.
func (s *Store) ListActiveBots(ctx context.Context) ([]*types.Bot, error) {
	rows, err := s.query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []*types.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpdateBotStatus persists an observed status transition
func (s *Store) UpdateBotStatus(ctx context.Context, id uuid.UUID, status types.BotStatus, lastSeenAt *time.Time, errorMessage string) error {
	_, err := s.exec(ctx, `UPDATE bots SET status = ?, last_seen_at = ?, error_message = ? WHERE id = ?`,
		string(status), nullTimeArg(lastSeenAt), errorMessage, id.String())
	if err != nil {
		return fmt.Errorf("failed to update bot status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*types.Bot, error) {
	var (
		b            types.Bot
		id, runnerID string
		mode, status string
		secureConfig string
		lastSeenAt   sql.NullInt64
	)
	err := row.Scan(&id, &b.Name, &b.OwnerID, &mode, &status, &secureConfig, &runnerID, &lastSeenAt, &b.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid bot id %q: %w", id, err)
	}
	if b.RunnerID, err = uuid.Parse(runnerID); err != nil {
		return nil, fmt.Errorf("invalid runner id %q: %w", runnerID, err)
	}
	b.Mode = types.BotMode(mode)
	b.Status = types.BotStatus(status)
	b.LastSeenAt = nullTimeVal(lastSeenAt)
	if err := json.Unmarshal([]byte(secureConfig), &b.SecureConfig); err != nil {
		return nil, fmt.Errorf("invalid secure config for bot %s: %w", id, err)
	}
	return &b, nil
}

// GetBotMetrics loads a bot's metrics row, or nil when none exists yet
func (s *Store) GetBotMetrics(ctx context.Context, botID uuid.UUID) (*types.BotMetrics, error) {
	row := s.queryRow(ctx, `SELECT bot_id, profit_closed_coin, profit_closed_percent,
		profit_all_coin, profit_all_percent, trade_count, closed_trade_count,
		open_trade_count, winning_trades, losing_trades, winrate, expectancy,
		profit_factor, max_drawdown, max_drawdown_abs, best_pair, best_rate,
		first_trade_at, latest_trade_at, fetched_at,
		last_synced_trade_id, last_known_max_trade_id, last_trade_sync_at
		FROM bot_metrics WHERE bot_id = ?`, botID.String())

	var (
		m                                     types.BotMetrics
		id                                    string
		firstTrade, latestTrade, fetched, syncedAt sql.NullInt64
	)
	err := row.Scan(&id, &m.ProfitClosedCoin, &m.ProfitClosedPercent,
		&m.ProfitAllCoin, &m.ProfitAllPercent, &m.TradeCount, &m.ClosedTradeCount,
		&m.OpenTradeCount, &m.WinningTrades, &m.LosingTrades, &m.Winrate, &m.Expectancy,
		&m.ProfitFactor, &m.MaxDrawdown, &m.MaxDrawdownAbs, &m.BestPair, &m.BestRate,
		&firstTrade, &latestTrade, &fetched,
		&m.LastSyncedTradeID, &m.LastKnownMaxTradeID, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot metrics: %w", err)
	}
	if m.BotID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid bot id %q: %w", id, err)
	}
	m.FirstTradeAt = nullTimeVal(firstTrade)
	m.LatestTradeAt = nullTimeVal(latestTrade)
	m.FetchedAt = nullTimeVal(fetched)
	m.LastTradeSyncAt = nullTimeVal(syncedAt)
	return &m, nil
}

// UpsertBotMetrics writes the performance scalars for a bot. Trade sync
// state lives in the same row but is owned by UpdateTradeSyncState, so a
// conflicting update leaves those columns untouched.
func (s *Store) UpsertBotMetrics(ctx context.Context, m *types.BotMetrics) error {
	_, err := s.exec(ctx, `INSERT INTO bot_metrics (bot_id, profit_closed_coin,
		profit_closed_percent, profit_all_coin, profit_all_percent, trade_count,
		closed_trade_count, open_trade_count, winning_trades, losing_trades,
		winrate, expectancy, profit_factor, max_drawdown, max_drawdown_abs,
		best_pair, best_rate, first_trade_at, latest_trade_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id) DO UPDATE SET
			profit_closed_coin = excluded.profit_closed_coin,
			profit_closed_percent = excluded.profit_closed_percent,
			profit_all_coin = excluded.profit_all_coin,
			profit_all_percent = excluded.profit_all_percent,
			trade_count = excluded.trade_count,
			closed_trade_count = excluded.closed_trade_count,
			open_trade_count = excluded.open_trade_count,
			winning_trades = excluded.winning_trades,
			losing_trades = excluded.losing_trades,
			winrate = excluded.winrate,
			expectancy = excluded.expectancy,
			profit_factor = excluded.profit_factor,
			max_drawdown = excluded.max_drawdown,
			max_drawdown_abs = excluded.max_drawdown_abs,
			best_pair = excluded.best_pair,
			best_rate = excluded.best_rate,
			first_trade_at = excluded.first_trade_at,
			latest_trade_at = excluded.latest_trade_at,
			fetched_at = excluded.fetched_at`,
		m.BotID.String(), m.ProfitClosedCoin, m.ProfitClosedPercent,
		m.ProfitAllCoin, m.ProfitAllPercent, m.TradeCount, m.ClosedTradeCount,
		m.OpenTradeCount, m.WinningTrades, m.LosingTrades, m.Winrate, m.Expectancy,
		m.ProfitFactor, m.MaxDrawdown, m.MaxDrawdownAbs, m.BestPair, m.BestRate,
		nullTimeArg(m.FirstTradeAt), nullTimeArg(m.LatestTradeAt), nullTimeArg(m.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert bot metrics: %w", err)
	}
	return nil
}

// UpdateTradeSyncState records the trade sync watermark after a sync pass
func (s *Store) UpdateTradeSyncState(ctx context.Context, botID uuid.UUID, lastSyncedTradeID, lastKnownMaxTradeID int, syncedAt time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO bot_metrics (bot_id, last_synced_trade_id,
		last_known_max_trade_id, last_trade_sync_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bot_id) DO UPDATE SET
			last_synced_trade_id = excluded.last_synced_trade_id,
			last_known_max_trade_id = excluded.last_known_max_trade_id,
			last_trade_sync_at = excluded.last_trade_sync_at`,
		botID.String(), lastSyncedTradeID, lastKnownMaxTradeID, timeArg(syncedAt))
	if err != nil {
		return fmt.Errorf("failed to update trade sync state: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"database/sql"

	"github.com/google/uuid"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const tradeColumns = `bot_id, freqtrade_trade_id, pair, is_open, open_date,
	close_date, open_rate, close_rate, amount, stake_amount, profit_abs,
	profit_ratio, strategy_name, timeframe, sell_reason, is_short, raw_data`

// ListRelevantTrades loads the subset of a bot's trades a sync pass needs to
// diff against: every open trade plus any trade opened at or after cutoff.
// Older closed trades never change upstream, so loading them is wasted work.
func (s *Store) ListRelevantTrades(ctx context.Context, botID uuid.UUID, cutoff time.Time) ([]*types.Trade, error) {
	rows, err := s.query(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE bot_id = ? AND (is_open = 1 OR open_date >= ?)
		ORDER BY freqtrade_trade_id`, botID.String(), timeArg(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListTrades loads every stored trade for a bot, oldest first
func (s *Store) ListTrades(ctx context.Context, botID uuid.UUID) ([]*types.Trade, error) {
	rows, err := s.query(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE bot_id = ? ORDER BY open_date, freqtrade_trade_id`, botID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// UpsertTrades writes a batch of trades inside one transaction. The conflict
// target is the composite key, so a trade-ID replay after an upstream reset
// creates a new row instead of clobbering the earlier epoch.
func (s *Store) UpsertTrades(ctx context.Context, trades []*types.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, freqtrade_trade_id, open_date) DO UPDATE SET
			pair = excluded.pair,
			is_open = excluded.is_open,
			close_date = excluded.close_date,
			open_rate = excluded.open_rate,
			close_rate = excluded.close_rate,
			amount = excluded.amount,
			stake_amount = excluded.stake_amount,
			profit_abs = excluded.profit_abs,
			profit_ratio = excluded.profit_ratio,
			strategy_name = excluded.strategy_name,
			timeframe = excluded.timeframe,
			sell_reason = excluded.sell_reason,
			is_short = excluded.is_short,
			raw_data = excluded.raw_data`))
	if err != nil {
		return fmt.Errorf("failed to prepare trade upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		raw := string(t.RawData)
		if raw == "" {
			raw = "{}"
		}
		var sellReason interface{}
		if t.SellReason != nil {
			sellReason = *t.SellReason
		}
		var closeRate interface{}
		if t.CloseRate != nil {
			closeRate = *t.CloseRate
		}
		_, err := stmt.ExecContext(ctx,
			t.BotID.String(), t.FreqtradeTradeID, t.Pair, boolArg(t.IsOpen), timeArg(t.OpenDate),
			nullTimeArg(t.CloseDate), t.OpenRate, closeRate, t.Amount, t.StakeAmount,
			t.ProfitAbs, t.ProfitRatio, t.StrategyName, t.Timeframe, sellReason,
			boolArg(t.IsShort), raw)
		if err != nil {
			return fmt.Errorf("failed to upsert trade %d: %w", t.FreqtradeTradeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade upsert: %w", err)
	}
	return nil
}

func collectTrades(rows *sql.Rows) ([]*types.Trade, error) {
	var trades []*types.Trade
	for rows.Next() {
		var (
			t                     types.Trade
			botID                 string
			isOpen, isShort       int
			openDate              int64
			closeDate             sql.NullInt64
			closeRate             sql.NullFloat64
			sellReason            sql.NullString
			raw                   string
		)
		err := rows.Scan(&botID, &t.FreqtradeTradeID, &t.Pair, &isOpen, &openDate,
			&closeDate, &t.OpenRate, &closeRate, &t.Amount, &t.StakeAmount,
			&t.ProfitAbs, &t.ProfitRatio, &t.StrategyName, &t.Timeframe, &sellReason,
			&isShort, &raw)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.BotID, err = uuid.Parse(botID); err != nil {
			return nil, fmt.Errorf("invalid bot id %q: %w", botID, err)
		}
		t.IsOpen = isOpen != 0
		t.IsShort = isShort != 0
		t.OpenDate = timeVal(openDate)
		t.CloseDate = nullTimeVal(closeDate)
		if closeRate.Valid {
			v := closeRate.Float64
			t.CloseRate = &v
		}
		if sellReason.Valid {
			v := sellReason.String
			t.SellReason = &v
		}
		t.RawData = []byte(raw)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

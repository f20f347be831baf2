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

const backtestColumns = `id, owner_id, strategy_id, runner_id, status,
	container_id, result, summary, logs, completed_at, error_message`

// CreateBacktest inserts a backtest record
func (s *Store) CreateBacktest(ctx context.Context, b *types.Backtest) error {
	var result interface{}
	if b.Result != nil {
		result = string(b.Result)
	}
	var summary interface{}
	if b.Summary != nil {
		data, err := json.Marshal(b.Summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		summary = string(data)
	}
	_, err := s.exec(ctx, `INSERT INTO backtests (`+backtestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.OwnerID, b.StrategyID.String(), b.RunnerID.String(),
		string(b.Status), b.ContainerID, result, summary, b.Logs,
		nullTimeArg(b.CompletedAt), b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert backtest: %w", err)
	}
	return nil
}

// GetBacktest loads one backtest, or nil when absent
func (s *Store) GetBacktest(ctx context.Context, id uuid.UUID) (*types.Backtest, error) {
	row := s.queryRow(ctx, `SELECT `+backtestColumns+` FROM backtests WHERE id = ?`, id.String())
	b, err := scanBacktest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// ListRunningBacktests returns every backtest still in the running state
func (s *Store) ListRunningBacktests(ctx context.Context) ([]*types.Backtest, error) {
	rows, err := s.query(ctx, `SELECT `+backtestColumns+` FROM backtests
		WHERE status = ? ORDER BY id`, string(types.BacktestStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list running backtests: %w", err)
	}
	defer rows.Close()

	var backtests []*types.Backtest
	for rows.Next() {
		b, err := scanBacktest(rows)
		if err != nil {
			return nil, err
		}
		backtests = append(backtests, b)
	}
	return backtests, rows.Err()
}

// CompleteBacktest moves a running backtest to completed with its result.
// The status guard makes terminal states sticky: a second completion or a
// late failure report against a finished backtest is a no-op.
func (s *Store) CompleteBacktest(ctx context.Context, id uuid.UUID, result json.RawMessage, summary *types.BacktestSummary, logs string, completedAt time.Time) error {
	var summaryArg interface{}
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		summaryArg = string(data)
	}
	_, err := s.exec(ctx, `UPDATE backtests SET status = ?, result = ?, summary = ?,
		logs = ?, completed_at = ?, error_message = ''
		WHERE id = ? AND status = ?`,
		string(types.BacktestStatusCompleted), string(result), summaryArg,
		logs, timeArg(completedAt), id.String(), string(types.BacktestStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to complete backtest: %w", err)
	}
	return nil
}

// FailBacktest moves a running backtest to failed, keeping any logs captured
func (s *Store) FailBacktest(ctx context.Context, id uuid.UUID, errorMessage, logs string, completedAt time.Time) error {
	_, err := s.exec(ctx, `UPDATE backtests SET status = ?, error_message = ?,
		logs = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.BacktestStatusFailed), errorMessage, logs,
		timeArg(completedAt), id.String(), string(types.BacktestStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to fail backtest: %w", err)
	}
	return nil
}

func scanBacktest(row rowScanner) (*types.Backtest, error) {
	var (
		b                          types.Backtest
		id, strategyID, runnerID   string
		status                     string
		result, summary            sql.NullString
		completedAt                sql.NullInt64
	)
	err := row.Scan(&id, &b.OwnerID, &strategyID, &runnerID, &status,
		&b.ContainerID, &result, &summary, &b.Logs, &completedAt, &b.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid backtest id %q: %w", id, err)
	}
	if b.StrategyID, err = uuid.Parse(strategyID); err != nil {
		return nil, fmt.Errorf("invalid strategy id %q: %w", strategyID, err)
	}
	if b.RunnerID, err = uuid.Parse(runnerID); err != nil {
		return nil, fmt.Errorf("invalid runner id %q: %w", runnerID, err)
	}
	b.Status = types.BacktestStatus(status)
	if result.Valid {
		b.Result = []byte(result.String)
	}
	if summary.Valid {
		var sum types.BacktestSummary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return nil, fmt.Errorf("invalid summary for backtest %s: %w", id, err)
		}
		b.Summary = &sum
	}
	b.CompletedAt = nullTimeVal(completedAt)
	return &b, nil
}

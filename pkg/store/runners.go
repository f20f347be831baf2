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

const runnerColumns = `id, name, owner_id, type, config, billing_enabled,
	data_download_config, data_download_status, data_download_started_at,
	data_download_progress, data_is_ready, data_last_updated,
	data_error_message, data_object_key`

// CreateRunner inserts a runner record
func (s *Store) CreateRunner(ctx context.Context, r *types.BotRunner) error {
	config, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("failed to encode runner config: %w", err)
	}
	downloadConfig, err := json.Marshal(r.DataDownloadConfig)
	if err != nil {
		return fmt.Errorf("failed to encode download config: %w", err)
	}
	var progress interface{}
	if r.DataDownloadProgress != nil {
		data, err := json.Marshal(r.DataDownloadProgress)
		if err != nil {
			return fmt.Errorf("failed to encode download progress: %w", err)
		}
		progress = string(data)
	}
	status := r.DataDownloadStatus
	if status == "" {
		status = types.DownloadStatusIdle
	}
	_, err = s.exec(ctx, `INSERT INTO bot_runners (`+runnerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Name, r.OwnerID, string(r.Type), string(config),
		boolArg(r.BillingEnabled), string(downloadConfig), string(status),
		nullTimeArg(r.DataDownloadStartedAt), progress, boolArg(r.DataIsReady),
		nullTimeArg(r.DataLastUpdated), r.DataErrorMessage, r.DataObjectKey)
	if err != nil {
		return fmt.Errorf("failed to insert runner: %w", err)
	}
	return nil
}

// GetRunner loads one runner, or nil when absent
func (s *Store) GetRunner(ctx context.Context, id uuid.UUID) (*types.BotRunner, error) {
	row := s.queryRow(ctx, `SELECT `+runnerColumns+` FROM bot_runners WHERE id = ?`, id.String())
	r, err := scanRunner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRunners returns every runner
func (s *Store) ListRunners(ctx context.Context) ([]*types.BotRunner, error) {
	rows, err := s.query(ctx, `SELECT `+runnerColumns+` FROM bot_runners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	defer rows.Close()

	var runners []*types.BotRunner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

// BeginRunnerDownload marks a runner's download as started, guarded so two
// monitor instances cannot both launch one. It returns true when this caller
// won the transition.
func (s *Store) BeginRunnerDownload(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE bot_runners SET data_download_status = ?,
		data_download_started_at = ?, data_download_progress = NULL,
		data_error_message = ''
		WHERE id = ? AND data_download_status != ?`,
		string(types.DownloadStatusDownloading), timeArg(startedAt),
		id.String(), string(types.DownloadStatusDownloading))
	if err != nil {
		return false, fmt.Errorf("failed to begin download: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRunnerDownloadProgress persists in-flight download progress
func (s *Store) SetRunnerDownloadProgress(ctx context.Context, id uuid.UUID, progress *types.DownloadProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode download progress: %w", err)
	}
	_, err = s.exec(ctx, `UPDATE bot_runners SET data_download_progress = ?
		WHERE id = ?`, string(data), id.String())
	if err != nil {
		return fmt.Errorf("failed to update download progress: %w", err)
	}
	return nil
}

// CompleteRunnerDownload marks the dataset ready and records the archive key
func (s *Store) CompleteRunnerDownload(ctx context.Context, id uuid.UUID, objectKey string, completedAt time.Time) error {
	_, err := s.exec(ctx, `UPDATE bot_runners SET data_download_status = ?,
		data_is_ready = 1, data_last_updated = ?, data_object_key = ?,
		data_download_progress = NULL, data_error_message = ''
		WHERE id = ?`,
		string(types.DownloadStatusCompleted), timeArg(completedAt),
		objectKey, id.String())
	if err != nil {
		return fmt.Errorf("failed to complete download: %w", err)
	}
	return nil
}

// FailRunnerDownload records a failed download. data_is_ready is left as-is:
// a runner with a previously completed dataset keeps serving it.
func (s *Store) FailRunnerDownload(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := s.exec(ctx, `UPDATE bot_runners SET data_download_status = ?,
		data_error_message = ?, data_download_progress = NULL
		WHERE id = ?`,
		string(types.DownloadStatusFailed), errorMessage, id.String())
	if err != nil {
		return fmt.Errorf("failed to record download failure: %w", err)
	}
	return nil
}

func scanRunner(row rowScanner) (*types.BotRunner, error) {
	var (
		r                        types.BotRunner
		id, runnerType           string
		config, downloadConfig   string
		downloadStatus           string
		billingEnabled, isReady  int
		startedAt, lastUpdated   sql.NullInt64
		progress                 sql.NullString
	)
	err := row.Scan(&id, &r.Name, &r.OwnerID, &runnerType, &config, &billingEnabled,
		&downloadConfig, &downloadStatus, &startedAt, &progress, &isReady,
		&lastUpdated, &r.DataErrorMessage, &r.DataObjectKey)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid runner id %q: %w", id, err)
	}
	r.Type = types.RunnerType(runnerType)
	r.BillingEnabled = billingEnabled != 0
	r.DataIsReady = isReady != 0
	r.DataDownloadStatus = types.DownloadStatus(downloadStatus)
	r.DataDownloadStartedAt = nullTimeVal(startedAt)
	r.DataLastUpdated = nullTimeVal(lastUpdated)
	if err := json.Unmarshal([]byte(config), &r.Config); err != nil {
		return nil, fmt.Errorf("invalid config for runner %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(downloadConfig), &r.DataDownloadConfig); err != nil {
		return nil, fmt.Errorf("invalid download config for runner %s: %w", id, err)
	}
	if progress.Valid {
		var p types.DownloadProgress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("invalid download progress for runner %s: %w", id, err)
		}
		r.DataDownloadProgress = &p
	}
	return &r, nil
}

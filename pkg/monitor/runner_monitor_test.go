package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

func downloadConfig() map[string]interface{} {
	return map[string]interface{}{
		"exchanges": []interface{}{
			map[string]interface{}{
				"name":       "binance",
				"enabled":    true,
				"pairs":      []interface{}{"BTC/USDT", "ETH/USDT"},
				"timeframes": []interface{}{"5m"},
			},
		},
	}
}

func seedDownloadRunner(t *testing.T, s *store.Store, status types.DownloadStatus) *types.BotRunner {
	t.Helper()
	runner := &types.BotRunner{
		ID:                 uuid.New(),
		Name:               "runner-dl",
		OwnerID:            "owner-1",
		Type:               types.RunnerTypeDocker,
		Config:             map[string]interface{}{},
		DataDownloadConfig: downloadConfig(),
		DataDownloadStatus: status,
	}
	require.NoError(t, s.CreateRunner(context.Background(), runner))
	return runner
}

// downloadingRuntime writes a data file so the packing phase has content
func downloadingRuntime() *runtime.Mock {
	return &runtime.Mock{
		DownloadExchangeDataFunc: func(_ context.Context, spec types.ExchangeDownload, destDir string, progress func(int, string)) error {
			for i, pair := range spec.Pairs {
				progress(i+1, pair)
			}
			return os.WriteFile(filepath.Join(destDir, spec.Exchange+".json"), []byte(`{}`), 0o600)
		},
	}
}

type recordingUploader struct {
	keys []string
}

func (u *recordingUploader) Upload(_ context.Context, key, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	return nil
}

func newRunnerMonitor(s *store.Store, d *Downloader, retryFailed bool) *RunnerMonitor {
	return NewRunnerMonitor(s, coordinator.NewSingleInstance("test"), d,
		time.Minute, 12*time.Hour, 24*time.Hour, retryFailed)
}

func TestRunnerDownloadEndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusIdle)

	uploader := &recordingUploader{}
	broker := events.NewBroker()
	sub := broker.Subscribe(events.RunnerTopic(runner.ID.String()))

	d := NewDownloader(s, &mockFactory{rt: downloadingRuntime()}, uploader, broker, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)
	d.Wait()

	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusCompleted, got.DataDownloadStatus)
	assert.True(t, got.DataIsReady)
	assert.NotNil(t, got.DataLastUpdated)
	require.Len(t, uploader.keys, 1)
	assert.Equal(t, uploader.keys[0], got.DataObjectKey)

	// downloading then completed
	require.GreaterOrEqual(t, len(sub), 2)
	first := (<-sub).Payload.(events.RunnerEvent)
	assert.Equal(t, string(types.DownloadStatusDownloading), first.Status)
}

func TestRunnerDownloadFailureKeepsPreviousDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runner := &types.BotRunner{
		ID:                 uuid.New(),
		Name:               "runner-dl",
		OwnerID:            "owner-1",
		Type:               types.RunnerTypeDocker,
		Config:             map[string]interface{}{},
		DataDownloadConfig: downloadConfig(),
		DataDownloadStatus: types.DownloadStatusCompleted,
		DataIsReady:        true,
		DataObjectKey:      "datasets/old.tar.gz",
	}
	require.NoError(t, s.CreateRunner(ctx, runner))
	// Stale enough to trigger a refresh
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.CompleteRunnerDownload(ctx, runner.ID, "datasets/old.tar.gz", stale))

	rt := &runtime.Mock{
		DownloadExchangeDataFunc: func(context.Context, types.ExchangeDownload, string, func(int, string)) error {
			return assert.AnError
		},
	}
	d := NewDownloader(s, &mockFactory{rt: rt}, &recordingUploader{}, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)
	d.Wait()

	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusFailed, got.DataDownloadStatus)
	assert.NotEmpty(t, got.DataErrorMessage)
	// The previous dataset keeps serving
	assert.True(t, got.DataIsReady)
	assert.Equal(t, "datasets/old.tar.gz", got.DataObjectKey)
}

func TestRunnerFailedDownloadNotRetriedByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusFailed)

	factory := &mockFactory{rt: downloadingRuntime()}
	d := NewDownloader(s, factory, &recordingUploader{}, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)
	d.Wait()

	assert.Equal(t, 0, factory.created)
	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusFailed, got.DataDownloadStatus)
}

func TestRunnerFailedDownloadRetriedWhenEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusFailed)

	d := NewDownloader(s, &mockFactory{rt: downloadingRuntime()}, &recordingUploader{}, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, true)

	m.checkAll(ctx)
	d.Wait()

	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusCompleted, got.DataDownloadStatus)
}

func TestRunnerStuckDetectionHardTimeout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusIdle)

	// Claim the download, then backdate the start past the hard limit
	won, err := s.BeginRunnerDownload(ctx, runner.ID, time.Now().Add(-13*time.Hour))
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, s.SetRunnerDownloadProgress(ctx, runner.ID, &types.DownloadProgress{PairsCompleted: 1, PairsTotal: 2}))

	d := NewDownloader(s, &mockFactory{rt: downloadingRuntime()}, nil, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)

	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusFailed, got.DataDownloadStatus)
	assert.Contains(t, got.DataErrorMessage, "time limit")
}

func TestRunnerStuckDetectionNoProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusIdle)

	won, err := s.BeginRunnerDownload(ctx, runner.ID, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, won)

	d := NewDownloader(s, &mockFactory{rt: downloadingRuntime()}, nil, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)

	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusFailed, got.DataDownloadStatus)
	assert.Contains(t, got.DataErrorMessage, "no progress")
}

func TestRunnerInFlightDownloadLeftAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedDownloadRunner(t, s, types.DownloadStatusIdle)

	won, err := s.BeginRunnerDownload(ctx, runner.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, s.SetRunnerDownloadProgress(ctx, runner.ID, &types.DownloadProgress{PairsCompleted: 1, PairsTotal: 2}))

	factory := &mockFactory{rt: downloadingRuntime()}
	d := NewDownloader(s, factory, nil, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)

	assert.Equal(t, 0, factory.created)
	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusDownloading, got.DataDownloadStatus)
}

func TestRunnerWithoutConfigIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := seedRunner(t, s, false)

	factory := &mockFactory{rt: downloadingRuntime()}
	d := NewDownloader(s, factory, nil, nil, time.Minute, t.TempDir())
	m := newRunnerMonitor(s, d, false)

	m.checkAll(ctx)

	assert.Equal(t, 0, factory.created)
	got, err := s.GetRunner(ctx, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadStatusIdle, got.DataDownloadStatus)
}

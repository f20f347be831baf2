package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/fleetwatch/pkg/archive"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// ObjectUploader pushes a packed dataset archive to durable storage.
// objstore.Store is the production implementation.
type ObjectUploader interface {
	Upload(ctx context.Context, key, path string) error
}

// Progress milestones. Exchange downloads map onto 0-50; the packing and
// upload phases land on fixed marks so the UI can distinguish them.
const (
	progressDownloadSpan = 50.0
	progressPacked       = 60.0
	progressUploaded     = 80.0
)

// Downloader executes dataset downloads as background tasks. Each task is
// bounded by the configured timeout and writes its terminal state through
// the store's guarded download updates.
type Downloader struct {
	store    *store.Store
	factory  RuntimeFactory
	uploader ObjectUploader
	events   events.Publisher
	timeout  time.Duration
	dataDir  string

	wg sync.WaitGroup
}

// NewDownloader creates the download orchestrator. uploader may be nil, in
// which case packed archives stay on local disk and no object key is
// recorded.
func NewDownloader(s *store.Store, factory RuntimeFactory, uploader ObjectUploader, publisher events.Publisher, timeout time.Duration, dataDir string) *Downloader {
	return &Downloader{
		store:    s,
		factory:  factory,
		uploader: uploader,
		events:   publisher,
		timeout:  timeout,
		dataDir:  dataDir,
	}
}

// Launch starts the download task for a runner whose downloading state has
// already been claimed through the store
func (d *Downloader) Launch(ctx context.Context, runner *types.BotRunner) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, runner)
	}()
}

// Wait blocks until all in-flight download tasks finish
func (d *Downloader) Wait() {
	d.wg.Wait()
}

func (d *Downloader) run(ctx context.Context, runner *types.BotRunner) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logger := log.WithRunnerID(runner.ID.String())
	metrics.DownloadsStarted.Inc()
	d.publishEvent(ctx, runner, string(types.DownloadStatusDownloading), "")

	objectKey, err := d.execute(ctx, runner, logger)
	if err != nil {
		metrics.DownloadsFailed.Inc()
		logger.Error().Err(err).Msg("dataset download failed")
		if storeErr := d.store.FailRunnerDownload(context.WithoutCancel(ctx), runner.ID, err.Error()); storeErr != nil {
			logger.Error().Err(storeErr).Msg("failed to persist download failure")
		}
		d.publishEvent(context.WithoutCancel(ctx), runner, string(types.DownloadStatusFailed), err.Error())
		return
	}

	if err := d.store.CompleteRunnerDownload(ctx, runner.ID, objectKey, time.Now()); err != nil {
		logger.Error().Err(err).Msg("failed to persist download completion")
		return
	}
	logger.Info().Str("object_key", objectKey).Msg("dataset download completed")
	d.publishEvent(ctx, runner, string(types.DownloadStatusCompleted), "")
}

// execute runs the phases: per-exchange downloads, archive packing, then
// the object store upload
func (d *Downloader) execute(ctx context.Context, runner *types.BotRunner, logger *zerolog.Logger) (string, error) {
	cfg, err := runner.DownloadConfig()
	if err != nil {
		return "", E(KindSemantic, "parse download config", err)
	}
	exchanges := cfg.EnabledExchanges()
	if len(exchanges) == 0 {
		return "", E(KindSemantic, "parse download config", fmt.Errorf("no enabled exchanges"))
	}

	rt, err := d.factory.Create(ctx, runner.Type, runner.Config)
	if err != nil {
		return "", E(KindTransient, "connect runtime", err)
	}
	defer rt.Close()

	workDir, err := os.MkdirTemp(d.dataDir, "dataset-"+runner.ID.String()+"-*")
	if err != nil {
		return "", E(KindResourceExhaustion, "create work dir", err)
	}
	defer os.RemoveAll(workDir)

	totalPairs := cfg.TotalPairs()
	pairsDone := 0
	for _, ex := range exchanges {
		exchange := ex
		base := pairsDone
		err := rt.DownloadExchangeData(ctx, exchange, workDir, func(done int, currentPair string) {
			d.reportProgress(ctx, runner, base+done, totalPairs, currentPair)
		})
		if err != nil {
			return "", E(KindTransient, "download "+exchange.Exchange, err)
		}
		pairsDone += len(exchange.Pairs)
		d.reportProgress(ctx, runner, pairsDone, totalPairs, "")
	}

	archivePath := filepath.Join(d.dataDir, fmt.Sprintf("dataset-%s-%d.tar.gz", runner.ID, time.Now().Unix()))
	if err := archive.Pack(workDir, archivePath); err != nil {
		return "", E(KindResourceExhaustion, "pack dataset", err)
	}
	d.setPercent(ctx, runner, totalPairs, progressPacked)

	if d.uploader == nil {
		logger.Debug().Str("path", archivePath).Msg("no object store configured, archive kept locally")
		return "", nil
	}
	defer os.Remove(archivePath)

	objectKey := fmt.Sprintf("datasets/%s/%d.tar.gz", runner.ID, time.Now().Unix())
	if err := d.uploader.Upload(ctx, objectKey, archivePath); err != nil {
		return "", E(KindTransient, "upload dataset", err)
	}
	d.setPercent(ctx, runner, totalPairs, progressUploaded)

	return objectKey, nil
}

// reportProgress records per-pair progress during the download phase.
// Progress writes are advisory; a failure here never fails the download.
func (d *Downloader) reportProgress(ctx context.Context, runner *types.BotRunner, pairsDone, pairsTotal int, currentPair string) {
	percent := 0.0
	if pairsTotal > 0 {
		percent = progressDownloadSpan * float64(pairsDone) / float64(pairsTotal)
	}
	d.writeProgress(ctx, runner, &types.DownloadProgress{
		PairsCompleted:  pairsDone,
		PairsTotal:      pairsTotal,
		CurrentPair:     currentPair,
		PercentComplete: percent,
	})
}

func (d *Downloader) setPercent(ctx context.Context, runner *types.BotRunner, pairsTotal int, percent float64) {
	d.writeProgress(ctx, runner, &types.DownloadProgress{
		PairsCompleted:  pairsTotal,
		PairsTotal:      pairsTotal,
		PercentComplete: percent,
	})
}

func (d *Downloader) writeProgress(ctx context.Context, runner *types.BotRunner, progress *types.DownloadProgress) {
	if err := d.store.SetRunnerDownloadProgress(ctx, runner.ID, progress); err != nil {
		log.WithRunnerID(runner.ID.String()).Warn().Err(err).Msg("progress write failed")
	}
}

// publishEvent emits the download state change on the runner and owner
// topics. Best effort.
func (d *Downloader) publishEvent(ctx context.Context, runner *types.BotRunner, status, errMsg string) {
	if d.events == nil {
		return
	}
	ev := events.RunnerEvent{
		Type:      events.EventRunnerDataDownload,
		RunnerID:  runner.ID.String(),
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	for _, topic := range []string{events.RunnerTopic(runner.ID.String()), events.RunnerOwnerTopic(runner.OwnerID)} {
		if err := d.events.Publish(ctx, topic, ev); err != nil {
			log.WithRunnerID(runner.ID.String()).Warn().Err(err).Str("topic", topic).
				Msg("runner event publish failed")
		}
	}
}

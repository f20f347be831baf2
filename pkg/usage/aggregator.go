package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// alignmentOffset delays each run past the hour boundary so the hour being
// rolled up is complete even with clock skew between instances
const alignmentOffset = 5 * time.Minute

// Deductor is the billing hook invoked once per closed hour with that
// hour's rollups
type Deductor interface {
	DeductUsage(ctx context.Context, rollups []*types.UsageRollup) error
}

// Aggregator periodically folds the raw usage-sample stream into hourly and
// daily rollups and prunes samples past retention. It is strictly serial:
// one run at a time, aligned to wall-clock hours.
type Aggregator struct {
	store     *store.Store
	deductor  Deductor
	interval  time.Duration
	retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAggregator creates the usage aggregator. deductor may be nil.
func NewAggregator(s *store.Store, deductor Deductor, interval, retention time.Duration) *Aggregator {
	return &Aggregator{
		store:     s,
		deductor:  deductor,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the aggregation loop
func (a *Aggregator) Start(ctx context.Context) error {
	go a.loop(ctx)
	return nil
}

// Stop halts the loop and waits for it to exit
func (a *Aggregator) Stop(ctx context.Context) error {
	close(a.stopCh)
	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.doneCh)

	logger := log.WithComponent("usage-aggregator")
	for {
		wait := a.untilNextRun(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-time.After(wait):
		}

		if err := a.RunOnce(ctx, time.Now()); err != nil {
			logger.Error().Err(err).Msg("usage aggregation failed")
		}
	}
}

// untilNextRun computes the delay to the next aligned boundary plus offset.
// With the default hourly interval that is hh:05 every hour.
func (a *Aggregator) untilNextRun(now time.Time) time.Duration {
	next := now.Truncate(a.interval).Add(a.interval).Add(alignmentOffset)
	if sinceLast := now.Sub(now.Truncate(a.interval)); sinceLast < alignmentOffset {
		// The current interval's run has not happened yet
		next = now.Truncate(a.interval).Add(alignmentOffset)
	}
	return next.Sub(now)
}

// RunOnce aggregates the interval that closed most recently before now,
// fires the billing hook, and prunes raw samples past retention
func (a *Aggregator) RunOnce(ctx context.Context, now time.Time) error {
	hourStart := now.Truncate(time.Hour).Add(-time.Hour)
	hourEnd := hourStart.Add(time.Hour)

	if err := a.store.AggregateUsage(ctx, types.GranularityHourly, hourStart, hourEnd); err != nil {
		return fmt.Errorf("hourly aggregation failed: %w", err)
	}

	logger := log.WithComponent("usage-aggregator")
	logger.Debug().Time("bucket_start", hourStart).Msg("hourly rollup written")

	// Hour 23 closing means the whole day is complete
	if hourStart.Hour() == 23 {
		dayStart := time.Date(hourStart.Year(), hourStart.Month(), hourStart.Day(), 0, 0, 0, 0, hourStart.Location())
		if err := a.store.AggregateDaily(ctx, dayStart); err != nil {
			return fmt.Errorf("daily aggregation failed: %w", err)
		}
		logger.Info().Time("day_start", dayStart).Msg("daily rollup written")
	}

	if a.deductor != nil {
		rollups, err := a.store.ListRollups(ctx, types.GranularityHourly, hourStart)
		if err != nil {
			return fmt.Errorf("failed to load rollups for deduction: %w", err)
		}
		if len(rollups) > 0 {
			if err := a.deductor.DeductUsage(ctx, rollups); err != nil {
				// Billing failures must not block retention pruning; the
				// rollups stay queryable for a retried deduction
				logger.Error().Err(err).Time("bucket_start", hourStart).Msg("usage deduction failed")
			}
		}
	}

	pruned, err := a.store.PruneUsageSamples(ctx, now.Add(-a.retention))
	if err != nil {
		return fmt.Errorf("sample pruning failed: %w", err)
	}
	if pruned > 0 {
		metrics.UsageSamplesPruned.Add(float64(pruned))
		logger.Debug().Int64("pruned", pruned).Msg("raw samples pruned")
	}
	return nil
}

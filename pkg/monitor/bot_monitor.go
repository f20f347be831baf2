package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/freqtrade"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

const (
	// botBatchSize bounds concurrent runtime inspections per wave so a large
	// fleet does not stampede the container daemon
	botBatchSize = 10

	// batchDelay is the pause between waves
	batchDelay = 100 * time.Millisecond
)

// RuntimeFactory creates a runtime client for a runner's type and config.
// runtime.Factory is the production implementation; tests supply mocks.
type RuntimeFactory interface {
	Create(ctx context.Context, runnerType types.RunnerType, config map[string]interface{}) (runtime.Runtime, error)
}

// BotMonitor reconciles the observed state of every owned bot: container
// status, performance metrics, trade history, and usage samples, in that
// order per bot per pass.
type BotMonitor struct {
	store    *store.Store
	factory  RuntimeFactory
	assigner coordinator.Assigner
	alerts   alert.Manager
	events   events.Publisher
	interval time.Duration

	// lastStatus backs transition-only logging. Touched only by the monitor
	// goroutine.
	lastStatus map[uuid.UUID]types.BotStatus

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBotMonitor creates the bot reconciler
func NewBotMonitor(s *store.Store, factory RuntimeFactory, assigner coordinator.Assigner, alerts alert.Manager, publisher events.Publisher, interval time.Duration) *BotMonitor {
	return &BotMonitor{
		store:      s,
		factory:    factory,
		assigner:   assigner,
		alerts:     alerts,
		events:     publisher,
		interval:   interval,
		lastStatus: make(map[uuid.UUID]types.BotStatus),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the monitoring loop
func (m *BotMonitor) Start(ctx context.Context) error {
	go m.loop(ctx)
	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish
func (m *BotMonitor) Stop(ctx context.Context) error {
	close(m.stopCh)
	select {
	case <-m.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *BotMonitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	changes := m.assigner.AssignmentChanges()

	// First pass runs immediately so a restart doesn't leave the fleet
	// unobserved for a full interval
	m.checkAllBots(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAllBots(ctx)
		case <-changes:
			// Ownership moved; recheck without waiting for the ticker
			m.checkAllBots(ctx)
		}
	}
}

// checkAllBots runs one reconciliation pass over the owned subset of the
// active fleet
func (m *BotMonitor) checkAllBots(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("bots"))
	metrics.ReconcileCycles.WithLabelValues("bots").Inc()
	metrics.InstancesTotal.Set(float64(len(m.assigner.Instances())))

	logger := log.WithComponent("bot-monitor")

	bots, err := m.store.ListActiveBots(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list bots")
		metrics.ReconcileErrors.WithLabelValues("bots").Inc()
		return
	}

	owned := make([]*types.Bot, 0, len(bots))
	for _, bot := range bots {
		if m.assigner.Owns(bot.ID.String()) {
			owned = append(owned, bot)
		}
	}
	metrics.BotsOwned.Set(float64(len(owned)))

	for i := 0; i < len(owned); i += botBatchSize {
		end := i + botBatchSize
		if end > len(owned) {
			end = len(owned)
		}
		for _, bot := range owned[i:end] {
			if err := m.checkBot(ctx, bot); err != nil {
				logger.Error().Err(err).Str("bot_id", bot.ID.String()).
					Str("kind", KindOf(err).String()).Msg("bot check failed")
				metrics.ReconcileErrors.WithLabelValues("bots").Inc()
			}
		}
		if end < len(owned) {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-time.After(batchDelay):
			}
		}
	}
}

// checkBot reconciles one bot: status first, then metrics, trades, and the
// usage sample. Later stages are skipped when earlier ones show the bot is
// not running.
func (m *BotMonitor) checkBot(ctx context.Context, bot *types.Bot) error {
	runner, err := m.store.GetRunner(ctx, bot.RunnerID)
	if err != nil {
		return E(KindTransient, "load runner", err)
	}
	if runner == nil {
		return E(KindSemantic, "load runner", errors.New("bot references unknown runner"))
	}

	rt, err := m.factory.Create(ctx, runner.Type, runner.Config)
	if err != nil {
		return E(KindTransient, "connect runtime", err)
	}
	defer rt.Close()

	state, err := rt.GetBotStatus(ctx, bot.ID.String())
	if errors.Is(err, runtime.ErrNotFound) {
		// No container means the bot was stopped out of band. Not an error:
		// record the transition and clear any stale error message.
		m.setStatus(ctx, bot, types.BotStatusStopped, bot.LastSeenAt, "")
		return nil
	}
	if err != nil {
		m.setStatus(ctx, bot, types.BotStatusError, bot.LastSeenAt, err.Error())
		return E(KindTransient, "inspect bot", err)
	}

	lastSeen := state.LastSeenAt
	if lastSeen == nil && state.Status == types.BotStatusRunning {
		now := time.Now()
		lastSeen = &now
	}
	m.setStatus(ctx, bot, state.Status, lastSeen, state.ErrorMessage)

	if state.Status == types.BotStatusRunning {
		client, err := m.botClient(ctx, rt, bot)
		if err != nil {
			log.WithBotID(bot.ID.String()).Warn().Err(err).Msg("bot API unreachable")
		} else {
			// Metric failures never block the trade sync
			if err := m.fetchBotMetrics(ctx, bot, client); err != nil {
				log.WithBotID(bot.ID.String()).Warn().Err(err).Msg("metrics fetch failed")
			}
			if err := m.syncTrades(ctx, bot, client); err != nil {
				log.WithBotID(bot.ID.String()).Warn().Err(err).Msg("trade sync failed")
			}
		}
	}

	// Unhealthy containers are still billable
	if runner.BillingEnabled && (state.Status == types.BotStatusRunning || state.Status == types.BotStatusUnhealthy) {
		m.sampleUsage(ctx, bot, runner, state.Stats)
	}
	return nil
}

// setStatus persists the observed status and logs only on transitions, with
// an explicit recovery line when a bot leaves the error state
func (m *BotMonitor) setStatus(ctx context.Context, bot *types.Bot, status types.BotStatus, lastSeenAt *time.Time, errorMessage string) {
	logger := log.WithBotID(bot.ID.String())

	if err := m.store.UpdateBotStatus(ctx, bot.ID, status, lastSeenAt, errorMessage); err != nil {
		logger.Error().Err(err).Msg("failed to persist bot status")
		return
	}

	prev, seen := m.lastStatus[bot.ID]
	if !seen {
		prev = bot.Status
	}
	m.lastStatus[bot.ID] = status

	if prev == status {
		return
	}
	event := logger.Info()
	if status == types.BotStatusError {
		event = logger.Warn().Str("error", errorMessage)
	}
	event.Str("from", string(prev)).Str("to", string(status)).Msg("bot status changed")
	if prev == types.BotStatusError && status == types.BotStatusRunning {
		logger.Info().Msg("bot recovered")
	}
}

// botClient builds a Freqtrade API client using the runtime's transport and
// the bot's stored credentials
func (m *BotMonitor) botClient(ctx context.Context, rt runtime.Runtime, bot *types.Bot) (*freqtrade.Client, error) {
	creds, err := bot.APICredentials()
	if err != nil {
		return nil, E(KindSemantic, "parse credentials", err)
	}
	httpClient, baseURL, err := rt.GetBotHTTPClient(ctx, bot.ID.String())
	if err != nil {
		return nil, E(KindTransient, "resolve bot endpoint", err)
	}
	return freqtrade.NewClient(httpClient, baseURL, creds.Username, creds.Password), nil
}

// fetchBotMetrics pulls the aggregate performance scalars and upserts them.
// The upsert never touches the trade sync watermark.
func (m *BotMonitor) fetchBotMetrics(ctx context.Context, bot *types.Bot, client *freqtrade.Client) error {
	profit, err := client.GetProfit(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	row := &types.BotMetrics{
		BotID:               bot.ID,
		ProfitClosedCoin:    profit.ProfitClosedCoin,
		ProfitClosedPercent: profit.ProfitClosedPercent,
		ProfitAllCoin:       profit.ProfitAllCoin,
		ProfitAllPercent:    profit.ProfitAllPercent,
		TradeCount:          profit.TradeCount,
		ClosedTradeCount:    profit.ClosedTradeCount,
		OpenTradeCount:      profit.TradeCount - profit.ClosedTradeCount,
		WinningTrades:       profit.WinningTrades,
		LosingTrades:        profit.LosingTrades,
		Winrate:             profit.Winrate,
		Expectancy:          profit.Expectancy,
		ProfitFactor:        profit.ProfitFactor,
		MaxDrawdown:         profit.MaxDrawdown,
		MaxDrawdownAbs:      profit.MaxDrawdownAbs,
		BestPair:            profit.BestPair,
		BestRate:            profit.BestRate,
		FetchedAt:           &now,
	}
	if profit.FirstTradeTimestamp > 0 {
		t := time.Unix(profit.FirstTradeTimestamp/1000, 0)
		row.FirstTradeAt = &t
	}
	if profit.LatestTradeTimestamp > 0 {
		t := time.Unix(profit.LatestTradeTimestamp/1000, 0)
		row.LatestTradeAt = &t
	}
	return m.store.UpsertBotMetrics(ctx, row)
}

// sampleUsage appends one point to the usage stream
func (m *BotMonitor) sampleUsage(ctx context.Context, bot *types.Bot, runner *types.BotRunner, stats runtime.ResourceStats) {
	sample := &types.UsageSample{
		ResourceType:    types.ResourceTypeBot,
		ResourceID:      bot.ID,
		OwnerID:         bot.OwnerID,
		RunnerID:        runner.ID,
		CPUPercent:      stats.CPUPercent,
		MemoryBytes:     stats.MemoryBytes,
		NetworkRxBytes:  stats.NetworkRxBytes,
		NetworkTxBytes:  stats.NetworkTxBytes,
		BlockReadBytes:  stats.BlockReadBytes,
		BlockWriteBytes: stats.BlockWriteBytes,
		SampledAt:       time.Now(),
	}
	if err := m.store.InsertUsageSample(ctx, sample); err != nil {
		log.WithBotID(bot.ID.String()).Warn().Err(err).Msg("usage sample insert failed")
		return
	}
	metrics.UsageSamples.Inc()
}

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fleetwatch/fleetwatch/pkg/alert"
	"github.com/fleetwatch/fleetwatch/pkg/config"
	"github.com/fleetwatch/fleetwatch/pkg/coordinator"
	"github.com/fleetwatch/fleetwatch/pkg/events"
	"github.com/fleetwatch/fleetwatch/pkg/log"
	"github.com/fleetwatch/fleetwatch/pkg/metrics"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/usage"
)

// membershipSettleDelay gives the instance watch time to deliver the full
// instance set before the first reconciliation pass, so a fresh instance
// doesn't briefly claim the whole fleet
const membershipSettleDelay = 2 * time.Second

// component is the common lifecycle of everything the manager runs
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options carries the manager's dependencies. Store and Config are
// required; the rest default to production implementations.
type Options struct {
	Config *config.Config
	Store  *store.Store

	// Factory defaults to the Docker-backed runtime factory
	Factory RuntimeFactory

	// Alerts defaults to the logging manager
	Alerts alert.Manager

	// Events defaults to the in-process broker; production deployments pass
	// the redis publisher
	Events events.Publisher

	// Uploader may be nil, disabling dataset archive uploads
	Uploader ObjectUploader

	// Deductor may be nil, disabling billing deductions
	Deductor usage.Deductor
}

// Manager owns the whole monitoring stack: registry, coordinator, the three
// reconcilers, and the usage aggregator. Start brings them up in dependency
// order; Stop tears them down in reverse.
type Manager struct {
	cfg      *config.Config
	registry *coordinator.Registry
	assigner coordinator.Assigner

	components []namedComponent

	// started components in start order
	started []component

	cancel context.CancelFunc
}

// NewManager validates options and applies defaults
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Factory == nil {
		opts.Factory = runtime.NewFactory()
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.NewLogManager()
	}
	if opts.Events == nil {
		opts.Events = events.NewBroker()
	}

	m := &Manager{cfg: opts.Config}
	m.buildComponents(opts)
	return m, nil
}

// opts is consumed at construction; the components hold their own references
func (m *Manager) buildComponents(opts Options) {
	cfg := opts.Config

	downloader := NewDownloader(opts.Store, opts.Factory, opts.Uploader, opts.Events,
		cfg.DataDownloadTimeout, cfg.DataDir)

	m.components = []namedComponent{
		{"bot-monitor", func(assigner coordinator.Assigner) component {
			return NewBotMonitor(opts.Store, opts.Factory, assigner, opts.Alerts, opts.Events, cfg.MonitorInterval)
		}},
		{"backtest-monitor", func(assigner coordinator.Assigner) component {
			return NewBacktestMonitor(opts.Store, opts.Factory, assigner, opts.Alerts, cfg.BacktestInterval)
		}},
		{"runner-monitor", func(assigner coordinator.Assigner) component {
			return NewRunnerMonitor(opts.Store, assigner, downloader, cfg.RunnerMonitorInterval,
				cfg.DataDownloadTimeout, cfg.DataRefreshInterval, cfg.RetryFailedDownloads)
		}},
		{"usage-aggregator", func(coordinator.Assigner) component {
			return usage.NewAggregator(opts.Store, opts.Deductor, cfg.AggregationInterval, cfg.SampleRetention)
		}},
	}
}

// namedComponent defers construction until the assigner exists
type namedComponent struct {
	name  string
	build func(coordinator.Assigner) component
}

// Start brings the stack up: coordination first, then the reconcilers. A
// partial failure rolls back everything already started.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	logger := log.WithComponent("manager")

	if err := m.startCoordination(ctx); err != nil {
		m.cancel()
		metrics.UpdateComponent("registry", false, err.Error())
		return E(KindFatalStartup, "start coordination", err)
	}
	metrics.UpdateComponent("registry", true, "")

	for _, nc := range m.components {
		c := nc.build(m.assigner)
		if err := c.Start(ctx); err != nil {
			logger.Error().Err(err).Str("component", nc.name).Msg("component failed to start")
			m.rollback(ctx)
			return E(KindFatalStartup, "start "+nc.name, err)
		}
		m.started = append(m.started, c)
		logger.Info().Str("component", nc.name).Msg("component started")
	}

	metrics.UpdateComponent("monitor", true, "")
	logger.Info().Bool("distributed", m.cfg.Distributed()).Msg("monitor started")
	return nil
}

// startCoordination picks distributed or single-instance mode based on
// whether etcd endpoints were configured
func (m *Manager) startCoordination(ctx context.Context) error {
	instanceID := m.cfg.InstanceID
	if instanceID == "" {
		instanceID = coordinator.GenerateInstanceID()
	}

	if !m.cfg.Distributed() {
		m.assigner = coordinator.NewSingleInstance(instanceID)
		log.WithInstanceID(instanceID).Info().Msg("running in single-instance mode")
		return nil
	}

	registry, err := coordinator.NewRegistry(m.cfg.EtcdEndpoints, instanceID, m.cfg.LeaseTTL, m.cfg.HeartbeatInterval)
	if err != nil {
		return err
	}
	if err := registry.Start(ctx); err != nil {
		return err
	}
	m.registry = registry

	watch, err := registry.WatchInstances(ctx)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Stop(stopCtx)
		return err
	}

	coord := coordinator.NewCoordinator(instanceID)
	go coord.Run(ctx, watch)
	m.assigner = coord

	// Let the initial instance set arrive before reconcilers start claiming
	// workloads
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(membershipSettleDelay):
	}

	log.WithInstanceID(instanceID).Info().
		Strs("endpoints", m.cfg.EtcdEndpoints).Msg("running in distributed mode")
	return nil
}

func (m *Manager) rollback(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		_ = m.started[i].Stop(ctx)
	}
	m.started = nil
	if m.registry != nil {
		_ = m.registry.Stop(ctx)
		m.registry = nil
	}
	m.cancel()
}

// Stop tears the stack down in reverse start order. The registry goes last
// so the instance record outlives the reconcilers and peers don't reassign
// workloads this instance is still finishing.
func (m *Manager) Stop(ctx context.Context) error {
	logger := log.WithComponent("manager")
	var result *multierror.Error

	for i := len(m.started) - 1; i >= 0; i-- {
		if err := m.started[i].Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.started = nil

	if m.registry != nil {
		if err := m.registry.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		m.registry = nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	metrics.UpdateComponent("monitor", false, "stopped")
	logger.Info().Msg("monitor stopped")
	return result.ErrorOrNil()
}

// Assigner exposes the active workload assigner, nil before Start
func (m *Manager) Assigner() coordinator.Assigner {
	return m.assigner
}

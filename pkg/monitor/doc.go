/*
Package monitor is the control plane's observation half: it reconciles the
desired fleet recorded in the store against what the container runtimes
actually run.

Three reconcilers share one shape (periodic pass over the owned subset of a
workload list, rechecked early when ownership changes):

  - BotMonitor tracks long-running bots: container status, performance
    metrics, the per-trade history sync, and billing samples.
  - BacktestMonitor drives one-shot backtest jobs to a sticky terminal
    state and collects their artifacts.
  - RunnerMonitor keeps each runner's shared market dataset fresh and fails
    downloads that stop making progress.

The Manager wires them to a coordinator.Assigner, either etcd-backed
sharding or the single-instance stub, and owns startup and shutdown order.
*/
package monitor

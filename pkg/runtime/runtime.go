package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// ErrNotFound is the sentinel for a workload the runtime does not know.
// For bots this drives a legitimate transition to stopped, not an error.
var ErrNotFound = errors.New("workload not found")

// ErrNotConnected indicates the runtime daemon is unreachable
var ErrNotConnected = errors.New("runtime not connected")

// ResourceStats carries one point-in-time resource reading. CPU and memory
// are instantaneous; the network and block counters are cumulative since
// container start.
type ResourceStats struct {
	CPUPercent      float64
	MemoryBytes     int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
	BlockReadBytes  int64
	BlockWriteBytes int64
}

// BotState is the runtime's view of one bot container
type BotState struct {
	BotKey       string
	Status       types.BotStatus
	Healthy      bool
	LastSeenAt   *time.Time
	ErrorMessage string
	IPAddress    string
	HostPort     int
	Stats        ResourceStats
}

// BacktestState is the runtime's view of one backtest container
type BacktestState struct {
	Status       types.BacktestStatus
	CompletedAt  *time.Time
	ErrorMessage string
	Stats        ResourceStats
}

// BacktestArtifacts are the final outputs of a finished backtest
type BacktestArtifacts struct {
	RawResult    []byte
	Logs         string
	CompletedAt  *time.Time
	ErrorMessage string
}

// Runtime abstracts the container platform hosting bot and backtest
// workloads. The bot's UUID string is the container key for every bot
// operation.
type Runtime interface {
	// GetBotStatus inspects a bot container. Returns ErrNotFound when the
	// container does not exist.
	GetBotStatus(ctx context.Context, botKey string) (*BotState, error)

	// GetBotHTTPClient returns a transport and base URL that reach the
	// bot's HTTP API from wherever the monitor runs
	GetBotHTTPClient(ctx context.Context, botKey string) (*http.Client, string, error)

	// GetBacktestStatus inspects a backtest container by container ID
	GetBacktestStatus(ctx context.Context, containerID string) (*BacktestState, error)

	// GetBacktestResult fetches the raw result and logs of a finished
	// backtest
	GetBacktestResult(ctx context.Context, containerID string) (*BacktestArtifacts, error)

	// DeleteBacktest removes a backtest container after its terminal state
	// has been persisted
	DeleteBacktest(ctx context.Context, containerID string) error

	// DownloadExchangeData runs a one-shot data download for a single
	// exchange into destDir, reporting per-pair progress
	DownloadExchangeData(ctx context.Context, spec types.ExchangeDownload, destDir string, progress func(pairsDone int, currentPair string)) error

	// Close releases the runtime client
	Close() error

	// Type identifies the runtime implementation
	Type() types.RunnerType
}

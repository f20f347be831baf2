package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BotMode defines whether a bot trades with real funds
type BotMode string

const (
	BotModeLive   BotMode = "live"
	BotModeDryRun BotMode = "dry_run"
)

// BotStatus represents the observed state of a bot workload
type BotStatus string

const (
	BotStatusCreating  BotStatus = "creating"
	BotStatusRunning   BotStatus = "running"
	BotStatusUnhealthy BotStatus = "unhealthy"
	BotStatusStopped   BotStatus = "stopped"
	BotStatusError     BotStatus = "error"
)

// BacktestStatus represents the state of a one-shot backtest job
type BacktestStatus string

const (
	BacktestStatusPending   BacktestStatus = "pending"
	BacktestStatusRunning   BacktestStatus = "running"
	BacktestStatusCompleted BacktestStatus = "completed"
	BacktestStatusFailed    BacktestStatus = "failed"
)

// DownloadStatus represents the state of a runner's dataset download
type DownloadStatus string

const (
	DownloadStatusIdle        DownloadStatus = "idle"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
)

// RunnerType identifies the container runtime hosting a runner's workloads
type RunnerType string

const (
	RunnerTypeDocker     RunnerType = "docker"
	RunnerTypeKubernetes RunnerType = "kubernetes"
)

// ResourceType distinguishes billable workload classes
type ResourceType string

const (
	ResourceTypeBot      ResourceType = "bot"
	ResourceTypeBacktest ResourceType = "backtest"
)

// Bot represents a long-running trading bot workload
type Bot struct {
	ID           uuid.UUID
	Name         string
	OwnerID      string
	Mode         BotMode
	Status       BotStatus
	SecureConfig map[string]interface{}
	RunnerID     uuid.UUID
	LastSeenAt   *time.Time
	ErrorMessage string
}

// BotMetrics holds per-bot performance scalars plus trade sync state,
// one-to-one with Bot
type BotMetrics struct {
	BotID uuid.UUID

	ProfitClosedCoin    float64
	ProfitClosedPercent float64
	ProfitAllCoin       float64
	ProfitAllPercent    float64
	TradeCount          int
	ClosedTradeCount    int
	OpenTradeCount      int
	WinningTrades       int
	LosingTrades        int
	Winrate             float64
	Expectancy          float64
	ProfitFactor        float64
	MaxDrawdown         float64
	MaxDrawdownAbs      float64
	BestPair            string
	BestRate            float64
	FirstTradeAt        *time.Time
	LatestTradeAt       *time.Time
	FetchedAt           *time.Time

	// Trade sync state. LastKnownMaxTradeID only ever grows, which is what
	// makes reset detection fire again after an upstream wipe.
	LastSyncedTradeID   int
	LastKnownMaxTradeID int
	LastTradeSyncAt     *time.Time
}

// Trade is a per-trade record synced from a bot. Its natural key is
// (bot_id, freqtrade_trade_id, open_date): a wiped bot replays trade IDs,
// and the open date distinguishes the epochs.
type Trade struct {
	BotID            uuid.UUID
	FreqtradeTradeID int
	Pair             string
	IsOpen           bool
	OpenDate         time.Time
	CloseDate        *time.Time
	OpenRate         float64
	CloseRate        *float64
	Amount           float64
	StakeAmount      float64
	ProfitAbs        float64
	ProfitRatio      float64
	StrategyName     string
	Timeframe        string
	SellReason       *string
	IsShort          bool
	RawData          json.RawMessage
}

// Backtest represents a one-shot backtest job driven to a terminal state
type Backtest struct {
	ID           uuid.UUID
	OwnerID      string
	StrategyID   uuid.UUID
	RunnerID     uuid.UUID
	Status       BacktestStatus
	ContainerID  string
	Result       json.RawMessage
	Summary      *BacktestSummary
	Logs         string
	CompletedAt  *time.Time
	ErrorMessage string
}

// BacktestSummary is the typed scalar extract of a raw backtest result
type BacktestSummary struct {
	StrategyName   string     `json:"strategy_name"`
	TotalTrades    int        `json:"total_trades"`
	Wins           int        `json:"wins"`
	Losses         int        `json:"losses"`
	WinRate        float64    `json:"win_rate"`
	ProfitTotalAbs float64    `json:"profit_total_abs"`
	ProfitTotalPct float64    `json:"profit_total_pct"`
	ProfitFactor   float64    `json:"profit_factor"`
	Expectancy     float64    `json:"expectancy"`
	MaxDrawdown    float64    `json:"max_drawdown"`
	MaxDrawdownAbs float64    `json:"max_drawdown_abs"`
	FirstTradeAt   *time.Time `json:"first_trade_at,omitempty"`
	LatestTradeAt  *time.Time `json:"latest_trade_at,omitempty"`
}

// BotRunner hosts bot and backtest workloads plus their shared dataset
type BotRunner struct {
	ID             uuid.UUID
	Name           string
	OwnerID        string
	Type           RunnerType
	Config         map[string]interface{}
	BillingEnabled bool

	DataDownloadConfig    map[string]interface{}
	DataDownloadStatus    DownloadStatus
	DataDownloadStartedAt *time.Time
	DataDownloadProgress  *DownloadProgress
	DataIsReady           bool
	DataLastUpdated       *time.Time
	DataErrorMessage      string
	DataObjectKey         string
}

// DownloadProgress tracks a dataset download in flight
type DownloadProgress struct {
	PairsCompleted  int     `json:"pairs_completed"`
	PairsTotal      int     `json:"pairs_total"`
	CurrentPair     string  `json:"current_pair"`
	PercentComplete float64 `json:"percent_complete"`
}

// UsageSample is one point of the append-only resource usage stream
type UsageSample struct {
	ResourceType    ResourceType
	ResourceID      uuid.UUID
	OwnerID         string
	RunnerID        uuid.UUID
	CPUPercent      float64
	MemoryBytes     int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
	BlockReadBytes  int64
	BlockWriteBytes int64
	SampledAt       time.Time
}

// Granularity of a usage rollup bucket
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// UsageRollup is an aggregated usage bucket per (resource, bucket_start)
type UsageRollup struct {
	ResourceType    ResourceType
	ResourceID      uuid.UUID
	OwnerID         string
	RunnerID        uuid.UUID
	Granularity     Granularity
	BucketStart     time.Time
	CPUAvgPercent   float64
	CPUMaxPercent   float64
	MemoryAvgBytes  int64
	MemoryMaxBytes  int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
	BlockReadBytes  int64
	BlockWriteBytes int64
	SampleCount     int
}

// InstanceInfo is the ephemeral record a control-plane instance keeps in the
// coordination store while its lease is alive
type InstanceInfo struct {
	InstanceID    string    `json:"instance_id"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// CanStart reports whether a bot in the given status may be started.
// Part of the contract exposed to the UI collaborator.
func CanStart(status BotStatus) bool {
	return status == BotStatusStopped || status == BotStatusError
}

// CanStopOrRestart reports whether a bot in the given status may be stopped
// or restarted
func CanStopOrRestart(status BotStatus) bool {
	return status == BotStatusRunning || status == BotStatusUnhealthy
}

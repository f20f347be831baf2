package events

import (
	"context"
	"time"
)

// EventType names the lifecycle change an event carries
type EventType string

const (
	EventTradeOpened        EventType = "trade.opened"
	EventTradeClosed        EventType = "trade.closed"
	EventRunnerDataDownload EventType = "runner.data_download"
)

// TradeEvent is published on the trade topics when a sync pass observes a
// new or closed trade
type TradeEvent struct {
	Type      EventType `json:"type"`
	TradeID   int       `json:"trade_id"`
	BotID     string    `json:"bot_id"`
	Pair      string    `json:"pair"`
	Side      string    `json:"side"`
	Status    string    `json:"status"`
	ProfitPct float64   `json:"profit_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// RunnerEvent is published on the runner topics when a dataset download
// changes state
type RunnerEvent struct {
	Type      EventType `json:"type"`
	RunnerID  string    `json:"runner_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Topic helpers. Each event goes out twice: once on the workload-scoped
// topic and once on the owner-scoped topic the UI subscribes to.

func TradeTopic(botID string) string { return "trades/" + botID }

func TradeOwnerTopic(ownerID string) string { return "trades/owner/" + ownerID }

func RunnerTopic(runnerID string) string { return "runners/" + runnerID }

func RunnerOwnerTopic(ownerID string) string { return "runners/owner/" + ownerID }

// Publisher delivers events to subscribers. Publishing is best effort: the
// monitor never blocks a reconciliation on delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/pkg/freqtrade"
	"github.com/fleetwatch/fleetwatch/pkg/runtime"
	"github.com/fleetwatch/fleetwatch/pkg/store"
	"github.com/fleetwatch/fleetwatch/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedRunner(t *testing.T, s *store.Store, billing bool) *types.BotRunner {
	t.Helper()
	runner := &types.BotRunner{
		ID:             uuid.New(),
		Name:           "runner-1",
		OwnerID:        "owner-1",
		Type:           types.RunnerTypeDocker,
		Config:         map[string]interface{}{},
		BillingEnabled: billing,
	}
	require.NoError(t, s.CreateRunner(context.Background(), runner))
	return runner
}

func seedBot(t *testing.T, s *store.Store, runnerID uuid.UUID) *types.Bot {
	t.Helper()
	bot := &types.Bot{
		ID:      uuid.New(),
		Name:    "scalper",
		OwnerID: "owner-1",
		Mode:    types.BotModeDryRun,
		Status:  types.BotStatusRunning,
		SecureConfig: map[string]interface{}{
			"api_server": map[string]interface{}{
				"username": "ft",
				"password": "secret",
			},
		},
		RunnerID: runnerID,
	}
	require.NoError(t, s.CreateBot(context.Background(), bot))
	return bot
}

// mockFactory hands every caller the same mock runtime
type mockFactory struct {
	rt      runtime.Runtime
	err     error
	created int
}

func (f *mockFactory) Create(_ context.Context, _ types.RunnerType, _ map[string]interface{}) (runtime.Runtime, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	return f.rt, nil
}

// ownNothing is an assigner for testing the ownership filter
type ownNothing struct {
	ch chan struct{}
}

func newOwnNothing() *ownNothing { return &ownNothing{ch: make(chan struct{})} }

func (a *ownNothing) Owns(string) bool { return false }

func (a *ownNothing) Assigned([]string) []string { return nil }

func (a *ownNothing) Instances() []string { return []string{"other"} }

func (a *ownNothing) AssignmentChanges() <-chan struct{} { return a.ch }

// freqtradeServer serves /profit and paginated /trades with basic auth
func freqtradeServer(t *testing.T, profit *freqtrade.Profit, trades []freqtrade.Trade) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/profit", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(profit)
	})
	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if limit <= 0 {
			limit = len(trades)
		}
		end := offset + limit
		if end > len(trades) {
			end = len(trades)
		}
		page := []freqtrade.Trade{}
		if offset < len(trades) {
			page = trades[offset:end]
		}
		_ = json.NewEncoder(w).Encode(freqtrade.TradesPage{
			Trades:      page,
			TradesCount: len(page),
			TotalTrades: int64(len(trades)),
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func checkAuth(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "ft" || pass != "secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// botRuntime builds a mock whose bot is running and reachable through the
// test server
func botRuntime(server *httptest.Server, stats runtime.ResourceStats) *runtime.Mock {
	return &runtime.Mock{
		GetBotStatusFunc: func(context.Context, string) (*runtime.BotState, error) {
			return &runtime.BotState{
				Status:  types.BotStatusRunning,
				Healthy: true,
				Stats:   stats,
			}, nil
		},
		GetBotHTTPClientFunc: func(context.Context, string) (*http.Client, string, error) {
			return server.Client(), server.URL, nil
		},
	}
}

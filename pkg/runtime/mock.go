package runtime

import (
	"context"
	"net/http"

	"github.com/fleetwatch/fleetwatch/pkg/types"
)

// Mock is a Runtime whose behavior is supplied per test through func
// fields. Unset funcs return ErrNotFound, which is the safe default for a
// runtime that knows nothing.
type Mock struct {
	GetBotStatusFunc         func(ctx context.Context, botKey string) (*BotState, error)
	GetBotHTTPClientFunc     func(ctx context.Context, botKey string) (*http.Client, string, error)
	GetBacktestStatusFunc    func(ctx context.Context, containerID string) (*BacktestState, error)
	GetBacktestResultFunc    func(ctx context.Context, containerID string) (*BacktestArtifacts, error)
	DeleteBacktestFunc       func(ctx context.Context, containerID string) error
	DownloadExchangeDataFunc func(ctx context.Context, spec types.ExchangeDownload, destDir string, progress func(int, string)) error
	CloseFunc                func() error

	// DeletedBacktests records cleanup calls when DeleteBacktestFunc is unset
	DeletedBacktests []string
}

var _ Runtime = (*Mock)(nil)

func (m *Mock) GetBotStatus(ctx context.Context, botKey string) (*BotState, error) {
	if m.GetBotStatusFunc != nil {
		return m.GetBotStatusFunc(ctx, botKey)
	}
	return nil, ErrNotFound
}

func (m *Mock) GetBotHTTPClient(ctx context.Context, botKey string) (*http.Client, string, error) {
	if m.GetBotHTTPClientFunc != nil {
		return m.GetBotHTTPClientFunc(ctx, botKey)
	}
	return nil, "", ErrNotFound
}

func (m *Mock) GetBacktestStatus(ctx context.Context, containerID string) (*BacktestState, error) {
	if m.GetBacktestStatusFunc != nil {
		return m.GetBacktestStatusFunc(ctx, containerID)
	}
	return nil, ErrNotFound
}

func (m *Mock) GetBacktestResult(ctx context.Context, containerID string) (*BacktestArtifacts, error) {
	if m.GetBacktestResultFunc != nil {
		return m.GetBacktestResultFunc(ctx, containerID)
	}
	return nil, ErrNotFound
}

func (m *Mock) DeleteBacktest(ctx context.Context, containerID string) error {
	if m.DeleteBacktestFunc != nil {
		return m.DeleteBacktestFunc(ctx, containerID)
	}
	m.DeletedBacktests = append(m.DeletedBacktests, containerID)
	return nil
}

func (m *Mock) DownloadExchangeData(ctx context.Context, spec types.ExchangeDownload, destDir string, progress func(int, string)) error {
	if m.DownloadExchangeDataFunc != nil {
		return m.DownloadExchangeDataFunc(ctx, spec, destDir, progress)
	}
	return nil
}

func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) Type() types.RunnerType { return types.RunnerTypeDocker }

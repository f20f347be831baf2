package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPICredentials(t *testing.T) {
	bot := &Bot{
		ID: uuid.New(),
		SecureConfig: map[string]interface{}{
			"api_server": map[string]interface{}{
				"username":    "ft-user",
				"password":    "ft-pass",
				"listen_port": float64(9090),
			},
		},
	}

	creds, err := bot.APICredentials()
	require.NoError(t, err)
	assert.Equal(t, "ft-user", creds.Username)
	assert.Equal(t, "ft-pass", creds.Password)
	assert.Equal(t, 9090, creds.ListenPort)
}

func TestAPICredentialsDefaultPort(t *testing.T) {
	bot := &Bot{
		ID: uuid.New(),
		SecureConfig: map[string]interface{}{
			"api_server": map[string]interface{}{
				"username": "u",
				"password": "p",
			},
		},
	}

	creds, err := bot.APICredentials()
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIPort, creds.ListenPort)
}

func TestAPICredentialsErrors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
	}{
		{"nil config", nil},
		{"no api_server", map[string]interface{}{}},
		{"missing username", map[string]interface{}{
			"api_server": map[string]interface{}{"password": "p"},
		}},
		{"missing password", map[string]interface{}{
			"api_server": map[string]interface{}{"username": "u"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &Bot{ID: uuid.New(), SecureConfig: tt.config}
			_, err := bot.APICredentials()
			assert.Error(t, err)
		})
	}
}

func TestDownloadConfig(t *testing.T) {
	runner := &BotRunner{
		ID: uuid.New(),
		DataDownloadConfig: map[string]interface{}{
			"exchanges": []interface{}{
				map[string]interface{}{
					"name":       "binance",
					"pairs":      []interface{}{"BTC/USDT", "ETH/USDT"},
					"timeframes": []interface{}{"5m", "1h", "4h"},
				},
				map[string]interface{}{
					"name":    "kraken",
					"enabled": false,
				},
			},
		},
	}

	cfg, err := runner.DownloadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Exchanges, 2)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Exchanges[0].Pairs)
	assert.Len(t, cfg.EnabledExchanges(), 1)
	assert.Equal(t, 2, cfg.TotalPairs())
}

func TestDownloadConfigErrors(t *testing.T) {
	runner := &BotRunner{ID: uuid.New()}
	_, err := runner.DownloadConfig()
	assert.Error(t, err)

	runner.DataDownloadConfig = map[string]interface{}{"exchanges": []interface{}{}}
	_, err = runner.DownloadConfig()
	assert.Error(t, err)

	// Enabled exchange without pairs is a semantic error
	runner.DataDownloadConfig = map[string]interface{}{
		"exchanges": []interface{}{
			map[string]interface{}{"name": "binance"},
		},
	}
	_, err = runner.DownloadConfig()
	assert.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, CanStart(BotStatusStopped))
	assert.True(t, CanStart(BotStatusError))
	assert.False(t, CanStart(BotStatusRunning))
	assert.False(t, CanStart(BotStatusCreating))

	assert.True(t, CanStopOrRestart(BotStatusRunning))
	assert.True(t, CanStopOrRestart(BotStatusUnhealthy))
	assert.False(t, CanStopOrRestart(BotStatusStopped))
	assert.False(t, CanStopOrRestart(BotStatusError))
}

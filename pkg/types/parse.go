package types

import (
	"fmt"
)

// DefaultAPIPort is the Freqtrade API server port used when the bot's
// secure config doesn't specify listen_port
const DefaultAPIPort = 8080

// APICredentials is the typed form of the api_server sub-map of a bot's
// secure config. Untyped maps are parsed once at this boundary and typed
// values propagate from here.
type APICredentials struct {
	Username   string
	Password   string
	ListenPort int
}

// APICredentials extracts and validates the api_server credentials from the
// bot's opaque secure config
func (b *Bot) APICredentials() (APICredentials, error) {
	if b.SecureConfig == nil {
		return APICredentials{}, fmt.Errorf("bot %s has no secure_config", b.ID)
	}

	apiServer, ok := b.SecureConfig["api_server"].(map[string]interface{})
	if !ok {
		return APICredentials{}, fmt.Errorf("bot %s secure_config has no api_server configuration", b.ID)
	}

	username, ok := apiServer["username"].(string)
	if !ok || username == "" {
		return APICredentials{}, fmt.Errorf("bot %s api_server has no username", b.ID)
	}

	password, ok := apiServer["password"].(string)
	if !ok || password == "" {
		return APICredentials{}, fmt.Errorf("bot %s api_server has no password", b.ID)
	}

	creds := APICredentials{
		Username:   username,
		Password:   password,
		ListenPort: DefaultAPIPort,
	}
	// JSON round-trips numbers as float64
	if port, ok := apiServer["listen_port"].(float64); ok && port > 0 {
		creds.ListenPort = int(port)
	}

	return creds, nil
}

// ExchangeDownload describes one exchange's slice of a dataset download
type ExchangeDownload struct {
	Exchange   string
	Pairs      []string
	Timeframes []string
	Enabled    bool
}

// DataDownloadConfig is the typed form of a runner's opaque
// data_download_config map
type DataDownloadConfig struct {
	Exchanges []ExchangeDownload
}

// EnabledExchanges returns the exchanges that participate in a download
func (c DataDownloadConfig) EnabledExchanges() []ExchangeDownload {
	out := make([]ExchangeDownload, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// TotalPairs counts pairs across enabled exchanges
func (c DataDownloadConfig) TotalPairs() int {
	n := 0
	for _, ex := range c.EnabledExchanges() {
		n += len(ex.Pairs)
	}
	return n
}

// DownloadConfig extracts and validates the runner's data download
// configuration from its opaque map
func (r *BotRunner) DownloadConfig() (DataDownloadConfig, error) {
	if r.DataDownloadConfig == nil {
		return DataDownloadConfig{}, fmt.Errorf("runner %s has no data_download_config", r.ID)
	}

	rawExchanges, ok := r.DataDownloadConfig["exchanges"].([]interface{})
	if !ok || len(rawExchanges) == 0 {
		return DataDownloadConfig{}, fmt.Errorf("runner %s data_download_config has no exchanges", r.ID)
	}

	cfg := DataDownloadConfig{Exchanges: make([]ExchangeDownload, 0, len(rawExchanges))}
	for i, raw := range rawExchanges {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return DataDownloadConfig{}, fmt.Errorf("runner %s exchange entry %d is not a map", r.ID, i)
		}

		name, ok := entry["name"].(string)
		if !ok || name == "" {
			return DataDownloadConfig{}, fmt.Errorf("runner %s exchange entry %d has no name", r.ID, i)
		}

		ex := ExchangeDownload{Exchange: name, Enabled: true}
		if enabled, ok := entry["enabled"].(bool); ok {
			ex.Enabled = enabled
		}
		ex.Pairs = stringSlice(entry["pairs"])
		ex.Timeframes = stringSlice(entry["timeframes"])
		if len(ex.Timeframes) == 0 {
			ex.Timeframes = []string{"5m", "1h"}
		}
		if ex.Enabled && len(ex.Pairs) == 0 {
			return DataDownloadConfig{}, fmt.Errorf("runner %s exchange %s has no pairs", r.ID, name)
		}

		cfg.Exchanges = append(cfg.Exchanges, ex)
	}

	return cfg, nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

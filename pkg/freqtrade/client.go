package freqtrade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TradePageSize is the maximum number of trades fetched per API call
const TradePageSize = 500

// Client talks to a single bot's Freqtrade REST API using HTTP basic auth.
// The transport and base URL come from the runtime abstraction so the same
// client works across Docker networks, in-cluster, or through a proxy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewClient creates a bot API client over the given transport
func NewClient(httpClient *http.Client, baseURL, username, password string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
	}
}

// Profit is the scalar bundle returned by GET /profit
type Profit struct {
	ProfitClosedCoin     float64 `json:"profit_closed_coin"`
	ProfitClosedPercent  float64 `json:"profit_closed_percent"`
	ProfitAllCoin        float64 `json:"profit_all_coin"`
	ProfitAllPercent     float64 `json:"profit_all_percent"`
	TradeCount           int     `json:"trade_count"`
	ClosedTradeCount     int     `json:"closed_trade_count"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	Winrate              float64 `json:"winrate"`
	Expectancy           float64 `json:"expectancy"`
	ProfitFactor         float64 `json:"profit_factor"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	MaxDrawdownAbs       float64 `json:"max_drawdown_abs"`
	BestPair             string  `json:"best_pair"`
	BestRate             float64 `json:"best_rate"`
	FirstTradeTimestamp  int64   `json:"first_trade_timestamp"`
	LatestTradeTimestamp int64   `json:"latest_trade_timestamp"`
}

// Trade is one record of the paginated GET /trades envelope. Identity is
// (trade_id, open_timestamp): a recreated bot replays trade IDs, so the
// open timestamp distinguishes epochs.
type Trade struct {
	TradeID        int      `json:"trade_id"`
	Pair           string   `json:"pair"`
	IsOpen         bool     `json:"is_open"`
	IsShort        bool     `json:"is_short"`
	OpenTimestamp  int64    `json:"open_timestamp"`  // milliseconds
	CloseTimestamp *int64   `json:"close_timestamp"` // milliseconds
	OpenRate       float64  `json:"open_rate"`
	CloseRate      *float64 `json:"close_rate"`
	Amount         float64  `json:"amount"`
	StakeAmount    float64  `json:"stake_amount"`
	ProfitAbs      *float64 `json:"profit_abs"`
	ProfitRatio    *float64 `json:"profit_ratio"`
	Strategy       string   `json:"strategy"`
	Timeframe      int64    `json:"timeframe"` // minutes, 0 means unknown
	ExitReason     *string  `json:"exit_reason"`
}

// OpenDate converts the millisecond open timestamp to a time
func (t Trade) OpenDate() time.Time {
	return time.Unix(t.OpenTimestamp/1000, 0)
}

// TradesPage is the envelope of GET /trades
type TradesPage struct {
	Trades      []Trade `json:"trades"`
	TradesCount int     `json:"trades_count"`
	TotalTrades int64   `json:"total_trades"`
}

// GetProfit fetches the bot's aggregate performance scalars
func (c *Client) GetProfit(ctx context.Context) (*Profit, error) {
	var profit Profit
	if err := c.get(ctx, "/api/v1/profit", nil, &profit); err != nil {
		return nil, err
	}
	return &profit, nil
}

// GetTrades fetches one page of trades
func (c *Client) GetTrades(ctx context.Context, limit, offset int64) (*TradesPage, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("offset", fmt.Sprintf("%d", offset))

	var page TradesPage
	if err := c.get(ctx, "/api/v1/trades", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAllTrades pages through the trade list until fewer than a page arrives
// or the advertised total is reached
func (c *Client) GetAllTrades(ctx context.Context) ([]Trade, error) {
	var all []Trade
	var offset int64

	for {
		page, err := c.GetTrades(ctx, TradePageSize, offset)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Trades...)

		if int64(len(page.Trades)) < TradePageSize || int64(len(all)) >= page.TotalTrades {
			break
		}
		offset += TradePageSize
	}

	return all, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("freqtrade API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("freqtrade API %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode freqtrade response: %w", err)
	}
	return nil
}

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	liveTradingURL  = "https://api.alpaca.markets"
	paperTradingURL = "https://paper-api.alpaca.markets"
	marketDataURL   = "https://data.alpaca.markets"

	defaultTimeout = 10 * time.Second
)

// AlpacaClient Alpaca REST 客户端
type AlpacaClient struct {
	tradingURL string
	dataURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

// AlpacaConfig Alpaca 客户端配置
type AlpacaConfig struct {
	APIKey       string
	SecretKey    string
	PaperTrading bool
	// BaseURL/DataURL 覆盖默认地址 (测试用)
	BaseURL string
	DataURL string
}

// NewAlpacaClient 创建Alpaca客户端
func NewAlpacaClient(cfg AlpacaConfig) *AlpacaClient {
	tradingURL := liveTradingURL
	if cfg.PaperTrading {
		tradingURL = paperTradingURL
	}
	if cfg.BaseURL != "" {
		tradingURL = cfg.BaseURL
	}
	dataURL := marketDataURL
	if cfg.DataURL != "" {
		dataURL = cfg.DataURL
	}

	return &AlpacaClient{
		tradingURL: tradingURL,
		dataURL:    dataURL,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Alpaca 的金额字段以字符串形式返回, 用decimal解析后转float64
type alpacaAccount struct {
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	Equity         string `json:"equity"`
	LastEquity     string `json:"last_equity"`
}

type alpacaPosition struct {
	Symbol      string `json:"symbol"`
	MarketValue string `json:"market_value"`
}

type alpacaQuote struct {
	Quote struct {
		AskPrice json.Number `json:"ap"`
		BidPrice json.Number `json:"bp"`
	} `json:"quote"`
}

type alpacaOrder struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Notional string `json:"notional"`
	Status   string `json:"status"`
}

// GetAccount 获取账户概要
func (c *AlpacaClient) GetAccount(ctx context.Context) (types.Account, error) {
	var raw alpacaAccount
	if err := c.doJSON(ctx, http.MethodGet, c.tradingURL+"/v2/account", nil, &raw); err != nil {
		return types.Account{}, fmt.Errorf("failed to fetch account: %w", err)
	}

	account := types.Account{}
	var err error
	if account.Cash, err = parseMoney(raw.Cash); err != nil {
		return types.Account{}, fmt.Errorf("invalid cash value: %w", err)
	}
	if account.PortfolioValue, err = parseMoney(raw.PortfolioValue); err != nil {
		return types.Account{}, fmt.Errorf("invalid portfolio_value: %w", err)
	}
	if account.Equity, err = parseMoney(raw.Equity); err != nil {
		return types.Account{}, fmt.Errorf("invalid equity: %w", err)
	}
	if account.LastEquity, err = parseMoney(raw.LastEquity); err != nil {
		return types.Account{}, fmt.Errorf("invalid last_equity: %w", err)
	}
	return account, nil
}

// GetPositions 获取当前全部持仓
func (c *AlpacaClient) GetPositions(ctx context.Context) ([]types.Position, error) {
	var raw []alpacaPosition
	if err := c.doJSON(ctx, http.MethodGet, c.tradingURL+"/v2/positions", nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	positions := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		value, err := parseMoney(p.MarketValue)
		if err != nil {
			return nil, fmt.Errorf("invalid market_value for %s: %w", p.Symbol, err)
		}
		positions = append(positions, types.Position{Symbol: p.Symbol, MarketValue: value})
	}
	return positions, nil
}

// GetLatestQuote 获取最新报价
func (c *AlpacaClient) GetLatestQuote(ctx context.Context, symbol string, side types.Side) (float64, error) {
	url := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", c.dataURL, symbol)
	var raw alpacaQuote
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return 0, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}

	field := raw.Quote.BidPrice
	if side == types.SideBuy {
		field = raw.Quote.AskPrice
	}
	price, err := field.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid quote price for %s: %w", symbol, err)
	}
	return price, nil
}

// SubmitMarketOrder 提交按金额计价的DAY市价单
func (c *AlpacaClient) SubmitMarketOrder(ctx context.Context, symbol string, side types.Side, notional float64) (types.Order, error) {
	body := map[string]any{
		"symbol":        symbol,
		"notional":      decimal.NewFromFloat(notional).Round(2).String(),
		"side":          string(side),
		"type":          "market",
		"time_in_force": "day",
	}

	var raw alpacaOrder
	if err := c.doJSON(ctx, http.MethodPost, c.tradingURL+"/v2/orders", body, &raw); err != nil {
		return types.Order{}, fmt.Errorf("failed to submit %s order for %s: %w", side, symbol, err)
	}

	placed, err := parseMoney(raw.Notional)
	if err != nil {
		placed = notional
	}
	return types.Order{
		ID:       raw.ID,
		Symbol:   raw.Symbol,
		Side:     types.Side(raw.Side),
		Notional: placed,
		Status:   raw.Status,
	}, nil
}

// doJSON 执行一次API请求并解析JSON响应
func (c *AlpacaClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(payload)}
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiMessage 提取错误响应中的message字段
func apiMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(payload)
}

// parseMoney 解析字符串金额
func parseMoney(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

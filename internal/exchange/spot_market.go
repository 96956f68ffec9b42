package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel 深度档位，线上格式为 ["price","qty"]。
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// UnmarshalJSON 解析 ["price","qty"] 形式的档位。
func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level: expected 2 elements, got %d", len(pair))
	}
	p.Price, p.Quantity = pair[0], pair[1]
	return nil
}

// DepthParams /api/v3/depth 参数
type DepthParams struct {
	Symbol string
	// Limit 默认 100，最大 5000；0 表示使用默认
	Limit int
}

// Depth /api/v3/depth 返回
type Depth struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// TradesParams /api/v3/trades 参数
type TradesParams struct {
	Symbol string
	// Limit 默认 500，最大 1000
	Limit int
}

// Trade 最近成交
type Trade struct {
	// ID 交易所目前总是返回 null；保留原始 JSON 以免假设其类型。
	ID            json.RawMessage `json:"id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"qty"`
	QuoteQuantity decimal.Decimal `json:"quoteQty"`
	Time          time.Time       `json:"-"`
	IsBuyerMaker  bool            `json:"isBuyerMaker"`
	IsBestMatch   bool            `json:"isBestMatch"`
	TradeType     string          `json:"tradeType"` // BID / ASK
}

// UnmarshalJSON 处理毫秒时间戳与空 id。
func (t *Trade) UnmarshalJSON(data []byte) error {
	type alias Trade
	raw := struct {
		*alias
		Time int64 `json:"time"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Time = time.UnixMilli(raw.Time).UTC()
	if string(t.ID) == "null" {
		t.ID = nil
	}
	return nil
}

// HasID 交易 id 是否存在（当前总是 false）。
func (t Trade) HasID() bool {
	return len(t.ID) > 0
}

// SpotPing 测试现货 REST 连通性。
func (c *Client) SpotPing(ctx context.Context) error {
	return c.spotPublic(ctx, "/api/v3/ping", nil, nil)
}

// SpotServerTime 返回现货服务器时间。
func (c *Client) SpotServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.spotPublic(ctx, "/api/v3/time", nil, &out); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(out.ServerTime).UTC(), nil
}

// Depth 查询现货深度快照。
func (c *Client) Depth(ctx context.Context, p DepthParams) (*Depth, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	q := QueryParams{}.Add("symbol", p.Symbol)
	if p.Limit > 0 {
		q = q.Add("limit", strconv.Itoa(p.Limit))
	}
	var out Depth
	if err := c.spotPublic(ctx, "/api/v3/depth", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trades 查询现货最近成交。
func (c *Client) Trades(ctx context.Context, p TradesParams) ([]Trade, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	q := QueryParams{}.Add("symbol", p.Symbol)
	if p.Limit > 0 {
		q = q.Add("limit", strconv.Itoa(p.Limit))
	}
	var out []Trade
	if err := c.spotPublic(ctx, "/api/v3/trades", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

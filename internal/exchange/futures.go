package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FuturesServerTime 合约服务器时间。
func (c *Client) FuturesServerTime(ctx context.Context) (time.Time, error) {
	var ms int64
	if err := c.futuresPublic(ctx, "/api/v1/contract/ping", nil, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// FuturesAsset 合约账户资产
type FuturesAsset struct {
	Currency         string          `json:"currency"`
	PositionMargin   decimal.Decimal `json:"positionMargin"`
	FrozenBalance    decimal.Decimal `json:"frozenBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	Equity           decimal.Decimal `json:"equity"`
	Unrealized       decimal.Decimal `json:"unrealized"`
	Bonus            decimal.Decimal `json:"bonus"`
}

// FuturesAccountAssets 查询全部合约资产。
func (c *Client) FuturesAccountAssets(ctx context.Context) ([]FuturesAsset, error) {
	var out []FuturesAsset
	if err := c.futuresSigned(ctx, http.MethodGet, "/api/v1/private/account/assets", ParamsQuery, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrdersParams 当前挂单分页参数；字段顺序即签名顺序。
type OpenOrdersParams struct {
	// Symbol 为空时查询全部合约，放在 path 中不参与 query
	Symbol   string `url:"-"`
	PageNum  int    `url:"page_num"`
	PageSize int    `url:"page_size"`
}

// FuturesOrder 合约订单
type FuturesOrder struct {
	OrderID      string          `json:"orderId"`
	Symbol       string          `json:"symbol"`
	PositionID   int64           `json:"positionId"`
	Price        decimal.Decimal `json:"price"`
	Vol          decimal.Decimal `json:"vol"`
	Leverage     int             `json:"leverage"`
	Side         int             `json:"side"`
	Category     int             `json:"category"`
	OrderType    int             `json:"orderType"`
	DealAvgPrice decimal.Decimal `json:"dealAvgPrice"`
	DealVol      decimal.Decimal `json:"dealVol"`
	OrderMargin  decimal.Decimal `json:"orderMargin"`
	TakerFee     decimal.Decimal `json:"takerFee"`
	MakerFee     decimal.Decimal `json:"makerFee"`
	Profit       decimal.Decimal `json:"profit"`
	FeeCurrency  string          `json:"feeCurrency"`
	OpenType     int             `json:"openType"`
	State        int             `json:"state"`
	ExternalOid  string          `json:"externalOid"`
	ErrorCode    int             `json:"errorCode"`
	CreateTime   time.Time       `json:"-"`
	UpdateTime   time.Time       `json:"-"`
}

// UnmarshalJSON 将毫秒时间戳转为 UTC 时间。
func (o *FuturesOrder) UnmarshalJSON(data []byte) error {
	type alias FuturesOrder
	raw := struct {
		*alias
		CreateTime int64 `json:"createTime"`
		UpdateTime int64 `json:"updateTime"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.CreateTime = time.UnixMilli(raw.CreateTime).UTC()
	o.UpdateTime = time.UnixMilli(raw.UpdateTime).UTC()
	return nil
}

// FuturesOpenOrders 查询当前挂单。
func (c *Client) FuturesOpenOrders(ctx context.Context, p OpenOrdersParams) ([]FuturesOrder, error) {
	if p.PageNum <= 0 {
		p.PageNum = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	path := "/api/v1/private/order/list/open_orders"
	if p.Symbol != "" {
		path += "/" + pathEscapeSymbol(p.Symbol)
	}
	var out []FuturesOrder
	if err := c.futuresSigned(ctx, http.MethodGet, path, ParamsQuery, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitOrderParams 合约下单参数，JSON body 签名。
type SubmitOrderParams struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Vol         decimal.Decimal `json:"vol"`
	Leverage    int             `json:"leverage,omitempty"`
	Side        int             `json:"side"`     // 1 开多 2 平空 3 开空 4 平多
	Type        int             `json:"type"`     // 1 限价 2 Post Only 3 IOC 4 FOK 5 市价
	OpenType    int             `json:"openType"` // 1 逐仓 2 全仓
	ExternalOid string          `json:"externalOid,omitempty"`
}

// SubmitFuturesOrder 下单，返回交易所订单号。ExternalOid 为空时自动生成。
func (c *Client) SubmitFuturesOrder(ctx context.Context, p SubmitOrderParams) (string, error) {
	if p.Symbol == "" {
		return "", fmt.Errorf("symbol required")
	}
	if !p.Vol.IsPositive() {
		return "", fmt.Errorf("vol must be > 0")
	}
	if p.ExternalOid == "" {
		p.ExternalOid = uuid.NewString()
	}
	var orderID json.Number
	if err := c.futuresSigned(ctx, http.MethodPost, "/api/v1/private/order/submit", ParamsBody, p, &orderID); err != nil {
		return "", err
	}
	return orderID.String(), nil
}

// CancelResult 单个订单的撤单结果
type CancelResult struct {
	OrderID   json.Number `json:"orderId"`
	ErrorCode int         `json:"errorCode"`
	ErrorMsg  string      `json:"errorMsg"`
}

// CancelFuturesOrders 批量撤单（最多 50 个），body 为订单号 JSON 数组。
func (c *Client) CancelFuturesOrders(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("orderIDs required")
	}
	var out []CancelResult
	if err := c.futuresSigned(ctx, http.MethodPost, "/api/v1/private/order/cancel", ParamsBody, orderIDs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

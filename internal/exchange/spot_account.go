package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type listenKeyResp struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey 创建用户数据流 listenKey，私有 WS 频道需要它。
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var lr listenKeyResp
	if err := c.spotSigned(ctx, http.MethodPost, "/api/v3/userDataStream", nil, &lr); err != nil {
		return "", err
	}
	if lr.ListenKey == "" {
		return "", fmt.Errorf("empty listenKey")
	}
	return lr.ListenKey, nil
}

// KeepAliveListenKey 延长 listenKey 有效期（60 分钟）。
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	if listenKey == "" {
		return fmt.Errorf("listenKey required")
	}
	q := QueryParams{}.Add("listenKey", listenKey)
	return c.spotSigned(ctx, http.MethodPut, "/api/v3/userDataStream", q, nil)
}

// CloseListenKey 关闭 listenKey。
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	if listenKey == "" {
		return fmt.Errorf("listenKey required")
	}
	q := QueryParams{}.Add("listenKey", listenKey)
	return c.spotSigned(ctx, http.MethodDelete, "/api/v3/userDataStream", q, nil)
}

// SpotBalance 现货单币种余额
type SpotBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// SpotAccount /api/v3/account 返回
type SpotAccount struct {
	CanTrade    bool          `json:"canTrade"`
	CanWithdraw bool          `json:"canWithdraw"`
	CanDeposit  bool          `json:"canDeposit"`
	AccountType string        `json:"accountType"`
	Balances    []SpotBalance `json:"balances"`
	Permissions []string      `json:"permissions"`
}

// SpotAccountInfo 查询现货账户信息。
func (c *Client) SpotAccountInfo(ctx context.Context) (*SpotAccount, error) {
	var out SpotAccount
	if err := c.spotSigned(ctx, http.MethodGet, "/api/v3/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

package stream

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide 1=买 2=卖，其它值视为非法。
func ParseSide(code int) (Side, error) {
	switch Side(code) {
	case SideBuy, SideSell:
		return Side(code), nil
	}
	return 0, fmt.Errorf("invalid side code %d", code)
}

// OrderType 现货订单类型
type OrderType int

const (
	OrderTypeLimit     OrderType = 1
	OrderTypePostOnly  OrderType = 2
	OrderTypeIOC       OrderType = 3
	OrderTypeFOK       OrderType = 4
	OrderTypeMarket    OrderType = 5
	OrderTypeStopLimit OrderType = 100
)

var orderTypeNames = map[OrderType]string{
	OrderTypeLimit:     "LIMIT",
	OrderTypePostOnly:  "POST_ONLY",
	OrderTypeIOC:       "IMMEDIATE_OR_CANCEL",
	OrderTypeFOK:       "FILL_OR_KILL",
	OrderTypeMarket:    "MARKET",
	OrderTypeStopLimit: "STOP_LIMIT",
}

func (t OrderType) String() string {
	if name, ok := orderTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

// ParseOrderType 校验订单类型编码
func ParseOrderType(code int) (OrderType, error) {
	if _, ok := orderTypeNames[OrderType(code)]; !ok {
		return 0, fmt.Errorf("invalid order type %d", code)
	}
	return OrderType(code), nil
}

// OrderStatus 订单状态
type OrderStatus int

const (
	OrderStatusNew               OrderStatus = 1
	OrderStatusFilled            OrderStatus = 2
	OrderStatusPartiallyFilled   OrderStatus = 3
	OrderStatusCanceled          OrderStatus = 4
	OrderStatusPartiallyCanceled OrderStatus = 5
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusNew:               "NEW",
	OrderStatusFilled:            "FILLED",
	OrderStatusPartiallyFilled:   "PARTIALLY_FILLED",
	OrderStatusCanceled:          "CANCELED",
	OrderStatusPartiallyCanceled: "PARTIALLY_CANCELED",
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// Final 订单是否已终结
func (s OrderStatus) Final() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusPartiallyCanceled
}

// ParseOrderStatus 校验订单状态编码
func ParseOrderStatus(code int) (OrderStatus, error) {
	if _, ok := orderStatusNames[OrderStatus(code)]; !ok {
		return 0, fmt.Errorf("invalid order status %d", code)
	}
	return OrderStatus(code), nil
}

// Message 翻译后的强类型消息。具体类型为本文件中的 *XxxMessage。
type Message interface {
	Family() Family
	message()
}

// AccountDealsMessage 账户成交。Asset 是成交的交易对，取自外层 "s"。
type AccountDealsMessage struct {
	Asset           string
	Side            Side
	TradeTime       time.Time
	ClientOrderID   string
	OrderID         string
	IsMaker         bool
	Price           decimal.Decimal
	IsSelfTrade     bool
	TradeID         string
	Quantity        decimal.Decimal
	DealsAmount     decimal.Decimal
	CommissionFee   decimal.Decimal
	CommissionAsset string
	EventTime       time.Time
}

// AccountOrdersMessage 账户订单更新
type AccountOrdersMessage struct {
	Symbol         string
	OrderID        string
	ClientOrderID  string
	Side           Side
	Type           OrderType
	Status         OrderStatus
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Amount         decimal.Decimal
	RemainQuantity decimal.Decimal
	RemainAmount   decimal.Decimal
	IsMaker        bool
	// 以下字段只在有成交时推送
	AvgPrice           decimal.NullDecimal
	CumulativeQuantity decimal.NullDecimal
	CumulativeAmount   decimal.NullDecimal
	CreateTime         time.Time
	EventTime          time.Time
}

// AccountBalanceMessage 余额变动
type AccountBalanceMessage struct {
	Asset        string
	ChangeTime   time.Time
	Free         decimal.Decimal
	FreeChange   decimal.Decimal
	Locked       decimal.Decimal
	LockedChange decimal.Decimal
	// ChangeType 例如 ENTRUST、WITHDRAW、DEPOSIT
	ChangeType string
	EventTime  time.Time
}

// Deal 单笔公共成交
type Deal struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// DealsMessage 公共成交批次，保持推送顺序。
type DealsMessage struct {
	Symbol    string
	Deals     []Deal
	EventTime time.Time
}

// KlineMessage K 线
type KlineMessage struct {
	Symbol    string
	Interval  KlineInterval
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Amount    decimal.Decimal
	EventTime time.Time
}

// Level 一档价格
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DepthMessage 深度推送；Incremental 为 true 时是增量，数量为 0 表示删除该档。
type DepthMessage struct {
	Symbol      string
	Incremental bool
	Version     string
	Asks        []Level
	Bids        []Level
	EventTime   time.Time
}

func (*AccountDealsMessage) Family() Family   { return FamilyAccountDeals }
func (*AccountOrdersMessage) Family() Family  { return FamilyAccountOrders }
func (*AccountBalanceMessage) Family() Family { return FamilyAccountBalance }
func (*DealsMessage) Family() Family          { return FamilyDeals }
func (*KlineMessage) Family() Family          { return FamilyKline }
func (*DepthMessage) Family() Family          { return FamilyDepth }

func (*AccountDealsMessage) message()   {}
func (*AccountOrdersMessage) message()  {}
func (*AccountBalanceMessage) message() {}
func (*DealsMessage) message()          {}
func (*KlineMessage) message()          {}
func (*DepthMessage) message()          {}

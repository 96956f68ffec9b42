package stream

import (
	"fmt"
	"strconv"
)

// TopicKind 频道种类
type TopicKind int

const (
	TopicAccountDeals TopicKind = iota + 1
	TopicAccountOrders
	TopicAccountBalance
	TopicDeals
	TopicKline
	TopicOrderBook
	TopicOrderBookDiff
)

func (k TopicKind) String() string {
	switch k {
	case TopicAccountDeals:
		return "account_deals"
	case TopicAccountOrders:
		return "account_orders"
	case TopicAccountBalance:
		return "account_balance"
	case TopicDeals:
		return "deals"
	case TopicKline:
		return "kline"
	case TopicOrderBook:
		return "order_book"
	case TopicOrderBookDiff:
		return "order_book_diff"
	default:
		return "unknown"
	}
}

// KlineInterval K 线周期，取值即线上名称。
type KlineInterval int

const (
	Min1 KlineInterval = iota + 1
	Min5
	Min15
	Min30
	Min60
	Hour4
	Hour8
	Day1
	Week1
	Month1
)

var klineIntervalNames = map[KlineInterval]string{
	Min1:   "Min1",
	Min5:   "Min5",
	Min15:  "Min15",
	Min30:  "Min30",
	Min60:  "Min60",
	Hour4:  "Hour4",
	Hour8:  "Hour8",
	Day1:   "Day1",
	Week1:  "Week1",
	Month1: "Month1",
}

func (i KlineInterval) String() string {
	if name, ok := klineIntervalNames[i]; ok {
		return name
	}
	return "KlineInterval(" + strconv.Itoa(int(i)) + ")"
}

// Valid 是否为已知周期
func (i KlineInterval) Valid() bool {
	_, ok := klineIntervalNames[i]
	return ok
}

// ParseKlineInterval 解析线上周期名，例如 "Min15"。
func ParseKlineInterval(s string) (KlineInterval, error) {
	for iv, name := range klineIntervalNames {
		if name == s {
			return iv, nil
		}
	}
	return 0, fmt.Errorf("unknown kline interval %q", s)
}

// DepthLevel 有限档深度的档位数
type DepthLevel int

const (
	Depth5  DepthLevel = 5
	Depth10 DepthLevel = 10
	Depth20 DepthLevel = 20
)

// Valid 是否为交易所支持的档位
func (d DepthLevel) Valid() bool {
	switch d {
	case Depth5, Depth10, Depth20:
		return true
	}
	return false
}

// ParseDepthLevel 校验整数档位
func ParseDepthLevel(n int) (DepthLevel, error) {
	d := DepthLevel(n)
	if !d.Valid() {
		return 0, fmt.Errorf("unsupported depth level %d (want 5, 10 or 20)", n)
	}
	return d, nil
}

// Topic 描述一个可订阅频道。Topic 是不可变的值类型，可直接作为 map key。
// 使用 AccountDealsTopic、DealsTopic 等构造函数创建。
type Topic struct {
	kind     TopicKind
	symbol   string
	interval KlineInterval
	depth    DepthLevel
}

// AccountDealsTopic 账户成交
func AccountDealsTopic() Topic { return Topic{kind: TopicAccountDeals} }

// AccountOrdersTopic 账户订单
func AccountOrdersTopic() Topic { return Topic{kind: TopicAccountOrders} }

// AccountBalanceTopic 账户余额变动
func AccountBalanceTopic() Topic { return Topic{kind: TopicAccountBalance} }

// DealsTopic 逐笔成交
func DealsTopic(symbol string) Topic { return Topic{kind: TopicDeals, symbol: symbol} }

// KlineTopic K 线
func KlineTopic(symbol string, interval KlineInterval) Topic {
	return Topic{kind: TopicKline, symbol: symbol, interval: interval}
}

// OrderBookTopic 有限档深度快照
func OrderBookTopic(symbol string, depth DepthLevel) Topic {
	return Topic{kind: TopicOrderBook, symbol: symbol, depth: depth}
}

// OrderBookDiffTopic 增量深度
func OrderBookDiffTopic(symbol string) Topic {
	return Topic{kind: TopicOrderBookDiff, symbol: symbol}
}

func (t Topic) Kind() TopicKind         { return t.kind }
func (t Topic) Symbol() string          { return t.symbol }
func (t Topic) Interval() KlineInterval { return t.interval }
func (t Topic) Depth() DepthLevel       { return t.depth }
func (t Topic) String() string          { return t.SubscriptionString() }

// RequiresAuth 私有频道需要 listenKey。
func (t Topic) RequiresAuth() bool {
	switch t.kind {
	case TopicAccountDeals, TopicAccountOrders, TopicAccountBalance:
		return true
	default:
		return false
	}
}

// Family 该频道推送的消息族
func (t Topic) Family() Family {
	switch t.kind {
	case TopicAccountDeals:
		return FamilyAccountDeals
	case TopicAccountOrders:
		return FamilyAccountOrders
	case TopicAccountBalance:
		return FamilyAccountBalance
	case TopicDeals:
		return FamilyDeals
	case TopicKline:
		return FamilyKline
	case TopicOrderBook, TopicOrderBookDiff:
		return FamilyDepth
	default:
		return FamilyUnknown
	}
}

// SubscriptionString 线上订阅名，同时也是推送帧的 "c" 字段。
func (t Topic) SubscriptionString() string {
	switch t.kind {
	case TopicAccountDeals:
		return channelAccountDeals
	case TopicAccountOrders:
		return channelAccountOrders
	case TopicAccountBalance:
		return channelAccountBalance
	case TopicDeals:
		return channelDeals + "@" + t.symbol
	case TopicKline:
		return channelKline + "@" + t.symbol + "@" + t.interval.String()
	case TopicOrderBook:
		return channelLimitDepth + "@" + t.symbol + "@" + strconv.Itoa(int(t.depth))
	case TopicOrderBookDiff:
		return channelIncreaseDepth + "@" + t.symbol
	default:
		return ""
	}
}

// Validate 拒绝通过零值或类型转换构造出的非法 Topic。
func (t Topic) Validate() error {
	switch t.kind {
	case TopicAccountDeals, TopicAccountOrders, TopicAccountBalance:
		return nil
	case TopicDeals, TopicOrderBookDiff:
		if t.symbol == "" {
			return fmt.Errorf("%s topic: symbol required", t.kind)
		}
	case TopicKline:
		if t.symbol == "" {
			return fmt.Errorf("%s topic: symbol required", t.kind)
		}
		if !t.interval.Valid() {
			return fmt.Errorf("%s topic: invalid interval %s", t.kind, t.interval)
		}
	case TopicOrderBook:
		if t.symbol == "" {
			return fmt.Errorf("%s topic: symbol required", t.kind)
		}
		if !t.depth.Valid() {
			return fmt.Errorf("%s topic: invalid depth %d", t.kind, t.depth)
		}
	default:
		return fmt.Errorf("invalid topic kind %d", t.kind)
	}
	return nil
}

// 频道前缀
const (
	channelAccountDeals   = "spot@private.deals.v3.api"
	channelAccountOrders  = "spot@private.orders.v3.api"
	channelAccountBalance = "spot@private.account.v3.api"
	channelDeals          = "spot@public.deals.v3.api"
	channelKline          = "spot@public.kline.v3.api"
	channelLimitDepth     = "spot@public.limit.depth.v3.api"
	channelIncreaseDepth  = "spot@public.increase.depth.v3.api"
)

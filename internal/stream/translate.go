package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidChannelMessage 负载与目标消息族不匹配，或缺少必需字段。
var ErrInvalidChannelMessage = errors.New("invalid channel message")

// TranslationError 翻译失败，errors.Is(err, ErrInvalidChannelMessage) 恒为 true。
type TranslationError struct {
	Family  Family
	Channel string
	Reason  string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %s on %s: %s: %s", e.Family, e.Channel, ErrInvalidChannelMessage, e.Reason)
}

func (e *TranslationError) Unwrap() error { return ErrInvalidChannelMessage }

func invalid(env *Envelope, family Family, format string, args ...any) error {
	return &TranslationError{Family: family, Channel: env.Channel, Reason: fmt.Sprintf(format, args...)}
}

// Translate 按负载类型分派到具体翻译函数。
func Translate(env *Envelope) (Message, error) {
	if env == nil {
		return nil, &TranslationError{Reason: "nil envelope"}
	}
	switch env.Payload.(type) {
	case *RawAccountDeals:
		return TranslateAccountDeals(env)
	case *RawAccountOrder:
		return TranslateAccountOrders(env)
	case *RawAccountBalance:
		return TranslateAccountBalance(env)
	case *RawDeals:
		return TranslateDeals(env)
	case *RawKline:
		return TranslateKline(env)
	case *RawDepth:
		return TranslateDepth(env)
	default:
		return nil, invalid(env, FamilyUnknown, "no translator for payload %T", env.Payload)
	}
}

// TranslateAccountDeals spot@private.deals.v3.api
func TranslateAccountDeals(env *Envelope) (*AccountDealsMessage, error) {
	raw, ok := env.Payload.(*RawAccountDeals)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyAccountDeals, "payload is %T", env.Payload)
	}
	if env.Symbol == "" {
		return nil, invalid(env, FamilyAccountDeals, "missing symbol")
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyAccountDeals, "%v", err)
	}
	side, err := ParseSide(*raw.Side)
	if err != nil {
		return nil, invalid(env, FamilyAccountDeals, "%v", err)
	}
	isMaker, err := parseFlag("m", *raw.IsMaker)
	if err != nil {
		return nil, invalid(env, FamilyAccountDeals, "%v", err)
	}
	isSelfTrade, err := parseFlag("st", *raw.IsSelfTrade)
	if err != nil {
		return nil, invalid(env, FamilyAccountDeals, "%v", err)
	}
	return &AccountDealsMessage{
		Asset:           env.Symbol,
		Side:            side,
		TradeTime:       fromMillis(*raw.TradeTime),
		ClientOrderID:   *raw.ClientOrderID,
		OrderID:         *raw.OrderID,
		IsMaker:         isMaker,
		Price:           *raw.Price,
		IsSelfTrade:     isSelfTrade,
		TradeID:         *raw.TradeID,
		Quantity:        *raw.Quantity,
		DealsAmount:     *raw.DealsAmount,
		CommissionFee:   *raw.CommissionFee,
		CommissionAsset: *raw.CommissionAsset,
		EventTime:       env.Timestamp,
	}, nil
}

// TranslateAccountOrders spot@private.orders.v3.api
func TranslateAccountOrders(env *Envelope) (*AccountOrdersMessage, error) {
	raw, ok := env.Payload.(*RawAccountOrder)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyAccountOrders, "payload is %T", env.Payload)
	}
	if env.Symbol == "" {
		return nil, invalid(env, FamilyAccountOrders, "missing symbol")
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyAccountOrders, "%v", err)
	}
	side, err := ParseSide(*raw.Side)
	if err != nil {
		return nil, invalid(env, FamilyAccountOrders, "%v", err)
	}
	orderType, err := ParseOrderType(*raw.OrderType)
	if err != nil {
		return nil, invalid(env, FamilyAccountOrders, "%v", err)
	}
	status, err := ParseOrderStatus(*raw.Status)
	if err != nil {
		return nil, invalid(env, FamilyAccountOrders, "%v", err)
	}
	isMaker, err := parseFlag("m", *raw.IsMaker)
	if err != nil {
		return nil, invalid(env, FamilyAccountOrders, "%v", err)
	}
	return &AccountOrdersMessage{
		Symbol:             env.Symbol,
		OrderID:            *raw.OrderID,
		ClientOrderID:      *raw.ClientOrderID,
		Side:               side,
		Type:               orderType,
		Status:             status,
		Price:              *raw.Price,
		Quantity:           *raw.Quantity,
		Amount:             *raw.Amount,
		RemainQuantity:     *raw.RemainQuantity,
		RemainAmount:       *raw.RemainAmount,
		IsMaker:            isMaker,
		AvgPrice:           nullDecimal(raw.AvgPrice),
		CumulativeQuantity: nullDecimal(raw.CumulativeQuantity),
		CumulativeAmount:   nullDecimal(raw.CumulativeAmount),
		CreateTime:         fromMillis(*raw.CreateTime),
		EventTime:          env.Timestamp,
	}, nil
}

// TranslateAccountBalance spot@private.account.v3.api，资产在负载中，不要求 symbol。
func TranslateAccountBalance(env *Envelope) (*AccountBalanceMessage, error) {
	raw, ok := env.Payload.(*RawAccountBalance)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyAccountBalance, "payload is %T", env.Payload)
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyAccountBalance, "%v", err)
	}
	return &AccountBalanceMessage{
		Asset:        *raw.Asset,
		ChangeTime:   fromMillis(*raw.ChangeTime),
		Free:         *raw.Free,
		FreeChange:   *raw.FreeChange,
		Locked:       *raw.Locked,
		LockedChange: *raw.LockedChange,
		ChangeType:   *raw.ChangeType,
		EventTime:    env.Timestamp,
	}, nil
}

// TranslateDeals spot@public.deals.v3.api@<symbol>
func TranslateDeals(env *Envelope) (*DealsMessage, error) {
	raw, ok := env.Payload.(*RawDeals)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyDeals, "payload is %T", env.Payload)
	}
	if env.Symbol == "" {
		return nil, invalid(env, FamilyDeals, "missing symbol")
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyDeals, "%v", err)
	}
	deals := make([]Deal, 0, len(*raw.Deals))
	for i, d := range *raw.Deals {
		side, err := ParseSide(*d.Side)
		if err != nil {
			return nil, invalid(env, FamilyDeals, "deals[%d]: %v", i, err)
		}
		deals = append(deals, Deal{
			Side:     side,
			Price:    *d.Price,
			Quantity: *d.Quantity,
			Time:     fromMillis(*d.Time),
		})
	}
	return &DealsMessage{Symbol: env.Symbol, Deals: deals, EventTime: env.Timestamp}, nil
}

// TranslateKline spot@public.kline.v3.api@<symbol>@<interval>；K 线窗口时间为秒。
func TranslateKline(env *Envelope) (*KlineMessage, error) {
	raw, ok := env.Payload.(*RawKline)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyKline, "payload is %T", env.Payload)
	}
	if env.Symbol == "" {
		return nil, invalid(env, FamilyKline, "missing symbol")
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyKline, "%v", err)
	}
	k := raw.K
	interval, err := ParseKlineInterval(*k.Interval)
	if err != nil {
		return nil, invalid(env, FamilyKline, "%v", err)
	}
	return &KlineMessage{
		Symbol:    env.Symbol,
		Interval:  interval,
		OpenTime:  fromSeconds(*k.OpenTime),
		CloseTime: fromSeconds(*k.CloseTime),
		Open:      *k.Open,
		High:      *k.High,
		Low:       *k.Low,
		Close:     *k.Close,
		Volume:    *k.Volume,
		Amount:    *k.Amount,
		EventTime: env.Timestamp,
	}, nil
}

// TranslateDepth 有限档快照与增量深度共用。
func TranslateDepth(env *Envelope) (*DepthMessage, error) {
	raw, ok := env.Payload.(*RawDepth)
	if !ok || raw == nil {
		return nil, invalid(env, FamilyDepth, "payload is %T", env.Payload)
	}
	if env.Symbol == "" {
		return nil, invalid(env, FamilyDepth, "missing symbol")
	}
	if err := raw.validate(); err != nil {
		return nil, invalid(env, FamilyDepth, "%v", err)
	}
	msg := &DepthMessage{
		Symbol:      env.Symbol,
		Incremental: raw.Incremental,
		Asks:        levels(raw.Asks),
		Bids:        levels(raw.Bids),
		EventTime:   env.Timestamp,
	}
	if raw.Version != nil {
		msg.Version = raw.Version.String()
	}
	return msg, nil
}

func levels(entries *[]RawDepthEntry) []Level {
	if entries == nil {
		return nil
	}
	out := make([]Level, 0, len(*entries))
	for _, e := range *entries {
		out = append(out, Level{Price: *e.Price, Quantity: *e.Quantity})
	}
	return out
}

// parseFlag 0/1 标志位，其它值非法。
func parseFlag(name string, v int) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid flag %s=%d", name, v)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
func fromSeconds(s int64) time.Time { return time.Unix(s, 0).UTC() }

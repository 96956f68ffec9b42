package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Family 推送消息族，由频道名唯一决定。
type Family int

const (
	FamilyUnknown Family = iota
	FamilyAccountDeals
	FamilyAccountOrders
	FamilyAccountBalance
	FamilyDeals
	FamilyKline
	FamilyDepth
)

func (f Family) String() string {
	switch f {
	case FamilyAccountDeals:
		return "account_deals"
	case FamilyAccountOrders:
		return "account_orders"
	case FamilyAccountBalance:
		return "account_balance"
	case FamilyDeals:
		return "deals"
	case FamilyKline:
		return "kline"
	case FamilyDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// FamilyForChannel 按频道前缀判断消息族；未知频道返回 FamilyUnknown。
func FamilyForChannel(channel string) Family {
	// 频道形如 spot@public.deals.v3.api@BTCUSDT，前两段决定消息族
	parts := strings.SplitN(channel, "@", 3)
	if len(parts) < 2 {
		return FamilyUnknown
	}
	switch parts[0] + "@" + parts[1] {
	case channelAccountDeals:
		return FamilyAccountDeals
	case channelAccountOrders:
		return FamilyAccountOrders
	case channelAccountBalance:
		return FamilyAccountBalance
	case channelDeals:
		return FamilyDeals
	case channelKline:
		return FamilyKline
	case channelLimitDepth, channelIncreaseDepth:
		return FamilyDepth
	default:
		return FamilyUnknown
	}
}

// Envelope 一帧推送数据的外层结构。
type Envelope struct {
	// Channel 原样保留的 "c" 字段，用于路由
	Channel string
	// Symbol 来自 "s" 字段；缺失时从公共频道名中提取，私有频道可能为空
	Symbol string
	// Timestamp 推送时间（"t"，毫秒）
	Timestamp time.Time
	Payload   Payload
}

// Family 当前帧的消息族
func (e *Envelope) Family() Family {
	if e == nil || e.Payload == nil {
		return FamilyUnknown
	}
	return e.Payload.Family()
}

// Payload 是 Envelope 中 "d" 字段解码后的值，只能是本包定义的 Raw* 类型或 Unrecognized。
type Payload interface {
	Family() Family
	payload()
}

// Unrecognized 未知频道的负载，保留解析后的 JSON 值。
type Unrecognized struct {
	Value any
}

func (Unrecognized) Family() Family { return FamilyUnknown }
func (Unrecognized) payload()       {}

// RawAccountDeals spot@private.deals.v3.api
type RawAccountDeals struct {
	Side            *int             `json:"S"`
	TradeTime       *int64           `json:"T"`
	ClientOrderID   *string          `json:"c"`
	OrderID         *string          `json:"i"`
	IsMaker         *int             `json:"m"`
	Price           *decimal.Decimal `json:"p"`
	IsSelfTrade     *int             `json:"st"`
	TradeID         *string          `json:"t"`
	Quantity        *decimal.Decimal `json:"v"`
	DealsAmount     *decimal.Decimal `json:"a"`
	CommissionFee   *decimal.Decimal `json:"n"`
	CommissionAsset *string          `json:"N"`
}

func (*RawAccountDeals) Family() Family { return FamilyAccountDeals }
func (*RawAccountDeals) payload()       {}

func (r *RawAccountDeals) validate() error {
	return requireFields(
		field("S", r.Side != nil),
		field("T", r.TradeTime != nil),
		field("c", r.ClientOrderID != nil),
		field("i", r.OrderID != nil),
		field("m", r.IsMaker != nil),
		field("p", r.Price != nil),
		field("st", r.IsSelfTrade != nil),
		field("t", r.TradeID != nil),
		field("v", r.Quantity != nil),
		field("a", r.DealsAmount != nil),
		field("n", r.CommissionFee != nil),
		field("N", r.CommissionAsset != nil),
	)
}

// RawAccountOrder spot@private.orders.v3.api
type RawAccountOrder struct {
	RemainAmount       *decimal.Decimal `json:"A"`
	CreateTime         *int64           `json:"O"`
	Side               *int             `json:"S"`
	RemainQuantity     *decimal.Decimal `json:"V"`
	Amount             *decimal.Decimal `json:"a"`
	ClientOrderID      *string          `json:"c"`
	OrderID            *string          `json:"i"`
	IsMaker            *int             `json:"m"`
	OrderType          *int             `json:"o"`
	Price              *decimal.Decimal `json:"p"`
	Status             *int             `json:"s"`
	Quantity           *decimal.Decimal `json:"v"`
	AvgPrice           *decimal.Decimal `json:"ap"`
	CumulativeQuantity *decimal.Decimal `json:"cv"`
	CumulativeAmount   *decimal.Decimal `json:"ca"`
}

func (*RawAccountOrder) Family() Family { return FamilyAccountOrders }
func (*RawAccountOrder) payload()       {}

func (r *RawAccountOrder) validate() error {
	return requireFields(
		field("A", r.RemainAmount != nil),
		field("O", r.CreateTime != nil),
		field("S", r.Side != nil),
		field("V", r.RemainQuantity != nil),
		field("a", r.Amount != nil),
		field("c", r.ClientOrderID != nil),
		field("i", r.OrderID != nil),
		field("m", r.IsMaker != nil),
		field("o", r.OrderType != nil),
		field("p", r.Price != nil),
		field("s", r.Status != nil),
		field("v", r.Quantity != nil),
	)
}

// RawAccountBalance spot@private.account.v3.api
type RawAccountBalance struct {
	Asset        *string          `json:"a"`
	ChangeTime   *int64           `json:"c"`
	Free         *decimal.Decimal `json:"f"`
	FreeChange   *decimal.Decimal `json:"fd"`
	Locked       *decimal.Decimal `json:"l"`
	LockedChange *decimal.Decimal `json:"ld"`
	ChangeType   *string          `json:"o"`
}

func (*RawAccountBalance) Family() Family { return FamilyAccountBalance }
func (*RawAccountBalance) payload()       {}

func (r *RawAccountBalance) validate() error {
	return requireFields(
		field("a", r.Asset != nil),
		field("c", r.ChangeTime != nil),
		field("f", r.Free != nil),
		field("fd", r.FreeChange != nil),
		field("l", r.Locked != nil),
		field("ld", r.LockedChange != nil),
		field("o", r.ChangeType != nil),
	)
}

// RawDeals spot@public.deals.v3.api@<symbol>
type RawDeals struct {
	Deals     *[]RawDeal `json:"deals"`
	EventType *string    `json:"e"`
}

// RawDeal 单笔公共成交
type RawDeal struct {
	Side     *int             `json:"S"`
	Price    *decimal.Decimal `json:"p"`
	Time     *int64           `json:"t"`
	Quantity *decimal.Decimal `json:"v"`
}

func (*RawDeals) Family() Family { return FamilyDeals }
func (*RawDeals) payload()       {}

func (r *RawDeals) validate() error {
	if err := requireFields(field("deals", r.Deals != nil)); err != nil {
		return err
	}
	for i, d := range *r.Deals {
		err := requireFields(
			field("S", d.Side != nil),
			field("p", d.Price != nil),
			field("t", d.Time != nil),
			field("v", d.Quantity != nil),
		)
		if err != nil {
			return fmt.Errorf("deals[%d]: %w", i, err)
		}
	}
	return nil
}

// RawKline spot@public.kline.v3.api@<symbol>@<interval>
type RawKline struct {
	K *RawKlineBar `json:"k"`
}

// RawKlineBar K 线柱；t/T 为秒级时间戳。
type RawKlineBar struct {
	CloseTime *int64           `json:"T"`
	Amount    *decimal.Decimal `json:"a"`
	Close     *decimal.Decimal `json:"c"`
	High      *decimal.Decimal `json:"h"`
	Interval  *string          `json:"i"`
	Low       *decimal.Decimal `json:"l"`
	Open      *decimal.Decimal `json:"o"`
	OpenTime  *int64           `json:"t"`
	Volume    *decimal.Decimal `json:"v"`
}

func (*RawKline) Family() Family { return FamilyKline }
func (*RawKline) payload()       {}

func (r *RawKline) validate() error {
	if err := requireFields(field("k", r.K != nil)); err != nil {
		return err
	}
	k := r.K
	err := requireFields(
		field("T", k.CloseTime != nil),
		field("a", k.Amount != nil),
		field("c", k.Close != nil),
		field("h", k.High != nil),
		field("i", k.Interval != nil),
		field("l", k.Low != nil),
		field("o", k.Open != nil),
		field("t", k.OpenTime != nil),
		field("v", k.Volume != nil),
	)
	if err != nil {
		return fmt.Errorf("k: %w", err)
	}
	return nil
}

// RawDepth 有限档快照或增量深度。增量推送可能只带一侧。
type RawDepth struct {
	Asks    *[]RawDepthEntry `json:"asks"`
	Bids    *[]RawDepthEntry `json:"bids"`
	Version *json.Number     `json:"r"`
	// Incremental 由频道名决定，不来自 JSON
	Incremental bool `json:"-"`
}

// RawDepthEntry 单档价格与数量
type RawDepthEntry struct {
	Price    *decimal.Decimal `json:"p"`
	Quantity *decimal.Decimal `json:"v"`
}

func (*RawDepth) Family() Family { return FamilyDepth }
func (*RawDepth) payload()       {}

func (r *RawDepth) validate() error {
	var err error
	if r.Incremental {
		if r.Asks == nil && r.Bids == nil {
			return errors.New("missing fields [asks|bids]")
		}
		err = requireFields(field("r", r.Version != nil))
	} else {
		err = requireFields(field("asks", r.Asks != nil), field("bids", r.Bids != nil))
	}
	if err != nil {
		return err
	}
	for name, side := range map[string]*[]RawDepthEntry{"asks": r.Asks, "bids": r.Bids} {
		if side == nil {
			continue
		}
		for i, e := range *side {
			if err := requireFields(field("p", e.Price != nil), field("v", e.Quantity != nil)); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

type fieldCheck struct {
	name    string
	present bool
}

func field(name string, present bool) fieldCheck {
	return fieldCheck{name: name, present: present}
}

func requireFields(checks ...fieldCheck) error {
	var missing []string
	for _, c := range checks {
		if !c.present {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields [%s]", strings.Join(missing, " "))
	}
	return nil
}

// DecodeErrorKind 解码失败的原因
type DecodeErrorKind int

const (
	InvalidJSON DecodeErrorKind = iota + 1
	MissingChannel
	MissingTimestamp
	MalformedPayload
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidJSON:
		return "invalid json"
	case MissingChannel:
		return "missing channel"
	case MissingTimestamp:
		return "missing timestamp"
	case MalformedPayload:
		return "malformed payload"
	default:
		return "unknown"
	}
}

// 与 DecodeError 配合 errors.Is 使用的哨兵错误
var (
	ErrInvalidJSON      = errors.New("invalid json")
	ErrMissingChannel   = errors.New("missing channel")
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrMalformedPayload = errors.New("malformed payload")
)

// DecodeError 单帧解码失败；不影响后续帧。
type DecodeError struct {
	Kind    DecodeErrorKind
	Channel string
	Family  Family
	Err     error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode frame: ")
	b.WriteString(e.Kind.String())
	if e.Kind == MalformedPayload {
		b.WriteString(" for ")
		b.WriteString(e.Family.String())
	}
	if e.Channel != "" {
		b.WriteString(" on ")
		b.WriteString(e.Channel)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrMissingTimestamp) 等判断生效。
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrInvalidJSON:
		return e.Kind == InvalidJSON
	case ErrMissingChannel:
		return e.Kind == MissingChannel
	case ErrMissingTimestamp:
		return e.Kind == MissingTimestamp
	case ErrMalformedPayload:
		return e.Kind == MalformedPayload
	}
	return false
}

// Decode 将一帧 JSON 文本解析为 Envelope。
// 已知频道的负载按消息族解码并校验必填字段；未知频道得到 Unrecognized。
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Kind: InvalidJSON, Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Kind: InvalidJSON, Err: errors.New("frame is not an object")}
	}

	var channel string
	c, ok := fields["c"]
	if !ok {
		return nil, &DecodeError{Kind: MissingChannel}
	}
	if err := json.Unmarshal(c, &channel); err != nil || channel == "" {
		return nil, &DecodeError{Kind: MissingChannel, Err: err}
	}

	family := FamilyForChannel(channel)
	t, ok := fields["t"]
	if !ok {
		return nil, &DecodeError{Kind: MissingTimestamp, Channel: channel, Family: family}
	}
	var ms int64
	if err := json.Unmarshal(t, &ms); err != nil {
		return nil, &DecodeError{Kind: MissingTimestamp, Channel: channel, Family: family, Err: err}
	}

	env := &Envelope{
		Channel:   channel,
		Timestamp: time.UnixMilli(ms).UTC(),
	}
	if s, ok := fields["s"]; ok {
		if err := json.Unmarshal(s, &env.Symbol); err != nil {
			return nil, &DecodeError{Kind: MalformedPayload, Channel: channel, Family: family, Err: fmt.Errorf("field s: %w", err)}
		}
	}
	if env.Symbol == "" {
		env.Symbol = symbolFromChannel(channel)
	}

	payload, err := decodePayload(family, channel, fields["d"])
	if err != nil {
		return nil, &DecodeError{Kind: MalformedPayload, Channel: channel, Family: family, Err: err}
	}
	env.Payload = payload
	return env, nil
}

func decodePayload(family Family, channel string, data json.RawMessage) (Payload, error) {
	var p interface {
		Payload
		validate() error
	}
	switch family {
	case FamilyAccountDeals:
		p = &RawAccountDeals{}
	case FamilyAccountOrders:
		p = &RawAccountOrder{}
	case FamilyAccountBalance:
		p = &RawAccountBalance{}
	case FamilyDeals:
		p = &RawDeals{}
	case FamilyKline:
		p = &RawKline{}
	case FamilyDepth:
		p = &RawDepth{Incremental: strings.HasPrefix(channel, channelIncreaseDepth)}
	default:
		var v any
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
		}
		return Unrecognized{Value: v}, nil
	}

	if len(data) == 0 || string(data) == "null" {
		return nil, errors.New("missing field d")
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// symbolFromChannel 公共频道的第三段是交易对，例如 spot@public.deals.v3.api@BTCUSDT。
func symbolFromChannel(channel string) string {
	parts := strings.Split(channel, "@")
	if len(parts) >= 3 && strings.HasPrefix(parts[1], "public.") {
		return parts[2]
	}
	return ""
}

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	gateway "github.com/newplayman/mexc-connector/internal/exchange"
	"github.com/newplayman/mexc-connector/internal/metrics"
)

var (
	// ErrSessionClosed 会话已关闭或连接已断开
	ErrSessionClosed = errors.New("stream session closed")
	// ErrNotSubscribed 退订一个未订阅的频道
	ErrNotSubscribed = errors.New("topic not subscribed")
	// ErrUnsubscribePending 频道正在退订，确认前不能重新订阅
	ErrUnsubscribePending = errors.New("unsubscribe pending for topic")
)

// SubscriptionRejectedError 交易所拒绝了订阅（或退订）请求。
type SubscriptionRejectedError struct {
	Channel string
	Reason  string
}

func (e *SubscriptionRejectedError) Error() string {
	if e.Reason == "" {
		return "subscription rejected: " + e.Channel
	}
	return fmt.Sprintf("subscription rejected: %s: %s", e.Channel, e.Reason)
}

// State 会话状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	defaultMessageBuffer = 256
	defaultErrorBuffer   = 64
)

// Options 会话选项
type Options struct {
	// ListenKey 私有频道凭证；为空时订阅私有频道返回 ErrAuthRequired
	ListenKey string
	Logger    *zerolog.Logger
	// MessageBuffer 每个订阅者的消息缓冲
	MessageBuffer int
	// ErrorBuffer Errors() 缓冲，满了之后新错误被丢弃
	ErrorBuffer int
	// OnUnrecognized 未知频道的数据帧，在读循环中同步调用
	OnUnrecognized func(*Envelope)
}

// Subscription 一个订阅者。同一频道可以有多个订阅者，各自收到全部消息。
type Subscription struct {
	topic Topic
	msgs  chan Message
	ack   chan error
	acked bool // 由 Session.mu 保护
}

// Topic 订阅的频道
func (s *Subscription) Topic() Topic { return s.topic }

// Messages 按到达顺序推送的消息；退订确认、订阅被拒或会话关闭后通道关闭。
func (s *Subscription) Messages() <-chan Message { return s.msgs }

// Ack 只产生一个值：nil 表示交易所已确认，*SubscriptionRejectedError 表示被拒，
// 会话在确认前关闭则为 ErrSessionClosed。
func (s *Subscription) Ack() <-chan error { return s.ack }

func (s *Subscription) resolve(err error) {
	if s.acked {
		return
	}
	s.acked = true
	s.ack <- err
}

type pendingOp int

const (
	opSubscribe pendingOp = iota
	opUnsubscribe
)

type topicState struct {
	topic         Topic
	subs          []*Subscription
	confirmed     bool
	unsubscribing bool
	// pending 已发送未确认的请求；确认帧只带频道名，按发送顺序匹配
	pending []pendingOp
	waiters []chan error
}

func (ts *topicState) popPending() (pendingOp, bool) {
	if len(ts.pending) == 0 {
		return 0, false
	}
	op := ts.pending[0]
	ts.pending = ts.pending[1:]
	return op, true
}

// Session 一条 WebSocket 连接上的订阅管理器。
// 所有入站帧由单个读循环按到达顺序处理；订阅/退订请求与订阅集合的修改在同一把锁下串行。
// 连接断开后会话终结，不自动重连，调用方通过 Done()/Err() 感知后自行重建。
type Session struct {
	transport Transport
	opts      Options
	log       zerolog.Logger
	state     atomic.Int32

	mu     sync.Mutex
	topics map[string]*topicState
	nextID int64
	closed bool
	err    error

	errs      chan error
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Connect 建立连接并启动会话。ListenKey 非空时附加到 URL。
func Connect(ctx context.Context, dialer Dialer, endpoint string, opts Options) (*Session, error) {
	if dialer == nil {
		dialer = NewWSDialer()
	}
	target := endpoint
	if opts.ListenKey != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "listenKey=" + url.QueryEscape(opts.ListenKey)
	}

	s := newSession(opts)
	s.state.Store(int32(StateConnecting))
	s.log.Info().Str("endpoint", endpoint).Bool("private", opts.ListenKey != "").Msg("connecting websocket")

	t, err := dialer.Dial(ctx, target)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		s.cancel()
		return nil, &gateway.TransportError{Op: "dial websocket", Err: err}
	}
	s.start(t)
	return s, nil
}

// NewSession 在已建立的 Transport 上启动会话。
func NewSession(t Transport, opts Options) *Session {
	s := newSession(opts)
	s.start(t)
	return s
}

func newSession(opts Options) *Session {
	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = defaultMessageBuffer
	}
	if opts.ErrorBuffer <= 0 {
		opts.ErrorBuffer = defaultErrorBuffer
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:   opts,
		log:    logger.With().Str("component", "stream_session").Logger(),
		topics: make(map[string]*topicState),
		errs:   make(chan error, opts.ErrorBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) start(t Transport) {
	s.transport = t
	s.state.Store(int32(StateConnected))
	go s.readLoop()
}

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// Done 会话终结（主动关闭或连接断开）后关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// Err 连接异常断开的原因；主动 Close 或仍在运行时为 nil。
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Errors 解码、翻译等非致命错误。只读，会话终结后关闭。
func (s *Session) Errors() <-chan error { return s.errs }

// Subscribe 订阅频道。请求发出后立即生效（乐观添加），交易所确认或拒绝通过 Ack() 通知；
// 被拒时订阅被回滚，Messages() 关闭。已订阅的频道直接挂载新的订阅者，不再发请求。
func (s *Session) Subscribe(ctx context.Context, topic Topic) (*Subscription, error) {
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if topic.RequiresAuth() && s.opts.ListenKey == "" {
		return nil, gateway.ErrAuthRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	key := topic.SubscriptionString()
	sub := &Subscription{
		topic: topic,
		msgs:  make(chan Message, s.opts.MessageBuffer),
		ack:   make(chan error, 1),
	}
	if ts, ok := s.topics[key]; ok {
		if ts.unsubscribing {
			return nil, ErrUnsubscribePending
		}
		ts.subs = append(ts.subs, sub)
		if ts.confirmed {
			sub.resolve(nil)
		}
		return sub, nil
	}

	if err := s.sendLocked(ctx, methodSubscribe, key); err != nil {
		return nil, err
	}
	s.topics[key] = &topicState{
		topic:   topic,
		subs:    []*Subscription{sub},
		pending: []pendingOp{opSubscribe},
	}
	metrics.SetActiveSubscriptions(len(s.topics))
	s.log.Debug().Str("channel", key).Msg("subscribe sent")
	return sub, nil
}

// Unsubscribe 退订频道并等待交易所确认。确认前频道仍然路由消息；
// 确认后该频道全部订阅者的 Messages() 关闭。
func (s *Session) Unsubscribe(ctx context.Context, topic Topic) error {
	key := topic.SubscriptionString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ts, ok := s.topics[key]
	if !ok {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	if !ts.unsubscribing {
		if err := s.sendLocked(ctx, methodUnsubscribe, key); err != nil {
			s.mu.Unlock()
			return err
		}
		ts.unsubscribing = true
		ts.pending = append(ts.pending, opUnsubscribe)
	}
	wait := make(chan error, 1)
	ts.waiters = append(ts.waiters, wait)
	s.mu.Unlock()

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping 发送应用层心跳，应答 PONG 被读循环忽略。
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.transport.Send(ctx, mustMarshal(controlRequest{Method: methodPing})); err != nil {
		return &gateway.TransportError{Op: "ping", Err: err}
	}
	metrics.RecordControlFrame("ping")
	return nil
}

// Close 停止读循环并释放连接。尚未被取走的缓冲消息被丢弃，全部订阅通道关闭。可重复调用。
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.State() != StateDisconnected {
			s.state.Store(int32(StateClosing))
		}
		s.cancel()
		_ = s.transport.Close()
	})
	<-s.done
	return nil
}

// sendLocked 调用方持有 s.mu
func (s *Session) sendLocked(ctx context.Context, method, channel string) error {
	s.nextID++
	frame := mustMarshal(controlRequest{ID: s.nextID, Method: method, Params: []string{channel}})
	if err := s.transport.Send(ctx, frame); err != nil {
		return &gateway.TransportError{Op: strings.ToLower(method), Err: err}
	}
	metrics.RecordControlFrame(strings.ToLower(method))
	return nil
}

func (s *Session) readLoop() {
	var loopErr error
	defer func() { s.finish(loopErr) }()

	for {
		frame, err := s.transport.Receive(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			loopErr = &gateway.TransportError{Op: "receive", Err: err}
			s.log.Warn().Err(err).Msg("websocket disconnected")
			return
		}
		if !s.handleFrame(frame) {
			return
		}
	}
}

// handleFrame 返回 false 表示会话正在关闭。
func (s *Session) handleFrame(frame []byte) bool {
	if cf, ok := ParseControl(frame); ok {
		s.handleControl(cf)
		return true
	}

	env, err := Decode(frame)
	if err != nil {
		family := FamilyUnknown
		var de *DecodeError
		if errors.As(err, &de) {
			family = de.Family
		}
		metrics.RecordStreamError("decode", family.String())
		s.reportError(err)
		return true
	}
	metrics.RecordWSMessage(env.Family().String())

	if _, ok := env.Payload.(Unrecognized); ok {
		if s.opts.OnUnrecognized != nil {
			s.opts.OnUnrecognized(env)
		} else {
			s.log.Debug().Str("channel", env.Channel).Msg("unrecognized channel")
		}
		return true
	}

	subs := s.subscribers(env.Channel)
	if len(subs) == 0 {
		s.log.Debug().Str("channel", env.Channel).Msg("no subscriber for channel")
		return true
	}

	msg, err := Translate(env)
	if err != nil {
		metrics.RecordStreamError("translate", env.Family().String())
		s.reportError(err)
		return true
	}
	for _, sub := range subs {
		select {
		case sub.msgs <- msg:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

func (s *Session) handleControl(cf ControlFrame) {
	if cf.IsPong() {
		metrics.RecordControlFrame("pong")
		return
	}
	if channels, reason, ok := cf.Rejection(); ok {
		metrics.RecordControlFrame("reject")
		if len(channels) == 0 {
			s.reportError(&SubscriptionRejectedError{Reason: reason})
		}
		for _, ch := range channels {
			s.resolve(ch, &SubscriptionRejectedError{Channel: ch, Reason: reason})
		}
		return
	}
	if cf.Code != 0 {
		metrics.RecordControlFrame("error")
		s.reportError(fmt.Errorf("control frame code %d: %s", cf.Code, cf.Msg))
		return
	}
	metrics.RecordControlFrame("ack")
	for _, ch := range cf.Channels() {
		s.resolve(ch, nil)
	}
}

// resolve 处理某频道最早一个未确认请求的应答。只在读循环中调用。
func (s *Session) resolve(channel string, rejected error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.topics[channel]
	if !ok {
		s.log.Debug().Str("channel", channel).Msg("ack for unknown channel")
		return
	}
	op, ok := ts.popPending()
	if !ok {
		s.log.Debug().Str("channel", channel).Msg("unexpected ack")
		return
	}

	switch op {
	case opSubscribe:
		if rejected != nil {
			s.log.Warn().Str("channel", channel).Err(rejected).Msg("subscription rejected, rolling back")
			s.removeLocked(channel, ts, rejected, nil)
			return
		}
		ts.confirmed = true
		for _, sub := range ts.subs {
			sub.resolve(nil)
		}
		s.log.Debug().Str("channel", channel).Msg("subscription confirmed")
	case opUnsubscribe:
		if rejected != nil {
			ts.unsubscribing = false
			for _, w := range ts.waiters {
				w <- rejected
			}
			ts.waiters = nil
			return
		}
		s.removeLocked(channel, ts, ErrNotSubscribed, nil)
		s.log.Debug().Str("channel", channel).Msg("unsubscribed")
	}
}

// removeLocked 移除频道：未确认的订阅者收到 ackErr，退订等待者收到 waitErr，消息通道关闭。
func (s *Session) removeLocked(channel string, ts *topicState, ackErr, waitErr error) {
	delete(s.topics, channel)
	for _, sub := range ts.subs {
		sub.resolve(ackErr)
		close(sub.msgs)
	}
	for _, w := range ts.waiters {
		w <- waitErr
	}
	ts.waiters = nil
	metrics.SetActiveSubscriptions(len(s.topics))
}

func (s *Session) subscribers(channel string) []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.topics[channel]
	if !ok {
		return nil
	}
	out := make([]*Subscription, len(ts.subs))
	copy(out, ts.subs)
	return out
}

func (s *Session) reportError(err error) {
	s.log.Debug().Err(err).Msg("stream error")
	select {
	case s.errs <- err:
	default:
		metrics.RecordDroppedError()
		s.log.Warn().Err(err).Msg("error channel full, dropping")
	}
}

// finish 读循环退出后的清理；消息通道只在读循环内关闭。
func (s *Session) finish(loopErr error) {
	discard := s.ctx.Err() != nil

	s.mu.Lock()
	s.closed = true
	s.err = loopErr
	for channel, ts := range s.topics {
		if discard {
			for _, sub := range ts.subs {
				drain(sub.msgs)
			}
		}
		s.removeLocked(channel, ts, ErrSessionClosed, ErrSessionClosed)
	}
	s.mu.Unlock()

	s.cancel()
	_ = s.transport.Close()
	metrics.SetActiveSubscriptions(0)
	s.state.Store(int32(StateDisconnected))
	close(s.errs)
	close(s.done)
	s.log.Info().Err(loopErr).Msg("stream session finished")
}

func drain(ch chan Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/newplayman/mexc-connector/internal/metrics"
)

// Transport 是 Session 依赖的双工连接。Send 必须可并发调用；
// Close 之后阻塞中的 Receive 必须返回错误。
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer 建立 Transport
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// ErrTransportClosed 在已关闭的连接上读写
var ErrTransportClosed = errors.New("transport closed")

// WSConfig WebSocket 连接配置
type WSConfig struct {
	HandshakeTimeout time.Duration // 握手超时
	PingInterval     time.Duration // 应用层 PING 间隔，0 表示不发送
	ReadTimeout      time.Duration // 读超时，收到任意帧即刷新
	WriteWait        time.Duration // 写超时
	ReadLimit        int64         // 单帧最大字节数
}

// DefaultWSConfig 默认配置；MEXC 在 60 秒无 PING 时断开连接。
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     20 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteWait:        10 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WSDialer 基于 gorilla/websocket 的 Dialer
type WSDialer struct {
	Config WSConfig
	Logger *zerolog.Logger
}

// NewWSDialer 使用默认配置
func NewWSDialer() *WSDialer {
	return &WSDialer{Config: DefaultWSConfig()}
}

// Dial 建立连接并按配置启动心跳
func (d *WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.Config.HandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if d.Config.ReadLimit > 0 {
		conn.SetReadLimit(d.Config.ReadLimit)
	}

	logger := log.Logger
	if d.Logger != nil {
		logger = *d.Logger
	}
	t := &WSTransport{
		conn:   conn,
		config: d.Config,
		log:    logger.With().Str("component", "ws_transport").Logger(),
		stop:   make(chan struct{}),
	}
	if d.Config.PingInterval > 0 {
		go t.heartbeatLoop()
	}
	return t, nil
}

// WSTransport 单条 WebSocket 连接，不负责重连。
type WSTransport struct {
	conn   *websocket.Conn
	config WSConfig
	log    zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
}

// Send 写入一个文本帧
func (t *WSTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.stop:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Time{}
	if t.config.WriteWait > 0 {
		deadline = time.Now().Add(t.config.WriteWait)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Receive 阻塞读取下一帧。gorilla 的读不支持 ctx，取消由 Close 完成。
func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.config.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	}
	_, msg, err := t.conn.ReadMessage()
	if err != nil {
		select {
		case <-t.stop:
			return nil, ErrTransportClosed
		default:
		}
		return nil, err
	}
	metrics.RecordWSFrame(len(msg))
	return msg, nil
}

// Close 发送关闭帧并断开连接，可重复调用。
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// heartbeatLoop 心跳循环；MEXC 使用 {"method":"PING"} 而不是协议层 ping。
func (t *WSTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	ping := mustMarshal(controlRequest{Method: methodPing})
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.Send(context.Background(), ping); err != nil {
				if !errors.Is(err, ErrTransportClosed) {
					t.log.Warn().Err(err).Msg("WS heartbeat failed")
				}
				return
			}
		}
	}
}

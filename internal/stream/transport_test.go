package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mexcServer 模拟行情 WS：确认订阅、回复 PONG，并在确认后推送一帧成交。
type mexcServer struct {
	mu        sync.Mutex
	listenKey string
	methods   []string
	pinged    chan struct{}
	pingOnce  sync.Once
}

func (m *mexcServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.listenKey = r.URL.Query().Get("listenKey")
		m.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req controlRequest
			if err := json.Unmarshal(data, &req); err != nil {
				t.Errorf("bad control frame %s", data)
				return
			}
			m.mu.Lock()
			m.methods = append(m.methods, req.Method)
			m.mu.Unlock()

			switch req.Method {
			case methodPing:
				m.pingOnce.Do(func() { close(m.pinged) })
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":0,"code":0,"msg":"PONG"}`))
			case methodSubscribe:
				ack := `{"id":0,"code":0,"msg":"` + strings.Join(req.Params, ",") + `"}`
				_ = conn.WriteMessage(websocket.TextMessage, []byte(ack))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(dealsFrame("BTCUSDT", "42.5")))
			case methodUnsubscribe:
				ack := `{"id":0,"code":0,"msg":"` + strings.Join(req.Params, ",") + `"}`
				_ = conn.WriteMessage(websocket.TextMessage, []byte(ack))
			}
		}
	}
}

func TestWSTransportEndToEnd(t *testing.T) {
	srv := &mexcServer{pinged: make(chan struct{})}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	dialer := NewWSDialer()
	dialer.Config.PingInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	s, err := Connect(ctx, dialer, url, Options{ListenKey: "lk-1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	sub, err := s.Subscribe(ctx, DealsTopic("BTCUSDT"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case err := <-sub.Ack():
		if err != nil {
			t.Fatalf("ack: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("no ack")
	}

	msg := recvMessage(t, sub).(*DealsMessage)
	if msg.Symbol != "BTCUSDT" || msg.Deals[0].Price.String() != "42.5" {
		t.Fatalf("unexpected message %+v", msg)
	}

	select {
	case <-srv.pinged:
	case <-ctx.Done():
		t.Fatal("heartbeat PING never sent")
	}

	if err := s.Unsubscribe(ctx, DealsTopic("BTCUSDT")); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listenKey != "lk-1" {
		t.Errorf("listenKey = %q", srv.listenKey)
	}
	if len(srv.methods) == 0 || srv.methods[0] != methodSubscribe {
		t.Errorf("methods = %v", srv.methods)
	}
}

func TestWSTransportSendAfterClose(t *testing.T) {
	ts := httptest.NewServer((&mexcServer{pinged: make(chan struct{})}).handler(t))
	defer ts.Close()

	dialer := NewWSDialer()
	dialer.Config.PingInterval = 0
	tr, err := dialer.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Send(context.Background(), []byte(`{"method":"PING"}`)); err != ErrTransportClosed {
		t.Fatalf("send after close = %v", err)
	}
	if _, err := tr.Receive(context.Background()); err != ErrTransportClosed {
		t.Fatalf("receive after close = %v", err)
	}
	// 重复关闭无副作用
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestClient(srv *httptest.Server, creds *Credentials) *Client {
	c := NewClient(creds)
	c.SpotBaseURL = srv.URL
	c.FuturesBaseURL = srv.URL
	c.HTTPClient = srv.Client()
	return c
}

func testCreds() *Credentials {
	return &Credentials{APIKey: testAPIKey, SecretKey: testSecret}
}

// verifyFuturesSignature 按服务端的方式重新计算签名。
func verifyFuturesSignature(t *testing.T, r *http.Request, params string) {
	t.Helper()
	if r.Header.Get("ApiKey") != testAPIKey {
		t.Errorf("ApiKey header = %q", r.Header.Get("ApiKey"))
	}
	if r.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
	}
	ms, err := strconv.ParseInt(r.Header.Get("Request-Time"), 10, 64)
	if err != nil {
		t.Errorf("bad Request-Time header: %v", err)
		return
	}
	want, err := signCanonical(time.UnixMilli(ms), testAPIKey, testSecret, params)
	if err != nil {
		t.Error(err)
		return
	}
	if got := r.Header.Get("Signature"); got != want {
		t.Errorf("Signature = %s, want %s", got, want)
	}
}

func TestFuturesOpenOrdersSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/private/order/list/open_orders/BTC_USDT" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.RawQuery != "page_num=1&page_size=20" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		verifyFuturesSignature(t, r, r.URL.RawQuery)
		io.WriteString(w, `{"success":true,"code":0,"data":[{"orderId":"102015012431820288","symbol":"BTC_USDT","price":27000.5,"vol":3,"side":1,"state":2,"createTime":1700000000000,"updateTime":1700000001000}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, testCreds())
	orders, err := c.FuturesOpenOrders(context.Background(), OpenOrdersParams{Symbol: "btc_usdt"})
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d", len(orders))
	}
	o := orders[0]
	if o.OrderID != "102015012431820288" || !o.Price.Equal(decimal.RequireFromString("27000.5")) {
		t.Fatalf("unexpected order %+v", o)
	}
	if !o.CreateTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("create time = %v", o.CreateTime)
	}
}

func TestFuturesSubmitOrderBodySigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/private/order/submit" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(string(body), `{"symbol":"BTC_USDT","price":"27000","vol":"1","side":1,"type":1,"openType":1,"externalOid":"`) {
			t.Errorf("body = %s", body)
		}
		verifyFuturesSignature(t, r, string(body))
		io.WriteString(w, `{"success":true,"code":0,"data":102015012431820288}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, testCreds())
	id, err := c.SubmitFuturesOrder(context.Background(), SubmitOrderParams{
		Symbol:   "BTC_USDT",
		Price:    decimal.NewFromInt(27000),
		Vol:      decimal.NewFromInt(1),
		Side:     1,
		Type:     1,
		OpenType: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "102015012431820288" {
		t.Fatalf("order id = %s", id)
	}
}

func TestFuturesCancelOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `["1","2"]` {
			t.Errorf("body = %s", body)
		}
		verifyFuturesSignature(t, r, string(body))
		io.WriteString(w, `{"success":true,"code":0,"data":[{"orderId":1,"errorCode":0,"errorMsg":"success"},{"orderId":2,"errorCode":2040,"errorMsg":"order not exist"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, testCreds())
	res, err := c.CancelFuturesOrders(context.Background(), []string{"1", "2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[1].ErrorCode != 2040 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAuthRequiredBeforeNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	ctx := context.Background()
	if _, err := c.FuturesAccountAssets(ctx); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("futures assets: expected ErrAuthRequired, got %v", err)
	}
	if _, err := c.CreateListenKey(ctx); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("listen key: expected ErrAuthRequired, got %v", err)
	}
	if _, err := c.SpotAccountInfo(ctx); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("account: expected ErrAuthRequired, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestFuturesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"code":602,"message":"Signature verification failed!"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, testCreds())
	_, err := c.FuturesAccountAssets(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 602 || apiErr.Message != "Signature verification failed!" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if apiErr.Type() != ErrorTypeAuth || apiErr.Type().IsRetriable() {
		t.Fatalf("602 should be a non-retriable auth error, got %s", apiErr.Type())
	}
}

func TestSpotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Depth(context.Background(), DepthParams{Symbol: "NOPE"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != -1121 || apiErr.Message != "Invalid symbol." {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if apiErr.Type() != ErrorTypeClient {
		t.Fatalf("type = %s", apiErr.Type())
	}
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv, nil)
	srv.Close()

	err := c.SpotPing(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatal("transport failure must not look like an api error")
	}
}

func TestSpotListenKeyLifecycle(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/userDataStream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-MEXC-APIKEY") != testAPIKey {
			t.Errorf("X-MEXC-APIKEY = %q", r.Header.Get("X-MEXC-APIKEY"))
		}
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Errorf("missing signature in %q", raw)
			return
		}
		want, _ := SignSpotQuery(raw[:idx], testSecret)
		if raw[idx+len("&signature="):] != want {
			t.Errorf("bad spot signature for %q", raw)
		}
		if r.URL.Query().Get("timestamp") != "1700000000000" {
			t.Errorf("timestamp = %q", r.URL.Query().Get("timestamp"))
		}
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			io.WriteString(w, `{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`)
		default:
			if r.URL.Query().Get("listenKey") == "" {
				t.Errorf("listenKey missing on %s", r.Method)
			}
			io.WriteString(w, `{}`)
		}
	}))
	defer srv.Close()

	orig := timeNow
	timeNow = func() time.Time { return testTime }
	defer func() { timeNow = orig }()

	c := newTestClient(srv, testCreds())
	ctx := context.Background()
	key, err := c.CreateListenKey(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.KeepAliveListenKey(ctx, key); err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	if err := c.CloseListenKey(ctx, key); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(methods, ",") != "POST,PUT,DELETE" {
		t.Fatalf("methods = %v", methods)
	}
}

func TestDepthAndTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/depth":
			if r.URL.RawQuery != "symbol=BTCUSDT&limit=5" {
				t.Errorf("depth query = %q", r.URL.RawQuery)
			}
			io.WriteString(w, `{"lastUpdateId":379900249,"bids":[["27000.01","0.5"]],"asks":[["27000.02","1.25"],["27000.03","3"]]}`)
		case "/api/v3/trades":
			io.WriteString(w, `[{"id":null,"price":"27000.01","qty":"0.002","quoteQty":"54.00002","time":1700000000123,"isBuyerMaker":true,"isBestMatch":true,"tradeType":"ASK"}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	ctx := context.Background()
	depth, err := c.Depth(ctx, DepthParams{Symbol: "BTCUSDT", Limit: 5})
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth.LastUpdateID != 379900249 || len(depth.Asks) != 2 || !depth.Bids[0].Quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected depth %+v", depth)
	}

	trades, err := c.Trades(ctx, TradesParams{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d", len(trades))
	}
	tr := trades[0]
	if tr.HasID() {
		t.Fatal("null trade id should be absent")
	}
	if !tr.Time.Equal(time.UnixMilli(1700000000123)) || !tr.IsBuyerMaker || tr.TradeType != "ASK" {
		t.Fatalf("unexpected trade %+v", tr)
	}
}

func TestPriceLevelRejectsBadShape(t *testing.T) {
	var p PriceLevel
	if err := p.UnmarshalJSON([]byte(`["1"]`)); err == nil {
		t.Fatal("expected error for single-element level")
	}
}

func TestServerTimes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/contract/ping":
			io.WriteString(w, `{"success":true,"code":0,"data":1700000000123}`)
		case "/api/v3/time":
			io.WriteString(w, `{"serverTime":1700000000456}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	ft, err := c.FuturesServerTime(context.Background())
	if err != nil {
		t.Fatalf("futures time: %v", err)
	}
	if ft.UnixMilli() != 1700000000123 {
		t.Fatalf("futures time = %d", ft.UnixMilli())
	}
	st, err := c.SpotServerTime(context.Background())
	if err != nil {
		t.Fatalf("spot time: %v", err)
	}
	if st.UnixMilli() != 1700000000456 {
		t.Fatalf("spot time = %d", st.UnixMilli())
	}
}

func TestFuturesAccountAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/private/account/assets" || r.URL.RawQuery != "" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		// 无参数时签名内容为 apiKey + 时间戳
		verifyFuturesSignature(t, r, "")
		io.WriteString(w, `{"success":true,"code":0,"data":[{"currency":"USDT","positionMargin":0,"frozenBalance":1.5,"availableBalance":98.25,"cashBalance":99.75,"equity":99.75,"unrealized":0,"bonus":0}]}`)
	}))
	defer srv.Close()

	assets, err := newTestClient(srv, testCreds()).FuturesAccountAssets(context.Background())
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Currency != "USDT" {
		t.Fatalf("unexpected assets %+v", assets)
	}
	if !assets[0].AvailableBalance.Equal(decimal.RequireFromString("98.25")) {
		t.Fatalf("available = %s", assets[0].AvailableBalance)
	}
}

func TestSpotAccountInfoSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MEXC-APIKEY") != testAPIKey {
			t.Errorf("X-MEXC-APIKEY = %q", r.Header.Get("X-MEXC-APIKEY"))
		}
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Errorf("missing signature in %q", raw)
			return
		}
		want, _ := SignSpotQuery(raw[:idx], testSecret)
		if raw[idx+len("&signature="):] != want {
			t.Errorf("spot signature mismatch for %q", raw[:idx])
		}
		if !strings.HasPrefix(raw, "recvWindow=5000&timestamp=") {
			t.Errorf("query = %q", raw)
		}
		io.WriteString(w, `{"canTrade":true,"canWithdraw":true,"canDeposit":true,"accountType":"SPOT","balances":[{"asset":"BTC","free":"0.5","locked":"0.1"}],"permissions":["SPOT"]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv, testCreds())
	c.RecvWindowMs = 5000
	acct, err := c.SpotAccountInfo(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acct.CanTrade || len(acct.Balances) != 1 || !acct.Balances[0].Locked.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("unexpected account %+v", acct)
	}
}

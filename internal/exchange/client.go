package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/newplayman/mexc-connector/internal/metrics"
)

// MEXC 默认端点
const (
	SpotRestEndpoint    = "https://api.mexc.com"
	FuturesRestEndpoint = "https://contract.mexc.com"
	SpotWSEndpoint      = "wss://wbs.mexc.com/ws"
)

// Credentials API 凭证；Client 只读使用。
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client 同时覆盖现货与合约 REST。Credentials 为 nil 时只能调用公共接口，
// 签名接口直接返回 ErrAuthRequired，不发起网络请求。
// Client 创建后不再修改，可被多个 goroutine 并发使用。
type Client struct {
	SpotBaseURL    string
	FuturesBaseURL string
	HTTPClient     *http.Client
	Credentials    *Credentials
	RecvWindowMs   int64
	// Limiter 可选；为 nil 时不做任何限流。
	Limiter  *rate.Limiter
	TimeSync *TimeSync
	Logger   zerolog.Logger
}

// NewClient 使用默认端点与 10s 超时创建客户端。
func NewClient(creds *Credentials) *Client {
	return &Client{
		SpotBaseURL:    SpotRestEndpoint,
		FuturesBaseURL: FuturesRestEndpoint,
		HTTPClient:     NewDefaultHTTPClient(),
		Credentials:    creds,
		Logger:         log.Logger,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// Authenticated 是否配置了凭证。
func (c *Client) Authenticated() bool {
	return c.Credentials != nil && c.Credentials.APIKey != "" && c.Credentials.SecretKey != ""
}

func (c *Client) now() time.Time {
	if c.TimeSync != nil {
		return time.UnixMilli(c.TimeSync.ServerTime())
	}
	return timeNow()
}

func (c *Client) requireAuth() error {
	if !c.Authenticated() {
		return ErrAuthRequired
	}
	return nil
}

// spotPublic 调用无需签名的现货接口。
func (c *Client) spotPublic(ctx context.Context, path string, params QueryParams, out any) error {
	endpoint := c.SpotBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	status, body, err := c.send(ctx, path, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return decodeSpot(status, body, out)
}

// spotSigned 现货签名接口：timestamp + signature 放在 query，API key 放在 X-MEXC-APIKEY。
func (c *Client) spotSigned(ctx context.Context, method, path string, params QueryParams, out any) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if c.RecvWindowMs > 0 {
		params = params.Add("recvWindow", strconv.FormatInt(c.RecvWindowMs, 10))
	}
	params = params.Add("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	sig, err := SignSpotQuery(query, c.Credentials.SecretKey)
	if err != nil {
		return err
	}
	endpoint := c.SpotBaseURL + path + "?" + query + "&signature=" + sig
	headers := map[string]string{
		"X-MEXC-APIKEY": c.Credentials.APIKey,
		"Content-Type":  "application/json",
	}
	status, body, err := c.send(ctx, path, method, endpoint, nil, headers)
	if err != nil {
		return err
	}
	return decodeSpot(status, body, out)
}

func decodeSpot(status int, body []byte, out any) error {
	if status >= 300 {
		apiErr := &APIError{Status: status}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: "decode response", Err: err}
	}
	return nil
}

// futuresResponse 合约接口统一外层结构。
type futuresResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// futuresPublic 调用无需签名的合约接口。
func (c *Client) futuresPublic(ctx context.Context, path string, params QueryParams, out any) error {
	endpoint := c.FuturesBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	status, body, err := c.send(ctx, path, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return decodeFutures(status, body, out)
}

// futuresSigned 合约签名接口：签名串 = apiKey + Request-Time + 规范化参数。
// 规范化参数就是实际发送的 query 或 body，两者逐字节一致。
func (c *Client) futuresSigned(ctx context.Context, method, path string, kind ParamsKind, params any, out any) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	ts := c.now()
	canonical, err := Canonicalize(kind, params)
	if err != nil {
		return err
	}
	sig, err := signCanonical(ts, c.Credentials.APIKey, c.Credentials.SecretKey, canonical)
	if err != nil {
		return err
	}
	endpoint := c.FuturesBaseURL + path
	var body []byte
	switch kind {
	case ParamsQuery:
		if canonical != "" {
			endpoint += "?" + canonical
		}
	case ParamsBody:
		body = []byte(canonical)
	}
	headers := map[string]string{
		"ApiKey":       c.Credentials.APIKey,
		"Request-Time": strconv.FormatInt(ts.UnixMilli(), 10),
		"Signature":    sig,
		"Content-Type": "application/json",
	}
	status, respBody, err := c.send(ctx, path, method, endpoint, body, headers)
	if err != nil {
		return err
	}
	return decodeFutures(status, respBody, out)
}

func decodeFutures(status int, body []byte, out any) error {
	var wrapper futuresResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		if status >= 300 {
			return &APIError{Status: status, Message: string(bytes.TrimSpace(body))}
		}
		return &TransportError{Op: "decode response", Err: err}
	}
	if !wrapper.Success || wrapper.Code != 0 || status >= 300 {
		return &APIError{Status: status, Code: wrapper.Code, Message: wrapper.Message}
	}
	if out == nil || len(wrapper.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(wrapper.Data, out); err != nil {
		return &TransportError{Op: "decode response data", Err: err}
	}
	return nil
}

// send 发送一次请求；不做任何重试，重试策略属于调用方。
func (c *Client) send(ctx context.Context, label, method, endpoint string, body []byte, headers map[string]string) (int, []byte, error) {
	if c == nil || c.HTTPClient == nil {
		return 0, nil, &TransportError{Op: "send", Err: errors.New("http client not set")}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, nil, &TransportError{Op: "rate limiter", Err: err}
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, &TransportError{Op: "create request", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.ObserveAPILatency(label, "error", time.Since(start))
		return 0, nil, &TransportError{Op: fmt.Sprintf("%s %s", method, label), Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	metrics.ObserveAPILatency(label, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: "read response", Err: err}
	}

	c.Logger.Debug().
		Str("method", method).
		Str("path", label).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("mexc rest call")
	return resp.StatusCode, respBody, nil
}

// pathEscapeSymbol 合约 symbol 直接出现在 path 中。
func pathEscapeSymbol(symbol string) string {
	return url.PathEscape(strings.ToUpper(strings.TrimSpace(symbol)))
}

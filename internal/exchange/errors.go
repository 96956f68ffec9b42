package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthRequired 在未配置凭证时调用需要签名的接口。
var ErrAuthRequired = errors.New("credentials required for authenticated endpoint")

// TransportError 表示 HTTP 层失败（连接、读取响应、解码外层结构）。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError 交易所返回的业务错误，与传输失败区分。
type APIError struct {
	Status  int    // HTTP 状态码
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mexc api error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

// Type 对错误做粗粒度分类，便于调用方决定是否重试。
func (e *APIError) Type() ErrorType {
	return ClassifyError(e.Status, e.Code)
}

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuth
	ErrorTypeRateLimit
	ErrorTypeServer
	ErrorTypeClient
	ErrorTypeInsufficientBalance
)

// ClassifyError 根据 HTTP 状态码与交易所错误码分类。
func ClassifyError(status, code int) ErrorType {
	switch code {
	case 401, 402, 602, 700002, 700003, 10072:
		// 签名、API key、时间窗口错误
		return ErrorTypeAuth
	case 510, 429:
		return ErrorTypeRateLimit
	case 2005, 30004:
		return ErrorTypeInsufficientBalance
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeServer
	case status >= 400:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// String 返回错误类型字符串
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeAuth:
		return "auth_error"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeServer:
		return "server_error"
	case ErrorTypeClient:
		return "client_error"
	case ErrorTypeInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unknown"
	}
}

// IsRetriable 判断错误是否可重试（由调用方决定是否真的重试）。
func (e ErrorType) IsRetriable() bool {
	switch e {
	case ErrorTypeRateLimit, ErrorTypeServer:
		return true
	default:
		return false
	}
}

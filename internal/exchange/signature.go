package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 可覆盖的时间函数，便于测试。
var timeNow = func() time.Time { return time.Now() }

// ParamsKind 决定签名时参数的规范化方式。
type ParamsKind int

const (
	// ParamsQuery 参数按声明顺序编码为 query string（GET/DELETE）。
	ParamsQuery ParamsKind = iota
	// ParamsBody 参数编码为紧凑 JSON（POST）。
	ParamsBody
)

func (k ParamsKind) String() string {
	switch k {
	case ParamsQuery:
		return "query"
	case ParamsBody:
		return "body"
	default:
		return "unknown"
	}
}

// SignRequest 描述一次签名所需的全部输入。
type SignRequest struct {
	Time      time.Time
	APIKey    string
	SecretKey string
	Kind      ParamsKind
	Params    any
}

// CanonicalizationError 参数无法在所选编码下表示。
type CanonicalizationError struct {
	Kind ParamsKind
	Err  error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalize %s params: %v", e.Kind, e.Err)
}

func (e *CanonicalizationError) Unwrap() error { return e.Err }

// SigningError secret 不可用于 HMAC。
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return "sign request: " + e.Reason
}

// QueryParam 是有序 query 参数中的一项。
type QueryParam struct {
	Key   string
	Value string
}

// QueryParams 保留调用方给出的参数顺序。
type QueryParams []QueryParam

// Add 追加一个参数并返回新切片。
func (q QueryParams) Add(key, value string) QueryParams {
	return append(q, QueryParam{Key: key, Value: value})
}

// Encode 按顺序做 form 编码。
func (q QueryParams) Encode() string {
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Sign 计算合约接口签名：hex(HMAC-SHA256(secret, apiKey + timestampMillis + params))。
// 调用方必须在请求头 Request-Time 中使用同一个时间戳。
func Sign(req SignRequest) (string, error) {
	params, err := Canonicalize(req.Kind, req.Params)
	if err != nil {
		return "", err
	}
	return signCanonical(req.Time, req.APIKey, req.SecretKey, params)
}

func signCanonical(ts time.Time, apiKey, secret, params string) (string, error) {
	if secret == "" {
		return "", &SigningError{Reason: "secret key is empty"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(apiKey))
	mac.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	mac.Write([]byte(params))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignSpotQuery 现货 v3 签名：对已包含 timestamp 的 query 做 HMAC-SHA256。
func SignSpotQuery(query, secret string) (string, error) {
	if secret == "" {
		return "", &SigningError{Reason: "secret key is empty"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Canonicalize 返回被签名（同时也是被发送）的参数字符串。
func Canonicalize(kind ParamsKind, params any) (string, error) {
	switch kind {
	case ParamsQuery:
		s, err := encodeQuery(params)
		if err != nil {
			return "", &CanonicalizationError{Kind: kind, Err: err}
		}
		return s, nil
	case ParamsBody:
		s, err := encodeBody(params)
		if err != nil {
			return "", &CanonicalizationError{Kind: kind, Err: err}
		}
		return s, nil
	default:
		return "", &CanonicalizationError{Kind: kind, Err: fmt.Errorf("unknown params kind %d", kind)}
	}
}

func encodeBody(params any) (string, error) {
	if params == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func encodeQuery(params any) (string, error) {
	switch p := params.(type) {
	case nil:
		return "", nil
	case QueryParams:
		return p.Encode(), nil
	case url.Values:
		// url.Values 本身无序，按 key 排序保证确定性
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var q QueryParams
		for _, k := range keys {
			for _, v := range p[k] {
				q = q.Add(k, v)
			}
		}
		return q.Encode(), nil
	}

	v := reflect.ValueOf(params)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", fmt.Errorf("query params must be a struct, got %s", v.Kind())
	}
	t := v.Type()
	var q QueryParams
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty := parseURLTag(field)
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		s, err := scalarString(fv)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		q = q.Add(name, s)
	}
	return q.Encode(), nil
}

func parseURLTag(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("url")
	if tag == "" {
		return f.Name, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, opts == "omitempty"
}

var errUnsupportedValue = errors.New("unsupported query value")

var (
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

func scalarString(v reflect.Value) (string, error) {
	if v.Type() == decimalType {
		return v.Interface().(decimal.Decimal).String(), nil
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, v.Type().Bits()), nil
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String(), nil
	}
	return "", fmt.Errorf("%w: %s", errUnsupportedValue, v.Kind())
}

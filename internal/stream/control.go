package stream

import (
	"encoding/json"
	"strings"
)

// 控制请求方法
const (
	methodSubscribe   = "SUBSCRIPTION"
	methodUnsubscribe = "UNSUBSCRIPTION"
	methodPing        = "PING"
)

// controlRequest 客户端发出的订阅/退订/心跳请求
type controlRequest struct {
	ID     int64    `json:"id,omitempty"`
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

// ControlFrame 服务端对控制请求的应答，例如
// {"id":0,"code":0,"msg":"spot@public.deals.v3.api@BTCUSDT"}。
type ControlFrame struct {
	ID   int64  `json:"id"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ParseControl 识别控制帧。带 "c" 字段的是数据帧，返回 false。
func ParseControl(raw []byte) (ControlFrame, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ControlFrame{}, false
	}
	if _, ok := fields["c"]; ok {
		return ControlFrame{}, false
	}
	_, hasMsg := fields["msg"]
	_, hasCode := fields["code"]
	if !hasMsg && !hasCode {
		return ControlFrame{}, false
	}
	var cf ControlFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return ControlFrame{}, false
	}
	return cf, true
}

// IsPong 心跳应答
func (f ControlFrame) IsPong() bool {
	return strings.EqualFold(f.Msg, "PONG")
}

const rejectMarker = "Not Subscribed successfully!"

// Rejection 解析订阅失败应答，返回被拒绝的频道与原因。
// 例如 "Not Subscribed successfully! [spot@public.deals.v3.api@X].  Reason： Blocked!"。
func (f ControlFrame) Rejection() (channels []string, reason string, ok bool) {
	idx := strings.Index(f.Msg, rejectMarker)
	if idx < 0 {
		return nil, "", false
	}
	rest := f.Msg[idx+len(rejectMarker):]
	if open := strings.IndexByte(rest, '['); open >= 0 {
		if end := strings.IndexByte(rest[open:], ']'); end >= 0 {
			channels = splitChannels(rest[open+1 : open+end])
			rest = rest[open+end+1:]
		}
	}
	reason = strings.TrimSpace(strings.TrimLeft(rest, ". "))
	if _, after, found := strings.Cut(reason, "Reason"); found {
		reason = strings.TrimSpace(strings.TrimLeft(after, ":： "))
	}
	return channels, reason, true
}

// Channels 成功应答中确认的频道，多个以逗号分隔。
func (f ControlFrame) Channels() []string {
	if f.Code != 0 || f.IsPong() {
		return nil
	}
	if _, _, rejected := f.Rejection(); rejected {
		return nil
	}
	return splitChannels(f.Msg)
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

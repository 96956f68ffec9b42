package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// REST 指标
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mexc_api_latency_seconds",
			Help:    "REST 请求延迟",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"endpoint", "status"},
	)

	// WebSocket 流量
	WSBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mexc_ws_bytes_received_total",
			Help: "WebSocket 接收字节数",
		},
	)

	WSMessageCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mexc_ws_message_count_total",
			Help: "按消息族统计的 WebSocket 数据帧",
		},
		[]string{"family"},
	)

	WSControlFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mexc_ws_control_frames_total",
			Help: "订阅确认/拒绝/心跳等控制帧",
		},
		[]string{"kind"},
	)

	StreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mexc_stream_errors_total",
			Help: "解码与翻译失败次数",
		},
		[]string{"stage", "family"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mexc_active_subscriptions",
			Help: "当前已订阅（含待确认）的频道数",
		},
	)

	DroppedErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mexc_stream_dropped_errors_total",
			Help: "错误通道已满而被丢弃的诊断错误",
		},
	)
)

func init() {
	prometheus.MustRegister(
		APILatency,
		WSBytesReceived,
		WSMessageCount,
		WSControlFrames,
		StreamErrors,
		ActiveSubscriptions,
		DroppedErrors,
	)
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器异常退出")
		}
	}()

	return actualPort, nil
}

// ObserveAPILatency 记录一次 REST 调用
func ObserveAPILatency(endpoint, status string, d time.Duration) {
	APILatency.WithLabelValues(endpoint, status).Observe(d.Seconds())
}

// RecordWSFrame 记录收到的原始帧
func RecordWSFrame(bytes int) {
	WSBytesReceived.Add(float64(bytes))
}

// RecordWSMessage 记录成功解码的数据帧
func RecordWSMessage(family string) {
	WSMessageCount.WithLabelValues(family).Inc()
}

// RecordControlFrame 记录控制帧
func RecordControlFrame(kind string) {
	WSControlFrames.WithLabelValues(kind).Inc()
}

// RecordStreamError 记录解码/翻译错误
func RecordStreamError(stage, family string) {
	StreamErrors.WithLabelValues(stage, family).Inc()
}

// SetActiveSubscriptions 更新订阅数
func SetActiveSubscriptions(n int) {
	ActiveSubscriptions.Set(float64(n))
}

// RecordDroppedError 诊断错误被丢弃
func RecordDroppedError() {
	DroppedErrors.Inc()
}

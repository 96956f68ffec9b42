package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	gateway "github.com/newplayman/mexc-connector/internal/exchange"
	"github.com/newplayman/mexc-connector/internal/stream"
)

// Config 全局配置结构
type Config struct {
	Global  GlobalConfig   `mapstructure:"global"`
	Stream  StreamConfig   `mapstructure:"stream"`
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// GlobalConfig 凭证、端点与进程级设置
type GlobalConfig struct {
	APIKey           string  `mapstructure:"api_key"`            // MEXC API Key
	SecretKey        string  `mapstructure:"secret_key"`         // MEXC Secret Key
	SpotBaseURL      string  `mapstructure:"spot_base_url"`      // 现货 REST 端点
	FuturesBaseURL   string  `mapstructure:"futures_base_url"`   // 合约 REST 端点
	WSURL            string  `mapstructure:"ws_url"`             // WebSocket 端点
	RecvWindowMs     int64   `mapstructure:"recv_window_ms"`     // 现货签名 recvWindow
	RequestTimeoutMs int     `mapstructure:"request_timeout_ms"` // REST 超时
	RateLimitPerSec  float64 `mapstructure:"rate_limit_per_sec"` // 0 表示不限流
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	TimeSync         bool    `mapstructure:"time_sync"`    // 签名时间戳使用服务器时间
	LogLevel         string  `mapstructure:"log_level"`    // 日志级别
	LogFile          string  `mapstructure:"log_file"`     // 为空只输出到控制台
	MetricsPort      int     `mapstructure:"metrics_port"` // Prometheus 端口，0 表示不启动
}

// StreamConfig WebSocket 会话设置
type StreamConfig struct {
	Private            bool `mapstructure:"private"`               // 是否订阅账户频道（需要凭证）
	PingIntervalSec    int  `mapstructure:"ping_interval_sec"`     // 应用层 PING 间隔
	ReadTimeoutSec     int  `mapstructure:"read_timeout_sec"`      // 读超时
	MessageBuffer      int  `mapstructure:"message_buffer"`        // 每个订阅者的缓冲
	KeepAliveMinutes   int  `mapstructure:"keepalive_minutes"`     // listenKey 续期间隔
	ErrorBuffer        int  `mapstructure:"error_buffer"`          // 诊断错误缓冲
	UnsubscribeTimeout int  `mapstructure:"unsubscribe_timeout_s"` // 退出时等待退订确认
}

// SymbolConfig 单个交易对要订阅的公共频道
type SymbolConfig struct {
	Symbol        string `mapstructure:"symbol"`         // 交易对符号 (e.g., BTCUSDT)
	Deals         bool   `mapstructure:"deals"`          // 逐笔成交
	KlineInterval string `mapstructure:"kline_interval"` // 为空不订阅 K 线，例如 Min1
	Depth         int    `mapstructure:"depth"`          // 有限档深度 5/10/20，0 不订阅
	DepthDiff     bool   `mapstructure:"depth_diff"`     // 增量深度
}

// Topics 该交易对对应的订阅频道
func (s SymbolConfig) Topics() ([]stream.Topic, error) {
	var topics []stream.Topic
	if s.Deals {
		topics = append(topics, stream.DealsTopic(s.Symbol))
	}
	if s.KlineInterval != "" {
		iv, err := stream.ParseKlineInterval(s.KlineInterval)
		if err != nil {
			return nil, err
		}
		topics = append(topics, stream.KlineTopic(s.Symbol, iv))
	}
	if s.Depth != 0 {
		d, err := stream.ParseDepthLevel(s.Depth)
		if err != nil {
			return nil, err
		}
		topics = append(topics, stream.OrderBookTopic(s.Symbol, d))
	}
	if s.DepthDiff {
		topics = append(topics, stream.OrderBookDiffTopic(s.Symbol))
	}
	return topics, nil
}

// Topics 全部订阅频道；Private 为 true 时包含三个账户频道。
func (c *Config) Topics() ([]stream.Topic, error) {
	var topics []stream.Topic
	if c.Stream.Private {
		topics = append(topics, stream.AccountDealsTopic(), stream.AccountOrdersTopic(), stream.AccountBalanceTopic())
	}
	for i, sym := range c.Symbols {
		t, err := sym.Topics()
		if err != nil {
			return nil, fmt.Errorf("symbols[%d]: %w", i, err)
		}
		topics = append(topics, t...)
	}
	return topics, nil
}

// Credentials 未配置凭证时返回 nil，客户端只能访问公共接口。
func (c *Config) Credentials() *gateway.Credentials {
	if c.Global.APIKey == "" || c.Global.SecretKey == "" {
		return nil
	}
	return &gateway.Credentials{APIKey: c.Global.APIKey, SecretKey: c.Global.SecretKey}
}

// GetRequestTimeout REST 超时
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Global.RequestTimeoutMs) * time.Millisecond
}

// GetKeepAliveInterval listenKey 续期间隔
func (c *Config) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.Stream.KeepAliveMinutes) * time.Minute
}

// WSConfig 转换为传输层配置
func (c *Config) WSConfig() stream.WSConfig {
	ws := stream.DefaultWSConfig()
	ws.PingInterval = time.Duration(c.Stream.PingIntervalSec) * time.Second
	ws.ReadTimeout = time.Duration(c.Stream.ReadTimeoutSec) * time.Second
	return ws
}

// GetSymbolConfig 根据交易对符号获取配置
func (c *Config) GetSymbolConfig(symbol string) *SymbolConfig {
	for i := range c.Symbols {
		if c.Symbols[i].Symbol == symbol {
			return &c.Symbols[i]
		}
	}
	return nil
}

// GetAllSymbols 获取所有交易对符号列表
func (c *Config) GetAllSymbols() []string {
	symbols := make([]string, len(c.Symbols))
	for i, sym := range c.Symbols {
		symbols[i] = sym.Symbol
	}
	return symbols
}

// Manager 持有独立的 viper 实例与当前生效的配置。
type Manager struct {
	v    *viper.Viper
	path string

	mu  sync.RWMutex
	cfg *Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.spot_base_url", gateway.SpotRestEndpoint)
	v.SetDefault("global.futures_base_url", gateway.FuturesRestEndpoint)
	v.SetDefault("global.ws_url", gateway.SpotWSEndpoint)
	v.SetDefault("global.recv_window_ms", 5000)
	v.SetDefault("global.request_timeout_ms", 10000)
	v.SetDefault("global.rate_limit_burst", 1)
	v.SetDefault("global.log_level", "info")
	v.SetDefault("stream.ping_interval_sec", 20)
	v.SetDefault("stream.read_timeout_sec", 60)
	v.SetDefault("stream.message_buffer", 256)
	v.SetDefault("stream.keepalive_minutes", 30)
	v.SetDefault("stream.error_buffer", 64)
	v.SetDefault("stream.unsubscribe_timeout_s", 3)
}

// NewManager 读取并校验配置文件
func NewManager(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖，例如 MEXC_GLOBAL_LOG_LEVEL
	v.SetEnvPrefix("MEXC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 凭证使用更短的变量名
	_ = v.BindEnv("global.api_key", "MEXC_API_KEY")
	_ = v.BindEnv("global.secret_key", "MEXC_SECRET_KEY")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	m := &Manager{v: v, path: path}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg

	log.Info().Str("path", path).Msg("配置加载成功")
	return m, nil
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	m, err := NewManager(path)
	if err != nil {
		return nil, err
	}
	return m.Config(), nil
}

// Config 当前生效的配置
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// reload 重新解析；校验失败时保持旧配置。
func (m *Manager) reload() (*Config, error) {
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Watch 监听配置文件变化并热重载，成功后回调 onChange。
func (m *Manager) Watch(onChange func(*Config)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")
		cfg, err := m.reload()
		if err != nil {
			log.Error().Err(err).Msg("新配置验证失败，保持旧配置")
			return
		}
		log.Info().Msg("配置热重载成功")
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.v.WatchConfig()
}

// validateConfig 验证配置有效性
func validateConfig(cfg *Config) error {
	g := &cfg.Global
	if g.SpotBaseURL == "" || g.FuturesBaseURL == "" || g.WSURL == "" {
		return fmt.Errorf("spot_base_url / futures_base_url / ws_url 不能为空")
	}
	if (g.APIKey == "") != (g.SecretKey == "") {
		return fmt.Errorf("api_key 和 secret_key 必须同时配置")
	}
	if g.RecvWindowMs < 0 || g.RecvWindowMs > 60000 {
		return fmt.Errorf("recv_window_ms 必须在 0-60000 之间")
	}
	if g.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms 必须 > 0")
	}
	if g.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec 不能为负")
	}
	if g.RateLimitPerSec > 0 && g.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst 必须 > 0")
	}
	if g.MetricsPort < 0 || g.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port 必须在 0-65535 之间")
	}

	s := &cfg.Stream
	if s.Private && g.APIKey == "" {
		return fmt.Errorf("stream.private 需要 api_key 和 secret_key")
	}
	if s.PingIntervalSec < 0 || s.PingIntervalSec >= 60 {
		// 服务端 60 秒内收不到 PING 会断开
		return fmt.Errorf("stream.ping_interval_sec 必须在 0-59 之间")
	}
	if s.ReadTimeoutSec < 0 {
		return fmt.Errorf("stream.read_timeout_sec 不能为负")
	}
	if s.Private && (s.KeepAliveMinutes <= 0 || s.KeepAliveMinutes >= 60) {
		// listenKey 60 分钟过期
		return fmt.Errorf("stream.keepalive_minutes 必须在 1-59 之间")
	}

	seen := make(map[string]bool)
	for i := range cfg.Symbols {
		sym := &cfg.Symbols[i]
		sym.Symbol = strings.ToUpper(strings.TrimSpace(sym.Symbol))
		if sym.Symbol == "" {
			return fmt.Errorf("symbols[%d]: symbol 不能为空", i)
		}
		if seen[sym.Symbol] {
			return fmt.Errorf("symbols[%d]: %s 重复配置", i, sym.Symbol)
		}
		seen[sym.Symbol] = true
		if _, err := sym.Topics(); err != nil {
			return fmt.Errorf("symbols[%d]: %w", i, err)
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/newplayman/mexc-connector/internal/config"
	gateway "github.com/newplayman/mexc-connector/internal/exchange"
	"github.com/newplayman/mexc-connector/internal/logging"
	"github.com/newplayman/mexc-connector/internal/metrics"
	"github.com/newplayman/mexc-connector/internal/stream"
)

var (
	configFile = flag.String("config", "config.yaml", "配置文件路径")
	logLevel   = flag.String("log", "", "日志级别，覆盖配置文件 (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// .env 可选
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("加载 .env 失败")
	}

	mgr, err := config.NewManager(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	cfg := mgr.Config()

	level := cfg.Global.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logging.Setup(level, logging.FileConfig{Path: cfg.Global.LogFile, MaxBackups: 5, MaxAgeDays: 7, Compress: true})

	mgr.Watch(func(c *config.Config) {
		// 只有日志级别可以热更新，订阅变化需要重启
		if *logLevel == "" {
			logging.Setup(c.Global.LogLevel, logging.FileConfig{Path: c.Global.LogFile, MaxBackups: 5, MaxAgeDays: 7, Compress: true})
		}
	})

	topics, err := cfg.Topics()
	if err != nil {
		log.Fatal().Err(err).Msg("解析订阅频道失败")
	}
	if len(topics) == 0 {
		log.Fatal().Msg("没有配置任何订阅频道")
	}

	if cfg.Global.MetricsPort > 0 {
		port, err := metrics.StartMetricsServer(cfg.Global.MetricsPort)
		if err != nil {
			log.Fatal().Err(err).Msg("启动监控服务失败")
		}
		log.Info().Int("port", port).Msg("Prometheus 监控已启动")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(ctx, cfg)

	opts := stream.Options{
		Logger:        &log.Logger,
		MessageBuffer: cfg.Stream.MessageBuffer,
		ErrorBuffer:   cfg.Stream.ErrorBuffer,
		OnUnrecognized: func(env *stream.Envelope) {
			log.Debug().Str("channel", env.Channel).Msg("未识别的频道")
		},
	}

	var listenKey string
	if cfg.Stream.Private {
		listenKey, err = client.CreateListenKey(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("创建 listenKey 失败")
		}
		opts.ListenKey = listenKey
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.CloseListenKey(closeCtx, listenKey); err != nil {
				log.Warn().Err(err).Msg("关闭 listenKey 失败")
			}
		}()
		go keepAlive(ctx, client, listenKey, cfg.GetKeepAliveInterval())
	}

	dialer := stream.NewWSDialer()
	dialer.Config = cfg.WSConfig()
	dialer.Logger = &log.Logger

	session, err := stream.Connect(ctx, dialer, cfg.Global.WSURL, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("连接 WebSocket 失败")
	}
	log.Info().Str("url", cfg.Global.WSURL).Int("topics", len(topics)).Msg("WebSocket 已连接")

	var wg sync.WaitGroup
	var subs []*stream.Subscription
	for _, topic := range topics {
		sub, err := session.Subscribe(ctx, topic)
		if err != nil {
			log.Error().Err(err).Str("topic", topic.String()).Msg("订阅失败")
			continue
		}
		subs = append(subs, sub)
		wg.Add(1)
		go func(sub *stream.Subscription) {
			defer wg.Done()
			consume(sub)
		}(sub)
	}

	go func() {
		for err := range session.Errors() {
			log.Warn().Err(err).Msg("数据流错误")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("收到退出信号，正在关闭...")
		unsubscribeAll(session, subs, time.Duration(cfg.Stream.UnsubscribeTimeout)*time.Second)
	case <-session.Done():
		log.Error().Err(session.Err()).Msg("WebSocket 会话意外结束")
	}

	if err := session.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭会话失败")
	}
	wg.Wait()
	log.Info().Msg("已退出")
}

func newClient(ctx context.Context, cfg *config.Config) *gateway.Client {
	client := gateway.NewClient(cfg.Credentials())
	client.SpotBaseURL = cfg.Global.SpotBaseURL
	client.FuturesBaseURL = cfg.Global.FuturesBaseURL
	client.HTTPClient.Timeout = cfg.GetRequestTimeout()
	client.RecvWindowMs = cfg.Global.RecvWindowMs
	client.Logger = log.Logger
	if cfg.Global.RateLimitPerSec > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.Global.RateLimitPerSec), cfg.Global.RateLimitBurst)
	}
	if cfg.Global.TimeSync {
		ts := gateway.NewTimeSync(cfg.Global.SpotBaseURL)
		if err := ts.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("时间同步失败，使用本地时间")
		} else {
			log.Info().Int64("offset_ms", ts.Offset()).Msg("时间同步完成")
		}
		client.TimeSync = ts
	}
	return client
}

// keepAlive 定期续期 listenKey，直到 ctx 结束。
func keepAlive(ctx context.Context, client *gateway.Client, listenKey string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.KeepAliveListenKey(ctx, listenKey); err != nil {
				log.Error().Err(err).Msg("listenKey 续期失败")
				continue
			}
			log.Debug().Msg("listenKey 已续期")
		}
	}
}

func consume(sub *stream.Subscription) {
	topic := sub.Topic().String()
	if err := <-sub.Ack(); err != nil {
		var rejected *stream.SubscriptionRejectedError
		if errors.As(err, &rejected) {
			log.Error().Str("topic", topic).Str("reason", rejected.Reason).Msg("订阅被拒绝")
		}
		return
	}
	log.Info().Str("topic", topic).Msg("订阅成功")

	for msg := range sub.Messages() {
		logMessage(msg)
	}
}

func logMessage(msg stream.Message) {
	switch m := msg.(type) {
	case *stream.AccountDealsMessage:
		log.Info().Str("asset", m.Asset).Str("side", m.Side.String()).
			Str("price", m.Price.String()).Str("qty", m.Quantity.String()).Msg("成交")
	case *stream.AccountOrdersMessage:
		log.Info().Str("symbol", m.Symbol).Str("id", m.OrderID).Str("status", m.Status.String()).
			Str("price", m.Price.String()).Str("qty", m.Quantity.String()).Msg("订单更新")
	case *stream.AccountBalanceMessage:
		log.Info().Str("asset", m.Asset).Str("free", m.Free.String()).Str("locked", m.Locked.String()).Msg("余额变化")
	case *stream.DealsMessage:
		for _, d := range m.Deals {
			log.Debug().Str("symbol", m.Symbol).Str("price", d.Price.String()).Str("qty", d.Quantity.String()).Msg("逐笔成交")
		}
	case *stream.KlineMessage:
		log.Debug().Str("symbol", m.Symbol).Str("interval", m.Interval.String()).
			Str("close", m.Close.String()).Msg("K线")
	case *stream.DepthMessage:
		ev := log.Debug().Str("symbol", m.Symbol).Bool("incremental", m.Incremental).
			Int("asks", len(m.Asks)).Int("bids", len(m.Bids))
		if len(m.Bids) > 0 && len(m.Asks) > 0 {
			ev = ev.Str("best_bid", m.Bids[0].Price.String()).Str("best_ask", m.Asks[0].Price.String())
		}
		ev.Msg("深度")
	}
}

func unsubscribeAll(session *stream.Session, subs []*stream.Subscription, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	seen := make(map[stream.Topic]bool)
	for _, sub := range subs {
		if seen[sub.Topic()] {
			continue
		}
		seen[sub.Topic()] = true
		if err := session.Unsubscribe(ctx, sub.Topic()); err != nil {
			log.Debug().Err(err).Str("topic", sub.Topic().String()).Msg("退订失败")
		}
	}
}

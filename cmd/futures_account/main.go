package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/newplayman/mexc-connector/internal/config"
	gateway "github.com/newplayman/mexc-connector/internal/exchange"
	"github.com/newplayman/mexc-connector/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "合约符号 (e.g., BTC_USDT)，为空查询全部")
	cancelAll := flag.Bool("cancel", false, "撤销查询到的全部挂单")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("加载 .env 失败")
	}

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	logging.Setup(cfg.Global.LogLevel, logging.FileConfig{})

	creds := cfg.Credentials()
	if creds == nil {
		log.Fatal().Msg("需要配置 MEXC_API_KEY 和 MEXC_SECRET_KEY")
	}
	client := gateway.NewClient(creds)
	client.FuturesBaseURL = cfg.Global.FuturesBaseURL
	client.HTTPClient.Timeout = cfg.GetRequestTimeout()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	assets, err := client.FuturesAccountAssets(ctx)
	if err != nil {
		fatalAPI(err, "查询合约资产失败")
	}
	for _, a := range assets {
		if a.Equity.IsZero() && a.AvailableBalance.IsZero() {
			continue
		}
		fmt.Printf("Asset: %s equity=%s available=%s frozen=%s unrealized=%s\n",
			a.Currency, a.Equity, a.AvailableBalance, a.FrozenBalance, a.Unrealized)
	}

	log.Info().Str("symbol", *symbol).Msg("查询挂单...")
	orders, err := client.FuturesOpenOrders(ctx, gateway.OpenOrdersParams{Symbol: *symbol, PageSize: 100})
	if err != nil {
		fatalAPI(err, "查询挂单失败")
	}
	log.Info().Int("count", len(orders)).Msg("挂单数量")

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		fmt.Printf("Order: ID=%s ExternalOid=%s Symbol=%s Side=%d Price=%s Vol=%s Deal=%s Created=%s\n",
			o.OrderID, o.ExternalOid, o.Symbol, o.Side, o.Price, o.Vol, o.DealVol, o.CreateTime.Format(time.RFC3339))
		ids = append(ids, o.OrderID)
	}

	if !*cancelAll || len(ids) == 0 {
		return
	}
	// 批量撤单每次最多 50 个
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))
		results, err := client.CancelFuturesOrders(ctx, ids[start:end])
		if err != nil {
			fatalAPI(err, "撤单失败")
		}
		for _, r := range results {
			fmt.Printf("Cancel: ID=%s code=%d msg=%s\n", r.OrderID, r.ErrorCode, r.ErrorMsg)
		}
	}
}

// fatalAPI 附带交易所错误分类后退出
func fatalAPI(err error, msg string) {
	ev := log.Fatal().Err(err)
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		ev = ev.Int("code", apiErr.Code).Str("type", apiErr.Type().String()).Bool("retriable", apiErr.Type().IsRetriable())
	}
	ev.Msg(msg)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"klinerelay/internal/client"
	"klinerelay/internal/logger"
	"klinerelay/internal/pkg/symbol"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	flags := pflag.NewFlagSet("klinewatch", pflag.ExitOnError)
	flags.String("api", "http://localhost:3000", "relay base URL")
	flags.String("symbol", "btcusdt", "trading pair, e.g. ethusdt or ETH/USDT")
	flags.String("interval", "1h", "kline interval")
	flags.Int("limit", 1000, "historical candles to load")
	flags.Int("rows", 20, "rows to print")
	flags.Duration("duration", 0, "stop after this long (0 = until interrupted)")
	flags.Bool("debug", false, "verbose logging")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("KLINEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		log.Fatalf("绑定参数失败: %v", err)
	}
	logger.SetDebug(v.GetBool("debug"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := v.GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sym := symbol.Sanitize(v.GetString("symbol"))
	interval := v.GetString("interval")
	rows := v.GetInt("rows")
	title := fmt.Sprintf("%s %s", symbol.Pretty(sym), interval)

	chart := client.New(client.Options{
		BaseURL:  v.GetString("api"),
		Symbol:   sym,
		Interval: interval,
		Limit:    v.GetInt("limit"),
	})
	if err := chart.SubscribeToSymbol(ctx, sym, interval); err != nil {
		log.Fatalf("连接中继失败: %v", err)
	}
	defer chart.Disconnect()
	if msg := chart.Err(); msg != "" {
		logger.Warnf("%s", msg)
	}
	client.RenderTable(os.Stdout, title, chart.Candles(), rows)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			client.RenderTable(os.Stdout, title, chart.Candles(), rows)
			return
		case <-ticker.C:
			client.RenderTable(os.Stdout, title, chart.Candles(), rows)
		case u := <-chart.Updates():
			switch u.Event {
			case "kline":
				c := *u.Candle
				logger.Infof("%s %s close=%g change=%s%%", title,
					time.Unix(c.Time, 0).UTC().Format("15:04"), c.Close, client.ChangePercent(c).StringFixed(2))
			case "error":
				logger.Warnf("中继错误: %s", u.Err)
			case "connected":
				logger.Infof("已订阅 %s", title)
			case "unsubscribed", "disconnected":
				logger.Warnf("订阅结束 (%s)", u.Event)
				client.RenderTable(os.Stdout, title, chart.Candles(), rows)
				return
			}
		}
	}
}

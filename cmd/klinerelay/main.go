package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"klinerelay/internal/app"
	"klinerelay/internal/config"
	"klinerelay/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := logger.OpenFile(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetDebug(cfg.App.Debug)
	logger.Infof("✓ 配置加载成功（环境=%s，端口=%d）", cfg.App.Env, cfg.HTTP.Port)

	relay, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := relay.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("klinerelay 已退出")
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"klinerelay/internal/config"
	"klinerelay/internal/logger"
	"klinerelay/internal/transport/http/api"
	"klinerelay/internal/transport/ws"

	"golang.org/x/sync/errgroup"
)

const startupProbeTimeout = 5 * time.Second

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP/WebSocket 中继。
type App struct {
	cfg     *config.Config
	server  *api.Server
	hub     *ws.Hub
	probe   api.ReadinessProbe
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动中继服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil || a.hub == nil {
		return fmt.Errorf("relay server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.checkUpstream(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.hub.Close()
		logger.Infof("已关闭所有客户端会话")
		return nil
	})
	return group.Wait()
}

// checkUpstream 只做一次探测并记录结果，不影响启动。
func (a *App) checkUpstream(ctx context.Context) {
	if a.probe == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	if err := a.probe.Ping(pctx); err != nil {
		logger.Warnf("上游 REST 不可达（%s）: %v", a.cfg.Upstream.RESTBaseURL, err)
		return
	}
	logger.Infof("✓ 上游 REST 可达: %s", a.cfg.Upstream.RESTBaseURL)
}

// Handler exposes the HTTP router (for in-process tests).
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

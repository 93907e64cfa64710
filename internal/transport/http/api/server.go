package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"klinerelay/internal/market"
	"klinerelay/internal/transport/ws"

	"github.com/gin-gonic/gin"
)

// StreamGateway is the downstream websocket surface mounted at /ws.
type StreamGateway interface {
	ServeWS(c *gin.Context)
	Stats() ws.Stats
}

// ReadinessProbe reports whether the upstream REST API is reachable.
type ReadinessProbe interface {
	Ping(ctx context.Context) error
}

// HistoryDefaults 是 /api/historical 未携带参数时的缺省值。
type HistoryDefaults struct {
	Symbol   string
	Interval string
	Limit    int
	MaxLimit int
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr            string
	History         market.HistorySource
	Gateway         StreamGateway
	Readiness       ReadinessProbe
	Defaults        HistoryDefaults
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Server 提供 /api/historical、/ws 以及健康检查接口。
type Server struct {
	addr            string
	router          *gin.Engine
	shutdownTimeout time.Duration
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.History == nil {
		return nil, errors.New("http server requires a history source")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors(cfg.CORSOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewRouter(cfg.History, cfg.Gateway, cfg.Readiness, cfg.Defaults).Register(router)

	return &Server{addr: cfg.Addr, router: router, shutdownTimeout: cfg.ShutdownTimeout}, nil
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

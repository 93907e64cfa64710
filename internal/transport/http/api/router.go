package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/market"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 3 * time.Second

// Router 挂载行情相关接口。
type Router struct {
	history   market.HistorySource
	gateway   StreamGateway
	readiness ReadinessProbe
	defaults  HistoryDefaults
}

func NewRouter(history market.HistorySource, gateway StreamGateway, readiness ReadinessProbe, defaults HistoryDefaults) *Router {
	if defaults.Symbol == "" {
		defaults.Symbol = "btcusdt"
	}
	if defaults.Interval == "" {
		defaults.Interval = "1h"
	}
	if defaults.MaxLimit <= 0 {
		defaults.MaxLimit = 1000
	}
	if defaults.Limit <= 0 || defaults.Limit > defaults.MaxLimit {
		defaults.Limit = defaults.MaxLimit
	}
	return &Router{history: history, gateway: gateway, readiness: readiness, defaults: defaults}
}

func (r *Router) Register(engine *gin.Engine) {
	engine.GET("/readyz", r.handleReady)
	api := engine.Group("/api")
	api.GET("/historical", r.handleHistorical)
	if r.gateway != nil {
		engine.GET("/ws", r.gateway.ServeWS)
		api.GET("/stats", r.handleStats)
	}
}

func (r *Router) handleHistorical(c *gin.Context) {
	symbol := c.DefaultQuery("symbol", r.defaults.Symbol)
	target, err := market.NewTarget(symbol, c.Query("interval"), r.defaults.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := market.ParseLimit(c.Query("limit"), r.defaults.Limit, r.defaults.MaxLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candles, err := r.history.FetchHistory(c.Request.Context(), target, limit)
	if err != nil {
		if market.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Errorf("historical %s limit=%d failed: %v", target, limit, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch historical data"})
		return
	}
	if candles == nil {
		candles = []market.Candle{}
	}
	c.JSON(http.StatusOK, candles)
}

func (r *Router) handleReady(c *gin.Context) {
	if r.readiness == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()
	if err := r.readiness.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.gateway.Stats())
}

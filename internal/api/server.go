// Package api exposes the HTTP surface: health, pair listing, the
// consolidated book and order entry.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/feed"
	"github.com/michael-ngx/crypto-router/internal/router"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

const defaultBookDepth = 10

// Server wires the feed manager and router service into a gin engine.
type Server struct {
	feeds   *feed.Manager
	orders  *router.Service
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(feeds *feed.Manager, orders *router.Service, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{feeds: feeds, orders: orders, metrics: m, log: log.Named("api")}
}

// Routes builds the engine with request logging and panic recovery.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.log, true))

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/pairs", s.handlePairs)
	r.GET("/api/book/:symbol", s.handleBook)
	r.POST("/api/orders", s.handleCreateOrder)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePairs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pairs": s.feeds.ListSupportedPairs()})
}

// handleBook subscribes the pair on demand and returns the consolidated
// ladder. Depth defaults to 10 and is clamped to the publish bound.
func (s *Server) handleBook(c *gin.Context) {
	symbol := feed.NormalizePair(c.Param("symbol"))

	depth := defaultBookDepth
	if raw := c.Query("depth"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d > 0 {
			depth = d
		}
	}
	if depth > feed.MaxTopDepth {
		depth = feed.MaxTopDepth
	}

	ui := s.feeds.GetOrSubscribe(symbol)
	if ui == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not supported"})
		return
	}
	c.JSON(http.StatusOK, ui.SnapshotConsolidated(depth))
}

type orderPayload struct {
	UserID     string   `json:"user_id" binding:"required"`
	Symbol     string   `json:"symbol" binding:"required"`
	Side       string   `json:"side" binding:"required"`
	Type       string   `json:"type" binding:"required"`
	Quantity   float64  `json:"quantity" binding:"required"`
	LimitPrice *float64 `json:"limit_price"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var payload orderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := feed.NormalizePair(payload.Symbol)
	// Make sure the pair's feeds are live before asking for routing inputs.
	if ui := s.feeds.GetOrSubscribe(symbol); ui == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not supported"})
		return
	}

	req := router.OrderRequest{
		UserID:     payload.UserID,
		Symbol:     symbol,
		Side:       strings.ToLower(payload.Side),
		Type:       strings.ToLower(payload.Type),
		Quantity:   payload.Quantity,
		LimitPrice: payload.LimitPrice,
	}

	result, rerr := s.orders.CreateOrder(c.Request.Context(), req)
	if rerr != nil {
		c.JSON(statusFor(rerr.Code), gin.H{"error": rerr.Message, "code": rerr.Code})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func statusFor(code router.ErrorCode) int {
	switch code {
	case router.CodeInvalidRequest:
		return http.StatusBadRequest
	case router.CodeSymbolNotSupported:
		return http.StatusNotFound
	case router.CodeMarketNoLiquidity, router.CodeInvalidRoutingPlan:
		return http.StatusUnprocessableEntity
	case router.CodeDatabaseNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cartsentry/internal/api/middleware"
	"cartsentry/internal/batch"
	"cartsentry/internal/cache"
	"cartsentry/internal/config"
	"cartsentry/internal/model"
	"cartsentry/internal/pkg/ratelimit"
	"cartsentry/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Server 封装了运维 API 所需的依赖和路由处理。
//
// 这不是面向最终用户的界面，而是监控循环、批处理与缓存的
// 操作面：手动查价、手动触发批处理、清空缓存等动作都从这里进来。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	rdb       *redis.Client
	router    *gin.Engine
	tracker   *tracker.Tracker
	batch     *batch.Scheduler
	cache     *cache.Cache
	snapshots *batch.MemorySnapshots
}

// NewServer 初始化 API 服务器并注册路由。
func NewServer(cfg *config.Config, logger *slog.Logger, rdb *redis.Client, trk *tracker.Tracker, sched *batch.Scheduler, c *cache.Cache, snapshots *batch.MemorySnapshots) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		rdb:       rdb,
		router:    r,
		tracker:   trk,
		batch:     sched,
		cache:     c,
		snapshots: snapshots,
	}
	s.registerRoutes()
	return s
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")

	// 写路由统一限流，读路由不限
	limiter := ratelimit.New(s.rdb, s.logger, "cartsentry:ratelimit:api", s.cfg.App.RateLimit, s.cfg.App.RateBurst)
	limited := api.Group("/")
	limited.Use(middleware.RateLimit(limiter, s.logger))

	api.GET("/products", s.handleListProducts)
	api.GET("/products/:id", s.handleGetProduct)
	api.GET("/products/:id/trend", s.handleProductTrend)
	api.GET("/alerts", s.handleListAlerts)
	api.GET("/batch/status", s.handleBatchStatus)

	limited.POST("/products", s.handleCreateProduct)
	limited.DELETE("/products/:id", s.handleDeleteProduct)
	limited.POST("/products/:id/pause", s.handlePauseProduct)
	limited.POST("/products/:id/resume", s.handleResumeProduct)
	limited.POST("/products/:id/check", s.handleCheckProduct)
	limited.POST("/alerts/:id/read", s.handleMarkAlertRead)
	limited.POST("/alerts/clear-read", s.handleClearReadAlerts)
	limited.POST("/batch/run", s.handleRunBatch)
	limited.POST("/cache/clear", s.handleClearCache)
	limited.POST("/deals", s.handleAddDeal)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createProductRequest 创建监控商品的请求参数。
type createProductRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	TargetPrice string `json:"target_price"` // 十进制字符串，空表示未设置
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := model.TrackedProduct{
		Name:     req.Name,
		Category: req.Category,
		IsActive: true,
	}
	if req.TargetPrice != "" {
		target, err := decimal.NewFromString(req.TargetPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target_price"})
			return
		}
		p.TargetPrice = &target
	}

	created, err := s.tracker.Track(c.Request.Context(), p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": s.tracker.Products()})
}

func (s *Server) handleGetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, found := s.tracker.Product(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.tracker.Untrack(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id.String()})
}

func (s *Server) handlePauseProduct(c *gin.Context) {
	s.setActive(c, false)
}

func (s *Server) handleResumeProduct(c *gin.Context) {
	s.setActive(c, true)
}

func (s *Server) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.tracker.SetActive(c.Request.Context(), id, active); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "is_active": active})
}

func (s *Server) handleCheckProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.tracker.CheckNow(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	p, _ := s.tracker.Product(id)
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleProductTrend(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	trend, err := s.tracker.Trend(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "trend": trend})
}

func (s *Server) handleListAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.tracker.Alerts()})
}

func (s *Server) handleMarkAlertRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.tracker.MarkAlertRead(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "is_read": true})
}

func (s *Server) handleClearReadAlerts(c *gin.Context) {
	removed := s.tracker.ClearReadAlerts(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":     s.batch.State(),
		"next_fire": s.batch.NextFire(),
	})
}

func (s *Server) handleRunBatch(c *gin.Context) {
	if s.batch.State() == batch.StateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "batch job already running"})
		return
	}
	// 作业可能包含多次外部调用，异步执行，不占住请求
	go s.batch.RunNow(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.cache.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// addDealRequest 登记一条促销，供下一轮批处理评估。
type addDealRequest struct {
	Title         string `json:"title" binding:"required"`
	Retailer      string `json:"retailer"`
	OriginalPrice string `json:"original_price" binding:"required"`
	DealPrice     string `json:"deal_price" binding:"required"`
	Category      string `json:"category"`
}

func (s *Server) handleAddDeal(c *gin.Context) {
	var req addDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	original, err := decimal.NewFromString(req.OriginalPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid original_price"})
		return
	}
	dealPrice, err := decimal.NewFromString(req.DealPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deal_price"})
		return
	}

	deal := model.DealRecord{
		ID:            uuid.New(),
		Title:         req.Title,
		Retailer:      req.Retailer,
		OriginalPrice: original,
		DealPrice:     dealPrice,
		Category:      req.Category,
		IsActive:      true,
	}
	s.snapshots.AddDeal(deal)
	c.JSON(http.StatusCreated, deal)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

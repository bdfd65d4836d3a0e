// internal/api/server.go
// HTTP API Server - 使用 Gin 框架
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"merchantrank/internal/rank"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server HTTP API 服务器
type Server struct {
	router *gin.Engine
	db     *gorm.DB
	rdb    *redis.Client
	engine *rank.Engine
	reset  *rank.ResetScheduler
	poller *rank.RefreshPoller
	logger *slog.Logger
	server *http.Server
}

// Config 服务器配置
type Config struct {
	Addr         string        // 监听地址 (如 ":8080")
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	Debug        bool          // 调试模式
	EnableCORS   bool          // 启用 CORS (开发模式)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Debug:        false,
		EnableCORS:   false,
	}
}

// NewServer 创建 API 服务器
func NewServer(
	db *gorm.DB,
	rdb *redis.Client,
	engine *rank.Engine,
	reset *rank.ResetScheduler,
	poller *rank.RefreshPoller,
	logger *slog.Logger,
	cfg *Config,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	if cfg.EnableCORS {
		router.Use(corsMiddleware())
	}

	s := &Server{
		router: router,
		db:     db,
		rdb:    rdb,
		engine: engine,
		reset:  reset,
		poller: poller,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	s.setupRoutes()

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.router.GET("/health", s.healthCheck)

	// 排行榜查询 (兼容历史路径)
	s.router.GET("/rank", s.getRank)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/rank", s.getRank)

		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
		}
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting API server", slog.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router 获取路由器（用于测试）
func (s *Server) Router() *gin.Engine {
	return s.router
}

// requestLogger 请求日志中间件
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
		)
	}
}

// corsMiddleware CORS 中间件 (允许所有来源)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ============================================================================
// Response 工具函数
// ============================================================================

// Response 统一响应格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// success 成功响应
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

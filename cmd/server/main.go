// cmd/server/main.go
// 商户排行榜查询服务 - 主入口
// 包含: API Server + 每日重置调度器 + 数据仓库轮询器
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merchantrank/internal/api"
	"merchantrank/internal/config"
	"merchantrank/internal/model"
	"merchantrank/internal/pkg/logger"
	"merchantrank/internal/rank"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	configFile := flag.String("config", "", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 初始化日志
	slogger := logger.NewWithIdentity(logger.Config{Level: cfg.App.LogLevel})
	slog.SetDefault(slogger)

	slogger.Info("starting merchant rank service")

	// 初始化 MySQL
	db, err := model.InitDB(&cfg.MySQL, slogger)
	if err != nil {
		slogger.Error("failed to connect MySQL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 自动迁移（开发环境）
	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := model.AutoMigrate(db); err != nil {
			slogger.Error("auto migrate failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 初始化 Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slogger.Error("failed to connect Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slogger.Info("Redis connected", slog.String("addr", cfg.Redis.Addr))

	// 组装核心组件
	store := rank.NewRedisStore(rdb)
	reader := rank.NewGormReader(db)
	locker := rank.NewStoreMutex(store, slogger)
	engine := rank.NewEngine(store, reader, locker, &cfg.Rank, slogger)
	reset := rank.NewResetScheduler(store, &cfg.Rank, slogger)
	poller := rank.NewRefreshPoller(store, reader, locker, &cfg.Rank, slogger)
	slogger.Info("rank engine initialized",
		slog.Int("reset_hour", cfg.Rank.ResetHour),
		slog.Duration("poll_interval", cfg.Rank.PollInterval),
		slog.String("timezone", cfg.Rank.Timezone))

	// 初始化 API Server
	apiCfg := &api.Config{
		Addr:         cfg.App.HTTPAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Debug:        cfg.App.Env == "local",
		EnableCORS:   os.Getenv("ENABLE_CORS") == "true",
	}
	server := api.NewServer(db, rdb, engine, reset, poller, slogger, apiCfg)

	// 创建 context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动后台任务
	reset.Start(ctx)
	poller.Start(ctx)
	slogger.Info("schedulers started")

	// 启动 API Server (在 goroutine 中)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slogger.Error("API server error", slog.String("error", err.Error()))
		}
	}()

	// 启动 Metrics Server (Prometheus)
	metricsAddr := cfg.App.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":2112"
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		slogger.Info("metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slogger.Info("all services started, waiting for shutdown signal...")

	// 等待关闭信号
	<-ctx.Done()
	slogger.Info("shutdown signal received, stopping services...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("API server shutdown error", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("metrics server shutdown error", slog.String("error", err.Error()))
	}

	poller.Stop()
	reset.Stop()
	slogger.Info("schedulers stopped")

	if err := rdb.Close(); err != nil {
		slogger.Error("Redis close error", slog.String("error", err.Error()))
	}

	slogger.Info("merchant rank service stopped")
}

// loadConfig 加载配置
func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	// 尝试默认路径
	for _, path := range []string{"configs/config.json", "config.json", "/etc/merchantrank/config.json"} {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load()
}

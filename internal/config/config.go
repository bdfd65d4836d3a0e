package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置
type Config struct {
	App   AppConfig   `json:"app"`
	Rank  RankConfig  `json:"rank"`
	MySQL MySQLConfig `json:"mysql"`
	Redis RedisConfig `json:"redis"`
}

// AppConfig 应用程序基础配置
type AppConfig struct {
	Env         string `json:"env"`          // 运行环境: local / prod
	LogLevel    string `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string `json:"http_addr"`    // API 服务监听地址
	MetricsAddr string `json:"metrics_addr"` // Prometheus 指标监听地址
}

// RankConfig 排行榜缓存配置
type RankConfig struct {
	ResetHour         int           `json:"reset_hour"`         // 每日重置时刻 (整点, 业务时区)
	ResetTickInterval time.Duration `json:"reset_tick_interval"` // 重置调度器检查间隔
	PollInterval      time.Duration `json:"poll_interval"`      // 数据仓库轮询间隔
	DataTTL           time.Duration `json:"data_ttl"`           // 正常数据缓存 TTL
	EmptyTTL          time.Duration `json:"empty_ttl"`          // 空数据标记 TTL (防穿透)
	WaitingTTL        time.Duration `json:"waiting_ttl"`        // 等待更新标记 TTL
	MarkerTTL         time.Duration `json:"marker_ttl"`         // 每日重置标记 TTL
	LockTTL           time.Duration `json:"lock_ttl"`           // 分布式锁 TTL (防击穿)
	LockRetryDelay    time.Duration `json:"lock_retry_delay"`   // 抢锁失败后的等待时间
	UpdateConcurrency int           `json:"update_concurrency"` // 轮询刷新时并发写缓存的分区数
	Timezone          string        `json:"timezone"`           // 业务时区
}

// MySQLConfig MySQL 数据库配置
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr         string        `json:"addr"`           // Redis 地址 (host:port)
	Password     string        `json:"password"`       // Redis 密码
	PoolSize     int           `json:"pool_size"`      // 连接池大小 (默认 10)
	MinIdleConns int           `json:"min_idle_conns"` // 最小空闲连接数 (默认 2)
	DialTimeout  time.Duration `json:"dial_timeout"`   // 连接超时 (默认 5s)
	ReadTimeout  time.Duration `json:"read_timeout"`   // 读取超时 (默认 3s)
	WriteTimeout time.Duration `json:"write_timeout"`  // 写入超时 (默认 3s)
}

// Load 从 JSON 文件加载配置
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8080",
			MetricsAddr: ":2112",
		},
		Rank: RankConfig{
			ResetHour:         12,
			ResetTickInterval: 30 * time.Second,
			PollInterval:      time.Minute,
			DataTTL:           6 * time.Hour,
			EmptyTTL:          5 * time.Minute,
			WaitingTTL:        time.Minute,
			MarkerTTL:         24 * time.Hour,
			LockTTL:           10 * time.Second,
			LockRetryDelay:    100 * time.Millisecond,
			UpdateConcurrency: 4,
			Timezone:          "Asia/Shanghai",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/merchantrank?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Password:     "",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	// App
	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}

	// Rank
	if cfg.Rank.ResetHour == 0 {
		cfg.Rank.ResetHour = defaults.Rank.ResetHour
	}
	if cfg.Rank.ResetTickInterval == 0 {
		cfg.Rank.ResetTickInterval = defaults.Rank.ResetTickInterval
	}
	if cfg.Rank.PollInterval == 0 {
		cfg.Rank.PollInterval = defaults.Rank.PollInterval
	}
	if cfg.Rank.DataTTL == 0 {
		cfg.Rank.DataTTL = defaults.Rank.DataTTL
	}
	if cfg.Rank.EmptyTTL == 0 {
		cfg.Rank.EmptyTTL = defaults.Rank.EmptyTTL
	}
	if cfg.Rank.WaitingTTL == 0 {
		cfg.Rank.WaitingTTL = defaults.Rank.WaitingTTL
	}
	if cfg.Rank.MarkerTTL == 0 {
		cfg.Rank.MarkerTTL = defaults.Rank.MarkerTTL
	}
	if cfg.Rank.LockTTL == 0 {
		cfg.Rank.LockTTL = defaults.Rank.LockTTL
	}
	if cfg.Rank.LockRetryDelay == 0 {
		cfg.Rank.LockRetryDelay = defaults.Rank.LockRetryDelay
	}
	if cfg.Rank.UpdateConcurrency == 0 {
		cfg.Rank.UpdateConcurrency = defaults.Rank.UpdateConcurrency
	}
	if cfg.Rank.Timezone == "" {
		cfg.Rank.Timezone = defaults.Rank.Timezone
	}

	// Redis
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = defaults.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = defaults.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = defaults.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = defaults.Redis.WriteTimeout
	}

	// MySQL
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	// App
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}

	// Rank
	if v := os.Getenv("RANK_RESET_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Rank.ResetHour = i
		}
	}
	if v := os.Getenv("RANK_RESET_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.ResetTickInterval = d
		}
	}
	if v := os.Getenv("RANK_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.PollInterval = d
		}
	}
	if v := os.Getenv("RANK_DATA_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.DataTTL = d
		}
	}
	if v := os.Getenv("RANK_EMPTY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.EmptyTTL = d
		}
	}
	if v := os.Getenv("RANK_WAITING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.WaitingTTL = d
		}
	}
	if v := os.Getenv("RANK_MARKER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.MarkerTTL = d
		}
	}
	if v := os.Getenv("RANK_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.LockTTL = d
		}
	}
	if v := os.Getenv("RANK_LOCK_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rank.LockRetryDelay = d
		}
	}
	if v := os.Getenv("RANK_UPDATE_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Rank.UpdateConcurrency = i
		}
	}
	if v := os.Getenv("RANK_TIMEZONE"); v != "" {
		cfg.Rank.Timezone = v
	}

	// MySQL
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		cfg.MySQL.DSN = buildMySQLDSN(cfg.MySQL.DSN)
	}

	// Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.PoolSize = i
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.MinIdleConns = i
		}
	}
	if v := os.Getenv("REDIS_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.DialTimeout = d
		}
	}
	if v := os.Getenv("REDIS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.ReadTimeout = d
		}
	}
	if v := os.Getenv("REDIS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.WriteTimeout = d
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func buildMySQLDSN(fallbackDSN string) string {
	parsed, err := mysql.ParseDSN(fallbackDSN)
	if err != nil {
		parsed = &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "merchantrank",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		port := "3306"
		if p := os.Getenv("DB_PORT"); p != "" {
			port = p
		} else if strings.Contains(parsed.Addr, ":") {
			parts := strings.Split(parsed.Addr, ":")
			if len(parts) == 2 {
				port = parts[1]
			}
		}
		parsed.Addr = v + ":" + port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}

	return parsed.FormatDSN()
}

// Location 解析业务时区，解析失败时退回本地时区
func (c *RankConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

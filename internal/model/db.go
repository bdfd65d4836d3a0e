package model

import (
	"fmt"
	"log/slog"
	"time"

	"merchantrank/internal/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBOptions 数据库连接选项
type DBOptions struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// DefaultDBOptions 返回默认数据库选项
func DefaultDBOptions() DBOptions {
	return DBOptions{
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		LogLevel:        "warn",
	}
}

// InitDB 初始化数据库连接
func InitDB(cfg *config.MySQLConfig, log *slog.Logger, opts ...DBOptions) (*gorm.DB, error) {
	opt := DefaultDBOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	var logLevel logger.LogLevel
	switch opt.LogLevel {
	case "silent":
		logLevel = logger.Silent
	case "info":
		logLevel = logger.Info
	case "error":
		logLevel = logger.Error
	default:
		logLevel = logger.Warn
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)

	log.Info("database connected",
		slog.String("dsn", maskDSN(cfg.DSN)),
		slog.Int("max_idle_conns", opt.MaxIdleConns),
		slog.Int("max_open_conns", opt.MaxOpenConns),
	)

	return db, nil
}

// maskDSN 遮盖 DSN 中的密码
func maskDSN(dsn string) string {
	// user:password@... -> user:***@...
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' && i+1 < len(dsn) {
			for j := i + 1; j < len(dsn); j++ {
				if dsn[j] == '@' {
					return dsn[:i+1] + "***" + dsn[j:]
				}
			}
			break
		}
	}
	return dsn
}

// AutoMigrate 自动迁移数据库表结构
// 注意：merchant_rank_info 由上游数仓任务写入，线上建议用 SQL 迁移文件管理
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&MerchantRank{})
}

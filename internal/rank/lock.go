// internal/rank/lock.go
// 基于缓存存储 SetNX 的分布式锁
package rank

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Locker 短生命周期的命名锁。
// TTL 是锁的自动超时: 持有者崩溃后锁最多存活一个 TTL，不会永久阻塞分区。
type Locker interface {
	// Acquire 尝试获取锁，成功时返回持有者 token。
	// 获取失败 (已被占用或存储出错) 返回 false，不阻塞等待。
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool)

	// Release 释放锁。token 不匹配或锁已过期时为无害的空操作。
	Release(ctx context.Context, key, token string)
}

// StoreMutex 在缓存存储上实现 Locker。
// 获取是一次原子 SetNX，释放是 token 比对后的删除。
type StoreMutex struct {
	store  Store
	logger *slog.Logger
}

// NewStoreMutex 创建分布式锁
func NewStoreMutex(store Store, logger *slog.Logger) *StoreMutex {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreMutex{store: store, logger: logger}
}

// Acquire 尝试获取锁
func (m *StoreMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	ok, err := m.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		m.logger.Warn("lock acquire failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return "", false
	}
	if !ok {
		return "", false
	}
	return token, true
}

// Release 释放锁
func (m *StoreMutex) Release(ctx context.Context, key, token string) {
	if _, err := m.store.CompareDelete(ctx, key, token); err != nil {
		// 释放失败不致命: 锁会随 TTL 过期
		m.logger.Warn("lock release failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

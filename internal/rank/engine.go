// internal/rank/engine.go
// 排行榜缓存引擎 - cache-aside 读路径、防穿透、防击穿、降级
package rank

import (
	"context"
	"log/slog"
	"time"

	"merchantrank/internal/config"
	"merchantrank/internal/model"
	"merchantrank/internal/pkg/metrics"
)

// Engine 排行榜缓存引擎。
// GetRank 对外永不失败: 任何内部错误都降级为直查数据仓库或空结果。
type Engine struct {
	store  Store
	reader Reader
	locker Locker
	cfg    *config.RankConfig
	loc    *time.Location
	logger *slog.Logger

	// 可注入时钟，测试用
	now func() time.Time
}

// NewEngine 创建缓存引擎
func NewEngine(store Store, reader Reader, locker Locker, cfg *config.RankConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		reader: reader,
		locker: locker,
		cfg:    cfg,
		loc:    cfg.Location(),
		logger: logger,
		now:    time.Now,
	}
}

// today 业务时区下的当天日期
func (e *Engine) today() string {
	return FormatDate(e.now().In(e.loc))
}

// GetRank 获取排行榜数据。
// 1. 先查缓存; 2. 缓存没有则加锁查数据仓库; 3. 空结果也缓存 (防穿透);
// 4. 缓存存储不可用时直查数据仓库降级。
func (e *Engine) GetRank(ctx context.Context, q Query) []model.MerchantRank {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	if !q.Valid() {
		e.logger.Warn("incomplete rank query",
			slog.String("city_id", q.CityID),
			slog.Int("type", q.Type),
			slog.Int("category", q.Category))
		metrics.CacheResults.WithLabelValues("invalid_query").Inc()
		return []model.MerchantRank{}
	}

	today := e.today()
	cacheKey := DataKey(q, today)

	raw, found, err := e.store.Get(ctx, cacheKey)
	if err != nil {
		// 缓存存储故障: 本次请求完全绕开缓存
		e.logger.Warn("cache read failed, falling back to database",
			slog.String("key", cacheKey),
			slog.String("error", err.Error()))
		metrics.CacheResults.WithLabelValues("degraded").Inc()
		return e.directFallback(ctx, q, today)
	}

	if found {
		entry, err := DecodeEntry(raw)
		if err != nil {
			e.logger.Warn("corrupt cache entry, falling back to database",
				slog.String("key", cacheKey),
				slog.String("error", err.Error()))
			metrics.CacheResults.WithLabelValues("degraded").Inc()
			return e.directFallback(ctx, q, today)
		}
		switch entry.State {
		case StateData:
			metrics.CacheResults.WithLabelValues("hit_data").Inc()
			return entry.Records
		case StateEmpty:
			metrics.CacheResults.WithLabelValues("hit_empty").Inc()
			return []model.MerchantRank{}
		default: // StateWaiting
			metrics.CacheResults.WithLabelValues("hit_waiting").Inc()
			return []model.MerchantRank{}
		}
	}

	metrics.CacheResults.WithLabelValues("miss").Inc()
	return e.recomputeWithLock(ctx, q, cacheKey, today)
}

// recomputeWithLock 加分布式锁后查数据仓库 (防击穿)。
// 多个请求同时 miss 同一个 key 时只有一个触发数据仓库查询，
// 其余等待一个固定延迟后重查一次缓存，仍未命中则放弃返回空，限制尾延迟。
func (e *Engine) recomputeWithLock(ctx context.Context, q Query, cacheKey, today string) []model.MerchantRank {
	lockKey := LockKey(cacheKey)

	token, acquired := e.locker.Acquire(ctx, lockKey, e.cfg.LockTTL)
	if acquired {
		defer e.locker.Release(ctx, lockKey, token)
		return e.populate(ctx, q, cacheKey, today)
	}

	// 没抢到锁: 有别的请求正在查，等它写完缓存
	metrics.LockContention.Inc()
	select {
	case <-ctx.Done():
		return []model.MerchantRank{}
	case <-time.After(e.cfg.LockRetryDelay):
	}

	raw, found, err := e.store.Get(ctx, cacheKey)
	if err != nil || !found {
		return []model.MerchantRank{}
	}
	entry, err := DecodeEntry(raw)
	if err != nil || entry.State != StateData {
		return []model.MerchantRank{}
	}
	return entry.Records
}

// populate 查数据仓库并回填缓存。
// 缓存写失败只记日志，查到的数据照常返回: 读成功不依赖缓存可用。
func (e *Engine) populate(ctx context.Context, q Query, cacheKey, today string) []model.MerchantRank {
	metrics.StoreQueries.WithLabelValues("partition").Inc()

	rows, err := e.reader.SelectByPartition(ctx, today, q)
	if err != nil {
		e.logger.Error("database query failed",
			slog.String("key", cacheKey),
			slog.String("error", err.Error()))
		return []model.MerchantRank{}
	}

	if len(rows) == 0 {
		// 数据仓库也没有: 缓存空标记防穿透
		e.writeEntry(ctx, cacheKey, Entry{State: StateEmpty}, e.cfg.EmptyTTL)
		return []model.MerchantRank{}
	}

	e.writeEntry(ctx, cacheKey, Entry{State: StateData, Records: rows}, e.cfg.DataTTL)
	return rows
}

// directFallback 绕开缓存直查数据仓库 (降级路径)
func (e *Engine) directFallback(ctx context.Context, q Query, today string) []model.MerchantRank {
	metrics.StoreQueries.WithLabelValues("fallback").Inc()

	rows, err := e.reader.SelectByPartition(ctx, today, q)
	if err != nil {
		e.logger.Error("fallback database query failed",
			slog.String("query", q.String()),
			slog.String("error", err.Error()))
		return []model.MerchantRank{}
	}
	if rows == nil {
		rows = []model.MerchantRank{}
	}
	return rows
}

// writeEntry 编码并写入缓存值，失败只记日志
func (e *Engine) writeEntry(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	raw, err := EncodeEntry(entry)
	if err != nil {
		e.logger.Error("encode cache entry failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}
	if err := e.store.Set(ctx, key, raw, ttl); err != nil {
		e.logger.Warn("cache write failed",
			slog.String("key", key),
			slog.String("state", string(entry.State)),
			slog.String("error", err.Error()))
	}
}

// internal/rank/poller.go
// 数据仓库轮询器 - 重置后等待新数据产出并按分区回填缓存
package rank

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"merchantrank/internal/config"
	"merchantrank/internal/model"
	"merchantrank/internal/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// RefreshPoller 固定间隔轮询数据仓库。
// 只在当天已过重置时刻且重置标记存在时工作；数据仓库还没产出当天数据
// 就什么都不做，等下一个 tick，没有额外退避。
type RefreshPoller struct {
	store  Store
	reader Reader
	locker Locker
	cfg    *config.RankConfig
	loc    *time.Location
	logger *slog.Logger

	mu      sync.RWMutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	// 可注入时钟，测试用
	now func() time.Time
}

// NewRefreshPoller 创建轮询器
func NewRefreshPoller(store Store, reader Reader, locker Locker, cfg *config.RankConfig, logger *slog.Logger) *RefreshPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshPoller{
		store:  store,
		reader: reader,
		locker: locker,
		cfg:    cfg,
		loc:    cfg.Location(),
		logger: logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start 启动轮询循环
func (p *RefreshPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop 停止轮询循环
func (p *RefreshPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning 检查轮询器是否运行中
func (p *RefreshPoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *RefreshPoller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一次轮询检查
func (p *RefreshPoller) RunOnce(ctx context.Context) {
	now := p.now().In(p.loc)
	if now.Hour() < p.cfg.ResetHour {
		// 还没到重置时刻
		return
	}

	today := FormatDate(now)

	// 重置标记缺失说明今天还没重置过 (比如进程刚启动)，保守跳过，
	// 不在这里补执行重置
	_, found, err := p.store.Get(ctx, ResetMarkerKey(today))
	if err != nil {
		p.logger.Warn("reset marker check failed",
			slog.String("date", today),
			slog.String("error", err.Error()))
		metrics.RefreshRuns.WithLabelValues("failed").Inc()
		return
	}
	if !found {
		metrics.RefreshRuns.WithLabelValues("skipped").Inc()
		return
	}

	metrics.StoreQueries.WithLabelValues("full").Inc()
	rows, err := p.reader.SelectByDate(ctx, today)
	if err != nil {
		p.logger.Error("database poll failed",
			slog.String("date", today),
			slog.String("error", err.Error()))
		metrics.RefreshRuns.WithLabelValues("failed").Inc()
		return
	}
	if len(rows) == 0 {
		// 数据仓库还没产出当天数据，下个 tick 再看
		metrics.RefreshRuns.WithLabelValues("no_data").Inc()
		return
	}

	updated, skipped := p.updateCache(ctx, rows, today)
	metrics.RefreshRuns.WithLabelValues("ok").Inc()
	p.logger.Info("rank cache refreshed",
		slog.String("date", today),
		slog.Int("rows", len(rows)),
		slog.Int64("partitions_updated", updated),
		slog.Int64("partitions_skipped", skipped))
}

// updateCache 按分区回填缓存。
// 每个分区先抢独立的更新锁；锁被占 (比如读路径正在重建同一分区) 就跳过，
// 留给下个 tick 或下次读 miss。单分区失败不影响其余分区。
func (p *RefreshPoller) updateCache(ctx context.Context, rows []model.MerchantRank, today string) (updated, skipped int64) {
	groups := groupByPartition(rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UpdateConcurrency)

	var updatedCount, skippedCount atomic.Int64
	for partition, records := range groups {
		g.Go(func() error {
			cacheKey := DataKeyForPartition(partition, today)
			lockKey := UpdateLockKey(cacheKey)

			token, acquired := p.locker.Acquire(gctx, lockKey, p.cfg.LockTTL)
			if !acquired {
				skippedCount.Add(1)
				metrics.RefreshPartitions.WithLabelValues("skipped").Inc()
				return nil
			}
			defer p.locker.Release(gctx, lockKey, token)

			raw, err := EncodeEntry(Entry{State: StateData, Records: records})
			if err != nil {
				p.logger.Error("encode partition entry failed",
					slog.String("key", cacheKey),
					slog.String("error", err.Error()))
				metrics.RefreshPartitions.WithLabelValues("failed").Inc()
				return nil
			}
			if err := p.store.Set(gctx, cacheKey, raw, p.cfg.DataTTL); err != nil {
				p.logger.Warn("partition cache write failed",
					slog.String("key", cacheKey),
					slog.String("error", err.Error()))
				metrics.RefreshPartitions.WithLabelValues("failed").Inc()
				return nil
			}

			updatedCount.Add(1)
			metrics.RefreshPartitions.WithLabelValues("updated").Inc()
			return nil
		})
	}
	_ = g.Wait()

	return updatedCount.Load(), skippedCount.Load()
}

// groupByPartition 单遍扫描把记录按 (城市, 类型, 品类) 分组，
// 组内保持输入顺序 (查询已按 sort_order 排序)
func groupByPartition(rows []model.MerchantRank) map[string][]model.MerchantRank {
	groups := make(map[string][]model.MerchantRank)
	for _, row := range rows {
		key := RecordPartition(row)
		groups[key] = append(groups[key], row)
	}
	return groups
}

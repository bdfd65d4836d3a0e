// internal/rank/reset.go
// 每日重置调度器 - 到点把当天缓存置为等待状态并写重置标记
package rank

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"merchantrank/internal/config"
	"merchantrank/internal/pkg/metrics"
)

// ResetScheduler 每天在配置的整点触发一次重置。
// 用 ticker + 墙钟判断代替 cron: 记录最后触发日期并检查重置标记，
// 保证同一天不会重复触发 (包括进程重启后)。
type ResetScheduler struct {
	store  Store
	cfg    *config.RankConfig
	loc    *time.Location
	logger *slog.Logger

	mu        sync.RWMutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	lastFired string // 最后触发的日期 (yyyy-mm-dd)

	// 可注入时钟，测试用
	now func() time.Time
}

// NewResetScheduler 创建重置调度器
func NewResetScheduler(store Store, cfg *config.RankConfig, logger *slog.Logger) *ResetScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetScheduler{
		store:  store,
		cfg:    cfg,
		loc:    cfg.Location(),
		logger: logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start 启动调度循环
func (s *ResetScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop 停止调度循环
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// IsRunning 检查调度器是否运行中
func (s *ResetScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *ResetScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ResetTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.fireIfDue(ctx)
		}
	}
}

// fireIfDue 墙钟过了重置时刻且今天还没触发过时执行重置
func (s *ResetScheduler) fireIfDue(ctx context.Context) {
	now := s.now().In(s.loc)
	if now.Hour() < s.cfg.ResetHour {
		return
	}

	today := FormatDate(now)
	if s.lastFired == today {
		return
	}

	// 重置标记覆盖进程重启: 今天已经有实例重置过就不再重复
	_, found, err := s.store.Get(ctx, ResetMarkerKey(today))
	if err != nil {
		s.logger.Warn("reset marker check failed",
			slog.String("date", today),
			slog.String("error", err.Error()))
		return
	}
	if found {
		s.lastFired = today
		return
	}

	s.Run(ctx, today)
	s.lastFired = today
}

// Run 执行一次重置: 把当天所有缓存置为等待状态，然后写重置标记。
// 标记是轮询器的开关，只有重置成功扫完 key 后才写。
func (s *ResetScheduler) Run(ctx context.Context, today string) {
	s.logger.Info("daily rank reset started", slog.String("date", today))

	keys, err := s.store.KeysWithPrefix(ctx, CachePrefix)
	if err != nil {
		// 不在本轮重试: 明天的重置独立触发，今天的标记缺失会让轮询器跳过
		s.logger.Error("cache key enumeration failed",
			slog.String("error", err.Error()))
		metrics.ResetRuns.WithLabelValues("failed").Inc()
		return
	}

	waiting, err := EncodeEntry(Entry{State: StateWaiting})
	if err != nil {
		s.logger.Error("encode waiting entry failed", slog.String("error", err.Error()))
		metrics.ResetRuns.WithLabelValues("failed").Inc()
		return
	}

	marked := 0
	for _, key := range keys {
		// 只处理当天的数据 key; 其他日期的 key 等 TTL 自然过期
		if strings.HasPrefix(key, ResetMarkerPrefix) || !strings.Contains(key, today) {
			continue
		}
		if err := s.store.Set(ctx, key, waiting, s.cfg.WaitingTTL); err != nil {
			s.logger.Warn("mark waiting failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		marked++
	}

	if err := s.store.Set(ctx, ResetMarkerKey(today), "cleared", s.cfg.MarkerTTL); err != nil {
		s.logger.Error("reset marker write failed",
			slog.String("date", today),
			slog.String("error", err.Error()))
		metrics.ResetRuns.WithLabelValues("failed").Inc()
		return
	}

	metrics.ResetRuns.WithLabelValues("ok").Inc()
	s.logger.Info("daily rank reset finished",
		slog.String("date", today),
		slog.Int("marked_waiting", marked),
		slog.Int("scanned_keys", len(keys)))
}

// Package metrics 提供 Prometheus 监控指标定义。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 读路径相关指标
var (
	// CacheResults 缓存查询结果分类计数
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchantrank_cache_results_total",
		Help: "Rank cache lookup results",
	}, []string{"result"}) // result: hit_data, hit_empty, hit_waiting, miss, degraded, invalid_query

	// StoreQueries 数据仓库查询计数
	StoreQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchantrank_store_queries_total",
		Help: "Authoritative store queries",
	}, []string{"kind"}) // kind: partition, full, fallback

	// LockContention 抢锁失败次数 (读路径防击穿)
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchantrank_lock_contention_total",
		Help: "Read-path recompute lock acquisitions lost to another holder",
	})

	// QueryDuration 查询耗时分布
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merchantrank_query_duration_seconds",
		Help:    "GetRank end-to-end duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)

// 后台任务相关指标
var (
	// ResetRuns 每日重置执行计数
	ResetRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchantrank_reset_runs_total",
		Help: "Daily reset job runs",
	}, []string{"status"}) // status: ok, failed

	// RefreshRuns 轮询刷新执行计数
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchantrank_refresh_runs_total",
		Help: "Refresh poller ticks",
	}, []string{"status"}) // status: ok, skipped, no_data, failed

	// RefreshPartitions 轮询刷新的分区处理计数
	RefreshPartitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchantrank_refresh_partitions_total",
		Help: "Partitions processed by the refresh poller",
	}, []string{"status"}) // status: updated, skipped, failed
)

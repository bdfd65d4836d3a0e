package rank

import (
	"context"
	"testing"
	"time"

	"merchantrank/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(store Store, reader Reader) *RefreshPoller {
	cfg := testRankConfig()
	locker := NewStoreMutex(store, testLogger())
	poller := NewRefreshPoller(store, reader, locker, cfg, testLogger())
	poller.now = func() time.Time {
		return time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC)
	}
	return poller
}

func warehouseRows() []model.MerchantRank {
	// 两个分区交错，组内按 sort_order 有序
	return []model.MerchantRank{
		{ID: 1, CityID: "1001", Type: 1, Category: 2, MerchantID: 7, SortOrder: 1, Date: "2026-09-01"},
		{ID: 3, CityID: "2002", Type: 1, Category: 5, MerchantID: 11, SortOrder: 1, Date: "2026-09-01"},
		{ID: 2, CityID: "1001", Type: 1, Category: 2, MerchantID: 9, SortOrder: 2, Date: "2026-09-01"},
		{ID: 4, CityID: "2002", Type: 1, Category: 5, MerchantID: 13, SortOrder: 2, Date: "2026-09-01"},
	}
}

func setResetMarker(t *testing.T, store Store, date string) {
	require.NoError(t, store.Set(context.Background(), ResetMarkerKey(date), "cleared", time.Hour))
}

func TestGroupByPartition(t *testing.T) {
	groups := groupByPartition(warehouseRows())

	require.Len(t, groups, 2)
	require.Len(t, groups["1001:1:2"], 2)
	require.Len(t, groups["2002:1:5"], 2)

	// 组内保持输入顺序
	assert.Equal(t, uint64(7), groups["1001:1:2"][0].MerchantID)
	assert.Equal(t, uint64(9), groups["1001:1:2"][1].MerchantID)
	assert.Equal(t, uint64(11), groups["2002:1:5"][0].MerchantID)
	assert.Equal(t, uint64(13), groups["2002:1:5"][1].MerchantID)
}

func TestPoller_BeforeResetHour(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)
	poller.now = func() time.Time {
		return time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	}
	setResetMarker(t, store, "2026-09-01")

	poller.RunOnce(context.Background())

	// 没到重置时刻: 连数据仓库都不查
	assert.Equal(t, 0, reader.dateCalls)
}

func TestPoller_NoMarkerSkips(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)

	// 重置标记缺失 (比如进程刚启动): 保守跳过，不补执行重置
	poller.RunOnce(context.Background())

	assert.Equal(t, 0, reader.dateCalls)
	keys, err := store.KeysWithPrefix(context.Background(), CachePrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPoller_NoDataYet(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{}}
	poller := newTestPoller(store, reader)
	setResetMarker(t, store, "2026-09-01")

	// 数据仓库还没产出: 本轮什么都不写
	poller.RunOnce(context.Background())

	assert.Equal(t, 1, reader.dateCalls)
	keys, err := store.KeysWithPrefix(context.Background(), CachePrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 1) // 只有重置标记
}

func TestPoller_RefreshesByPartition(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)
	setResetMarker(t, store, "2026-09-01")

	poller.RunOnce(context.Background())

	for _, tc := range []struct {
		key       string
		merchants []uint64
	}{
		{"rank:1001:1:2:2026-09-01", []uint64{7, 9}},
		{"rank:2002:1:5:2026-09-01", []uint64{11, 13}},
	} {
		raw, found, err := store.Get(context.Background(), tc.key)
		require.NoError(t, err)
		require.True(t, found, "key %s not written", tc.key)
		entry, err := DecodeEntry(raw)
		require.NoError(t, err)
		assert.Equal(t, StateData, entry.State)
		require.Len(t, entry.Records, len(tc.merchants))
		for i, m := range tc.merchants {
			assert.Equal(t, m, entry.Records[i].MerchantID)
		}
	}
}

func TestPoller_WaitingEntriesBecomeData(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)
	setResetMarker(t, store, "2026-09-01")

	// 重置后的等待状态
	waiting, err := EncodeEntry(Entry{State: StateWaiting})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "rank:1001:1:2:2026-09-01", waiting, time.Minute))

	poller.RunOnce(context.Background())

	assert.Equal(t, StateData, entryState(t, store, "rank:1001:1:2:2026-09-01"))
}

func TestPoller_Idempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)
	setResetMarker(t, store, "2026-09-01")

	poller.RunOnce(context.Background())
	first, _, err := store.Get(context.Background(), "rank:1001:1:2:2026-09-01")
	require.NoError(t, err)

	// 数据不变时再跑一轮: 缓存内容不变，不重复、不乱序
	poller.RunOnce(context.Background())
	second, _, err := store.Get(context.Background(), "rank:1001:1:2:2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, reader.dateCalls)
}

func TestPoller_SkipsLockedPartition(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{"2026-09-01": warehouseRows()}}
	poller := newTestPoller(store, reader)
	setResetMarker(t, store, "2026-09-01")

	// 某分区的更新锁被占用 (比如读路径正在重建)
	locker := NewStoreMutex(store, testLogger())
	lockKey := UpdateLockKey("rank:1001:1:2:2026-09-01")
	token, ok := locker.Acquire(context.Background(), lockKey, 10*time.Second)
	require.True(t, ok)
	defer locker.Release(context.Background(), lockKey, token)

	poller.RunOnce(context.Background())

	// 被锁的分区本轮跳过，其他分区正常更新
	_, found, err := store.Get(context.Background(), "rank:1001:1:2:2026-09-01")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, StateData, entryState(t, store, "rank:2002:1:5:2026-09-01"))

	// 锁释放后的下一轮补上
	locker.Release(context.Background(), lockKey, token)
	poller.RunOnce(context.Background())
	assert.Equal(t, StateData, entryState(t, store, "rank:1001:1:2:2026-09-01"))
}

func TestPoller_StartStop(t *testing.T) {
	store, _ := setupTestStore(t)
	cfg := testRankConfig()
	cfg.PollInterval = 10 * time.Millisecond
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{}}
	poller := NewRefreshPoller(store, reader, NewStoreMutex(store, testLogger()), cfg, testLogger())

	poller.Start(context.Background())
	assert.True(t, poller.IsRunning())

	time.Sleep(30 * time.Millisecond)

	poller.Stop()
	assert.False(t, poller.IsRunning())
}

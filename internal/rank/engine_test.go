package rank

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"merchantrank/internal/config"
	"merchantrank/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRankConfig 测试用配置: UTC 时区、短延迟
func testRankConfig() *config.RankConfig {
	cfg := config.DefaultConfig().Rank
	cfg.Timezone = "UTC"
	cfg.LockRetryDelay = 100 * time.Millisecond
	return &cfg
}

func todayUTC() string {
	return FormatDate(time.Now().UTC())
}

// fakeReader 数据仓库替身，记录调用次数
type fakeReader struct {
	mu             sync.Mutex
	delay          time.Duration
	err            error
	rowsByDate     map[string][]model.MerchantRank
	dateCalls      int
	partitionCalls int
}

func (f *fakeReader) SelectByDate(ctx context.Context, date string) ([]model.MerchantRank, error) {
	f.mu.Lock()
	f.dateCalls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rowsByDate[date], nil
}

func (f *fakeReader) SelectByPartition(ctx context.Context, date string, q Query) ([]model.MerchantRank, error) {
	f.mu.Lock()
	f.partitionCalls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []model.MerchantRank
	for _, r := range f.rowsByDate[date] {
		if r.CityID == q.CityID && r.Type == q.Type && r.Category == q.Category {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) PartitionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partitionCalls
}

// countingStore 统计缓存存储访问次数
type countingStore struct {
	Store
	ops atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	c.ops.Add(1)
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.ops.Add(1)
	return c.Store.Set(ctx, key, value, ttl)
}

// failingStore 所有操作都失败的缓存存储
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errStoreDown
}
func (failingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errStoreDown
}
func (failingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failingStore) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	return false, errStoreDown
}
func (failingStore) Delete(ctx context.Context, keys ...string) error {
	return errStoreDown
}
func (failingStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, errStoreDown
}

func testRows(date string) []model.MerchantRank {
	return []model.MerchantRank{
		{ID: 1, CityID: "1001", Type: 1, Category: 2, MerchantID: 7, SortOrder: 1, Date: date},
		{ID: 2, CityID: "1001", Type: 1, Category: 2, MerchantID: 9, SortOrder: 2, Date: date},
	}
}

func newTestEngine(t *testing.T, store Store, reader Reader) *Engine {
	cfg := testRankConfig()
	locker := NewStoreMutex(store, testLogger())
	return NewEngine(store, reader, locker, cfg, testLogger())
}

func TestEngine_InvalidQuery(t *testing.T) {
	redisStore, _ := setupTestStore(t)
	store := &countingStore{Store: redisStore}
	reader := &fakeReader{}
	engine := newTestEngine(t, store, reader)

	for _, q := range []Query{
		{},
		{CityID: "1001"},
		{CityID: "1001", Type: 1},
		{Type: 1, Category: 2},
	} {
		got := engine.GetRank(context.Background(), q)
		assert.Empty(t, got)
	}

	// 不完整的查询不触碰任何存储
	assert.Equal(t, int64(0), store.ops.Load())
	assert.Equal(t, 0, reader.PartitionCalls())
}

func TestEngine_MissThenCached(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}

	// 首次 miss: 查数据仓库并回填缓存
	got := engine.GetRank(context.Background(), q)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(7), got[0].MerchantID)
	assert.Equal(t, uint64(9), got[1].MerchantID)
	assert.Equal(t, 1, reader.PartitionCalls())

	raw, found, err := store.Get(context.Background(), DataKey(q, today))
	require.NoError(t, err)
	require.True(t, found)
	entry, err := DecodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, StateData, entry.State)

	// 命中缓存: 不再访问数据仓库，内容不变
	got2 := engine.GetRank(context.Background(), q)
	assert.Equal(t, got, got2)
	assert.Equal(t, 1, reader.PartitionCalls())
}

func TestEngine_EmptyResultCached(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "9999", Type: 1, Category: 2}

	got := engine.GetRank(context.Background(), q)
	assert.Empty(t, got)
	assert.Equal(t, 1, reader.PartitionCalls())

	// 空标记已写入 (防穿透)
	raw, found, err := store.Get(context.Background(), DataKey(q, todayUTC()))
	require.NoError(t, err)
	require.True(t, found)
	entry, err := DecodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, entry.State)

	// TTL 内的第二次查询不访问数据仓库
	got = engine.GetRank(context.Background(), q)
	assert.Empty(t, got)
	assert.Equal(t, 1, reader.PartitionCalls())
}

func TestEngine_WaitingReturnsEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}

	raw, err := EncodeEntry(Entry{State: StateWaiting})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), DataKey(q, today), raw, time.Minute))

	// 等待状态视为 miss 但不触发重建
	got := engine.GetRank(context.Background(), q)
	assert.Empty(t, got)
	assert.Equal(t, 0, reader.PartitionCalls())
}

func TestEngine_ConcurrentMissSingleQuery(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{
		delay:      30 * time.Millisecond,
		rowsByDate: map[string][]model.MerchantRank{today: testRows(today)},
	}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}

	const n = 10
	results := make([][]model.MerchantRank, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = engine.GetRank(context.Background(), q)
		}(i)
	}
	wg.Wait()

	// N 个并发 miss 只触发一次数据仓库查询
	assert.Equal(t, 1, reader.PartitionCalls())

	// 抢到锁的拿到数据; 没抢到的等待重查后拿到数据或放弃返回空
	withData := 0
	for _, r := range results {
		switch len(r) {
		case 2:
			withData++
		case 0:
		default:
			t.Fatalf("unexpected result length %d", len(r))
		}
	}
	assert.GreaterOrEqual(t, withData, 1)
}

func TestEngine_LockLostThenCacheFilled(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}
	cacheKey := DataKey(q, today)

	// 模拟别的请求正持有重建锁
	locker := NewStoreMutex(store, testLogger())
	token, ok := locker.Acquire(context.Background(), LockKey(cacheKey), 10*time.Second)
	require.True(t, ok)
	defer locker.Release(context.Background(), LockKey(cacheKey), token)

	// 持锁方在等待窗口内写入缓存
	go func() {
		time.Sleep(20 * time.Millisecond)
		raw, _ := EncodeEntry(Entry{State: StateData, Records: testRows(today)})
		_ = store.Set(context.Background(), cacheKey, raw, time.Minute)
	}()

	got := engine.GetRank(context.Background(), q)
	assert.Len(t, got, 2)
	// 本请求自己没查数据仓库
	assert.Equal(t, 0, reader.PartitionCalls())
}

func TestEngine_LockLostAndStillEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}
	cacheKey := DataKey(q, today)

	locker := NewStoreMutex(store, testLogger())
	token, ok := locker.Acquire(context.Background(), LockKey(cacheKey), 10*time.Second)
	require.True(t, ok)
	defer locker.Release(context.Background(), LockKey(cacheKey), token)

	// 等待重查后缓存仍为空: 牺牲本次请求返回空，不重试
	got := engine.GetRank(context.Background(), q)
	assert.Empty(t, got)
	assert.Equal(t, 0, reader.PartitionCalls())
}

func TestEngine_StoreFailureFallsBackToDatabase(t *testing.T) {
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	cfg := testRankConfig()
	engine := NewEngine(failingStore{}, reader, NewStoreMutex(failingStore{}, testLogger()), cfg, testLogger())

	// 缓存存储不可用: 降级直查数据仓库，照常返回数据
	got := engine.GetRank(context.Background(), Query{CityID: "1001", Type: 1, Category: 2})
	assert.Len(t, got, 2)
	assert.Equal(t, 1, reader.PartitionCalls())
}

func TestEngine_CorruptEntryFallsBack(t *testing.T) {
	store, _ := setupTestStore(t)
	today := todayUTC()
	reader := &fakeReader{rowsByDate: map[string][]model.MerchantRank{today: testRows(today)}}
	engine := newTestEngine(t, store, reader)
	q := Query{CityID: "1001", Type: 1, Category: 2}

	require.NoError(t, store.Set(context.Background(), DataKey(q, today), "garbage", time.Minute))

	got := engine.GetRank(context.Background(), q)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, reader.PartitionCalls())
}

func TestEngine_DatabaseFailureReturnsEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	reader := &fakeReader{err: errors.New("db down")}
	engine := newTestEngine(t, store, reader)

	got := engine.GetRank(context.Background(), Query{CityID: "1001", Type: 1, Category: 2})
	assert.Empty(t, got)
}

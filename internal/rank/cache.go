// internal/rank/cache.go
// 排行榜缓存存储层 - Redis KV 封装与缓存值编码
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"merchantrank/internal/model"

	"github.com/redis/go-redis/v9"
)

// EntryState 缓存值状态
type EntryState string

const (
	// StateData 正常数据
	StateData EntryState = "data"
	// StateEmpty 空数据标记 (防穿透): 数据仓库确认无此分区数据
	StateEmpty EntryState = "empty"
	// StateWaiting 等待更新标记: 每日重置后等待数据仓库产出新数据
	StateWaiting EntryState = "waiting"
)

// Entry 一个缓存 key 下的值。
// key 不存在是第四种隐含状态 (从未计算过或已过期)。
type Entry struct {
	State   EntryState           `json:"state"`
	Records []model.MerchantRank `json:"records,omitempty"`
}

// EncodeEntry 序列化缓存值
func EncodeEntry(e Entry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal cache entry: %w", err)
	}
	return string(data), nil
}

// DecodeEntry 反序列化缓存值
func DecodeEntry(raw string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	switch e.State {
	case StateData, StateEmpty, StateWaiting:
		return e, nil
	default:
		return Entry{}, fmt.Errorf("unknown cache entry state: %q", e.State)
	}
}

// Store 缓存存储客户端。
// 所有写操作都以单 key 为粒度，不需要跨 key 事务。
type Store interface {
	// Get 读取 key，第二个返回值表示 key 是否存在
	Get(ctx context.Context, key string) (string, bool, error)

	// Set 写入 key 并设置 TTL
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX key 不存在时才写入 (分布式锁的获取原语)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareDelete 值匹配时删除 key，返回是否删除 (分布式锁的释放原语)
	CompareDelete(ctx context.Context, key, value string) (bool, error)

	// Delete 删除 key
	Delete(ctx context.Context, keys ...string) error

	// KeysWithPrefix 枚举指定前缀下的所有 key
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// compareDeleteScript 只删除仍持有预期值的 key，避免误删他人重新获取的锁
var compareDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore 基于 Redis 的缓存存储
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore 创建 Redis 缓存存储
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get 读取 key
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GET %s: %w", key, err)
	}
	return val, true, nil
}

// Set 写入 key 并设置 TTL
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("SET %s: %w", key, err)
	}
	return nil
}

// SetNX key 不存在时才写入
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("SETNX %s: %w", key, err)
	}
	return ok, nil
}

// CompareDelete 值匹配时删除 key
func (s *RedisStore) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareDeleteScript.Run(ctx, s.rdb, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("compare-delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete 删除 key
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("DEL: %w", err)
	}
	return nil
}

// KeysWithPrefix 使用 SCAN 枚举前缀下的所有 key
func (s *RedisStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("SCAN %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

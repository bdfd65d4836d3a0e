// internal/rank/keys.go
// 缓存 key 派生
package rank

import (
	"fmt"
	"time"

	"merchantrank/internal/model"
)

const (
	// CachePrefix 排行榜数据 key 前缀
	CachePrefix = "rank:"
	// LockPrefix 分布式锁 key 前缀
	LockPrefix = "lock:rank:"
	// ResetMarkerPrefix 每日重置标记 key 前缀
	ResetMarkerPrefix = "rank:reset:"

	// DateLayout 榜单日期格式
	DateLayout = "2006-01-02"
)

// Query 排行榜查询条件。三个字段均必填，日期隐含为查询当天。
type Query struct {
	CityID   string
	Type     int
	Category int
}

// Valid 校验查询条件是否完整。零值字段视为缺失。
func (q Query) Valid() bool {
	return q.CityID != "" && q.Type != 0 && q.Category != 0
}

func (q Query) String() string {
	return fmt.Sprintf("%s:%d:%d", q.CityID, q.Type, q.Category)
}

// RecordPartition 一条记录所属的分区 (城市:类型:品类)
func RecordPartition(r model.MerchantRank) string {
	return fmt.Sprintf("%s:%d:%d", r.CityID, r.Type, r.Category)
}

// DataKey 分区数据的缓存 key: rank:<cityId>:<type>:<category>:<date>
func DataKey(q Query, date string) string {
	return CachePrefix + q.String() + ":" + date
}

// DataKeyForPartition 由分组 key 和日期拼出缓存 key
func DataKeyForPartition(partition, date string) string {
	return CachePrefix + partition + ":" + date
}

// LockKey 读路径重建锁 key: lock:rank:<dataKey>
func LockKey(dataKey string) string {
	return LockPrefix + dataKey
}

// UpdateLockKey 轮询刷新写锁 key: lock:rank:update:<dataKey>
func UpdateLockKey(dataKey string) string {
	return LockPrefix + "update:" + dataKey
}

// ResetMarkerKey 每日重置标记 key: rank:reset:<date>
func ResetMarkerKey(date string) string {
	return ResetMarkerPrefix + date
}

// FormatDate 按榜单日期格式输出
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

package model

// ============================================================================
// Merchant Rank - 商户排行榜快照
// ============================================================================

// 榜单周期类型
const (
	RankCycleDaily   = 1 // 日榜
	RankCycleWeekly  = 2 // 周榜
	RankCycleMonthly = 3 // 月榜
)

// MerchantRank 商户排行榜快照。
// 由上游离线任务按天批量写入，本服务只读，不修改单条记录。
type MerchantRank struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CityID         string `gorm:"column:city_id;type:varchar(32);not null;index:idx_partition,priority:2" json:"city_id"`
	Type           int    `gorm:"not null;index:idx_partition,priority:3" json:"type"`
	Category       int    `gorm:"not null;index:idx_partition,priority:4" json:"category"`
	MerchantID     uint64 `gorm:"column:merchant_id;not null" json:"merchant_id"`
	SortOrder      int    `gorm:"column:sort_order;not null" json:"sort_order"`
	SaleCountMonth int    `gorm:"column:sale_count_month;not null;default:0" json:"sale_count_month"`
	SaleCountDay   int    `gorm:"column:sale_count_day;not null;default:0" json:"sale_count_day"`
	Date           string `gorm:"type:varchar(10);not null;index:idx_partition,priority:1" json:"date"`
	IsDeleted      int64  `gorm:"column:is_deleted;not null;default:0" json:"is_deleted"`
	CreatedAt      int64  `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt      int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
	RankCycle      int    `gorm:"not null;default:1" json:"rank_cycle"`
	OrderCount     int    `gorm:"column:order_count;not null;default:0" json:"order_count"`
	Operator       string `gorm:"type:varchar(64);default:''" json:"operator"`
}

// TableName 指定表名
func (MerchantRank) TableName() string {
	return "merchant_rank_info"
}

// internal/rank/reader.go
// 数据仓库读取层 - merchant_rank_info 的两条只读查询
package rank

import (
	"context"
	"fmt"

	"merchantrank/internal/model"

	"gorm.io/gorm"
)

// Reader 数据仓库只读接口
type Reader interface {
	// SelectByDate 查询某天的全部榜单记录，按 sort_order 升序
	SelectByDate(ctx context.Context, date string) ([]model.MerchantRank, error)

	// SelectByPartition 查询某天某分区的榜单记录，按 sort_order 升序
	SelectByPartition(ctx context.Context, date string, q Query) ([]model.MerchantRank, error)
}

// GormReader 基于 GORM 的数据仓库读取实现
type GormReader struct {
	db *gorm.DB
}

// NewGormReader 创建数据仓库读取器
func NewGormReader(db *gorm.DB) *GormReader {
	return &GormReader{db: db}
}

// SelectByDate 查询某天的全部榜单记录
func (r *GormReader) SelectByDate(ctx context.Context, date string) ([]model.MerchantRank, error) {
	var rows []model.MerchantRank
	err := r.db.WithContext(ctx).
		Where("date = ? AND is_deleted = 0", date).
		Order("sort_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select ranks by date %s: %w", date, err)
	}
	return rows, nil
}

// SelectByPartition 查询某天某分区的榜单记录
func (r *GormReader) SelectByPartition(ctx context.Context, date string, q Query) ([]model.MerchantRank, error) {
	var rows []model.MerchantRank
	err := r.db.WithContext(ctx).
		Where("date = ? AND city_id = ? AND type = ? AND category = ? AND is_deleted = 0",
			date, q.CityID, q.Type, q.Category).
		Order("sort_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select ranks by partition %s/%s: %w", date, q, err)
	}
	return rows, nil
}

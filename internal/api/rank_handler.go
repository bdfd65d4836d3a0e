// internal/api/rank_handler.go
// 排行榜查询 API
package api

import (
	"log/slog"

	"merchantrank/internal/model"
	"merchantrank/internal/rank"

	"github.com/gin-gonic/gin"
)

// rankQuery 查询参数。指针类型区分 "缺失" 和 "零值"。
type rankQuery struct {
	CityID   *string `form:"cityId"`
	Type     *int    `form:"type"`
	Category *int    `form:"category"`
}

// getRank 获取排行榜
// GET /rank?cityId=1001&type=1&category=2
// 参数缺失或内部故障一律返回空列表，不向调用方暴露错误。
func (s *Server) getRank(c *gin.Context) {
	var req rankQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		s.logger.Warn("malformed rank query",
			slog.String("raw_query", c.Request.URL.RawQuery),
			slog.String("error", err.Error()))
		success(c, []model.MerchantRank{})
		return
	}

	if req.CityID == nil || *req.CityID == "" || req.Type == nil || req.Category == nil {
		s.logger.Warn("incomplete rank query",
			slog.String("raw_query", c.Request.URL.RawQuery))
		success(c, []model.MerchantRank{})
		return
	}

	records := s.engine.GetRank(c.Request.Context(), rank.Query{
		CityID:   *req.CityID,
		Type:     *req.Type,
		Category: *req.Category,
	})
	if records == nil {
		records = []model.MerchantRank{}
	}

	success(c, records)
}

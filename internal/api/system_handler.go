// internal/api/system_handler.go
// 系统状态 API
package api

import (
	"github.com/gin-gonic/gin"
)

// SystemStatusResponse 系统状态响应
type SystemStatusResponse struct {
	Database      string `json:"database"`
	Redis         string `json:"redis"`
	ResetRunning  bool   `json:"reset_scheduler_running"`
	PollerRunning bool   `json:"refresh_poller_running"`
}

// getSystemStatus 系统状态
// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp := SystemStatusResponse{
		Database: "ok",
		Redis:    "ok",
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			resp.Database = "down"
		}
	} else {
		resp.Database = "not_configured"
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			resp.Redis = "down"
		}
	} else {
		resp.Redis = "not_configured"
	}

	if s.reset != nil {
		resp.ResetRunning = s.reset.IsRunning()
	}
	if s.poller != nil {
		resp.PollerRunning = s.poller.IsRunning()
	}

	success(c, resp)
}

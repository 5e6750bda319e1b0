package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatsync/internal/infrastructure/monitoring"
)

// DebugHandler 调试 API 处理器
type DebugHandler struct {
	monitor *monitoring.Monitor
	watch   WatchStats
	logger  *zap.Logger
}

// WatchStats 推送连接统计
type WatchStats interface {
	ClientCount() int
}

// NewDebugHandler 创建调试处理器; watch 可为 nil
func NewDebugHandler(monitor *monitoring.Monitor, watch WatchStats, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		monitor: monitor,
		watch:   watch,
		logger:  logger,
	}
}

// GetMetrics 获取性能指标
// GET /api/v1/debug/metrics
func (h *DebugHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetStats())
}

// GetDashboard 获取仪表盘数据
// GET /api/v1/debug/dashboard
func (h *DebugHandler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetDashboardData())
}

// GetWatchers 获取推送连接数
// GET /api/v1/debug/watchers
func (h *DebugHandler) GetWatchers(c *gin.Context) {
	if h.watch == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "count": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "count": h.watch.ClientCount()})
}

// GetRuntime 获取运行时信息
// GET /api/v1/debug/runtime
func (h *DebugHandler) GetRuntime(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, gin.H{
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"num_cpu":     runtime.NumCPU(),
		"alloc_mb":    float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":      float64(memStats.Sys) / 1024 / 1024,
		"num_gc":      memStats.NumGC,
		"server_time": time.Now().Format(time.RFC3339),
	})
}

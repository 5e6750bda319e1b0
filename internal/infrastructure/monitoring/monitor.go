package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Op 文档服务操作类别
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpDelete
	OpQuery
	OpBatch
	OpBlob
	opCount
)

var opNames = [opCount]string{"read", "write", "delete", "query", "batch", "blob"}

func (o Op) String() string {
	if o < 0 || o >= opCount {
		return "other"
	}
	return opNames[o]
}

// Metrics 指标收集器
type Metrics struct {
	// 请求计数
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	// 按操作计数
	Ops [opCount]uint64

	// 推送连接
	WatchClients int64
	ChangesSent  uint64

	// 延迟 (纳秒)
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 错误 (5xx)
	ErrorsTotal uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	// 历史数据 (用于图表)
	history      []MetricsSnapshot
	historyLimit int
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	WatchClients      int64     `json:"watch_clients"`
	MemoryMB          float64   `json:"memory_mb"`
	Goroutines        int       `json:"goroutines"`
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger:       logger,
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

// 计数方法
func (m *Monitor) IncRequestTotal()   { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess() { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()  { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncError()          { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }
func (m *Monitor) IncChangeSent()     { atomic.AddUint64(&m.metrics.ChangesSent, 1) }

func (m *Monitor) IncOp(op Op) {
	if op >= 0 && op < opCount {
		atomic.AddUint64(&m.metrics.Ops[op], 1)
	}
}

func (m *Monitor) SetWatchClients(n int) {
	atomic.StoreInt64(&m.metrics.WatchClients, int64(n))
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// RecordRequest 记录一次完成的 HTTP 请求
func (m *Monitor) RecordRequest(status int, d time.Duration) {
	m.IncRequestTotal()
	switch {
	case status >= 500:
		m.IncRequestFailed()
		m.IncError()
	case status >= 400:
		m.IncRequestFailed()
	default:
		m.IncRequestSuccess()
	}
	m.RecordRequestLatency(d)
}

func (m *Monitor) avgLatencyMs() float64 {
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		return float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}
	return 0
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	ops := make(map[string]uint64, opCount)
	for i := Op(0); i < opCount; i++ {
		ops[i.String()] = atomic.LoadUint64(&m.metrics.Ops[i])
	}

	return map[string]interface{}{
		"uptime_seconds":   uptime.Seconds(),
		"requests_total":   reqTotal,
		"requests_success": atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":  atomic.LoadUint64(&m.metrics.RequestsFailed),
		"ops":              ops,
		"watch_clients":    atomic.LoadInt64(&m.metrics.WatchClients),
		"changes_sent":     atomic.LoadUint64(&m.metrics.ChangesSent),
		"errors_total":     atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":   m.avgLatencyMs(),
		"memory_mb":        float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":       runtime.NumGoroutine(),
		"rps":              float64(reqTotal) / uptime.Seconds(),
	}
}

// Snapshot 创建快照并保存
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	snapshot := MetricsSnapshot{
		Timestamp:         time.Now(),
		RequestsPerSecond: float64(reqTotal) / uptime,
		AvgLatencyMs:      m.avgLatencyMs(),
		WatchClients:      atomic.LoadInt64(&m.metrics.WatchClients),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory 获取历史快照
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector 启动定期收集, sample 在每次快照前调用 (可为 nil)
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration, sample func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sample != nil {
				sample()
			}
			s := m.Snapshot()
			m.logger.Debug("Metrics snapshot",
				zap.Float64("rps", s.RequestsPerSecond),
				zap.Int64("watch_clients", s.WatchClients),
			)
		}
	}
}

// DashboardData 仪表盘数据
type DashboardData struct {
	Stats   map[string]interface{} `json:"stats"`
	History []MetricsSnapshot      `json:"history"`
}

// GetDashboardData 获取仪表盘数据
func (m *Monitor) GetDashboardData() *DashboardData {
	return &DashboardData{
		Stats:   m.GetStats(),
		History: m.GetHistory(),
	}
}

package monitoring

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// Mount it at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.WritePrometheus(w)
	})
}

type promLine struct {
	name string
	help string
	typ  string
	val  interface{}
}

// WritePrometheus writes every metric in exposition format.
func (m *Monitor) WritePrometheus(w io.Writer) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()

	lines := []promLine{
		{"chatsync_uptime_seconds", "Seconds since the server started", "gauge", uptime},

		// Request counters
		{"chatsync_requests_total", "Total number of requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
		{"chatsync_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
		{"chatsync_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

		// Watch feed
		{"chatsync_watch_clients", "Connected watch clients", "gauge", atomic.LoadInt64(&m.metrics.WatchClients)},
		{"chatsync_changes_sent_total", "Changes published to the watch feed", "counter", atomic.LoadUint64(&m.metrics.ChangesSent)},

		// Errors
		{"chatsync_errors_total", "Total server errors", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

		// Runtime metrics
		{"chatsync_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
		{"chatsync_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
		{"chatsync_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
	}

	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
		writeValue(w, l.name, "", l.val)
		fmt.Fprintln(w)
	}

	// 按操作计数
	fmt.Fprintf(w, "# HELP chatsync_document_ops_total Document operations by kind\n")
	fmt.Fprintf(w, "# TYPE chatsync_document_ops_total counter\n")
	for i := Op(0); i < opCount; i++ {
		writeValue(w, "chatsync_document_ops_total", fmt.Sprintf(`{op=%q}`, i.String()), atomic.LoadUint64(&m.metrics.Ops[i]))
	}
	fmt.Fprintln(w)

	if atomic.LoadUint64(&m.metrics.RequestLatencyCount) > 0 {
		fmt.Fprintf(w, "# HELP chatsync_request_latency_avg_ms Average request latency in milliseconds\n")
		fmt.Fprintf(w, "# TYPE chatsync_request_latency_avg_ms gauge\n")
		fmt.Fprintf(w, "chatsync_request_latency_avg_ms %f\n\n", m.avgLatencyMs())
	}
}

func writeValue(w io.Writer, name, labels string, val interface{}) {
	switch v := val.(type) {
	case uint64:
		fmt.Fprintf(w, "%s%s %d\n", name, labels, v)
	case int64:
		fmt.Fprintf(w, "%s%s %d\n", name, labels, v)
	case int:
		fmt.Fprintf(w, "%s%s %d\n", name, labels, v)
	case uint32:
		fmt.Fprintf(w, "%s%s %d\n", name, labels, v)
	case float64:
		fmt.Fprintf(w, "%s%s %f\n", name, labels, v)
	}
}

package server

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"examseal/core/ledger"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examseal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern and status class.",
	}, []string{"route", "class"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "examseal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "examseal",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests refused by the per-address rate limiter.",
	})
)

// NodeMetrics holds host and dependency metrics for the node.
type NodeMetrics struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	HostMemoryUsed float64 `json:"host_memory_used_percent"`
	DiskFreeMB     float64 `json:"disk_free_mb"`
	Goroutines     int     `json:"goroutines"`
	StoreOK        bool    `json:"store_ok"`
	LedgerOK       bool    `json:"ledger_ok"`
	LedgerHeight   uint64  `json:"ledger_height"`
	LastAnchorTime string  `json:"last_anchor_time,omitempty"`
}

// ledgerHead is implemented by ledgers with a readable chain head.
type ledgerHead interface {
	Head() (ledger.Entry, bool, error)
}

// GetNodeMetrics returns current health metrics for the node.
func (s *Server) GetNodeMetrics(ctx context.Context) NodeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics := NodeMetrics{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		MemoryMB:      float64(m.Alloc) / (1024 * 1024),
		Goroutines:    runtime.NumGoroutine(),
		StoreOK:       s.storeOK(),
		LedgerOK:      s.ledgerOK(ctx),
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		metrics.CPULoadPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.HostMemoryUsed = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		metrics.DiskFreeMB = float64(usage.Free) / (1024 * 1024)
	}
	if h, ok := s.ledger.(ledgerHead); ok {
		if head, found, err := h.Head(); err == nil && found {
			metrics.LedgerHeight = head.Seq
			metrics.LastAnchorTime = head.Timestamp.UTC().Format(time.RFC3339)
		}
	}
	return metrics
}

func (s *Server) storeOK() bool {
	return s.store == nil || s.store.Ping() == nil
}

func (s *Server) ledgerOK(ctx context.Context) bool {
	h, ok := s.ledger.(LedgerHealth)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.Health(ctx) == nil
}

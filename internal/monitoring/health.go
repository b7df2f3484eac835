package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// HealthStatus is the payload of the /status endpoint.
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Cache       CacheInfo       `json:"cache"`
	Performance PerformanceInfo `json:"performance"`
}

// SystemInfo contains process-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// CacheInfo describes the page pool backing the kv cache.
type CacheInfo struct {
	NumPages      int   `json:"num_pages"`
	PageSize      int   `json:"page_size"`
	CapacityBytes int64 `json:"capacity_bytes"`
	UsedBytes     int64 `json:"used_bytes"`
}

// PerformanceInfo summarizes recent attention steps.
type PerformanceInfo struct {
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgStepMs       float64   `json:"avg_step_ms"`
	P95StepMs       float64   `json:"p95_step_ms"`
	LastStep        time.Time `json:"last_step"`
	StepCount       int64     `json:"step_count"`
}

// stepPoint is one completed attention step in the rolling history.
type stepPoint struct {
	tokens   int
	duration time.Duration
}

// HealthMonitor serves liveness, Prometheus metrics, and a detailed status
// endpoint for the attention service.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server

	mu        sync.RWMutex
	cache     CacheInfo
	lastStep  time.Time
	stepCount int64
	history   []stepPoint
}

// NewHealthMonitor creates a health monitor with an empty step history.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
	}
}

// Start serves the monitoring endpoints until the listener fails or Stop is
// called. It blocks, so callers usually run it in a goroutine.
func (hm *HealthMonitor) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth) // Kubernetes compatibility
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleStatus)

	hm.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("health monitor starting", "addr", addr)
	return hm.server.ListenAndServe()
}

// Stop shuts the monitoring server down gracefully.
func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// SetCacheInfo publishes the current page pool geometry and occupancy.
func (hm *HealthMonitor) SetCacheInfo(info CacheInfo) {
	hm.mu.Lock()
	hm.cache = info
	hm.mu.Unlock()
}

// RecordStep records one completed attention step.
func (hm *HealthMonitor) RecordStep(tokens int, duration time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.lastStep = time.Now()
	hm.stepCount++
	hm.history = append(hm.history, stepPoint{tokens: tokens, duration: duration})

	// Keep only the last 1000 steps.
	if len(hm.history) > 1000 {
		hm.history = hm.history[1:]
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.getHealthStatus())
}

func (hm *HealthMonitor) getHealthStatus() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			MemoryMB:     int(m.Sys / 1024 / 1024),
			MemoryUsedMB: int(m.Alloc / 1024 / 1024),
		},
		Cache:       hm.cache,
		Performance: hm.performanceInfo(),
	}
}

// performanceInfo is called with hm.mu held.
func (hm *HealthMonitor) performanceInfo() PerformanceInfo {
	info := PerformanceInfo{
		LastStep:  hm.lastStep,
		StepCount: hm.stepCount,
	}
	if len(hm.history) == 0 {
		return info
	}

	var totalTokens int
	var totalDuration time.Duration
	latencies := make([]float64, 0, len(hm.history))
	for _, p := range hm.history {
		totalTokens += p.tokens
		totalDuration += p.duration
		latencies = append(latencies, float64(p.duration.Nanoseconds())/1e6)
	}

	for i := range latencies {
		for j := i + 1; j < len(latencies); j++ {
			if latencies[i] > latencies[j] {
				latencies[i], latencies[j] = latencies[j], latencies[i]
			}
		}
	}
	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	info.AvgStepMs = float64(totalDuration.Nanoseconds()) / float64(len(hm.history)) / 1e6
	info.P95StepMs = latencies[p95]
	if totalDuration > 0 {
		info.TokensPerSecond = float64(totalTokens) / totalDuration.Seconds()
	}
	return info
}

package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-eagle/internal/engine"
	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/speculative"
)

const (
	maxPerfHistory = 1000
	maxAlerts      = 100
	// requests drafting fewer tokens than this are too short to judge
	minDraftedForAlert = 16
)

// HealthStatus represents the health status of the system
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     string          `json:"version"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Engine      EngineInfo      `json:"engine"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

type SystemInfo struct {
	GoVersion      string  `json:"go_version"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	NumCPU         int     `json:"num_cpu"`
	NumGoroutine   int     `json:"num_goroutine"`
	MemoryMB       int     `json:"memory_mb"`
	MemoryUsedMB   int     `json:"memory_used_mb"`
	MemoryUsagePct float64 `json:"memory_usage_pct"`
}

// EngineInfo is filled from the attached engine, if any.
type EngineInfo struct {
	Attached        bool    `json:"attached"`
	Mode            string  `json:"mode,omitempty"`
	MaxDraftLen     int     `json:"max_draft_len"`
	InFlight        int64   `json:"in_flight"`
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	Cancelled       int64   `json:"cancelled"`
	KVCacheBlocks   int     `json:"kv_cache_blocks"`
	KVCacheFree     int     `json:"kv_cache_free"`
	KVCacheCached   int     `json:"kv_cache_cached"`
	KVCacheUsagePct float64 `json:"kv_cache_usage_pct"`
}

type PerformanceInfo struct {
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	ErrorRate       float64   `json:"error_rate"`
	Steps           int64     `json:"steps"`
	FallbackSteps   int64     `json:"fallback_steps"`
	Drafted         int64     `json:"drafted"`
	Accepted        int64     `json:"accepted"`
	AcceptanceRate  float64   `json:"acceptance_rate"`
	LastInference   time.Time `json:"last_inference"`
}

type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // engine, speculative, kvcache, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// StatsSource is implemented by *engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// HealthMonitor serves health, status and metrics endpoints and raises
// alerts from the request stream. It implements engine.Observer.
type HealthMonitor struct {
	startTime time.Time
	threshold float64
	version   string
	source    StatsSource

	server *http.Server

	mu            sync.RWMutex
	alerts        []Alert
	lastInference time.Time
	perfHistory   []PerfPoint
	steps         int64
	fallbacks     int64
	drafted       int64
	accepted      int64
}

type PerfPoint struct {
	Timestamp time.Time
	Tokens    int
	Duration  time.Duration
	Failed    bool
}

type Option func(*HealthMonitor)

// WithEngine attaches the engine whose stats /status reports.
func WithEngine(src StatsSource) Option {
	return func(hm *HealthMonitor) { hm.source = src }
}

func WithVersion(v string) Option {
	return func(hm *HealthMonitor) { hm.version = v }
}

// NewHealthMonitor creates a monitor that warns when a request's acceptance
// rate falls below threshold.
func NewHealthMonitor(threshold float64, opts ...Option) *HealthMonitor {
	hm := &HealthMonitor{
		startTime:   time.Now(),
		threshold:   threshold,
		version:     "dev",
		alerts:      make([]Alert, 0),
		perfHistory: make([]PerfPoint, 0),
	}
	for _, opt := range opts {
		opt(hm)
	}
	return hm
}

// Handler returns the monitor's routes.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth) // Kubernetes compatibility
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)
	return mux
}

// Start serves until Stop is called.
func (hm *HealthMonitor) Start(addr string) error {
	hm.mu.Lock()
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := hm.server
	hm.mu.Unlock()

	logger.Log.Info("Health monitor starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.RLock()
	srv := hm.server
	hm.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (hm *HealthMonitor) ObserveStep(ev speculative.StepEvent) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.steps++
	hm.drafted += int64(ev.Drafted)
	hm.accepted += int64(ev.Accepted)
	if ev.Fallback {
		hm.fallbacks++
	}
}

func (hm *HealthMonitor) ObserveFinish(out engine.Output) {
	failed := out.Reason == speculative.StopError
	hm.RecordInference(len(out.TokenIDs), out.Duration, failed)

	if failed {
		hm.AddAlert("error", "engine", fmt.Sprintf("Request %s failed: %v", out.RequestID, out.Err))
		return
	}
	if out.Drafted >= minDraftedForAlert && out.AcceptanceRate() < hm.threshold {
		hm.AddAlert("warning", "speculative",
			fmt.Sprintf("Low acceptance rate for request %s: %.3f (%d/%d drafted tokens accepted, threshold %.2f)",
				out.RequestID, out.AcceptanceRate(), out.Accepted, out.Drafted, hm.threshold))
	}
	if out.Steps > 0 && out.Fallbacks*2 > out.Steps {
		hm.AddAlert("warning", "speculative",
			fmt.Sprintf("Request %s decoded %d of %d steps without a draft", out.RequestID, out.Fallbacks, out.Steps))
	}
}

// RecordInference records a finished request for performance monitoring
func (hm *HealthMonitor) RecordInference(tokens int, duration time.Duration, failed bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	now := time.Now()
	hm.lastInference = now

	point := PerfPoint{
		Timestamp: now,
		Tokens:    tokens,
		Duration:  duration,
		Failed:    failed,
	}
	hm.perfHistory = append(hm.perfHistory, point)
	if len(hm.perfHistory) > maxPerfHistory {
		hm.perfHistory = hm.perfHistory[1:]
	}

	hm.checkPerformanceAlerts(point)
}

// AddAlert adds a new alert
func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.addAlertLocked(level, component, message)
}

func (hm *HealthMonitor) addAlertLocked(level, component, message string) {
	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}

	logger.Log.Warn("ALERT", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) ResolveAlert(index int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if index >= 0 && index < len(hm.alerts) {
		now := time.Now()
		hm.alerts[index].Resolved = true
		hm.alerts[index].ResolvedAt = &now
	}
}

func (hm *HealthMonitor) Alerts() []Alert {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	return alerts
}

// HTTP Handlers

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("Failed to encode response", "error", err)
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hm.Status())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hm.Alerts())
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "alerts cleared"})
}

// Status computes the current health status.
func (hm *HealthMonitor) Status() HealthStatus {
	engineInfo := hm.engineInfo()

	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Resolved {
			continue
		}
		if alert.Level == "critical" {
			status = "critical"
			break
		}
		if alert.Level == "error" {
			status = "degraded"
		}
	}

	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Version:     hm.version,
		Uptime:      time.Since(hm.startTime),
		System:      systemInfo(),
		Engine:      engineInfo,
		Performance: hm.performanceInfo(),
		Alerts:      alerts,
	}
}

func (hm *HealthMonitor) engineInfo() EngineInfo {
	if hm.source == nil {
		return EngineInfo{}
	}
	st := hm.source.Stats()
	info := EngineInfo{
		Attached:      true,
		Mode:          string(st.Mode),
		MaxDraftLen:   st.MaxDraftLen,
		InFlight:      st.InFlight,
		Completed:     st.Completed,
		Failed:        st.Failed,
		Cancelled:     st.Cancelled,
		KVCacheBlocks: st.KVCache.TotalBlocks,
		KVCacheFree:   st.KVCache.FreeBlocks,
		KVCacheCached: st.KVCache.CachedBlocks,
	}
	if st.KVCache.TotalBlocks > 0 {
		used := st.KVCache.TotalBlocks - st.KVCache.FreeBlocks - st.KVCache.CachedBlocks
		info.KVCacheUsagePct = float64(used) / float64(st.KVCache.TotalBlocks) * 100
	}
	return info
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		NumGoroutine:   runtime.NumGoroutine(),
		MemoryMB:       int(m.Sys / 1024 / 1024),
		MemoryUsedMB:   int(m.Alloc / 1024 / 1024),
		MemoryUsagePct: float64(m.Alloc) / float64(m.Sys) * 100,
	}
}

func (hm *HealthMonitor) performanceInfo() PerformanceInfo {
	info := PerformanceInfo{
		Steps:         hm.steps,
		FallbackSteps: hm.fallbacks,
		Drafted:       hm.drafted,
		Accepted:      hm.accepted,
		LastInference: hm.lastInference,
	}
	if hm.drafted > 0 {
		info.AcceptanceRate = float64(hm.accepted) / float64(hm.drafted)
	}
	if len(hm.perfHistory) == 0 {
		return info
	}

	var totalTokens, errorCount int
	var totalDuration time.Duration
	latencies := make([]float64, 0, len(hm.perfHistory))
	for _, point := range hm.perfHistory {
		totalTokens += point.Tokens
		totalDuration += point.Duration
		latencies = append(latencies, float64(point.Duration.Nanoseconds())/1e6)
		if point.Failed {
			errorCount++
		}
	}
	sort.Float64s(latencies)

	p95Index := int(float64(len(latencies)) * 0.95)
	if p95Index >= len(latencies) {
		p95Index = len(latencies) - 1
	}

	info.AvgLatencyMs = float64(totalDuration.Nanoseconds()) / float64(len(hm.perfHistory)) / 1e6
	info.P95LatencyMs = latencies[p95Index]
	info.ErrorRate = float64(errorCount) / float64(len(hm.perfHistory))
	if totalDuration > 0 {
		info.TokensPerSecond = float64(totalTokens) / totalDuration.Seconds()
	}
	return info
}

// Alert checking functions

func (hm *HealthMonitor) checkPerformanceAlerts(point PerfPoint) {
	latencyMs := float64(point.Duration.Nanoseconds()) / 1e6
	if latencyMs > 5000 { // 5 seconds
		hm.addAlertLocked("error", "performance",
			fmt.Sprintf("High latency: %.2f ms", latencyMs))
	}
}

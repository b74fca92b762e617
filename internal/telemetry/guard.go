package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig mirrors the teacher's static ResourceGuard configuration,
// renamed to the limits spec.md §5 actually names.
type GuardConfig struct {
	MaxSessions int

	MaxSetsPerSec       int // journal/broadcast write-behind throttle
	MaxSubscribesPerSec int

	CPURejectThreshold float64 // reject new sessions above this percent
	CPUPauseThreshold  float64 // pause journal write-behind above this percent
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxSessions:         100000,
		MaxSetsPerSec:       50000,
		MaxSubscribesPerSec: 5000,
		CPURejectThreshold:  90,
		CPUPauseThreshold:   80,
	}
}

// ResourceGuard enforces static resource limits, grounded directly on the
// teacher's internal/shared/limits/resource_guard.go: rate limiters for
// hot paths, a sampled CPU emergency brake, no auto-tuning.
type ResourceGuard struct {
	cfg    GuardConfig
	logger *zap.Logger

	setLimiter        *rate.Limiter
	subscribeLimiter  *rate.Limiter

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64

	sessionCount func() int64 // live session counter, e.g. session.Registry.Count
}

func NewResourceGuard(cfg GuardConfig, logger *zap.Logger, sessionCount func() int64) *ResourceGuard {
	rg := &ResourceGuard{
		cfg:              cfg,
		logger:           logger,
		setLimiter:       rate.NewLimiter(rate.Limit(cfg.MaxSetsPerSec), cfg.MaxSetsPerSec*2),
		subscribeLimiter: rate.NewLimiter(rate.Limit(cfg.MaxSubscribesPerSec), cfg.MaxSubscribesPerSec*2),
		sessionCount:     sessionCount,
	}
	rg.currentCPU.Store(0.0)
	rg.currentMemory.Store(int64(0))
	return rg
}

// ShouldAcceptSession applies the admission checks spec.md §5 describes:
// hard session cap, then CPU emergency brake.
func (rg *ResourceGuard) ShouldAcceptSession() (accept bool, reason string) {
	if rg.sessionCount != nil && rg.cfg.MaxSessions > 0 && rg.sessionCount() >= int64(rg.cfg.MaxSessions) {
		return false, "at max sessions"
	}
	if cpuPct := rg.currentCPU.Load().(float64); cpuPct > rg.cfg.CPURejectThreshold {
		return false, "CPU overload"
	}
	return true, ""
}

// AllowSet rate-limits SET application (non-blocking).
func (rg *ResourceGuard) AllowSet() bool { return rg.setLimiter.Allow() }

// AllowSubscribe rate-limits SUBSCRIBE processing (non-blocking).
func (rg *ResourceGuard) AllowSubscribe() bool { return rg.subscribeLimiter.Allow() }

// ShouldPauseJournal reports whether journal write-behind should pause
// under CPU pressure, mirroring the teacher's Kafka consumer pause brake.
func (rg *ResourceGuard) ShouldPauseJournal() bool {
	return rg.currentCPU.Load().(float64) > rg.cfg.CPUPauseThreshold
}

// StartSampling begins a periodic CPU/memory sample loop that feeds both
// the guard's admission checks and the given metrics gauges, stopping when
// stop is closed.
func (rg *ResourceGuard) StartSampling(interval time.Duration, m *Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rg.sample(m)
			case <-stop:
				return
			}
		}
	}()
}

func (rg *ResourceGuard) sample(m *Metrics) {
	percents, err := cpu.Percent(0, false)
	cpuPct := 0.0
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	rg.currentCPU.Store(cpuPct)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	rg.currentMemory.Store(int64(mem.Alloc))

	if m != nil {
		m.CPUPercent.Set(cpuPct)
		m.MemoryBytes.Set(float64(mem.Alloc))
		m.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	}

	if rg.logger != nil {
		rg.logger.Debug("resource sample", zap.Float64("cpu_percent", cpuPct), zap.Uint64("memory_bytes", mem.Alloc))
	}
}

package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
)

const (
	// Загрузка CPU или памяти в процентах, выше которой сервис unhealthy.
	DefaultResourceThreshold = 90.0
	defaultSampleInterval    = 10 * time.Second
	cpuSampleWindow          = time.Second
)

// Usage хранит последний замер загрузки в процентах.
type Usage struct {
	CPU    float64
	Memory float64
}

// Sampler возвращает текущую загрузку CPU и памяти.
type Sampler func(ctx context.Context) (Usage, error)

// SystemSampler снимает загрузку хоста через gopsutil.
func SystemSampler(ctx context.Context) (Usage, error) {
	percents, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return Usage{}, fmt.Errorf("cpu percent: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("virtual memory: %w", err)
	}
	usage := Usage{Memory: vm.UsedPercent}
	if len(percents) > 0 {
		usage.CPU = percents[0]
	}
	return usage, nil
}

// ResourceChecker периодически замеряет загрузку в фоне, а Check отдаёт последний замер.
// Замер CPU занимает секунду, поэтому в запросе /health он не выполняется.
type ResourceChecker struct {
	sample    Sampler
	threshold float64
	interval  time.Duration
	logger    *log.Entry

	mu      sync.RWMutex
	last    Usage
	lastErr error
	sampled bool
}

// NewResourceChecker создаёт проверку. При threshold<=0 порог 90%, при sample=nil используется SystemSampler.
func NewResourceChecker(sample Sampler, threshold float64, interval time.Duration) *ResourceChecker {
	if sample == nil {
		sample = SystemSampler
	}
	if threshold <= 0 {
		threshold = DefaultResourceThreshold
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &ResourceChecker{
		sample:    sample,
		threshold: threshold,
		interval:  interval,
		logger:    log.WithField("component", "resource-checker"),
	}
}

// Run замеряет загрузку каждые interval до отмены ctx.
func (c *ResourceChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh выполняет один замер.
func (c *ResourceChecker) Refresh(ctx context.Context) {
	usage, err := c.sample(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.logger.WithError(err).Warn("failed to sample system resources")
		return
	}
	c.last = usage
	c.sampled = true
	c.logger.WithFields(log.Fields{"cpu": usage.CPU, "memory": usage.Memory}).Debug("system resources sampled")
}

// Check выполняет проверку
func (c *ResourceChecker) Check(context.Context) Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	check := Check{Name: "resources", Status: StatusHealthy}
	if !c.sampled {
		check.Status = StatusDegraded
		check.Message = "resources not sampled yet"
		if c.lastErr != nil {
			check.Message = c.lastErr.Error()
		}
		return check
	}

	check.Values = map[string]float64{"cpu": c.last.CPU, "memory": c.last.Memory}
	switch {
	case c.last.CPU > c.threshold:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("cpu usage %.1f%% above %.0f%%", c.last.CPU, c.threshold)
	case c.last.Memory > c.threshold:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("memory usage %.1f%% above %.0f%%", c.last.Memory, c.threshold)
	}
	return check
}

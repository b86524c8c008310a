package base

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/metrics"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Health states reported per connector
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Connectors lists and builds adapters; satisfied by the registry.
type Connectors interface {
	ListActive() []*models.ConnectorDescriptor
	Acquire(ctx context.Context, id string) (core.ClientAdapter, func(), error)
}

// HealthStatus is the last probe result of one connector.
type HealthStatus struct {
	ConnectorID         string        `json:"connector_id"`
	Status              string        `json:"status"`
	CheckedAt           time.Time     `json:"checked_at"`
	Latency             time.Duration `json:"latency"`
	ConsecutiveFailures int           `json:"consecutive_failures,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// HealthChecker probes every active connector on an interval. A failing
// connector is degraded until its failures reach the configured threshold.
type HealthChecker struct {
	connectors Connectors
	cfg        config.HealthConfig
	logger     *zap.Logger

	statusMu sync.RWMutex
	statuses map[string]*HealthStatus

	checkCount   int64
	failureCount int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a checker; call Start to begin probing.
func NewHealthChecker(connectors Connectors, cfg config.HealthConfig) *HealthChecker {
	if cfg.UnhealthyAfter < 1 {
		cfg.UnhealthyAfter = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HealthChecker{
		connectors: connectors,
		cfg:        cfg,
		logger:     logger.Get().With(zap.String("component", "health_checker")),
		statuses:   make(map[string]*HealthStatus),
		stopCh:     make(chan struct{}),
	}
}

// Start probes once immediately and then on every interval until ctx is
// done or Stop is called.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.startOnce.Do(func() {
		hc.wg.Add(1)
		go func() {
			defer hc.wg.Done()
			ticker := time.NewTicker(hc.cfg.Interval)
			defer ticker.Stop()

			hc.CheckAll(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-hc.stopCh:
					return
				case <-ticker.C:
					hc.CheckAll(ctx)
				}
			}
		}()
	})
}

// Stop ends the probe loop and waits for it
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
	hc.wg.Wait()
}

// CheckAll probes every active connector once. Connectors that are no
// longer active are dropped from the report.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	active := hc.connectors.ListActive()
	seen := make(map[string]bool, len(active))
	for _, d := range active {
		seen[d.ID] = true
		hc.check(ctx, d.ID)
	}

	hc.statusMu.Lock()
	for id := range hc.statuses {
		if !seen[id] {
			delete(hc.statuses, id)
			metrics.ConnectorHealthy.DeleteLabelValues(id)
		}
	}
	hc.statusMu.Unlock()
}

func (hc *HealthChecker) check(ctx context.Context, id string) {
	atomic.AddInt64(&hc.checkCount, 1)

	checkCtx, cancel := context.WithTimeout(ctx, hc.cfg.Timeout)
	defer cancel()

	timer := metrics.NewTimer()
	var res core.ConnectionResult
	adapter, release, err := hc.connectors.Acquire(checkCtx, id)
	if err == nil {
		res, err = adapter.TestConnection(checkCtx)
		release()
	}
	latency := timer.Stop()
	metrics.ObserveCall(id, "test", latency, err)

	hc.statusMu.Lock()
	defer hc.statusMu.Unlock()

	status, ok := hc.statuses[id]
	if !ok {
		status = &HealthStatus{ConnectorID: id}
		hc.statuses[id] = status
	}
	status.CheckedAt = time.Now()
	status.Latency = latency

	if err != nil || !res.OK {
		atomic.AddInt64(&hc.failureCount, 1)
		status.ConsecutiveFailures++
		status.Status = StatusDegraded
		if status.ConsecutiveFailures >= hc.cfg.UnhealthyAfter {
			status.Status = StatusUnhealthy
		}
		status.LastError = res.Message
		if err != nil {
			status.LastError = err.Error()
		}
		metrics.ConnectorHealthy.WithLabelValues(id).Set(0)

		hc.logger.Warn("health check failed",
			zap.String("connector_id", id),
			zap.String("status", status.Status),
			zap.Int("consecutive_failures", status.ConsecutiveFailures),
			zap.String("error", status.LastError))
		return
	}

	status.ConsecutiveFailures = 0
	status.Status = StatusHealthy
	status.LastError = ""
	metrics.ConnectorHealthy.WithLabelValues(id).Set(1)
	hc.logger.Debug("health check passed", zap.String("connector_id", id))
}

// Statuses returns a copy of the last result of every probed connector,
// ordered by connector id.
func (hc *HealthChecker) Statuses() []HealthStatus {
	hc.statusMu.RLock()
	defer hc.statusMu.RUnlock()

	out := make([]HealthStatus, 0, len(hc.statuses))
	for _, s := range hc.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}

// IsHealthy reports whether no probed connector is unhealthy
func (hc *HealthChecker) IsHealthy() bool {
	hc.statusMu.RLock()
	defer hc.statusMu.RUnlock()
	for _, s := range hc.statuses {
		if s.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// CheckCount returns the total number of probes performed
func (hc *HealthChecker) CheckCount() int64 {
	return atomic.LoadInt64(&hc.checkCount)
}

// FailureCount returns the total number of failed probes
func (hc *HealthChecker) FailureCount() int64 {
	return atomic.LoadInt64(&hc.failureCount)
}

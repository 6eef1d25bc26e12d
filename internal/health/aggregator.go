// Package health probes every registered backend and keeps the latest snapshot.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/observability"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/pkg/models"
)

// DefaultProbeTimeout bounds a probe whose entry carries no timeout.
const DefaultProbeTimeout = 5 * time.Second

// Source lists the backends to probe.
type Source interface {
	Entries() []registry.Entry
}

// Aggregator fans health probes out to every backend concurrently.
type Aggregator struct {
	source  Source
	prober  backend.Prober
	metrics observability.Metrics
	logger  *logging.Logger
	latest  atomic.Pointer[models.HealthSnapshot]
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithMetrics updates the backend health gauge on every snapshot.
func WithMetrics(m observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the aggregator logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates a new Aggregator.
func NewAggregator(source Source, prober backend.Prober, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:  source,
		prober:  prober,
		metrics: observability.NoopMetrics{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot probes all backends at once and waits for every probe. Each probe
// is bounded by its own entry timeout, so the call takes at most as long as
// the slowest allowed probe. The result also becomes Latest().
func (a *Aggregator) Snapshot(ctx context.Context) models.HealthSnapshot {
	entries := a.source.Entries()
	results := make([]models.NamespaceHealth, len(entries))

	var g errgroup.Group
	for i, entry := range entries {
		g.Go(func() error {
			timeout := entry.Timeout
			if timeout <= 0 {
				timeout = DefaultProbeTimeout
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			h := a.prober.Probe(probeCtx, entry)
			if h.Status != models.HealthHealthy && probeCtx.Err() == context.DeadlineExceeded {
				h.Status = models.HealthUnreachable
				h.Error = "health probe timed out after " + timeout.String()
			}
			results[i] = h
			return nil
		})
	}
	_ = g.Wait()

	snap := models.HealthSnapshot{
		PerNamespace: make(map[string]models.NamespaceHealth, len(entries)),
		TakenAt:      time.Now().UTC(),
	}
	for i, entry := range entries {
		snap.PerNamespace[entry.Namespace] = results[i]
	}
	a.metrics.RecordBackendHealth(ctx, snap)

	a.latest.Store(&snap)
	a.logger.Debug("health snapshot taken",
		"backends", len(entries),
		"healthy", snap.Count(models.HealthHealthy),
		"unhealthy", snap.Count(models.HealthUnhealthy),
		"unreachable", snap.Count(models.HealthUnreachable))
	return snap
}

// Latest returns the most recent snapshot, or false before the first one.
func (a *Aggregator) Latest() (models.HealthSnapshot, bool) {
	snap := a.latest.Load()
	if snap == nil {
		return models.HealthSnapshot{}, false
	}
	return *snap, true
}

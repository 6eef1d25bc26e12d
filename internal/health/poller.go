package health

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/pkg/models"
)

// DefaultSchedule refreshes backend health every 30 seconds.
const DefaultSchedule = "@every 30s"

// Poller refreshes an Aggregator's snapshot on a cron schedule and logs
// status transitions.
type Poller struct {
	aggregator *Aggregator
	logger     *logging.Logger
	cron       *cron.Cron

	mu       sync.Mutex
	previous map[string]models.HealthStatus
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPoller validates schedule and prepares a poller. Start begins polling.
func NewPoller(aggregator *Aggregator, schedule string, logger *logging.Logger) (*Poller, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}

	p := &Poller{
		aggregator: aggregator,
		logger:     logger,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		previous:   map[string]models.HealthStatus{},
	}
	if _, err := p.cron.AddFunc(schedule, p.poll); err != nil {
		return nil, fmt.Errorf("invalid health poll schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start takes an initial snapshot and then polls in the background until
// Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.poll()
	p.cron.Start()
}

// Stop halts polling and waits for a running probe round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	<-p.cron.Stop().Done()
}

func (p *Poller) poll() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	snap := p.aggregator.Snapshot(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ns, h := range snap.PerNamespace {
		prev, seen := p.previous[ns]
		if seen && prev == h.Status {
			continue
		}
		if h.Status == models.HealthHealthy {
			p.logger.Info("backend health changed", "namespace", ns, "status", h.Status, "latency_ms", h.LatencyMs)
		} else {
			p.logger.Warn("backend health changed", "namespace", ns, "status", h.Status, "error", h.Error)
		}
		p.previous[ns] = h.Status
	}
	for ns := range p.previous {
		if _, ok := snap.PerNamespace[ns]; !ok {
			delete(p.previous, ns)
		}
	}
}

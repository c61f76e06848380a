package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netmon/internal/config"
	"netmon/internal/metrics"
	"netmon/internal/models"
)

const maintenanceInterval = time.Hour

// Maintainer runs periodic store housekeeping
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// ExportFunc regenerates the dashboard snapshot. It only reads the store.
type ExportFunc func(ctx context.Context) error

// Deps are the collaborators of a Monitor. Tester, Maintainer, Export and
// Metrics may be nil.
type Deps struct {
	Store      models.Store
	Prober     models.Prober
	Tester     models.ThroughputTester
	Maintainer Maintainer
	Export     ExportFunc
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// cycle is one periodic task. At most one run of a cycle is in flight.
type cycle struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
	inFlight atomic.Bool
}

// Monitor schedules the probe and throughput cycles and writes every result
// through to the store.
type Monitor struct {
	config    config.Config
	deps      Deps
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sessionID string
	now       func() time.Time

	probeCycle      *cycle
	throughputCycle *cycle

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Monitor
func New(cfg config.Config, deps Deps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sessionID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		config:    cfg,
		deps:      deps,
		logger:    logger.With("session", sessionID),
		metrics:   deps.Metrics,
		sessionID: sessionID,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.probeCycle = &cycle{name: "probe", interval: cfg.Interval(), run: m.probeTick}
	m.throughputCycle = &cycle{name: "throughput", interval: cfg.ThroughputInterval(), run: m.throughputTick}
	return m
}

// SessionID identifies this process run on every record it writes.
func (m *Monitor) SessionID() string {
	return m.sessionID
}

// Start begins the monitoring process
func (m *Monitor) Start() error {
	m.logger.Info("starting monitor",
		"targets", len(m.config.Targets),
		"interval", m.config.Interval(),
		"timeout", m.config.Timeout())

	m.wg.Add(1)
	go m.cycleWorker(m.probeCycle)

	if m.throughputEnabled() {
		m.wg.Add(1)
		go m.cycleWorker(m.throughputCycle)
		m.logger.Info("throughput tests enabled", "interval", m.config.ThroughputInterval())
	} else {
		m.logger.Info("throughput tests disabled")
		m.metrics.ThroughputSkipped("disabled")
	}

	if m.deps.Maintainer != nil {
		m.wg.Add(1)
		go m.maintenanceWorker()
	}
	if m.deps.Export != nil && m.config.ExportInterval.Duration() > 0 {
		m.wg.Add(1)
		go m.exportWorker()
	}

	return nil
}

// Stop signals every worker to finish. In-flight checks complete within
// their own timeout and are still recorded; no new tick starts.
func (m *Monitor) Stop() {
	m.logger.Info("stopping monitor")
	m.cancel()
}

// Wait blocks until all goroutines finish
func (m *Monitor) Wait() {
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

// RunOnce runs a single probe cycle, and a throughput cycle when enabled,
// synchronously.
func (m *Monitor) RunOnce(ctx context.Context) {
	m.probeTick(ctx)
	if m.throughputEnabled() {
		m.throughputTick(ctx)
	}
}

func (m *Monitor) throughputEnabled() bool {
	return m.config.ThroughputEnabled && m.deps.Tester != nil
}

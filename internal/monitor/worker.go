package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"netmon/internal/models"
	"netmon/internal/speedtest"
)

// cycleWorker fires c every interval, measured from the previous fire. A
// fire that is already late runs immediately; missed fires are not queued.
func (m *Monitor) cycleWorker(c *cycle) {
	defer m.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		fired := m.now()
		m.dispatch(c)

		wait := fired.Add(c.interval).Sub(m.now())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// dispatch starts a run of c unless the previous one is still in flight, in
// which case the tick is dropped.
func (m *Monitor) dispatch(c *cycle) {
	if !c.inFlight.CompareAndSwap(false, true) {
		m.metrics.TickSkipped(c.name)
		m.logger.Warn("previous run still in flight, skipping tick", "cycle", c.name)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer c.inFlight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				m.metrics.TickPanic(c.name)
				m.logger.Error("tick aborted", "cycle", c.name, "panic", r)
			}
		}()

		// Work started before Stop runs to completion so that every
		// started check is recorded; each call is bounded by its timeout.
		c.run(context.WithoutCancel(m.ctx))
	}()
}

// probeTick probes every target concurrently and then appends the results
// in configuration order.
func (m *Monitor) probeTick(ctx context.Context) {
	targets := m.config.Targets
	timeout := m.config.Timeout()
	results := make([]models.ProbeResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := m.now()
			defer func() {
				if r := recover(); r != nil {
					results[i] = models.NewProbeFailure(started, target, fmt.Sprintf("internal error: %v", r))
				}
			}()
			results[i] = m.deps.Prober.Probe(ctx, target, timeout)
		}()
	}
	wg.Wait()

	for _, result := range results {
		result.SessionID = m.sessionID
		m.recordProbe(ctx, result)
	}
}

func (m *Monitor) recordProbe(ctx context.Context, result models.ProbeResult) {
	if result.Success {
		m.logger.Debug("probe succeeded",
			"dataset", result.Dataset,
			"target", result.Target,
			"interface", result.Interface,
			"latency_ms", *result.LatencyMs)
	} else {
		m.logger.Warn("probe failed",
			"dataset", result.Dataset,
			"target", result.Target,
			"interface", result.Interface,
			"error", result.Error)
	}

	if err := m.deps.Store.AppendProbe(ctx, result); err != nil {
		m.logger.Error("failed to save probe result", "target", result.Target, "error", err)
		return
	}
	m.metrics.ObserveProbe(result)
}

// throughputTick runs one measurement. An unavailable tool skips the cycle
// without writing anything.
func (m *Monitor) throughputTick(ctx context.Context) {
	// The tester enforces its own timeout; this bounds a misbehaving one.
	ctx, cancel := context.WithTimeout(ctx, m.config.ThroughputTimeout()+time.Minute)
	defer cancel()

	result, err := m.deps.Tester.Run(ctx)
	if errors.Is(err, speedtest.ErrUnavailable) {
		m.logger.Info("throughput tool unavailable, skipping cycle", "error", err)
		m.metrics.ThroughputSkipped("unavailable")
		return
	}
	if err != nil {
		m.logger.Error("throughput test failed to run", "error", err)
		m.metrics.ThroughputSkipped("error")
		return
	}

	result.SessionID = m.sessionID
	if result.Success {
		m.logger.Info("throughput measured",
			"dataset", result.Dataset,
			"tool", result.Tool,
			"download_mbps", *result.DownloadMbps,
			"upload_mbps", *result.UploadMbps)
	} else {
		m.logger.Warn("throughput test failed", "dataset", result.Dataset, "tool", result.Tool, "error", result.Error)
	}

	if err := m.deps.Store.AppendThroughput(context.WithoutCancel(ctx), result); err != nil {
		m.logger.Error("failed to save throughput result", "error", err)
		return
	}
	m.metrics.ObserveThroughput(result)
}

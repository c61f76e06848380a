package monitor

import (
	"time"
)

// maintenanceWorker runs periodic maintenance tasks
func (m *Monitor) maintenanceWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.performMaintenance()
		}
	}
}

// performMaintenance runs maintenance tasks
func (m *Monitor) performMaintenance() {
	m.logger.Debug("running maintenance tasks")
	if err := m.deps.Maintainer.Maintain(m.ctx); err != nil {
		m.logger.Warn("maintenance failed", "error", err)
		return
	}
	m.logger.Debug("maintenance complete")
}

// exportWorker regenerates the dashboard snapshot periodically
func (m *Monitor) exportWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ExportInterval.Duration())
	defer ticker.Stop()

	// Run immediately on start
	m.performExport()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.performExport()
		}
	}
}

func (m *Monitor) performExport() {
	if err := m.deps.Export(m.ctx); err != nil {
		m.logger.Warn("snapshot export failed", "error", err)
		return
	}
	m.metrics.SnapshotWritten()
	m.logger.Debug("snapshot exported")
}

package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"netmon/internal/models"
)

// Generator creates static images and reports for ISP evidence
type Generator struct {
	reader models.Reader
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a new report generator
func NewGenerator(reader models.Reader, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{reader: reader, logger: logger, now: time.Now}
}

// reportData is the window every chart of one report is drawn from
type reportData struct {
	since      time.Time
	until      time.Time
	hours      int
	probes     []models.ProbeResult
	throughput []models.ThroughputResult
}

// GenerateReport creates a comprehensive report with charts and returns
// the directory it was written to. A chart that cannot be drawn is logged
// and skipped.
func (g *Generator) GenerateReport(ctx context.Context, outputDir string, hours int) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	now := g.now()
	data := reportData{since: now.Add(-time.Duration(hours) * time.Hour), until: now, hours: hours}
	filter := models.Filter{Since: data.since}
	var err error
	if data.probes, err = g.reader.QueryProbes(ctx, filter); err != nil {
		return "", fmt.Errorf("load probe results: %w", err)
	}
	if data.throughput, err = g.reader.QueryThroughput(ctx, filter); err != nil {
		return "", fmt.Errorf("load throughput results: %w", err)
	}

	timestamp := now.Format("2006-01-02_15-04-05")
	reportDir := filepath.Join(outputDir, fmt.Sprintf("network_report_%s", timestamp))
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	// Generate various charts
	if err := g.generateLatencyCharts(reportDir, data); err != nil {
		g.logger.Warn("failed to generate latency chart", "error", err)
	}

	if err := g.generateAvailabilityChart(reportDir, data); err != nil {
		g.logger.Warn("failed to generate availability chart", "error", err)
	}

	if err := g.generateThroughputChart(reportDir, data); err != nil {
		g.logger.Warn("failed to generate throughput chart", "error", err)
	}

	if err := g.generateOutageChart(reportDir, data); err != nil {
		g.logger.Warn("failed to generate outage chart", "error", err)
	}

	if err := g.generateTextReport(reportDir, data); err != nil {
		return reportDir, fmt.Errorf("text report: %w", err)
	}

	g.logger.Info("report generated", "dir", reportDir)
	return reportDir, nil
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"netmon/internal/models"
	"netmon/internal/outage"
	"netmon/internal/stats"
)

const reportTimeLayout = "2006-01-02 15:04:05"

func (g *Generator) generateTextReport(outputDir string, data reportData) error {
	filename := filepath.Join(outputDir, "summary.txt")
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintf(file, "Network Connectivity Report\n")
	fmt.Fprintf(file, "Generated: %s\n", data.until.Format(reportTimeLayout))
	fmt.Fprintf(file, "Period: Last %d hours\n\n", data.hours)
	fmt.Fprintln(file, strings.Repeat("=", 60))

	fmt.Fprintln(file, "\nOVERALL STATISTICS")

	window := stats.Window{Since: data.since, Until: data.until}
	for _, s := range stats.Summarize(data.probes, data.throughput, window, data.until) {
		writeSummary(file, s)
	}

	fmt.Fprintln(file, strings.Repeat("=", 60))

	fmt.Fprintln(file, "\nOUTAGE PERIODS")

	events := outage.Detect(data.probes)
	for i, o := range events {
		fmt.Fprintf(file, "Outage #%d\n", i+1)
		fmt.Fprintf(file, "  Dataset: %s\n", o.Dataset)
		fmt.Fprintf(file, "  Target: %s\n", o.Target)
		fmt.Fprintf(file, "  Start: %s\n", o.Start.Local().Format(reportTimeLayout))
		if o.Open() {
			fmt.Fprintf(file, "  End: ongoing\n")
		} else {
			fmt.Fprintf(file, "  End: %s\n", o.End.Local().Format(reportTimeLayout))
		}
		seconds := outage.Seconds(o, data.until)
		fmt.Fprintf(file, "  Duration: %s\n", time.Duration(seconds*float64(time.Second)).Round(time.Second))
		fmt.Fprintf(file, "  Failed Checks: %d\n", o.FailedChecks)
		fmt.Fprintln(file)
	}

	if len(events) == 0 {
		fmt.Fprintln(file, "No outages detected.")
	} else {
		fmt.Fprintf(file, "\nTotal Outages: %d\n", len(events))
	}

	fmt.Fprintln(file, strings.Repeat("=", 60))
	fmt.Fprintln(file, "\nThis report documents network connectivity issues.")
	fmt.Fprintln(file, "Charts and detailed data are available in the accompanying files.")

	return nil
}

func writeSummary(file *os.File, s models.SummaryStat) {
	if s.Target == "" {
		fmt.Fprintf(file, "Dataset: %s (throughput only)\n", s.Dataset)
	} else {
		fmt.Fprintf(file, "Dataset: %s  Target: %s\n", s.Dataset, s.Target)
		fmt.Fprintf(file, "  Total Checks: %d\n", s.TotalChecks)
		fmt.Fprintf(file, "  Failed: %d (%.2f%%)\n", s.FailedChecks, s.FailurePct)
		fmt.Fprintf(file, "  Outages: %d (%.1f min, %.2f%% of window)\n", s.OutageEvents, s.OutageMinutes, s.OutagePctEst)
		if s.LatencyMeanMs != nil {
			fmt.Fprintf(file, "  Average Latency: %s ms\n", meanWithError(s.LatencyMeanMs, s.LatencySemMs))
		}
	}
	if s.DownloadMeanMbps != nil {
		fmt.Fprintf(file, "  Download: %s Mbps (n=%d)\n", meanWithError(s.DownloadMeanMbps, s.DownloadSemMbps), s.DownloadN)
	}
	if s.UploadMeanMbps != nil {
		fmt.Fprintf(file, "  Upload: %s Mbps (n=%d)\n", meanWithError(s.UploadMeanMbps, s.UploadSemMbps), s.UploadN)
	}
	if s.SpeedPingMeanMs != nil {
		fmt.Fprintf(file, "  Speed Test Ping: %s ms\n", meanWithError(s.SpeedPingMeanMs, s.SpeedPingSemMs))
	}
	fmt.Fprintln(file)
}

func meanWithError(mean, sem *float64) string {
	if sem == nil {
		return fmt.Sprintf("%.2f", *mean)
	}
	return fmt.Sprintf("%.2f ± %.2f", *mean, *sem)
}

package models

import "time"

// SummaryStat holds the derived statistics for one (dataset, target) pair,
// joined with the throughput statistics of its dataset.
type SummaryStat struct {
	Dataset     string    `json:"dataset"`
	Target      string    `json:"target"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	LatencyN      int      `json:"latency_n"`
	LatencyMeanMs *float64 `json:"latency_mean_ms"`
	LatencyStdMs  *float64 `json:"latency_std_ms"`
	LatencySemMs  *float64 `json:"latency_sem_ms"`

	TotalChecks  int     `json:"total_checks"`
	FailedChecks int     `json:"failed_checks"`
	FailurePct   float64 `json:"failure_pct"`

	OutageEvents  int     `json:"outage_events"`
	OutageMinutes float64 `json:"outage_minutes"`
	OutagePctEst  float64 `json:"outage_pct_est"`

	DownloadN        int      `json:"download_n"`
	DownloadMeanMbps *float64 `json:"download_mean_mbps"`
	DownloadStdMbps  *float64 `json:"download_std_mbps"`
	DownloadSemMbps  *float64 `json:"download_sem_mbps"`
	UploadN          int      `json:"upload_n"`
	UploadMeanMbps   *float64 `json:"upload_mean_mbps"`
	UploadStdMbps    *float64 `json:"upload_std_mbps"`
	UploadSemMbps    *float64 `json:"upload_sem_mbps"`
	SpeedPingN       int      `json:"speed_ping_n"`
	SpeedPingMeanMs  *float64 `json:"speed_ping_mean_ms"`
	SpeedPingStdMs   *float64 `json:"speed_ping_std_ms"`
	SpeedPingSemMs   *float64 `json:"speed_ping_sem_ms"`
}

// OutageEvent is a contiguous run of failed probes for one (target, interface)
// pair. It is derived from the probe stream on every query and never stored.
type OutageEvent struct {
	Dataset         string     `json:"dataset"`
	Target          string     `json:"target"`
	Interface       string     `json:"interface,omitempty"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end"` // nil while the outage is open
	DurationSeconds *float64   `json:"duration_seconds"`
	FailedChecks    int        `json:"failed_checks"`
}

// Open reports whether the outage had not ended when the stream was read.
func (o OutageEvent) Open() bool {
	return o.End == nil
}

// HeatmapPoint represents a data point for the heatmap visualization
type HeatmapPoint struct {
	Hour          int     `json:"hour"`
	Dataset       string  `json:"dataset"`
	Target        string  `json:"target"`
	FailureRate   float64 `json:"failure_rate"`
	AvgLatency    float64 `json:"avg_latency"`
	MaxLatency    float64 `json:"max_latency"`
	TotalFailures int     `json:"total_failures"`
	TotalPings    int     `json:"total_pings"`
	DaysWithData  int     `json:"days_with_data"`
}

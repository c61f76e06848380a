package models

import "time"

// Target is one host probed over one interface. Targets come from configuration
// and are never modified by the engine.
type Target struct {
	Name      string `json:"name" yaml:"name"`
	Host      string `json:"host" yaml:"host"`
	Interface string `json:"interface,omitempty" yaml:"interface"`
	Dataset   string `json:"dataset" yaml:"dataset"`
}

// InterfaceLabel returns the interface name, or "default route" when unbound.
func (t Target) InterfaceLabel() string {
	if t.Interface == "" {
		return "default route"
	}
	return t.Interface
}

// Dataset groups targets sharing a physical link. Label and Color are only
// used by reporting surfaces.
type Dataset struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label,omitempty" yaml:"label"`
	Color string `json:"color,omitempty" yaml:"color"`
}

// ProbeResult represents a single reachability check
type ProbeResult struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Dataset   string    `json:"dataset"`
	Target    string    `json:"target"`
	Host      string    `json:"host"`
	Interface string    `json:"interface,omitempty"`
	Success   bool      `json:"success"`
	LatencyMs *float64  `json:"latency_ms"` // nil unless Success
	Error     string    `json:"error,omitempty"`
}

// NewProbeSuccess builds a successful result for target. Negative latencies are
// clamped to zero.
func NewProbeSuccess(ts time.Time, target Target, latencyMs float64) ProbeResult {
	if latencyMs < 0 {
		latencyMs = 0
	}
	r := newProbeResult(ts, target)
	r.Success = true
	r.LatencyMs = &latencyMs
	return r
}

// NewProbeFailure builds a failed result for target.
func NewProbeFailure(ts time.Time, target Target, errMsg string) ProbeResult {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	r := newProbeResult(ts, target)
	r.Error = errMsg
	return r
}

func newProbeResult(ts time.Time, target Target) ProbeResult {
	return ProbeResult{
		Timestamp: ts.UTC(),
		Dataset:   target.Dataset,
		Target:    target.Name,
		Host:      target.Host,
		Interface: target.Interface,
	}
}

// ThroughputResult represents a single speed measurement. Failed runs are
// recorded with Success=false and no figures.
type ThroughputResult struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
	Dataset      string    `json:"dataset"`
	Interface    string    `json:"interface,omitempty"`
	Tool         string    `json:"tool,omitempty"`
	Success      bool      `json:"success"`
	DownloadMbps *float64  `json:"download_mbps"`
	UploadMbps   *float64  `json:"upload_mbps"`
	PingMs       *float64  `json:"ping_ms"`
	Error        string    `json:"error,omitempty"`
}

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"netmon/internal/export"
	"netmon/internal/logging"
	"netmon/internal/models"
	"netmon/internal/outage"
	"netmon/internal/stats"
)

// handleRecent handles /api/recent requests
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(w, r, "hours", 24)
	if !ok {
		return
	}

	results, err := s.store.QueryProbes(r.Context(), models.Filter{
		Dataset: r.URL.Query().Get("dataset"),
		Target:  r.URL.Query().Get("target"),
		Since:   s.now().Add(-time.Duration(hours) * time.Hour),
		Limit:   10000,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(results))
}

// handleStats handles /api/stats requests
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(w, r, "hours", 24)
	if !ok {
		return
	}

	now := s.now()
	window := stats.Window{Since: now.Add(-time.Duration(hours) * time.Hour), Until: now}
	filter := models.Filter{Since: window.Since, Until: window.Until}

	probes, err := s.store.QueryProbes(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	throughput, err := s.store.QueryThroughput(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(stats.Summarize(probes, throughput, window, now)))
}

// handleOutages handles /api/outages requests
func (s *Server) handleOutages(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 7)
	if !ok {
		return
	}

	probes, err := s.store.QueryProbes(r.Context(), models.Filter{
		Since: s.now().AddDate(0, 0, -days),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(outage.Detect(probes)))
}

// handleHeatmap handles /api/heatmap requests
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}

	heatmapData, err := s.store.HeatmapData(r.Context(), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(heatmapData))
}

// handleSnapshot builds the dashboard snapshot on demand. Without hours the
// whole history is included.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(w, r, "hours", 0)
	if !ok {
		return
	}

	now := s.now()
	var window stats.Window
	if hours > 0 {
		window.Since = now.Add(-time.Duration(hours) * time.Hour)
	}

	snap, err := export.Build(r.Context(), s.store, s.opts.Datasets, window, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type healthResponse struct {
	Status            string    `json:"status"`
	ProbeResults      int64     `json:"probe_results"`
	ThroughputResults int64     `json:"throughput_results"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	Timestamp         time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Timestamp:     now.UTC(),
	}

	probes, throughput, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Warn("health check failed", logging.Err(err))
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.ProbeResults = probes
	resp.ThroughputResults = throughput

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("api request failed", "path", r.URL.Path, logging.Err(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// intParam reads a non-negative integer query parameter. A malformed value
// is answered with 400 and ok=false.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		http.Error(w, name+" must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"netmon/internal/metrics"
	"netmon/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	probes     []models.ProbeResult
	throughput []models.ThroughputResult
	heatmap    []models.HeatmapPoint
	err        error
	filters    []models.Filter
}

func (f *fakeStore) QueryProbes(_ context.Context, filter models.Filter) ([]models.ProbeResult, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ProbeResult
	for _, p := range f.probes {
		if !filter.Since.IsZero() && p.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Target != "" && p.Target != filter.Target {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) QueryThroughput(_ context.Context, _ models.Filter) ([]models.ThroughputResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.throughput, nil
}

func (f *fakeStore) HeatmapData(_ context.Context, _ int) ([]models.HeatmapPoint, error) {
	return f.heatmap, f.err
}

func (f *fakeStore) Count(_ context.Context) (int64, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return int64(len(f.probes)), int64(len(f.throughput)), nil
}

func sampleStore() *fakeStore {
	gw := models.Target{Name: "gw", Host: "192.168.1.1", Dataset: "fiber"}
	dns := models.Target{Name: "dns", Host: "1.1.1.1", Dataset: "fiber"}
	start := testNow.Add(-time.Hour)
	s := &fakeStore{}
	for i := range 6 {
		ts := start.Add(time.Duration(i) * time.Minute)
		s.probes = append(s.probes, models.NewProbeSuccess(ts, dns, 12))
		if i >= 2 && i < 4 {
			s.probes = append(s.probes, models.NewProbeFailure(ts, gw, "timeout"))
		} else {
			s.probes = append(s.probes, models.NewProbeSuccess(ts, gw, 2))
		}
	}
	return s
}

func newTestServer(store Store, opts Options) *Server {
	s := New(store, opts)
	s.now = func() time.Time { return testNow }
	s.startedAt = testNow.Add(-time.Minute)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRecent(t *testing.T) {
	store := sampleStore()
	h := newTestServer(store, Options{}).Handler()

	rec := get(t, h, "/api/recent?hours=2&target=gw")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	results := decode[[]models.ProbeResult](t, rec)
	if len(results) != 6 {
		t.Errorf("got %d results, want 6", len(results))
	}
	f := store.filters[0]
	if !f.Since.Equal(testNow.Add(-2*time.Hour)) || f.Target != "gw" {
		t.Errorf("filter = %+v", f)
	}
}

func TestBadParameters(t *testing.T) {
	h := newTestServer(sampleStore(), Options{}).Handler()

	for _, path := range []string{
		"/api/recent?hours=abc",
		"/api/stats?hours=-1",
		"/api/outages?days=x",
		"/api/heatmap?days=1.5",
		"/api/snapshot?hours=no",
	} {
		if rec := get(t, h, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestStats(t *testing.T) {
	h := newTestServer(sampleStore(), Options{}).Handler()

	rec := get(t, h, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rows := decode[[]models.SummaryStat](t, rec)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// sorted by dataset then target
	if rows[0].Target != "dns" || rows[1].Target != "gw" {
		t.Errorf("order = %s, %s", rows[0].Target, rows[1].Target)
	}
	if rows[1].FailedChecks != 2 || rows[1].OutageEvents != 1 {
		t.Errorf("gw row = %+v", rows[1])
	}
}

func TestOutages(t *testing.T) {
	h := newTestServer(sampleStore(), Options{}).Handler()

	rec := get(t, h, "/api/outages?days=1")
	events := decode[[]models.OutageEvent](t, rec)
	if len(events) != 1 {
		t.Fatalf("got %d outages, want 1", len(events))
	}
	if events[0].Target != "gw" || events[0].FailedChecks != 2 || events[0].Open() {
		t.Errorf("outage = %+v", events[0])
	}
	if got := *events[0].DurationSeconds; got != 120 {
		t.Errorf("duration = %v, want 120", got)
	}
}

func TestEmptyResultsEncodeAsArrays(t *testing.T) {
	h := newTestServer(&fakeStore{}, Options{}).Handler()

	for _, path := range []string{"/api/recent", "/api/stats", "/api/outages", "/api/heatmap"} {
		rec := get(t, h, path)
		if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
			t.Errorf("%s: body = %q, want []", path, body)
		}
	}
}

func TestSnapshot(t *testing.T) {
	opts := Options{Datasets: []models.Dataset{{Name: "fiber", Label: "Fiber", Color: "#123456"}}}
	h := newTestServer(sampleStore(), opts).Handler()

	rec := get(t, h, "/api/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decode[map[string]any](t, rec)
	for _, key := range []string{"generatedAt", "palette", "summary", "latencySeries", "outages"} {
		if _, ok := snap[key]; !ok {
			t.Errorf("snapshot missing %q", key)
		}
	}
	if labels, _ := snap["datasetLabels"].(map[string]any); labels["fiber"] != "Fiber" {
		t.Errorf("datasetLabels = %v", snap["datasetLabels"])
	}
}

func TestStoreErrors(t *testing.T) {
	h := newTestServer(&fakeStore{err: errors.New("database is locked")}, Options{}).Handler()

	for _, path := range []string{"/api/recent", "/api/stats", "/api/outages", "/api/heatmap", "/api/snapshot"} {
		if rec := get(t, h, path); rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", path, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		wantStatus int
		wantBody   string
	}{
		{"healthy", sampleStore(), http.StatusOK, "healthy"},
		{"store down", &fakeStore{err: errors.New("closed")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(tt.store, Options{}).Handler(), "/health")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decode[healthResponse](t, rec)
			if resp.Status != tt.wantBody {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantBody)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.StoreRetry()

	h := newTestServer(sampleStore(), Options{Gatherer: reg}).Handler()
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "netmon_") {
		t.Errorf("metrics body has no netmon_ series:\n%s", rec.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>netmon</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newTestServer(sampleStore(), Options{StaticDir: dir}).Handler()
	rec := get(t, h, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "netmon") {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}

	noStatic := newTestServer(sampleStore(), Options{}).Handler()
	if rec := get(t, noStatic, "/"); rec.Code != http.StatusNotFound {
		t.Errorf("GET / without static dir = %d, want 404", rec.Code)
	}
}

package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"netmon/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "monitor.db"), Options{MaxAttempts: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return db
}

func probe(ts time.Time, target, iface string, latency *float64) models.ProbeResult {
	tgt := models.Target{Name: target, Host: target + ".example", Interface: iface, Dataset: "ds-" + iface}
	if latency == nil {
		return models.NewProbeFailure(ts, tgt, "timeout: no reply within 3s")
	}
	return models.NewProbeSuccess(ts, tgt, *latency)
}

func ptr(v float64) *float64 { return &v }

func TestAppendAndQueryProbes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Appended out of order; queries must come back sorted.
	inputs := []models.ProbeResult{
		probe(base.Add(60*time.Second), "google", "eth0", ptr(12.5)),
		probe(base, "google", "eth0", nil),
		probe(base.Add(30*time.Second), "google", "eth0", ptr(11)),
		probe(base.Add(30*time.Second), "google", "wlan0", ptr(40)),
	}
	for _, r := range inputs {
		r.SessionID = "session-1"
		if err := db.AppendProbe(ctx, r); err != nil {
			t.Fatalf("AppendProbe() error = %v", err)
		}
	}

	got, err := db.QueryProbes(ctx, models.Filter{Target: "google", Interface: "eth0"})
	if err != nil {
		t.Fatalf("QueryProbes() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("results not ascending at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}

	first := got[0]
	if first.Success || first.LatencyMs != nil || first.Error == "" {
		t.Errorf("failure round trip lost fields: %+v", first)
	}
	if !first.Timestamp.Equal(base) || first.SessionID != "session-1" || first.Dataset != "ds-eth0" || first.Host != "google.example" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if got[2].LatencyMs == nil || *got[2].LatencyMs != 12.5 || got[2].Error != "" {
		t.Errorf("success round trip lost fields: %+v", got[2])
	}
}

func TestQueryProbesFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if err := db.AppendProbe(ctx, probe(base.Add(time.Duration(i)*time.Minute), "google", "eth0", ptr(float64(i)))); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		filter    models.Filter
		wantCount int
		wantFirst float64
	}{
		{"all", models.Filter{}, 10, 0},
		{"since inclusive", models.Filter{Since: base.Add(5 * time.Minute)}, 5, 5},
		{"until exclusive", models.Filter{Until: base.Add(3 * time.Minute)}, 3, 0},
		{"range", models.Filter{Since: base.Add(2 * time.Minute), Until: base.Add(4 * time.Minute)}, 2, 2},
		{"limit keeps newest", models.Filter{Limit: 3}, 3, 7},
		{"dataset", models.Filter{Dataset: "ds-eth0"}, 10, 0},
		{"no match", models.Filter{Dataset: "other"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QueryProbes(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d results, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && *got[0].LatencyMs != tt.wantFirst {
				t.Errorf("first latency = %v, want %v", *got[0].LatencyMs, tt.wantFirst)
			}
		})
	}
}

func TestAppendAndQueryThroughput(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok := models.ThroughputResult{Timestamp: base, Dataset: "cable-a", Interface: "eth0", Tool: "speedtest",
		Success: true, DownloadMbps: ptr(100), UploadMbps: ptr(20), PingMs: ptr(11)}
	failed := models.ThroughputResult{Timestamp: base.Add(time.Hour), Dataset: "cable-a", Interface: "eth0",
		Tool: "speedtest", Error: "timeout: speedtest timed out after 1m30s"}

	for _, r := range []models.ThroughputResult{failed, ok} {
		if err := db.AppendThroughput(ctx, r); err != nil {
			t.Fatalf("AppendThroughput() error = %v", err)
		}
	}

	got, err := db.QueryThroughput(ctx, models.Filter{Dataset: "cable-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if !got[0].Success || *got[0].DownloadMbps != 100 || *got[0].UploadMbps != 20 || *got[0].PingMs != 11 {
		t.Errorf("unexpected first result: %+v", got[0])
	}
	if got[1].Success || got[1].DownloadMbps != nil || got[1].Error == "" {
		t.Errorf("unexpected second result: %+v", got[1])
	}
}

func TestConcurrentAppends(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- db.AppendProbe(ctx, probe(base.Add(time.Duration(i)*time.Second), "google", "eth0", ptr(1)))
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- db.AppendThroughput(ctx, models.ThroughputResult{Timestamp: base.Add(time.Duration(i) * time.Second), Dataset: "cable-a", Tool: "speedtest-cli", Error: "exit status: 1"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append error = %v", err)
		}
	}

	probes, throughput, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if probes != n || throughput != n {
		t.Errorf("Count() = %d, %d, want %d, %d", probes, throughput, n, n)
	}
}

func TestStoreIsAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.AppendProbe(ctx, probe(time.Now(), "google", "eth0", ptr(1))); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec("DELETE FROM probe_results"); err == nil {
		t.Error("expected DELETE to be rejected")
	}
	if _, err := db.Exec("UPDATE probe_results SET success = 0"); err == nil {
		t.Error("expected UPDATE to be rejected")
	}
	if err := db.Maintain(ctx); err != nil {
		t.Errorf("Maintain() error = %v", err)
	}

	probes, _, err := db.Count(ctx)
	if err != nil || probes != 1 {
		t.Errorf("Count() = %d, %v, want 1", probes, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.db")
	ctx := context.Background()

	db, err := New(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendProbe(ctx, probe(time.Now(), "google", "", ptr(5))); err != nil {
		t.Fatal(err)
	}
	db.Close()

	reopened, err := New(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if err := reopened.InitSchema(); err != nil {
		t.Fatal(err)
	}
	got, err := reopened.QueryProbes(ctx, models.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Interface != "" {
		t.Errorf("unexpected rows after reopen: %+v", got)
	}
}

func TestTargetsDatasetsAndHeatmap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Hour)

	for _, r := range []models.ProbeResult{
		probe(now, "google", "eth0", ptr(10)),
		probe(now.Add(time.Minute), "google", "eth0", nil),
		probe(now, "cloudflare", "wlan0", ptr(20)),
	} {
		if err := db.AppendProbe(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.AppendThroughput(ctx, models.ThroughputResult{Timestamp: now, Dataset: "cable-b", Error: "exit status: 1"}); err != nil {
		t.Fatal(err)
	}

	targets, err := db.Targets(ctx)
	if err != nil || len(targets) != 2 {
		t.Fatalf("Targets() = %+v, %v", targets, err)
	}
	datasets, err := db.Datasets(ctx)
	if err != nil || len(datasets) != 3 {
		t.Fatalf("Datasets() = %v, %v", datasets, err)
	}

	heatmap, err := db.HeatmapData(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	var google *models.HeatmapPoint
	for i := range heatmap {
		if heatmap[i].Target == "google" {
			google = &heatmap[i]
		}
	}
	if google == nil {
		t.Fatalf("no heatmap row for google: %+v", heatmap)
	}
	if google.Hour != now.Hour() || google.TotalPings != 2 || google.TotalFailures != 1 || google.FailureRate != 50 || google.AvgLatency != 10 {
		t.Errorf("unexpected heatmap point: %+v", *google)
	}
}

package outage

import (
	"reflect"
	"testing"
	"time"

	"netmon/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stream builds a 30s-cadence series from a pattern like "SFFS", where S is
// a success and F a failure.
func stream(target, iface, pattern string) []models.ProbeResult {
	tgt := models.Target{Name: target, Host: target, Interface: iface, Dataset: "ds-" + iface}
	var out []models.ProbeResult
	for i, c := range pattern {
		ts := base.Add(time.Duration(i) * 30 * time.Second)
		if c == 'S' {
			out = append(out, models.NewProbeSuccess(ts, tgt, 10))
		} else {
			out = append(out, models.NewProbeFailure(ts, tgt, "timeout: no reply within 3s"))
		}
	}
	return out
}

type span struct {
	startIdx int
	endIdx   int // -1 when open
	failed   int
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []span
	}{
		{"empty stream", "", nil},
		{"all successes", "SSSS", nil},
		{"single isolated failure", "SFS", []span{{1, 2, 1}}},
		{"three failures then success", "SFFFS", []span{{1, 4, 3}}},
		{"starts with failures", "FFS", []span{{0, 2, 2}}},
		{"ends while failing", "SSFF", []span{{2, -1, 2}}},
		{"two runs", "FSFFSF", []span{{0, 1, 1}, {2, 4, 2}, {5, -1, 1}}},
		{"all failures", "FFFF", []span{{0, -1, 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(stream("google", "eth0", tt.pattern))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				e := got[i]
				wantStart := base.Add(time.Duration(w.startIdx) * 30 * time.Second)
				if !e.Start.Equal(wantStart) || e.FailedChecks != w.failed {
					t.Errorf("event %d = %+v, want start %v failed %d", i, e, wantStart, w.failed)
				}
				if w.endIdx < 0 {
					if !e.Open() || e.DurationSeconds != nil {
						t.Errorf("event %d should be open: %+v", i, e)
					}
					continue
				}
				wantEnd := base.Add(time.Duration(w.endIdx) * 30 * time.Second)
				if e.End == nil || !e.End.Equal(wantEnd) {
					t.Errorf("event %d end = %v, want %v", i, e.End, wantEnd)
				}
				if e.DurationSeconds == nil || *e.DurationSeconds != wantEnd.Sub(wantStart).Seconds() {
					t.Errorf("event %d duration = %v", i, e.DurationSeconds)
				}
				if e.Dataset != "ds-eth0" || e.Target != "google" || e.Interface != "eth0" {
					t.Errorf("event %d lost labels: %+v", i, e)
				}
			}
		})
	}
}

func TestDetectThreeTimeoutsThenSuccess(t *testing.T) {
	got := Detect(stream("google", "eth0", "FFFS"))
	if len(got) != 1 {
		t.Fatalf("expected one outage, got %+v", got)
	}
	if got[0].FailedChecks != 3 || *got[0].DurationSeconds != 90 {
		t.Errorf("outage = %+v, want 3 failed checks over 90s", got[0])
	}
}

func TestDetectSeparatesSeries(t *testing.T) {
	// Interleaved streams of one target over two interfaces must not merge:
	// eth0 recovers while wlan0 keeps failing.
	eth := stream("google", "eth0", "FSS")
	wlan := stream("google", "wlan0", "SFF")
	var merged []models.ProbeResult
	for i := range eth {
		merged = append(merged, eth[i], wlan[i])
	}

	got := Detect(merged)
	if len(got) != 2 {
		t.Fatalf("expected 2 outages, got %+v", got)
	}
	if got[0].Interface != "eth0" || got[0].Open() || got[0].FailedChecks != 1 {
		t.Errorf("unexpected eth0 outage: %+v", got[0])
	}
	if got[1].Interface != "wlan0" || !got[1].Open() || got[1].FailedChecks != 2 {
		t.Errorf("unexpected wlan0 outage: %+v", got[1])
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	input := append(stream("google", "eth0", "SFFSFS"), stream("cloudflare", "eth0", "FFSSF")...)
	snapshot := append([]models.ProbeResult(nil), input...)

	first := Detect(input)
	second := Detect(input)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Detect is not reproducible:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(input, snapshot) {
		t.Error("Detect modified its input")
	}
}

func TestDetectOrdersUnsortedInput(t *testing.T) {
	in := stream("google", "eth0", "SFFS")
	reversed := []models.ProbeResult{in[3], in[2], in[1], in[0]}

	got := Detect(reversed)
	if len(got) != 1 || got[0].FailedChecks != 2 || *got[0].DurationSeconds != 60 {
		t.Errorf("unexpected outages from unsorted input: %+v", got)
	}
}

func TestEffectiveEndAndSeconds(t *testing.T) {
	end := base.Add(90 * time.Second)
	d := 90.0
	closed := models.OutageEvent{Start: base, End: &end, DurationSeconds: &d}
	open := models.OutageEvent{Start: base}
	now := base.Add(10 * time.Minute)

	if got := EffectiveEnd(closed, now); !got.Equal(end) {
		t.Errorf("EffectiveEnd(closed) = %v", got)
	}
	if got := Seconds(closed, now); got != 90 {
		t.Errorf("Seconds(closed) = %v", got)
	}
	if got := EffectiveEnd(open, now); !got.Equal(now) {
		t.Errorf("EffectiveEnd(open) = %v", got)
	}
	if got := Seconds(open, now); got != 600 {
		t.Errorf("Seconds(open) = %v", got)
	}
	if got := Seconds(open, base.Add(-time.Minute)); got != 0 {
		t.Errorf("Seconds(open) before start = %v, want 0", got)
	}
}

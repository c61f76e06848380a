// Package stats computes summary statistics from the observation stream.
// Nothing is cached: every call recomputes from its input.
package stats

import (
	"math"
	"sort"
	"time"

	"netmon/internal/models"
	"netmon/internal/outage"
)

// Description summarizes a sample. Mean is nil for an empty sample; Std and
// Sem are nil with fewer than two values.
type Description struct {
	N    int
	Mean *float64
	Std  *float64
	Sem  *float64
}

// Window bounds a summary. A zero Since starts at the first observation of
// each pair, a zero Until ends at now.
type Window struct {
	Since time.Time
	Until time.Time
}

// Describe returns the mean, sample standard deviation (n-1) and standard
// error of the mean of values.
func Describe(values []float64) Description {
	d := Description{N: len(values)}
	if d.N == 0 {
		return d
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(d.N)
	d.Mean = &mean
	if d.N < 2 {
		return d
	}

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(d.N-1))
	sem := std / math.Sqrt(float64(d.N))
	d.Std = &std
	d.Sem = &sem
	return d
}

type pairKey struct {
	dataset string
	target  string
}

// Summarize computes one SummaryStat per (dataset, target) seen in probes,
// plus a row with an empty target for datasets that only have throughput
// results. Rows are sorted by dataset then target.
func Summarize(probes []models.ProbeResult, throughput []models.ThroughputResult, w Window, now time.Time) []models.SummaryStat {
	pairs := make(map[pairKey][]models.ProbeResult)
	for _, p := range probes {
		if !inWindow(p.Timestamp, w) {
			continue
		}
		k := pairKey{dataset: p.Dataset, target: p.Target}
		pairs[k] = append(pairs[k], p)
	}

	speed := make(map[string][]models.ThroughputResult)
	for _, r := range throughput {
		if inWindow(r.Timestamp, w) {
			speed[r.Dataset] = append(speed[r.Dataset], r)
		}
	}

	var out []models.SummaryStat
	covered := make(map[string]bool)
	for k, results := range pairs {
		s := summarizePair(k, results, w, now)
		applyThroughput(&s, speed[k.dataset])
		covered[k.dataset] = true
		out = append(out, s)
	}
	for dataset, results := range speed {
		if covered[dataset] {
			continue
		}
		s := models.SummaryStat{Dataset: dataset, WindowStart: w.Since.UTC(), WindowEnd: windowEnd(w, now)}
		if s.WindowStart.IsZero() && len(results) > 0 {
			s.WindowStart = earliestThroughput(results)
		}
		applyThroughput(&s, results)
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Dataset != out[j].Dataset {
			return out[i].Dataset < out[j].Dataset
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func summarizePair(k pairKey, results []models.ProbeResult, w Window, now time.Time) models.SummaryStat {
	s := models.SummaryStat{
		Dataset:     k.dataset,
		Target:      k.target,
		WindowStart: w.Since.UTC(),
		WindowEnd:   windowEnd(w, now),
		TotalChecks: len(results),
	}

	var latencies []float64
	for _, r := range results {
		if s.WindowStart.IsZero() || (w.Since.IsZero() && r.Timestamp.Before(s.WindowStart)) {
			s.WindowStart = r.Timestamp
		}
		if !r.Success {
			s.FailedChecks++
			continue
		}
		if r.LatencyMs != nil {
			latencies = append(latencies, *r.LatencyMs)
		}
	}

	d := Describe(latencies)
	s.LatencyN = d.N
	s.LatencyMeanMs, s.LatencyStdMs, s.LatencySemMs = d.Mean, d.Std, d.Sem
	if s.TotalChecks > 0 {
		s.FailurePct = float64(s.FailedChecks) / float64(s.TotalChecks) * 100
	}

	var outageSeconds float64
	for _, o := range outage.Detect(results) {
		s.OutageEvents++
		outageSeconds += clippedSeconds(o, s.WindowStart, s.WindowEnd)
	}
	s.OutageMinutes = outageSeconds / 60
	if span := s.WindowEnd.Sub(s.WindowStart).Seconds(); span > 0 {
		s.OutagePctEst = outageSeconds / span * 100
	}
	return s
}

// clippedSeconds is the part of o inside [start, end]. An open outage runs
// to end.
func clippedSeconds(o models.OutageEvent, start, end time.Time) float64 {
	from := o.Start
	if from.Before(start) {
		from = start
	}
	to := outage.EffectiveEnd(o, end)
	if to.After(end) {
		to = end
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from).Seconds()
}

func applyThroughput(s *models.SummaryStat, results []models.ThroughputResult) {
	var down, up, ping []float64
	for _, r := range results {
		if !r.Success {
			continue
		}
		if r.DownloadMbps != nil {
			down = append(down, *r.DownloadMbps)
		}
		if r.UploadMbps != nil {
			up = append(up, *r.UploadMbps)
		}
		if r.PingMs != nil {
			ping = append(ping, *r.PingMs)
		}
	}

	dd, ud := Describe(down), Describe(up)
	s.DownloadN = dd.N
	s.DownloadMeanMbps, s.DownloadStdMbps, s.DownloadSemMbps = dd.Mean, dd.Std, dd.Sem
	s.UploadN = ud.N
	s.UploadMeanMbps, s.UploadStdMbps, s.UploadSemMbps = ud.Mean, ud.Std, ud.Sem
	pd := Describe(ping)
	s.SpeedPingN = pd.N
	s.SpeedPingMeanMs, s.SpeedPingStdMs, s.SpeedPingSemMs = pd.Mean, pd.Std, pd.Sem
}

func inWindow(ts time.Time, w Window) bool {
	if !w.Since.IsZero() && ts.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && !ts.Before(w.Until) {
		return false
	}
	return true
}

func windowEnd(w Window, now time.Time) time.Time {
	if !w.Until.IsZero() {
		return w.Until.UTC()
	}
	return now.UTC()
}

func earliestThroughput(results []models.ThroughputResult) time.Time {
	earliest := results[0].Timestamp
	for _, r := range results[1:] {
		if r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
	}
	return earliest
}

package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"netmon/internal/models"
)

// RoundSigFigs rounds v to sig significant figures.
func RoundSigFigs(v float64, sig int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	digits := sig - int(math.Floor(math.Log10(math.Abs(v)))) - 1
	if digits < 0 {
		pow := math.Pow(10, float64(-digits))
		return math.Round(v/pow) * pow
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(v*pow) / pow
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := RoundSigFigs(*v, 3)
	return &r
}

func roundSummary(s *models.SummaryStat) {
	for _, p := range []**float64{
		&s.LatencyMeanMs, &s.LatencyStdMs, &s.LatencySemMs,
		&s.DownloadMeanMbps, &s.DownloadStdMbps, &s.DownloadSemMbps,
		&s.UploadMeanMbps, &s.UploadStdMbps, &s.UploadSemMbps,
		&s.SpeedPingMeanMs, &s.SpeedPingStdMs, &s.SpeedPingSemMs,
	} {
		*p = roundPtr(*p)
	}
	s.FailurePct = RoundSigFigs(s.FailurePct, 3)
	s.OutageMinutes = RoundSigFigs(s.OutageMinutes, 3)
	s.OutagePctEst = RoundSigFigs(s.OutagePctEst, 3)
}

// withGapBreaks builds the points of a line and inserts a null point midway
// through every gap longer than gapFactor times the median cadence, so the
// chart does not draw across missing data.
func withGapBreaks(times []time.Time, values []*float64) []Point {
	points := make([]Point, 0, len(times))
	threshold := gapFactor * medianCadence(times)
	for i, ts := range times {
		if i > 0 && threshold > 0 {
			if gap := ts.Sub(times[i-1]); gap > threshold {
				mid := times[i-1].Add(gap / 2)
				points = append(points, Point{X: mid.Format(timeFormat)})
			}
		}
		points = append(points, Point{X: ts.Format(timeFormat), Y: values[i]})
	}
	return points
}

func medianCadence(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}
	diffs := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		diffs = append(diffs, times[i].Sub(times[i-1]))
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	n := len(diffs)
	if n%2 == 1 {
		return diffs[n/2]
	}
	return (diffs[n/2-1] + diffs[n/2]) / 2
}

// WriteFile writes the snapshot as indented JSON, replacing path atomically.
func WriteFile(path string, snap Snapshot) error {
	bytes, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

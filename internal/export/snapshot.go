// Package export builds the dashboard snapshot document from the
// observation store.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"netmon/internal/models"
	"netmon/internal/outage"
	"netmon/internal/stats"
)

const (
	timeFormat    = time.RFC3339
	fallbackColor = "#60a5fa"
	gapFactor     = 3
)

// tab10 is used for datasets without a configured color.
var tab10 = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Point is one chart point. A nil Y breaks the line.
type Point struct {
	X string   `json:"x"`
	Y *float64 `json:"y"`
}

// Series is one chart line
type Series struct {
	Label           string  `json:"label"`
	Dataset         string  `json:"dataset"`
	BorderColor     string  `json:"borderColor"`
	BackgroundColor string  `json:"backgroundColor"`
	BorderDash      []int   `json:"borderDash,omitempty"`
	Data            []Point `json:"data"`
}

// FailurePoint marks one failed probe; Y is the dataset's row in FailureOrder.
type FailurePoint struct {
	X string `json:"x"`
	Y int    `json:"y"`
}

// FailureSeries holds the failure markers of one dataset
type FailureSeries struct {
	Label           string         `json:"label"`
	Dataset         string         `json:"dataset"`
	BorderColor     string         `json:"borderColor"`
	BackgroundColor string         `json:"backgroundColor"`
	Data            []FailurePoint `json:"data"`
}

// Span is the first and last probe time of a dataset
type Span struct {
	Dataset string `json:"dataset"`
	Label   string `json:"label"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Snapshot is the document consumed by the dashboard
type Snapshot struct {
	GeneratedAt      string               `json:"generatedAt"`
	Palette          map[string]string    `json:"palette"`
	DatasetLabels    map[string]string    `json:"datasetLabels"`
	DatasetSpans     []Span               `json:"datasetSpans"`
	Summary          []models.SummaryStat `json:"summary"`
	LatencySeries    map[string][]Series  `json:"latencySeries"`
	ThroughputSeries []Series             `json:"throughputSeries"`
	FailureSeries    []FailureSeries      `json:"failureSeries"`
	FailureOrder     []string             `json:"failureOrder"`
	Outages          []models.OutageEvent `json:"outages"`
	ThroughputTools  []string             `json:"throughputTools"`
}

// Build reads the window from reader and assembles the snapshot.
func Build(ctx context.Context, reader models.Reader, datasets []models.Dataset, w stats.Window, now time.Time) (Snapshot, error) {
	filter := models.Filter{Since: w.Since, Until: w.Until}
	probes, err := reader.QueryProbes(ctx, filter)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load probes: %w", err)
	}
	throughput, err := reader.QueryThroughput(ctx, filter)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load throughput: %w", err)
	}
	return BuildFrom(probes, throughput, datasets, w, now), nil
}

// BuildFrom assembles the snapshot from already loaded records. It is a pure
// function of its arguments.
func BuildFrom(probes []models.ProbeResult, throughput []models.ThroughputResult, datasets []models.Dataset, w stats.Window, now time.Time) Snapshot {
	probes = sortedProbes(probes)
	throughput = sortedThroughput(throughput)
	order := datasetOrder(datasets, probes, throughput)

	snap := Snapshot{
		GeneratedAt:      now.UTC().Format(timeFormat),
		Palette:          make(map[string]string),
		DatasetLabels:    make(map[string]string),
		DatasetSpans:     []Span{},
		LatencySeries:    make(map[string][]Series),
		ThroughputSeries: []Series{},
		FailureSeries:    []FailureSeries{},
		FailureOrder:     make([]string, 0, len(order)),
		ThroughputTools:  []string{},
	}
	for i, ds := range order {
		color := ds.Color
		if color == "" {
			color = tab10[i%len(tab10)]
		}
		label := ds.Label
		if label == "" {
			label = ds.Name
		}
		snap.Palette[ds.Name] = color
		snap.DatasetLabels[ds.Name] = label
		snap.FailureOrder = append(snap.FailureOrder, ds.Name)
	}

	snap.DatasetSpans = spans(order, probes, snap.DatasetLabels)
	snap.LatencySeries = latencySeries(order, probes, snap)
	snap.ThroughputSeries = throughputSeries(order, throughput, snap)
	snap.FailureSeries = failureSeries(order, probes, snap)

	snap.Summary = stats.Summarize(probes, throughput, w, now)
	for i := range snap.Summary {
		roundSummary(&snap.Summary[i])
	}
	if snap.Summary == nil {
		snap.Summary = []models.SummaryStat{}
	}

	snap.Outages = outage.Detect(probes)
	for i := range snap.Outages {
		snap.Outages[i].DurationSeconds = roundPtr(snap.Outages[i].DurationSeconds)
	}
	if snap.Outages == nil {
		snap.Outages = []models.OutageEvent{}
	}

	seen := make(map[string]bool)
	for _, r := range throughput {
		if r.Tool != "" && !seen[r.Tool] {
			seen[r.Tool] = true
			snap.ThroughputTools = append(snap.ThroughputTools, r.Tool)
		}
	}
	sort.Strings(snap.ThroughputTools)

	return snap
}

// datasetOrder lists configured datasets first, then datasets only found in
// the data, sorted by name.
func datasetOrder(configured []models.Dataset, probes []models.ProbeResult, throughput []models.ThroughputResult) []models.Dataset {
	var order []models.Dataset
	known := make(map[string]bool)
	for _, ds := range configured {
		if ds.Name == "" || known[ds.Name] {
			continue
		}
		known[ds.Name] = true
		order = append(order, ds)
	}

	var extra []string
	add := func(name string) {
		if !known[name] {
			known[name] = true
			extra = append(extra, name)
		}
	}
	for _, p := range probes {
		add(p.Dataset)
	}
	for _, r := range throughput {
		add(r.Dataset)
	}
	sort.Strings(extra)
	for _, name := range extra {
		order = append(order, models.Dataset{Name: name})
	}
	return order
}

func spans(order []models.Dataset, probes []models.ProbeResult, labels map[string]string) []Span {
	first := make(map[string]time.Time)
	last := make(map[string]time.Time)
	for _, p := range probes {
		if _, ok := first[p.Dataset]; !ok {
			first[p.Dataset] = p.Timestamp
		}
		last[p.Dataset] = p.Timestamp
	}

	out := []Span{}
	for _, ds := range order {
		start, ok := first[ds.Name]
		if !ok {
			continue
		}
		out = append(out, Span{
			Dataset: ds.Name,
			Label:   labels[ds.Name],
			Start:   start.Format(timeFormat),
			End:     last[ds.Name].Format(timeFormat),
		})
	}
	return out
}

func latencySeries(order []models.Dataset, probes []models.ProbeResult, snap Snapshot) map[string][]Series {
	byTarget := make(map[string]map[string][]models.ProbeResult)
	for _, p := range probes {
		if byTarget[p.Target] == nil {
			byTarget[p.Target] = make(map[string][]models.ProbeResult)
		}
		byTarget[p.Target][p.Dataset] = append(byTarget[p.Target][p.Dataset], p)
	}

	out := make(map[string][]Series, len(byTarget))
	for target, byDataset := range byTarget {
		var series []Series
		for _, ds := range order {
			results := byDataset[ds.Name]
			if len(results) == 0 {
				continue
			}
			times := make([]time.Time, len(results))
			values := make([]*float64, len(results))
			for i, r := range results {
				times[i] = r.Timestamp
				if r.Success {
					values[i] = roundPtr(r.LatencyMs)
				}
			}
			series = append(series, newSeries(snap.DatasetLabels[ds.Name], ds.Name, snap.Palette[ds.Name], withGapBreaks(times, values)))
		}
		out[target] = series
	}
	return out
}

func throughputSeries(order []models.Dataset, throughput []models.ThroughputResult, snap Snapshot) []Series {
	byDataset := make(map[string][]models.ThroughputResult)
	for _, r := range throughput {
		if r.Success && r.DownloadMbps != nil && r.UploadMbps != nil {
			byDataset[r.Dataset] = append(byDataset[r.Dataset], r)
		}
	}

	out := []Series{}
	for _, ds := range order {
		results := byDataset[ds.Name]
		if len(results) == 0 {
			continue
		}
		times := make([]time.Time, len(results))
		down := make([]*float64, len(results))
		up := make([]*float64, len(results))
		for i, r := range results {
			times[i] = r.Timestamp
			down[i] = roundPtr(r.DownloadMbps)
			up[i] = roundPtr(r.UploadMbps)
		}

		label := snap.DatasetLabels[ds.Name]
		color := snap.Palette[ds.Name]
		out = append(out, newSeries(label+" - Download", ds.Name, color, withGapBreaks(times, down)))
		upload := newSeries(label+" - Upload", ds.Name, color, withGapBreaks(times, up))
		upload.BorderDash = []int{6, 4}
		out = append(out, upload)
	}
	return out
}

func failureSeries(order []models.Dataset, probes []models.ProbeResult, snap Snapshot) []FailureSeries {
	byDataset := make(map[string][]models.ProbeResult)
	for _, p := range probes {
		if !p.Success {
			byDataset[p.Dataset] = append(byDataset[p.Dataset], p)
		}
	}

	out := []FailureSeries{}
	for idx, ds := range order {
		failed := byDataset[ds.Name]
		if len(failed) == 0 {
			continue
		}
		points := make([]FailurePoint, len(failed))
		for i, p := range failed {
			points[i] = FailurePoint{X: p.Timestamp.Format(timeFormat), Y: idx}
		}
		color := snap.Palette[ds.Name]
		out = append(out, FailureSeries{
			Label:           snap.DatasetLabels[ds.Name],
			Dataset:         ds.Name,
			BorderColor:     color,
			BackgroundColor: color,
			Data:            points,
		})
	}
	return out
}

func newSeries(label, dataset, color string, data []Point) Series {
	if color == "" {
		color = fallbackColor
	}
	return Series{
		Label:           label,
		Dataset:         dataset,
		BorderColor:     color,
		BackgroundColor: color,
		Data:            data,
	}
}

func sortedProbes(in []models.ProbeResult) []models.ProbeResult {
	out := append([]models.ProbeResult(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func sortedThroughput(in []models.ThroughputResult) []models.ThroughputResult {
	out := append([]models.ThroughputResult(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

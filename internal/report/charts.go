package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"netmon/internal/outage"
)

type timeSeriesData struct {
	timestamps []time.Time
	values     []float64
}

func (d timeSeriesData) drawable() bool {
	return len(d.timestamps) >= 2 && d.timestamps[0].Before(d.timestamps[len(d.timestamps)-1])
}

var gridStyle = chart.Style{
	StrokeColor: drawing.Color{R: 200, G: 200, B: 200, A: 255},
	StrokeWidth: 1.0,
}

var padding = chart.Style{
	Padding: chart.Box{
		Top:    20,
		Left:   20,
		Right:  20,
		Bottom: 20,
	},
}

func (g *Generator) generateLatencyCharts(outputDir string, data reportData) error {
	// Group successful probes by target, one line per dataset
	targetData := make(map[string]map[string]timeSeriesData)
	for _, r := range data.probes {
		if !r.Success || r.LatencyMs == nil {
			continue
		}
		if targetData[r.Target] == nil {
			targetData[r.Target] = make(map[string]timeSeriesData)
		}
		d := targetData[r.Target][r.Dataset]
		d.timestamps = append(d.timestamps, r.Timestamp)
		d.values = append(d.values, *r.LatencyMs)
		targetData[r.Target][r.Dataset] = d
	}

	for target, byDataset := range targetData {
		var series []chart.Series
		maxLatency := 0.0
		for i, dataset := range sortedKeys(byDataset) {
			d := byDataset[dataset]
			if !d.drawable() {
				continue
			}
			for _, v := range d.values {
				maxLatency = max(maxLatency, v)
			}
			ts := chart.TimeSeries{
				Name: dataset,
				Style: chart.Style{
					StrokeColor: chart.GetDefaultColor(i),
					StrokeWidth: 2,
				},
				XValues: d.timestamps,
				YValues: d.values,
			}
			series = append(series, ts)

			// Add moving average
			if len(d.values) > 10 {
				series = append(series, chart.SMASeries{
					Name: dataset + " moving avg",
					Style: chart.Style{
						StrokeColor:     chart.GetDefaultColor(i).WithAlpha(160),
						StrokeWidth:     2,
						StrokeDashArray: []float64{5, 5},
					},
					InnerSeries: ts,
					Period:      10,
				})
			}
		}
		if len(series) == 0 {
			continue
		}

		graph := chart.Chart{
			Title: fmt.Sprintf("Network Latency - %s", target),
			TitleStyle: chart.Style{
				FontSize: 16,
			},
			Background: padding,
			Width:      1200,
			Height:     400,
			XAxis: chart.XAxis{
				Name:           "Time",
				Style:          axisStyle(),
				ValueFormatter: chart.TimeMinuteValueFormatter,
			},
			YAxis: chart.YAxis{
				Name:  "Latency (ms)",
				Style: axisStyle(),
				Range: &chart.ContinuousRange{
					Min: 0,
					Max: max(maxLatency*1.1, 1),
				},
				GridMajorStyle: gridStyle,
			},
			Series: series,
		}
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}

		filename := filepath.Join(outputDir, fmt.Sprintf("latency_%s.png", sanitizeFilename(target)))
		if err := renderPNG(filename, graph.Render); err != nil {
			return err
		}
	}

	return nil
}

func (g *Generator) generateAvailabilityChart(outputDir string, data reportData) error {
	type bucket struct{ total, successful int }
	hourly := make(map[string]map[time.Time]*bucket)
	for _, r := range data.probes {
		key := r.Dataset + "/" + r.Target
		if hourly[key] == nil {
			hourly[key] = make(map[time.Time]*bucket)
		}
		hour := r.Timestamp.Truncate(time.Hour)
		b := hourly[key][hour]
		if b == nil {
			b = &bucket{}
			hourly[key][hour] = b
		}
		b.total++
		if r.Success {
			b.successful++
		}
	}

	// Combined availability chart
	var allSeries []chart.Series
	for i, key := range sortedKeys(hourly) {
		var d timeSeriesData
		hours := make([]time.Time, 0, len(hourly[key]))
		for h := range hourly[key] {
			hours = append(hours, h)
		}
		sort.Slice(hours, func(a, b int) bool { return hours[a].Before(hours[b]) })
		for _, h := range hours {
			b := hourly[key][h]
			d.timestamps = append(d.timestamps, h)
			d.values = append(d.values, float64(b.successful)/float64(b.total)*100)
		}
		if !d.drawable() {
			continue
		}
		allSeries = append(allSeries, chart.TimeSeries{
			Name: key,
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(i),
				StrokeWidth: 2,
			},
			XValues: d.timestamps,
			YValues: d.values,
		})
	}
	if len(allSeries) == 0 {
		return nil
	}

	graph := chart.Chart{
		Title: "Network Availability (Hourly)",
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: padding,
		Width:      1200,
		Height:     400,
		XAxis: chart.XAxis{
			Name:           "Time",
			Style:          axisStyle(),
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Uptime %",
			Style: axisStyle(),
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
			GridMajorStyle: gridStyle,
		},
		Series: allSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(filepath.Join(outputDir, "availability.png"), graph.Render)
}

func (g *Generator) generateThroughputChart(outputDir string, data reportData) error {
	down := make(map[string]timeSeriesData)
	up := make(map[string]timeSeriesData)
	maxMbps := 0.0
	for _, r := range data.throughput {
		if !r.Success || r.DownloadMbps == nil || r.UploadMbps == nil {
			continue
		}
		d, u := down[r.Dataset], up[r.Dataset]
		d.timestamps = append(d.timestamps, r.Timestamp)
		d.values = append(d.values, *r.DownloadMbps)
		u.timestamps = append(u.timestamps, r.Timestamp)
		u.values = append(u.values, *r.UploadMbps)
		down[r.Dataset], up[r.Dataset] = d, u
		maxMbps = max(maxMbps, *r.DownloadMbps, *r.UploadMbps)
	}

	var series []chart.Series
	for i, dataset := range sortedKeys(down) {
		if !down[dataset].drawable() {
			continue
		}
		color := chart.GetDefaultColor(i)
		series = append(series,
			chart.TimeSeries{
				Name:    dataset + " download",
				Style:   chart.Style{StrokeColor: color, StrokeWidth: 2},
				XValues: down[dataset].timestamps,
				YValues: down[dataset].values,
			},
			chart.TimeSeries{
				Name:    dataset + " upload",
				Style:   chart.Style{StrokeColor: color, StrokeWidth: 2, StrokeDashArray: []float64{6, 4}},
				XValues: up[dataset].timestamps,
				YValues: up[dataset].values,
			},
		)
	}
	if len(series) == 0 {
		return nil
	}

	graph := chart.Chart{
		Title: "Throughput",
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: padding,
		Width:      1200,
		Height:     400,
		XAxis: chart.XAxis{
			Name:           "Time",
			Style:          axisStyle(),
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Mbps",
			Style: axisStyle(),
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: max(maxMbps*1.1, 1),
			},
			GridMajorStyle: gridStyle,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(filepath.Join(outputDir, "throughput.png"), graph.Render)
}

// generateOutageChart draws the outage minutes of every series in the window
func (g *Generator) generateOutageChart(outputDir string, data reportData) error {
	minutes := make(map[string]float64)
	for _, o := range outage.Detect(data.probes) {
		key := o.Dataset + "/" + o.Target
		minutes[key] += outage.Seconds(o, data.until) / 60
	}

	var values []chart.Value
	total := 0.0
	for _, key := range sortedKeys(minutes) {
		values = append(values, chart.Value{Label: key, Value: minutes[key]})
		total += minutes[key]
	}
	if total <= 0 {
		return nil
	}

	graph := chart.BarChart{
		Title: "Outage Minutes by Target",
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: padding,
		Width:      1200,
		Height:     400,
		Bars:       values,
		BarWidth:   40,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: total * 1.1},
		},
	}

	return renderPNG(filepath.Join(outputDir, "outages.png"), graph.Render)
}

func axisStyle() chart.Style {
	return chart.Style{
		StrokeColor: drawing.ColorBlack,
		FontSize:    10,
	}
}

func renderPNG(filename string, render func(chart.RendererProvider, io.Writer) error) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := render(chart.PNG, file); err != nil {
		file.Close()
		os.Remove(filename)
		return err
	}
	return file.Close()
}

// Package outage derives outage events from the probe result stream.
package outage

import (
	"sort"
	"time"

	"netmon/internal/models"
)

type pairKey struct {
	dataset string
	target  string
	iface   string
}

// Detect returns the failure runs of every (dataset, target, interface)
// series in results. A run starts at the first failure and ends at the next
// success of the same series; a run still failing at the end of the stream
// is open. Events are ordered by start, then dataset, target and interface.
//
// Detect is a pure function of its input.
func Detect(results []models.ProbeResult) []models.OutageEvent {
	series := make(map[pairKey][]models.ProbeResult)
	var keys []pairKey
	for _, r := range results {
		k := pairKey{dataset: r.Dataset, target: r.Target, iface: r.Interface}
		if _, ok := series[k]; !ok {
			keys = append(keys, k)
		}
		series[k] = append(series[k], r)
	}

	var events []models.OutageEvent
	for _, k := range keys {
		events = append(events, detectSeries(k, series[k])...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Dataset != b.Dataset {
			return a.Dataset < b.Dataset
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Interface < b.Interface
	})
	return events
}

func detectSeries(k pairKey, results []models.ProbeResult) []models.OutageEvent {
	// The store returns series in order; sorting again keeps Detect correct
	// for callers that merge streams.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	var events []models.OutageEvent
	var current *models.OutageEvent
	for _, r := range results {
		if !r.Success {
			if current == nil {
				current = &models.OutageEvent{
					Dataset:   k.dataset,
					Target:    k.target,
					Interface: k.iface,
					Start:     r.Timestamp,
				}
			}
			current.FailedChecks++
			continue
		}
		if current != nil {
			end := r.Timestamp
			duration := end.Sub(current.Start).Seconds()
			current.End = &end
			current.DurationSeconds = &duration
			events = append(events, *current)
			current = nil
		}
	}
	if current != nil {
		events = append(events, *current)
	}
	return events
}

// EffectiveEnd is the end of o, or now while o is open.
func EffectiveEnd(o models.OutageEvent, now time.Time) time.Time {
	if o.End != nil {
		return *o.End
	}
	if now.Before(o.Start) {
		return o.Start
	}
	return now
}

// Seconds is the duration of o, counting an open outage up to now.
func Seconds(o models.OutageEvent, now time.Time) float64 {
	if o.DurationSeconds != nil {
		return *o.DurationSeconds
	}
	return EffectiveEnd(o, now).Sub(o.Start).Seconds()
}

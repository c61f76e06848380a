package models

import (
	"context"
	"time"
)

// Filter selects records from the observation store. Zero values mean "any".
type Filter struct {
	Dataset   string
	Target    string
	Interface string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Store is the append side of the observation store
type Store interface {
	AppendProbe(ctx context.Context, result ProbeResult) error
	AppendThroughput(ctx context.Context, result ThroughputResult) error
}

// Reader is the query side of the observation store
type Reader interface {
	QueryProbes(ctx context.Context, filter Filter) ([]ProbeResult, error)
	QueryThroughput(ctx context.Context, filter Filter) ([]ThroughputResult, error)
}

// Prober runs a single reachability check. Implementations never return an
// error: every outcome is a ProbeResult.
type Prober interface {
	Probe(ctx context.Context, target Target, timeout time.Duration) ProbeResult
}

// ThroughputTester measures link throughput with an external tool.
type ThroughputTester interface {
	Run(ctx context.Context) (ThroughputResult, error)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"netmon/internal/models"
)

// recentLimit caps the rows returned to dashboards
const recentLimit = 10000

// AppendProbe saves a probe result
func (db *DB) AppendProbe(ctx context.Context, r models.ProbeResult) error {
	query := `
        INSERT INTO probe_results (ts, session_id, dataset, target, host, interface, success, latency_ms, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	return db.append(ctx, "probe", query,
		formatTime(r.Timestamp),
		r.SessionID,
		r.Dataset,
		r.Target,
		r.Host,
		r.Interface,
		r.Success,
		nullFloat(r.LatencyMs),
		nullString(r.Error),
	)
}

// AppendThroughput saves a throughput result
func (db *DB) AppendThroughput(ctx context.Context, r models.ThroughputResult) error {
	query := `
        INSERT INTO throughput_results (ts, session_id, dataset, interface, tool, success, download_mbps, upload_mbps, ping_ms, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	return db.append(ctx, "throughput", query,
		formatTime(r.Timestamp),
		r.SessionID,
		r.Dataset,
		r.Interface,
		r.Tool,
		r.Success,
		nullFloat(r.DownloadMbps),
		nullFloat(r.UploadMbps),
		nullFloat(r.PingMs),
		nullString(r.Error),
	)
}

// append executes a single INSERT, retrying with backoff. After the last
// attempt it gives up with ErrDropped rather than block the caller.
func (db *DB) append(ctx context.Context, kind, query string, args ...any) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var err error
	attempts := 0
	for attempts < db.maxAttempts {
		if attempts > 0 {
			db.metrics.StoreRetry()
			delay := db.backoff.NextDelay(attempts - 1)
			db.logger.Warn("append failed, retrying", "kind", kind, "attempt", attempts, "delay", delay, "error", err)
			if sleepErr := db.sleep(ctx, delay); sleepErr != nil {
				break
			}
		}
		attempts++
		if _, err = db.ExecContext(ctx, query, args...); err == nil {
			return nil
		}
	}

	db.metrics.StoreDropped()
	db.logger.Error("append dropped", "kind", kind, "attempts", attempts, "error", err)
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrDropped, kind, attempts, err)
}

// QueryProbes returns probe results matching f, oldest first. With a Limit
// the most recent Limit rows are returned, still oldest first.
func (db *DB) QueryProbes(ctx context.Context, f models.Filter) ([]models.ProbeResult, error) {
	where, args := filterClause(f, true)
	query := `
        SELECT id, ts, session_id, dataset, target, host, interface, success, latency_ms, error
        FROM probe_results` + where
	query = orderAndLimit(query, f.Limit, &args)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}
	defer rows.Close()

	var results []models.ProbeResult
	for rows.Next() {
		var (
			r       models.ProbeResult
			id      int64
			ts      string
			latency sql.NullFloat64
			errMsg  sql.NullString
		)
		if err := rows.Scan(&id, &ts, &r.SessionID, &r.Dataset, &r.Target, &r.Host, &r.Interface,
			&r.Success, &latency, &errMsg); err != nil {
			return nil, fmt.Errorf("scan probe: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		r.LatencyMs = floatPtr(latency)
		r.Error = errMsg.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}

	return results, nil
}

// QueryThroughput returns throughput results matching f, oldest first. The
// Target field of the filter is ignored.
func (db *DB) QueryThroughput(ctx context.Context, f models.Filter) ([]models.ThroughputResult, error) {
	where, args := filterClause(f, false)
	query := `
        SELECT id, ts, session_id, dataset, interface, tool, success, download_mbps, upload_mbps, ping_ms, error
        FROM throughput_results` + where
	query = orderAndLimit(query, f.Limit, &args)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []models.ThroughputResult
	for rows.Next() {
		var (
			r                    models.ThroughputResult
			id                   int64
			ts                   string
			download, upload, pm sql.NullFloat64
			errMsg               sql.NullString
		)
		if err := rows.Scan(&id, &ts, &r.SessionID, &r.Dataset, &r.Interface, &r.Tool, &r.Success,
			&download, &upload, &pm, &errMsg); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		r.DownloadMbps = floatPtr(download)
		r.UploadMbps = floatPtr(upload)
		r.PingMs = floatPtr(pm)
		r.Error = errMsg.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}

	return results, nil
}

// Recent retrieves probe results of the last hours
func (db *DB) Recent(ctx context.Context, hours int) ([]models.ProbeResult, error) {
	return db.QueryProbes(ctx, models.Filter{
		Since: time.Now().Add(-time.Duration(hours) * time.Hour),
		Limit: recentLimit,
	})
}

// Targets lists every (dataset, target, host, interface) seen in the store
func (db *DB) Targets(ctx context.Context) ([]models.Target, error) {
	query := `
        SELECT DISTINCT dataset, target, host, interface
        FROM probe_results
        ORDER BY dataset, target, interface
    `
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []models.Target
	for rows.Next() {
		var t models.Target
		if err := rows.Scan(&t.Dataset, &t.Name, &t.Host, &t.Interface); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Datasets lists the distinct dataset names of both tables
func (db *DB) Datasets(ctx context.Context) ([]string, error) {
	query := `
        SELECT dataset FROM probe_results
        UNION
        SELECT dataset FROM throughput_results
        ORDER BY dataset
    `
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// Count returns the number of stored probe and throughput results
func (db *DB) Count(ctx context.Context) (probes, throughput int64, err error) {
	err = db.QueryRowContext(ctx, `
        SELECT (SELECT COUNT(*) FROM probe_results), (SELECT COUNT(*) FROM throughput_results)
    `).Scan(&probes, &throughput)
	if err != nil {
		return 0, 0, fmt.Errorf("count: %w", err)
	}
	return probes, throughput, nil
}

// HeatmapData aggregates probe results of the last days by hour of day.
// It is computed from the raw observations on every call.
func (db *DB) HeatmapData(ctx context.Context, days int) ([]models.HeatmapPoint, error) {
	query := `
        SELECT
            CAST(substr(ts, 12, 2) AS INTEGER) as hour,
            dataset,
            target,
            ROUND(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) * 100.0 / COUNT(*), 2) as failure_rate,
            AVG(CASE WHEN success = 1 THEN latency_ms ELSE NULL END) as avg_latency,
            MAX(CASE WHEN success = 1 THEN latency_ms ELSE NULL END) as max_latency,
            SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) as total_failures,
            COUNT(*) as total_pings,
            COUNT(DISTINCT substr(ts, 1, 10)) as days_with_data
        FROM probe_results
        WHERE ts >= ?
        GROUP BY hour, dataset, target
        ORDER BY hour, dataset, target
    `

	since := formatTime(time.Now().AddDate(0, 0, -days))
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query heatmap: %w", err)
	}
	defer rows.Close()

	var heatmapData []models.HeatmapPoint
	for rows.Next() {
		var h models.HeatmapPoint
		var avgLatency, maxLatency sql.NullFloat64
		if err := rows.Scan(&h.Hour, &h.Dataset, &h.Target, &h.FailureRate, &avgLatency,
			&maxLatency, &h.TotalFailures, &h.TotalPings, &h.DaysWithData); err != nil {
			return nil, fmt.Errorf("scan heatmap: %w", err)
		}
		if avgLatency.Valid {
			h.AvgLatency = avgLatency.Float64
		}
		if maxLatency.Valid {
			h.MaxLatency = maxLatency.Float64
		}
		heatmapData = append(heatmapData, h)
	}

	return heatmapData, rows.Err()
}

func filterClause(f models.Filter, withTarget bool) (string, []any) {
	var conds []string
	var args []any
	if f.Dataset != "" {
		conds = append(conds, "dataset = ?")
		args = append(args, f.Dataset)
	}
	if withTarget && f.Target != "" {
		conds = append(conds, "target = ?")
		args = append(args, f.Target)
	}
	if f.Interface != "" {
		conds = append(conds, "interface = ?")
		args = append(args, f.Interface)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, formatTime(f.Until))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\n        WHERE " + strings.Join(conds, " AND "), args
}

// orderAndLimit sorts ascending by (ts, id). A limit keeps the newest rows.
func orderAndLimit(query string, limit int, args *[]any) string {
	if limit <= 0 {
		return query + "\n        ORDER BY ts ASC, id ASC"
	}
	*args = append(*args, limit)
	return "SELECT * FROM (" + query + "\n        ORDER BY ts DESC, id DESC LIMIT ?) ORDER BY ts ASC, id ASC"
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

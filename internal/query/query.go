// Package query implements the combined query layer that answers
// customer/operator queries against the union of raw and aggregated
// tables, including exact cross-partition pooled statistics (spec §4.F).
package query

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/latency"
	"github.com/flowindex/latencyctl/internal/zoran"
)

// Filter is the common set of scoping fields accepted by every query
// operation. Zero values mean "unset"; see monitorPredicate and
// serverPredicate for specificity rules.
type Filter struct {
	CustomerID   latency.CustomerID
	HostSchemeID latency.HostSchemeID
	MonitorID    latency.MonitorID
	RegionID     latency.RegionID
	ServerID     latency.ServerID
	StartUnix    int64
	EndUnix      int64
}

// Layer is the QueryLayer: a thin, stateless wrapper over the DB pool that
// builds and runs filtered SQL against latency_seconds/latency_aggregated.
type Layer struct {
	db *dbpool.Manager
}

func New(db *dbpool.Manager) *Layer {
	return &Layer{db: db}
}

// predicate is a WHERE fragment plus its positional placeholder arguments,
// threaded through pgx's $N binding starting at argBase+1.
type predicate struct {
	clause string
	args   []any
}

// monitorPredicate picks the most specific applicable monitor-side filter
// (spec §4.F): an exact monitor id beats a host/scheme scope, which beats a
// customer scope.
func monitorPredicate(f Filter, argBase int) predicate {
	switch {
	case f.MonitorID != 0:
		return predicate{fmt.Sprintf("monitor_id = $%d", argBase+1), []any{uint32(f.MonitorID)}}
	case f.HostSchemeID != 0:
		return predicate{
			fmt.Sprintf("monitor_id IN (SELECT monitor_id FROM monitor WHERE host_scheme_id = $%d)", argBase+1),
			[]any{uint32(f.HostSchemeID)},
		}
	case f.CustomerID != 0:
		return predicate{
			fmt.Sprintf("monitor_id IN (SELECT monitor_id FROM monitor WHERE customer_id = $%d)", argBase+1),
			[]any{uint32(f.CustomerID)},
		}
	default:
		return predicate{}
	}
}

// serverPredicate picks the most specific applicable server-side filter: an
// exact server id beats a region scope.
func serverPredicate(f Filter, argBase int) predicate {
	switch {
	case f.ServerID != 0:
		return predicate{fmt.Sprintf("server_id = $%d", argBase+1), []any{uint16(f.ServerID)}}
	case f.RegionID != 0:
		return predicate{
			fmt.Sprintf("server_id IN (SELECT server_id FROM servers WHERE region_id = $%d)", argBase+1),
			[]any{uint16(f.RegionID)},
		}
	default:
		return predicate{}
	}
}

// buildWhere assembles the full WHERE clause (monitor predicate + server
// predicate + time bounds, in Zoran coordinates) and its argument list.
func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if mp := monitorPredicate(f, len(args)); mp.clause != "" {
		clauses = append(clauses, mp.clause)
		args = append(args, mp.args...)
	}
	if sp := serverPredicate(f, len(args)); sp.clause != "" {
		clauses = append(clauses, sp.clause)
		args = append(args, sp.args...)
	}
	if f.StartUnix != 0 {
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", len(args)+1))
		args = append(args, zoran.ToZoran(f.StartUnix))
	}
	if f.EndUnix != 0 {
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", len(args)+1))
		args = append(args, zoran.ToZoran(f.EndUnix))
	}

	if len(clauses) == 0 {
		return "TRUE", args
	}
	return strings.Join(clauses, " AND "), args
}

// GetEntries is the primary query operation (spec §4.F): it returns every
// matching raw sample and every matching aggregated sample for the given
// filter. SQL failures are logged and yield empty results, not an error the
// caller must handle — callers simply see "no data" (spec §4.F, §7).
func (l *Layer) GetEntries(ctx context.Context, f Filter, threadID string) (raw []latency.Sample, aggregated []latency.AggregatedSample) {
	where, args := buildWhere(f)

	rawRows, err := l.db.Pool().Query(ctx, fmt.Sprintf(`
		SELECT monitor_id, server_id, timestamp, latency
		FROM latency_seconds WHERE %s
		ORDER BY timestamp ASC, monitor_id ASC, server_id ASC`, where), args...)
	if err != nil {
		log.Printf("[query] thread=%s GetEntries raw query failed: %v", threadID, err)
	} else {
		defer rawRows.Close()
		for rawRows.Next() {
			var s latency.Sample
			if err := rawRows.Scan(&s.MonitorID, &s.ServerID, &s.ZoranTS, &s.LatencyMicros); err != nil {
				log.Printf("[query] thread=%s GetEntries raw scan failed: %v", threadID, err)
				break
			}
			raw = append(raw, s)
		}
	}

	aggRows, err := l.db.Pool().Query(ctx, fmt.Sprintf(`
		SELECT monitor_id, server_id, timestamp, latency, start_timestamp, end_timestamp,
		       mean_latency, variance_latency, minimum_latency, maximum_latency, number_samples
		FROM latency_aggregated WHERE %s
		ORDER BY start_timestamp ASC, monitor_id ASC, server_id ASC`, where), args...)
	if err != nil {
		log.Printf("[query] thread=%s GetEntries aggregated query failed: %v", threadID, err)
		return raw, aggregated
	}
	defer aggRows.Close()
	for aggRows.Next() {
		var a latency.AggregatedSample
		if err := aggRows.Scan(&a.MonitorID, &a.ServerID, &a.ZoranTS, &a.LatencyMicros, &a.StartZoranTS, &a.EndZoranTS,
			&a.MeanLatencyMicros, &a.VarianceLatencyMicros, &a.MinLatencyMicros, &a.MaxLatencyMicros, &a.NumberSamples); err != nil {
			log.Printf("[query] thread=%s GetEntries aggregated scan failed: %v", threadID, err)
			break
		}
		aggregated = append(aggregated, a)
	}
	return raw, aggregated
}

// GetStatistics pools an SQL-side aggregate of the raw table with every
// matching aggregated row, using the same pooled-variance formula as the
// Aggregator (spec §4.E, §4.F). Returns an invalid sample (NumberSamples=0)
// if no data matches.
func (l *Layer) GetStatistics(ctx context.Context, f Filter, threadID string) latency.AggregatedSample {
	where, args := buildWhere(f)

	var contributions []latency.Contribution

	var n uint32
	var mean, variance float64
	var min, max *uint32
	row := l.db.Pool().QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(AVG(latency), 0), COALESCE(VAR_POP(latency), 0), MIN(latency), MAX(latency)
		FROM latency_seconds WHERE %s`, where), args...)
	if err := row.Scan(&n, &mean, &variance, &min, &max); err != nil {
		log.Printf("[query] thread=%s GetStatistics raw aggregate failed: %v", threadID, err)
	} else if n > 0 {
		contributions = append(contributions, latency.Contribution{N: n, Mean: mean, Variance: variance, Min: *min, Max: *max})
	}

	aggRows, err := l.db.Pool().Query(ctx, fmt.Sprintf(`
		SELECT number_samples, mean_latency, variance_latency, minimum_latency, maximum_latency
		FROM latency_aggregated WHERE %s`, where), args...)
	if err != nil {
		log.Printf("[query] thread=%s GetStatistics aggregated query failed: %v", threadID, err)
	} else {
		defer aggRows.Close()
		for aggRows.Next() {
			var c latency.Contribution
			if err := aggRows.Scan(&c.N, &c.Mean, &c.Variance, &c.Min, &c.Max); err != nil {
				log.Printf("[query] thread=%s GetStatistics aggregated scan failed: %v", threadID, err)
				break
			}
			contributions = append(contributions, c)
		}
	}

	pooledMean, pooledVariance, pooledMin, pooledMax, pooledN, ok := latency.Pool(contributions)
	if !ok {
		return latency.AggregatedSample{}
	}
	return latency.AggregatedSample{
		MeanLatencyMicros:     pooledMean,
		VarianceLatencyMicros: pooledVariance,
		MinLatencyMicros:      pooledMin,
		MaxLatencyMicros:      pooledMax,
		NumberSamples:         pooledN,
	}
}

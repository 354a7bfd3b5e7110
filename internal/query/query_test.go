package query

import (
	"strings"
	"testing"

	"github.com/flowindex/latencyctl/internal/latency"
)

func TestMonitorPredicateSpecificityOrder(t *testing.T) {
	t.Parallel()

	// monitor_id wins over host_scheme_id and customer_id.
	where, args := buildWhere(Filter{MonitorID: 7, HostSchemeID: 9, CustomerID: 5})
	if !strings.Contains(where, "monitor_id = $1") {
		t.Fatalf("where = %q, want monitor_id predicate first", where)
	}
	if len(args) != 1 || args[0] != uint32(7) {
		t.Fatalf("args = %v, want [7]", args)
	}

	// host_scheme_id wins over customer_id when monitor_id is unset.
	where, _ = buildWhere(Filter{HostSchemeID: 9, CustomerID: 5})
	if !strings.Contains(where, "host_scheme_id = $1") {
		t.Fatalf("where = %q, want host_scheme_id predicate", where)
	}

	// customer_id applies when nothing more specific is set.
	where, _ = buildWhere(Filter{CustomerID: 5})
	if !strings.Contains(where, "customer_id = $1") {
		t.Fatalf("where = %q, want customer_id predicate", where)
	}
}

func TestServerPredicateSpecificityOrder(t *testing.T) {
	t.Parallel()

	where, _ := buildWhere(Filter{ServerID: 3, RegionID: 1})
	if !strings.Contains(where, "server_id = ") || strings.Contains(where, "region_id") {
		t.Fatalf("where = %q, want exact server_id predicate only", where)
	}

	where, _ = buildWhere(Filter{RegionID: 1})
	if !strings.Contains(where, "region_id = ") {
		t.Fatalf("where = %q, want region_id predicate", where)
	}
}

func TestBuildWhereWithNoFilterIsTrue(t *testing.T) {
	t.Parallel()

	where, args := buildWhere(Filter{})
	if where != "TRUE" || len(args) != 0 {
		t.Fatalf("buildWhere(empty) = %q, %v, want TRUE, []", where, args)
	}
}

func TestBuildWhereAddsTimeBoundsInZoranCoordinates(t *testing.T) {
	t.Parallel()

	where, args := buildWhere(Filter{StartUnix: zoranEpochUnix() + 100, EndUnix: zoranEpochUnix() + 200})
	if !strings.Contains(where, "timestamp >= ") || !strings.Contains(where, "timestamp <= ") {
		t.Fatalf("where = %q, want both time bounds", where)
	}
	if args[0] != uint32(100) || args[1] != uint32(200) {
		t.Fatalf("args = %v, want [100, 200] in zoran coordinates", args)
	}
}

func zoranEpochUnix() int64 {
	return 1_609_484_400
}

func TestGetStatisticsPoolingUsesSharedFormula(t *testing.T) {
	t.Parallel()

	contribs := []latency.Contribution{
		{N: 2, Mean: 100, Min: 100, Max: 100},
		{N: 2, Mean: 300, Min: 300, Max: 300},
	}
	mean, variance, _, _, n, ok := latency.Pool(contribs)
	if !ok || mean != 200 || variance != 10_000 || n != 4 {
		t.Fatalf("Pool() = mean=%v var=%v n=%d ok=%v, want 200/10000/4/true", mean, variance, n, ok)
	}
}

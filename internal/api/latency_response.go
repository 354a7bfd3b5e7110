package api

import (
	"github.com/flowindex/latencyctl/internal/latency"
	"github.com/flowindex/latencyctl/internal/zoran"
)

// recentEntry mirrors spec §6.3's "recent" shape: a single raw reading,
// latency expressed in seconds rather than the on-disk microseconds.
type recentEntry struct {
	MonitorID      latency.MonitorID `json:"monitor_id"`
	ServerID       latency.ServerID  `json:"server_id,omitempty"`
	Timestamp      int64             `json:"timestamp"`
	LatencySeconds float64           `json:"latency_seconds"`
}

// aggregatedEntry mirrors spec §6.3's "aggregated" shape: recentEntry plus
// the window's pooled statistics, all in seconds/s².
type aggregatedEntry struct {
	MonitorID      latency.MonitorID `json:"monitor_id"`
	ServerID       latency.ServerID  `json:"server_id,omitempty"`
	Timestamp      int64             `json:"timestamp"`
	LatencySeconds float64           `json:"latency_seconds"`
	Average        float64           `json:"average"`
	Variance       float64           `json:"variance"`
	Minimum        float64           `json:"minimum"`
	Maximum        float64           `json:"maximum"`
	NumberSamples  uint32            `json:"number_samples"`
	StartTimestamp int64             `json:"start_timestamp"`
	EndTimestamp   int64             `json:"end_timestamp"`
}

func microsToSeconds(us uint32) float64 { return float64(us) / 1e6 }

func toRecentEntry(s latency.Sample) recentEntry {
	return recentEntry{
		MonitorID:      s.MonitorID,
		ServerID:       s.ServerID,
		Timestamp:      zoran.ToUnix(s.ZoranTS),
		LatencySeconds: microsToSeconds(s.LatencyMicros),
	}
}

func toAggregatedEntry(a latency.AggregatedSample) aggregatedEntry {
	return aggregatedEntry{
		MonitorID:      a.MonitorID,
		ServerID:       a.ServerID,
		Timestamp:      zoran.ToUnix(a.ZoranTS),
		LatencySeconds: microsToSeconds(a.LatencyMicros),
		Average:        microsToSeconds(uint32(a.MeanLatencyMicros)),
		Variance:       a.VarianceLatencyMicros / 1e12,
		Minimum:        microsToSeconds(a.MinLatencyMicros),
		Maximum:        microsToSeconds(a.MaxLatencyMicros),
		NumberSamples:  a.NumberSamples,
		StartTimestamp: zoran.ToUnix(a.StartZoranTS),
		EndTimestamp:   zoran.ToUnix(a.EndZoranTS),
	}
}

// latencyDataResponse is the full spec §6.3 envelope payload.
type latencyDataResponse struct {
	Recent     []recentEntry     `json:"recent"`
	Aggregated []aggregatedEntry `json:"aggregated"`
}

func buildLatencyResponse(raw []latency.Sample, aggregated []latency.AggregatedSample) latencyDataResponse {
	resp := latencyDataResponse{
		Recent:     make([]recentEntry, 0, len(raw)),
		Aggregated: make([]aggregatedEntry, 0, len(aggregated)),
	}
	for _, s := range raw {
		resp.Recent = append(resp.Recent, toRecentEntry(s))
	}
	for _, a := range aggregated {
		resp.Aggregated = append(resp.Aggregated, toAggregatedEntry(a))
	}
	return resp
}

// statisticsResponse is the single pooled-statistics shape returned by
// latency/statistics: the aggregatedEntry fields without a representative
// raw reading (spec §4.F, §6.3).
type statisticsResponse struct {
	Average       float64 `json:"average"`
	Variance      float64 `json:"variance"`
	Minimum       float64 `json:"minimum"`
	Maximum       float64 `json:"maximum"`
	NumberSamples uint32  `json:"number_samples"`
}

func buildStatisticsResponse(a latency.AggregatedSample) statisticsResponse {
	return statisticsResponse{
		Average:       microsToSeconds(uint32(a.MeanLatencyMicros)),
		Variance:      a.VarianceLatencyMicros / 1e12,
		Minimum:       microsToSeconds(a.MinLatencyMicros),
		Maximum:       microsToSeconds(a.MaxLatencyMicros),
		NumberSamples: a.NumberSamples,
	}
}

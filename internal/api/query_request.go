package api

import (
	"encoding/json"
	"net/http"

	"github.com/flowindex/latencyctl/internal/latency"
	"github.com/flowindex/latencyctl/internal/plot"
	"github.com/flowindex/latencyctl/internal/query"
)

// queryRequest is the common JSON body shape accepted by every operator and
// customer query endpoint (spec §6.2): scoping fields plus the plot-only
// fields, all optional.
type queryRequest struct {
	CustomerID   uint32 `json:"customer_id"`
	MonitorID    uint32 `json:"monitor_id"`
	HostSchemeID uint32 `json:"host_scheme_id"`
	RegionID     uint16 `json:"region_id"`
	ServerID     uint16 `json:"server_id"`
	StartTS      int64  `json:"start_timestamp"`
	EndTS        int64  `json:"end_timestamp"`

	PlotType       string  `json:"plot_type"`
	Title          string  `json:"title"`
	XAxisLabel     string  `json:"x_axis_label"`
	YAxisLabel     string  `json:"y_axis_label"`
	DateFormat     string  `json:"date_format"`
	MinimumLatency float64 `json:"minimum_latency"`
	MaximumLatency float64 `json:"maximum_latency"`
	LogScale       bool    `json:"log_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Format         string  `json:"format"`
}

func decodeQueryRequest(r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return queryRequest{}, false
	}
	return req, true
}

func (q queryRequest) filter() query.Filter {
	return query.Filter{
		CustomerID:   latency.CustomerID(q.CustomerID),
		HostSchemeID: latency.HostSchemeID(q.HostSchemeID),
		MonitorID:    latency.MonitorID(q.MonitorID),
		RegionID:     latency.RegionID(q.RegionID),
		ServerID:     latency.ServerID(q.ServerID),
		StartUnix:    q.StartTS,
		EndUnix:      q.EndTS,
	}
}

func (q queryRequest) format() plot.Format {
	if q.Format == "jpeg" || q.Format == "jpg" {
		return plot.FormatJPEG
	}
	return plot.FormatPNG
}

func plotContentType(f plot.Format) string {
	if f == plot.FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

package api

import (
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/flowindex/latencyctl/internal/latency"
	"github.com/flowindex/latencyctl/internal/plot"
	"github.com/flowindex/latencyctl/internal/zoran"
)

// plotRequestSeq mints the per-request suffix appended to a plot route's
// thread id. plot.Worker's mailboxSet keys one single-slot Mailbox per
// thread id (spec §4.H); two concurrent requests sharing a bare route label
// like "operator-plot" would race on the same Mailbox, each liable to
// receive the other's rendered image or hang forever.
var plotRequestSeq uint64

func newPlotThreadID(route string) string {
	return route + "-" + strconv.FormatUint(atomic.AddUint64(&plotRequestSeq, 1), 10)
}

// handleOperatorGet implements latency/get (spec §6.2, §6.3): the raw +
// aggregated rows matching the request's scoping fields.
func (s *Server) handleOperatorGet(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(r)
	if !ok {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}
	raw, aggregated := s.query.GetEntries(r.Context(), req.filter(), "operator-get")
	writeAPIResponse(w, buildLatencyResponse(raw, aggregated))
}

// handleOperatorStatistics implements latency/statistics: the pooled
// cross-partition summary for the request's scope (spec §4.F, §6.3).
func (s *Server) handleOperatorStatistics(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(r)
	if !ok {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}
	stat := s.query.GetStatistics(r.Context(), req.filter(), "operator-statistics")
	if stat.NumberSamples == 0 {
		writeAPIFailed(w, "no matching data")
		return
	}
	writeAPIResponse(w, buildStatisticsResponse(stat))
}

// handleOperatorPurge implements latency/purge: deletes every row belonging
// to the request's customer_id across every aggregator tier (spec §4.E).
// customer_id is required; a zero value matches nothing and is rejected as
// a malformed request rather than silently deleting everything.
func (s *Server) handleOperatorPurge(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(r)
	if !ok || req.CustomerID == 0 {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}

	ids := map[latency.CustomerID]struct{}{latency.CustomerID(req.CustomerID): {}}
	for name, agg := range s.aggregators {
		if err := agg.DeleteByCustomerID(r.Context(), ids); err != nil {
			logf("operator-purge", "tier %s: %v", name, err)
			writeAPIFailed(w, "purge failed")
			return
		}
	}
	writeAPIResponse(w, map[string]string{"purged": "ok"})
}

// handleOperatorPlot implements latency/plot for the operator route group:
// no customer/server restriction beyond what the request itself specifies.
func (s *Server) handleOperatorPlot(w http.ResponseWriter, r *http.Request) {
	s.servePlot(w, r, newPlotThreadID("operator-plot"))
}

// handleCustomerList implements v1/latency/list: the customer-facing
// equivalent of latency/get, restricted to the caller's own customer_id
// with server_id forced invalid (spec §6.2).
func (s *Server) handleCustomerList(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(r)
	if !ok || req.CustomerID == 0 {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}
	req.ServerID = 0

	raw, aggregated := s.query.GetEntries(r.Context(), req.filter(), "customer-list")
	writeAPIResponse(w, buildLatencyResponse(raw, aggregated))
}

// handleCustomerPlot implements v1/latency/plot, the customer-facing
// equivalent of latency/plot, with the same customer_id/server_id scoping
// rule as handleCustomerList.
func (s *Server) handleCustomerPlot(w http.ResponseWriter, r *http.Request) {
	s.servePlotScoped(w, r, newPlotThreadID("customer-plot"), true)
}

func (s *Server) servePlot(w http.ResponseWriter, r *http.Request, threadID string) {
	s.servePlotScoped(w, r, threadID, false)
}

// servePlotScoped decodes a plot request, renders it on the shared
// plot.Worker, and writes the resulting image. restrictToCustomer forces
// customer_id to be required and server_id to invalid, matching the
// customer-facing route's restriction.
func (s *Server) servePlotScoped(w http.ResponseWriter, r *http.Request, threadID string, restrictToCustomer bool) {
	req, ok := decodeQueryRequest(r)
	if !ok {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}
	if restrictToCustomer {
		if req.CustomerID == 0 {
			writeEnvelopeError(w, http.StatusBadRequest)
			return
		}
		req.ServerID = 0
	}

	filter := req.filter()
	raw, aggregated := s.query.GetEntries(r.Context(), filter, threadID)

	var mb *plot.Mailbox
	switch req.PlotType {
	case "", "history":
		mb = s.plotWorker.RequestHistoryPlot(threadID, buildHistoryRequest(req, raw, aggregated))
	case "histogram":
		mb = s.plotWorker.RequestHistogramPlot(threadID, buildHistogramRequest(req, raw, aggregated))
	default:
		writeAPIFailed(w, "unknown plot_type")
		return
	}
	defer s.plotWorker.Release(threadID)

	img := mb.WaitForImage()
	if img == nil {
		writeAPIFailed(w, "plot render failed")
		return
	}

	w.Header().Set("Content-Type", plotContentType(req.format()))
	w.Write(img)
}

func buildHistoryRequest(req queryRequest, raw []latency.Sample, aggregated []latency.AggregatedSample) plot.HistoryRequest {
	points := make([]plot.HistoryPoint, 0, len(raw)+len(aggregated))
	for _, s := range raw {
		points = append(points, plot.HistoryPoint{
			Timestamp: time.Unix(zoran.ToUnix(s.ZoranTS), 0),
			Value:     microsToSeconds(s.LatencyMicros),
		})
	}
	for _, a := range aggregated {
		points = append(points, plot.HistoryPoint{
			Timestamp: time.Unix(zoran.ToUnix(a.ZoranTS), 0),
			Value:     microsToSeconds(a.LatencyMicros),
			HasStats:  true,
			Mean:      microsToSeconds(uint32(a.MeanLatencyMicros)),
			StdDev:    microsToSeconds(uint32(math.Sqrt(a.VarianceLatencyMicros))),
			Min:       microsToSeconds(a.MinLatencyMicros),
			Max:       microsToSeconds(a.MaxLatencyMicros),
		})
	}

	maxLatency := -1.0
	minLatency := -1.0
	if req.MaximumLatency > 0 {
		maxLatency = req.MaximumLatency
	}
	if req.MinimumLatency > 0 {
		minLatency = req.MinimumLatency
	}

	return plot.HistoryRequest{
		Title:          req.Title,
		XAxisTitle:     req.XAxisLabel,
		YAxisTitle:     req.YAxisLabel,
		DateFormat:     req.DateFormat,
		MaximumLatency: maxLatency,
		MinimumLatency: minLatency,
		LogScale:       req.LogScale,
		Width:          req.Width,
		Height:         req.Height,
		Format:         req.format(),
		Points:         points,
	}
}

func buildHistogramRequest(req queryRequest, raw []latency.Sample, aggregated []latency.AggregatedSample) plot.HistogramRequest {
	values := make([]float64, 0, len(raw)+len(aggregated))
	for _, s := range raw {
		values = append(values, microsToSeconds(s.LatencyMicros))
	}
	for _, a := range aggregated {
		values = append(values, microsToSeconds(uint32(a.MeanLatencyMicros)))
	}

	maxLatency := -1.0
	minLatency := -1.0
	if req.MaximumLatency > 0 {
		maxLatency = req.MaximumLatency
	}
	if req.MinimumLatency > 0 {
		minLatency = req.MinimumLatency
	}

	return plot.HistogramRequest{
		Title:          req.Title,
		XAxisTitle:     req.XAxisLabel,
		YAxisTitle:     req.YAxisLabel,
		MaximumLatency: maxLatency,
		MinimumLatency: minLatency,
		Width:          req.Width,
		Height:         req.Height,
		Format:         req.format(),
		ValuesSeconds:  values,
	}
}


package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowindex/latencyctl/internal/aggregator"
	"github.com/flowindex/latencyctl/internal/catalog"
	"github.com/flowindex/latencyctl/internal/ingest"
	"github.com/flowindex/latencyctl/internal/plot"
	"github.com/flowindex/latencyctl/internal/query"
)

// Server holds every component the HTTP layer fronts. It owns no state of
// its own beyond the live-tail hubs.
type Server struct {
	router    *ingest.Router
	query     *query.Layer
	servers   *catalog.Servers
	monitors  *catalog.Monitors
	customers *catalog.Customers

	// aggregators is keyed by tier name so /latency/purge can reach every
	// tier's deleteByCustomerId in one operator call.
	aggregators map[string]*aggregator.Aggregator

	plotWorker *plot.Worker

	tail *tailHubs
}

func NewServer(
	router *ingest.Router,
	queryLayer *query.Layer,
	servers *catalog.Servers,
	monitors *catalog.Monitors,
	customers *catalog.Customers,
	aggregators map[string]*aggregator.Aggregator,
	plotWorker *plot.Worker,
) *Server {
	return &Server{
		router:      router,
		query:       queryLayer,
		servers:     servers,
		monitors:    monitors,
		customers:   customers,
		aggregators: aggregators,
		plotWorker:  plotWorker,
		tail:        newTailHubs(),
	}
}

// Routes builds the mux.Router the teacher's main.go hands to http.Server.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/latency/record/{region_id}", s.handleRecord).Methods("POST")
	r.HandleFunc("/latency/stream/{region_id}", s.handleLatencyStream).Methods("GET")

	operator := r.PathPrefix("/latency").Subrouter()
	operator.Use(operatorAuthMiddleware)
	operator.HandleFunc("/get", s.handleOperatorGet).Methods("POST")
	operator.HandleFunc("/statistics", s.handleOperatorStatistics).Methods("POST")
	operator.HandleFunc("/purge", s.handleOperatorPurge).Methods("POST")
	operator.HandleFunc("/plot", s.handleOperatorPlot).Methods("POST")

	r.HandleFunc("/v1/latency/list", s.handleCustomerList).Methods("POST")
	r.HandleFunc("/v1/latency/plot", s.handleCustomerPlot).Methods("POST")

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func logf(threadID, format string, args ...interface{}) {
	log.Printf("[api:%s] "+format, append([]interface{}{threadID}, args...)...)
}

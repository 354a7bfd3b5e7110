package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowindex/latencyctl/internal/latency"
)

// tailHub is a per-region broadcast hub, one goroutine fanning freshly
// ingested samples out to every connected live-tail client for that region.
// Adapted from the teacher's websocket Hub/Client pattern.
type tailHub struct {
	broadcast  chan []byte
	register   chan *tailClient
	unregister chan *tailClient

	mu      sync.Mutex
	clients map[*tailClient]bool
}

type tailClient struct {
	hub  *tailHub
	conn *websocket.Conn
	send chan []byte
}

func newTailHub() *tailHub {
	h := &tailHub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *tailClient),
		unregister: make(chan *tailClient),
		clients:    make(map[*tailClient]bool),
	}
	go h.run()
	return h
}

func (h *tailHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// tailHubs lazily instantiates one tailHub per region, mirroring
// ingest.Router's lazy-map pattern.
type tailHubs struct {
	mu   sync.Mutex
	hubs map[latency.RegionID]*tailHub
}

func newTailHubs() *tailHubs {
	return &tailHubs{hubs: make(map[latency.RegionID]*tailHub)}
}

func (t *tailHubs) hubFor(regionID latency.RegionID) *tailHub {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.hubs[regionID]
	if !ok {
		h = newTailHub()
		t.hubs[regionID] = h
	}
	return h
}

type tailMessage struct {
	MonitorID      latency.MonitorID `json:"monitor_id"`
	ServerID       latency.ServerID  `json:"server_id"`
	Timestamp      uint32            `json:"timestamp"`
	LatencySeconds float64           `json:"latency_seconds"`
}

// publish fans newly-ingested samples out to any connected tail clients for
// regionID. It is a best-effort side channel: a region with no subscribers
// pays only the cost of the map lookup.
func (t *tailHubs) publish(regionID latency.RegionID, samples []latency.Sample) {
	t.mu.Lock()
	h, ok := t.hubs[regionID]
	t.mu.Unlock()
	if !ok {
		return
	}

	for _, s := range samples {
		msg := tailMessage{
			MonitorID:      s.MonitorID,
			ServerID:       s.ServerID,
			Timestamp:      s.ZoranTS,
			LatencySeconds: float64(s.LatencyMicros) / 1e6,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case h.broadcast <- data:
		default:
		}
	}
}

var tailUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleLatencyStream upgrades to a websocket and streams every sample
// ingested for {region_id} from then on, until the client disconnects.
func (s *Server) handleLatencyStream(w http.ResponseWriter, r *http.Request) {
	regionID, err := parseRegionID(r)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}

	conn, err := tailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api:stream] upgrade error: %v", err)
		return
	}

	hub := s.tail.hubFor(regionID)
	client := &tailClient{hub: hub, conn: conn, send: make(chan []byte, 256)}
	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
			conn.Close()
		}()
		for {
			msg, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			w.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

package api

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flowindex/latencyctl/internal/latency"
)

const (
	recordHeaderSize = 0x40
	recordEntrySize  = 12
)

// handleRecord implements the worker upload endpoint (spec §6.1). Payload
// layout: a 64-byte header identifying the reporting server and its current
// status/load, followed by 12-byte (monitor_id, zoran_ts, latency_us)
// entries. HMAC authentication is enforced upstream by the host framework,
// not here.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	regionID, err := parseRegionID(r)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}

	if len(body) < recordHeaderSize || (len(body)-recordHeaderSize)%recordEntrySize != 0 {
		writeEnvelopeError(w, http.StatusBadRequest)
		return
	}

	threadID := "record-" + strconv.Itoa(int(regionID))
	identifier := workerIdentifier(body)

	srv := s.servers.ByIdentifier(r.Context(), identifier, threadID)
	if srv == latency.InvalidServer {
		logf(threadID, "unknown worker identifier %q, dropping %d bytes", identifier, len(body))
		w.WriteHeader(http.StatusOK)
		return
	}

	status := latency.ServerStatus(body[0x1C])
	monitorsPerSecond := fixed24_8(binary.LittleEndian.Uint32(body[0x14:0x18]))
	cpuLoading := fixed4_12(binary.LittleEndian.Uint16(body[0x18:0x1A]))
	memoryLoading := fixed0_16(binary.LittleEndian.Uint16(body[0x1A:0x1C]))
	s.servers.UpdateStatus(r.Context(), srv.ServerID, status, monitorsPerSecond, cpuLoading, memoryLoading, threadID)

	entries := body[recordHeaderSize:]
	samples := make([]latency.Sample, 0, len(entries)/recordEntrySize)
	for off := 0; off < len(entries); off += recordEntrySize {
		monitorID := latency.MonitorID(binary.LittleEndian.Uint32(entries[off : off+4]))
		zoranTS := binary.LittleEndian.Uint32(entries[off+4 : off+8])
		latencyUs := binary.LittleEndian.Uint32(entries[off+8 : off+12])
		samples = append(samples, latency.Sample{
			ShortSample: latency.ShortSample{ZoranTS: zoranTS, LatencyMicros: latencyUs},
			MonitorID:   monitorID,
			ServerID:    srv.ServerID,
		})
	}

	s.router.AddEntries(regionID, samples)
	s.tail.publish(regionID, samples)

	w.WriteHeader(http.StatusOK)
}

func parseRegionID(r *http.Request) (latency.RegionID, error) {
	raw := mux.Vars(r)["region_id"]
	n, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid region_id %q: %w", raw, err)
	}
	return latency.RegionID(n), nil
}

// workerIdentifier builds the secondary-key string servers.ByIdentifier
// looks up: the worker's IPv6 address if non-zero, otherwise its IPv4
// address (header bytes 0x00-0x13, spec §6.1).
func workerIdentifier(body []byte) string {
	ipv6 := net.IP(body[0x04:0x14])
	if !ipv6.IsUnspecified() {
		return ipv6.String()
	}
	ipv4 := net.IPv4(body[0x00], body[0x01], body[0x02], body[0x03])
	return ipv4.String()
}

func fixed24_8(raw uint32) float32  { return float32(raw) / 256.0 }
func fixed4_12(raw uint16) float32  { return float32(raw) / 4096.0 }
func fixed0_16(raw uint16) float32  { return float32(raw) / 65536.0 }

// Package api wires the binary worker-upload endpoint and the JSON
// operator/customer query API on top of gorilla/mux (spec §6).
package api

import (
	"encoding/json"
	"net/http"
)

// apiEnvelope matches the teacher's response shape: data on success, a
// human-readable error on failure. Query-API responses additionally set
// Status per spec §6.2 ("status == OK" on success).
type apiEnvelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiEnvelope{Status: "OK", Data: data})
}

// writeAPIFailed replies with HTTP 200 and a descriptive status string, the
// "data validity" error class of spec §7: the envelope itself was fine, the
// request just couldn't be satisfied.
func writeAPIFailed(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiEnvelope{Status: "failed, " + reason})
}

// writeEnvelopeError replies HTTP 400 with no body: the request envelope
// itself was malformed JSON or the wrong shape (spec §7's "Envelope" class).
func writeEnvelopeError(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// Package wire defines the JSON envelope every toyraft HTTP handler writes:
// {"data": ...} on success, {"error": {"code": int, "message": string}} on
// failure.
package wire

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error is the body of an error envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

type dataEnvelope struct {
	Data interface{} `json:"data"`
}

// WriteData writes a 200 (or the given status) success envelope.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// WriteError writes an error envelope with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{Code: status, Message: message}})
}

// NotFound writes a 404 envelope.
func NotFound(w http.ResponseWriter, message string) { WriteError(w, http.StatusNotFound, message) }

// BadRequest writes a 400 envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Internal writes a 500 envelope with a generic message; the real error is
// only logged, never sent to the client.
func Internal(w http.ResponseWriter, cause error) {
	log.Error().Err(cause).Msg("internal error")
	WriteError(w, http.StatusInternalServerError, "internal error")
}

// Unavailable writes a 503 envelope, optionally carrying a Leader-Endpoint
// hint header per the non-leader write rejection contract.
func Unavailable(w http.ResponseWriter, message string, leaderEndpoint string) {
	if leaderEndpoint != "" {
		w.Header().Set("Leader-Endpoint", leaderEndpoint)
	}
	WriteError(w, http.StatusServiceUnavailable, message)
}

// Gone writes a 410 envelope, used for the retired classical replication
// write path.
func Gone(w http.ResponseWriter, message string) { WriteError(w, http.StatusGone, message) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

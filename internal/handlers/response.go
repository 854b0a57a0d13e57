package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/boothill-gm/pkg/chat"
)

// maxBodyBytes bounds request bodies; narrative text is the largest field.
const maxBodyBytes = 4 * chat.MaxMessageLength

type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error encoding response", "error", err)
	}
}

// writeError writes an ErrorResponse. Server errors never echo the cause.
func writeError(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	if status >= http.StatusInternalServerError && message == "" {
		message = "Internal server error"
	}
	writeJSON(w, log, status, ErrorResponse{Error: message})
}

// decodeJSON reads a JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

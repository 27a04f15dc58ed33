package server

import (
	"encoding/json"
	"net/http"

	"anima/internal/logging"
)

// writeJSON renders v with the given status. Encoding failures are
// logged; the status line has already gone out by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Server().Warnw("response encode failed", "error", err)
	}
}

// writeError renders the uniform failure body {"error": "..."}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON renders v as the entire response body. An encoding failure
// surfaces after the status line is committed, so logging is all that
// is left to do.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response body", slog.String("error", err.Error()))
	}
}

// errResponse is the body of every non-2xx response.
type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

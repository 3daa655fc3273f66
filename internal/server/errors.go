package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavel-fokin/files-registry/internal/files"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError maps an error to its HTTP status and writes it as {"error": ...}.
// Server-side failures are logged with the request id; in production their
// message is replaced with a generic one.
func writeError(w http.ResponseWriter, r *http.Request, cfg *Config, err error) {
	requestID := middleware.GetReqID(r.Context())

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request entity too large"})
	case errors.Is(err, files.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, files.ErrInvalidParameter), errors.Is(err, files.ErrMalformedPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, files.ErrDuplicateID):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		slog.Error("Request failed",
			"error", err,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		msg := err.Error()
		if cfg.Env == envProduction {
			msg = "Internal server error"
			if errors.Is(err, files.ErrStorage) {
				msg = "Storage error"
			}
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg, RequestID: requestID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

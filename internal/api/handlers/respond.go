package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/reconcilerd/reconcilerd/internal/api/dto"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with the given status code
func writeError(w http.ResponseWriter, status int, err dto.APIError) {
	writeJSON(w, status, err)
}

// writeServiceError translates a service error into an HTTP response.
// Errors that map to 500 are logged with their cause; client errors
// are not.
func writeServiceError(w http.ResponseWriter, log logger.Logger, err error) {
	status, apiErr := dto.FromError(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, apiErr)
}

// decodeBody decodes a JSON request body into dst
func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

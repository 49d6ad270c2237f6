package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reconcilerd/reconcilerd/internal/models"
)

// ParseIntParam reads an integer query parameter, falling back to the
// default on absence or parse failure.
func ParseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// ParseBoolParam reads a boolean query parameter, falling back to the
// default on absence or parse failure.
func ParseBoolParam(r *http.Request, name string, fallback bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

// ParseFloatParam reads a float query parameter, falling back to the
// default on absence or parse failure.
func ParseFloatParam(r *http.Request, name string, fallback float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

// ParseDateParam reads a YYYY-MM-DD query parameter, returning the
// zero time on absence or parse failure.
func ParseDateParam(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	value, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}
	return value
}

// sessionStatusFromParam normalizes a status filter value. Unknown
// values come back as-is and match nothing.
func sessionStatusFromParam(raw string) models.SessionStatus {
	return models.SessionStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

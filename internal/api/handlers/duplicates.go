package handlers

import (
	"net/http"

	"github.com/reconcilerd/reconcilerd/internal/api/dto"
	"github.com/reconcilerd/reconcilerd/internal/api/middleware"
	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// DuplicatesHandler handles duplicate-detection HTTP requests
type DuplicatesHandler struct {
	detector *duplicates.Detector
	log      logger.Logger
}

// NewDuplicatesHandler creates a new duplicates handler
func NewDuplicatesHandler(detector *duplicates.Detector) *DuplicatesHandler {
	return &DuplicatesHandler{
		detector: detector,
		log:      logger.WithComponent("api_duplicates"),
	}
}

// Scan handles GET /api/duplicates
func (h *DuplicatesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	req := dto.DuplicateScanRequest{
		AmountTolerance: r.URL.Query().Get("amount_tolerance"),
	}
	if raw := r.URL.Query().Get("date_tolerance_days"); raw != "" {
		days := ParseIntParam(r, "date_tolerance_days", 0)
		req.DateToleranceDays = &days
	}
	if raw := r.URL.Query().Get("same_account_only"); raw != "" {
		same := ParseBoolParam(r, "same_account_only", false)
		req.SameAccountOnly = &same
	}
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		confidence := ParseFloatParam(r, "min_confidence", 0)
		req.MinConfidence = &confidence
	}
	if raw := r.URL.Query().Get("include_reviewed"); raw != "" {
		include := ParseBoolParam(r, "include_reviewed", false)
		req.IncludeReviewed = &include
	}

	params, err := req.Params()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	result, err := h.detector.FindDuplicates(r.Context(), middleware.UserID(r.Context()), params)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToDuplicateScanResponse(result))
}

// Dismiss handles POST /api/duplicates/dismiss
func (h *DuplicatesHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req dto.DismissRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	if err := h.detector.Dismiss(r.Context(), middleware.UserID(r.Context()), req.TransactionIDs); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reconcilerd/reconcilerd/internal/api/dto"
	"github.com/reconcilerd/reconcilerd/internal/api/middleware"
	"github.com/reconcilerd/reconcilerd/internal/session"
	"github.com/reconcilerd/reconcilerd/internal/store"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// ReconciliationsHandler handles reconciliation session HTTP requests
type ReconciliationsHandler struct {
	sessions *session.Service
	log      logger.Logger
}

// NewReconciliationsHandler creates a new reconciliations handler
func NewReconciliationsHandler(sessions *session.Service) *ReconciliationsHandler {
	return &ReconciliationsHandler{
		sessions: sessions,
		log:      logger.WithComponent("api_reconciliations"),
	}
}

// Start handles POST /api/reconciliations
func (h *ReconciliationsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartReconciliationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	endDate, err := req.EndDate()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	endBalance, err := req.EndBalance()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	created, err := h.sessions.Start(r.Context(), middleware.UserID(r.Context()), req.AccountID, endDate, endBalance)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToSessionResponse(created))
}

// List handles GET /api/reconciliations
func (h *ReconciliationsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		AccountID: r.URL.Query().Get("account_id"),
		From:      ParseDateParam(r, "from"),
		To:        ParseDateParam(r, "to"),
		Limit:     ParseIntParam(r, "limit", 50),
		Offset:    ParseIntParam(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = sessionStatusFromParam(status)
	}

	sessions, err := h.sessions.List(r.Context(), middleware.UserID(r.Context()), filter)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	response := dto.SessionListResponse{Sessions: make([]dto.SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, dto.ToSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, response)
}

// Get handles GET /api/reconciliations/{id}
func (h *ReconciliationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	s, items, err := h.sessions.Get(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToSessionDetailResponse(s, items))
}

// Import handles POST /api/reconciliations/{id}/import
func (h *ReconciliationsHandler) Import(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req dto.ImportStatementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	lines, err := req.BankLines()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	params, err := req.MatchParams()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	result, err := h.sessions.ImportStatement(r.Context(), middleware.UserID(r.Context()), sessionID, lines, params)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToMatchingResultResponse(result))
}

// Match handles POST /api/reconciliations/{id}/match
func (h *ReconciliationsHandler) Match(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req dto.ManualMatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	item, err := h.sessions.ManualMatch(r.Context(), middleware.UserID(r.Context()), sessionID, req.ItemID, req.TransactionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToItemResponse(item))
}

// Unmatch handles POST /api/reconciliations/{id}/unmatch
func (h *ReconciliationsHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req dto.UnmatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	if err := h.sessions.Unmatch(r.Context(), middleware.UserID(r.Context()), sessionID, req.ItemID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddAdjustment handles POST /api/reconciliations/{id}/adjustments
func (h *ReconciliationsHandler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req dto.AdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	amount, err := req.ParsedAmount()
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	item, err := h.sessions.AddAdjustment(r.Context(), middleware.UserID(r.Context()), sessionID, amount, req.Description)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToItemResponse(item))
}

// Finalize handles POST /api/reconciliations/{id}/finalize
func (h *ReconciliationsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	req := dto.FinalizeRequest{}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
			return
		}
	}

	finalized, err := h.sessions.Finalize(r.Context(), middleware.UserID(r.Context()), sessionID, req.Force)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToSessionResponse(finalized))
}

// Cancel handles POST /api/reconciliations/{id}/cancel
func (h *ReconciliationsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.sessions.Cancel(r.Context(), middleware.UserID(r.Context()), sessionID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AuditTrail handles GET /api/reconciliations/{id}/audit
func (h *ReconciliationsHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	entries, err := h.sessions.AuditTrail(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	response := dto.AuditTrailResponse{Entries: make([]dto.AuditEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, dto.ToAuditEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, response)
}

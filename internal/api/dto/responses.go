package dto

import (
	"time"

	"github.com/reconcilerd/reconcilerd/internal/auditjson"
	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/internal/reconciler"
)

// SessionResponse is the API representation of a reconciliation session
type SessionResponse struct {
	ID                  string  `json:"id"`
	AccountID           string  `json:"account_id"`
	StatementEndDate    string  `json:"statement_end_date"`
	StatementEndBalance string  `json:"statement_end_balance"`
	CalculatedBalance   string  `json:"calculated_balance"`
	BalanceDifference   string  `json:"balance_difference"`
	Balanced            bool    `json:"balanced"`
	Status              string  `json:"status"`
	MatchedPercentage   float64 `json:"matched_percentage"`
	CreatedAt           string  `json:"created_at"`
	CompletedAt         string  `json:"completed_at,omitempty"`
}

// ToSessionResponse converts a session model to an API response
func ToSessionResponse(session *models.ReconciliationSession) SessionResponse {
	response := SessionResponse{
		ID:                  session.ID,
		AccountID:           session.AccountID,
		StatementEndDate:    session.StatementEndDate.Format(dateLayout),
		StatementEndBalance: session.StatementEndBalance.String(),
		CalculatedBalance:   session.CalculatedBalance.String(),
		BalanceDifference:   session.BalanceDifference().String(),
		Balanced:            session.IsBalanced(),
		Status:              session.Status.String(),
		MatchedPercentage:   session.MatchedPercentage,
		CreatedAt:           session.CreatedAt.Format(time.RFC3339),
	}
	if session.CompletedAt != nil {
		response.CompletedAt = session.CompletedAt.Format(time.RFC3339)
	}
	return response
}

// BankLineResponse is the API representation of one statement line
type BankLineResponse struct {
	Reference      string `json:"reference,omitempty"`
	Amount         string `json:"amount"`
	Date           string `json:"date"`
	Description    string `json:"description,omitempty"`
	RunningBalance string `json:"running_balance,omitempty"`
	RowIndex       int    `json:"row_index"`
}

func toBankLineResponse(line *models.BankTransactionLine) *BankLineResponse {
	if line == nil {
		return nil
	}
	response := &BankLineResponse{
		Reference:   line.Reference,
		Amount:      line.Amount.String(),
		Date:        line.Date.Format(dateLayout),
		Description: line.Description,
		RowIndex:    line.RowIndex,
	}
	if line.RunningBalance != nil {
		response.RunningBalance = line.RunningBalance.String()
	}
	return response
}

// ItemResponse is the API representation of a reconciliation item
type ItemResponse struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	Type          string            `json:"type"`
	BankLine      *BankLineResponse `json:"bank_line,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Method        string            `json:"method,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	Amount        string            `json:"amount"`
	Description   string            `json:"description,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

// ToItemResponse converts an item model to an API response
func ToItemResponse(item *models.ReconciliationItem) ItemResponse {
	return ItemResponse{
		ID:            item.ID,
		SessionID:     item.SessionID,
		Type:          item.Type.String(),
		BankLine:      toBankLineResponse(item.BankLine),
		TransactionID: item.TransactionID,
		Method:        item.Method.String(),
		Confidence:    item.Confidence,
		Amount:        item.Amount.String(),
		Description:   item.Description,
		CreatedAt:     item.CreatedAt.Format(time.RFC3339),
	}
}

// SessionDetailResponse is a session together with its items
type SessionDetailResponse struct {
	Session SessionResponse `json:"session"`
	Items   []ItemResponse  `json:"items"`
}

// ToSessionDetailResponse converts a session and its items
func ToSessionDetailResponse(session *models.ReconciliationSession, items []*models.ReconciliationItem) SessionDetailResponse {
	response := SessionDetailResponse{
		Session: ToSessionResponse(session),
		Items:   make([]ItemResponse, 0, len(items)),
	}
	for _, item := range items {
		response.Items = append(response.Items, ToItemResponse(item))
	}
	return response
}

// SessionListResponse is the body of GET /api/reconciliations
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// TransactionResponse is the API representation of an internal transaction
type TransactionResponse struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	ExternalID  string `json:"external_id,omitempty"`
}

func toTransactionResponse(transaction *models.InternalTransaction) TransactionResponse {
	return TransactionResponse{
		ID:          transaction.ID,
		AccountID:   transaction.AccountID,
		Amount:      transaction.Amount.String(),
		Date:        transaction.Date.Format(dateLayout),
		Description: transaction.Description,
		Status:      transaction.Status.String(),
		ExternalID:  transaction.ExternalID,
	}
}

// MatchedPairResponse is one automatic match from an import run
type MatchedPairResponse struct {
	BankLine    *BankLineResponse   `json:"bank_line"`
	Transaction TransactionResponse `json:"transaction"`
	Method      string              `json:"method"`
	Confidence  float64             `json:"confidence"`
}

// MatchingResultResponse is the body of POST /api/reconciliations/{id}/import
type MatchingResultResponse struct {
	Matches                []MatchedPairResponse `json:"matches"`
	UnmatchedBank          []*BankLineResponse   `json:"unmatched_bank"`
	UnmatchedInternal      []TransactionResponse `json:"unmatched_internal"`
	OverallMatchPercentage float64               `json:"overall_match_percentage"`
}

// ToMatchingResultResponse converts a matching result to an API response
func ToMatchingResultResponse(result *reconciler.MatchingResult) MatchingResultResponse {
	response := MatchingResultResponse{
		Matches:                make([]MatchedPairResponse, 0, len(result.Matches)),
		UnmatchedBank:          make([]*BankLineResponse, 0, len(result.UnmatchedBank)),
		UnmatchedInternal:      make([]TransactionResponse, 0, len(result.UnmatchedInternal)),
		OverallMatchPercentage: result.OverallMatchPercentage,
	}
	for _, match := range result.Matches {
		response.Matches = append(response.Matches, MatchedPairResponse{
			BankLine:    toBankLineResponse(match.BankLine),
			Transaction: toTransactionResponse(match.Transaction),
			Method:      match.Method.String(),
			Confidence:  match.Confidence,
		})
	}
	for _, line := range result.UnmatchedBank {
		response.UnmatchedBank = append(response.UnmatchedBank, toBankLineResponse(line))
	}
	for _, transaction := range result.UnmatchedInternal {
		response.UnmatchedInternal = append(response.UnmatchedInternal, toTransactionResponse(transaction))
	}
	return response
}

// AuditEntryResponse is one audit trail entry
type AuditEntryResponse struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Action    string                 `json:"action"`
	UserID    string                 `json:"user_id"`
	Timestamp string                 `json:"timestamp"`
	OldValues map[string]interface{} `json:"old_values,omitempty"`
	NewValues map[string]interface{} `json:"new_values,omitempty"`
}

// ToAuditEntryResponse converts an audit entry to an API response.
// Value snapshots are decoded from their stored JSON; snapshots that
// fail to decode come back as null rather than failing the request.
func ToAuditEntryResponse(entry *models.AuditLogEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        entry.ID,
		SessionID: entry.SessionID,
		Action:    entry.Action.String(),
		UserID:    entry.UserID,
		Timestamp: entry.Timestamp.Format(time.RFC3339),
		OldValues: auditjson.Unmarshal(entry.OldValues),
		NewValues: auditjson.Unmarshal(entry.NewValues),
	}
}

// AuditTrailResponse is the body of GET /api/reconciliations/{id}/audit
type AuditTrailResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// DuplicateGroupResponse is one detected duplicate cluster
type DuplicateGroupResponse struct {
	ID             string   `json:"id"`
	TransactionIDs []string `json:"transaction_ids"`
	MaxConfidence  float64  `json:"max_confidence"`
	Description    string   `json:"description"`
	TotalAmount    string   `json:"total_amount"`
	EarliestDate   string   `json:"earliest_date"`
	LatestDate     string   `json:"latest_date"`
}

// DuplicateScanResponse is the body of GET /api/duplicates
type DuplicateScanResponse struct {
	Groups        []DuplicateGroupResponse `json:"groups"`
	ScannedCount  int                      `json:"scanned_count"`
	ExcludedCount int                      `json:"excluded_count"`
}

// ToDuplicateScanResponse converts a detection result to an API response
func ToDuplicateScanResponse(result *duplicates.Result) DuplicateScanResponse {
	response := DuplicateScanResponse{
		Groups:        make([]DuplicateGroupResponse, 0, len(result.Groups)),
		ScannedCount:  result.ScannedCount,
		ExcludedCount: result.ExcludedCount,
	}
	for _, group := range result.Groups {
		response.Groups = append(response.Groups, DuplicateGroupResponse{
			ID:             group.ID,
			TransactionIDs: group.TransactionIDs,
			MaxConfidence:  group.MaxConfidence,
			Description:    group.Description,
			TotalAmount:    group.TotalAmount.String(),
			EarliestDate:   group.EarliestDate.Format(dateLayout),
			LatestDate:     group.LatestDate.Format(dateLayout),
		})
	}
	return response
}

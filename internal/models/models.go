// Package models defines the domain entities for reconciliation matching:
// imported bank statement lines, internally recorded transactions,
// reconciliation sessions with their items and audit trail, and the
// ephemeral duplicate groups produced by duplicate detection.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEpsilon is the threshold under which a session's balance
// difference is considered zero.
var BalanceEpsilon = decimal.NewFromFloat(0.01)

// TransactionStatus represents the reconciliation status of an internal transaction
type TransactionStatus string

const (
	// StatusUnreconciled marks a transaction that has never been matched
	StatusUnreconciled TransactionStatus = "UNRECONCILED"
	// StatusCleared marks a transaction confirmed against the bank but not finalized
	StatusCleared TransactionStatus = "CLEARED"
	// StatusReconciled marks a transaction locked in by a completed reconciliation
	StatusReconciled TransactionStatus = "RECONCILED"
)

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid checks if the transaction status is valid
func (s TransactionStatus) IsValid() bool {
	return s == StatusUnreconciled || s == StatusCleared || s == StatusReconciled
}

// InternalTransaction is a transaction already recorded in the system
// prior to reconciliation. It is owned by its account and is mutated
// only through status transitions on match and finalize.
type InternalTransaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Date        time.Time         `json:"date"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	ExternalID  string            `json:"external_id,omitempty"`
}

// Validate performs basic validation on the InternalTransaction
func (t *InternalTransaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.AccountID) == "" {
		return fmt.Errorf("transaction account ID cannot be empty")
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}

	return nil
}

// String returns a string representation of the InternalTransaction
func (t *InternalTransaction) String() string {
	return fmt.Sprintf("InternalTransaction{ID: %s, Account: %s, Amount: %s, Date: %s, Status: %s}",
		t.ID, t.AccountID, t.Amount.String(), t.Date.Format("2006-01-02"), t.Status)
}

// BankTransactionLine is one row from an imported bank statement.
// Lines are immutable once imported and are identified by the
// provider-supplied reference, falling back to the row index.
type BankTransactionLine struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`

	// RunningBalance is the balance reported by the bank after this
	// line, when the statement format provides one.
	RunningBalance *decimal.Decimal `json:"running_balance,omitempty"`

	// RowIndex is the zero-based position of the line within the
	// statement, used as the identity fallback for providers that do
	// not supply references.
	RowIndex int `json:"row_index"`
}

// Key returns the identity of the line within its statement
func (l *BankTransactionLine) Key() string {
	if strings.TrimSpace(l.Reference) != "" {
		return l.Reference
	}
	return fmt.Sprintf("row-%d", l.RowIndex)
}

// Validate performs basic validation on the BankTransactionLine
func (l *BankTransactionLine) Validate() error {
	if l.Date.IsZero() {
		return fmt.Errorf("bank line date cannot be zero")
	}

	if strings.TrimSpace(l.Reference) == "" && l.RowIndex < 0 {
		return fmt.Errorf("bank line must carry a reference or a non-negative row index")
	}

	return nil
}

// String returns a string representation of the BankTransactionLine
func (l *BankTransactionLine) String() string {
	return fmt.Sprintf("BankTransactionLine{Ref: %s, Amount: %s, Date: %s}",
		l.Key(), l.Amount.String(), l.Date.Format("2006-01-02"))
}

// Account carries the reconciliation metadata the engine maintains on
// the owning account. Balance bookkeeping beyond these fields belongs
// to the surrounding application.
type Account struct {
	ID                    string           `json:"id"`
	UserID                string           `json:"user_id"`
	Name                  string           `json:"name"`
	LastReconciledDate    *time.Time       `json:"last_reconciled_date,omitempty"`
	LastReconciledBalance *decimal.Decimal `json:"last_reconciled_balance,omitempty"`
}

// SessionStatus represents the lifecycle state of a reconciliation session
type SessionStatus string

const (
	// SessionInProgress is the only state accepting matching and finalization
	SessionInProgress SessionStatus = "IN_PROGRESS"
	// SessionCompleted is terminal; reached only via finalize
	SessionCompleted SessionStatus = "COMPLETED"
	// SessionCancelled is terminal; no balance or transaction side effects
	SessionCancelled SessionStatus = "CANCELLED"
)

// String returns the string representation of SessionStatus
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid checks if the session status is valid
func (s SessionStatus) IsValid() bool {
	return s == SessionInProgress || s == SessionCompleted || s == SessionCancelled
}

// IsTerminal reports whether no further transitions are allowed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// ReconciliationSession is the aggregate root of one reconciliation
// run against an account's bank statement. Once Completed it is never
// mutated again except by audit-log append.
type ReconciliationSession struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	UserID              string          `json:"user_id"`
	StatementEndDate    time.Time       `json:"statement_end_date"`
	StatementEndBalance decimal.Decimal `json:"statement_end_balance"`
	CalculatedBalance   decimal.Decimal `json:"calculated_balance"`
	Status              SessionStatus   `json:"status"`
	MatchedPercentage   float64         `json:"matched_percentage"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// BalanceDifference returns StatementEndBalance - CalculatedBalance
func (s *ReconciliationSession) BalanceDifference() decimal.Decimal {
	return s.StatementEndBalance.Sub(s.CalculatedBalance)
}

// IsBalanced reports whether the balance difference is within epsilon
func (s *ReconciliationSession) IsBalanced() bool {
	return s.BalanceDifference().Abs().LessThan(BalanceEpsilon)
}

// Validate performs basic validation on the ReconciliationSession
func (s *ReconciliationSession) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	if strings.TrimSpace(s.AccountID) == "" {
		return fmt.Errorf("session account ID cannot be empty")
	}

	if s.StatementEndDate.IsZero() {
		return fmt.Errorf("statement end date cannot be zero")
	}

	if !s.Status.IsValid() {
		return fmt.Errorf("invalid session status: %s", s.Status)
	}

	return nil
}

// String returns a string representation of the ReconciliationSession
func (s *ReconciliationSession) String() string {
	return fmt.Sprintf("ReconciliationSession{ID: %s, Account: %s, Status: %s, Matched: %.1f%%}",
		s.ID, s.AccountID, s.Status, s.MatchedPercentage)
}

// ItemType classifies a reconciliation item within a session
type ItemType string

const (
	// ItemMatched pairs a bank line with an internal transaction
	ItemMatched ItemType = "MATCHED"
	// ItemUnmatchedBank is a bank line with no internal counterpart
	ItemUnmatchedBank ItemType = "UNMATCHED_BANK"
	// ItemUnmatchedApp is an internal transaction absent from the statement
	ItemUnmatchedApp ItemType = "UNMATCHED_APP"
	// ItemAdjustment is a user-entered correction affecting the calculated balance
	ItemAdjustment ItemType = "ADJUSTMENT"
)

// String returns the string representation of ItemType
func (t ItemType) String() string {
	return string(t)
}

// IsValid checks if the item type is valid
func (t ItemType) IsValid() bool {
	switch t {
	case ItemMatched, ItemUnmatchedBank, ItemUnmatchedApp, ItemAdjustment:
		return true
	}
	return false
}

// MatchMethod records how a matched item was produced
type MatchMethod string

const (
	// MatchExact is an identical amount-and-date match from the exact pass
	MatchExact MatchMethod = "EXACT"
	// MatchFuzzy is a confidence-scored match from the fuzzy pass
	MatchFuzzy MatchMethod = "FUZZY"
	// MatchManual is a user-forced match bypassing scoring
	MatchManual MatchMethod = "MANUAL"
)

// String returns the string representation of MatchMethod
func (m MatchMethod) String() string {
	return string(m)
}

// ReconciliationItem is one line inside a session: a matched pair, an
// unmatched half, or an adjustment. Items are never independently
// deleted; only their type and match fields change.
type ReconciliationItem struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Type      ItemType `json:"type"`

	// BankLine is set for Matched and UnmatchedBank items.
	BankLine *BankTransactionLine `json:"bank_line,omitempty"`

	// TransactionID is set for Matched and UnmatchedApp items.
	TransactionID string `json:"transaction_id,omitempty"`

	// Method and Confidence are meaningful only while Type is Matched.
	Method     MatchMethod `json:"method,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`

	// Amount and Description are set for Adjustment items.
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate performs basic validation on the ReconciliationItem
func (i *ReconciliationItem) Validate() error {
	if strings.TrimSpace(i.SessionID) == "" {
		return fmt.Errorf("item session ID cannot be empty")
	}

	if !i.Type.IsValid() {
		return fmt.Errorf("invalid item type: %s", i.Type)
	}

	switch i.Type {
	case ItemMatched:
		if i.BankLine == nil || strings.TrimSpace(i.TransactionID) == "" {
			return fmt.Errorf("matched item must reference a bank line and a transaction")
		}
	case ItemUnmatchedBank:
		if i.BankLine == nil {
			return fmt.Errorf("unmatched bank item must reference a bank line")
		}
	case ItemUnmatchedApp:
		if strings.TrimSpace(i.TransactionID) == "" {
			return fmt.Errorf("unmatched app item must reference a transaction")
		}
	}

	return nil
}

// AuditAction enumerates every state-changing action a session records
type AuditAction string

const (
	AuditReconciliationStarted   AuditAction = "RECONCILIATION_STARTED"
	AuditTransactionMatched      AuditAction = "TRANSACTION_MATCHED"
	AuditTransactionUnmatched    AuditAction = "TRANSACTION_UNMATCHED"
	AuditAdjustmentAdded         AuditAction = "ADJUSTMENT_ADDED"
	AuditBankStatementImported   AuditAction = "BANK_STATEMENT_IMPORTED"
	AuditReconciliationCompleted AuditAction = "RECONCILIATION_COMPLETED"
	AuditReconciliationCancelled AuditAction = "RECONCILIATION_CANCELLED"
	AuditManualTransactionAdded  AuditAction = "MANUAL_TRANSACTION_ADDED"
	AuditTransactionDeleted      AuditAction = "TRANSACTION_DELETED"
)

// String returns the string representation of AuditAction
func (a AuditAction) String() string {
	return string(a)
}

// AuditLogEntry is an append-only record of a state-changing action on
// a session. Entries are write-once; the only deletion path is the
// cascading user-data-erasure batch operation.
type AuditLogEntry struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Action    AuditAction `json:"action"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`

	// OldValues and NewValues are opaque JSON snapshots of the state
	// before and after the action. Empty when not applicable.
	OldValues string `json:"old_values,omitempty"`
	NewValues string `json:"new_values,omitempty"`
}

// DuplicateGroup is a detected near-duplicate cluster. Groups are
// recomputed on each detection run and never persisted; only user
// dismissals (exclusions) are stored.
type DuplicateGroup struct {
	ID             string          `json:"id"`
	TransactionIDs []string        `json:"transaction_ids"`
	MaxConfidence  float64         `json:"max_confidence"`
	Description    string          `json:"description"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	EarliestDate   time.Time       `json:"earliest_date"`
	LatestDate     time.Time       `json:"latest_date"`
}

// DuplicateExclusion records a user's dismissal of a duplicate group.
// A candidate group is suppressed only when its transaction-id set
// matches a stored exclusion exactly.
type DuplicateExclusion struct {
	UserID         string    `json:"user_id"`
	TransactionIDs []string  `json:"transaction_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExclusionKey returns the canonical key for a transaction-id set:
// ids sorted ascending and joined with commas.
func ExclusionKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

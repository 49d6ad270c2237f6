// Package session owns the reconciliation session lifecycle: start,
// statement import and matching, manual corrections, finalize and
// cancel. Every state-changing action appends an audit log entry, and
// every transition's side effects commit inside a single unit of work.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/auditjson"
	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/internal/reconciler"
	"github.com/reconcilerd/reconcilerd/internal/store"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// maxUnmatchedRate is the fraction of unmatched items above which
// finalize is refused without forceFinalize. A rate of exactly 5% is
// still acceptable.
const maxUnmatchedRate = 0.05

// Service coordinates reconciliation sessions over the persistence
// collaborators. Matching runs and finalize attempts against the same
// session are serialized through per-session locks; the store's
// compare-and-swap transition guards the terminal states a second time
// inside the transaction.
type Service struct {
	store   store.Store
	matcher *reconciler.Matcher
	locks   *sessionLocks
	log     logger.Logger
	now     func() time.Time
}

// NewService creates a new session service
func NewService(st store.Store) *Service {
	return &Service{
		store:   st,
		matcher: reconciler.NewMatcher(),
		locks:   newSessionLocks(),
		log:     logger.WithComponent("reconciliation_session"),
		now:     time.Now,
	}
}

// Start creates a new reconciliation session for the account in the
// InProgress state and logs ReconciliationStarted.
func (s *Service) Start(
	ctx context.Context,
	userID, accountID string,
	statementEndDate time.Time,
	statementEndBalance decimal.Decimal,
) (*models.ReconciliationSession, error) {

	if strings.TrimSpace(accountID) == "" {
		return nil, errors.Validation(errors.CodeMissingField, "account_id", "account id is required")
	}

	if statementEndDate.IsZero() {
		return nil, errors.Validation(errors.CodeMissingField, "statement_end_date", "statement end date is required")
	}

	account, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	session := &models.ReconciliationSession{
		ID:                  uuid.NewString(),
		AccountID:           account.ID,
		UserID:              userID,
		StatementEndDate:    statementEndDate,
		StatementEndBalance: statementEndBalance,
		CalculatedBalance:   decimal.Zero,
		Status:              models.SessionInProgress,
		CreatedAt:           s.now(),
	}

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, session.ID, models.AuditReconciliationStarted, userID, nil, auditjson.Values{
			"account_id":            account.ID,
			"statement_end_date":    statementEndDate.Format("2006-01-02"),
			"statement_end_balance": statementEndBalance.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"session_id": session.ID,
		"account_id": account.ID,
	}).Info("Reconciliation session started")

	return session, nil
}

// ImportStatement attaches the statement's bank lines to the session,
// runs the matcher against the account's candidate transactions, and
// persists one reconciliation item per line and per leftover internal
// transaction. Each resulting item is attributed by its own audit
// entry alongside the BankStatementImported entry.
func (s *Service) ImportStatement(
	ctx context.Context,
	userID, sessionID string,
	lines []*models.BankTransactionLine,
	params matcher.MatchParams,
) (*reconciler.MatchingResult, error) {

	if len(lines) == 0 {
		return nil, errors.Validation(errors.CodeMissingField, "lines", "statement must contain at least one line")
	}

	for i, line := range lines {
		if line.RowIndex == 0 && i > 0 {
			line.RowIndex = i
		}
		if err := line.Validate(); err != nil {
			return nil, errors.Validation(errors.CodeInvalidValue, "lines", err.Error())
		}
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := requireInProgress(session); err != nil {
		return nil, err
	}

	candidates, err := s.candidateTransactions(ctx, session, lines, params)
	if err != nil {
		return nil, err
	}

	result, err := s.matcher.Match(lines, candidates, session.AccountID, params)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := s.appendAudit(ctx, tx, session.ID, models.AuditBankStatementImported, userID, nil, auditjson.Values{
			"line_count": len(lines),
		}); err != nil {
			return err
		}

		for _, pair := range result.Matches {
			item := &models.ReconciliationItem{
				ID:            uuid.NewString(),
				SessionID:     session.ID,
				Type:          models.ItemMatched,
				BankLine:      pair.BankLine,
				TransactionID: pair.Transaction.ID,
				Method:        pair.Method,
				Confidence:    pair.Confidence,
				Amount:        pair.Transaction.Amount,
				CreatedAt:     s.now(),
			}
			if err := tx.CreateItem(ctx, item); err != nil {
				return err
			}
			if err := s.appendAudit(ctx, tx, session.ID, models.AuditTransactionMatched, userID, nil, auditjson.Values{
				"item_id":        item.ID,
				"transaction_id": pair.Transaction.ID,
				"bank_reference": pair.BankLine.Key(),
				"method":         pair.Method.String(),
				"confidence":     pair.Confidence,
			}); err != nil {
				return err
			}
		}

		for _, line := range result.UnmatchedBank {
			item := &models.ReconciliationItem{
				ID:        uuid.NewString(),
				SessionID: session.ID,
				Type:      models.ItemUnmatchedBank,
				BankLine:  line,
				Amount:    line.Amount,
				CreatedAt: s.now(),
			}
			if err := tx.CreateItem(ctx, item); err != nil {
				return err
			}
			if err := s.appendAudit(ctx, tx, session.ID, models.AuditTransactionUnmatched, userID, nil, auditjson.Values{
				"item_id":        item.ID,
				"bank_reference": line.Key(),
			}); err != nil {
				return err
			}
		}

		for _, unmatched := range result.UnmatchedInternal {
			item := &models.ReconciliationItem{
				ID:            uuid.NewString(),
				SessionID:     session.ID,
				Type:          models.ItemUnmatchedApp,
				TransactionID: unmatched.ID,
				Amount:        unmatched.Amount,
				CreatedAt:     s.now(),
			}
			if err := tx.CreateItem(ctx, item); err != nil {
				return err
			}
			if err := s.appendAudit(ctx, tx, session.ID, models.AuditTransactionUnmatched, userID, nil, auditjson.Values{
				"item_id":        item.ID,
				"transaction_id": unmatched.ID,
			}); err != nil {
				return err
			}
		}

		return s.refreshSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"session_id":    session.ID,
		"matches":       len(result.Matches),
		"match_percent": result.OverallMatchPercentage,
	}).Info("Bank statement imported and matched")

	return result, nil
}

// ManualMatch force-pairs the bank line held by itemID with the given
// internal transaction, bypassing scoring. Both sides are first
// unclaimed from any automatic match they belong to.
func (s *Service) ManualMatch(ctx context.Context, userID, sessionID, itemID, transactionID string) (*models.ReconciliationItem, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, errors.Validation(errors.CodeMissingField, "transaction_id", "transaction id is required")
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := requireInProgress(session); err != nil {
		return nil, err
	}

	// Ownership scoping makes an inaccessible transaction look
	// identical to a missing one.
	transaction, err := s.store.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}

	item, err := s.getSessionItem(ctx, session.ID, itemID)
	if err != nil {
		return nil, err
	}

	if item.BankLine == nil {
		return nil, errors.InvalidState(errors.CodeItemNotMatched,
			"item does not hold a bank statement line")
	}

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		// Release the bank item's current partner, if any.
		if item.Type == models.ItemMatched && item.TransactionID != "" && item.TransactionID != transactionID {
			if err := s.releaseTransaction(ctx, tx, session, item, userID); err != nil {
				return err
			}
		}

		// Release the transaction from any other item claiming it.
		items, err := tx.ListItems(ctx, session.ID)
		if err != nil {
			return err
		}
		for _, other := range items {
			if other.ID == item.ID || other.TransactionID != transactionID {
				continue
			}
			switch other.Type {
			case models.ItemMatched:
				if err := s.demoteToUnmatchedBank(ctx, tx, session, other, userID); err != nil {
					return err
				}
			case models.ItemUnmatchedApp:
				if err := tx.DeleteItem(ctx, other.ID); err != nil {
					return err
				}
			}
		}

		oldValues := auditjson.Values{
			"item_type":      item.Type.String(),
			"transaction_id": item.TransactionID,
		}

		item.Type = models.ItemMatched
		item.TransactionID = transaction.ID
		item.Method = models.MatchManual
		item.Confidence = 1.0
		item.Amount = transaction.Amount

		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}

		if err := s.appendAudit(ctx, tx, session.ID, models.AuditTransactionMatched, userID, oldValues, auditjson.Values{
			"item_id":        item.ID,
			"transaction_id": transaction.ID,
			"method":         models.MatchManual.String(),
		}); err != nil {
			return err
		}

		return s.refreshSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// Unmatch reverts a matched item back to its two unmatched halves: the
// item keeps the bank line as UnmatchedBank and a fresh UnmatchedApp
// item is created for the released transaction.
func (s *Service) Unmatch(ctx context.Context, userID, sessionID, itemID string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if err := requireInProgress(session); err != nil {
		return err
	}

	item, err := s.getSessionItem(ctx, session.ID, itemID)
	if err != nil {
		return err
	}

	if item.Type != models.ItemMatched {
		return errors.InvalidState(errors.CodeItemNotMatched, "item is not a matched pair")
	}

	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := s.releaseTransaction(ctx, tx, session, item, userID); err != nil {
			return err
		}
		return s.refreshSession(ctx, tx, session)
	})
}

// AddAdjustment records a user-entered correction that feeds the
// session's calculated balance.
func (s *Service) AddAdjustment(ctx context.Context, userID, sessionID string, amount decimal.Decimal, description string) (*models.ReconciliationItem, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := requireInProgress(session); err != nil {
		return nil, err
	}

	item := &models.ReconciliationItem{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Type:        models.ItemAdjustment,
		Amount:      amount,
		Description: description,
		CreatedAt:   s.now(),
	}

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, tx, session.ID, models.AuditAdjustmentAdded, userID, nil, auditjson.Values{
			"item_id":     item.ID,
			"amount":      amount.String(),
			"description": description,
		}); err != nil {
			return err
		}
		return s.refreshSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// Finalize completes an InProgress session. Unless forceFinalize is
// set, the unmatched-item rate must not exceed 5%. On success the
// session becomes Completed, the account's reconciliation metadata is
// updated, and every matched transaction not already Reconciled is
// marked Reconciled. All side effects commit in one unit of work.
func (s *Service) Finalize(ctx context.Context, userID, sessionID string, forceFinalize bool) (*models.ReconciliationSession, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.SessionCompleted:
		return nil, errors.InvalidState(errors.CodeSessionCompleted, "reconciliation already completed")
	case models.SessionCancelled:
		return nil, errors.InvalidState(errors.CodeSessionCancelled, "reconciliation was cancelled")
	}

	items, err := s.store.ListItems(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	stats := computeStats(items)

	if !forceFinalize && stats.unmatchedRate() > maxUnmatchedRate {
		return nil, errors.BusinessRule(errors.CodeTooManyUnmatched,
			fmt.Sprintf("too many unmatched items: %d of %d (%.1f%%) exceed the %.0f%% threshold",
				stats.unmatchedBank+stats.unmatchedApp, stats.totalItems(),
				stats.unmatchedRate()*100, maxUnmatchedRate*100)).
			WithContext("unmatched_bank", stats.unmatchedBank).
			WithContext("unmatched_app", stats.unmatchedApp)
	}

	completedAt := s.now()

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		// Compare-and-swap on the status serializes concurrent
		// finalize attempts: the loser sees InvalidState, and none of
		// its side effects below are applied.
		if err := tx.TransitionSession(ctx, session.ID, models.SessionInProgress, models.SessionCompleted, &completedAt); err != nil {
			return err
		}

		if err := tx.UpdateReconciliationMetadata(ctx, session.AccountID, session.StatementEndDate, session.StatementEndBalance); err != nil {
			return err
		}

		for _, item := range items {
			if item.Type != models.ItemMatched {
				continue
			}

			transaction, err := tx.GetTransaction(ctx, userID, item.TransactionID)
			if err != nil {
				return err
			}

			// Already-Reconciled transactions are left untouched.
			if transaction.Status == models.StatusReconciled {
				continue
			}

			if err := tx.UpdateTransactionStatus(ctx, transaction.ID, models.StatusReconciled); err != nil {
				return err
			}
		}

		session.Status = models.SessionCompleted
		session.CompletedAt = &completedAt
		session.MatchedPercentage = stats.matchedPercentage()
		session.CalculatedBalance = stats.calculatedBalance
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}

		return s.appendAudit(ctx, tx, session.ID, models.AuditReconciliationCompleted, userID,
			auditjson.Values{"status": models.SessionInProgress.String()},
			auditjson.Values{
				"status":             models.SessionCompleted.String(),
				"matched_percentage": session.MatchedPercentage,
				"balance_difference": session.BalanceDifference().String(),
				"forced":             forceFinalize,
			})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"session_id":    session.ID,
		"account_id":    session.AccountID,
		"match_percent": session.MatchedPercentage,
		"balanced":      session.IsBalanced(),
	}).Info("Reconciliation finalized")

	return session, nil
}

// Cancel moves an InProgress session to Cancelled. No balance or
// transaction side effects occur.
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if err := requireInProgress(session); err != nil {
		return err
	}

	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.TransitionSession(ctx, session.ID, models.SessionInProgress, models.SessionCancelled, nil); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, session.ID, models.AuditReconciliationCancelled, userID,
			auditjson.Values{"status": models.SessionInProgress.String()},
			auditjson.Values{"status": models.SessionCancelled.String()})
	})
}

// Get returns a session with its items, scoped to the owner
func (s *Service) Get(ctx context.Context, userID, sessionID string) (*models.ReconciliationSession, []*models.ReconciliationItem, error) {
	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.ListItems(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}

	return session, items, nil
}

// List returns the user's sessions matching the filter
func (s *Service) List(ctx context.Context, userID string, filter store.SessionFilter) ([]*models.ReconciliationSession, error) {
	return s.store.ListSessions(ctx, userID, filter)
}

// AuditTrail returns the session's audit log entries
func (s *Service) AuditTrail(ctx context.Context, userID, sessionID string) ([]*models.AuditLogEntry, error) {
	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, sessionID)
}

// getOwnedSession resolves a session and enforces ownership. A session
// owned by another user is reported as NotFound.
func (s *Service) getOwnedSession(ctx context.Context, userID, sessionID string) (*models.ReconciliationSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.Validation(errors.CodeMissingField, "session_id", "session id is required")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.UserID != userID {
		return nil, errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", sessionID)
	}

	return session, nil
}

func (s *Service) getSessionItem(ctx context.Context, sessionID, itemID string) (*models.ReconciliationItem, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.SessionID != sessionID {
		return nil, errors.NotFound(errors.CodeItemNotFound, "reconciliation item", itemID)
	}

	return item, nil
}

// releaseTransaction reverts a matched item to UnmatchedBank and
// recreates its transaction as an UnmatchedApp item.
func (s *Service) releaseTransaction(ctx context.Context, tx store.Store, session *models.ReconciliationSession, item *models.ReconciliationItem, userID string) error {
	releasedID := item.TransactionID

	transaction, err := tx.GetTransaction(ctx, userID, releasedID)
	if err != nil {
		return err
	}

	if err := s.demoteToUnmatchedBank(ctx, tx, session, item, userID); err != nil {
		return err
	}

	appItem := &models.ReconciliationItem{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		Type:          models.ItemUnmatchedApp,
		TransactionID: releasedID,
		Amount:        transaction.Amount,
		CreatedAt:     s.now(),
	}
	return tx.CreateItem(ctx, appItem)
}

// demoteToUnmatchedBank strips the match fields from a matched item,
// leaving only its bank line half, and records the unmatch.
func (s *Service) demoteToUnmatchedBank(ctx context.Context, tx store.Store, session *models.ReconciliationSession, item *models.ReconciliationItem, userID string) error {
	oldValues := auditjson.Values{
		"item_type":      item.Type.String(),
		"transaction_id": item.TransactionID,
		"method":         item.Method.String(),
	}

	item.Type = models.ItemUnmatchedBank
	item.TransactionID = ""
	item.Method = ""
	item.Confidence = 0
	if item.BankLine != nil {
		item.Amount = item.BankLine.Amount
	}

	if err := tx.UpdateItem(ctx, item); err != nil {
		return err
	}

	return s.appendAudit(ctx, tx, session.ID, models.AuditTransactionUnmatched, userID, oldValues, auditjson.Values{
		"item_id":   item.ID,
		"item_type": item.Type.String(),
	})
}

// refreshSession recomputes the session's matched percentage and
// calculated balance from its current items and persists the result.
func (s *Service) refreshSession(ctx context.Context, tx store.Store, session *models.ReconciliationSession) error {
	items, err := tx.ListItems(ctx, session.ID)
	if err != nil {
		return err
	}

	stats := computeStats(items)
	session.MatchedPercentage = stats.matchedPercentage()
	session.CalculatedBalance = stats.calculatedBalance

	return tx.UpdateSession(ctx, session)
}

// candidateTransactions fetches the account's transactions inside the
// statement's date window, widened by the date tolerance on both ends.
// The window is aligned to whole calendar days so the fetch agrees
// with the matcher's day-granularity date distance regardless of the
// transactions' time of day.
// Transactions locked in by earlier reconciliations are not candidates.
func (s *Service) candidateTransactions(
	ctx context.Context,
	session *models.ReconciliationSession,
	lines []*models.BankTransactionLine,
	params matcher.MatchParams,
) ([]*models.InternalTransaction, error) {

	from := lines[0].Date
	to := lines[0].Date
	for _, line := range lines[1:] {
		if line.Date.Before(from) {
			from = line.Date
		}
		if line.Date.After(to) {
			to = line.Date
		}
	}
	if session.StatementEndDate.After(to) {
		to = session.StatementEndDate
	}

	from = dayStart(from).AddDate(0, 0, -params.DateToleranceDays)
	to = dayStart(to).AddDate(0, 0, params.DateToleranceDays+1).Add(-time.Nanosecond)

	all, err := s.store.ListTransactionsByAccount(ctx, session.AccountID, from, to)
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.InternalTransaction, 0, len(all))
	for _, transaction := range all {
		if transaction.Status == models.StatusReconciled {
			continue
		}
		candidates = append(candidates, transaction)
	}

	return candidates, nil
}

// dayStart returns midnight UTC of the timestamp's calendar day.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) appendAudit(ctx context.Context, tx store.Store, sessionID string, action models.AuditAction, userID string, oldValues, newValues auditjson.Values) error {
	return tx.AppendEntry(ctx, &models.AuditLogEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		UserID:    userID,
		Timestamp: s.now(),
		OldValues: auditjson.Marshal(oldValues),
		NewValues: auditjson.Marshal(newValues),
	})
}

func requireInProgress(session *models.ReconciliationSession) error {
	switch session.Status {
	case models.SessionInProgress:
		return nil
	case models.SessionCompleted:
		return errors.InvalidState(errors.CodeSessionCompleted, "reconciliation already completed")
	default:
		return errors.InvalidState(errors.CodeSessionCancelled, "reconciliation was cancelled")
	}
}

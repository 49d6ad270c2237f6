package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/internal/store"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

const (
	testUser    = "user-1"
	testAccount = "acct-1"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	st.SeedAccount(&models.Account{
		ID:     testAccount,
		UserID: testUser,
		Name:   "Checking",
	})

	return NewService(st), st
}

func seedTransaction(st *store.MemoryStore, id, amount string, date time.Time, description string) {
	st.SeedTransaction(&models.InternalTransaction{
		ID:          id,
		AccountID:   testAccount,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: description,
		Status:      models.StatusUnreconciled,
	})
}

func bankLine(reference, amount string, date time.Time, description string, rowIndex int) *models.BankTransactionLine {
	return &models.BankTransactionLine{
		Reference:   reference,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: description,
		RowIndex:    rowIndex,
	}
}

func startSession(t *testing.T, svc *Service, endDate time.Time, endBalance string) *models.ReconciliationSession {
	t.Helper()

	session, err := svc.Start(context.Background(), testUser, testAccount, endDate, decimal.RequireFromString(endBalance))
	require.NoError(t, err)
	return session
}

func TestStartSession(t *testing.T) {
	svc, st := newTestService(t)
	endDate := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	session := startSession(t, svc, endDate, "1500.00")

	assert.Equal(t, models.SessionInProgress, session.Status)
	assert.Equal(t, testAccount, session.AccountID)
	assert.True(t, session.CalculatedBalance.IsZero())

	entries := st.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditReconciliationStarted, entries[0].Action)
	assert.Equal(t, testUser, entries[0].UserID)
}

func TestStartSessionUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), testUser, "acct-missing",
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), decimal.Zero)
	assert.True(t, errors.IsNotFound(err))
}

func TestStartSessionValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), testUser, "", time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), decimal.Zero)
	assert.True(t, errors.IsValidation(err))

	_, err = svc.Start(context.Background(), testUser, testAccount, time.Time{}, decimal.Zero)
	assert.True(t, errors.IsValidation(err))
}

func TestImportStatement(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	seedTransaction(st, "tx-1", "100.00", date, "PAYROLL ACME")
	seedTransaction(st, "tx-2", "-45.50", date.AddDate(0, 0, 1), "GROCERY MART")
	seedTransaction(st, "tx-3", "-12.00", date.AddDate(0, 0, 2), "COFFEE")

	session := startSession(t, svc, date.AddDate(0, 0, 20), "1500.00")

	lines := []*models.BankTransactionLine{
		bankLine("ref-1", "100.00", date, "PAYROLL ACME", 0),
		bankLine("ref-2", "-45.50", date.AddDate(0, 0, 1), "GROCERY MART", 1),
		bankLine("ref-3", "-999.99", date.AddDate(0, 0, 3), "UNKNOWN DEBIT", 2),
	}

	result, err := svc.ImportStatement(context.Background(), testUser, session.ID, lines, matcher.DefaultMatchParams())
	require.NoError(t, err)

	assert.Len(t, result.Matches, 2)
	assert.Len(t, result.UnmatchedBank, 1)
	assert.Len(t, result.UnmatchedInternal, 1)

	_, items, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)

	counts := map[models.ItemType]int{}
	for _, item := range items {
		counts[item.Type]++
	}
	assert.Equal(t, 2, counts[models.ItemMatched])
	assert.Equal(t, 1, counts[models.ItemUnmatchedBank])
	assert.Equal(t, 1, counts[models.ItemUnmatchedApp])

	// 2 matched of 4 total items
	updated, _, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, updated.MatchedPercentage, 1e-9)

	// One import entry plus one entry per item
	entries := st.AuditEntries()
	actions := map[models.AuditAction]int{}
	for _, entry := range entries {
		actions[entry.Action]++
	}
	assert.Equal(t, 1, actions[models.AuditBankStatementImported])
	assert.Equal(t, 2, actions[models.AuditTransactionMatched])
	assert.Equal(t, 2, actions[models.AuditTransactionUnmatched])
}

func TestImportStatementMatchesTransactionWithTimeOfDayOnEdgeDay(t *testing.T) {
	svc, st := newTestService(t)
	lineDate := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	// The transaction sits on the last tolerated calendar day but at an
	// afternoon clock time. The candidate fetch must still cover it;
	// day distance, not timestamp distance, decides eligibility.
	seedTransaction(st, "tx-1", "80.00",
		time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC), "CARD PAYMENT 2210")

	session := startSession(t, svc, lineDate, "1500.00")

	lines := []*models.BankTransactionLine{
		bankLine("ref-1", "80.00", lineDate, "CARD PAYMENT 2210", 0),
	}

	result, err := svc.ImportStatement(context.Background(), testUser, session.ID, lines, matcher.DefaultMatchParams())
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "tx-1", result.Matches[0].Transaction.ID)
	assert.Equal(t, models.MatchFuzzy, result.Matches[0].Method)
	assert.Empty(t, result.UnmatchedBank)
}

func TestImportStatementEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	session := startSession(t, svc, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "0")

	_, err := svc.ImportStatement(context.Background(), testUser, session.ID, nil, matcher.DefaultMatchParams())
	assert.True(t, errors.IsValidation(err))
}

func TestImportStatementExcludesReconciled(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	st.SeedTransaction(&models.InternalTransaction{
		ID:        "tx-locked",
		AccountID: testAccount,
		Amount:    decimal.RequireFromString("80.00"),
		Date:      date,
		Status:    models.StatusReconciled,
	})

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")

	lines := []*models.BankTransactionLine{
		bankLine("ref-1", "80.00", date, "", 0),
	}

	result, err := svc.ImportStatement(context.Background(), testUser, session.ID, lines, matcher.DefaultMatchParams())
	require.NoError(t, err)

	// The locked transaction is not a candidate
	assert.Empty(t, result.Matches)
	assert.Len(t, result.UnmatchedBank, 1)
	assert.Empty(t, result.UnmatchedInternal)
}

func TestImportStatementRequiresInProgress(t *testing.T) {
	svc, _ := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	session := startSession(t, svc, date, "0")
	require.NoError(t, svc.Cancel(context.Background(), testUser, session.ID))

	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{bankLine("ref-1", "10.00", date, "", 0)},
		matcher.DefaultMatchParams())
	assert.True(t, errors.IsInvalidState(err))
}

func TestManualMatch(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	// Amounts differ enough that automatic matching leaves both sides
	// unmatched.
	seedTransaction(st, "tx-1", "500.00", date, "TRANSFER IN")

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{bankLine("ref-1", "250.00", date, "PARTIAL TRANSFER", 0)},
		matcher.DefaultMatchParams())
	require.NoError(t, err)

	_, items, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var bankItem *models.ReconciliationItem
	for _, item := range items {
		if item.Type == models.ItemUnmatchedBank {
			bankItem = item
		}
	}
	require.NotNil(t, bankItem)

	matched, err := svc.ManualMatch(context.Background(), testUser, session.ID, bankItem.ID, "tx-1")
	require.NoError(t, err)

	assert.Equal(t, models.ItemMatched, matched.Type)
	assert.Equal(t, models.MatchManual, matched.Method)
	assert.Equal(t, 1.0, matched.Confidence)
	assert.Equal(t, "tx-1", matched.TransactionID)
	assert.True(t, matched.Amount.Equal(decimal.RequireFromString("500.00")))

	// The redundant UnmatchedApp item for tx-1 is gone
	_, items, err = svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemMatched, items[0].Type)
}

func TestManualMatchStealsClaimedTransaction(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	seedTransaction(st, "tx-1", "75.00", date, "SUBSCRIPTION")

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{
			bankLine("ref-match", "75.00", date, "SUBSCRIPTION", 0),
			bankLine("ref-other", "75.01", date, "SUBSCRIPTION?", 1),
		},
		matcher.DefaultMatchParams())
	require.NoError(t, err)

	_, items, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)

	var otherItem *models.ReconciliationItem
	for _, item := range items {
		if item.Type == models.ItemUnmatchedBank {
			otherItem = item
		}
	}
	require.NotNil(t, otherItem, "expected one line to remain unmatched")

	// Force-matching the second line to the already-claimed transaction
	// demotes the original automatic match.
	_, err = svc.ManualMatch(context.Background(), testUser, session.ID, otherItem.ID, "tx-1")
	require.NoError(t, err)

	_, items, err = svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)

	var matchedCount, unmatchedBankCount int
	for _, item := range items {
		switch item.Type {
		case models.ItemMatched:
			matchedCount++
			assert.Equal(t, otherItem.ID, item.ID)
		case models.ItemUnmatchedBank:
			unmatchedBankCount++
		}
	}
	assert.Equal(t, 1, matchedCount)
	assert.Equal(t, 1, unmatchedBankCount)
}

func TestUnmatch(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	seedTransaction(st, "tx-1", "100.00", date, "PAYROLL")

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{bankLine("ref-1", "100.00", date, "PAYROLL", 0)},
		matcher.DefaultMatchParams())
	require.NoError(t, err)

	_, items, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, models.ItemMatched, items[0].Type)

	require.NoError(t, svc.Unmatch(context.Background(), testUser, session.ID, items[0].ID))

	_, items, err = svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	counts := map[models.ItemType]int{}
	for _, item := range items {
		counts[item.Type]++
		if item.Type == models.ItemUnmatchedBank {
			assert.Empty(t, item.TransactionID)
			assert.NotNil(t, item.BankLine)
		}
		if item.Type == models.ItemUnmatchedApp {
			assert.Equal(t, "tx-1", item.TransactionID)
		}
	}
	assert.Equal(t, 1, counts[models.ItemUnmatchedBank])
	assert.Equal(t, 1, counts[models.ItemUnmatchedApp])
}

func TestUnmatchRequiresMatchedItem(t *testing.T) {
	svc, _ := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{bankLine("ref-1", "10.00", date, "", 0)},
		matcher.DefaultMatchParams())
	require.NoError(t, err)

	_, items, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = svc.Unmatch(context.Background(), testUser, session.ID, items[0].ID)
	assert.True(t, errors.IsInvalidState(err))
}

func TestAddAdjustment(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")

	item, err := svc.AddAdjustment(context.Background(), testUser, session.ID,
		decimal.RequireFromString("-3.50"), "bank fee")
	require.NoError(t, err)

	assert.Equal(t, models.ItemAdjustment, item.Type)
	assert.Equal(t, "bank fee", item.Description)

	// Adjustments feed the calculated balance but not the match rate
	updated, _, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	assert.True(t, updated.CalculatedBalance.Equal(decimal.RequireFromString("-3.50")))

	entries := st.AuditEntries()
	var adjustmentEntries int
	for _, entry := range entries {
		if entry.Action == models.AuditAdjustmentAdded {
			adjustmentEntries++
		}
	}
	assert.Equal(t, 1, adjustmentEntries)
}

// seedMatchedStatement imports a statement with matchedCount lines that
// match seeded transactions exactly plus extraUnmatched lines matching
// nothing, and returns the session.
func seedMatchedStatement(t *testing.T, svc *Service, st *store.MemoryStore, matchedCount, extraUnmatched int) *models.ReconciliationSession {
	t.Helper()

	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	var lines []*models.BankTransactionLine

	for i := 0; i < matchedCount; i++ {
		amount := fmt.Sprintf("%d.00", 100+i)
		id := fmt.Sprintf("tx-%03d", i)
		seedTransaction(st, id, amount, date, fmt.Sprintf("VENDOR %d", i))
		lines = append(lines, bankLine(fmt.Sprintf("ref-%03d", i), amount, date, fmt.Sprintf("VENDOR %d", i), len(lines)))
	}

	for i := 0; i < extraUnmatched; i++ {
		lines = append(lines, bankLine(fmt.Sprintf("ref-x-%03d", i), fmt.Sprintf("%d.37", 9000+i), date, "NO COUNTERPART", len(lines)))
	}

	session := startSession(t, svc, date.AddDate(0, 0, 5), "1000.00")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID, lines, matcher.DefaultMatchParams())
	require.NoError(t, err)

	return session
}

func TestFinalizeAtExactThreshold(t *testing.T) {
	svc, st := newTestService(t)

	// 19 matched + 1 unmatched = exactly 5% unmatched, which passes
	session := seedMatchedStatement(t, svc, st, 19, 1)

	finalized, err := svc.Finalize(context.Background(), testUser, session.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, finalized.Status)
	require.NotNil(t, finalized.CompletedAt)
}

func TestFinalizeOverThreshold(t *testing.T) {
	svc, st := newTestService(t)

	// 2 matched + 2 unmatched = 50% unmatched
	session := seedMatchedStatement(t, svc, st, 2, 2)

	_, err := svc.Finalize(context.Background(), testUser, session.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsBusinessRule(err))

	// The session is untouched by the refused attempt
	current, _, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, current.Status)

	// forceFinalize overrides the threshold
	finalized, err := svc.Finalize(context.Background(), testUser, session.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, finalized.Status)
}

func TestFinalizeSideEffects(t *testing.T) {
	svc, st := newTestService(t)
	session := seedMatchedStatement(t, svc, st, 3, 0)

	_, err := svc.Finalize(context.Background(), testUser, session.ID, false)
	require.NoError(t, err)

	// Every matched transaction is now Reconciled
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("tx-%03d", i)
		transaction, err := st.GetTransaction(context.Background(), testUser, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReconciled, transaction.Status)
		assert.Equal(t, 1, st.StatusUpdateCalls[id])
	}

	// Account reconciliation metadata reflects the statement
	account, err := st.GetAccount(context.Background(), testUser, testAccount)
	require.NoError(t, err)
	require.NotNil(t, account.LastReconciledDate)
	require.NotNil(t, account.LastReconciledBalance)
	assert.True(t, account.LastReconciledBalance.Equal(session.StatementEndBalance))
}

func TestFinalizeSkipsAlreadyReconciled(t *testing.T) {
	svc, st := newTestService(t)
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	seedTransaction(st, "tx-1", "100.00", date, "PAYROLL")

	session := startSession(t, svc, date.AddDate(0, 0, 5), "0")
	_, err := svc.ImportStatement(context.Background(), testUser, session.ID,
		[]*models.BankTransactionLine{bankLine("ref-1", "100.00", date, "PAYROLL", 0)},
		matcher.DefaultMatchParams())
	require.NoError(t, err)

	// Another flow already locked this transaction in
	require.NoError(t, st.UpdateTransactionStatus(context.Background(), "tx-1", models.StatusReconciled))
	callsBefore := st.StatusUpdateCalls["tx-1"]

	_, err = svc.Finalize(context.Background(), testUser, session.ID, false)
	require.NoError(t, err)

	// Finalize observed the Reconciled status and issued no update
	assert.Equal(t, callsBefore, st.StatusUpdateCalls["tx-1"])
}

func TestFinalizeTwice(t *testing.T) {
	svc, st := newTestService(t)
	session := seedMatchedStatement(t, svc, st, 2, 0)

	_, err := svc.Finalize(context.Background(), testUser, session.ID, false)
	require.NoError(t, err)

	_, err = svc.Finalize(context.Background(), testUser, session.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	// Exactly one completion entry and one transaction update each
	var completed int
	for _, entry := range st.AuditEntries() {
		if entry.Action == models.AuditReconciliationCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, st.StatusUpdateCalls["tx-000"])
	assert.Equal(t, 1, st.StatusUpdateCalls["tx-001"])
}

func TestCancel(t *testing.T) {
	svc, st := newTestService(t)
	session := seedMatchedStatement(t, svc, st, 1, 0)

	require.NoError(t, svc.Cancel(context.Background(), testUser, session.ID))

	current, _, err := svc.Get(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, current.Status)

	// No transaction or account side effects
	transaction, err := st.GetTransaction(context.Background(), testUser, "tx-000")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnreconciled, transaction.Status)

	account, err := st.GetAccount(context.Background(), testUser, testAccount)
	require.NoError(t, err)
	assert.Nil(t, account.LastReconciledDate)

	// Terminal states refuse further transitions
	err = svc.Cancel(context.Background(), testUser, session.ID)
	assert.True(t, errors.IsInvalidState(err))
	_, err = svc.Finalize(context.Background(), testUser, session.ID, false)
	assert.True(t, errors.IsInvalidState(err))
}

func TestSessionOwnershipScoping(t *testing.T) {
	svc, _ := newTestService(t)
	session := startSession(t, svc, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "0")

	// Another user's access reports NotFound, not a permission error
	_, _, err := svc.Get(context.Background(), "user-2", session.ID)
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.Finalize(context.Background(), "user-2", session.ID, false)
	assert.True(t, errors.IsNotFound(err))
}

func TestAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	session := startSession(t, svc, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "0")

	entries, err := svc.AuditTrail(context.Background(), testUser, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditReconciliationStarted, entries[0].Action)
}

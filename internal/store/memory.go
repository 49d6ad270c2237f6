package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and by one-off CLI
// runs that operate on already-loaded data. Writes are serialized by a
// single mutex; WithinTx provides the same serialization but no
// rollback, which is sufficient for the happy-path and error-path
// shapes the tests exercise.
type MemoryStore struct {
	mu sync.RWMutex

	transactions map[string]*models.InternalTransaction
	accounts     map[string]*models.Account
	sessions     map[string]*models.ReconciliationSession
	items        map[string]*models.ReconciliationItem
	audit        []*models.AuditLogEntry
	exclusions   map[string]map[string]*models.DuplicateExclusion

	// StatusUpdateCalls counts UpdateTransactionStatus invocations per
	// transaction id, letting tests verify idempotence by call count
	// rather than final state alone.
	StatusUpdateCalls map[string]int
}

// Compile-time check that MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions:      make(map[string]*models.InternalTransaction),
		accounts:          make(map[string]*models.Account),
		sessions:          make(map[string]*models.ReconciliationSession),
		items:             make(map[string]*models.ReconciliationItem),
		exclusions:        make(map[string]map[string]*models.DuplicateExclusion),
		StatusUpdateCalls: make(map[string]int),
	}
}

// SeedAccount registers an account
func (m *MemoryStore) SeedAccount(account *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *account
	m.accounts[account.ID] = &copied
}

// SeedTransaction registers an internal transaction
func (m *MemoryStore) SeedTransaction(transaction *models.InternalTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *transaction
	m.transactions[transaction.ID] = &copied
}

// AuditEntries returns a snapshot of every appended audit entry
func (m *MemoryStore) AuditEntries() []*models.AuditLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AuditLogEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *MemoryStore) GetTransaction(_ context.Context, userID, id string) (*models.InternalTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transaction, ok := m.transactions[id]
	if !ok || !m.ownsAccountLocked(userID, transaction.AccountID) {
		return nil, errors.NotFound(errors.CodeTransactionNotFound, "transaction", id)
	}

	copied := *transaction
	return &copied, nil
}

func (m *MemoryStore) ListTransactionsByAccount(_ context.Context, accountID string, from, to time.Time) ([]*models.InternalTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.InternalTransaction
	for _, transaction := range m.transactions {
		if transaction.AccountID != accountID {
			continue
		}
		if transaction.Date.Before(from) || transaction.Date.After(to) {
			continue
		}
		copied := *transaction
		out = append(out, &copied)
	}

	sortTransactions(out)
	return out, nil
}

func (m *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]*models.InternalTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.InternalTransaction
	for _, transaction := range m.transactions {
		if !m.ownsAccountLocked(userID, transaction.AccountID) {
			continue
		}
		copied := *transaction
		out = append(out, &copied)
	}

	sortTransactions(out)
	return out, nil
}

func (m *MemoryStore) UpdateTransactionStatus(_ context.Context, id string, status models.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transaction, ok := m.transactions[id]
	if !ok {
		return errors.NotFound(errors.CodeTransactionNotFound, "transaction", id)
	}

	m.StatusUpdateCalls[id]++
	transaction.Status = status
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, userID, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok || account.UserID != userID {
		return nil, errors.NotFound(errors.CodeAccountNotFound, "account", id)
	}

	copied := *account
	return &copied, nil
}

func (m *MemoryStore) UpdateReconciliationMetadata(_ context.Context, accountID string, date time.Time, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return errors.NotFound(errors.CodeAccountNotFound, "account", accountID)
	}

	account.LastReconciledDate = &date
	account.LastReconciledBalance = &balance
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.ReconciliationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.ReconciliationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", id)
	}

	copied := *session
	return &copied, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.ReconciliationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", session.ID)
	}

	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string, filter SessionFilter) ([]*models.ReconciliationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ReconciliationSession
	for _, session := range m.sessions {
		if session.UserID != userID {
			continue
		}
		if filter.AccountID != "" && session.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && session.StatementEndDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && session.StatementEndDate.After(filter.To) {
			continue
		}
		copied := *session
		out = append(out, &copied)
	}

	// Newest first, matching the SQLite listing order.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (m *MemoryStore) TransitionSession(_ context.Context, id string, from, to models.SessionStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", id)
	}

	if session.Status != from {
		return errors.InvalidState(errors.CodeSessionNotInProgress,
			"session is not in the expected state for this transition")
	}

	session.Status = to
	if completedAt != nil {
		session.CompletedAt = completedAt
	}
	return nil
}

func (m *MemoryStore) CreateItem(_ context.Context, item *models.ReconciliationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (*models.ReconciliationItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeItemNotFound, "reconciliation item", id)
	}

	copied := *item
	return &copied, nil
}

func (m *MemoryStore) UpdateItem(_ context.Context, item *models.ReconciliationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; !ok {
		return errors.NotFound(errors.CodeItemNotFound, "reconciliation item", item.ID)
	}

	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *MemoryStore) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, id)
	return nil
}

func (m *MemoryStore) ListItems(_ context.Context, sessionID string) ([]*models.ReconciliationItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ReconciliationItem
	for _, item := range m.items {
		if item.SessionID != sessionID {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}

	sortItems(out)
	return out, nil
}

func (m *MemoryStore) AppendEntry(_ context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *entry
	m.audit = append(m.audit, &copied)
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, sessionID string) ([]*models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AuditLogEntry
	for _, entry := range m.audit {
		if entry.SessionID != sessionID {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}

	return out, nil
}

func (m *MemoryStore) SaveExclusion(_ context.Context, exclusion *models.DuplicateExclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.exclusions[exclusion.UserID]
	if !ok {
		byKey = make(map[string]*models.DuplicateExclusion)
		m.exclusions[exclusion.UserID] = byKey
	}

	copied := *exclusion
	byKey[models.ExclusionKey(exclusion.TransactionIDs)] = &copied
	return nil
}

func (m *MemoryStore) ListExclusions(_ context.Context, userID string) ([]*models.DuplicateExclusion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.DuplicateExclusion
	for _, exclusion := range m.exclusions[userID] {
		copied := *exclusion
		out = append(out, &copied)
	}

	return out, nil
}

func (m *MemoryStore) DeleteExclusion(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.exclusions[userID], key)
	return nil
}

// WithinTx runs fn against the store itself. The in-memory double
// serializes writes but does not roll back; tests that need rollback
// semantics use the SQLite store.
func (m *MemoryStore) WithinTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *MemoryStore) DeleteUserData(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ownedAccounts := make(map[string]bool)
	for id, account := range m.accounts {
		if account.UserID == userID {
			ownedAccounts[account.ID] = true
			delete(m.accounts, id)
		}
	}

	for id, transaction := range m.transactions {
		if ownedAccounts[transaction.AccountID] {
			delete(m.transactions, id)
		}
	}

	ownedSessions := make(map[string]bool)
	for id, session := range m.sessions {
		if session.UserID == userID {
			ownedSessions[session.ID] = true
			delete(m.sessions, id)
		}
	}

	for id, item := range m.items {
		if ownedSessions[item.SessionID] {
			delete(m.items, id)
		}
	}

	kept := m.audit[:0]
	for _, entry := range m.audit {
		if !ownedSessions[entry.SessionID] {
			kept = append(kept, entry)
		}
	}
	m.audit = kept

	delete(m.exclusions, userID)
	return nil
}

// ownsAccountLocked reports whether the account belongs to the user.
// Callers must hold at least a read lock.
func (m *MemoryStore) ownsAccountLocked(userID, accountID string) bool {
	account, ok := m.accounts[accountID]
	return ok && account.UserID == userID
}

func sortTransactions(txs []*models.InternalTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}

func sortItems(items []*models.ReconciliationItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

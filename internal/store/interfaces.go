// Package store defines the persistence collaborators the
// reconciliation core depends on, together with a SQLite
// implementation and in-memory doubles for tests.
//
// The core never talks to database/sql directly; everything flows
// through these interfaces so the surrounding application can supply
// its own persistence.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/models"
)

// TransactionStore reads and mutates internally recorded transactions
type TransactionStore interface {
	// GetTransaction resolves a transaction by id, scoped to the
	// requesting user. An id owned by another user is NotFound.
	GetTransaction(ctx context.Context, userID, id string) (*models.InternalTransaction, error)

	// ListTransactionsByAccount returns the account's transactions
	// dated within [from, to] inclusive.
	ListTransactionsByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*models.InternalTransaction, error)

	// ListTransactionsByUser returns every transaction the user owns.
	ListTransactionsByUser(ctx context.Context, userID string) ([]*models.InternalTransaction, error)

	// UpdateTransactionStatus sets the reconciliation status of one
	// transaction.
	UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error
}

// AccountStore reads accounts and maintains their reconciliation metadata
type AccountStore interface {
	// GetAccount resolves an account by id, scoped to the requesting
	// user. An id owned by another user is NotFound.
	GetAccount(ctx context.Context, userID, id string) (*models.Account, error)

	// UpdateReconciliationMetadata records the statement end date and
	// balance of the account's latest completed reconciliation.
	UpdateReconciliationMetadata(ctx context.Context, accountID string, date time.Time, balance decimal.Decimal) error
}

// SessionFilter narrows session listings. Zero-valued fields do not
// filter.
type SessionFilter struct {
	AccountID string
	Status    models.SessionStatus

	// From and To bound the statement end date, inclusive.
	From time.Time
	To   time.Time

	// Limit caps the page size; zero means no paging. Offset skips
	// that many sessions in listing order.
	Limit  int
	Offset int
}

// ReconciliationStore persists sessions and their items
type ReconciliationStore interface {
	CreateSession(ctx context.Context, session *models.ReconciliationSession) error
	GetSession(ctx context.Context, id string) (*models.ReconciliationSession, error)
	UpdateSession(ctx context.Context, session *models.ReconciliationSession) error
	ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]*models.ReconciliationSession, error)

	// TransitionSession atomically moves a session from one status to
	// another. It fails with an InvalidState error when the session is
	// not currently in the from status, which serializes concurrent
	// finalize attempts.
	TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, completedAt *time.Time) error

	CreateItem(ctx context.Context, item *models.ReconciliationItem) error
	GetItem(ctx context.Context, id string) (*models.ReconciliationItem, error)
	UpdateItem(ctx context.Context, item *models.ReconciliationItem) error
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, sessionID string) ([]*models.ReconciliationItem, error)
}

// AuditLogStore is the append-only audit trail
type AuditLogStore interface {
	AppendEntry(ctx context.Context, entry *models.AuditLogEntry) error
	ListEntries(ctx context.Context, sessionID string) ([]*models.AuditLogEntry, error)
}

// ExclusionStore persists duplicate-group dismissals keyed by user and
// canonical transaction-id set
type ExclusionStore interface {
	SaveExclusion(ctx context.Context, exclusion *models.DuplicateExclusion) error
	ListExclusions(ctx context.Context, userID string) ([]*models.DuplicateExclusion, error)
	DeleteExclusion(ctx context.Context, userID, key string) error
}

// Store aggregates every collaborator interface plus the transactional
// and erasure surfaces the core requires.
type Store interface {
	TransactionStore
	AccountStore
	ReconciliationStore
	AuditLogStore
	ExclusionStore

	// WithinTx runs fn inside a single atomic unit of work. Every
	// write fn performs through the passed Store commits together or
	// not at all.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// DeleteUserData cascades deletion of every reconciliation record
	// the user owns. This is the user-data-erasure batch path and the
	// single exception to audit-log immutability.
	DeleteUserData(ctx context.Context, userID string) error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	name                    TEXT NOT NULL,
	last_reconciled_date    TEXT,
	last_reconciled_balance TEXT
);
CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	amount      TEXT NOT NULL,
	date        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_date ON transactions(account_id, date);

CREATE TABLE IF NOT EXISTS reconciliation_sessions (
	id                    TEXT PRIMARY KEY,
	account_id            TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	user_id               TEXT NOT NULL,
	statement_end_date    TEXT NOT NULL,
	statement_end_balance TEXT NOT NULL,
	calculated_balance    TEXT NOT NULL,
	status                TEXT NOT NULL,
	matched_percentage    REAL NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	completed_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON reconciliation_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_account ON reconciliation_sessions(account_id);

CREATE TABLE IF NOT EXISTS reconciliation_items (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES reconciliation_sessions(id) ON DELETE CASCADE,
	type           TEXT NOT NULL,
	bank_line      TEXT,
	transaction_id TEXT NOT NULL DEFAULT '',
	method         TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 0,
	amount         TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_session ON reconciliation_items(session_id);

CREATE TABLE IF NOT EXISTS reconciliation_audit_log (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES reconciliation_sessions(id) ON DELETE CASCADE,
	action     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	old_values TEXT NOT NULL DEFAULT '',
	new_values TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON reconciliation_audit_log(session_id);

CREATE TABLE IF NOT EXISTS duplicate_exclusions (
	user_id         TEXT NOT NULL,
	exclusion_key   TEXT NOT NULL,
	transaction_ids TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (user_id, exclusion_key)
);
`

// querier abstracts *sql.DB and *sql.Tx so every query method works
// both standalone and inside WithinTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLiteStore provides SQLite database access for reconciliation data.
// It implements the Store interface.
type SQLiteStore struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Internal("open database", err)
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.Internal("enable foreign keys", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Internal("apply schema", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn against a transaction-bound view of the store,
// committing on nil and rolling back on error. Nested calls reuse the
// enclosing transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal("begin transaction", err)
	}

	view := &SQLiteStore{db: s.db, q: tx, tx: tx}
	if err := fn(view); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Internal("commit transaction", err)
	}
	return nil
}

// CreateAccount inserts an account row. Account provisioning belongs
// to the surrounding application; this exists for bootstrap and tests.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.Account) error {
	var reconciledDate, reconciledBalance interface{}
	if account.LastReconciledDate != nil {
		reconciledDate = formatTime(*account.LastReconciledDate)
	}
	if account.LastReconciledBalance != nil {
		reconciledBalance = account.LastReconciledBalance.String()
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT INTO accounts (id, user_id, name, last_reconciled_date, last_reconciled_balance) VALUES (?, ?, ?, ?, ?)",
		account.ID, account.UserID, account.Name, reconciledDate, reconciledBalance)
	if err != nil {
		return errors.Internal("create account", err)
	}
	return nil
}

// CreateTransaction inserts an internal transaction row. Transaction
// ingestion belongs to the surrounding application; this exists for
// bootstrap and tests.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, transaction *models.InternalTransaction) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO transactions (id, account_id, amount, date, description, status, external_id) VALUES (?, ?, ?, ?, ?, ?, ?)",
		transaction.ID, transaction.AccountID, transaction.Amount.String(), formatTime(transaction.Date),
		transaction.Description, transaction.Status.String(), transaction.ExternalID)
	if err != nil {
		return errors.Internal("create transaction", err)
	}
	return nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, userID, id string) (*models.InternalTransaction, error) {
	query := `
	SELECT t.id, t.account_id, t.amount, t.date, t.description, t.status, t.external_id
	FROM transactions t
	JOIN accounts a ON a.id = t.account_id
	WHERE t.id = ? AND a.user_id = ?
	`

	transaction, err := scanTransaction(s.q.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.CodeTransactionNotFound, "transaction", id)
	}
	if err != nil {
		return nil, errors.Internal("get transaction", err)
	}
	return transaction, nil
}

func (s *SQLiteStore) ListTransactionsByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*models.InternalTransaction, error) {
	query := `
	SELECT id, account_id, amount, date, description, status, external_id
	FROM transactions
	WHERE account_id = ? AND date >= ? AND date <= ?
	ORDER BY date, id
	`

	rows, err := s.q.QueryContext(ctx, query, accountID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, errors.Internal("list transactions by account", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *SQLiteStore) ListTransactionsByUser(ctx context.Context, userID string) ([]*models.InternalTransaction, error) {
	query := `
	SELECT t.id, t.account_id, t.amount, t.date, t.description, t.status, t.external_id
	FROM transactions t
	JOIN accounts a ON a.id = t.account_id
	WHERE a.user_id = ?
	ORDER BY t.date, t.id
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Internal("list transactions by user", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *SQLiteStore) UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE transactions SET status = ? WHERE id = ?", status.String(), id)
	if err != nil {
		return errors.Internal("update transaction status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("update transaction status", err)
	}
	if affected == 0 {
		return errors.NotFound(errors.CodeTransactionNotFound, "transaction", id)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID, id string) (*models.Account, error) {
	query := `
	SELECT id, user_id, name, last_reconciled_date, last_reconciled_balance
	FROM accounts
	WHERE id = ? AND user_id = ?
	`

	account := &models.Account{}
	var reconciledDate, reconciledBalance sql.NullString
	err := s.q.QueryRowContext(ctx, query, id, userID).Scan(
		&account.ID,
		&account.UserID,
		&account.Name,
		&reconciledDate,
		&reconciledBalance,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.CodeAccountNotFound, "account", id)
	}
	if err != nil {
		return nil, errors.Internal("get account", err)
	}

	if reconciledDate.Valid {
		date, err := parseTime(reconciledDate.String)
		if err != nil {
			return nil, errors.Internal("get account", err)
		}
		account.LastReconciledDate = &date
	}
	if reconciledBalance.Valid {
		balance, err := decimal.NewFromString(reconciledBalance.String)
		if err != nil {
			return nil, errors.Internal("get account", err)
		}
		account.LastReconciledBalance = &balance
	}

	return account, nil
}

func (s *SQLiteStore) UpdateReconciliationMetadata(ctx context.Context, accountID string, date time.Time, balance decimal.Decimal) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE accounts SET last_reconciled_date = ?, last_reconciled_balance = ? WHERE id = ?",
		formatTime(date), balance.String(), accountID)
	if err != nil {
		return errors.Internal("update reconciliation metadata", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("update reconciliation metadata", err)
	}
	if affected == 0 {
		return errors.NotFound(errors.CodeAccountNotFound, "account", accountID)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.ReconciliationSession) error {
	query := `
	INSERT INTO reconciliation_sessions
	(id, account_id, user_id, statement_end_date, statement_end_balance,
	 calculated_balance, status, matched_percentage, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		session.UserID,
		formatTime(session.StatementEndDate),
		session.StatementEndBalance.String(),
		session.CalculatedBalance.String(),
		session.Status.String(),
		session.MatchedPercentage,
		formatTime(session.CreatedAt),
		nullableTime(session.CompletedAt),
	)
	if err != nil {
		return errors.Internal("create session", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ReconciliationSession, error) {
	query := `
	SELECT id, account_id, user_id, statement_end_date, statement_end_balance,
	       calculated_balance, status, matched_percentage, created_at, completed_at
	FROM reconciliation_sessions
	WHERE id = ?
	`

	session, err := scanSession(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", id)
	}
	if err != nil {
		return nil, errors.Internal("get session", err)
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.ReconciliationSession) error {
	query := `
	UPDATE reconciliation_sessions SET
		statement_end_date = ?, statement_end_balance = ?, calculated_balance = ?,
		status = ?, matched_percentage = ?, completed_at = ?
	WHERE id = ?
	`

	result, err := s.q.ExecContext(ctx, query,
		formatTime(session.StatementEndDate),
		session.StatementEndBalance.String(),
		session.CalculatedBalance.String(),
		session.Status.String(),
		session.MatchedPercentage,
		nullableTime(session.CompletedAt),
		session.ID,
	)
	if err != nil {
		return errors.Internal("update session", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("update session", err)
	}
	if affected == 0 {
		return errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", session.ID)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]*models.ReconciliationSession, error) {
	query := `
	SELECT id, account_id, user_id, statement_end_date, statement_end_balance,
	       calculated_balance, status, matched_percentage, created_at, completed_at
	FROM reconciliation_sessions
	WHERE user_id = ?
	`
	args := []interface{}{userID}

	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status.String())
	}
	if !filter.From.IsZero() {
		query += " AND statement_end_date >= ?"
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		query += " AND statement_end_date <= ?"
		args = append(args, formatTime(filter.To))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT clause to apply an offset; -1 means
		// unbounded.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Internal("list sessions", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Internal("list sessions", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("list sessions", err)
	}
	return out, nil
}

// TransitionSession performs a compare-and-swap on the session status.
// The WHERE clause guards the expected source status, so of two
// concurrent transitions exactly one observes an affected row.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, completedAt *time.Time) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE reconciliation_sessions SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ? AND status = ?",
		to.String(), nullableTime(completedAt), id, from.String())
	if err != nil {
		return errors.Internal("transition session", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("transition session", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing session from a lost race.
	var current string
	err = s.q.QueryRowContext(ctx,
		"SELECT status FROM reconciliation_sessions WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return errors.NotFound(errors.CodeSessionNotFound, "reconciliation session", id)
	}
	if err != nil {
		return errors.Internal("transition session", err)
	}
	return errors.InvalidState(errors.CodeSessionNotInProgress,
		"session is not in the expected state for this transition")
}

func (s *SQLiteStore) CreateItem(ctx context.Context, item *models.ReconciliationItem) error {
	bankLine, err := marshalBankLine(item.BankLine)
	if err != nil {
		return errors.Internal("create item", err)
	}

	query := `
	INSERT INTO reconciliation_items
	(id, session_id, type, bank_line, transaction_id, method, confidence,
	 amount, description, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.q.ExecContext(ctx, query,
		item.ID,
		item.SessionID,
		item.Type.String(),
		bankLine,
		item.TransactionID,
		item.Method.String(),
		item.Confidence,
		item.Amount.String(),
		item.Description,
		formatTime(item.CreatedAt),
	)
	if err != nil {
		return errors.Internal("create item", err)
	}
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*models.ReconciliationItem, error) {
	query := `
	SELECT id, session_id, type, bank_line, transaction_id, method, confidence,
	       amount, description, created_at
	FROM reconciliation_items
	WHERE id = ?
	`

	item, err := scanItem(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.CodeItemNotFound, "reconciliation item", id)
	}
	if err != nil {
		return nil, errors.Internal("get item", err)
	}
	return item, nil
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, item *models.ReconciliationItem) error {
	bankLine, err := marshalBankLine(item.BankLine)
	if err != nil {
		return errors.Internal("update item", err)
	}

	query := `
	UPDATE reconciliation_items SET
		type = ?, bank_line = ?, transaction_id = ?, method = ?, confidence = ?,
		amount = ?, description = ?
	WHERE id = ?
	`

	result, err := s.q.ExecContext(ctx, query,
		item.Type.String(),
		bankLine,
		item.TransactionID,
		item.Method.String(),
		item.Confidence,
		item.Amount.String(),
		item.Description,
		item.ID,
	)
	if err != nil {
		return errors.Internal("update item", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("update item", err)
	}
	if affected == 0 {
		return errors.NotFound(errors.CodeItemNotFound, "reconciliation item", item.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM reconciliation_items WHERE id = ?", id); err != nil {
		return errors.Internal("delete item", err)
	}
	return nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, sessionID string) ([]*models.ReconciliationItem, error) {
	query := `
	SELECT id, session_id, type, bank_line, transaction_id, method, confidence,
	       amount, description, created_at
	FROM reconciliation_items
	WHERE session_id = ?
	ORDER BY created_at, id
	`

	rows, err := s.q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Internal("list items", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Internal("list items", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("list items", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
	INSERT INTO reconciliation_audit_log
	(id, session_id, action, user_id, timestamp, old_values, new_values)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		entry.ID,
		entry.SessionID,
		entry.Action.String(),
		entry.UserID,
		formatTime(entry.Timestamp),
		entry.OldValues,
		entry.NewValues,
	)
	if err != nil {
		return errors.Internal("append audit entry", err)
	}
	return nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string) ([]*models.AuditLogEntry, error) {
	query := `
	SELECT id, session_id, action, user_id, timestamp, old_values, new_values
	FROM reconciliation_audit_log
	WHERE session_id = ?
	ORDER BY timestamp, id
	`

	rows, err := s.q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Internal("list audit entries", err)
	}
	defer rows.Close()

	var out []*models.AuditLogEntry
	for rows.Next() {
		entry := &models.AuditLogEntry{}
		var action, timestamp string
		err := rows.Scan(&entry.ID, &entry.SessionID, &action, &entry.UserID,
			&timestamp, &entry.OldValues, &entry.NewValues)
		if err != nil {
			return nil, errors.Internal("list audit entries", err)
		}
		entry.Action = models.AuditAction(action)
		if entry.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, errors.Internal("list audit entries", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("list audit entries", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveExclusion(ctx context.Context, exclusion *models.DuplicateExclusion) error {
	ids, err := json.Marshal(exclusion.TransactionIDs)
	if err != nil {
		return errors.Internal("save exclusion", err)
	}

	query := `
	INSERT OR REPLACE INTO duplicate_exclusions
	(user_id, exclusion_key, transaction_ids, created_at)
	VALUES (?, ?, ?, ?)
	`

	_, err = s.q.ExecContext(ctx, query,
		exclusion.UserID,
		models.ExclusionKey(exclusion.TransactionIDs),
		string(ids),
		formatTime(exclusion.CreatedAt),
	)
	if err != nil {
		return errors.Internal("save exclusion", err)
	}
	return nil
}

func (s *SQLiteStore) ListExclusions(ctx context.Context, userID string) ([]*models.DuplicateExclusion, error) {
	query := `
	SELECT transaction_ids, created_at
	FROM duplicate_exclusions
	WHERE user_id = ?
	ORDER BY created_at
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Internal("list exclusions", err)
	}
	defer rows.Close()

	var out []*models.DuplicateExclusion
	for rows.Next() {
		var ids, createdAt string
		if err := rows.Scan(&ids, &createdAt); err != nil {
			return nil, errors.Internal("list exclusions", err)
		}

		exclusion := &models.DuplicateExclusion{UserID: userID}
		if err := json.Unmarshal([]byte(ids), &exclusion.TransactionIDs); err != nil {
			return nil, errors.Internal("list exclusions", err)
		}
		if exclusion.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.Internal("list exclusions", err)
		}
		out = append(out, exclusion)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("list exclusions", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteExclusion(ctx context.Context, userID, key string) error {
	_, err := s.q.ExecContext(ctx,
		"DELETE FROM duplicate_exclusions WHERE user_id = ? AND exclusion_key = ?", userID, key)
	if err != nil {
		return errors.Internal("delete exclusion", err)
	}
	return nil
}

// DeleteUserData removes every row owned by the user. Foreign keys
// cascade from accounts to transactions and from sessions to items and
// audit entries.
func (s *SQLiteStore) DeleteUserData(ctx context.Context, userID string) error {
	return s.WithinTx(ctx, func(txStore Store) error {
		tx := txStore.(*SQLiteStore)
		statements := []string{
			"DELETE FROM reconciliation_sessions WHERE user_id = ?",
			"DELETE FROM accounts WHERE user_id = ?",
			"DELETE FROM duplicate_exclusions WHERE user_id = ?",
		}
		for _, statement := range statements {
			if _, err := tx.q.ExecContext(ctx, statement, userID); err != nil {
				return errors.Internal("delete user data", err)
			}
		}
		return nil
	})
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*models.InternalTransaction, error) {
	transaction := &models.InternalTransaction{}
	var amount, date, status string
	err := row.Scan(&transaction.ID, &transaction.AccountID, &amount, &date,
		&transaction.Description, &status, &transaction.ExternalID)
	if err != nil {
		return nil, err
	}

	if transaction.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if transaction.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	transaction.Status = models.TransactionStatus(status)
	return transaction, nil
}

func collectTransactions(rows *sql.Rows) ([]*models.InternalTransaction, error) {
	var out []*models.InternalTransaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Internal("scan transaction", err)
		}
		out = append(out, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("scan transaction", err)
	}
	return out, nil
}

func scanSession(row scanner) (*models.ReconciliationSession, error) {
	session := &models.ReconciliationSession{}
	var endDate, endBalance, calcBalance, status, createdAt string
	var completedAt sql.NullString
	err := row.Scan(&session.ID, &session.AccountID, &session.UserID,
		&endDate, &endBalance, &calcBalance, &status,
		&session.MatchedPercentage, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if session.StatementEndDate, err = parseTime(endDate); err != nil {
		return nil, err
	}
	if session.StatementEndBalance, err = decimal.NewFromString(endBalance); err != nil {
		return nil, err
	}
	if session.CalculatedBalance, err = decimal.NewFromString(calcBalance); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		completed, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		session.CompletedAt = &completed
	}
	return session, nil
}

func scanItem(row scanner) (*models.ReconciliationItem, error) {
	item := &models.ReconciliationItem{}
	var itemType, method, amount, createdAt string
	var bankLine sql.NullString
	err := row.Scan(&item.ID, &item.SessionID, &itemType, &bankLine,
		&item.TransactionID, &method, &item.Confidence, &amount,
		&item.Description, &createdAt)
	if err != nil {
		return nil, err
	}

	item.Type = models.ItemType(itemType)
	item.Method = models.MatchMethod(method)
	if bankLine.Valid && bankLine.String != "" {
		line := &models.BankTransactionLine{}
		if err := json.Unmarshal([]byte(bankLine.String), line); err != nil {
			return nil, err
		}
		item.BankLine = line
	}
	if item.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return item, nil
}

func marshalBankLine(line *models.BankTransactionLine) (interface{}, error) {
	if line == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/inbox-declutter/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the AuditStore interface
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite audit store
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			run_id TEXT,
			action TEXT NOT NULL,
			reason TEXT,
			confidence REAL,
			before_labels TEXT,
			after_labels TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Indexes for run rollback and dedup lookups
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_run_id ON audit_entries(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_account_status ON audit_entries(account_id, status)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Insert appends a new audit entry
func (s *SQLiteStore) Insert(ctx context.Context, entry *core.AuditEntry) error {
	before, err := json.Marshal(entry.BeforeLabels)
	if err != nil {
		return fmt.Errorf("failed to encode before labels: %w", err)
	}
	after, err := json.Marshal(entry.AfterLabels)
	if err != nil {
		return fmt.Errorf("failed to encode after labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, account_id, external_id, run_id, action, reason, confidence, before_labels, after_labels, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AccountID, entry.ExternalID, entry.RunID, string(entry.Action), entry.Reason,
		entry.Confidence, string(before), string(after), string(entry.Status), entry.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Get returns one entry by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, run_id, action, reason, confidence, before_labels, after_labels, status, created_at
		FROM audit_entries
		WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("failed to query audit entry: %w", err)
	}
	return entry, nil
}

// UpdateStatus flips an entry's rollback status
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status core.RollbackStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update audit entry status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrEntryNotFound, id)
	}
	return nil
}

// ListByRun returns all entries stamped with the run id
func (s *SQLiteStore) ListByRun(ctx context.Context, runID string) ([]*core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, external_id, run_id, action, reason, confidence, before_labels, after_labels, status, created_at
		FROM audit_entries
		WHERE run_id = ?
		ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run entries: %w", err)
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run entries: %w", err)
	}
	return entries, nil
}

// ProcessedExternalIDs returns the external ids the account already has an
// applied entry for
func (s *SQLiteStore) ProcessedExternalIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT external_id
		FROM audit_entries
		WHERE account_id = ? AND status = ?
	`, accountID, string(core.StatusApplied))
	if err != nil {
		return nil, fmt.Errorf("failed to query processed ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan processed id: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processed ids: %w", err)
	}
	s.logger.Debug("Loaded processed item ids", zap.String("account_id", accountID), zap.Int("count", len(ids)))
	return ids, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*core.AuditEntry, error) {
	var entry core.AuditEntry
	var action, status, before, after, createdAt string

	err := row.Scan(&entry.ID, &entry.AccountID, &entry.ExternalID, &entry.RunID, &action,
		&entry.Reason, &entry.Confidence, &before, &after, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	entry.Action = core.ActionType(action)
	entry.Status = core.RollbackStatus(status)
	if err := json.Unmarshal([]byte(before), &entry.BeforeLabels); err != nil {
		return nil, fmt.Errorf("failed to decode before labels: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &entry.AfterLabels); err != nil {
		return nil, fmt.Errorf("failed to decode after labels: %w", err)
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &entry, nil
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/inbox-declutter/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the AuditStore interface, for
// deployments where several engine instances share one ledger
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore creates a new MySQL audit store
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(255) NOT NULL,
			external_id VARCHAR(255) NOT NULL,
			run_id VARCHAR(36),
			action VARCHAR(16) NOT NULL,
			reason TEXT,
			confidence DOUBLE,
			before_labels TEXT,
			after_labels TEXT,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMP,
			INDEX idx_run_id (run_id),
			INDEX idx_account_status (account_id, status)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{
		db:     db,
		logger: logger,
	}, nil
}

// Insert appends a new audit entry
func (s *MySQLStore) Insert(ctx context.Context, entry *core.AuditEntry) error {
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
		entry.Confidence, string(before), string(after), string(entry.Status), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Get returns one entry by id
func (s *MySQLStore) Get(ctx context.Context, id string) (*core.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, run_id, action, reason, confidence, before_labels, after_labels, status, created_at
		FROM audit_entries
		WHERE id = ?
	`, id)

	entry, err := scanMySQLEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("failed to query audit entry: %w", err)
	}
	return entry, nil
}

// UpdateStatus flips an entry's rollback status
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, status core.RollbackStatus) error {
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
func (s *MySQLStore) ListByRun(ctx context.Context, runID string) ([]*core.AuditEntry, error) {
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
		entry, err := scanMySQLEntry(rows)
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
func (s *MySQLStore) ProcessedExternalIDs(ctx context.Context, accountID string) (map[string]bool, error) {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func scanMySQLEntry(row rowScanner) (*core.AuditEntry, error) {
	var entry core.AuditEntry
	var action, status, before, after string
	var createdAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.AccountID, &entry.ExternalID, &entry.RunID, &action,
		&entry.Reason, &entry.Confidence, &before, &after, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	entry.Action = core.ActionType(action)
	entry.Status = core.RollbackStatus(status)
	if createdAt.Valid {
		entry.CreatedAt = createdAt.Time
	}
	if err := json.Unmarshal([]byte(before), &entry.BeforeLabels); err != nil {
		return nil, fmt.Errorf("failed to decode before labels: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &entry.AfterLabels); err != nil {
		return nil, fmt.Errorf("failed to decode after labels: %w", err)
	}
	return &entry, nil
}

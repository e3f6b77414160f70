package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikey/inbox-declutter/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the AuditStore interface
type MemoryStore struct {
	entries map[string]*core.AuditEntry
	order   []string // insertion order, for stable run listings
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory audit store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*core.AuditEntry),
		logger:  logger,
	}
}

// Insert appends a new audit entry
func (s *MemoryStore) Insert(ctx context.Context, entry *core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("duplicate audit entry id %s", entry.ID)
	}
	copied := *entry
	s.entries[entry.ID] = &copied
	s.order = append(s.order, entry.ID)
	return nil
}

// Get returns one entry by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, id)
	}
	copied := *entry
	return &copied, nil
}

// UpdateStatus flips an entry's rollback status
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status core.RollbackStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrEntryNotFound, id)
	}
	entry.Status = status
	return nil
}

// ListByRun returns all entries stamped with the run id
func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]*core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*core.AuditEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.RunID == runID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

// ProcessedExternalIDs returns the external ids the account already has an
// applied entry for
func (s *MemoryStore) ProcessedExternalIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]bool)
	for _, entry := range s.entries {
		if entry.AccountID == accountID && entry.Status == core.StatusApplied {
			ids[entry.ExternalID] = true
		}
	}
	s.logger.Debug("Loaded processed item ids", zap.String("account_id", accountID), zap.Int("count", len(ids)))
	return ids, nil
}

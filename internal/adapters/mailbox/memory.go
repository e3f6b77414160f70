package mailbox

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMaxBatchSize matches the batch ceiling of typical mailbox providers
const DefaultMaxBatchSize = 50

// Memory is an in-memory implementation of the MailboxAPI interface. Label
// state is a per-item set keyed by account and external id.
type Memory struct {
	mu     sync.RWMutex
	labels map[string]map[string]bool // key: accountID/externalID
}

// NewMemory creates an empty in-memory mailbox
func NewMemory() *Memory {
	return &Memory{
		labels: make(map[string]map[string]bool),
	}
}

func key(accountID, externalID string) string {
	return accountID + "/" + externalID
}

// Seed sets an item's initial label state
func (m *Memory) Seed(accountID, externalID string, labels []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	m.labels[key(accountID, externalID)] = set
}

// Labels returns the item's current labels
func (m *Memory) Labels(ctx context.Context, accountID, externalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.labels[key(accountID, externalID)]
	if !ok {
		return nil, fmt.Errorf("item %s not found", externalID)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out, nil
}

// Mutate adds and removes labels on one item atomically
func (m *Memory) Mutate(ctx context.Context, accountID, externalID string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(accountID, externalID, add, remove)
}

// MutateBatch applies a uniform label change to several items
func (m *Memory) MutateBatch(ctx context.Context, accountID string, externalIDs []string, add, remove []string) error {
	if len(externalIDs) > m.MaxBatchSize() {
		return fmt.Errorf("batch of %d exceeds maximum %d", len(externalIDs), m.MaxBatchSize())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range externalIDs {
		if err := m.mutateLocked(accountID, id, add, remove); err != nil {
			return err
		}
	}
	return nil
}

// MaxBatchSize is the ceiling on MutateBatch item counts
func (m *Memory) MaxBatchSize() int {
	return DefaultMaxBatchSize
}

func (m *Memory) mutateLocked(accountID, externalID string, add, remove []string) error {
	set, ok := m.labels[key(accountID, externalID)]
	if !ok {
		return fmt.Errorf("item %s not found", externalID)
	}
	for _, l := range remove {
		delete(set, l)
	}
	for _, l := range add {
		set[l] = true
	}
	return nil
}

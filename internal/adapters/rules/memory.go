package rules

import (
	"context"
	"sync"

	"github.com/mikey/inbox-declutter/internal/core"
)

// MemoryStore is a seedable in-memory implementation of the RuleStore
// interface, used for tests and single-process deployments where the rule
// administrator loads configuration at startup.
type MemoryStore struct {
	mu          sync.RWMutex
	senderRules map[string][]*core.SenderRule
	domainRules map[string][]*core.DomainRule
	categories  map[string][]*core.Category
	policies    map[string][]*core.CategoryPolicy
}

// NewMemoryStore creates an empty in-memory rule store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		senderRules: make(map[string][]*core.SenderRule),
		domainRules: make(map[string][]*core.DomainRule),
		categories:  make(map[string][]*core.Category),
		policies:    make(map[string][]*core.CategoryPolicy),
	}
}

// SeedCategory adds a category for an account
func (s *MemoryStore) SeedCategory(accountID string, c *core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[accountID] = append(s.categories[accountID], c)
}

// SeedSenderRule adds a sender rule for an account
func (s *MemoryStore) SeedSenderRule(accountID string, r *core.SenderRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderRules[accountID] = append(s.senderRules[accountID], r)
}

// SeedDomainRule adds a domain rule for an account
func (s *MemoryStore) SeedDomainRule(accountID string, r *core.DomainRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainRules[accountID] = append(s.domainRules[accountID], r)
}

// SeedPolicy adds a category policy for an account
func (s *MemoryStore) SeedPolicy(accountID string, p *core.CategoryPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[accountID] = append(s.policies[accountID], p)
}

// SenderRules returns all exact-address rules for the account
func (s *MemoryStore) SenderRules(ctx context.Context, accountID string) ([]*core.SenderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.SenderRule(nil), s.senderRules[accountID]...), nil
}

// DomainRules returns all sender-domain rules for the account
func (s *MemoryStore) DomainRules(ctx context.Context, accountID string) ([]*core.DomainRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.DomainRule(nil), s.domainRules[accountID]...), nil
}

// Categories returns all categories for the account
func (s *MemoryStore) Categories(ctx context.Context, accountID string) ([]*core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.Category(nil), s.categories[accountID]...), nil
}

// Policies returns all active category policies for the account
func (s *MemoryStore) Policies(ctx context.Context, accountID string) ([]*core.CategoryPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.CategoryPolicy(nil), s.policies[accountID]...), nil
}

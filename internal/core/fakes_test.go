package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// fakeRuleStore serves fixed rule slices, optionally failing every read.
type fakeRuleStore struct {
	senderRules []*SenderRule
	domainRules []*DomainRule
	categories  []*Category
	policies    []*CategoryPolicy
	failAll     bool
}

func (f *fakeRuleStore) SenderRules(ctx context.Context, accountID string) ([]*SenderRule, error) {
	if f.failAll {
		return nil, errors.New("rule store unavailable")
	}
	return f.senderRules, nil
}

func (f *fakeRuleStore) DomainRules(ctx context.Context, accountID string) ([]*DomainRule, error) {
	if f.failAll {
		return nil, errors.New("rule store unavailable")
	}
	return f.domainRules, nil
}

func (f *fakeRuleStore) Categories(ctx context.Context, accountID string) ([]*Category, error) {
	if f.failAll {
		return nil, errors.New("rule store unavailable")
	}
	return f.categories, nil
}

func (f *fakeRuleStore) Policies(ctx context.Context, accountID string) ([]*CategoryPolicy, error) {
	if f.failAll {
		return nil, errors.New("rule store unavailable")
	}
	return f.policies, nil
}

// fakeItemSource pages over a fixed slice with numeric offset cursors,
// reporting current labels from the fake mailbox when one is attached.
type fakeItemSource struct {
	items   []*Item
	mailbox *fakeMailbox
}

func (f *fakeItemSource) ListInbox(ctx context.Context, accountID, cursor string, limit int) (*ItemPage, error) {
	offset := 0
	if cursor != "" {
		var err error
		if offset, err = strconv.Atoi(cursor); err != nil {
			return nil, err
		}
	}

	page := &ItemPage{}
	pos := offset
	for ; pos < len(f.items) && len(page.Items) < limit; pos++ {
		item := f.items[pos]
		if item.AccountID != accountID {
			continue
		}
		labels := item.Labels
		if f.mailbox != nil {
			var err error
			if labels, err = f.mailbox.Labels(ctx, accountID, item.ExternalID); err != nil {
				return nil, err
			}
		}
		if !containsLabel(labels, FlagInbox) {
			continue
		}
		copied := *item
		copied.Labels = labels
		page.Items = append(page.Items, &copied)
	}
	if pos < len(f.items) {
		page.NextCursor = strconv.Itoa(pos)
	}
	return page, nil
}

func containsLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// mutationCall records one point or batch mutation for assertions.
type mutationCall struct {
	externalIDs []string
	add         []string
	remove      []string
}

// fakeMailbox tracks label sets and can be told to fail specific items.
type fakeMailbox struct {
	mu        sync.Mutex
	labels    map[string]map[string]bool // externalID -> label set
	failOn    map[string]error           // externalID -> forced mutation error
	mutations []mutationCall
	batchMax  int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		labels: make(map[string]map[string]bool),
		failOn: make(map[string]error),
	}
}

func (f *fakeMailbox) seed(externalID string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	f.labels[externalID] = set
}

func (f *fakeMailbox) Labels(ctx context.Context, accountID, externalID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.labels[externalID]
	if !ok {
		return nil, fmt.Errorf("item %s not found", externalID)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeMailbox) Mutate(ctx context.Context, accountID, externalID string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[externalID]; ok {
		return err
	}
	set, ok := f.labels[externalID]
	if !ok {
		return fmt.Errorf("item %s not found", externalID)
	}
	for _, l := range remove {
		delete(set, l)
	}
	for _, l := range add {
		set[l] = true
	}
	f.mutations = append(f.mutations, mutationCall{externalIDs: []string{externalID}, add: add, remove: remove})
	return nil
}

func (f *fakeMailbox) MutateBatch(ctx context.Context, accountID string, externalIDs []string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range externalIDs {
		if err, ok := f.failOn[id]; ok {
			return err
		}
	}
	for _, id := range externalIDs {
		set, ok := f.labels[id]
		if !ok {
			return fmt.Errorf("item %s not found", id)
		}
		for _, l := range remove {
			delete(set, l)
		}
		for _, l := range add {
			set[l] = true
		}
	}
	f.mutations = append(f.mutations, mutationCall{externalIDs: externalIDs, add: add, remove: remove})
	return nil
}

func (f *fakeMailbox) MaxBatchSize() int {
	if f.batchMax > 0 {
		return f.batchMax
	}
	return 50
}

func (f *fakeMailbox) has(externalID, label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[externalID][label]
}

func (f *fakeMailbox) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mutations)
}

// fakeAuditStore is a minimal in-memory AuditStore.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries map[string]*AuditEntry
	order   []string
	failIns error
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{entries: make(map[string]*AuditEntry)}
}

func (f *fakeAuditStore) Insert(ctx context.Context, entry *AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIns != nil {
		return f.failIns
	}
	copied := *entry
	f.entries[entry.ID] = &copied
	f.order = append(f.order, entry.ID)
	return nil
}

func (f *fakeAuditStore) Get(ctx context.Context, id string) (*AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeAuditStore) UpdateStatus(ctx context.Context, id string, status RollbackStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	entry.Status = status
	return nil
}

func (f *fakeAuditStore) ListByRun(ctx context.Context, runID string) ([]*AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*AuditEntry
	for _, id := range f.order {
		if f.entries[id].RunID == runID {
			copied := *f.entries[id]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) ProcessedExternalIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool)
	for _, entry := range f.entries {
		if entry.AccountID == accountID && entry.Status == StatusApplied {
			ids[entry.ExternalID] = true
		}
	}
	return ids, nil
}

func (f *fakeAuditStore) byRun(runID string) []*AuditEntry {
	out, _ := f.ListByRun(context.Background(), runID)
	return out
}

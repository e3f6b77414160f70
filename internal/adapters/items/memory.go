package items

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mikey/inbox-declutter/internal/core"
)

// LabelReader supplies current label state for scanned items, so a scan
// reflects moves that happened after the item was seeded. The mailbox
// memory adapter satisfies it.
type LabelReader interface {
	Labels(ctx context.Context, accountID, externalID string) ([]string, error)
}

// Memory is a seedable in-memory implementation of the ItemSource interface
type Memory struct {
	mu     sync.RWMutex
	items  map[string][]*core.Item // by account id
	labels LabelReader             // optional
}

// NewMemory creates an empty in-memory item source. labels may be nil, in
// which case scans report each item's seeded label state.
func NewMemory(labels LabelReader) *Memory {
	return &Memory{
		items:  make(map[string][]*core.Item),
		labels: labels,
	}
}

// Seed adds an item for an account
func (m *Memory) Seed(item *core.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accountItems := append(m.items[item.AccountID], item)
	// Keep arrival-then-id order so cursoring is deterministic and resumable
	sort.Slice(accountItems, func(i, j int) bool {
		if accountItems[i].ArrivedAt.Equal(accountItems[j].ArrivedAt) {
			return accountItems[i].ID < accountItems[j].ID
		}
		return accountItems[i].ArrivedAt.Before(accountItems[j].ArrivedAt)
	})
	m.items[item.AccountID] = accountItems
}

// ListInbox returns a page of items currently carrying the inbox flag
func (m *Memory) ListInbox(ctx context.Context, accountID, cursor string, limit int) (*core.ItemPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	offset := 0
	if cursor != "" {
		var err error
		if offset, err = strconv.Atoi(cursor); err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
	}

	accountItems := m.items[accountID]
	page := &core.ItemPage{}
	pos := offset
	for ; pos < len(accountItems) && len(page.Items) < limit; pos++ {
		item := accountItems[pos]
		labels, err := m.currentLabels(ctx, item)
		if err != nil {
			return nil, err
		}
		if !hasLabel(labels, core.FlagInbox) {
			continue
		}
		copied := *item
		copied.Labels = labels
		page.Items = append(page.Items, &copied)
	}
	if pos < len(accountItems) {
		page.NextCursor = strconv.Itoa(pos)
	}
	return page, nil
}

func (m *Memory) currentLabels(ctx context.Context, item *core.Item) ([]string, error) {
	if m.labels == nil {
		return append([]string(nil), item.Labels...), nil
	}
	return m.labels.Labels(ctx, item.AccountID, item.ExternalID)
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

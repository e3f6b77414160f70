package core

import (
	"context"
)

// RuleStore defines read access to the rule and policy configuration for an
// account owner. All four reads happen once per run, never per item.
type RuleStore interface {
	// SenderRules returns all exact-address rules for the account
	SenderRules(ctx context.Context, accountID string) ([]*SenderRule, error)

	// DomainRules returns all sender-domain rules for the account
	DomainRules(ctx context.Context, accountID string) ([]*DomainRule, error)

	// Categories returns all categories, including protected flags
	Categories(ctx context.Context, accountID string) ([]*Category, error)

	// Policies returns all active category policies
	Policies(ctx context.Context, accountID string) ([]*CategoryPolicy, error)
}

// ItemPage is one page of a cursor-based item scan
type ItemPage struct {
	Items      []*Item
	NextCursor string // empty when the scan is exhausted
}

// ItemSource defines paged, deterministic enumeration of inbound items
type ItemSource interface {
	// ListInbox returns items currently carrying the inbox flag, ordered by
	// arrival time then identity so cursoring is deterministic and resumable
	ListInbox(ctx context.Context, accountID, cursor string, limit int) (*ItemPage, error)
}

// MailboxAPI defines mutation of external label/flag state
type MailboxAPI interface {
	// Labels returns the item's current external labels. Called immediately
	// before each mutation to capture accurate before/after snapshots.
	Labels(ctx context.Context, accountID, externalID string) ([]string, error)

	// Mutate adds and removes labels on one item in a single atomic call
	Mutate(ctx context.Context, accountID, externalID string, add, remove []string) error

	// MutateBatch applies a uniform label change to up to MaxBatchSize items
	MutateBatch(ctx context.Context, accountID string, externalIDs []string, add, remove []string) error

	// MaxBatchSize is the provider's ceiling on MutateBatch item counts
	MaxBatchSize() int
}

// AuditStore defines persistence for the append-only audit ledger
type AuditStore interface {
	// Insert appends a new entry; entry ids are globally unique
	Insert(ctx context.Context, entry *AuditEntry) error

	// Get returns one entry by id, or ErrEntryNotFound
	Get(ctx context.Context, id string) (*AuditEntry, error)

	// UpdateStatus flips an entry's rollback status
	UpdateStatus(ctx context.Context, id string, status RollbackStatus) error

	// ListByRun returns all entries stamped with the run id
	ListByRun(ctx context.Context, runID string) ([]*AuditEntry, error)

	// ProcessedExternalIDs returns the external identities of all items the
	// account has an applied archive/spam entry for, used for dedup
	ProcessedExternalIDs(ctx context.Context, accountID string) (map[string]bool, error)
}

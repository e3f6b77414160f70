package core

import (
	"time"
)

// Well-known external flags and the durable marker added by archiving.
const (
	FlagInbox       = "inbox"
	FlagSpam        = "spam"
	FlagDecluttered = "decluttered"
)

// ProvenanceClassifier is the provenance tag an ExternalSignal must carry to
// be trusted as coming from the upstream classifier.
const ProvenanceClassifier = "classifier"

// DefaultCategoryName is the conventional fallback category.
const DefaultCategoryName = "Other"

// Category is a node in the display-only category tree
type Category struct {
	ID        string
	Name      string
	ParentID  string // display only, never used for precedence
	Protected bool
}

// SenderRule maps an exact sender address to a category (highest precedence)
type SenderRule struct {
	Address    string
	CategoryID string
}

// DomainRule maps a sender domain to a category (second precedence)
type DomainRule struct {
	Domain     string
	CategoryID string
}

// ExternalSignal is an opaque classification attached to an item upstream
type ExternalSignal struct {
	CategoryID string
	Confidence float64
	Provenance string
}

// PolicyKind enumerates the supported category policy kinds
type PolicyKind string

const (
	PolicyNone              PolicyKind = "none"
	PolicyLabelOnly         PolicyKind = "label_only"
	PolicyDigest            PolicyKind = "digest"
	PolicyArchiveAfterHours PolicyKind = "archive_after_hours"
	PolicyArchiveAfterDays  PolicyKind = "archive_after_days"
	PolicyMoveToSpam        PolicyKind = "move_to_spam"
)

// CategoryPolicy is the at-most-one active disposition policy for a category
type CategoryPolicy struct {
	CategoryID string
	Kind       PolicyKind
	AfterHours int // archive_after_hours only
	AfterDays  int // archive_after_days only
}

// Item is one inbound mail item as last synced from the external store
type Item struct {
	ID         string
	AccountID  string
	ExternalID string
	From       string
	ArrivedAt  time.Time
	Labels     []string // current external labels, refreshed by sync
	Signal     *ExternalSignal
}

// Disposition is the effect chosen for an item
type Disposition string

const (
	DispositionNone      Disposition = "none"
	DispositionLabelOnly Disposition = "label_only"
	DispositionDigest    Disposition = "digest"
	DispositionArchive   Disposition = "archive"
	DispositionSpam      Disposition = "spam"
)

// SourceKind identifies where a candidate category or an override came from.
// The set is closed so traces stay exhaustively testable.
type SourceKind string

const (
	SourceSenderRule    SourceKind = "sender_rule"
	SourceDomainRule    SourceKind = "domain_rule"
	SourceSignal        SourceKind = "external_signal"
	SourceDefault       SourceKind = "default_category"
	SourcePolicy        SourceKind = "category_policy"
	SourceProtected     SourceKind = "protected_category"
	SourceInvalidPolicy SourceKind = "invalid_policy"
)

// Candidate is one category source considered during precedence resolution
type Candidate struct {
	Source     SourceKind
	CategoryID string
	Confidence float64 // signals only; rule matches are 1.0
	Detail     string  // matched address, domain, or provenance tag
}

// Override records that one source displaced the outcome of another
type Override struct {
	Source     SourceKind // the source that caused the override
	Overridden SourceKind // the source whose outcome was displaced
	Reason     string
}

// Trace explains a Decision: the winning source, everything considered,
// and every override applied
type Trace struct {
	Winner     *Candidate
	Candidates []Candidate
	Overrides  []Override
}

// Decision is the pure output of the decision engine for one item.
// Never persisted; callers recompute it on demand so it always reflects
// the current rules and policies.
type Decision struct {
	CategoryID  string // empty when unresolved
	Action      Disposition
	ScheduledAt *time.Time // archive dispositions only
	Confidence  float64
	Trace       Trace
}

// ActionType is the audited mutation kind
type ActionType string

const (
	ActionArchive ActionType = "ARCHIVE"
	ActionSpam    ActionType = "SPAM"
)

// RollbackStatus tracks the one-way applied -> reverted transition
type RollbackStatus string

const (
	StatusApplied  RollbackStatus = "applied"
	StatusReverted RollbackStatus = "reverted"
)

// AuditEntry is the append-only record of one executed mutation
type AuditEntry struct {
	ID           string
	AccountID    string
	ExternalID   string
	RunID        string
	Action       ActionType
	Reason       string
	Confidence   float64
	BeforeLabels []string
	AfterLabels  []string
	Status       RollbackStatus
	CreatedAt    time.Time
}

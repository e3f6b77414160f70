package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrEntryNotFound is returned when an audit entry does not exist
	ErrEntryNotFound = errors.New("audit entry not found")
	// ErrAlreadyReverted is returned when rolling back an entry twice.
	// Callers must not retry this automatically.
	ErrAlreadyReverted = errors.New("audit entry already reverted")
)

// Ledger records executed mutations and reverses them, individually or as a
// whole run. Entries are append-only; the only update ever applied is the
// one-way applied -> reverted status flip.
type Ledger struct {
	audit   AuditStore
	mailbox MailboxAPI
	logger  *zap.Logger
}

// NewLedger creates a new audit and rollback ledger
func NewLedger(audit AuditStore, mailbox MailboxAPI, logger *zap.Logger) *Ledger {
	return &Ledger{
		audit:   audit,
		mailbox: mailbox,
		logger:  logger,
	}
}

// ActionRecord carries everything needed to audit one successful mutation
type ActionRecord struct {
	AccountID    string
	ExternalID   string
	RunID        string
	Action       ActionType
	Reason       string
	Confidence   float64
	BeforeLabels []string
	AfterLabels  []string
}

// RecordAction appends one audit entry for a mutation that just succeeded
func (l *Ledger) RecordAction(ctx context.Context, rec ActionRecord) (*AuditEntry, error) {
	entry := &AuditEntry{
		ID:           uuid.NewString(),
		AccountID:    rec.AccountID,
		ExternalID:   rec.ExternalID,
		RunID:        rec.RunID,
		Action:       rec.Action,
		Reason:       rec.Reason,
		Confidence:   rec.Confidence,
		BeforeLabels: rec.BeforeLabels,
		AfterLabels:  rec.AfterLabels,
		Status:       StatusApplied,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.audit.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}
	return entry, nil
}

// RollbackEntry reverses a single applied entry. The restore is an exact
// inverse against the item's current labels, not a reset to a fixed state:
// labels the item acquired externally since the action are left alone.
func (l *Ledger) RollbackEntry(ctx context.Context, entryID string) error {
	entry, err := l.audit.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == StatusReverted {
		return fmt.Errorf("%w: %s", ErrAlreadyReverted, entryID)
	}

	current, err := l.mailbox.Labels(ctx, entry.AccountID, entry.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to read current labels for %s: %w", entry.ExternalID, err)
	}

	add, remove := restoreDelta(entry.BeforeLabels, entry.AfterLabels, current)
	if len(add) > 0 || len(remove) > 0 {
		if err := l.mailbox.Mutate(ctx, entry.AccountID, entry.ExternalID, add, remove); err != nil {
			return fmt.Errorf("failed to restore labels for %s: %w", entry.ExternalID, err)
		}
	}

	if err := l.audit.UpdateStatus(ctx, entry.ID, StatusReverted); err != nil {
		return fmt.Errorf("failed to mark entry %s reverted: %w", entry.ID, err)
	}

	l.logger.Info("Rolled back audit entry",
		zap.String("entry_id", entry.ID),
		zap.String("external_id", entry.ExternalID),
		zap.String("action", string(entry.Action)),
		zap.Strings("added", add),
		zap.Strings("removed", remove))
	return nil
}

// RollbackReport summarizes a whole-run rollback
type RollbackReport struct {
	RunID    string
	Reverted int
	Errors   []ItemError
}

// RollbackRun reverses every still-applied entry of a run, continuing past
// individual failures. Calling it again on the same run finds nothing left
// in applied state and reverts zero entries.
func (l *Ledger) RollbackRun(ctx context.Context, runID string) (*RollbackReport, error) {
	entries, err := l.audit.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for run %s: %w", runID, err)
	}

	report := &RollbackReport{RunID: runID}
	for _, entry := range entries {
		if entry.Status != StatusApplied {
			continue
		}
		if err := l.RollbackEntry(ctx, entry.ID); err != nil {
			l.logger.Error("Failed to roll back entry",
				zap.String("entry_id", entry.ID),
				zap.String("run_id", runID),
				zap.Error(err))
			report.Errors = append(report.Errors, ItemError{ExternalID: entry.ExternalID, Err: err.Error()})
			continue
		}
		report.Reverted++
	}

	l.logger.Info("Run rollback finished",
		zap.String("run_id", runID),
		zap.Int("reverted", report.Reverted),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// restoreDelta computes the label change that restores the before snapshot:
// re-add anything present before but missing now, and strip anything the
// action added that is still present. Everything else stays untouched.
func restoreDelta(before, after, current []string) (add, remove []string) {
	beforeSet := toSet(before)
	currentSet := toSet(current)

	for _, label := range before {
		if !currentSet[label] {
			add = append(add, label)
		}
	}
	for _, label := range after {
		if !beforeSet[label] && currentSet[label] {
			remove = append(remove, label)
		}
	}
	return add, remove
}

func toSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

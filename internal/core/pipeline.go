package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineConfig bounds one pipeline invocation
type PipelineConfig struct {
	// MaxActionsPerRun caps mutations per invocation to respect provider
	// rate limits; callers re-invoke to drain a larger backlog
	MaxActionsPerRun int

	// MaxScan is the hard ceiling on items examined per invocation
	MaxScan int

	// PageSize is the cursor page size for item scans
	PageSize int

	// AccountConcurrency bounds how many accounts RunAccounts mutates at once
	AccountConcurrency int

	// BatchDelay is the pause between per-account batches in RunAccounts
	BatchDelay time.Duration

	Settings ContextSettings
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.MaxActionsPerRun <= 0 {
		c.MaxActionsPerRun = 100
	}
	if c.MaxScan <= 0 {
		c.MaxScan = 1000
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.AccountConcurrency <= 0 {
		c.AccountConcurrency = 3
	}
	return c
}

// ItemError is one per-item failure surfaced by a run
type ItemError struct {
	ExternalID string
	Err        string
}

// PreviewReport aggregates a dry run. Nothing is mutated.
type PreviewReport struct {
	Scanned           int
	Eligible          int
	ByCategory        map[string]int
	ProtectedExcluded int
}

// RunReport summarizes one execute invocation
type RunReport struct {
	RunID     string
	Scanned   int
	Executed  int
	Remaining int
	Errors    []ItemError
}

// BulkReport summarizes one bulk age-based archive invocation
type BulkReport struct {
	Matched          int
	Archived         int
	SkippedProtected int
	Errors           []string
}

// Pipeline converts decisions into external state changes, exactly once per
// item, with bounded scans and graceful partial failure.
type Pipeline struct {
	rules   RuleStore
	items   ItemSource
	mailbox MailboxAPI
	audit   AuditStore
	ledger  *Ledger
	logger  *zap.Logger
	cfg     PipelineConfig
}

// NewPipeline creates a new execution pipeline
func NewPipeline(rules RuleStore, items ItemSource, mailbox MailboxAPI, audit AuditStore, ledger *Ledger, logger *zap.Logger, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		rules:   rules,
		items:   items,
		mailbox: mailbox,
		audit:   audit,
		ledger:  ledger,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Preview scans a bounded window of candidate items and reports what an
// execute invocation would do, without calling the mutation API. Items whose
// resolved category is protected are counted separately so the effect of
// protection is visible before committing.
func (p *Pipeline) Preview(ctx context.Context, accountID string) (*PreviewReport, error) {
	dctx, err := BuildDecisionContext(ctx, p.rules, accountID, p.cfg.Settings)
	if err != nil {
		return nil, err
	}
	processed, err := p.audit.ProcessedExternalIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed item ids: %w", err)
	}

	now := time.Now()
	report := &PreviewReport{ByCategory: make(map[string]int)}

	scanned, err := p.scan(ctx, accountID, processed, nil, func(item *Item) bool {
		d := Decide(item, dctx)
		if protectedExcluded(d) {
			report.ProtectedExcluded++
			return true
		}
		if eligible(d, now) {
			report.Eligible++
			report.ByCategory[d.CategoryID]++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	report.Scanned = scanned
	return report, nil
}

// Execute runs one bounded batch of dispositions. The rule context is built
// once and reused for every item; items already handled by a prior run are
// excluded via the audit ledger; a single item's failure never aborts the
// batch.
func (p *Pipeline) Execute(ctx context.Context, accountID string) (*RunReport, error) {
	dctx, err := BuildDecisionContext(ctx, p.rules, accountID, p.cfg.Settings)
	if err != nil {
		return nil, err
	}
	processed, err := p.audit.ProcessedExternalIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed item ids: %w", err)
	}

	now := time.Now()
	report := &RunReport{RunID: uuid.NewString()}

	type selection struct {
		item     *Item
		decision *Decision
	}
	var selected []selection

	scanned, err := p.scan(ctx, accountID, processed, nil, func(item *Item) bool {
		d := Decide(item, dctx)
		if !eligible(d, now) {
			return true
		}
		selected = append(selected, selection{item: item, decision: d})
		return len(selected) < p.cfg.MaxActionsPerRun
	})
	if err != nil {
		return nil, err
	}
	report.Scanned = scanned

	for _, sel := range selected {
		if err := p.executeOne(ctx, report.RunID, sel.item, sel.decision); err != nil {
			p.logger.Warn("Disposition failed, continuing batch",
				zap.String("external_id", sel.item.ExternalID),
				zap.String("run_id", report.RunID),
				zap.Error(err))
			report.Errors = append(report.Errors, ItemError{ExternalID: sel.item.ExternalID, Err: err.Error()})
			continue
		}
		processed[sel.item.ExternalID] = true
		report.Executed++
	}

	remaining, err := p.countRemaining(ctx, accountID, dctx, processed, now)
	if err != nil {
		// The batch itself succeeded; an inaccurate backlog estimate is not
		// worth failing the run over.
		p.logger.Warn("Failed to estimate remaining backlog", zap.Error(err))
	} else {
		report.Remaining = remaining
	}

	p.logger.Info("Declutter run finished",
		zap.String("account_id", accountID),
		zap.String("run_id", report.RunID),
		zap.Int("scanned", report.Scanned),
		zap.Int("executed", report.Executed),
		zap.Int("remaining", report.Remaining),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// executeOne applies one disposition: a fresh point read of the current
// labels, a single atomic mutation, then a synchronous audit write.
func (p *Pipeline) executeOne(ctx context.Context, runID string, item *Item, d *Decision) error {
	var action ActionType
	var add []string
	switch d.Action {
	case DispositionArchive:
		action = ActionArchive
		add = []string{FlagDecluttered}
	case DispositionSpam:
		action = ActionSpam
		add = []string{FlagSpam}
	default:
		return fmt.Errorf("disposition %q is not executable", d.Action)
	}
	remove := []string{FlagInbox}

	before, err := p.mailbox.Labels(ctx, item.AccountID, item.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to read current labels: %w", err)
	}
	if err := p.mailbox.Mutate(ctx, item.AccountID, item.ExternalID, add, remove); err != nil {
		return fmt.Errorf("mutation failed: %w", err)
	}

	_, err = p.ledger.RecordAction(ctx, ActionRecord{
		AccountID:    item.AccountID,
		ExternalID:   item.ExternalID,
		RunID:        runID,
		Action:       action,
		Reason:       summarizeTrace(d),
		Confidence:   d.Confidence,
		BeforeLabels: before,
		AfterLabels:  applyDelta(before, add, remove),
	})
	return err
}

// ArchiveOlderThan is the bulk age-based path: every inbox item older than
// the cutoff is archived through the provider's batch mutation, with no
// per-item audit entries and no rollback. It bypasses the trace machinery,
// which has nothing to explain for a pure age sweep, but still resolves each
// item's category so protected categories cannot be swept.
func (p *Pipeline) ArchiveOlderThan(ctx context.Context, accountID string, olderThan time.Duration) (*BulkReport, error) {
	dctx, err := BuildDecisionContext(ctx, p.rules, accountID, p.cfg.Settings)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	report := &BulkReport{}

	var ids []string
	_, err = p.scan(ctx, accountID, nil, nil, func(item *Item) bool {
		if item.ArrivedAt.After(cutoff) {
			return true
		}
		d := Decide(item, dctx)
		if cat := dctx.Categories[d.CategoryID]; cat != nil && cat.Protected {
			report.SkippedProtected++
			return true
		}
		ids = append(ids, item.ExternalID)
		return true
	})
	if err != nil {
		return nil, err
	}
	report.Matched = len(ids)

	batchSize := p.mailbox.MaxBatchSize()
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := p.mailbox.MutateBatch(ctx, accountID, chunk, []string{FlagDecluttered}, []string{FlagInbox}); err != nil {
			p.logger.Warn("Bulk archive batch failed, continuing",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(chunk)),
				zap.Error(err))
			report.Errors = append(report.Errors, fmt.Sprintf("batch of %d starting at %s: %v", len(chunk), chunk[0], err))
			continue
		}
		report.Archived += len(chunk)
	}

	p.logger.Info("Bulk archive finished",
		zap.String("account_id", accountID),
		zap.Int("matched", report.Matched),
		zap.Int("archived", report.Archived),
		zap.Int("skipped_protected", report.SkippedProtected),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// RunAccounts executes several accounts with a bounded concurrency window.
// Mutations within one account stay sequential; the delay between accounts
// picked up by the same slot keeps the external provider's rate limits happy.
func (p *Pipeline) RunAccounts(ctx context.Context, accountIDs []string) (map[string]*RunReport, map[string]error) {
	reports := make(map[string]*RunReport, len(accountIDs))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	slots := make(chan struct{}, p.cfg.AccountConcurrency)

	for _, accountID := range accountIDs {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			report, err := p.Execute(ctx, accountID)
			mu.Lock()
			if err != nil {
				errs[accountID] = err
			} else {
				reports[accountID] = report
			}
			mu.Unlock()

			if p.cfg.BatchDelay > 0 {
				time.Sleep(p.cfg.BatchDelay)
			}
		}(accountID)
	}
	wg.Wait()
	return reports, errs
}

// scan pages through the account's inbox, skipping already-processed ids and
// items newer than cutoff (when set), up to the configured scan ceiling.
// visit returns false to stop early.
func (p *Pipeline) scan(ctx context.Context, accountID string, processed map[string]bool, cutoff *time.Time, visit func(*Item) bool) (int, error) {
	scanned := 0
	cursor := ""
	for scanned < p.cfg.MaxScan {
		limit := p.cfg.PageSize
		if rest := p.cfg.MaxScan - scanned; rest < limit {
			limit = rest
		}
		page, err := p.items.ListInbox(ctx, accountID, cursor, limit)
		if err != nil {
			return scanned, fmt.Errorf("failed to enumerate candidate items: %w", err)
		}
		for _, item := range page.Items {
			scanned++
			if processed != nil && processed[item.ExternalID] {
				continue
			}
			if cutoff != nil && item.ArrivedAt.After(*cutoff) {
				continue
			}
			if !visit(item) {
				return scanned, nil
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return scanned, nil
}

// countRemaining estimates the still-eligible backlog after a batch, using
// the same scan-and-decide logic restricted to the minimum eligibility
// horizon across the account's active policies.
func (p *Pipeline) countRemaining(ctx context.Context, accountID string, dctx *DecisionContext, processed map[string]bool, now time.Time) (int, error) {
	horizon, any := minEligibilityHorizon(dctx)
	if !any {
		return 0, nil
	}
	cutoff := now.Add(-horizon)

	remaining := 0
	_, err := p.scan(ctx, accountID, processed, &cutoff, func(item *Item) bool {
		if eligible(Decide(item, dctx), now) {
			remaining++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// minEligibilityHorizon returns the shortest delay after which any active
// policy can make an item eligible. Spam policies act immediately, so any
// spam policy collapses the horizon to zero.
func minEligibilityHorizon(dctx *DecisionContext) (time.Duration, bool) {
	found := false
	var min time.Duration
	consider := func(d time.Duration) {
		if !found || d < min {
			min = d
			found = true
		}
	}
	for _, pol := range dctx.Policies {
		switch pol.Kind {
		case PolicyArchiveAfterHours:
			if pol.AfterHours > 0 {
				consider(time.Duration(pol.AfterHours) * time.Hour)
			}
		case PolicyArchiveAfterDays:
			if pol.AfterDays > 0 {
				consider(time.Duration(pol.AfterDays) * 24 * time.Hour)
			}
		case PolicyMoveToSpam:
			consider(0)
		}
	}
	return min, found
}

// eligible reports whether a decision should be executed this run: an
// archive whose scheduled time has passed, or a spam disposition, which
// takes effect immediately.
func eligible(d *Decision, now time.Time) bool {
	switch d.Action {
	case DispositionArchive:
		return d.ScheduledAt != nil && !d.ScheduledAt.After(now)
	case DispositionSpam:
		return true
	default:
		return false
	}
}

// protectedExcluded reports whether the decision was downgraded because its
// resolved category is protected.
func protectedExcluded(d *Decision) bool {
	for _, o := range d.Trace.Overrides {
		if o.Source == SourceProtected {
			return true
		}
	}
	return false
}

// summarizeTrace renders a one-line human-readable reason for the audit log
func summarizeTrace(d *Decision) string {
	if d.Trace.Winner == nil {
		return string(d.Action)
	}
	return fmt.Sprintf("%s: category %s via %s (%s)", d.Action, d.CategoryID, d.Trace.Winner.Source, d.Trace.Winner.Detail)
}

// applyDelta computes the label set after adding and removing flags,
// preserving the original order of untouched labels.
func applyDelta(labels, add, remove []string) []string {
	removeSet := toSet(remove)
	out := make([]string, 0, len(labels)+len(add))
	seen := make(map[string]bool, len(labels)+len(add))
	for _, l := range labels {
		if removeSet[l] || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	for _, l := range add {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline(store *fakeRuleStore, testItems []*Item, cfg PipelineConfig) (*Pipeline, *fakeMailbox, *fakeAuditStore) {
	mailbox := newFakeMailbox()
	for _, item := range testItems {
		mailbox.seed(item.ExternalID, item.Labels...)
	}
	source := &fakeItemSource{items: testItems, mailbox: mailbox}
	auditStore := newFakeAuditStore()
	logger := zap.NewNop()
	ledger := NewLedger(auditStore, mailbox, logger)
	return NewPipeline(store, source, mailbox, auditStore, ledger, logger, cfg), mailbox, auditStore
}

func newsRuleStore() *fakeRuleStore {
	return &fakeRuleStore{
		categories:  []*Category{{ID: "cat-news", Name: "Newsletters"}},
		domainRules: []*DomainRule{{Domain: "news.example", CategoryID: "cat-news"}},
		policies:    []*CategoryPolicy{{CategoryID: "cat-news", Kind: PolicyArchiveAfterHours, AfterHours: 24}},
	}
}

func inboxItem(id string, from string, age time.Duration) *Item {
	return &Item{
		ID:         id,
		AccountID:  "acct-1",
		ExternalID: "ext-" + id,
		From:       from,
		ArrivedAt:  time.Now().Add(-age),
		Labels:     []string{FlagInbox, "starred-" + id},
	}
}

func TestExecuteArchivesDueItems(t *testing.T) {
	testItems := []*Item{
		inboxItem("a", "daily@news.example", 48 * time.Hour),
		inboxItem("b", "weekly@news.example", 30 * time.Hour),
	}
	pipeline, mailbox, auditStore := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{})

	report, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Executed)
	assert.Empty(t, report.Errors)

	for _, item := range testItems {
		assert.False(t, mailbox.has(item.ExternalID, FlagInbox), "inbox flag should be gone on %s", item.ExternalID)
		assert.True(t, mailbox.has(item.ExternalID, FlagDecluttered), "marker missing on %s", item.ExternalID)
	}

	entries := auditStore.byRun(report.RunID)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, ActionArchive, entry.Action)
		assert.Equal(t, StatusApplied, entry.Status)
		assert.Equal(t, "acct-1", entry.AccountID)
		assert.Contains(t, entry.BeforeLabels, FlagInbox)
		assert.NotContains(t, entry.AfterLabels, FlagInbox)
		assert.Contains(t, entry.AfterLabels, FlagDecluttered)
		assert.Contains(t, entry.Reason, "domain_rule")
		assert.NotEmpty(t, entry.ID)
	}
}

func TestExecuteIsIdempotentAcrossInvocations(t *testing.T) {
	testItems := []*Item{inboxItem("a", "daily@news.example", 48 * time.Hour)}
	pipeline, mailbox, _ := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{})

	first, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Executed)
	mutationsAfterFirst := mailbox.mutationCount()

	second, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Executed)
	assert.Equal(t, 0, second.Remaining)
	assert.Equal(t, mutationsAfterFirst, mailbox.mutationCount())
}

func TestExecuteLeavesFutureScheduledItems(t *testing.T) {
	testItems := []*Item{inboxItem("fresh", "daily@news.example", 1 * time.Hour)}
	pipeline, mailbox, _ := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{})

	report, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, 0, mailbox.mutationCount())
	assert.True(t, mailbox.has("ext-fresh", FlagInbox))
}

func TestExecuteContinuesPastItemFailures(t *testing.T) {
	testItems := []*Item{
		inboxItem("a", "daily@news.example", 48 * time.Hour),
		inboxItem("b", "weekly@news.example", 48 * time.Hour),
		inboxItem("c", "digest@news.example", 48 * time.Hour),
	}
	pipeline, mailbox, auditStore := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{})
	mailbox.failOn["ext-b"] = errors.New("rate limited")

	report, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Executed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "ext-b", report.Errors[0].ExternalID)
	assert.Contains(t, report.Errors[0].Err, "rate limited")
	assert.Len(t, auditStore.byRun(report.RunID), 2)
	assert.True(t, mailbox.has("ext-b", FlagInbox), "failed item must be untouched")
}

func TestExecuteCapsActionsPerRun(t *testing.T) {
	testItems := []*Item{
		inboxItem("a", "daily@news.example", 48 * time.Hour),
		inboxItem("b", "weekly@news.example", 48 * time.Hour),
	}
	pipeline, _, _ := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{MaxActionsPerRun: 1})

	report, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Remaining)
}

func TestExecuteSpamDisposition(t *testing.T) {
	store := &fakeRuleStore{
		categories:  []*Category{{ID: "cat-junk", Name: "Junk"}},
		domainRules: []*DomainRule{{Domain: "casino.example", CategoryID: "cat-junk"}},
		policies:    []*CategoryPolicy{{CategoryID: "cat-junk", Kind: PolicyMoveToSpam}},
	}
	testItems := []*Item{inboxItem("j", "win@casino.example", 5 * time.Minute)}
	pipeline, mailbox, auditStore := newTestPipeline(store, testItems, PipelineConfig{})

	report, err := pipeline.Execute(context.Background(), "acct-1")
	require.NoError(t, err)

	require.Equal(t, 1, report.Executed)
	assert.True(t, mailbox.has("ext-j", FlagSpam))
	assert.False(t, mailbox.has("ext-j", FlagInbox))

	entries := auditStore.byRun(report.RunID)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionSpam, entries[0].Action)
}

func TestExecuteContextFailureAborts(t *testing.T) {
	pipeline, _, _ := newTestPipeline(&fakeRuleStore{failAll: true}, nil, PipelineConfig{})

	_, err := pipeline.Execute(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrContextInvalid)
}

func TestPreviewCountsWithoutMutating(t *testing.T) {
	store := newsRuleStore()
	store.categories = append(store.categories, &Category{ID: "cat-family", Name: "Family", Protected: true})
	store.domainRules = append(store.domainRules, &DomainRule{Domain: "family.example", CategoryID: "cat-family"})
	store.policies = append(store.policies, &CategoryPolicy{CategoryID: "cat-family", Kind: PolicyArchiveAfterHours, AfterHours: 24})

	testItems := []*Item{
		inboxItem("a", "daily@news.example", 48 * time.Hour),
		inboxItem("b", "weekly@news.example", 48 * time.Hour),
		inboxItem("mom", "mom@family.example", 48 * time.Hour),
		inboxItem("fresh", "daily@news.example", 1 * time.Hour),
	}
	pipeline, mailbox, _ := newTestPipeline(store, testItems, PipelineConfig{})

	report, err := pipeline.Preview(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, map[string]int{"cat-news": 2}, report.ByCategory)
	assert.Equal(t, 1, report.ProtectedExcluded)
	assert.Equal(t, 0, mailbox.mutationCount(), "preview must never mutate")
}

func TestArchiveOlderThanUsesBulkBatches(t *testing.T) {
	testItems := []*Item{
		inboxItem("a", "any@one.example", 40 * 24 * time.Hour),
		inboxItem("b", "any@two.example", 50 * 24 * time.Hour),
		inboxItem("c", "any@three.example", 60 * 24 * time.Hour),
		inboxItem("fresh", "any@four.example", 24 * time.Hour),
	}
	pipeline, mailbox, auditStore := newTestPipeline(&fakeRuleStore{}, testItems, PipelineConfig{})
	mailbox.batchMax = 2

	report, err := pipeline.ArchiveOlderThan(context.Background(), "acct-1", 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 3, report.Archived)
	assert.Empty(t, report.Errors)

	for _, id := range []string{"ext-a", "ext-b", "ext-c"} {
		assert.False(t, mailbox.has(id, FlagInbox))
		assert.True(t, mailbox.has(id, FlagDecluttered))
	}
	assert.True(t, mailbox.has("ext-fresh", FlagInbox))

	// Two batch calls of at most two items, and no per-item audit trail.
	require.Equal(t, 2, mailbox.mutationCount())
	for _, call := range mailbox.mutations {
		assert.LessOrEqual(t, len(call.externalIDs), 2)
	}
	ids, err := auditStore.ProcessedExternalIDs(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestArchiveOlderThanSkipsProtectedCategories(t *testing.T) {
	store := &fakeRuleStore{
		categories:  []*Category{{ID: "cat-family", Name: "Family", Protected: true}},
		domainRules: []*DomainRule{{Domain: "family.example", CategoryID: "cat-family"}},
	}
	testItems := []*Item{
		inboxItem("mom", "mom@family.example", 90 * 24 * time.Hour),
		inboxItem("misc", "any@one.example", 90 * 24 * time.Hour),
	}
	pipeline, mailbox, _ := newTestPipeline(store, testItems, PipelineConfig{})

	report, err := pipeline.ArchiveOlderThan(context.Background(), "acct-1", 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.SkippedProtected)
	assert.Empty(t, report.Errors)

	assert.True(t, mailbox.has("ext-mom", FlagInbox), "protected item must stay in the inbox")
	assert.False(t, mailbox.has("ext-misc", FlagInbox))
	assert.True(t, mailbox.has("ext-misc", FlagDecluttered))
}

func TestRunAccountsExecutesEachAccount(t *testing.T) {
	itemA := inboxItem("a", "daily@news.example", 48 * time.Hour)
	itemB := inboxItem("b", "weekly@news.example", 48 * time.Hour)
	itemB.AccountID = "acct-2"
	pipeline, _, _ := newTestPipeline(newsRuleStore(), []*Item{itemA, itemB}, PipelineConfig{AccountConcurrency: 2})

	reports, errs := pipeline.RunAccounts(context.Background(), []string{"acct-1", "acct-2"})

	assert.Empty(t, errs)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports["acct-1"].Executed)
	assert.Equal(t, 1, reports["acct-2"].Executed)
}

func TestScanHonorsMaxScanCeiling(t *testing.T) {
	var testItems []*Item
	for i := 0; i < 10; i++ {
		testItems = append(testItems, inboxItem(string(rune('a'+i)), "daily@news.example", 48*time.Hour))
	}
	pipeline, _, _ := newTestPipeline(newsRuleStore(), testItems, PipelineConfig{MaxScan: 4, PageSize: 3})

	report, err := pipeline.Preview(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
}

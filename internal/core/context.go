package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrContextInvalid indicates the decision context could not be built or is
// structurally unusable. Callers must not proceed with a run.
var ErrContextInvalid = errors.New("decision context invalid")

// ContextSettings are the global knobs a decision context carries explicitly,
// so the engine never reads ambient state.
type ContextSettings struct {
	// ClassificationEnabled gates trust in external signals
	ClassificationEnabled bool

	// MinSignalConfidence additionally gates signal trust when > 0
	MinSignalConfidence float64

	// DefaultCategoryName is the fallback category to resolve, usually "Other"
	DefaultCategoryName string
}

// DecisionContext is the fully-resolved rule and policy snapshot one run
// decides against. Built once per run and shared across every item so that
// preview and execute agree.
type DecisionContext struct {
	SenderRules map[string]*SenderRule     // keyed by lowercased address
	DomainRules map[string]*DomainRule     // keyed by lowercased domain
	Categories  map[string]*Category       // keyed by category id
	Policies    map[string]*CategoryPolicy // keyed by category id

	DefaultCategoryID string // empty when no default category exists
	Settings          ContextSettings
}

// BuildDecisionContext bulk-fetches the account's rules and policies and
// indexes them for constant-time lookup.
func BuildDecisionContext(ctx context.Context, store RuleStore, accountID string, settings ContextSettings) (*DecisionContext, error) {
	senderRules, err := store.SenderRules(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading sender rules: %v", ErrContextInvalid, err)
	}
	domainRules, err := store.DomainRules(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading domain rules: %v", ErrContextInvalid, err)
	}
	categories, err := store.Categories(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading categories: %v", ErrContextInvalid, err)
	}
	policies, err := store.Policies(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading policies: %v", ErrContextInvalid, err)
	}

	if settings.DefaultCategoryName == "" {
		settings.DefaultCategoryName = DefaultCategoryName
	}

	dctx := &DecisionContext{
		SenderRules: make(map[string]*SenderRule, len(senderRules)),
		DomainRules: make(map[string]*DomainRule, len(domainRules)),
		Categories:  make(map[string]*Category, len(categories)),
		Policies:    make(map[string]*CategoryPolicy, len(policies)),
		Settings:    settings,
	}

	for _, c := range categories {
		dctx.Categories[c.ID] = c
		if strings.EqualFold(c.Name, settings.DefaultCategoryName) {
			dctx.DefaultCategoryID = c.ID
		}
	}
	for _, r := range senderRules {
		if _, ok := dctx.Categories[r.CategoryID]; !ok {
			return nil, fmt.Errorf("%w: sender rule %q references unknown category %q", ErrContextInvalid, r.Address, r.CategoryID)
		}
		dctx.SenderRules[strings.ToLower(r.Address)] = r
	}
	for _, r := range domainRules {
		if _, ok := dctx.Categories[r.CategoryID]; !ok {
			return nil, fmt.Errorf("%w: domain rule %q references unknown category %q", ErrContextInvalid, r.Domain, r.CategoryID)
		}
		dctx.DomainRules[strings.ToLower(r.Domain)] = r
	}
	for _, p := range policies {
		if _, ok := dctx.Categories[p.CategoryID]; !ok {
			return nil, fmt.Errorf("%w: policy references unknown category %q", ErrContextInvalid, p.CategoryID)
		}
		if _, dup := dctx.Policies[p.CategoryID]; dup {
			return nil, fmt.Errorf("%w: category %q has more than one active policy", ErrContextInvalid, p.CategoryID)
		}
		dctx.Policies[p.CategoryID] = p
	}

	return dctx, nil
}

// senderDomain extracts the lowercased domain from a sender address.
// Malformed addresses yield an empty domain and simply never match.
func senderDomain(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

package core

import (
	"fmt"
	"strings"
	"time"
)

// Decide resolves the category and disposition for one item against a
// prepared decision context. It is pure and deterministic: no I/O, no
// mutation, and identical output for identical (item, context) input, which
// is what lets dry-run preview and live execution agree.
func Decide(item *Item, dctx *DecisionContext) *Decision {
	d := &Decision{Action: DispositionNone}

	winner := resolveCategory(item, dctx, &d.Trace)
	if winner == nil {
		return d
	}
	d.Trace.Winner = winner
	d.CategoryID = winner.CategoryID
	d.Confidence = winner.Confidence

	resolveDisposition(item, dctx, d)
	return d
}

// resolveCategory runs the strict precedence ladder: sender rule, then domain
// rule, then trusted external signal, then the default category.
func resolveCategory(item *Item, dctx *DecisionContext, trace *Trace) *Candidate {
	address := strings.ToLower(item.From)
	domain := senderDomain(address)

	var sender, domainC, signal *Candidate

	if r, ok := dctx.SenderRules[address]; ok {
		sender = &Candidate{Source: SourceSenderRule, CategoryID: r.CategoryID, Confidence: 1.0, Detail: r.Address}
	}
	if domain != "" {
		if r, ok := dctx.DomainRules[domain]; ok {
			domainC = &Candidate{Source: SourceDomainRule, CategoryID: r.CategoryID, Confidence: 1.0, Detail: r.Domain}
		}
	}
	if s := trustedSignal(item, dctx); s != nil {
		signal = &Candidate{Source: SourceSignal, CategoryID: s.CategoryID, Confidence: s.Confidence, Detail: s.Provenance}
	}

	for _, c := range []*Candidate{sender, domainC, signal} {
		if c != nil {
			trace.Candidates = append(trace.Candidates, *c)
		}
	}

	switch {
	case sender != nil:
		if domainC != nil {
			trace.Overrides = append(trace.Overrides, Override{
				Source:     SourceSenderRule,
				Overridden: SourceDomainRule,
				Reason:     fmt.Sprintf("sender rule for %q takes precedence over domain rule for %q", sender.Detail, domainC.Detail),
			})
		}
		if signal != nil {
			trace.Overrides = append(trace.Overrides, Override{
				Source:     SourceSenderRule,
				Overridden: SourceSignal,
				Reason:     fmt.Sprintf("sender rule for %q takes precedence over the classifier signal", sender.Detail),
			})
		}
		return sender
	case domainC != nil:
		if signal != nil {
			trace.Overrides = append(trace.Overrides, Override{
				Source:     SourceDomainRule,
				Overridden: SourceSignal,
				Reason:     fmt.Sprintf("domain rule for %q takes precedence over the classifier signal", domainC.Detail),
			})
		}
		return domainC
	case signal != nil:
		return signal
	case dctx.DefaultCategoryID != "":
		c := Candidate{Source: SourceDefault, CategoryID: dctx.DefaultCategoryID, Detail: dctx.Settings.DefaultCategoryName}
		trace.Candidates = append(trace.Candidates, c)
		return &c
	}
	return nil
}

// trustedSignal returns the item's external signal only when it should be
// trusted: classification enabled, classifier provenance, confidence at or
// above the configured floor, and a category that actually exists.
func trustedSignal(item *Item, dctx *DecisionContext) *ExternalSignal {
	s := item.Signal
	if s == nil || !dctx.Settings.ClassificationEnabled {
		return nil
	}
	if s.Provenance != ProvenanceClassifier {
		return nil
	}
	if dctx.Settings.MinSignalConfidence > 0 && s.Confidence < dctx.Settings.MinSignalConfidence {
		return nil
	}
	if _, ok := dctx.Categories[s.CategoryID]; !ok {
		return nil
	}
	return s
}

// resolveDisposition maps the final category's policy onto an action and,
// for archive policies, an absolute scheduled time.
func resolveDisposition(item *Item, dctx *DecisionContext, d *Decision) {
	pol, ok := dctx.Policies[d.CategoryID]
	if !ok {
		return // no policy means no action, nothing to explain
	}

	switch pol.Kind {
	case PolicyNone:
		d.Action = DispositionNone
	case PolicyLabelOnly:
		d.Action = DispositionLabelOnly
	case PolicyDigest:
		d.Action = DispositionDigest
	case PolicyArchiveAfterHours:
		if pol.AfterHours <= 0 {
			d.Trace.Overrides = append(d.Trace.Overrides, Override{
				Source:     SourceInvalidPolicy,
				Overridden: SourcePolicy,
				Reason:     fmt.Sprintf("archive_after_hours policy for category %q has no positive hour count; defaulting to none", d.CategoryID),
			})
			return
		}
		t := item.ArrivedAt.Add(time.Duration(pol.AfterHours) * time.Hour)
		d.Action = DispositionArchive
		d.ScheduledAt = &t
	case PolicyArchiveAfterDays:
		if pol.AfterDays <= 0 {
			d.Trace.Overrides = append(d.Trace.Overrides, Override{
				Source:     SourceInvalidPolicy,
				Overridden: SourcePolicy,
				Reason:     fmt.Sprintf("archive_after_days policy for category %q has no positive day count; defaulting to none", d.CategoryID),
			})
			return
		}
		t := item.ArrivedAt.Add(time.Duration(pol.AfterDays) * 24 * time.Hour)
		d.Action = DispositionArchive
		d.ScheduledAt = &t
	case PolicyMoveToSpam:
		d.Action = DispositionSpam
	default:
		d.Trace.Overrides = append(d.Trace.Overrides, Override{
			Source:     SourceInvalidPolicy,
			Overridden: SourcePolicy,
			Reason:     fmt.Sprintf("unrecognized policy kind %q for category %q; defaulting to none", pol.Kind, d.CategoryID),
		})
		return
	}

	// A protected category can never archive or spam, whatever its policy says.
	cat := dctx.Categories[d.CategoryID]
	if cat != nil && cat.Protected && (d.Action == DispositionArchive || d.Action == DispositionSpam) {
		downgraded := DispositionDigest
		if pol.Kind == PolicyLabelOnly {
			downgraded = DispositionLabelOnly
		}
		d.Action = downgraded
		d.ScheduledAt = nil
		d.Trace.Overrides = append(d.Trace.Overrides, Override{
			Source:     SourceProtected,
			Overridden: SourcePolicy,
			Reason:     fmt.Sprintf("category %q is protected; downgraded %s policy to %s", cat.Name, pol.Kind, downgraded),
		})
	}
}

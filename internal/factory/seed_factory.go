package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mikey/inbox-declutter/internal/adapters/items"
	"github.com/mikey/inbox-declutter/internal/adapters/mailbox"
	"github.com/mikey/inbox-declutter/internal/adapters/rules"
	"github.com/mikey/inbox-declutter/internal/core"
	"go.uber.org/zap"
)

// SeedFile is the on-disk fixture format for the in-memory collaborators.
// It stands in for the product's synced rule and mailbox stores when the
// engine runs without vendor bindings.
type SeedFile struct {
	Accounts []SeedAccount `json:"accounts"`
}

// SeedAccount holds one account's rules, policies, and items
type SeedAccount struct {
	ID          string           `json:"id"`
	Categories  []SeedCategory   `json:"categories"`
	SenderRules []SeedSenderRule `json:"sender_rules"`
	DomainRules []SeedDomainRule `json:"domain_rules"`
	Policies    []SeedPolicy     `json:"policies"`
	Items       []SeedItem       `json:"items"`
}

type SeedCategory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentID  string `json:"parent_id"`
	Protected bool   `json:"protected"`
}

type SeedSenderRule struct {
	Address    string `json:"address"`
	CategoryID string `json:"category_id"`
}

type SeedDomainRule struct {
	Domain     string `json:"domain"`
	CategoryID string `json:"category_id"`
}

type SeedPolicy struct {
	CategoryID string `json:"category_id"`
	Kind       string `json:"kind"`
	AfterHours int    `json:"after_hours"`
	AfterDays  int    `json:"after_days"`
}

type SeedItem struct {
	ID         string      `json:"id"`
	ExternalID string      `json:"external_id"`
	From       string      `json:"from"`
	ArrivedAt  time.Time   `json:"arrived_at"`
	Labels     []string    `json:"labels"`
	Signal     *SeedSignal `json:"signal"`
}

type SeedSignal struct {
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Provenance string  `json:"provenance"`
}

// Collaborators bundles the seeded in-memory collaborator adapters
type Collaborators struct {
	Rules    *rules.MemoryStore
	Items    *items.Memory
	Mailbox  *mailbox.Memory
	Accounts []string
}

// LoadCollaborators builds seeded in-memory collaborators from a fixture
// file. An empty path yields empty collaborators.
func LoadCollaborators(path string, logger *zap.Logger) (*Collaborators, error) {
	ruleStore := rules.NewMemoryStore()
	mailboxAPI := mailbox.NewMemory()
	itemSource := items.NewMemory(mailboxAPI)
	collab := &Collaborators{Rules: ruleStore, Items: itemSource, Mailbox: mailboxAPI}

	if path == "" {
		return collab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, account := range seed.Accounts {
		collab.Accounts = append(collab.Accounts, account.ID)
		for _, c := range account.Categories {
			ruleStore.SeedCategory(account.ID, &core.Category{ID: c.ID, Name: c.Name, ParentID: c.ParentID, Protected: c.Protected})
		}
		for _, r := range account.SenderRules {
			ruleStore.SeedSenderRule(account.ID, &core.SenderRule{Address: r.Address, CategoryID: r.CategoryID})
		}
		for _, r := range account.DomainRules {
			ruleStore.SeedDomainRule(account.ID, &core.DomainRule{Domain: r.Domain, CategoryID: r.CategoryID})
		}
		for _, p := range account.Policies {
			ruleStore.SeedPolicy(account.ID, &core.CategoryPolicy{
				CategoryID: p.CategoryID,
				Kind:       core.PolicyKind(p.Kind),
				AfterHours: p.AfterHours,
				AfterDays:  p.AfterDays,
			})
		}
		for _, it := range account.Items {
			var signal *core.ExternalSignal
			if it.Signal != nil {
				signal = &core.ExternalSignal{
					CategoryID: it.Signal.CategoryID,
					Confidence: it.Signal.Confidence,
					Provenance: it.Signal.Provenance,
				}
			}
			itemSource.Seed(&core.Item{
				ID:         it.ID,
				AccountID:  account.ID,
				ExternalID: it.ExternalID,
				From:       it.From,
				ArrivedAt:  it.ArrivedAt,
				Labels:     it.Labels,
				Signal:     signal,
			})
			mailboxAPI.Seed(account.ID, it.ExternalID, it.Labels)
		}
	}

	logger.Info("Loaded seed fixture",
		zap.String("path", path),
		zap.Int("accounts", len(seed.Accounts)))
	return collab, nil
}

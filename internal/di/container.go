package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/inbox-declutter/internal/config"
	"github.com/mikey/inbox-declutter/internal/core"
	"github.com/mikey/inbox-declutter/internal/factory"
	"github.com/mikey/inbox-declutter/internal/logging"
)

// BuildContainer creates and configures a dependency injection container
// around an already-loaded configuration
func BuildContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewAuditFactory); err != nil {
		return nil, err
	}

	// Register audit store
	if err := container.Provide(func(f *factory.AuditFactory) (core.AuditStore, error) {
		return f.CreateAuditStore()
	}); err != nil {
		return nil, err
	}

	// Register pipeline configuration
	if err := container.Provide(factory.NewPipelineConfig); err != nil {
		return nil, err
	}

	// Register seeded collaborators
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*factory.Collaborators, error) {
		return factory.LoadCollaborators(cfg.GetString("seed.path"), logger)
	}); err != nil {
		return nil, err
	}

	// Register collaborator ports
	if err := container.Provide(func(c *factory.Collaborators) core.RuleStore {
		return c.Rules
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(c *factory.Collaborators) core.ItemSource {
		return c.Items
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(c *factory.Collaborators) core.MailboxAPI {
		return c.Mailbox
	}); err != nil {
		return nil, err
	}

	// Register ledger
	if err := container.Provide(core.NewLedger); err != nil {
		return nil, err
	}

	// Register execution pipeline
	if err := container.Provide(core.NewPipeline); err != nil {
		return nil, err
	}

	return container, nil
}

package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/inbox-declutter/internal/adapters/audit"
	"github.com/mikey/inbox-declutter/internal/config"
	"github.com/mikey/inbox-declutter/internal/core"
	"go.uber.org/zap"
)

// AuditFactory creates audit stores based on configuration
type AuditFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAuditFactory creates a new audit store factory
func NewAuditFactory(cfg *config.Config, logger *zap.Logger) *AuditFactory {
	return &AuditFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAuditStore creates an audit store based on the configuration
func (f *AuditFactory) CreateAuditStore() (core.AuditStore, error) {
	storeType := f.cfg.GetString("audit.type")

	switch storeType {
	case "memory":
		return audit.NewMemoryStore(f.logger), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("audit.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return audit.NewSQLiteStore(sqlitePath, f.logger)
	case "mysql":
		mysqlDSN := f.cfg.GetString("audit.mysql_dsn")
		return audit.NewMySQLStore(mysqlDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported audit store type: %s", storeType)
	}
}

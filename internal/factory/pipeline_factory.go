package factory

import (
	"fmt"

	"github.com/mikey/inbox-declutter/internal/config"
	"github.com/mikey/inbox-declutter/internal/core"
)

// NewPipelineConfig assembles pipeline bounds and context settings from
// configuration
func NewPipelineConfig(cfg *config.Config) (core.PipelineConfig, error) {
	batchDelay, err := cfg.GetDuration("declutter.batch_delay")
	if err != nil {
		return core.PipelineConfig{}, fmt.Errorf("invalid declutter batch delay: %w", err)
	}

	return core.PipelineConfig{
		MaxActionsPerRun:   cfg.GetInt("declutter.max_actions_per_run"),
		MaxScan:            cfg.GetInt("declutter.max_scan"),
		PageSize:           cfg.GetInt("declutter.page_size"),
		AccountConcurrency: cfg.GetInt("declutter.account_concurrency"),
		BatchDelay:         batchDelay,
		Settings: core.ContextSettings{
			ClassificationEnabled: cfg.GetBool("declutter.classification_enabled"),
			MinSignalConfidence:   cfg.GetFloat64("declutter.min_signal_confidence"),
			DefaultCategoryName:   cfg.GetString("declutter.default_category"),
		},
	}, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mikey/inbox-declutter/internal/config"
	"github.com/mikey/inbox-declutter/internal/core"
	"github.com/mikey/inbox-declutter/internal/di"
	"go.uber.org/zap"
)

var (
	mode      = flag.String("mode", "preview", "Operation (preview, execute, archive-by-days, rollback-run)")
	accountID = flag.String("account", "", "Account to operate on")
	days      = flag.Int("days", 30, "Age cutoff in days for archive-by-days")
	runID     = flag.String("run-id", "", "Run id for rollback-run")
	timeout   = flag.Duration("timeout", 2*time.Minute, "Overall operation timeout")

	// Configuration overrides; when any is set the config file is skipped
	seedPath   = flag.String("seed", "", "Seed fixture path (overrides configuration)")
	auditType  = flag.String("audit", "", "Audit store type: memory, sqlite, mysql (overrides configuration)")
	maxActions = flag.Int("max-actions", 0, "Cap on mutations per run (overrides configuration)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	container, err := di.BuildContainer(cfg)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig uses the discovered config file unless override flags are set,
// in which case the configuration is assembled from defaults plus flags
func loadConfig() (*config.Config, error) {
	if *seedPath == "" && *auditType == "" && *maxActions == 0 {
		return config.New()
	}

	v := config.NewEmptyViper()
	if *seedPath != "" {
		v.Set("seed.path", *seedPath)
	}
	if *auditType != "" {
		v.Set("audit.type", *auditType)
	}
	if *maxActions > 0 {
		v.Set("declutter.max_actions_per_run", *maxActions)
	}
	return config.NewFromViper(v), nil
}

// run is the main application function that gets all dependencies injected
func run(logger *zap.Logger, cfg *config.Config, pipeline *core.Pipeline, ledger *core.Ledger) error {
	defer logger.Sync()

	if file := cfg.GetViper().ConfigFileUsed(); file != "" {
		logger.Info("Loaded configuration from file", zap.String("file", file))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "preview":
		if *accountID == "" {
			return fmt.Errorf("preview requires -account")
		}
		report, err := pipeline.Preview(ctx, *accountID)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned: %d\n", report.Scanned)
		fmt.Printf("Eligible: %d\n", report.Eligible)
		fmt.Printf("Excluded by protection: %d\n", report.ProtectedExcluded)
		categories := make([]string, 0, len(report.ByCategory))
		for id := range report.ByCategory {
			categories = append(categories, id)
		}
		sort.Strings(categories)
		for _, id := range categories {
			fmt.Printf("  %s: %d\n", id, report.ByCategory[id])
		}
		return nil

	case "execute":
		if *accountID == "" {
			return fmt.Errorf("execute requires -account")
		}
		report, err := pipeline.Execute(ctx, *accountID)
		if err != nil {
			return err
		}
		fmt.Printf("Run: %s\n", report.RunID)
		fmt.Printf("Scanned: %d\n", report.Scanned)
		fmt.Printf("Executed: %d\n", report.Executed)
		fmt.Printf("Remaining: %d\n", report.Remaining)
		for _, itemErr := range report.Errors {
			fmt.Printf("  error %s: %s\n", itemErr.ExternalID, itemErr.Err)
		}
		return nil

	case "archive-by-days":
		if *accountID == "" {
			return fmt.Errorf("archive-by-days requires -account")
		}
		report, err := pipeline.ArchiveOlderThan(ctx, *accountID, time.Duration(*days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Matched: %d\n", report.Matched)
		fmt.Printf("Archived: %d\n", report.Archived)
		fmt.Printf("Skipped (protected): %d\n", report.SkippedProtected)
		for _, batchErr := range report.Errors {
			fmt.Printf("  error: %s\n", batchErr)
		}
		return nil

	case "rollback-run":
		if *runID == "" {
			return fmt.Errorf("rollback-run requires -run-id")
		}
		report, err := ledger.RollbackRun(ctx, *runID)
		if err != nil {
			return err
		}
		fmt.Printf("Run: %s\n", report.RunID)
		fmt.Printf("Reverted: %d\n", report.Reverted)
		for _, itemErr := range report.Errors {
			fmt.Printf("  error %s: %s\n", itemErr.ExternalID, itemErr.Err)
		}
		return nil

	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castofly/remedy/internal/config"
	"github.com/castofly/remedy/internal/engine"
	"github.com/castofly/remedy/internal/logging"
	"github.com/castofly/remedy/internal/notify"
	"github.com/castofly/remedy/internal/session"
	"github.com/castofly/remedy/internal/strategy"
	"github.com/castofly/remedy/internal/streaming"
	"github.com/castofly/remedy/internal/tracker"
	"github.com/castofly/remedy/internal/validation"
	remedymcp "github.com/castofly/remedy/pkg/mcp"
	"github.com/castofly/remedy/pkg/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remediation engine",
	Long: `Run the remediation engine as a long-lived daemon.

The engine watches the configured tracker for open work items, remediates
each one through the phased pipeline, and sweeps expired sessions on the
configured schedule. With mcp_enabled, operator tools are exposed over
MCP stdio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the remedy config file (YAML)")
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	itemTracker, closeTracker, err := openTracker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	hub := streaming.NewMemoryHub()
	sessions := session.NewStore(cfg.SessionTimeout.Std(), hub, logger)

	sweeper, err := session.NewSweeper(sessions, cfg.SweepSchedule, cfg.RetentionAge.Std(), logger)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}

	contracts, err := validation.NewContractValidator()
	if err != nil {
		return fmt.Errorf("contracts: %w", err)
	}

	runners, err := buildRunners(cfg, hub, logger)
	if err != nil {
		return err
	}

	driver, err := engine.NewDriver(engine.DriverOptions{
		Sessions:     sessions,
		Tracker:      itemTracker,
		Runners:      runners,
		Contracts:    contracts,
		Notifier:     notify.NewMulti(logger, notify.NewSlogNotifier(logger)),
		Hub:          hub,
		Pool:         engine.NewPipelinePool(cfg.PoolSize, logger),
		Logger:       logger,
		PollInterval: cfg.PollInterval.Std(),
		Project:      projectOverrides(cfg.Project),
	})
	if err != nil {
		return fmt.Errorf("driver: %w", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	logger.InfoContext(ctx, "remedy engine started",
		"tracker", cfg.TrackerDB,
		"pool_size", cfg.PoolSize,
		"poll_interval", cfg.PollInterval.Std())

	if cfg.MCPEnabled {
		srv := remedymcp.NewRemedyServer(remedymcp.RemedyServerDeps{
			Sessions: sessions,
			Driver:   driver,
			Logger:   logger,
		})
		go func() {
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mcp server exited", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := driver.Stop(); err != nil {
		logger.Warn("driver stop", "error", err)
	}
	if err := sweeper.Stop(); err != nil {
		logger.Warn("sweeper stop", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openTracker(ctx context.Context, cfg *config.Config) (tracker.ItemTracker, func(), error) {
	if cfg.TrackerDB == "memory" {
		return tracker.NewMemoryTracker(), func() {}, nil
	}
	t, err := tracker.NewLibSQLTracker(cfg.TrackerDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open tracker: %w", err)
	}
	if err := t.Migrate(ctx); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("migrate tracker: %w", err)
	}
	return t, func() { t.Close() }, nil
}

func buildRunners(cfg *config.Config, hub streaming.EventHub, logger *slog.Logger) (map[schema.Phase]*engine.StepRunner, error) {
	implement, err := strategy.NewImplementStrategy(strategy.ChangeDrafterFunc(planDraft))
	if err != nil {
		return nil, fmt.Errorf("implement strategy: %w", err)
	}

	policy := engine.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay.Std(),
		MaxDelay:     cfg.Retry.MaxDelay.Std(),
		Multiplier:   cfg.Retry.Multiplier,
	}
	timeout := cfg.StepTimeout.Std()

	strategies := []strategy.Strategy{
		strategy.NewAnalysisStrategy(cfg.Projection),
		strategy.NewClassifyStrategy(cfg.Rules),
		implement,
		strategy.NewReportStrategy(strategy.NewLogPublisher(logger)),
	}

	runners := make(map[schema.Phase]*engine.StepRunner, len(strategies))
	for _, s := range strategies {
		runners[s.Phase()] = engine.NewStepRunner(s, timeout, policy, hub, logger)
	}
	return runners, nil
}

// planDraft records the remediation plan as a single patch-shaped note. It
// is the stand-in drafter until a code-producing one is plugged in.
func planDraft(ctx context.Context, sctx *schema.SessionContext) ([]schema.Patch, error) {
	diff := fmt.Sprintf("# Remediation plan for %s\n\n%s\n\nRule: %s\n",
		sctx.Item.ID, sctx.Analysis.Summary, sctx.Decision.Rule)
	return []schema.Patch{{Path: "REMEDIATION.md", Diff: diff}}, nil
}

func projectOverrides(p *config.ProjectConfig) *schema.ProjectConfig {
	if p == nil {
		return nil
	}
	return &schema.ProjectConfig{
		ID:     p.ID,
		Name:   p.Name,
		Repo:   p.Repo,
		Branch: p.Branch,
	}
}

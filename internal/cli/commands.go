package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/voicetel/ticketboard/internal/config"
	"github.com/voicetel/ticketboard/internal/dashboard"
	"github.com/voicetel/ticketboard/internal/database"
	"github.com/voicetel/ticketboard/internal/jira"
	"github.com/voicetel/ticketboard/internal/logging"
	"github.com/voicetel/ticketboard/internal/models"
	"github.com/voicetel/ticketboard/internal/report"
	"github.com/voicetel/ticketboard/internal/scheduler"
	"github.com/voicetel/ticketboard/internal/slack"
	"github.com/voicetel/ticketboard/internal/syncer"
)

type jiraService interface {
	syncer.Searcher
	TestConnection(ctx context.Context) error
}

var jiraFactory = func(cfg config.JiraConfig) jiraService {
	return jira.NewClient(cfg)
}

type serveOptions struct {
	Addr     string
	Schedule string
}

type cleanupOptions struct {
	RetentionDays int
	Vacuum        bool
}

// loadConfig resolves the configuration and sets up logging. full selects
// Validate over ValidateStore.
func loadConfig(full bool) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	validate := cfg.ValidateStore
	if full {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.Verbose, logOutput, build.logInfo())
	logger.SetAsDefault()
	return cfg, logger, nil
}

// openStore opens the database and makes sure the schema is current.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func handleServe(ctx context.Context, opts serveOptions) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Dashboard.Addr = opts.Addr
	}
	if opts.Schedule != "" {
		cfg.SyncSchedule = opts.Schedule
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := syncer.New(jiraFactory(cfg.Jira), db, cfg, syncer.Options{Logger: logger, Clock: clock, Registerer: reg})
	if err != nil {
		return err
	}
	reports := report.NewCache(64, time.Hour)
	srv, err := dashboard.NewServer(db, s, cfg, dashboard.Options{
		Logger:     logger,
		Clock:      clock,
		Registerer: reg,
		Gatherer:   reg,
		Cache:      reports,
	})
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.SyncSchedule != "" {
		sched = scheduler.New(loc, logger.Logger)
		if err := sched.AddJob("sync", cfg.SyncSchedule, func(ctx context.Context) error {
			_, err := s.Run(ctx)
			reports.Invalidate()
			logger.Verbose("scheduled sync done", slog.Time("next", sched.Next("sync")))
			return err
		}); err != nil {
			return err
		}
		if cfg.RetentionDays > 0 {
			if err := sched.AddJob("cleanup", "@daily", func(ctx context.Context) error {
				_, err := db.CleanupSyncRuns(ctx, clock.Now(), cfg.RetentionDays)
				return err
			}); err != nil {
				return err
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	logger.Info("ticketboard started",
		slog.String("addr", cfg.Dashboard.Addr),
		slog.String("project", cfg.Jira.Project),
		slog.String("sync_schedule", cfg.SyncSchedule),
		slog.String("driver", cfg.Database.Driver),
	)

	err = g.Wait()
	logger.Info("ticketboard stopped")
	return err
}

func handleSync(ctx context.Context, out io.Writer) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := syncer.New(jiraFactory(cfg.Jira), db, cfg, syncer.Options{Logger: logger, Clock: clock})
	if err != nil {
		return err
	}
	stats, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	printRunStats(out, stats)
	return nil
}

func handleInitDB(ctx context.Context, out io.Writer) error {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	defer db.Close()

	fmt.Fprintln(out, "Database initialized successfully!")
	return nil
}

func handleCheckConnections(ctx context.Context, out io.Writer) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger.Info("Checking connections...")

	// Database
	info := cfg.DSNInfo()
	logger.Info("Testing database connection...", slog.Any("dsn", info))
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	db.Close()
	logger.Info("Database connection successful")

	// Jira
	logger.Info("Testing Jira connection...", slog.String("url", cfg.Jira.URL))
	if err := jiraFactory(cfg.Jira).TestConnection(ctx); err != nil {
		return fmt.Errorf("jira connection failed: %w", err)
	}
	logger.Info("Jira connection successful")

	// Slack webhook
	if cfg.Slack.WebhookURL != "" {
		logger.Info("Testing Slack webhook...")
		if err := slack.TestWebhook(ctx, cfg.Slack); err != nil {
			return fmt.Errorf("slack webhook test failed: %w", err)
		}
		logger.Info("Slack webhook test successful")
	}

	fmt.Fprintln(out, "All connections successful!")
	return nil
}

func handleStats(ctx context.Context, out io.Writer, asJSON bool) error {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	stats, err := db.GetStats(ctx, clock.Now().In(loc))
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printHumanReadableStats(out, stats)
	return nil
}

func handleCleanup(ctx context.Context, out io.Writer, opts cleanupOptions) error {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}
	retention := cfg.RetentionDays
	if opts.RetentionDays > 0 {
		retention = opts.RetentionDays
	}
	vacuum := cfg.AutoVacuum || opts.Vacuum

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Starting database cleanup",
		slog.Int("retention_days", retention),
		slog.Bool("vacuum", vacuum),
	)

	removed, err := db.CleanupSyncRuns(ctx, clock.Now(), retention)
	if err != nil {
		return fmt.Errorf("failed to cleanup old sync runs: %w", err)
	}

	if vacuum {
		if err := db.Vacuum(ctx); err != nil {
			return fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	fmt.Fprintf(out, "Cleanup completed successfully! Removed %d sync runs.\n", removed)
	return nil
}

func handleVersion(out io.Writer) error {
	fmt.Fprintf(out, "ticketboard\n")
	fmt.Fprintf(out, "Version:    %s\n", build.Version)
	fmt.Fprintf(out, "Git Commit: %s\n", build.GitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", build.BuildDate)
	fmt.Fprintf(out, "Go Version: %s\n", build.GoVersion)
	return nil
}

func handleInitConfig(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote default configuration to %s\n", path)
	fmt.Fprintln(out, "Set TICKETBOARD_JIRA_URL, TICKETBOARD_JIRA_USER and TICKETBOARD_JIRA_TOKEN before running sync.")
	return nil
}

func printRunStats(out io.Writer, stats *models.RunStats) {
	fmt.Fprintf(out, "\n=== Sync Statistics ===\n")
	fmt.Fprintf(out, "Project: %s\n", stats.Project)
	fmt.Fprintf(out, "Issues upserted: %d of %d\n", stats.Upserted, stats.Total)
	fmt.Fprintf(out, "Pages fetched: %d\n", stats.PagesFetched)
	fmt.Fprintf(out, "Duration: %s\n", stats.Duration)
	fmt.Fprintf(out, "Synced at: %s\n", stats.SyncedAt.Format("2006-01-02 15:04:05"))
}

func printHumanReadableStats(out io.Writer, stats *database.Stats) {
	fmt.Fprintf(out, "\n=== ticketboard Statistics ===\n\n")

	fmt.Fprintf(out, "Total Tickets: %d\n", stats.TotalTickets)
	fmt.Fprintf(out, "Open Tickets: %d\n\n", stats.OpenTickets)

	if len(stats.ByStatus) > 0 {
		fmt.Fprintf(out, "By Status:\n")
		statuses := make([]string, 0, len(stats.ByStatus))
		for status := range stats.ByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Fprintf(out, "  %s: %d\n", status, stats.ByStatus[status])
		}
		fmt.Fprintln(out)
	}

	if stats.Watermark != nil {
		fmt.Fprintf(out, "Last Synchronized: %s\n", stats.Watermark.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(out, "Last Synchronized: never\n")
	}

	fmt.Fprintf(out, "Sync Runs (Last 7 Days): %d\n", stats.Runs7d)
	fmt.Fprintf(out, "  Failed: %d\n", stats.Failed7d)

	if run := stats.LastRun; run != nil {
		fmt.Fprintf(out, "\nLast Run:\n")
		fmt.Fprintf(out, "  Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "  Result: %s\n", run.Result)
		fmt.Fprintf(out, "  Pages: %d\n", run.Pages)
		fmt.Fprintf(out, "  Issues: %d\n", run.Issues)
		if run.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", run.Error)
		}
	}
}

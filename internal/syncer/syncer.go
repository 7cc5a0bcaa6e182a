// Package syncer copies the issues of one Jira project into the store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicetel/ticketboard/internal/config"
	"github.com/voicetel/ticketboard/internal/jira"
	"github.com/voicetel/ticketboard/internal/logging"
	"github.com/voicetel/ticketboard/internal/models"
	"github.com/voicetel/ticketboard/internal/slack"
)

// Searcher runs one page of a JQL search.
type Searcher interface {
	Search(ctx context.Context, jql string, startAt, maxResults int, fields []string) (*jira.SearchPage, error)
}

// Store is the part of the database a sync writes to.
type Store interface {
	UpsertTickets(ctx context.Context, tickets []models.Ticket) error
	SetWatermark(ctx context.Context, t time.Time) error
	RecordSyncRun(ctx context.Context, run models.SyncRun) error
}

type Syncer struct {
	jira    Searcher
	store   Store
	config  config.JiraConfig
	loc     *time.Location
	clock   quartz.Clock
	logger  *logging.Logger
	metrics *metrics
	slack   *slack.Client
}

type Options struct {
	Logger *logging.Logger
	Clock  quartz.Clock
	// Registerer receives the sync metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

func New(client Searcher, store Store, cfg *config.Config, opts Options) (*Syncer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	s := &Syncer{
		jira:    client,
		store:   store,
		config:  cfg.Jira,
		loc:     loc,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registerer),
	}
	if cfg.Slack.WebhookURL != "" {
		s.slack = slack.NewClient(cfg.Slack)
	}
	return s, nil
}

func (s *Syncer) fields() []string {
	fields := []string{"summary", "status", "created", "resolutiondate"}
	if s.config.CategoryField != "" {
		fields = append(fields, s.config.CategoryField)
	}
	return fields
}

// Run fetches every issue created within the lookback window and upserts
// it. Each page is committed on its own, so a failure keeps the pages
// already written. The watermark only moves when all pages succeeded.
func (s *Syncer) Run(ctx context.Context) (*models.RunStats, error) {
	start := s.clock.Now("syncer", "start")
	stats := &models.RunStats{Project: s.config.Project}

	since := models.DateOf(start.In(s.loc)).AddDays(-s.config.LookbackDays)
	jql := jira.CreatedSinceJQL(s.config.Project, since)
	s.logger.Verbose("sync_started", slog.String("jql", jql))

	err := s.fetchAll(ctx, jql, stats)
	if err == nil {
		syncedAt := s.clock.Now("syncer", "watermark")
		if err = s.store.SetWatermark(ctx, syncedAt); err == nil {
			stats.SyncedAt = syncedAt
		}
	}

	finished := s.clock.Now("syncer", "finish")
	stats.Duration = finished.Sub(start)
	s.metrics.duration.Observe(stats.Duration.Seconds())

	run := models.SyncRun{
		StartedAt:  start,
		FinishedAt: finished,
		Pages:      stats.PagesFetched,
		Issues:     stats.Upserted,
		Result:     models.SyncSucceeded,
	}
	if err != nil {
		run.Result = models.SyncFailed
		run.Error = err.Error()
	}
	// Recording history must not mask the outcome of the sync itself.
	if recErr := s.store.RecordSyncRun(ctx, run); recErr != nil {
		s.logger.LogError("failed to record sync run", recErr)
	}
	s.metrics.runs.WithLabelValues(string(run.Result)).Inc()

	if err != nil {
		s.logger.LogError("sync_failed", err,
			slog.String("project", stats.Project),
			slog.Int("pages", stats.PagesFetched),
			slog.Int("upserted", stats.Upserted),
		)
		s.notify(ctx, s.formatFailure(stats, err))
		return stats, err
	}

	s.metrics.lastSuccess.Set(float64(stats.SyncedAt.Unix()))
	s.logger.LogSyncStats(stats)
	s.notify(ctx, s.formatSummary(stats))
	return stats, nil
}

func (s *Syncer) fetchAll(ctx context.Context, jql string, stats *models.RunStats) error {
	fields := s.fields()
	startAt := 0
	for {
		page, err := s.jira.Search(ctx, jql, startAt, s.config.PageSize, fields)
		if err != nil {
			return fmt.Errorf("failed to fetch issues: %w", err)
		}
		stats.PagesFetched++
		stats.Total = page.Total
		s.metrics.pages.Inc()

		if len(page.Issues) == 0 {
			return nil
		}

		tickets := make([]models.Ticket, 0, len(page.Issues))
		for _, issue := range page.Issues {
			t, err := Ticket(issue, s.config.CategoryField)
			if err != nil {
				return err
			}
			tickets = append(tickets, t)
		}

		if err := s.store.UpsertTickets(ctx, tickets); err != nil {
			return err
		}
		stats.Upserted += len(tickets)
		s.metrics.upserted.Add(float64(len(tickets)))

		s.logger.Verbose("page_stored",
			slog.Int("start_at", startAt),
			slog.Int("issues", len(tickets)),
			slog.Int("total", page.Total),
		)

		startAt += len(page.Issues)
		if startAt >= page.Total {
			return nil
		}
	}
}

// Ticket maps a Jira issue to a stored ticket. Dates are taken in the
// offset of the Jira timestamp.
func Ticket(issue jira.Issue, categoryField string) (models.Ticket, error) {
	created, err := issue.Created()
	if err != nil {
		return models.Ticket{}, err
	}
	t := models.Ticket{
		Key:     issue.Key,
		Created: models.DateOf(created),
		Title:   issue.Summary(),
		Status:  issue.StatusName(),
	}

	resolved, ok, err := issue.ResolutionDate()
	if err != nil {
		return models.Ticket{}, err
	}
	if ok {
		d := models.DateOf(resolved)
		t.Closed = &d
	}

	if categoryField != "" {
		if values, ok := issue.OptionValues(categoryField); ok {
			t.Category = models.JoinCategories(values)
		}
	}
	return t, nil
}

func (s *Syncer) notify(ctx context.Context, message string) {
	if !s.slack.Enabled() {
		return
	}
	if err := s.slack.SendMessage(ctx, message); err != nil {
		s.logger.LogError("failed to send slack summary", err)
	}
}

func (s *Syncer) formatSummary(stats *models.RunStats) string {
	message := fmt.Sprintf("✅ Jira sync for %s completed\n", stats.Project)
	message += fmt.Sprintf("*Issues:* %d of %d\n", stats.Upserted, stats.Total)
	message += fmt.Sprintf("*Pages:* %d\n", stats.PagesFetched)
	message += fmt.Sprintf("*Duration:* %s", stats.Duration.Round(time.Millisecond))
	return message
}

func (s *Syncer) formatFailure(stats *models.RunStats, err error) string {
	message := fmt.Sprintf("🚨 Jira sync for %s failed\n", stats.Project)
	message += fmt.Sprintf("*Stored before failure:* %d issues in %d pages\n", stats.Upserted, stats.PagesFetched)
	message += fmt.Sprintf("*Error:* %s", err)
	return message
}

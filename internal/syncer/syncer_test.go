package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/voicetel/ticketboard/internal/config"
	"github.com/voicetel/ticketboard/internal/database"
	"github.com/voicetel/ticketboard/internal/jira"
	"github.com/voicetel/ticketboard/internal/models"
)

var syncTime = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

// fakeJira serves a fixed issue list one page at a time.
type fakeJira struct {
	mu       sync.Mutex
	issues   []jira.Issue
	total    int // reported total, defaults to len(issues)
	failAt   int // 1-based call number that fails, 0 never
	calls    []int
	jql      string
	fields   []string
	pageSize int
}

func (f *fakeJira) Search(ctx context.Context, jql string, startAt, maxResults int, fields []string) (*jira.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startAt)
	f.jql, f.fields, f.pageSize = jql, fields, maxResults
	if f.failAt == len(f.calls) {
		return nil, errors.New("jira unavailable")
	}

	total := f.total
	if total == 0 {
		total = len(f.issues)
	}
	end := min(startAt+maxResults, len(f.issues))
	var page []jira.Issue
	if startAt < end {
		page = f.issues[startAt:end]
	}
	return &jira.SearchPage{StartAt: startAt, MaxResults: maxResults, Total: total, Issues: page}, nil
}

type issueSpec struct {
	key, summary, status, created string
	resolved                      string
	categories                    []string
}

func makeIssue(t *testing.T, s issueSpec) jira.Issue {
	t.Helper()
	fields := map[string]any{
		"summary":        s.summary,
		"status":         map[string]any{"name": s.status},
		"created":        s.created,
		"resolutiondate": nil,
	}
	if s.resolved != "" {
		fields["resolutiondate"] = s.resolved
	}
	if s.categories != nil {
		opts := make([]map[string]string, 0, len(s.categories))
		for _, c := range s.categories {
			opts = append(opts, map[string]string{"value": c})
		}
		fields["customfield_10159"] = opts
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return jira.Issue{Key: s.key, Fields: raw}
}

func manyIssues(t *testing.T, n int) []jira.Issue {
	issues := make([]jira.Issue, 0, n)
	for i := 0; i < n; i++ {
		issues = append(issues, makeIssue(t, issueSpec{
			key:     fmt.Sprintf("KAS-%d", i+1),
			summary: fmt.Sprintf("Issue %d", i+1),
			status:  "Open",
			created: "2024-05-01T09:00:00.000+0200",
		}))
	}
	return issues
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Jira.URL = "https://jira.example.com"
	cfg.Jira.PageSize = 100
	cfg.Timezone = "UTC"
	return cfg
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))
	return db
}

func newTestSyncer(t *testing.T, fj *fakeJira, db *database.DB, cfg *config.Config) *Syncer {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(syncTime)
	s, err := New(fj, db, cfg, Options{Clock: clock, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return s
}

func countIssues(t *testing.T, db *database.DB) int {
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM issues"))
	return n
}

func TestRunPaginatesUntilTotal(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fj := &fakeJira{issues: manyIssues(t, 250)}
	s := newTestSyncer(t, fj, db, testConfig())

	stats, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{0, 100, 200}, fj.calls)
	require.Equal(t, 100, fj.pageSize)
	require.Equal(t, 3, stats.PagesFetched)
	require.Equal(t, 250, stats.Upserted)
	require.Equal(t, 250, stats.Total)
	require.Equal(t, 250, countIssues(t, db))

	require.Equal(t, float64(3), testutil.ToFloat64(s.metrics.pages))
	require.Equal(t, float64(250), testutil.ToFloat64(s.metrics.upserted))
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.runs.WithLabelValues("success")))
	require.Equal(t, float64(syncTime.Unix()), testutil.ToFloat64(s.metrics.lastSuccess))
}

func TestRunQuery(t *testing.T) {
	fj := &fakeJira{}
	s := newTestSyncer(t, fj, newTestDB(t), testConfig())

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, `project = KAS AND created >= "2023-06-11" ORDER BY key ASC`, fj.jql)
	require.Equal(t, []string{"summary", "status", "created", "resolutiondate", "customfield_10159"}, fj.fields)
	require.Equal(t, []int{0}, fj.calls)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	// Jira reports more issues than it hands out.
	fj := &fakeJira{issues: manyIssues(t, 100), total: 500}
	db := newTestDB(t)
	s := newTestSyncer(t, fj, db, testConfig())

	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, 100}, fj.calls)
	require.Equal(t, 100, stats.Upserted)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fj := &fakeJira{issues: manyIssues(t, 150)}
	s := newTestSyncer(t, fj, db, testConfig())

	_, err := s.Run(ctx)
	require.NoError(t, err)
	before, err := db.TicketsCreatedSince(ctx, models.NewDate(2024, 1, 1))
	require.NoError(t, err)

	_, err = s.Run(ctx)
	require.NoError(t, err)
	after, err := db.TicketsCreatedSince(ctx, models.NewDate(2024, 1, 1))
	require.NoError(t, err)

	require.Len(t, after, 150)
	require.Equal(t, before, after)
}

func TestRunOverwritesChangedIssues(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fj := &fakeJira{issues: []jira.Issue{makeIssue(t, issueSpec{
		key: "KAS-1", summary: "Printer broken", status: "Open",
		created:    "2024-06-01T10:00:00.000+0200",
		categories: []string{"Hardware"},
	})}}
	s := newTestSyncer(t, fj, db, testConfig())
	_, err := s.Run(ctx)
	require.NoError(t, err)

	fj.issues = []jira.Issue{makeIssue(t, issueSpec{
		key: "KAS-1", summary: "Printer replaced", status: "Done",
		created:  "2024-06-01T10:00:00.000+0200",
		resolved: "2024-06-05T16:30:00.000+0200",
	})}
	_, err = s.Run(ctx)
	require.NoError(t, err)

	got, err := db.Ticket(ctx, "KAS-1")
	require.NoError(t, err)
	require.Equal(t, "Printer replaced", got.Title)
	require.Equal(t, "Done", got.Status)
	require.NotNil(t, got.Closed)
	require.Equal(t, "2024-06-05", got.Closed.String())
	require.Empty(t, got.Category)
	require.Equal(t, 1, countIssues(t, db))
}

func TestRunFailureKeepsCommittedPages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fj := &fakeJira{issues: manyIssues(t, 250), failAt: 2}
	s := newTestSyncer(t, fj, db, testConfig())

	stats, err := s.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "jira unavailable")
	require.Equal(t, 100, stats.Upserted)
	require.Equal(t, 100, countIssues(t, db))

	_, ok, err := db.Watermark(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	run, err := db.LastSyncRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, models.SyncFailed, run.Result)
	require.Equal(t, 1, run.Pages)
	require.Equal(t, 100, run.Issues)
	require.Contains(t, run.Error, "jira unavailable")
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.runs.WithLabelValues("failed")))
}

func TestRunAbortsOnMalformedIssue(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fj := &fakeJira{issues: []jira.Issue{
		makeIssue(t, issueSpec{key: "KAS-1", summary: "ok", status: "Open", created: "2024-06-01T10:00:00.000+0200"}),
		makeIssue(t, issueSpec{key: "KAS-2", summary: "bad", status: "Open", created: "yesterday"}),
	}}
	s := newTestSyncer(t, fj, db, testConfig())

	_, err := s.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "KAS-2")
	require.Equal(t, 0, countIssues(t, db))

	_, ok, err := db.Watermark(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunWritesWatermark(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := newTestSyncer(t, &fakeJira{issues: manyIssues(t, 3)}, db, testConfig())

	stats, err := s.Run(ctx)
	require.NoError(t, err)
	require.True(t, stats.SyncedAt.Equal(syncTime))

	wm, ok, err := db.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, wm.Equal(syncTime), "watermark %s", wm)

	run, err := db.LastSyncRun(ctx)
	require.NoError(t, err)
	require.Equal(t, models.SyncSucceeded, run.Result)
	require.Empty(t, run.Error)
}

func TestTicket(t *testing.T) {
	issue := makeIssue(t, issueSpec{
		key: "KAS-7", summary: "VPN down", status: "In Progress",
		created:    "2024-06-01T23:30:00.000-0500",
		resolved:   "2024-06-03T00:15:00.000+0200",
		categories: []string{"Network", "Remote"},
	})

	got, err := Ticket(issue, "customfield_10159")
	require.NoError(t, err)
	require.Equal(t, "KAS-7", got.Key)
	require.Equal(t, "VPN down", got.Title)
	require.Equal(t, "In Progress", got.Status)
	// dates are taken in the timestamp's own offset
	require.Equal(t, "2024-06-01", got.Created.String())
	require.Equal(t, "2024-06-03", got.Closed.String())
	require.Equal(t, "Network, Remote", got.Category)

	got, err = Ticket(issue, "")
	require.NoError(t, err)
	require.Empty(t, got.Category)
}

func TestRunSendsSlackSummary(t *testing.T) {
	var mu sync.Mutex
	var messages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&m)
		mu.Lock()
		messages = append(messages, m.Text)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Slack.WebhookURL = srv.URL
	cfg.Slack.RetryAttempts = 1
	s := newTestSyncer(t, &fakeJira{issues: manyIssues(t, 2)}, newTestDB(t), cfg)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0], "Jira sync for KAS completed")
	require.Contains(t, messages[0], "*Issues:* 2 of 2")
}

func TestRunIgnoresSlackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Slack.WebhookURL = srv.URL
	cfg.Slack.RetryAttempts = 1
	s := newTestSyncer(t, &fakeJira{issues: manyIssues(t, 2)}, newTestDB(t), cfg)

	_, err := s.Run(context.Background())
	require.NoError(t, err)
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err := New(&fakeJira{}, newTestDB(t), cfg, Options{})
	require.Error(t, err)
}

package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicetel/ticketboard/internal/config"
	"github.com/voicetel/ticketboard/internal/jira"
	"github.com/voicetel/ticketboard/internal/logging"
	"github.com/voicetel/ticketboard/internal/models"
	"github.com/voicetel/ticketboard/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

const watermarkLayout = "2006-01-02 15:04:05"

// Store is the read side of the database the dashboard needs.
type Store interface {
	TicketsCreatedSince(ctx context.Context, since models.Date) ([]models.Ticket, error)
	OpenTickets(ctx context.Context, day models.Date) ([]models.Ticket, error)
	Watermark(ctx context.Context) (time.Time, bool, error)
}

// Syncer runs one synchronization.
type Syncer interface {
	Run(ctx context.Context) (*models.RunStats, error)
}

type Options struct {
	Logger *logging.Logger
	Clock  quartz.Clock
	// Registerer receives the HTTP metrics and Gatherer backs /metrics.
	// Either may be nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Cache memoizes reports; nil builds a default one.
	Cache *report.Cache
}

// Server serves the ticket dashboard and its JSON API.
type Server struct {
	store    Store
	syncer   Syncer
	cfg      config.DashboardConfig
	jiraURL  string
	lookback int
	loc      *time.Location
	clock    quartz.Clock
	logger   *logging.Logger
	cache    *report.Cache
	tmpl     *template.Template
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	srv      *http.Server
}

func NewServer(store Store, syncer Syncer, cfg *config.Config, opts Options) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Cache == nil {
		opts.Cache = report.NewCache(64, time.Hour)
	}

	factory := promauto.With(opts.Registerer)
	s := &Server{
		store:    store,
		syncer:   syncer,
		cfg:      cfg.Dashboard,
		jiraURL:  cfg.Jira.URL,
		lookback: cfg.Jira.LookbackDays,
		loc:      loc,
		clock:    opts.Clock,
		logger:   opts.Logger,
		cache:    opts.Cache,
		tmpl:     tmpl,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketboard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketboard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/", s.handleIndex)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/api/report", s.handleReport)
	r.Get("/api/open", s.handleOpen)
	r.Get("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:              cfg.Dashboard.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("dashboard starting", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		s.logger.Verbose("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) today() models.Date {
	return models.DateOf(s.clock.Now("dashboard", "today").In(s.loc))
}

// window returns the requested day count if it is one of the configured
// windows, otherwise the default.
func (s *Server) window(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || !slices.Contains(s.cfg.Windows, days) {
		return s.cfg.DefaultWindow
	}
	return days
}

func (s *Server) buildReport(ctx context.Context, today models.Date, days int) (*report.Report, time.Time, bool, error) {
	watermark, ok, err := s.store.Watermark(ctx)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	rep, err := s.cache.Get(today, days, watermark, func() ([]models.Ticket, error) {
		return s.store.TicketsCreatedSince(ctx, today.AddDays(-s.lookback))
	})
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return rep, watermark, ok, nil
}

type openTicket struct {
	models.Ticket
	URL string `json:"url"`
}

func (s *Server) openTickets(ctx context.Context, today models.Date, sortBy, order string) ([]openTicket, string, string, error) {
	tickets, err := s.store.OpenTickets(ctx, today)
	if err != nil {
		return nil, "", "", err
	}
	sortBy, order = sortTickets(tickets, sortBy, order)

	out := make([]openTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, openTicket{Ticket: t, URL: jira.BrowseURL(s.jiraURL, t.Key)})
	}
	return out, sortBy, order, nil
}

type chartData struct {
	Labels     []string `json:"labels"`
	Open       []int    `json:"open"`
	New        []int    `json:"new"`
	Closed     []int    `json:"closed"`
	Categories []string `json:"categories"`
	Counts     []int    `json:"counts"`
}

func newChartData(rep *report.Report) chartData {
	c := chartData{}
	for _, d := range rep.Series {
		c.Labels = append(c.Labels, d.Day.String())
		c.Open = append(c.Open, d.Open)
		c.New = append(c.New, d.New)
		c.Closed = append(c.Closed, d.Closed)
	}
	for _, cc := range rep.Categories {
		c.Categories = append(c.Categories, cc.Category)
		c.Counts = append(c.Counts, cc.Count)
	}
	return c
}

type headerLink struct {
	column
	Href   string
	Active bool
	Order  string
}

type pageData struct {
	Title     string
	Days      int
	Windows   []int
	Watermark string
	Report    *report.Report
	Chart     chartData
	Tickets   []openTicket
	Headers   []headerLink
	Refresh   string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	today := s.today()
	days := s.window(r)

	rep, watermark, ok, err := s.buildReport(ctx, today, days)
	if err != nil {
		s.serverError(w, "failed to build report", err)
		return
	}
	q := r.URL.Query()
	tickets, sortBy, order, err := s.openTickets(ctx, today, q.Get("sort"), q.Get("order"))
	if err != nil {
		s.serverError(w, "failed to load open tickets", err)
		return
	}

	data := pageData{
		Title:     s.cfg.Title,
		Days:      days,
		Windows:   s.cfg.Windows,
		Watermark: "never",
		Report:    rep,
		Chart:     newChartData(rep),
		Tickets:   tickets,
		Headers:   s.headerLinks(days, sortBy, order),
		Refresh:   withQuery("/refresh", r.URL.RawQuery),
	}
	if ok {
		data.Watermark = watermark.In(s.loc).Format(watermarkLayout)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.LogError("failed to render dashboard", err)
	}
}

// headerLinks builds the column header links. Clicking the active column
// flips its order; any other column starts ascending.
func (s *Server) headerLinks(days int, sortBy, order string) []headerLink {
	links := make([]headerLink, 0, len(columns))
	for _, c := range columns {
		next := orderAsc
		if c.Name == sortBy && order == orderAsc {
			next = orderDesc
		}
		v := url.Values{}
		v.Set("days", strconv.Itoa(days))
		v.Set("sort", c.Name)
		v.Set("order", next)
		links = append(links, headerLink{
			column: c,
			Href:   "/?" + v.Encode(),
			Active: c.Name == sortBy,
			Order:  order,
		})
	}
	return links
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// the sync outlives a client that gives up waiting
	_, err := s.syncer.Run(context.WithoutCancel(r.Context()))
	// a failed sync may still have committed pages
	s.cache.Invalidate()
	if err != nil {
		s.serverError(w, "synchronization failed", err)
		return
	}
	http.Redirect(w, r, withQuery("/", r.URL.RawQuery), http.StatusSeeOther)
}

func withQuery(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}

type reportResponse struct {
	*report.Report
	Watermark *time.Time `json:"watermark"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, watermark, ok, err := s.buildReport(r.Context(), s.today(), s.window(r))
	if err != nil {
		s.serverError(w, "failed to build report", err)
		return
	}
	resp := reportResponse{Report: rep}
	if ok {
		resp.Watermark = &watermark
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tickets, _, _, err := s.openTickets(r.Context(), s.today(), q.Get("sort"), q.Get("order"))
	if err != nil {
		s.serverError(w, "failed to load open tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.store.Watermark(r.Context()); err != nil {
		s.logger.LogError("health check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.logger.LogError(msg, err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported database drivers. The names are the database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const envPrefix = "TICKETBOARD_"

type Config struct {
	Jira      JiraConfig      `json:"jira" yaml:"jira"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Slack     SlackConfig     `json:"slack" yaml:"slack"`

	// Sync
	SyncSchedule string `json:"sync_schedule" yaml:"sync_schedule"` // cron expression, empty disables
	Timezone     string `json:"timezone" yaml:"timezone"`

	// Cleanup
	RetentionDays int  `json:"retention_days" yaml:"retention_days"`
	AutoVacuum    bool `json:"auto_vacuum" yaml:"auto_vacuum"`

	// Operational
	Verbose   bool   `json:"verbose" yaml:"verbose"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

type JiraConfig struct {
	URL           string   `json:"url" yaml:"url"`     // Base URL, also used for browse links
	User          string   `json:"user" yaml:"user"`   // Account for basic auth
	Token         string   `json:"token" yaml:"token"` // API token or personal access token
	AuthType      string   `json:"auth_type" yaml:"auth_type"`
	APIVersion    string   `json:"api_version" yaml:"api_version"`
	Project       string   `json:"project" yaml:"project"`
	CategoryField string   `json:"category_field" yaml:"category_field"`
	PageSize      int      `json:"page_size" yaml:"page_size"`
	LookbackDays  int      `json:"lookback_days" yaml:"lookback_days"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type DashboardConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	Title         string `json:"title" yaml:"title"`
	Windows       []int  `json:"windows" yaml:"windows"` // selectable day counts
	DefaultWindow int    `json:"default_window" yaml:"default_window"`
}

type SlackConfig struct {
	WebhookURL    string   `json:"webhook_url" yaml:"webhook_url"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int      `json:"retry_attempts" yaml:"retry_attempts"`
}

const (
	AuthAPIToken            = "api_token"
	AuthPersonalAccessToken = "personal_access_token"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Jira: JiraConfig{
			AuthType:      AuthAPIToken,
			APIVersion:    "2",
			Project:       "KAS",
			CategoryField: "customfield_10159",
			PageSize:      100,
			LookbackDays:  365,
			Timeout:       Duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "./ticketboard.db",
		},
		Dashboard: DashboardConfig{
			Addr:          ":8080",
			Title:         "Ticket-Analyse",
			Windows:       []int{7, 30, 90, 180, 365},
			DefaultWindow: 7,
		},
		Slack: SlackConfig{
			Timeout:       Duration{10 * time.Second},
			RetryAttempts: 3,
		},
		Timezone:      "Local",
		RetentionDays: 90,
		LogFormat:     "text",
	}
}

// Load builds the effective configuration: defaults, then the optional
// file, then TICKETBOARD_* environment variables.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromFile overlays the file onto c. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(filename) {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ApplyEnv overrides settings from TICKETBOARD_* variables. Secrets are
// expected to arrive this way rather than through the config file.
func (c *Config) ApplyEnv() {
	setString(&c.Jira.URL, "JIRA_URL")
	setString(&c.Jira.User, "JIRA_USER")
	setString(&c.Jira.Token, "JIRA_TOKEN")
	setString(&c.Jira.AuthType, "JIRA_AUTH_TYPE")
	setString(&c.Jira.Project, "JIRA_PROJECT")
	setString(&c.Jira.CategoryField, "JIRA_CATEGORY_FIELD")
	setInt(&c.Jira.PageSize, "JIRA_PAGE_SIZE")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Dashboard.Addr, "LISTEN_ADDR")
	setString(&c.Slack.WebhookURL, "SLACK_WEBHOOK")
	setString(&c.SyncSchedule, "SYNC_SCHEDULE")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.LogFormat, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks everything the sync and serve commands need.
func (c *Config) Validate() error {
	if err := c.validateJira(); err != nil {
		return err
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}

	if len(c.Dashboard.Windows) == 0 {
		return fmt.Errorf("at least one dashboard window is required")
	}
	for _, w := range c.Dashboard.Windows {
		if w < 1 {
			return fmt.Errorf("dashboard windows must be positive, got %d", w)
		}
	}
	if !slices.Contains(c.Dashboard.Windows, c.Dashboard.DefaultWindow) {
		return fmt.Errorf("default window %d is not one of %v", c.Dashboard.DefaultWindow, c.Dashboard.Windows)
	}

	if c.SyncSchedule != "" {
		if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", c.SyncSchedule, err)
		}
	}

	return nil
}

// ValidateStore checks only the settings used by commands that touch the
// database and nothing else.
func (c *Config) ValidateStore() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateJira() error {
	if c.Jira.URL == "" {
		return fmt.Errorf("jira url is required")
	}
	if _, err := url.ParseRequestURI(c.Jira.URL); err != nil {
		return fmt.Errorf("invalid jira url: %w", err)
	}
	if c.Jira.Project == "" {
		return fmt.Errorf("jira project is required")
	}

	switch c.Jira.AuthType {
	case AuthAPIToken:
		if c.Jira.User == "" || c.Jira.Token == "" {
			return fmt.Errorf("jira user and token are required for %s auth", AuthAPIToken)
		}
	case AuthPersonalAccessToken:
		if c.Jira.Token == "" {
			return fmt.Errorf("jira token is required for %s auth", AuthPersonalAccessToken)
		}
	default:
		return fmt.Errorf("unknown jira auth type %q", c.Jira.AuthType)
	}

	if c.Jira.PageSize < 1 || c.Jira.PageSize > 1000 {
		return fmt.Errorf("jira page size must be 1-1000")
	}
	if c.Jira.LookbackDays < 1 {
		return fmt.Errorf("jira lookback days must be positive")
	}
	return nil
}

// validateDatabase checks the driver and, for MySQL, rewrites the DSN so
// DATE and TIMESTAMP columns scan into time.Time.
func (c *Config) validateDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("dsn is required")
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
		return nil
	case DriverMySQL:
		dsn, err := NormalizeMySQLDSN(c.Database.DSN)
		if err != nil {
			return err
		}
		c.Database.DSN = dsn
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", c.Database.Driver)
	}
}

// NormalizeMySQLDSN forces parseTime=true on a go-sql-driver DSN.
func NormalizeMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "tcp://") {
		return "", fmt.Errorf("DSN should not include 'tcp://' scheme, use format: 'user:password@tcp(host:port)/database'")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("DSN must be in format 'user:password@tcp(host:port)/database?options': %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// Location resolves Timezone, which decides what "today" means.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DSNInfo returns the parts of the database DSN that are safe to display.
func (c *Config) DSNInfo() map[string]string {
	info := map[string]string{"driver": c.Database.Driver}
	dsn := c.Database.DSN

	switch c.Database.Driver {
	case DriverMySQL:
		if mc, err := mysql.ParseDSN(dsn); err == nil {
			info["user"] = mc.User
			info["host_port"] = mc.Addr
			info["database"] = mc.DBName
		}
	case DriverPostgres:
		if u, err := url.Parse(dsn); err == nil && u.Host != "" {
			info["user"] = u.User.Username()
			info["host_port"] = u.Host
			info["database"] = strings.TrimPrefix(u.Path, "/")
		}
	default:
		info["path"] = dsn
	}

	return info
}

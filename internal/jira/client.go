package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/voicetel/ticketboard/internal/config"
	"github.com/voicetel/ticketboard/internal/models"
)

type Client struct {
	baseURL    string
	user       string
	authType   string
	token      string
	apiVersion string
	http       *http.Client
}

func NewClient(cfg config.JiraConfig) *Client {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		user:       cfg.User,
		authType:   cfg.AuthType,
		token:      cfg.Token,
		apiVersion: apiVersion,
		http: &http.Client{
			Timeout: cfg.Timeout.Duration,
		},
	}
}

// SearchPage is one page of a JQL search.
type SearchPage struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// CreatedSinceJQL selects every issue of project created on or after since.
// Ordering by key keeps page boundaries stable while paging.
func CreatedSinceJQL(project string, since models.Date) string {
	return fmt.Sprintf(`project = %s AND created >= "%s" ORDER BY key ASC`, project, since)
}

// BrowseURL links to the issue in the Jira web UI.
func BrowseURL(baseURL, key string) string {
	return fmt.Sprintf("%s/browse/%s", strings.TrimRight(baseURL, "/"), key)
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/rest/api/%s%s", c.baseURL, c.apiVersion, path)
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.authType {
	case config.AuthPersonalAccessToken:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	default:
		req.SetBasicAuth(c.user, c.token)
	}
}

// Search runs one page of a JQL query starting at startAt.
func (c *Client) Search(ctx context.Context, jql string, startAt, maxResults int, fields []string) (*SearchPage, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("/search")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)

	var page SearchPage
	if err := c.doJSON(req, &page); err != nil {
		return nil, fmt.Errorf("search at %d: %w", startAt, err)
	}
	return &page, nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("/myself"), nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)
	return c.do(req, nil)
}

func (c *Client) doJSON(req *http.Request, v any) error {
	return c.do(req, func(body []byte) error {
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
}

func (c *Client) do(req *http.Request, handler func([]byte) error) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jira api error (%d): %s", resp.StatusCode, string(data))
	}

	if handler != nil {
		return handler(data)
	}
	return nil
}

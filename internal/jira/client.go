package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Transport executes one logical GET and returns the JSON body. A nil body
// with a nil error signals a non-retryable empty outcome (4xx, non-JSON).
type Transport interface {
	GetJSON(ctx context.Context, operation, rawURL string, query url.Values) ([]byte, error)
}

// Client wraps the Jira REST API v2 endpoints the harvester consumes.
type Client struct {
	transport Transport
	baseURL   string
	logger    *zap.Logger
}

// NewClient builds a Client rooted at baseURL.
func NewClient(transport Transport, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/rest/api/2/" + strings.Join(parts, "/")
}

// SearchIssues runs a JQL search at the given pagination offset. The query
// expression is treated as an opaque string owned by the caller. An empty
// upstream outcome decodes to a zero-valued result.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (SearchResult, error) {
	query := url.Values{
		"jql":        {jql},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {"*all"},
	}

	c.logger.Debug("searching issues",
		zap.String("jql", jql),
		zap.Int("start_at", startAt),
		zap.Int("max_results", maxResults),
	)

	body, err := c.transport.GetJSON(ctx, "search", c.endpoint("search"), query)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search issues: %w", err)
	}
	if body == nil {
		return SearchResult{}, nil
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return SearchResult{}, fmt.Errorf("decode search result: %w", err)
	}
	return result, nil
}

// GetIssue fetches the full detail for one issue. The expand parameter is the
// comma-separated entity list Jira understands (e.g. "changelog,renderedFields").
func (c *Client) GetIssue(ctx context.Context, issueKey, expand string) (Issue, error) {
	query := url.Values{}
	if expand != "" {
		query.Set("expand", expand)
	}

	c.logger.Debug("fetching issue", zap.String("issue_key", issueKey))

	body, err := c.transport.GetJSON(ctx, "issue", c.endpoint("issue", issueKey), query)
	if err != nil {
		return Issue{}, fmt.Errorf("get issue %s: %w", issueKey, err)
	}
	if body == nil {
		return Issue{}, nil
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return Issue{}, fmt.Errorf("decode issue %s: %w", issueKey, err)
	}
	return issue, nil
}

// GetComments fetches the discussion thread for one issue.
func (c *Client) GetComments(ctx context.Context, issueKey string) ([]json.RawMessage, error) {
	c.logger.Debug("fetching comments", zap.String("issue_key", issueKey))

	body, err := c.transport.GetJSON(ctx, "comments", c.endpoint("issue", issueKey, "comment"), nil)
	if err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", issueKey, err)
	}
	if body == nil {
		return nil, nil
	}

	var envelope commentsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode comments for %s: %w", issueKey, err)
	}
	return envelope.Comments, nil
}

// GetProject fetches descriptive metadata for a project.
func (c *Client) GetProject(ctx context.Context, projectKey string) (Project, error) {
	c.logger.Debug("fetching project info", zap.String("project", projectKey))

	body, err := c.transport.GetJSON(ctx, "project", c.endpoint("project", projectKey), nil)
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", projectKey, err)
	}
	if body == nil {
		return Project{}, nil
	}

	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return Project{}, fmt.Errorf("decode project %s: %w", projectKey, err)
	}
	return project, nil
}

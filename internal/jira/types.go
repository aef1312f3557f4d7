// Package jira provides a typed client for the Jira REST API, built on the
// retrying transport. Issue content stays opaque: the harvester only needs
// keys for identity and totals for pagination.
package jira

import "encoding/json"

// IssueRef is one entry of a paginated search result.
type IssueRef struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// SearchResult is one page of a paginated search.
type SearchResult struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []IssueRef `json:"issues"`
}

// Issue is the full detail document for a single issue. Fields are passed
// through untouched to the transformer.
type Issue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

// commentsEnvelope matches the comment collection endpoint response.
type commentsEnvelope struct {
	Comments []json.RawMessage `json:"comments"`
}

// Project is the descriptive metadata for a project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// EnrichedIssue merges an issue's full detail with its comment thread. The
// comments ride under the fixed comments_data key alongside the raw fields.
type EnrichedIssue struct {
	ID       string            `json:"id"`
	Key      string            `json:"key"`
	Fields   json.RawMessage   `json:"fields"`
	Comments []json.RawMessage `json:"comments_data"`
}

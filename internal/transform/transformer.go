// Package transform converts enriched issues into instruction-tuning
// examples and writes them out as JSONL.
package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/jira"
)

// Jira wiki markup stripped before any text reaches a dataset: block macros
// like {code} and {quote}, user mentions, and titled links.
var (
	markupRe   = regexp.MustCompile(`\{[^}]+\}`)
	mentionRe  = regexp.MustCompile(`\[~[^\]]+\]`)
	linkRe     = regexp.MustCompile(`\[[^\]]*\|[^\]]*\]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Metadata is the per-issue context attached to every generated example.
type Metadata struct {
	IssueKey    string   `json:"issue_key"`
	IssueID     string   `json:"issue_id"`
	Project     string   `json:"project"`
	ProjectName string   `json:"project_name"`
	IssueType   string   `json:"issue_type"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Resolution  string   `json:"resolution"`
	Reporter    string   `json:"reporter"`
	Assignee    string   `json:"assignee"`
	Created     string   `json:"created"`
	Updated     string   `json:"updated"`
	Resolved    string   `json:"resolved"`
	Labels      []string `json:"labels"`
	Components  []string `json:"components"`
	Versions    []string `json:"versions"`
	FixVersions []string `json:"fix_versions"`
}

// Example is one instruction-tuning record.
type Example struct {
	Task        string   `json:"task"`
	Instruction string   `json:"instruction"`
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	Metadata    Metadata `json:"metadata"`
}

// Stats summarizes a generated dataset.
type Stats struct {
	TotalExamples int            `json:"total_examples"`
	Tasks         map[string]int `json:"tasks"`
	Projects      map[string]int `json:"projects"`
	IssueTypes    map[string]int `json:"issue_types"`
	Priorities    map[string]int `json:"priorities"`
	Statuses      map[string]int `json:"statuses"`
}

// Transformer turns enriched issues into training examples.
type Transformer struct {
	logger *zap.Logger
}

// New constructs a Transformer.
func New(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger}
}

// Shapes of the raw Jira field payloads we care about. Everything else in the
// fields object is ignored.
type named struct {
	Name string `json:"name"`
}

type user struct {
	DisplayName string `json:"displayName"`
}

type projectField struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type issueFields struct {
	Summary        string       `json:"summary"`
	Description    string       `json:"description"`
	Project        projectField `json:"project"`
	IssueType      named        `json:"issuetype"`
	Status         named        `json:"status"`
	Priority       named        `json:"priority"`
	Resolution     *named       `json:"resolution"`
	Reporter       *user        `json:"reporter"`
	Assignee       *user        `json:"assignee"`
	Created        string       `json:"created"`
	Updated        string       `json:"updated"`
	ResolutionDate string       `json:"resolutiondate"`
	Labels         []string     `json:"labels"`
	Components     []named      `json:"components"`
	Versions       []named      `json:"versions"`
	FixVersions    []named      `json:"fixVersions"`
}

type rawComment struct {
	Body    string `json:"body"`
	Author  user   `json:"author"`
	Created string `json:"created"`
}

type comment struct {
	Author string
	Date   string
	Text   string
}

// CleanText strips Jira wiki markup and collapses whitespace.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = markupRe.ReplaceAllString(text, "")
	text = mentionRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Transform generates training examples from one enriched issue. A malformed
// fields payload yields no examples rather than an error; one bad issue never
// aborts a batch.
func (t *Transformer) Transform(issue jira.EnrichedIssue) []Example {
	var fields issueFields
	if len(issue.Fields) > 0 {
		if err := json.Unmarshal(issue.Fields, &fields); err != nil {
			t.logger.Error("malformed issue fields, skipping",
				zap.String("issue_key", issue.Key),
				zap.Error(err),
			)
			return nil
		}
	}

	meta := metadataFrom(issue, fields)
	summary := CleanText(fields.Summary)
	description := CleanText(fields.Description)
	comments := decodeComments(issue.Comments)
	commentsText := joinComments(comments)

	if summary == "" && description == "" {
		return nil
	}

	var examples []Example

	if description != "" {
		examples = append(examples, Example{
			Task:        "summarization",
			Instruction: "Summarize the following software issue in one sentence.",
			Input:       description,
			Output:      summary,
			Metadata:    meta,
		})
	}

	examples = append(examples, Example{
		Task:        "classification",
		Instruction: "Classify the type and priority of this software issue.",
		Input:       fmt.Sprintf("Title: %s\n\nDescription: %s", summary, description),
		Output:      fmt.Sprintf("Type: %s, Priority: %s, Status: %s", meta.IssueType, meta.Priority, meta.Status),
		Metadata:    meta,
	})

	if description != "" {
		examples = append(examples, Example{
			Task:        "question_answering",
			Instruction: "Answer the question based on the issue details.",
			Input:       fmt.Sprintf("Question: What is this issue about?\n\nIssue: %s\n\nDescription: %s", summary, description),
			Output:      truncate(description, 500),
			Metadata:    meta,
		})
	}

	if meta.Resolution != "" && meta.Resolution != "Unresolved" {
		if resolving, ok := firstResolutionComment(comments); ok {
			examples = append(examples, Example{
				Task:        "resolution_extraction",
				Instruction: "Extract how this issue was resolved.",
				Input:       fmt.Sprintf("Issue: %s\n\nComments: %s", summary, commentsText),
				Output:      fmt.Sprintf("Resolution: %s\n\nDetails: %s", meta.Resolution, head(resolving.Text, 300)),
				Metadata:    meta,
			})
		}
	}

	if len(comments) >= 2 {
		examples = append(examples, Example{
			Task:        "discussion_summary",
			Instruction: "Summarize the technical discussion in this issue thread.",
			Input:       fmt.Sprintf("Issue: %s\n\nDiscussion: %s", summary, head(commentsText, 1000)),
			Output: fmt.Sprintf("This issue involves %s with %d comments discussing the problem and potential solutions.",
				strings.ToLower(meta.IssueType), len(comments)),
			Metadata: meta,
		})
	}

	if len(meta.Components) > 0 || len(meta.Labels) > 0 {
		examples = append(examples, Example{
			Task:        "component_prediction",
			Instruction: "Predict the relevant components and labels for this issue.",
			Input:       fmt.Sprintf("Title: %s\n\nDescription: %s", summary, head(description, 500)),
			Output: fmt.Sprintf("Components: %s\nLabels: %s",
				strings.Join(meta.Components, ", "), strings.Join(meta.Labels, ", ")),
			Metadata: meta,
		})
	}

	fullContext := fmt.Sprintf(`Issue: %s
Project: %s
Type: %s
Priority: %s
Status: %s

Summary: %s

Description: %s

Comments (%d):
%s
`, meta.IssueKey, meta.ProjectName, meta.IssueType, meta.Priority, meta.Status,
		summary, description, len(comments), head(commentsText, 1000))

	examples = append(examples, Example{
		Task:        "full_context",
		Instruction: "Analyze this software issue and provide a comprehensive overview.",
		Input:       fullContext,
		Output: fmt.Sprintf("This is a %s priority %s in the %s project. %s",
			strings.ToLower(meta.Priority), strings.ToLower(meta.IssueType), meta.ProjectName, summary),
		Metadata: meta,
	})

	return examples
}

// TransformBatch flattens a slice of issues into the combined example set.
func (t *Transformer) TransformBatch(issues []jira.EnrichedIssue) []Example {
	var all []Example
	for _, issue := range issues {
		all = append(all, t.Transform(issue)...)
	}
	t.logger.Info("transformed issues",
		zap.Int("issues", len(issues)),
		zap.Int("examples", len(all)),
	)
	return all
}

// WriteJSONL writes one JSON object per line to path, creating parent
// directories as needed.
func (t *Transformer) WriteJSONL(path string, examples []Example) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, example := range examples {
		if err := enc.Encode(example); err != nil {
			return fmt.Errorf("encode example: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	t.logger.Info("wrote dataset", zap.String("path", path), zap.Int("examples", len(examples)))
	return nil
}

// DatasetStats tallies task and metadata distributions across a dataset.
func DatasetStats(examples []Example) Stats {
	stats := Stats{
		TotalExamples: len(examples),
		Tasks:         make(map[string]int),
		Projects:      make(map[string]int),
		IssueTypes:    make(map[string]int),
		Priorities:    make(map[string]int),
		Statuses:      make(map[string]int),
	}
	for _, ex := range examples {
		stats.Tasks[ex.Task]++
		stats.Projects[ex.Metadata.Project]++
		stats.IssueTypes[ex.Metadata.IssueType]++
		stats.Priorities[ex.Metadata.Priority]++
		stats.Statuses[ex.Metadata.Status]++
	}
	return stats
}

func metadataFrom(issue jira.EnrichedIssue, fields issueFields) Metadata {
	meta := Metadata{
		IssueKey:    issue.Key,
		IssueID:     issue.ID,
		Project:     fields.Project.Key,
		ProjectName: fields.Project.Name,
		IssueType:   fields.IssueType.Name,
		Status:      fields.Status.Name,
		Priority:    fields.Priority.Name,
		Created:     fields.Created,
		Updated:     fields.Updated,
		Resolved:    fields.ResolutionDate,
		Labels:      fields.Labels,
		Components:  names(fields.Components),
		Versions:    names(fields.Versions),
		FixVersions: names(fields.FixVersions),
	}
	if fields.Resolution != nil {
		meta.Resolution = fields.Resolution.Name
	}
	if fields.Reporter != nil {
		meta.Reporter = fields.Reporter.DisplayName
	}
	if fields.Assignee != nil {
		meta.Assignee = fields.Assignee.DisplayName
	}
	if meta.Labels == nil {
		meta.Labels = []string{}
	}
	return meta
}

func decodeComments(raw []json.RawMessage) []comment {
	comments := make([]comment, 0, len(raw))
	for _, data := range raw {
		var rc rawComment
		if err := json.Unmarshal(data, &rc); err != nil {
			continue
		}
		text := CleanText(rc.Body)
		if text == "" {
			continue
		}
		author := rc.Author.DisplayName
		if author == "" {
			author = "Unknown"
		}
		comments = append(comments, comment{Author: author, Date: rc.Created, Text: text})
	}
	return comments
}

func joinComments(comments []comment) string {
	parts := make([]string, 0, len(comments))
	for _, c := range comments {
		parts = append(parts, fmt.Sprintf("[%s on %s]: %s", c.Author, c.Date, c.Text))
	}
	return strings.Join(parts, "\n\n")
}

// firstResolutionComment finds the earliest comment that talks about a fix or
// resolution.
func firstResolutionComment(comments []comment) (comment, bool) {
	for _, c := range comments {
		lower := strings.ToLower(c.Text)
		if strings.Contains(lower, "fix") || strings.Contains(lower, "resolv") {
			return c, true
		}
	}
	return comment{}, false
}

func names(in []named) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		out = append(out, n.Name)
	}
	return out
}

// truncate caps s at n bytes with an ellipsis marker.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// head caps s at n bytes without a marker.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

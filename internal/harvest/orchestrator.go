// Package harvest drives paginated issue collection across projects,
// fanning out bounded-concurrency enrichment through the retrying transport
// and recording progress in the checkpoint store.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/jira"
	"github.com/issuedata/harvester/internal/metrics"
	"github.com/issuedata/harvester/internal/state"
)

// API is the upstream surface the orchestrator drives. Satisfied by
// jira.Client; tests substitute fakes.
type API interface {
	SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (jira.SearchResult, error)
	GetIssue(ctx context.Context, issueKey, expand string) (jira.Issue, error)
	GetComments(ctx context.Context, issueKey string) ([]json.RawMessage, error)
	GetProject(ctx context.Context, projectKey string) (jira.Project, error)
}

// Config controls orchestrator behavior.
type Config struct {
	Projects        []string
	JQLTemplate     string
	PageSize        int
	Concurrency     int
	CheckpointEvery int
	ProjectPause    time.Duration
	IssueExpand     string
}

// Orchestrator walks each project's issue history page by page.
type Orchestrator struct {
	api    API
	store  *state.Store
	cfg    Config
	logger *zap.Logger

	// processedSinceStart drives the cadence checkpoint, independent of page
	// boundaries: every CheckpointEvery successful enrichments flush state.
	processedSinceStart atomic.Int64
}

// New constructs an Orchestrator.
func New(api API, store *state.Store, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JQLTemplate == "" {
		cfg.JQLTemplate = "project = %s ORDER BY created DESC"
	}
	if cfg.IssueExpand == "" {
		cfg.IssueExpand = "changelog,renderedFields"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 500
	}
	return &Orchestrator{
		api:    api,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Run harvests every configured project sequentially. A failure in one
// project is logged and yields an empty slice for it; the run continues with
// the remaining projects. Interruption flushes a final checkpoint before the
// context error propagates.
func (o *Orchestrator) Run(ctx context.Context) (map[string][]jira.EnrichedIssue, error) {
	results := make(map[string][]jira.EnrichedIssue, len(o.cfg.Projects))

	// Whatever happens, leave a durable record of how far we got.
	defer func() {
		if err := o.store.Checkpoint(); err != nil {
			o.logger.Error("final checkpoint failed", zap.Error(err))
		}
	}()

	for i, project := range o.cfg.Projects {
		if ctx.Err() != nil {
			return results, fmt.Errorf("harvest interrupted: %w", ctx.Err())
		}

		issues, err := o.harvestProject(ctx, project)
		results[project] = issues
		if err != nil {
			if ctx.Err() != nil {
				return results, fmt.Errorf("harvest interrupted: %w", ctx.Err())
			}
			o.logger.Error("project harvest failed, continuing with remaining projects",
				zap.String("project", project),
				zap.Error(err),
			)
		}

		if i < len(o.cfg.Projects)-1 {
			sleepCtx(ctx, o.cfg.ProjectPause)
		}
	}

	o.logSummary()
	return results, nil
}

// harvestProject collects all issues for one project, resuming from the
// persisted cursor. A panic anywhere below is contained at this boundary so
// one project cannot take down the run.
func (o *Orchestrator) harvestProject(ctx context.Context, project string) (issues []jira.EnrichedIssue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("project %s: panic: %v", project, r)
		}
	}()

	logger := o.logger.With(zap.String("project", project))

	if o.store.IsCompleted(project) {
		logger.Info("project already completed, skipping")
		return nil, nil
	}
	o.store.InitProject(project)

	// Metadata is best-effort: losing the descriptive name never aborts.
	if info, perr := o.api.GetProject(ctx, project); perr != nil {
		logger.Warn("project metadata unavailable", zap.Error(perr))
	} else if info.Name != "" {
		logger.Info("harvesting project", zap.String("name", info.Name))
	}

	cursor := o.store.CursorFor(project)
	jql := fmt.Sprintf(o.cfg.JQLTemplate, project)

	page, err := o.api.SearchIssues(ctx, jql, cursor, o.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("initial search: %w", err)
	}

	totalKnown := page.Total
	logger.Info("search total", zap.Int("total", totalKnown), zap.Int("resume_cursor", cursor))
	if totalKnown == 0 {
		logger.Warn("no issues found")
		o.store.CompleteProject(project)
		if cerr := o.store.Checkpoint(); cerr != nil {
			logger.Error("checkpoint after completion failed", zap.Error(cerr))
		}
		return nil, nil
	}
	o.store.UpdateCursor(project, cursor, totalKnown)

	var collected []jira.EnrichedIssue
	havePage := true
	for cursor < totalKnown {
		if ctx.Err() != nil {
			return collected, fmt.Errorf("pagination interrupted: %w", ctx.Err())
		}
		if !havePage {
			page, err = o.api.SearchIssues(ctx, jql, cursor, o.cfg.PageSize)
			if err != nil {
				return collected, fmt.Errorf("search at offset %d: %w", cursor, err)
			}
		}
		havePage = false

		if len(page.Issues) == 0 {
			logger.Warn("empty page, treating as exhaustion", zap.Int("cursor", cursor))
			break
		}
		if page.Total > totalKnown {
			totalKnown = page.Total
		}

		collected = append(collected, o.enrichPage(ctx, project, page.Issues)...)

		// The cursor only advances once every enrichment for the page has
		// resolved, so at most one page of work is ever unrecorded.
		cursor += len(page.Issues)
		o.store.UpdateCursor(project, cursor, totalKnown)
		if perr := o.store.Persist(); perr != nil {
			logger.Error("persist after page failed", zap.Error(perr))
		}
		logger.Debug("page complete", zap.Int("cursor", cursor), zap.Int("total", totalKnown))
	}

	if ctx.Err() != nil {
		return collected, fmt.Errorf("pagination interrupted: %w", ctx.Err())
	}

	o.store.CompleteProject(project)
	if cerr := o.store.Checkpoint(); cerr != nil {
		logger.Error("checkpoint after completion failed", zap.Error(cerr))
	}
	logger.Info("project completed", zap.Int("collected", len(collected)))
	return collected, nil
}

// enrichPage fans out enrichment for one page through a fixed-size worker
// pool and blocks until every task has resolved, success or failure.
func (o *Orchestrator) enrichPage(ctx context.Context, project string, refs []jira.IssueRef) []jira.EnrichedIssue {
	var (
		mu        sync.Mutex
		collected []jira.EnrichedIssue
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, o.cfg.Concurrency)

	for _, ref := range refs {
		if ref.Key == "" {
			o.logger.Warn("issue without key encountered", zap.String("project", project))
			continue
		}
		if o.store.IsProcessed(project, ref.Key) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(ref jira.IssueRef) {
			defer wg.Done()
			defer func() { <-sem }()

			metrics.IncActiveEnrichments()
			defer metrics.DecActiveEnrichments()

			enriched, err := o.enrich(ctx, ref)
			if err != nil {
				o.logger.Error("enrichment failed",
					zap.String("project", project),
					zap.String("issue_key", ref.Key),
					zap.Error(err),
				)
				o.store.MarkFailed(project, ref.Key, err.Error())
				metrics.ObserveIssue(project, "failed")
				return
			}

			mu.Lock()
			collected = append(collected, enriched)
			mu.Unlock()

			if o.store.MarkProcessed(project, ref.Key) {
				metrics.ObserveIssue(project, "processed")
				o.maybeCheckpoint()
			}
		}(ref)
	}

	wg.Wait()
	return collected
}

// enrich fetches full detail plus the comment thread for one issue. Either
// fetch failing fails the enrichment; the key stays eligible for resume.
func (o *Orchestrator) enrich(ctx context.Context, ref jira.IssueRef) (jira.EnrichedIssue, error) {
	issue, err := o.api.GetIssue(ctx, ref.Key, o.cfg.IssueExpand)
	if err != nil {
		return jira.EnrichedIssue{}, fmt.Errorf("detail: %w", err)
	}

	comments, err := o.api.GetComments(ctx, ref.Key)
	if err != nil {
		return jira.EnrichedIssue{}, fmt.Errorf("comments: %w", err)
	}

	enriched := jira.EnrichedIssue{
		ID:       issue.ID,
		Key:      ref.Key,
		Fields:   issue.Fields,
		Comments: comments,
	}
	if enriched.ID == "" {
		enriched.ID = ref.ID
	}
	return enriched, nil
}

// maybeCheckpoint flushes a full checkpoint every CheckpointEvery processed
// items, independent of page boundaries. Every flush snapshots the whole
// document atomically, so cursor and processed set stay mutually consistent.
func (o *Orchestrator) maybeCheckpoint() {
	count := o.processedSinceStart.Add(1)
	if count%int64(o.cfg.CheckpointEvery) != 0 {
		return
	}
	if err := o.store.Checkpoint(); err != nil {
		o.logger.Error("cadence checkpoint failed", zap.Error(err))
		return
	}
	o.logger.Info("checkpoint saved", zap.Int64("processed_this_run", count))
}

func (o *Orchestrator) logSummary() {
	summary := o.store.Summary()
	o.logger.Info("harvest summary",
		zap.Int("total_issues_processed", summary.TotalProcessed),
		zap.Int("projects_completed", summary.ProjectsCompleted),
		zap.Int("projects_in_progress", summary.ProjectsInProgress),
	)
}

func sleepCtx(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

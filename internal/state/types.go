// Package state persists harvest progress so an interrupted run can resume
// without re-fetching or duplicating work.
package state

import "time"

// ProjectStatus is the lifecycle state of one project's harvest.
type ProjectStatus string

// Project lifecycle values persisted in the checkpoint document.
const (
	StatusNotStarted ProjectStatus = "not_started"
	StatusInProgress ProjectStatus = "in_progress"
	StatusCompleted  ProjectStatus = "completed"
)

// FailedKey records one enrichment failure so the key stays eligible for a
// future resume and remains inspectable.
type FailedKey struct {
	Key       string    `json:"key"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectProgress tracks pagination and per-issue bookkeeping for a project.
type ProjectProgress struct {
	Status      ProjectStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Cursor      int           `json:"cursor"`
	TotalKnown  int           `json:"total_known"`
	Processed   []string      `json:"processed_keys"`
	Failed      []FailedKey   `json:"failed_keys"`

	// processedIndex mirrors Processed for O(1) membership checks. Rebuilt
	// after load; never serialized.
	processedIndex map[string]struct{}
}

func (p *ProjectProgress) reindex() {
	p.processedIndex = make(map[string]struct{}, len(p.Processed))
	for _, key := range p.Processed {
		p.processedIndex[key] = struct{}{}
	}
}

// HarvestState is the top-level persisted document. It is owned exclusively
// by the Store; callers mutate it only through Store methods.
type HarvestState struct {
	RunID             string                      `json:"run_id"`
	CreatedAt         time.Time                   `json:"created_at"`
	LastUpdated       time.Time                   `json:"last_updated"`
	LastCheckpoint    *time.Time                  `json:"last_checkpoint,omitempty"`
	Projects          map[string]*ProjectProgress `json:"projects"`
	CompletedProjects []string                    `json:"completed_projects"`
	TotalProcessed    int                         `json:"total_issues_processed"`
}

// Summary is a read-only snapshot of overall progress.
type Summary struct {
	RunID              string     `json:"run_id"`
	TotalProcessed     int        `json:"total_issues_processed"`
	ProjectsCompleted  int        `json:"projects_completed"`
	ProjectsInProgress int        `json:"projects_in_progress"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUpdated        time.Time  `json:"last_updated"`
	LastCheckpoint     *time.Time `json:"last_checkpoint,omitempty"`
}

// ProjectSummary is a read-only snapshot of one project's progress.
type ProjectSummary struct {
	Status     ProjectStatus `json:"status"`
	Cursor     int           `json:"cursor"`
	TotalKnown int           `json:"total_known"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Percentage float64       `json:"percentage"`
}

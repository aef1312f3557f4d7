package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/metrics"
)

// tmpSuffix distinguishes the transient write target from the canonical
// checkpoint file. An orphaned .tmp file is never treated as valid state.
const tmpSuffix = ".tmp"

// Store is the checkpoint store. The in-memory document is guarded by mu;
// the mutex is held only for in-memory mutation, never across file I/O.
// fileMu serializes writers so concurrent persists cannot interleave renames.
type Store struct {
	mu     sync.Mutex
	fileMu sync.Mutex
	path   string
	state  *HarvestState
	logger *zap.Logger
}

// Load opens the checkpoint at path, falling back to a fresh document when
// the file is missing or malformed. Startup never fails on state corruption.
func Load(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger}
	s.state = s.read()
	return s
}

func (s *Store) read() *HarvestState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		}
		return newState()
	}

	var loaded HarvestState
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh", zap.String("path", s.path), zap.Error(err))
		return newState()
	}
	if loaded.Projects == nil {
		loaded.Projects = make(map[string]*ProjectProgress)
	}
	for _, progress := range loaded.Projects {
		progress.reindex()
	}
	s.logger.Info("resuming from checkpoint",
		zap.String("path", s.path),
		zap.Int("projects", len(loaded.Projects)),
		zap.Int("total_processed", loaded.TotalProcessed),
	)
	return &loaded
}

func newState() *HarvestState {
	now := time.Now().UTC()
	return &HarvestState{
		RunID:             uuid.NewString(),
		CreatedAt:         now,
		LastUpdated:       now,
		Projects:          make(map[string]*ProjectProgress),
		CompletedProjects: []string{},
	}
}

// Persist atomically writes the full document: serialize under the lock,
// write to a temporary file, then rename over the canonical path so a crash
// mid-write never corrupts the previously durable state.
func (s *Store) Persist() error {
	s.mu.Lock()
	s.state.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	tmp := s.path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Checkpoint stamps the checkpoint time and persists.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	now := time.Now().UTC()
	s.state.LastCheckpoint = &now
	s.mu.Unlock()

	if err := s.Persist(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	metrics.ObserveCheckpoint()
	return nil
}

// InitProject ensures a progress record exists. Idempotent: an existing
// record (including its cursor) is left untouched so resumes keep their place.
func (s *Store) InitProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Projects[project]; ok {
		return
	}
	progress := &ProjectProgress{
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
		Processed: []string{},
		Failed:    []FailedKey{},
	}
	progress.reindex()
	s.state.Projects[project] = progress
}

// MarkProcessed records a successful enrichment. Idempotent: a key already in
// the processed set neither duplicates nor double-counts, and the return
// value reports whether this call added it.
func (s *Store) MarkProcessed(project, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return false
	}
	if _, seen := progress.processedIndex[key]; seen {
		return false
	}
	progress.processedIndex[key] = struct{}{}
	progress.Processed = append(progress.Processed, key)
	s.state.TotalProcessed++
	return true
}

// MarkFailed appends a failure record. The key is deliberately not added to
// the processed set so it stays eligible for retry on a future resume.
func (s *Store) MarkFailed(project, key, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return
	}
	progress.Failed = append(progress.Failed, FailedKey{
		Key:       key,
		Error:     errText,
		Timestamp: time.Now().UTC(),
	})
}

// UpdateCursor advances the pagination cursor and refreshes the last observed
// total. The cursor never moves backwards while a project is in progress.
func (s *Store) UpdateCursor(project string, cursor, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return
	}
	if cursor > progress.Cursor {
		progress.Cursor = cursor
	}
	if total > 0 {
		progress.TotalKnown = total
	}
}

// CompleteProject marks a project done and adds it to the completed set.
func (s *Store) CompleteProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return
	}
	progress.Status = StatusCompleted
	now := time.Now().UTC()
	progress.CompletedAt = &now
	for _, existing := range s.state.CompletedProjects {
		if existing == project {
			return
		}
	}
	s.state.CompletedProjects = append(s.state.CompletedProjects, project)
}

// ResetProject removes a project's progress record and its completed
// membership, leaving other projects untouched.
func (s *Store) ResetProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Projects, project)
	kept := s.state.CompletedProjects[:0]
	for _, existing := range s.state.CompletedProjects {
		if existing != project {
			kept = append(kept, existing)
		}
	}
	s.state.CompletedProjects = kept
}

// IsProcessed reports whether the key has already been enriched.
func (s *Store) IsProcessed(project, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return false
	}
	_, seen := progress.processedIndex[key]
	return seen
}

// IsCompleted reports whether the project finished in a previous run.
func (s *Store) IsCompleted(project string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.CompletedProjects {
		if existing == project {
			return true
		}
	}
	return false
}

// CursorFor returns the resume offset for a project, zero when unseen.
func (s *Store) CursorFor(project string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if progress, ok := s.state.Projects[project]; ok {
		return progress.Cursor
	}
	return 0
}

// Summary snapshots overall progress.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	inProgress := 0
	for _, progress := range s.state.Projects {
		if progress.Status == StatusInProgress {
			inProgress++
		}
	}
	return Summary{
		RunID:              s.state.RunID,
		TotalProcessed:     s.state.TotalProcessed,
		ProjectsCompleted:  len(s.state.CompletedProjects),
		ProjectsInProgress: inProgress,
		CreatedAt:          s.state.CreatedAt,
		LastUpdated:        s.state.LastUpdated,
		LastCheckpoint:     s.state.LastCheckpoint,
	}
}

// ProjectSummaryFor snapshots one project's progress. The bool reports
// whether the project has a progress record.
func (s *Store) ProjectSummaryFor(project string) (ProjectSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.state.Projects[project]
	if !ok {
		return ProjectSummary{}, false
	}
	summary := ProjectSummary{
		Status:     progress.Status,
		Cursor:     progress.Cursor,
		TotalKnown: progress.TotalKnown,
		Processed:  len(progress.Processed),
		Failed:     len(progress.Failed),
	}
	if progress.TotalKnown > 0 {
		summary.Percentage = float64(len(progress.Processed)) / float64(progress.TotalKnown) * 100
	}
	return summary, true
}

// Projects lists every project with a progress record.
func (s *Store) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.state.Projects))
	for key := range s.state.Projects {
		keys = append(keys, key)
	}
	return keys
}

package state

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/metrics"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	metrics.Init()
	path := filepath.Join(t.TempDir(), "state", "harvest_state.json")
	return Load(path, zap.NewNop()), path
}

func TestLoad_MissingFile(t *testing.T) {
	s, _ := newTestStore(t)

	summary := s.Summary()
	assert.NotEmpty(t, summary.RunID)
	assert.Zero(t, summary.TotalProcessed)
	assert.Zero(t, summary.ProjectsCompleted)
}

func TestLoad_CorruptFile(t *testing.T) {
	metrics.Init()
	path := filepath.Join(t.TempDir(), "harvest_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := Load(path, zap.NewNop())
	assert.Zero(t, s.Summary().TotalProcessed)
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	s.InitProject("KAFKA")

	assert.True(t, s.MarkProcessed("KAFKA", "KAFKA-1"))
	assert.False(t, s.MarkProcessed("KAFKA", "KAFKA-1"))

	assert.True(t, s.IsProcessed("KAFKA", "KAFKA-1"))
	assert.Equal(t, 1, s.Summary().TotalProcessed)

	summary, ok := s.ProjectSummaryFor("KAFKA")
	require.True(t, ok)
	assert.Equal(t, 1, summary.Processed)
}

func TestInitProject_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	s.InitProject("KAFKA")
	s.MarkProcessed("KAFKA", "KAFKA-1")
	s.UpdateCursor("KAFKA", 100, 500)

	// Re-init on resume must not reset progress.
	s.InitProject("KAFKA")
	assert.Equal(t, 100, s.CursorFor("KAFKA"))
	assert.True(t, s.IsProcessed("KAFKA", "KAFKA-1"))
}

func TestMarkFailed_KeepsKeyEligible(t *testing.T) {
	s, _ := newTestStore(t)
	s.InitProject("KAFKA")
	s.MarkFailed("KAFKA", "KAFKA-9", "connection reset")

	assert.False(t, s.IsProcessed("KAFKA", "KAFKA-9"))

	summary, ok := s.ProjectSummaryFor("KAFKA")
	require.True(t, ok)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Processed)
}

func TestUpdateCursor_Monotonic(t *testing.T) {
	s, _ := newTestStore(t)
	s.InitProject("KAFKA")

	s.UpdateCursor("KAFKA", 100, 1000)
	s.UpdateCursor("KAFKA", 50, 1000)
	assert.Equal(t, 100, s.CursorFor("KAFKA"))

	// The observed total may grow.
	s.UpdateCursor("KAFKA", 200, 1200)
	summary, _ := s.ProjectSummaryFor("KAFKA")
	assert.Equal(t, 1200, summary.TotalKnown)
}

func TestCompleteProject(t *testing.T) {
	s, _ := newTestStore(t)
	s.InitProject("KAFKA")

	s.CompleteProject("KAFKA")
	s.CompleteProject("KAFKA")

	assert.True(t, s.IsCompleted("KAFKA"))
	assert.Equal(t, 1, s.Summary().ProjectsCompleted)
}

func TestPersistAndReload(t *testing.T) {
	s, path := newTestStore(t)
	s.InitProject("KAFKA")
	for i := 0; i < 280; i++ {
		s.MarkProcessed("KAFKA", keyFor(i))
	}
	s.UpdateCursor("KAFKA", 300, 1000)
	require.NoError(t, s.Persist())

	reloaded := Load(path, zap.NewNop())
	assert.Equal(t, 300, reloaded.CursorFor("KAFKA"))
	assert.Equal(t, 280, reloaded.Summary().TotalProcessed)
	assert.True(t, reloaded.IsProcessed("KAFKA", keyFor(0)))
	assert.True(t, reloaded.IsProcessed("KAFKA", keyFor(279)))
	assert.False(t, reloaded.IsProcessed("KAFKA", "KAFKA-99999"))

	// Same run resumes under the same run id.
	assert.Equal(t, s.Summary().RunID, reloaded.Summary().RunID)
}

func TestPersist_AtomicReplace(t *testing.T) {
	s, path := newTestStore(t)
	s.InitProject("KAFKA")
	s.MarkProcessed("KAFKA", "KAFKA-1")
	require.NoError(t, s.Persist())

	// Simulate a crash that left an orphaned temp file behind: the canonical
	// checkpoint must remain intact and loadable.
	require.NoError(t, os.WriteFile(path+tmpSuffix, []byte("{truncated"), 0o600))

	reloaded := Load(path, zap.NewNop())
	assert.True(t, reloaded.IsProcessed("KAFKA", "KAFKA-1"))

	// A subsequent persist replaces the orphan.
	require.NoError(t, reloaded.Persist())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestCheckpoint_StampsTime(t *testing.T) {
	s, path := newTestStore(t)
	s.InitProject("KAFKA")
	require.NoError(t, s.Checkpoint())

	reloaded := Load(path, zap.NewNop())
	assert.NotNil(t, reloaded.Summary().LastCheckpoint)
}

func TestResetProject(t *testing.T) {
	s, path := newTestStore(t)
	s.InitProject("KAFKA")
	s.InitProject("SPARK")
	s.MarkProcessed("KAFKA", "KAFKA-1")
	s.MarkProcessed("SPARK", "SPARK-1")
	s.CompleteProject("KAFKA")
	require.NoError(t, s.Persist())

	s.ResetProject("KAFKA")
	require.NoError(t, s.Persist())

	reloaded := Load(path, zap.NewNop())
	assert.False(t, reloaded.IsCompleted("KAFKA"))
	assert.Equal(t, 0, reloaded.CursorFor("KAFKA"))
	assert.False(t, reloaded.IsProcessed("KAFKA", "KAFKA-1"))
	// Other projects untouched.
	assert.True(t, reloaded.IsProcessed("SPARK", "SPARK-1"))
}

func TestQueriesOnUnknownProject(t *testing.T) {
	s, _ := newTestStore(t)

	assert.False(t, s.IsProcessed("GHOST", "GHOST-1"))
	assert.False(t, s.IsCompleted("GHOST"))
	assert.Equal(t, 0, s.CursorFor("GHOST"))
	_, ok := s.ProjectSummaryFor("GHOST")
	assert.False(t, ok)

	// Mutators on unknown projects are no-ops, not panics.
	assert.False(t, s.MarkProcessed("GHOST", "GHOST-1"))
	s.MarkFailed("GHOST", "GHOST-1", "boom")
	s.UpdateCursor("GHOST", 10, 10)
	s.CompleteProject("GHOST")
}

func keyFor(i int) string {
	return "KAFKA-" + strconv.Itoa(i)
}

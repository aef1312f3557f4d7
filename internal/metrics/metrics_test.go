package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()

	// Recording after double Init must not panic.
	ObserveRequest("search", 200, 50*time.Millisecond)
	ObserveRetry("issue", "transient")
	ObserveIssue("KAFKA", "processed")
	ObserveCheckpoint()
	IncActiveEnrichments()
	DecActiveEnrichments()
	ObserveRateLimitDelay(10 * time.Millisecond)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	Init()
	ObserveRequest("search", 200, 25*time.Millisecond)
	ObserveIssue("SPARK", "failed")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "harvester_requests_total")
	assert.Contains(t, string(body), "harvester_issues_total")
}

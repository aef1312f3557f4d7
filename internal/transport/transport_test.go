package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/metrics"
)

type openAdmitter struct{}

func (openAdmitter) Acquire(context.Context) error { return nil }

type countingAdmitter struct {
	mu    sync.Mutex
	count int
}

func (a *countingAdmitter) Acquire(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

func (a *countingAdmitter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

type recordingPauser struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, delay)
}

func (p *recordingPauser) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.pauses...)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Millisecond,
	}
}

func newTestClient(limiter Admitter) (*Client, *recordingPauser) {
	metrics.Init()
	c := New(&http.Client{Timeout: 5 * time.Second}, limiter, fastPolicy(), zap.NewNop())
	p := &recordingPauser{}
	c.pause = p
	return c, p
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(openAdmitter{})
	body, err := c.GetJSON(context.Background(), "search", srv.URL, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestGetJSON_ThrottledHonorsRetryAfter(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		first := hits == 1
		mu.Unlock()
		if first {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, pauses := newTestClient(openAdmitter{})
	body, err := c.GetJSON(context.Background(), "search", srv.URL, nil)
	require.NoError(t, err)
	assert.NotNil(t, body)

	recorded := pauses.recorded()
	require.Len(t, recorded, 1)
	assert.GreaterOrEqual(t, recorded[0], 5*time.Second)
}

func TestGetJSON_ThrottledDefaultWait(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		first := hits == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, pauses := newTestClient(openAdmitter{})
	_, err := c.GetJSON(context.Background(), "search", srv.URL, nil)
	require.NoError(t, err)

	recorded := pauses.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, 60*time.Second, recorded[0])
}

func TestGetJSON_ClientFatalNoRetry(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, pauses := newTestClient(openAdmitter{})
	body, err := c.GetJSON(context.Background(), "issue", srv.URL, nil)
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Empty(t, pauses.recorded())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
}

func TestGetJSON_TransientRetriesThenSucceeds(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		failing := hits <= 2
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total":0}`))
	}))
	defer srv.Close()

	admitter := &countingAdmitter{}
	c, pauses := newTestClient(admitter)
	body, err := c.GetJSON(context.Background(), "search", srv.URL, nil)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Len(t, pauses.recorded(), 2)
	// Every attempt passes through the rate limiter.
	assert.Equal(t, 3, admitter.calls())
}

func TestGetJSON_TransientExhaustsBudget(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(openAdmitter{})
	_, err := c.GetJSON(context.Background(), "comments", srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, hits)
}

func TestGetJSON_NonJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	c, _ := newTestClient(openAdmitter{})
	body, err := c.GetJSON(context.Background(), "project", srv.URL, nil)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestGetJSON_QueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "project = KAFKA", r.URL.Query().Get("jql"))
		assert.Equal(t, "300", r.URL.Query().Get("startAt"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(openAdmitter{})
	q := make(map[string][]string)
	q["jql"] = []string{"project = KAFKA"}
	q["startAt"] = []string{"300"}
	_, err := c.GetJSON(context.Background(), "search", srv.URL, q)
	require.NoError(t, err)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
	// Doubling until the cap: attempt 1 centered on 1s, attempt 4 capped at 10s.
	assert.LessOrEqual(t, p.Backoff(1), 1*time.Second)
	assert.GreaterOrEqual(t, p.Backoff(5), 5*time.Second)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassSuccess, Classify(200))
	assert.Equal(t, ClassSuccess, Classify(204))
	assert.Equal(t, ClassThrottled, Classify(429))
	assert.Equal(t, ClassClientFatal, Classify(404))
	assert.Equal(t, ClassClientFatal, Classify(400))
	assert.Equal(t, ClassTransient, Classify(500))
	assert.Equal(t, ClassTransient, Classify(503))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 60*time.Second, RetryAfter(h))

	h.Set("Retry-After", "5")
	assert.Equal(t, 5*time.Second, RetryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Equal(t, 60*time.Second, RetryAfter(h))
}

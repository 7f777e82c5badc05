package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aiweather/internal/provider"
	"aiweather/internal/state"
)

// mockProvider settles after delay with either a response or an error.
type mockProvider struct {
	name     string
	response string
	err      error
	delay    time.Duration
	calls    int32
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Generate(ctx context.Context, req provider.Request) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockProvider) IsAvailable(ctx context.Context) bool { return true }

type completion struct {
	model  string
	html   string
	raw    string
	status state.Status
}

func runJobs(t *testing.T, jobs []Job) []completion {
	t.Helper()
	var mu sync.Mutex
	var got []completion

	c := NewCoordinator(0, zap.NewNop())
	c.Run(context.Background(), jobs, "prompt", nil,
		func(model, html, raw string, status state.Status) {
			mu.Lock()
			got = append(got, completion{model, html, raw, status})
			mu.Unlock()
		})
	return got
}

func TestCoordinatorAllSettle(t *testing.T) {
	jobs := []Job{
		{ModelName: "A", Provider: &mockProvider{response: "<html>a</html>"}, Timeout: time.Second},
		{ModelName: "B", Provider: &mockProvider{err: errors.New("boom")}, Timeout: time.Second},
		{ModelName: "C", Provider: &mockProvider{response: "```html\n<div>c</div>\n```", delay: 50 * time.Millisecond}, Timeout: time.Second},
	}

	got := runJobs(t, jobs)
	require.Len(t, got, 3, "every job settles before Run returns")

	byModel := make(map[string]completion)
	for _, c := range got {
		byModel[c.model] = c
	}

	assert.Equal(t, state.StatusComplete, byModel["A"].status)
	assert.Equal(t, "<html>a</html>", byModel["A"].html)

	assert.Equal(t, state.StatusFailed, byModel["B"].status)
	assert.Empty(t, byModel["B"].html)
	assert.Empty(t, byModel["B"].raw)

	assert.Equal(t, state.StatusComplete, byModel["C"].status)
	assert.Contains(t, byModel["C"].html, "<div>c</div>")
	assert.Equal(t, "```html\n<div>c</div>\n```", byModel["C"].raw, "raw output preserved unmodified")
}

func TestCoordinatorTimeoutBecomesFailed(t *testing.T) {
	slow := &mockProvider{response: "<html>late</html>", delay: 500 * time.Millisecond}
	jobs := []Job{
		{ModelName: "Slow", Provider: slow, Timeout: 50 * time.Millisecond},
		{ModelName: "Fast", Provider: &mockProvider{response: "<html>fast</html>"}, Timeout: time.Second},
	}

	start := time.Now()
	got := runJobs(t, jobs)
	elapsed := time.Since(start)

	require.Len(t, got, 2)
	byModel := make(map[string]completion)
	for _, c := range got {
		byModel[c.model] = c
	}
	assert.Equal(t, state.StatusFailed, byModel["Slow"].status)
	assert.Equal(t, state.StatusComplete, byModel["Fast"].status, "timeout never cancels a sibling")
	assert.Less(t, elapsed, 400*time.Millisecond, "round does not wait out the slow provider's delay")
}

func TestCoordinatorProgressiveOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	jobs := []Job{
		{ModelName: "Slow", Provider: &mockProvider{response: "<html>s</html>", delay: 200 * time.Millisecond}, Timeout: time.Second},
		{ModelName: "Fast", Provider: &mockProvider{response: "<html>f</html>"}, Timeout: time.Second},
	}

	c := NewCoordinator(0, zap.NewNop())
	c.Run(context.Background(), jobs, "prompt", nil,
		func(model, html, raw string, status state.Status) {
			mu.Lock()
			order = append(order, model)
			mu.Unlock()
		})

	require.Equal(t, []string{"Fast", "Slow"}, order, "results surface as they land, not at the end")
}

func TestCoordinatorOnStart(t *testing.T) {
	var mu sync.Mutex
	started := make(map[string]bool)

	jobs := []Job{
		{ModelName: "A", Provider: &mockProvider{response: "<html>a</html>"}, Timeout: time.Second},
		{ModelName: "B", Provider: &mockProvider{err: errors.New("boom")}, Timeout: time.Second},
	}

	c := NewCoordinator(0, zap.NewNop())
	c.Run(context.Background(), jobs, "prompt",
		func(model string) {
			mu.Lock()
			started[model] = true
			mu.Unlock()
		},
		func(model, html, raw string, status state.Status) {})

	assert.True(t, started["A"])
	assert.True(t, started["B"], "failing jobs still report start")
}

func TestCoordinatorEmptyOutputFails(t *testing.T) {
	jobs := []Job{
		{ModelName: "Empty", Provider: &mockProvider{response: "   \n"}, Timeout: time.Second},
	}

	got := runJobs(t, jobs)
	require.Len(t, got, 1)
	assert.Equal(t, state.StatusFailed, got[0].status)
}

func TestCoordinatorConcurrencyCap(t *testing.T) {
	var inFlight, peak int32
	mk := func() *countingProvider {
		return &countingProvider{inFlight: &inFlight, peak: &peak, delay: 50 * time.Millisecond}
	}

	jobs := []Job{
		{ModelName: "A", Provider: mk(), Timeout: time.Second},
		{ModelName: "B", Provider: mk(), Timeout: time.Second},
		{ModelName: "C", Provider: mk(), Timeout: time.Second},
		{ModelName: "D", Provider: mk(), Timeout: time.Second},
	}

	c := NewCoordinator(2, zap.NewNop())
	c.Run(context.Background(), jobs, "prompt", nil,
		func(model, html, raw string, status state.Status) {})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

type countingProvider struct {
	inFlight *int32
	peak     *int32
	delay    time.Duration
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Generate(ctx context.Context, req provider.Request) (string, error) {
	n := atomic.AddInt32(p.inFlight, 1)
	for {
		old := atomic.LoadInt32(p.peak)
		if n <= old || atomic.CompareAndSwapInt32(p.peak, old, n) {
			break
		}
	}
	time.Sleep(p.delay)
	atomic.AddInt32(p.inFlight, -1)
	return "<html>ok</html>", nil
}

func (p *countingProvider) IsAvailable(ctx context.Context) bool { return true }

func TestRenderPrompt(t *testing.T) {
	payload := json.RawMessage(`{"temp":20,"city":"Prague"}`)
	got := RenderPrompt("Data:\n{{weather_json}}\nEnd", payload)

	assert.Contains(t, got, `"temp": 20`, "payload pretty-printed")
	assert.Contains(t, got, `"city": "Prague"`)
	assert.NotContains(t, got, "{{weather_json}}")

	// Unparseable payloads pass through untouched.
	raw := RenderPrompt("{{weather_json}}", json.RawMessage(`not-json`))
	assert.Equal(t, "not-json", raw)

	// Deterministic.
	assert.Equal(t, got, RenderPrompt("Data:\n{{weather_json}}\nEnd", payload))
}

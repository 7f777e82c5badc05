package state

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aiweather/internal/weather"
)

var testModels = []string{"A", "B", "C"}

func testSnapshot() *weather.Snapshot {
	return &weather.Snapshot{
		Payload:    json.RawMessage(`{"temp":20,"city":"Prague"}`),
		CapturedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestStore() *Store {
	return NewStore(testModels, "tpl {{weather_json}}", zap.NewNop())
}

func TestNewStoreStartsIdle(t *testing.T) {
	s := newTestStore()

	full := s.FullState()
	assert.Nil(t, full.Snapshot)
	assert.Equal(t, testModels, full.ModelNames)
	require.Len(t, full.Visualizations, 3)
	for _, viz := range full.Visualizations {
		assert.Equal(t, StatusIdle, viz.Status)
	}
}

func TestRoundTransitions(t *testing.T) {
	s := newTestStore()
	snap := testSnapshot()

	s.SetSnapshot(snap, snap.CycleID())
	s.MarkAllOutdated()

	full := s.FullState()
	for _, viz := range full.Visualizations {
		assert.Equal(t, StatusOutdated, viz.Status)
	}

	s.MarkGenerating("A")
	s.UpdateVisualization("A", "<html>a</html>", "raw-a", StatusComplete)
	s.UpdateVisualization("B", "", "", StatusFailed)

	full = s.FullState()
	assert.Equal(t, StatusComplete, full.Visualizations["A"].Status)
	assert.Equal(t, "<html>a</html>", full.Visualizations["A"].HTML)
	assert.False(t, full.Visualizations["A"].GeneratedAt.IsZero())
	assert.Equal(t, StatusFailed, full.Visualizations["B"].Status)
	assert.Empty(t, full.Visualizations["B"].HTML)
	assert.Equal(t, StatusOutdated, full.Visualizations["C"].Status)
}

func TestOutdatedKeepsHeldHTML(t *testing.T) {
	s := newTestStore()
	s.UpdateVisualization("A", "<html>old</html>", "raw-old", StatusComplete)

	s.MarkAllOutdated()
	s.MarkGenerating("A")

	viz := s.FullState().Visualizations["A"]
	assert.Equal(t, StatusGenerating, viz.Status)
	assert.Equal(t, "<html>old</html>", viz.HTML, "previous round stays visible while regenerating")
}

func TestUnknownModelIsNoOp(t *testing.T) {
	s := newTestStore()
	before := s.FullState()

	s.UpdateVisualization("Z", "<html></html>", "raw", StatusComplete)
	s.MarkGenerating("Z")

	assert.Equal(t, before.Visualizations, s.FullState().Visualizations)
}

func TestFullStateIsACopy(t *testing.T) {
	s := newTestStore()
	full := s.FullState()
	full.Visualizations["A"] = Visualization{ModelName: "A", Status: StatusFailed}
	full.ModelNames[0] = "mutated"

	fresh := s.FullState()
	assert.Equal(t, StatusIdle, fresh.Visualizations["A"].Status)
	assert.Equal(t, "A", fresh.ModelNames[0])
}

func TestRestore(t *testing.T) {
	s := newTestStore()
	snap := testSnapshot()

	s.Restore(snap, snap.CycleID(), map[string]string{
		"A": "```html\n<html><body>a</body></html>\n```",
		"Z": "<html></html>", // not configured, skipped
	}, func(raw string) string { return "normalized:" + raw })

	full := s.FullState()
	assert.Equal(t, snap.CycleID(), full.CycleID)
	assert.Equal(t, StatusComplete, full.Visualizations["A"].Status)
	assert.Contains(t, full.Visualizations["A"].HTML, "normalized:")
	assert.Equal(t, StatusIdle, full.Visualizations["B"].Status)
	_, hasZ := full.Visualizations["Z"]
	assert.False(t, hasZ)
}

func TestPromptTemplateSwap(t *testing.T) {
	s := newTestStore()
	assert.Equal(t, "tpl {{weather_json}}", s.PromptTemplate())

	s.SetPromptTemplate("new {{weather_json}}")
	assert.Equal(t, "new {{weather_json}}", s.PromptTemplate())
	assert.Equal(t, "new {{weather_json}}", s.FullState().PromptTemplate)
}

func TestConcurrentReadersWithWriter(t *testing.T) {
	s := newTestStore()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.MarkAllOutdated()
			s.UpdateVisualization("A", "<html></html>", "raw", StatusComplete)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				full := s.FullState()
				// A is never observed half-applied: complete implies html present.
				if full.Visualizations["A"].Status == StatusComplete {
					assert.NotEmpty(t, full.Visualizations["A"].HTML)
				}
			}
		}()
	}
	wg.Wait()
	<-done
}

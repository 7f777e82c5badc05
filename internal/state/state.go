// Package state holds the latest refresh cycle's data: the weather
// snapshot and one visualization slot per configured model.
//
// The store is a passive holder. It does not broadcast or schedule
// anything; the refresh pipeline is its only writer, and any number of
// readers may take point-in-time copies concurrently.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"aiweather/internal/weather"
)

// Status describes one model's visualization slot.
type Status string

const (
	// StatusIdle - no generation attempted yet (fresh process, no archive).
	StatusIdle Status = "idle"
	// StatusOutdated - a new snapshot arrived; the held visualization is stale.
	StatusOutdated Status = "outdated"
	// StatusGenerating - a provider call for this model is in flight.
	StatusGenerating Status = "generating"
	// StatusComplete - the held visualization matches the current snapshot.
	StatusComplete Status = "complete"
	// StatusFailed - the provider call for the current snapshot failed.
	StatusFailed Status = "failed"
)

// Visualization is one model's slot. HTML and RawHTML are empty until the
// model first completes; GeneratedAt is zero until then.
type Visualization struct {
	ModelName   string
	HTML        string
	RawHTML     string
	Status      Status
	GeneratedAt time.Time
}

// GlobalState is a point-in-time copy of everything the store holds.
type GlobalState struct {
	Snapshot       *weather.Snapshot
	CycleID        string
	PromptTemplate string
	ModelNames     []string
	Visualizations map[string]Visualization
}

// Store holds the current cycle state. The model set is fixed at
// construction and never changes at runtime.
type Store struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	modelNames     []string
	promptTemplate string
	snapshot       *weather.Snapshot
	cycleID        string
	visualizations map[string]Visualization
}

// NewStore creates a store with every model slot idle.
func NewStore(modelNames []string, promptTemplate string, logger *zap.Logger) *Store {
	viz := make(map[string]Visualization, len(modelNames))
	for _, name := range modelNames {
		viz[name] = Visualization{ModelName: name, Status: StatusIdle}
	}
	return &Store{
		logger:         logger.Named("state"),
		modelNames:     append([]string(nil), modelNames...),
		promptTemplate: promptTemplate,
		visualizations: viz,
	}
}

// SetSnapshot records the snapshot and cycle id of a new round.
func (s *Store) SetSnapshot(snap *weather.Snapshot, cycleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.cycleID = cycleID
}

// MarkAllOutdated flips every slot to outdated. Held HTML is kept so late
// joiners still see the previous round while the new one generates.
func (s *Store) MarkAllOutdated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, viz := range s.visualizations {
		viz.Status = StatusOutdated
		s.visualizations[name] = viz
	}
}

// MarkGenerating flips one slot to generating, keeping its held HTML.
func (s *Store) MarkGenerating(modelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	viz, ok := s.visualizations[modelName]
	if !ok {
		s.logger.Warn("unknown model", zap.String("model", modelName))
		return
	}
	viz.Status = StatusGenerating
	s.visualizations[modelName] = viz
}

// UpdateVisualization records a settled result for one model. Unknown
// models are a no-op with a warning; the model set is fixed at startup.
func (s *Store) UpdateVisualization(modelName, html, rawHTML string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	viz, ok := s.visualizations[modelName]
	if !ok {
		s.logger.Warn("unknown model", zap.String("model", modelName))
		return
	}
	viz.HTML = html
	viz.RawHTML = rawHTML
	viz.Status = status
	if status == StatusComplete {
		viz.GeneratedAt = time.Now()
	} else {
		viz.GeneratedAt = time.Time{}
	}
	s.visualizations[modelName] = viz
}

// SetPromptTemplate swaps the prompt template (config hot reload).
func (s *Store) SetPromptTemplate(template string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptTemplate = template
}

// PromptTemplate returns the current prompt template.
func (s *Store) PromptTemplate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promptTemplate
}

// ModelNames returns the fixed model set in configuration order.
func (s *Store) ModelNames() []string {
	return append([]string(nil), s.modelNames...)
}

// Snapshot returns the current snapshot and cycle id.
func (s *Store) Snapshot() (*weather.Snapshot, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.cycleID
}

// FullState returns a deep copy for late-joiner replay. No caller ever
// observes a half-applied update.
func (s *Store) FullState() GlobalState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	viz := make(map[string]Visualization, len(s.visualizations))
	for name, v := range s.visualizations {
		viz[name] = v
	}
	return GlobalState{
		Snapshot:       s.snapshot,
		CycleID:        s.cycleID,
		PromptTemplate: s.promptTemplate,
		ModelNames:     append([]string(nil), s.modelNames...),
		Visualizations: viz,
	}
}

// Restore seeds the store from an archived cycle at startup. Models with
// an archived artifact become complete; the rest stay idle.
func (s *Store) Restore(snap *weather.Snapshot, cycleID string, rawVisualizations map[string]string, normalize func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snap
	s.cycleID = cycleID
	for name, raw := range rawVisualizations {
		viz, ok := s.visualizations[name]
		if !ok {
			s.logger.Warn("archived model not configured, skipping", zap.String("model", name))
			continue
		}
		viz.HTML = normalize(raw)
		viz.RawHTML = raw
		viz.Status = StatusComplete
		if snap != nil {
			viz.GeneratedAt = snap.CapturedAt
		}
		s.visualizations[name] = viz
	}
}
